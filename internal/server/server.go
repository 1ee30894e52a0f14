// Package server provides the HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bryan-buckman/channelsync/internal/catalog"
	"github.com/bryan-buckman/channelsync/internal/channel"
	"github.com/bryan-buckman/channelsync/internal/content"
	"github.com/bryan-buckman/channelsync/internal/database"
	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/bryan-buckman/channelsync/internal/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the components the API exposes.
type Deps struct {
	Store     database.Store
	Activator *channel.Activator
	Scheduler *syncer.Scheduler
	Source    *content.Source
	// Ticker is started and stopped with the server when set.
	Ticker *syncer.Ticker
}

// Server is the main HTTP server.
type Server struct {
	store     database.Store
	activator *channel.Activator
	scheduler *syncer.Scheduler
	source    *content.Source
	ticker    *syncer.Ticker
	router    chi.Router
	http      *http.Server
	logger    *zap.Logger
}

// New creates a new server.
func New(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:     deps.Store,
		activator: deps.Activator,
		scheduler: deps.Scheduler,
		source:    deps.Source,
		ticker:    deps.Ticker,
		logger:    logger.Named("server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Get("/subscriptions/{name}", s.handleGetSubscription)
		r.Get("/export-opml", s.handleExportOPML)
		r.Post("/subscriptions/{name}/activate", s.handleActivate)
		r.Get("/channels/{channelID}/items", s.handleChannelItems)
		r.Get("/jobs", s.handleJobs)
		r.Post("/sync/tick", s.handleTick)
		r.Post("/content/invalidate", s.handleInvalidate)
		r.Get("/content/stats", s.handleContentStats)
	})

	s.router = r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the ticker and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	if s.ticker != nil {
		s.ticker.Start()
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Server starting", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the ticker and waits for
// submitted activations.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.activator != nil {
		s.activator.Wait()
	}
	return err
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"database": s.store.DatabaseType(),
		"jobs":     s.scheduler.Len(),
	})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriptions": subs,
	})
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubscription(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := catalog.ExportOPML("channelsync subscriptions", subs)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=channelsync-subscriptions.opml")
	w.Write(data)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	task := s.activator.Submit(r.Context(), name)
	task.Then(func(channelID int64, err error) {
		if err != nil {
			s.logger.Warn("Activation failed", zap.String("subscription", name), zap.Error(err))
			return
		}
		s.logger.Info("Activation finished", zap.String("subscription", name), zap.Int64("channel_id", channelID))
	})

	channelID, err := task.Wait(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"subscription": name,
		"channel_id":   channelID,
	})
}

func (s *Server) handleChannelItems(w http.ResponseWriter, r *http.Request) {
	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil || channelID <= 0 {
		http.Error(w, "Invalid channel id", http.StatusBadRequest)
		return
	}
	exists, err := s.store.ChannelExists(r.Context(), channelID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !exists {
		s.writeError(w, model.ErrChannelNotFound)
		return
	}
	items, err := s.store.ChannelItems(r.Context(), channelID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel_id": channelID,
		"items":      items,
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.scheduler.Jobs(),
	})
}

type outcomeView struct {
	syncer.Outcome
	Error string `json:"error,omitempty"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	report := s.scheduler.Tick(r.Context(), time.Now())

	outcomes := make([]outcomeView, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		v := outcomeView{Outcome: o}
		if o.Err != nil {
			v.Error = o.Err.Error()
		}
		outcomes = append(outcomes, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"run_id":   report.RunID,
		"outcomes": outcomes,
		"skipped":  report.Skipped,
		"failed":   report.Failed(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	s.source.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleContentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Stats())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownSubscription), errors.Is(err, model.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrChannelCreationFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
