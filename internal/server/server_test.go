package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/bryan-buckman/channelsync/internal/catalog"
	"github.com/bryan-buckman/channelsync/internal/channel"
	"github.com/bryan-buckman/channelsync/internal/content"
	"github.com/bryan-buckman/channelsync/internal/database"
	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/bryan-buckman/channelsync/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payload = `{"results":[
	{"title":"Ford v Ferrari","overview":"Racing","poster_path":"/a.jpg"},
	{"title":"Parasite","overview":"Family","poster_path":"/b.jpg"}
]}`

type testEnv struct {
	server    *Server
	db        *database.DB
	scheduler *syncer.Scheduler
}

type failingRegistry struct{}

func (failingRegistry) CreateChannel(ctx context.Context, displayName, description, icon string) (int64, error) {
	return 0, errors.New("launcher rejected the channel")
}

func newTestEnv(t *testing.T, registry channel.Registry) *testEnv {
	t.Helper()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(remote.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "channelsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = catalog.Seed(context.Background(), db, catalog.Default(), nil)
	require.NoError(t, err)

	source, err := content.NewSource(content.Options{URL: remote.URL, Category: "Trending", HTTPClient: remote.Client()}, nil)
	require.NoError(t, err)
	scheduler := syncer.NewScheduler(syncer.NewEngine(db, source, nil, nil), syncer.Options{Workers: 1}, nil)
	if registry == nil {
		registry = db
	}
	activator := channel.NewActivator(db, registry, scheduler, channel.Options{SyncInterval: 15 * time.Minute}, nil)
	t.Cleanup(activator.Wait)

	srv := New(Deps{Store: db, Activator: activator, Scheduler: scheduler, Source: source}, nil)
	return &testEnv{server: srv, db: db, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, method, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var body map[string]interface{}
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestActivateEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/api/subscriptions/Trending/activate")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := body["channel_id"].(float64)
	assert.Greater(t, first, float64(0))

	rec, body = env.do(t, http.MethodPost, "/api/subscriptions/Trending/activate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, body["channel_id"])
	assert.Equal(t, 1, env.scheduler.Len())

	rec, body = env.do(t, http.MethodGet, "/api/subscriptions/Trending")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, body["channel_id"])
}

func TestActivateEndpointErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodPost, "/api/subscriptions/Nope/activate")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], model.ErrUnknownSubscription.Error())

	env = newTestEnv(t, failingRegistry{})
	rec, _ = env.do(t, http.MethodPost, "/api/subscriptions/Trending/activate")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	sub, err := env.db.GetSubscription(context.Background(), "Trending")
	require.NoError(t, err)
	assert.False(t, sub.Active())
}

func TestTickEndpointFillsChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	_, body := env.do(t, http.MethodPost, "/api/subscriptions/Trending/activate")
	channelID := int64(body["channel_id"].(float64))

	rec, body := env.do(t, http.MethodPost, "/api/sync/tick")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["failed"])
	assert.NotEmpty(t, body["run_id"])

	rec, body = env.do(t, http.MethodGet, "/api/channels/"+strconv.FormatInt(channelID, 10)+"/items")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["items"], 2)

	rec, body = env.do(t, http.MethodGet, "/api/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["jobs"], 1)
}

func TestChannelItemsErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/channels/abc/items")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/channels/404/items")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContentEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.source.Fetch(context.Background())

	rec, body := env.do(t, http.MethodGet, "/api/content/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["remote_fetches"])

	rec, _ = env.do(t, http.MethodPost, "/api/content/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	env.server.source.Fetch(context.Background())
	_, body = env.do(t, http.MethodGet, "/api/content/stats")
	assert.Equal(t, float64(2), body["remote_fetches"])
}

func TestListSubscriptions(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, body := env.do(t, http.MethodGet, "/api/subscriptions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["subscriptions"], 2)

	rec, body = env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SQLite", body["database"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(model.ErrStorage))
	assert.Equal(t, http.StatusBadRequest, statusFor(model.ErrInvalidInput))
}

func TestExportOPML(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/export-opml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `text="To Watch"`)
}
