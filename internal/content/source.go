// Package content provides the content source that feeds channels.
package content

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default timeouts for the remote endpoint. Refreshes run in the background,
// so these stay in the range of seconds.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 10 * time.Second

	defaultMaxBodyBytes = 4 << 20
)

// Options configures a Source.
type Options struct {
	URL            string
	Format         string // FormatTMDB or FormatFeed
	Category       string
	ImageBaseURL   string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxBodyBytes   int64

	// Fallback is returned when the remote endpoint fails. A nil slice
	// selects DefaultFallback; an empty non-nil slice means no fallback.
	Fallback []model.ContentItem

	// HTTPClient overrides the client built from the timeouts.
	HTTPClient *http.Client
}

// Stats counts what the source did since it was created.
type Stats struct {
	RemoteFetches  int64 `json:"remote_fetches"`
	Fallbacks      int64 `json:"fallbacks"`
	SkippedRecords int64 `json:"skipped_records"`
}

// Source fetches content items from a remote endpoint and memoizes the
// first usable result for the lifetime of the process.
type Source struct {
	url          string
	client       *http.Client
	decoder      decoder
	fallback     []model.ContentItem
	maxBodyBytes int64
	logger       *zap.Logger

	mu    sync.RWMutex
	memo  []model.ContentItem
	group singleflight.Group

	remoteFetches  atomic.Int64
	fallbacks      atomic.Int64
	skippedRecords atomic.Int64
}

// NewSource creates a source. An empty URL makes every fetch use the fallback.
func NewSource(opts Options, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dec, err := newDecoder(opts.Format, opts.Category, opts.ImageBaseURL)
	if err != nil {
		return nil, err
	}
	client := opts.HTTPClient
	if client == nil {
		client = newHTTPClient(opts.ConnectTimeout, opts.ReadTimeout)
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = DefaultFallback(opts.Category)
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Source{
		url:          strings.TrimSpace(opts.URL),
		client:       client,
		decoder:      dec,
		fallback:     fallback,
		maxBodyBytes: maxBody,
		logger:       logger.Named("content"),
	}, nil
}

func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readTimeout,
	}
}

// Fetch returns the memoized item list, populating it from the remote
// endpoint on first use. It never fails: remote errors and unusable
// payloads yield the fallback list, which is not memoized.
func (s *Source) Fetch(ctx context.Context) []model.ContentItem {
	return s.fetch(ctx).Items
}

func (s *Source) fetch(ctx context.Context) model.FetchResult {
	if items := s.cached(); items != nil {
		return model.FetchResult{Items: items}
	}
	v, _, _ := s.group.Do("fetch", func() (any, error) {
		if items := s.cached(); items != nil {
			return model.FetchResult{Items: items}, nil
		}
		items, err := s.fetchRemote(ctx)
		if err != nil {
			s.fallbacks.Add(1)
			s.logger.Warn("Using fallback content",
				zap.String("url", s.url),
				zap.Int("fallback_items", len(s.fallback)),
				zap.Error(err))
			return model.FetchResult{Items: numbered(s.fallback), Fallback: true}, nil
		}
		s.mu.Lock()
		s.memo = items
		s.mu.Unlock()
		s.logger.Info("Content list cached", zap.Int("items", len(items)))
		return model.FetchResult{Items: items}, nil
	})
	res := v.(model.FetchResult)
	res.Items = clone(res.Items)
	return res
}

// FreshFetch returns the memoized list in a new random order. Every call
// reseeds its shuffle and the memoized order is never modified.
func (s *Source) FreshFetch(ctx context.Context) []model.ContentItem {
	return s.FreshResult(ctx).Items
}

// FreshResult is FreshFetch that also reports whether the list is the
// fallback.
func (s *Source) FreshResult(ctx context.Context) model.FetchResult {
	res := s.fetch(ctx)
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	r.Shuffle(len(res.Items), func(i, j int) {
		res.Items[i], res.Items[j] = res.Items[j], res.Items[i]
	})
	return res
}

// Invalidate drops the memoized list; the next fetch goes remote again.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.memo = nil
	s.mu.Unlock()
	s.logger.Info("Content cache invalidated")
}

// Stats returns a snapshot of the source counters.
func (s *Source) Stats() Stats {
	return Stats{
		RemoteFetches:  s.remoteFetches.Load(),
		Fallbacks:      s.fallbacks.Load(),
		SkippedRecords: s.skippedRecords.Load(),
	}
}

func (s *Source) cached() []model.ContentItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.memo) == 0 {
		return nil
	}
	return clone(s.memo)
}

func (s *Source) fetchRemote(ctx context.Context) ([]model.ContentItem, error) {
	if s.url == "" {
		return nil, fmt.Errorf("%w: no remote url configured", model.ErrRemoteFetchFailed)
	}
	s.remoteFetches.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", model.ErrRemoteFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json, application/rss+xml, application/atom+xml;q=0.9, */*;q=0.5")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRemoteFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrRemoteFetchFailed, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", model.ErrRemoteFetchFailed, err)
	}

	out, err := s.decoder.decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrRemoteFetchFailed, err)
	}
	if out.skipped > 0 {
		s.skippedRecords.Add(int64(out.skipped))
		s.logger.Warn("Skipped malformed records",
			zap.Int("skipped", out.skipped),
			zap.Int("kept", len(out.items)),
			zap.Error(model.ErrMalformedRecord))
	}
	if len(out.items) == 0 {
		return nil, fmt.Errorf("%w: payload has no usable records", model.ErrRemoteFetchFailed)
	}
	return numbered(out.items), nil
}

// numbered copies items, assigning session ids 0..n-1 in order.
func numbered(items []model.ContentItem) []model.ContentItem {
	out := make([]model.ContentItem, len(items))
	for i, it := range items {
		it.ID = int64(i)
		out[i] = it
	}
	return out
}

func clone(items []model.ContentItem) []model.ContentItem {
	return append([]model.ContentItem{}, items...)
}
