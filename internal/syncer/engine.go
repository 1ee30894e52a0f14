// Package syncer keeps activated channels populated with fresh content.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"go.uber.org/zap"
)

// Registry is the channel side of a refresh.
type Registry interface {
	ChannelExists(ctx context.Context, channelID int64) (bool, error)
	ChannelItems(ctx context.Context, channelID int64) ([]model.ChannelItem, error)
	AddItemsToChannel(ctx context.Context, channelID int64, items []model.ChannelItem) (int, error)
	RemoveChannelItems(ctx context.Context, channelID int64, keys []string) (int, error)
}

// Source supplies the content for a refresh.
type Source interface {
	FreshResult(ctx context.Context) model.FetchResult
}

// EvictionPolicy picks the keys to remove from a channel after new items
// were added. existing is the channel content before the refresh. It is
// never consulted for a fallback list.
type EvictionPolicy interface {
	Evict(existing []model.ChannelItem, fetched []model.ContentItem) []string
}

// EvictMissing removes items that are no longer offered upstream. An empty
// fetch evicts nothing.
type EvictMissing struct{}

func (EvictMissing) Evict(existing []model.ChannelItem, fetched []model.ContentItem) []string {
	if len(fetched) == 0 {
		return nil
	}
	offered := make(map[string]bool, len(fetched))
	for _, item := range fetched {
		offered[item.Key()] = true
	}
	var keys []string
	for _, item := range existing {
		if !offered[item.Key] {
			keys = append(keys, item.Key)
		}
	}
	return keys
}

// Outcome is the result of refreshing one channel.
type Outcome struct {
	ChannelID int64 `json:"channel_id"`
	Fetched   int   `json:"fetched"`
	Added     int   `json:"added"`
	Evicted   int   `json:"evicted"`
	Fallback  bool  `json:"fallback,omitempty"`
	Err       error `json:"-"`
}

// Engine refreshes channel content.
type Engine struct {
	registry Registry
	source   Source
	eviction EvictionPolicy
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine creates an engine. A nil eviction policy keeps every item.
func NewEngine(registry Registry, source Source, eviction EvictionPolicy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		source:   source,
		eviction: eviction,
		now:      time.Now,
		logger:   logger.Named("engine"),
	}
}

// Refresh adds the current content to a channel. Items already present are
// left alone. Any failure is reported in the outcome wrapped in
// model.ErrRefreshFailed.
func (e *Engine) Refresh(ctx context.Context, channelID int64) (out Outcome) {
	out.ChannelID = channelID
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("%w: channel %d: panic: %v", model.ErrRefreshFailed, channelID, r)
		}
		if out.Err != nil {
			e.logger.Warn("Refresh failed", zap.Int64("channel_id", channelID), zap.Error(out.Err))
		}
	}()

	fail := func(err error) Outcome {
		out.Err = fmt.Errorf("%w: channel %d: %w", model.ErrRefreshFailed, channelID, err)
		return out
	}

	exists, err := e.registry.ChannelExists(ctx, channelID)
	if err != nil {
		return fail(err)
	}
	if !exists {
		return fail(model.ErrChannelNotFound)
	}

	res := e.source.FreshResult(ctx)
	fetched := res.Items
	out.Fetched = len(fetched)
	out.Fallback = res.Fallback
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	existing, err := e.registry.ChannelItems(ctx, channelID)
	if err != nil {
		return fail(err)
	}
	present := make(map[string]bool, len(existing))
	for _, item := range existing {
		present[item.Key] = true
	}

	now := e.now()
	var fresh []model.ChannelItem
	for _, item := range fetched {
		key := item.Key()
		if present[key] {
			continue
		}
		present[key] = true
		fresh = append(fresh, model.NewChannelItem(channelID, item, now))
	}
	if len(fresh) > 0 {
		added, err := e.registry.AddItemsToChannel(ctx, channelID, fresh)
		out.Added = added
		if err != nil {
			return fail(err)
		}
	}

	if e.eviction != nil && !res.Fallback {
		if keys := e.eviction.Evict(existing, fetched); len(keys) > 0 {
			evicted, err := e.registry.RemoveChannelItems(ctx, channelID, keys)
			out.Evicted = evicted
			if err != nil {
				return fail(err)
			}
		}
	}

	e.logger.Debug("Channel refreshed",
		zap.Int64("channel_id", channelID),
		zap.Int("fetched", out.Fetched),
		zap.Int("added", out.Added),
		zap.Int("evicted", out.Evicted))
	return out
}
