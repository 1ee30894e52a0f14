// Package database provides storage backends for subscriptions and channels.
package database

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/channelsync/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
//
// A Store is both the SubscriptionStore and the channel registry: the
// registry tables stand in for the host platform's channel storage.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Subscription operations
	GetSubscription(ctx context.Context, name string) (model.Subscription, error)
	SaveSubscription(ctx context.Context, sub model.Subscription) error
	AddSubscription(ctx context.Context, sub model.Subscription) (bool, error)
	ListSubscriptions(ctx context.Context) ([]model.Subscription, error)

	// Channel registry operations
	CreateChannel(ctx context.Context, displayName, description, icon string) (int64, error)
	ChannelExists(ctx context.Context, channelID int64) (bool, error)
	AddItemsToChannel(ctx context.Context, channelID int64, items []model.ChannelItem) (int, error)
	ChannelItems(ctx context.Context, channelID int64) ([]model.ChannelItem, error)
	RemoveChannelItems(ctx context.Context, channelID int64, keys []string) (int, error)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorage, op, err)
}
