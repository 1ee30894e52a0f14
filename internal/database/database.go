// Package database provides SQLite storage for subscriptions and channels.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases intact.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrateSQLite(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + pragmas
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

// --- Subscription Methods ---

// GetSubscription returns the subscription with the given name.
func (db *DB) GetSubscription(ctx context.Context, name string) (model.Subscription, error) {
	var s model.Subscription
	err := db.conn.QueryRowContext(ctx,
		"SELECT name, description, icon_ref, channel_id FROM subscriptions WHERE name = ?", name,
	).Scan(&s.Name, &s.Description, &s.IconRef, &s.ChannelID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, fmt.Errorf("%w: %q", model.ErrUnknownSubscription, name)
	}
	if err != nil {
		return model.Subscription{}, storageErr("get subscription", err)
	}
	return s, nil
}

// SaveSubscription upserts a subscription by name, overwriting all fields.
func (db *DB) SaveSubscription(ctx context.Context, sub model.Subscription) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO subscriptions (name, description, icon_ref, channel_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			icon_ref = excluded.icon_ref,
			channel_id = excluded.channel_id`,
		sub.Name, sub.Description, sub.IconRef, sub.ChannelID)
	if err != nil {
		return storageErr("save subscription", err)
	}
	return nil
}

// AddSubscription inserts a subscription unless one with the same name exists.
// Returns whether it was new.
func (db *DB) AddSubscription(ctx context.Context, sub model.Subscription) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO subscriptions (name, description, icon_ref, channel_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		sub.Name, sub.Description, sub.IconRef, sub.ChannelID)
	if err != nil {
		return false, storageErr("add subscription", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// ListSubscriptions returns all subscriptions.
func (db *DB) ListSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT name, description, icon_ref, channel_id FROM subscriptions ORDER BY name")
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	defer rows.Close()
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return nil, storageErr("list subscriptions", err)
	}
	return subs, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(&s.Name, &s.Description, &s.IconRef, &s.ChannelID); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// --- Channel Methods ---

// CreateChannel registers a new channel. Returns the ID.
func (db *DB) CreateChannel(ctx context.Context, displayName, description, icon string) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO channels (display_name, description, icon_ref, created_at) VALUES (?, ?, ?, ?)",
		displayName, description, icon, time.Now().UTC())
	if err != nil {
		return 0, storageErr("create channel", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("create channel", err)
	}
	return id, nil
}

// ChannelExists reports whether a channel with the given ID exists.
func (db *DB) ChannelExists(ctx context.Context, channelID int64) (bool, error) {
	var one int
	err := db.conn.QueryRowContext(ctx, "SELECT 1 FROM channels WHERE id = ?", channelID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageErr("channel exists", err)
	}
	return true, nil
}

// AddItemsToChannel inserts items whose key is not yet in the channel.
// Returns the number of items that were new.
func (db *DB) AddItemsToChannel(ctx context.Context, channelID int64, items []model.ChannelItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("add channel items", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO channel_items (channel_id, item_key, title, description, category, card_image_url, background_image_url, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, item_key) DO NOTHING`)
	if err != nil {
		tx.Rollback()
		return 0, storageErr("add channel items", err)
	}
	defer stmt.Close()
	added := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx, channelID, it.Key, it.Title, it.Description, it.Category, it.CardImageURL, it.BackgroundImageURL, it.AddedAt)
		if err != nil {
			tx.Rollback()
			return 0, storageErr("add channel items", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("add channel items", err)
	}
	return added, nil
}

// ChannelItems returns the items of a channel, oldest first.
func (db *DB) ChannelItems(ctx context.Context, channelID int64) ([]model.ChannelItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT channel_id, item_key, title, description, category, card_image_url, background_image_url, added_at
		FROM channel_items WHERE channel_id = ? ORDER BY id`, channelID)
	if err != nil {
		return nil, storageErr("channel items", err)
	}
	defer rows.Close()
	items, err := scanChannelItems(rows)
	if err != nil {
		return nil, storageErr("channel items", err)
	}
	return items, nil
}

// RemoveChannelItems deletes the items with the given keys from a channel.
func (db *DB) RemoveChannelItems(ctx context.Context, channelID int64, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("remove channel items", err)
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM channel_items WHERE channel_id = ? AND item_key = ?")
	if err != nil {
		tx.Rollback()
		return 0, storageErr("remove channel items", err)
	}
	defer stmt.Close()
	removed := 0
	for _, key := range keys {
		res, err := stmt.ExecContext(ctx, channelID, key)
		if err != nil {
			tx.Rollback()
			return 0, storageErr("remove channel items", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("remove channel items", err)
	}
	return removed, nil
}

func scanChannelItems(rows *sql.Rows) ([]model.ChannelItem, error) {
	var items []model.ChannelItem
	for rows.Next() {
		var it model.ChannelItem
		var addedAt sql.NullTime
		if err := rows.Scan(&it.ChannelID, &it.Key, &it.Title, &it.Description, &it.Category, &it.CardImageURL, &it.BackgroundImageURL, &addedAt); err != nil {
			return nil, err
		}
		if addedAt.Valid {
			it.AddedAt = addedAt.Time
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
