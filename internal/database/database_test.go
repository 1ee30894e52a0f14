package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "channelsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// postgresDSNEnv names a scratch PostgreSQL database. Its tables are
// truncated before every test.
const postgresDSNEnv = "CHANNELSYNC_TEST_POSTGRES_DSN"

// forEachStore runs fn against SQLite and, when postgresDSNEnv is set,
// against PostgreSQL.
func forEachStore(t *testing.T, fn func(t *testing.T, db Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestDB(t)) })
	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv(postgresDSNEnv)
		if dsn == "" {
			t.Skipf("%s not set", postgresDSNEnv)
		}
		store, err := Open(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		pg, ok := store.(*PostgresStore)
		require.True(t, ok, "postgres DSN opened %s", store.DatabaseType())
		_, err = pg.conn.Exec("TRUNCATE channel_items, channels, subscriptions RESTART IDENTITY CASCADE")
		require.NoError(t, err)
		fn(t, pg)
	})
}

func TestSubscriptionRoundTrip(t *testing.T) {
	forEachStore(t, testSubscriptionRoundTrip)
}

func testSubscriptionRoundTrip(t *testing.T, db Store) {
	ctx := context.Background()

	_, err := db.GetSubscription(ctx, "Trending")
	require.ErrorIs(t, err, model.ErrUnknownSubscription)

	sub := model.Subscription{Name: "Trending", Description: "What is hot", IconRef: "ic_trending"}
	require.NoError(t, db.SaveSubscription(ctx, sub))

	got, err := db.GetSubscription(ctx, "Trending")
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	sub.ChannelID = 42
	require.NoError(t, db.SaveSubscription(ctx, sub))
	got, err = db.GetSubscription(ctx, "Trending")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ChannelID)
}

func TestAddSubscriptionKeepsExistingRow(t *testing.T) {
	forEachStore(t, testAddSubscriptionKeepsExistingRow)
}

func testAddSubscriptionKeepsExistingRow(t *testing.T, db Store) {
	ctx := context.Background()

	created, err := db.AddSubscription(ctx, model.Subscription{Name: "To Watch"})
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, db.SaveSubscription(ctx, model.Subscription{Name: "To Watch", ChannelID: 9}))

	created, err = db.AddSubscription(ctx, model.Subscription{Name: "To Watch", Description: "changed"})
	require.NoError(t, err)
	assert.False(t, created)

	got, err := db.GetSubscription(ctx, "To Watch")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ChannelID, "seeding must never clear an activated channel")
	assert.Empty(t, got.Description)
}

func TestListSubscriptions(t *testing.T) {
	forEachStore(t, testListSubscriptions)
}

func testListSubscriptions(t *testing.T, db Store) {
	ctx := context.Background()

	subs, err := db.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, subs)

	require.NoError(t, db.SaveSubscription(ctx, model.Subscription{Name: "Trending"}))
	require.NoError(t, db.SaveSubscription(ctx, model.Subscription{Name: "To Watch"}))

	subs, err = db.ListSubscriptions(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(subs))
	for _, s := range subs {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"Trending", "To Watch"}, names)
}

func TestChannelItemsAreIdempotent(t *testing.T) {
	forEachStore(t, testChannelItemsAreIdempotent)
}

func testChannelItemsAreIdempotent(t *testing.T, db Store) {
	ctx := context.Background()

	id, err := db.CreateChannel(ctx, "Trending", "What is hot", "ic_trending")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	exists, err := db.ChannelExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = db.ChannelExists(ctx, id+100)
	require.NoError(t, err)
	assert.False(t, exists)

	now := time.Now().UTC()
	items := []model.ChannelItem{
		{Key: "a", Title: "A", AddedAt: now},
		{Key: "b", Title: "B", AddedAt: now},
	}
	added, err := db.AddItemsToChannel(ctx, id, items)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = db.AddItemsToChannel(ctx, id, append(items, model.ChannelItem{Key: "c", Title: "C", AddedAt: now}))
	require.NoError(t, err)
	assert.Equal(t, 1, added, "re-adding existing keys is a no-op")

	stored, err := db.ChannelItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "a", stored[0].Key)
	assert.Equal(t, id, stored[0].ChannelID)

	removed, err := db.RemoveChannelItems(ctx, id, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stored, err = db.ChannelItems(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "b", stored[0].Key)

	other, err := db.CreateChannel(ctx, "To Watch", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, id, other, "every channel gets a fresh id")
	removed, err = db.RemoveChannelItems(ctx, other, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "removal is scoped to the channel")
}

func TestAddItemsToMissingChannelFails(t *testing.T) {
	forEachStore(t, func(t *testing.T, db Store) {
		_, err := db.AddItemsToChannel(context.Background(), 999, []model.ChannelItem{{Key: "a", Title: "A", AddedAt: time.Now()}})
		require.ErrorIs(t, err, model.ErrStorage)
	})
}

func TestDatabasePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveSubscription(ctx, model.Subscription{Name: "Trending", ChannelID: 3}))
	require.NoError(t, db.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetSubscription(ctx, "Trending")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ChannelID)
}

func TestOpenDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		dsn  string
	}{
		{"plain path", filepath.Join(dir, "plain.db")},
		{"sqlite scheme", "sqlite://" + filepath.Join(dir, "scheme.db")},
		{"memory", "memory://"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(tc.dsn)
			require.NoError(t, err)
			defer store.Close()
			assert.Equal(t, "SQLite", store.DatabaseType())
			assert.False(t, store.SupportsHighConcurrency())
		})
	}

	_, err := Open("")
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = Open("redis://localhost")
	require.ErrorIs(t, err, model.ErrInvalidInput)
}
