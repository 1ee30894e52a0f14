package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memAdder struct {
	mu   sync.Mutex
	subs map[string]model.Subscription
}

func newMemAdder() *memAdder {
	return &memAdder{subs: map[string]model.Subscription{}}
}

func (m *memAdder) AddSubscription(ctx context.Context, sub model.Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.Name]; ok {
		return false, nil
	}
	m.subs[sub.Name] = sub
	return true, nil
}

func (m *memAdder) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[name]
	return ok
}

func TestLoadDefaultCatalog(t *testing.T) {
	entries, err := Load("")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Trending", entries[0].Name)
	assert.Equal(t, "To Watch", entries[1].Name)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subscriptions:
  - name: " Seriados "
    description: Series da semana
    icon: ic_video_library_blue_80dp
  - name: Filmes
    description: Filmes da semana
    icon: ic_movie_blue_80dp
`), 0o644))

	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, Entry{Name: "Seriados", Description: "Series da semana", Icon: "ic_video_library_blue_80dp"}, entries[0])
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing name": "subscriptions:\n  - description: x\n",
		"duplicate":    "subscriptions:\n  - name: A\n  - name: A\n",
		"not yaml":     "subscriptions: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestSeedOnlyAddsMissing(t *testing.T) {
	store := newMemAdder()
	store.subs["Trending"] = model.Subscription{Name: "Trending", ChannelID: 5}

	created, err := Seed(context.Background(), store, Default(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(5), store.subs["Trending"].ChannelID)
	assert.True(t, store.has("To Watch"))
}

func TestWatchReseedsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("subscriptions:\n  - name: Trending\n"), 0o644))

	store := newMemAdder()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, store, nil) }()

	require.Eventually(t, func() bool {
		// Rewrite until the watcher has registered and picked it up.
		_ = os.WriteFile(path, []byte("subscriptions:\n  - name: Trending\n  - name: Kids\n"), 0o644)
		return store.has("Kids")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestOPMLCatalogRoundTrip(t *testing.T) {
	subs := []model.Subscription{
		{Name: "Trending", Description: "What everyone is watching", IconRef: "ic_video_library", ChannelID: 3},
		{Name: "Kids", Description: "Cartoons"},
	}
	data, err := ExportOPML("channelsync subscriptions", subs)
	require.NoError(t, err)
	assert.Contains(t, string(data), `text="Trending"`)

	path := filepath.Join(t.TempDir(), "catalog.opml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	entries, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{Name: "Trending", Description: "What everyone is watching", Icon: "ic_video_library"},
		{Name: "Kids", Description: "Cartoons"},
	}, entries)
}

func TestOPMLCatalogFlattensFolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.OPML")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Channels</title></head>
  <body>
    <outline text="Movies">
      <outline text="Filmes" description="Filmes da semana"/>
      <outline title="Classics"/>
    </outline>
    <outline text="Seriados"/>
  </body>
</opml>`), 0o644))

	entries, err := Load(path)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Filmes", "Classics", "Seriados"}, names)
	assert.Equal(t, "Filmes da semana", entries[0].Description)
}
