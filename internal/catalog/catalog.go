// Package catalog defines the subscriptions offered to every user.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryan-buckman/channelsync/internal/model"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Entry is one offered subscription as written in the catalog file.
type Entry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
}

// File is the on-disk catalog layout.
type File struct {
	Subscriptions []Entry `yaml:"subscriptions"`
}

// Default returns the built-in catalog.
func Default() []Entry {
	return []Entry{
		{Name: "Trending", Description: "What everyone is watching this week", Icon: "ic_video_library"},
		{Name: "To Watch", Description: "Movies picked for later", Icon: "ic_movie"},
	}
}

// Load reads a catalog file. Files ending in .opml are read as OPML, any
// other file as YAML. An empty path returns the built-in catalog.
func Load(path string) ([]Entry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []Entry
	if strings.EqualFold(filepath.Ext(path), ".opml") {
		if entries, err = parseOPML(data); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
	} else {
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog: %w", err)
		}
		entries = f.Subscriptions
	}
	return normalize(entries)
}

func normalize(entries []Entry) ([]Entry, error) {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: catalog entry %d has no name", model.ErrInvalidInput, i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate catalog entry %q", model.ErrInvalidInput, name)
		}
		seen[name] = true
		entries[i].Name = name
	}
	return entries, nil
}

// Adder inserts a subscription unless one with the same name exists.
type Adder interface {
	AddSubscription(ctx context.Context, sub model.Subscription) (bool, error)
}

// Seed makes sure every catalog entry has a subscription record. Existing
// records are left untouched so activated channels are never reset.
// Returns the number of subscriptions created.
func Seed(ctx context.Context, store Adder, entries []Entry, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	created := 0
	for _, e := range entries {
		isNew, err := store.AddSubscription(ctx, model.Subscription{
			Name:        e.Name,
			Description: e.Description,
			IconRef:     e.Icon,
		})
		if err != nil {
			return created, fmt.Errorf("seed %q: %w", e.Name, err)
		}
		if isNew {
			created++
			logger.Info("Subscription added to catalog", zap.String("subscription", e.Name))
		}
	}
	return created, nil
}
