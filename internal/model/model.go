// Package model defines shared data structures.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Subscription is a named content category that can be activated into a channel.
type Subscription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IconRef     string `json:"icon_ref"`
	ChannelID   int64  `json:"channel_id"` // 0 until activated
}

// Active reports whether the subscription already produced a channel.
func (s Subscription) Active() bool {
	return s.ChannelID > 0
}

// ContentItem is a single candidate produced by one fetch session.
// IDs are only meaningful within the session that produced them.
type ContentItem struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Description        string `json:"description"`
	Category           string `json:"category"`
	CardImageURL       string `json:"card_image_url"`
	BackgroundImageURL string `json:"background_image_url"`
}

// Key identifies the item across fetch sessions. Titles that differ only in
// case or spacing share a key; any other difference, punctuation included,
// yields a distinct one.
func (i ContentItem) Key() string {
	norm := foldSpace(i.Category) + "\x00" + foldSpace(i.Title)
	sum := sha256.Sum256([]byte(norm))
	suffix := hex.EncodeToString(sum[:4])
	if readable := slug.Make(i.Category + " " + i.Title); readable != "" {
		return readable + "-" + suffix
	}
	return suffix
}

func foldSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// FetchResult is a content list and whether it is the built-in fallback
// rather than what the remote endpoint offers.
type FetchResult struct {
	Items    []ContentItem
	Fallback bool
}

// ChannelItem is a content item as stored in a channel.
type ChannelItem struct {
	ChannelID          int64     `json:"channel_id"`
	Key                string    `json:"key"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Category           string    `json:"category"`
	CardImageURL       string    `json:"card_image_url"`
	BackgroundImageURL string    `json:"background_image_url"`
	AddedAt            time.Time `json:"added_at"`
}

// NewChannelItem converts a fetched item into its stored form.
func NewChannelItem(channelID int64, item ContentItem, now time.Time) ChannelItem {
	return ChannelItem{
		ChannelID:          channelID,
		Key:                item.Key(),
		Title:              item.Title,
		Description:        item.Description,
		Category:           item.Category,
		CardImageURL:       item.CardImageURL,
		BackgroundImageURL: item.BackgroundImageURL,
		AddedAt:            now,
	}
}

// ChannelSyncJob is the scheduling record for one channel.
type ChannelSyncJob struct {
	ChannelID int64         `json:"channel_id"`
	Interval  time.Duration `json:"interval"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"` // nil until the first tick
}

// Due reports whether the job should run at now.
func (j ChannelSyncJob) Due(now time.Time) bool {
	if j.LastRunAt == nil {
		return true
	}
	return now.Sub(*j.LastRunAt) >= j.Interval
}
