package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContentItemKeyIgnoresSessionID(t *testing.T) {
	a := ContentItem{ID: 0, Title: "Ford v Ferrari", Category: "Filmes"}
	b := ContentItem{ID: 7, Title: "Ford v Ferrari", Category: "Filmes"}
	assert.Equal(t, a.Key(), b.Key())
	assert.Regexp(t, `^filmes-ford-v-ferrari-[0-9a-f]{8}$`, a.Key())
	assert.Equal(t, a.Key(), ContentItem{Title: "  ford V  ferrari ", Category: "filmes"}.Key())

	c := ContentItem{Title: "Ford v Ferrari", Category: "Seriados"}
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestContentItemKeyKeepsPunctuation(t *testing.T) {
	up := ContentItem{Title: "Up", Category: "Filmes"}
	bang := ContentItem{Title: "UP!", Category: "Filmes"}
	assert.NotEqual(t, up.Key(), bang.Key())

	symbols := ContentItem{Title: "?!", Category: "Filmes"}
	stars := ContentItem{Title: "***", Category: "Filmes"}
	assert.NotEqual(t, symbols.Key(), stars.Key())
	assert.NotEqual(t, ContentItem{Category: "Filmes"}.Key(), symbols.Key())
}

func TestChannelSyncJobDue(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	job := ChannelSyncJob{ChannelID: 1, Interval: 15 * time.Minute}
	assert.True(t, job.Due(now), "never-run job is due")

	last := now.Add(-10 * time.Minute)
	job.LastRunAt = &last
	assert.False(t, job.Due(now))

	last = now.Add(-15 * time.Minute)
	assert.True(t, job.Due(now), "job is due exactly one interval later")
}

func TestSubscriptionActive(t *testing.T) {
	assert.False(t, Subscription{Name: "Trending"}.Active())
	assert.True(t, Subscription{Name: "Trending", ChannelID: 3}.Active())
}
