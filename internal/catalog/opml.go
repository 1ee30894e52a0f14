package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/gilliek/go-opml/opml"
)

// parseOPML flattens an OPML document into catalog entries. Outlines with
// children are folders; their leaves become subscriptions.
func parseOPML(data []byte) ([]Entry, error) {
	doc, err := opml.NewOPML(data)
	if err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []Entry
	var walk func(outlines []opml.Outline)
	walk = func(outlines []opml.Outline) {
		for _, o := range outlines {
			if len(o.Outlines) > 0 {
				walk(o.Outlines)
				continue
			}
			name := o.Text
			if name == "" {
				name = o.Title
			}
			entries = append(entries, Entry{
				Name:        name,
				Description: o.Description,
				Icon:        o.Category,
			})
		}
	}
	walk(doc.Body.Outlines)
	return entries, nil
}

// ExportOPML renders subscriptions as an OPML document that Load accepts.
func ExportOPML(title string, subs []model.Subscription) ([]byte, error) {
	doc := opml.OPML{
		Version: "2.0",
		Head: opml.Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}
	for _, sub := range subs {
		doc.Body.Outlines = append(doc.Body.Outlines, opml.Outline{
			Text:        sub.Name,
			Title:       sub.Name,
			Type:        "subscription",
			Description: sub.Description,
			Category:    sub.IconRef,
		})
	}
	out, err := doc.XML()
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	if !strings.HasPrefix(out, "<?xml") {
		out = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + out
	}
	return []byte(out), nil
}
