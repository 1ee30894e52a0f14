package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryan-buckman/channelsync/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Payload formats understood by the source.
const (
	FormatTMDB = "tmdb"
	FormatFeed = "feed"
)

// decoded is the result of decoding one payload. Skipped counts records that
// were present but unusable.
type decoded struct {
	items   []model.ContentItem
	skipped int
}

type decoder interface {
	decode(body []byte) (decoded, error)
}

func newDecoder(format, category, imageBaseURL string) (decoder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatTMDB:
		if imageBaseURL == "" {
			imageBaseURL = DefaultImageBaseURL
		}
		schema, err := compileRecordSchema()
		if err != nil {
			return nil, err
		}
		return &tmdbDecoder{schema: schema, category: category, imageBaseURL: strings.TrimRight(imageBaseURL, "/")}, nil
	case FormatFeed:
		return &feedDecoder{parser: gofeed.NewParser(), category: category}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported source format %q", model.ErrInvalidInput, format)
	}
}

// recordSchema describes one usable entry of a "results" array.
const recordSchema = `{
	"type": "object",
	"required": ["overview"],
	"properties": {
		"overview": {"type": "string"}
	},
	"anyOf": [
		{"required": ["title"], "properties": {"title": {"type": "string", "minLength": 1}}},
		{"required": ["original_title"], "properties": {"original_title": {"type": "string", "minLength": 1}}},
		{"required": ["name"], "properties": {"name": {"type": "string", "minLength": 1}}},
		{"required": ["original_name"], "properties": {"original_name": {"type": "string", "minLength": 1}}}
	],
	"allOf": [
		{"anyOf": [
			{"required": ["poster_path"], "properties": {"poster_path": {"type": "string", "minLength": 1}}},
			{"required": ["backdrop_path"], "properties": {"backdrop_path": {"type": "string", "minLength": 1}}}
		]}
	]
}`

func compileRecordSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("parse record schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("record.json", doc); err != nil {
		return nil, fmt.Errorf("add record schema: %w", err)
	}
	schema, err := c.Compile("record.json")
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return schema, nil
}

type tmdbRecord struct {
	Title         string `json:"title"`
	OriginalTitle string `json:"original_title"`
	Name          string `json:"name"`
	OriginalName  string `json:"original_name"`
	Overview      string `json:"overview"`
	PosterPath    string `json:"poster_path"`
	BackdropPath  string `json:"backdrop_path"`
}

func (r tmdbRecord) displayTitle() string {
	for _, t := range []string{r.Title, r.OriginalTitle, r.Name, r.OriginalName} {
		if t != "" {
			return t
		}
	}
	return ""
}

type tmdbDecoder struct {
	schema       *jsonschema.Schema
	category     string
	imageBaseURL string
}

func (d *tmdbDecoder) decode(body []byte) (decoded, error) {
	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return decoded{}, fmt.Errorf("decode payload: %w", err)
	}
	if envelope.Results == nil {
		return decoded{}, fmt.Errorf("decode payload: missing results array")
	}

	var out decoded
	for _, raw := range envelope.Results {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			out.skipped++
			continue
		}
		if err := d.schema.Validate(inst); err != nil {
			out.skipped++
			continue
		}
		var rec tmdbRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			out.skipped++
			continue
		}
		card := rec.PosterPath
		if card == "" {
			card = rec.BackdropPath
		}
		background := rec.BackdropPath
		if background == "" {
			background = rec.PosterPath
		}
		out.items = append(out.items, model.ContentItem{
			Title:              rec.displayTitle(),
			Description:        rec.Overview,
			Category:           d.category,
			CardImageURL:       d.imageURL(card),
			BackgroundImageURL: d.imageURL(background),
		})
	}
	return out, nil
}

func (d *tmdbDecoder) imageURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return d.imageBaseURL + "/" + strings.TrimLeft(path, "/")
}

type feedDecoder struct {
	parser   *gofeed.Parser
	category string
}

func (d *feedDecoder) decode(body []byte) (decoded, error) {
	feed, err := d.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return decoded{}, fmt.Errorf("parse feed: %w", err)
	}
	var out decoded
	for _, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Description) == "" {
			out.skipped++
			continue
		}
		image := ""
		if item.Image != nil {
			image = item.Image.URL
		}
		if image == "" {
			for _, enc := range item.Enclosures {
				if enc != nil && strings.HasPrefix(enc.Type, "image/") {
					image = enc.URL
					break
				}
			}
		}
		if image == "" && feed.Image != nil {
			image = feed.Image.URL
		}
		category := d.category
		if category == "" && len(item.Categories) > 0 {
			category = item.Categories[0]
		}
		out.items = append(out.items, model.ContentItem{
			Title:              item.Title,
			Description:        item.Description,
			Category:           category,
			CardImageURL:       image,
			BackgroundImageURL: image,
		})
	}
	return out, nil
}
