package rss

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const userAgent = "Mozilla/5.0 (compatible; mynews/1.0; +https://github.com/deusflow/mynews)"

// MediaAttachment is a media:content / media:thumbnail element or the item image.
type MediaAttachment struct {
	URL    string
	Type   string
	Medium string
}

type Enclosure struct {
	URL  string
	Type string
}

// Entry is a feed item reduced to what the pipeline reads.
type Entry struct {
	Title       string
	Link        string
	GUID        string
	Published   time.Time
	HasDate     bool
	Description string
	Content     string
	Media       []MediaAttachment
	Enclosures  []Enclosure
}

// Client downloads and parses RSS/Atom feeds.
type Client struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	parser.UserAgent = userAgent
	return &Client{parser: parser, timeout: timeout}
}

// Parse fetches url and returns its entries in feed order.
func (c *Client) Parse(ctx context.Context, url string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	feed, err := c.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, entryFromItem(item))
	}
	return entries, nil
}

// ParseString parses a feed document already in memory.
func ParseString(doc string) ([]Entry, error) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item != nil {
			entries = append(entries, entryFromItem(item))
		}
	}
	return entries, nil
}

func entryFromItem(item *gofeed.Item) Entry {
	e := Entry{
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		GUID:        strings.TrimSpace(item.GUID),
		Description: item.Description,
		Content:     item.Content,
	}
	if e.GUID == "" {
		e.GUID = e.Link
	}

	switch {
	case item.PublishedParsed != nil:
		e.Published, e.HasDate = *item.PublishedParsed, true
	case item.UpdatedParsed != nil:
		e.Published, e.HasDate = *item.UpdatedParsed, true
	}

	e.Media = mediaFromExtensions(item.Extensions)
	if item.Image != nil && item.Image.URL != "" && !hasMedia(e.Media, item.Image.URL) {
		e.Media = append(e.Media, MediaAttachment{URL: item.Image.URL, Medium: "image"})
	}
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		e.Enclosures = append(e.Enclosures, Enclosure{URL: enc.URL, Type: enc.Type})
	}
	return e
}

func hasMedia(media []MediaAttachment, url string) bool {
	for _, m := range media {
		if m.URL == url {
			return true
		}
	}
	return false
}

func mediaFromExtensions(exts ext.Extensions) []MediaAttachment {
	media, ok := exts["media"]
	if !ok {
		return nil
	}
	var out []MediaAttachment
	collect := func(list []ext.Extension) {
		for _, m := range list {
			url := m.Attrs["url"]
			if url == "" {
				continue
			}
			out = append(out, MediaAttachment{URL: url, Type: m.Attrs["type"], Medium: m.Attrs["medium"]})
		}
	}
	collect(media["content"])
	collect(media["thumbnail"])
	for _, g := range media["group"] {
		collect(g.Children["content"])
		collect(g.Children["thumbnail"])
	}
	return out
}
