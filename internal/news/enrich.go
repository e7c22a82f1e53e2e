package news

import (
	"context"
	"strings"

	"github.com/deusflow/mynews/internal/rss"
	"github.com/deusflow/mynews/internal/scraper"
)

// enrich returns the text to summarize and, for deep-extraction sources, the fetched page.
// Failures fall back to the feed text.
func (p *Pipeline) enrich(ctx context.Context, c candidate) (string, scraper.Article) {
	content := c.entry.Description
	if strings.TrimSpace(content) == "" {
		content = c.entry.Content
	}
	if !c.source.DeepExtraction || p.deps.Extractor == nil || c.entry.Link == "" {
		return content, scraper.Article{}
	}

	article, err := p.deps.Extractor.FetchFullText(ctx, c.entry.Link)
	if err != nil {
		p.log.Warn("⚠️ Full text extraction failed, using feed description", "link", c.entry.Link, "error", err)
		// A page without article text can still carry its images.
		article.Text = ""
		return content, article
	}
	if strings.TrimSpace(article.Text) != "" {
		p.log.Debug("✅ Full text extracted", "link", c.entry.Link, "chars", len(article.Text))
		content = article.Text
	}
	return content, article
}

// resolveImage picks the item image: feed media, then an image enclosure, then the page
// images, then an <img> sniffed from the feed markup.
func resolveImage(e rss.Entry, article scraper.Article) string {
	for _, m := range e.Media {
		if m.URL != "" && isImage(m.Type, m.Medium) {
			return m.URL
		}
	}
	for _, enc := range e.Enclosures {
		if enc.URL != "" && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			return enc.URL
		}
	}
	if img := article.ImageURL(); img != "" {
		return img
	}
	if img := scraper.ImageFromMarkup(e.Description); img != "" {
		return img
	}
	return scraper.ImageFromMarkup(e.Content)
}

// isImage accepts media without type hints; typed media must be an image.
func isImage(mimeType, medium string) bool {
	switch {
	case medium != "":
		return strings.EqualFold(medium, "image")
	case mimeType != "":
		return strings.HasPrefix(strings.ToLower(mimeType), "image/")
	}
	return true
}
