package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ErrNoContent is returned when no known article container is found.
var ErrNoContent = errors.New("no article content found")

// Elements removed before looking for the article body.
const noiseSelector = "script, style, nav, header, footer, iframe"

// Content containers in priority order.
var contentSelectors = []string{
	`[itemprop="articleBody"]`,
	"article",
	".content, .article-content, .post-content, .entry-content",
}

const featuredImageSelector = "img.featured-image, img.wp-post-image, img.article-image"

var imgTagRe = regexp.MustCompile(`<img[^>]+src="([^">]+)"`)

// Article is the extracted page text plus the images found on the page.
type Article struct {
	Text string
	// ContentImage is the first <img> inside the extracted container.
	ContentImage string
	// FeaturedImage is a featured-image class <img> anywhere on the page.
	FeaturedImage string
}

// ImageURL returns the best image the page offers.
func (a Article) ImageURL() string {
	if a.ContentImage != "" {
		return a.ContentImage
	}
	return a.FeaturedImage
}

// Extractor fetches article pages and pulls out their main text.
type Extractor struct {
	client  *http.Client
	timeout time.Duration
}

func NewExtractor(timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Extractor{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// FetchFullText downloads pageURL and extracts its article text and images.
func (e *Extractor) FetchFullText(ctx context.Context, pageURL string) (Article, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Article{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return Article{}, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Article{}, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Article{}, fmt.Errorf("error parsing HTML: %w", err)
	}

	base := resp.Request.URL
	if base == nil {
		base, _ = url.Parse(pageURL)
	}
	return Extract(doc, base)
}

// Extract reads the article body and images out of a parsed page.
func Extract(doc *goquery.Document, base *url.URL) (Article, error) {
	doc.Find(noiseSelector).Remove()

	var container *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			container = s
			break
		}
	}

	var a Article
	if featured := doc.Find(featuredImageSelector).First(); featured.Length() > 0 {
		a.FeaturedImage = resolve(base, featured.AttrOr("src", ""))
	}
	if container == nil {
		return a, ErrNoContent
	}

	a.Text = CollapseWhitespace(visibleText(container))
	if img := container.Find("img[src]").First(); img.Length() > 0 {
		a.ContentImage = resolve(base, img.AttrOr("src", ""))
	}
	if a.Text == "" {
		return a, ErrNoContent
	}
	return a, nil
}

// visibleText joins text nodes with spaces so adjacent blocks do not run together.
func visibleText(s *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, n *goquery.Selection) {
			if goquery.NodeName(n) != "#text" {
				walk(n)
				return
			}
			if t := strings.TrimSpace(n.Text()); t != "" {
				parts = append(parts, t)
			}
		})
	}
	walk(s)
	return strings.Join(parts, " ")
}

// ImageFromMarkup returns the src of the first <img> tag in raw markup.
func ImageFromMarkup(markup string) string {
	m := imgTagRe.FindStringSubmatch(markup)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// CollapseWhitespace trims s and squeezes every whitespace run into one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
