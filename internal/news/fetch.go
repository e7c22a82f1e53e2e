package news

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/rss"
)

// candidate is a feed entry that passed validation and is not stored yet.
type candidate struct {
	source models.Source
	entry  rss.Entry
	guid   string
	title  string
}

// collect fetches every active source and returns new entries oldest-first together
// with the sources that answered. Feed errors are isolated; repository errors abort.
func (p *Pipeline) collect(ctx context.Context) ([]candidate, []models.Source, error) {
	sources, err := p.deps.Sources.ListActiveSources(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list sources: %w", err)
	}
	p.log.Info("📡 Fetching feeds", "sources", len(sources))

	var (
		out     []candidate
		reached []models.Source
		seen    = make(map[string]struct{})
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		cutoff, err := p.cutoff(ctx, src)
		if err != nil {
			return nil, nil, err
		}

		entries, err := p.deps.Feeds.Parse(ctx, src.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			metrics.FeedErrorsTotal.WithLabelValues(src.Name).Inc()
			p.log.Error("❌ Feed fetch failed", "source", src.Name, "url", src.URL, "error", err)
			continue
		}
		reached = append(reached, src)
		metrics.EntriesFetchedTotal.WithLabelValues(src.Name).Add(float64(len(entries)))

		kept := 0
		for _, e := range entries {
			c, reason := p.validate(src, e, cutoff)
			if reason == "" {
				if _, dup := seen[c.guid]; dup {
					reason = "duplicate_in_batch"
				}
			}
			if reason == "" {
				exists, err := p.deps.Items.Exists(ctx, c.guid)
				if err != nil {
					return nil, nil, fmt.Errorf("check guid %q: %w", c.guid, err)
				}
				if exists {
					reason = "known"
				}
			}
			if reason != "" {
				metrics.EntriesSkippedTotal.WithLabelValues(reason).Inc()
				p.log.Debug("⏭️ Skipping entry", "source", src.Name, "reason", reason, "title", e.Title)
				continue
			}
			seen[c.guid] = struct{}{}
			out = append(out, c)
			kept++
		}
		p.log.Info("✅ Feed parsed", "source", src.Name, "entries", len(entries), "new", kept)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].entry.Published.Before(out[j].entry.Published) })
	return out, reached, nil
}

// cutoff is the later of the source's newest stored item and the retention horizon.
func (p *Pipeline) cutoff(ctx context.Context, src models.Source) (time.Time, error) {
	horizon := p.now().Add(-p.opts.RetentionWindow)
	latest, err := p.deps.Items.LatestPublished(ctx, src.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest published for source %d: %w", src.ID, err)
	}
	if latest != nil && latest.After(horizon) {
		return *latest, nil
	}
	return horizon, nil
}

// validate normalizes an entry and returns a skip reason, or "" when it is acceptable.
func (p *Pipeline) validate(src models.Source, e rss.Entry, cutoff time.Time) (candidate, string) {
	if !e.HasDate {
		e.Published = p.now()
	}
	e.Published = e.Published.In(p.opts.Location)

	c := candidate{
		source: src,
		entry:  e,
		guid:   strings.TrimSpace(e.GUID),
		title:  strings.TrimSpace(e.Title),
	}
	switch {
	case e.Published.Before(cutoff):
		return c, "too_old"
	case c.guid == "":
		return c, "missing_guid"
	case utf8.RuneCountInString(c.title) > p.opts.MaxTitleRunes:
		return c, "title_too_long"
	case utf8.RuneCountInString(c.guid) > p.opts.MaxGUIDRunes:
		return c, "guid_too_long"
	}
	return c, ""
}
