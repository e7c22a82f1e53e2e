package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/rss"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("not found")

// snapshot is the on-disk layout of a FileStore.
type snapshot struct {
	Sources        []models.Source              `json:"sources"`
	FilterWords    []models.FilterWord          `json:"filter_words"`
	AIInstructions []models.AIFilterInstruction `json:"ai_instructions"`
	Items          []models.Item                `json:"items"`
	NextID         int64                        `json:"next_id"`
}

// FileStore keeps everything in memory and mirrors it to a JSON file.
// An empty path makes it purely in-memory, which is what tests use.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	data     snapshot
	byGUID   map[string]int
	now      func() time.Time
}

func NewFileStore(filePath string) *FileStore {
	return &FileStore{
		filePath: filePath,
		data:     snapshot{NextID: 1},
		byGUID:   make(map[string]int),
		now:      time.Now,
	}
}

// Load loads the store from its file. A missing or empty file leaves it empty.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.filePath == "" {
		return nil
	}
	if _, err := os.Stat(fs.filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}
	if snap.NextID < 1 {
		snap.NextID = 1
	}
	fs.data = snap
	fs.reindex()
	return nil
}

// Save writes the store to its file.
func (fs *FileStore) Save() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.saveLocked()
}

func (fs *FileStore) saveLocked() error {
	if fs.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (fs *FileStore) reindex() {
	fs.byGUID = make(map[string]int, len(fs.data.Items))
	for i, it := range fs.data.Items {
		fs.byGUID[it.GUID] = i
	}
}

// Seed adds sources and filters whose URL, word or instruction is not present yet.
func (fs *FileStore) Seed(_ context.Context, seeds rss.Seeds) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	known := make(map[string]bool)
	var maxID int64
	for _, s := range fs.data.Sources {
		known["src:"+s.URL] = true
		maxID = max(maxID, s.ID)
	}
	for _, s := range seeds.Sources {
		if known["src:"+s.URL] {
			continue
		}
		maxID++
		s.ID = maxID
		fs.data.Sources = append(fs.data.Sources, s)
	}

	maxID = 0
	for _, w := range fs.data.FilterWords {
		known["word:"+w.Word] = true
		maxID = max(maxID, w.ID)
	}
	for _, w := range seeds.FilterWords {
		if known["word:"+w.Word] {
			continue
		}
		maxID++
		w.ID = maxID
		fs.data.FilterWords = append(fs.data.FilterWords, w)
	}

	maxID = 0
	for _, in := range fs.data.AIInstructions {
		known["ai:"+in.Instruction] = true
		maxID = max(maxID, in.ID)
	}
	for _, in := range seeds.AIInstructions {
		if known["ai:"+in.Instruction] {
			continue
		}
		maxID++
		in.ID = maxID
		fs.data.AIInstructions = append(fs.data.AIInstructions, in)
	}
	return fs.saveLocked()
}

// --- sources ---

func (fs *FileStore) ListActiveSources(_ context.Context) ([]models.Source, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []models.Source
	for _, s := range fs.data.Sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (fs *FileStore) UpdateLastFetch(_ context.Context, sourceID int64, ts time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Sources {
		if fs.data.Sources[i].ID == sourceID {
			t := ts
			fs.data.Sources[i].LastFetch = &t
			return fs.saveLocked()
		}
	}
	return ErrNotFound
}

// --- filters ---

func (fs *FileStore) ActiveFilterWords(_ context.Context) ([]models.FilterWord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []models.FilterWord
	for _, w := range fs.data.FilterWords {
		if w.Active {
			out = append(out, w)
		}
	}
	return out, nil
}

func (fs *FileStore) ActiveAIInstructions(_ context.Context) ([]models.AIFilterInstruction, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []models.AIFilterInstruction
	for _, in := range fs.data.AIInstructions {
		if in.Active {
			out = append(out, in)
		}
	}
	return out, nil
}

// --- items ---

func (fs *FileStore) Exists(_ context.Context, guid string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	_, ok := fs.byGUID[guid]
	return ok, nil
}

// Create inserts item. A GUID that already exists yields (item, false, nil).
func (fs *FileStore) Create(_ context.Context, item models.Item) (models.Item, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.byGUID[item.GUID]; ok {
		return item, false, nil
	}
	item.ID = fs.data.NextID
	fs.data.NextID++
	item.CreatedAt = fs.now()
	item.Embedding = append([]float32(nil), item.Embedding...)

	fs.byGUID[item.GUID] = len(fs.data.Items)
	fs.data.Items = append(fs.data.Items, item)
	if err := fs.saveLocked(); err != nil {
		return item, true, err
	}
	return item, true, nil
}

// RecentWindow returns items published at or after since, oldest first.
// Deleted items are included.
func (fs *FileStore) RecentWindow(_ context.Context, since time.Time, filter models.WindowFilter) ([]models.Item, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []models.Item
	for _, it := range fs.data.Items {
		if it.Published.Before(since) || !filter.Match(it) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Published.Before(out[j].Published) })
	return out, nil
}

// PurgeOlderThan deletes items published before cutoff, except saved ones.
func (fs *FileStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	kept := fs.data.Items[:0]
	removed := make(map[int64]bool)
	for _, it := range fs.data.Items {
		if it.Published.Before(cutoff) && !it.IsSaved {
			removed[it.ID] = true
			continue
		}
		kept = append(kept, it)
	}
	if len(removed) == 0 {
		return 0, nil
	}
	// Mirror ON DELETE SET NULL.
	for i := range kept {
		if kept[i].SimilarTo != nil && removed[*kept[i].SimilarTo] {
			kept[i].SimilarTo = nil
		}
	}
	fs.data.Items = kept
	fs.reindex()
	return int64(len(removed)), fs.saveLocked()
}

// LatestPublished returns the newest publication time among non-deleted items of a source.
func (fs *FileStore) LatestPublished(_ context.Context, sourceID int64) (*time.Time, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var latest *time.Time
	for _, it := range fs.data.Items {
		if it.SourceID != sourceID || it.IsDeleted {
			continue
		}
		if latest == nil || it.Published.After(*latest) {
			t := it.Published
			latest = &t
		}
	}
	return latest, nil
}

// ListMissingEmbeddings returns visible-candidate items without a vector, newest first.
func (fs *FileStore) ListMissingEmbeddings(_ context.Context, limit int) ([]models.Item, error) {
	return fs.newest(limit, func(it models.Item) bool {
		return len(it.Embedding) == 0 && !it.IsDeleted && !it.IsFiltered && !it.IsAIFiltered
	}), nil
}

// ListRecheckCandidates returns accepted items with vectors published since, newest first.
func (fs *FileStore) ListRecheckCandidates(_ context.Context, since time.Time, limit int) ([]models.Item, error) {
	return fs.newest(limit, func(it models.Item) bool {
		return len(it.Embedding) > 0 && !it.Published.Before(since) && it.Visible()
	}), nil
}

func (fs *FileStore) newest(limit int, keep func(models.Item) bool) []models.Item {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []models.Item
	for _, it := range fs.data.Items {
		if keep(it) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Published.After(out[j].Published) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (fs *FileStore) UpdateEmbedding(_ context.Context, id int64, vec []float32) error {
	return fs.update(id, func(it *models.Item) {
		it.Embedding = append([]float32(nil), vec...)
	})
}

func (fs *FileStore) MarkRedundant(_ context.Context, id, similarTo int64, score float64) error {
	return fs.update(id, func(it *models.Item) {
		it.IsRedundant = true
		it.IsFiltered = true
		it.SimilarTo = &similarTo
		it.SimilarityScore = &score
	})
}

func (fs *FileStore) update(id int64, fn func(*models.Item)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i := range fs.data.Items {
		if fs.data.Items[i].ID == id {
			fn(&fs.data.Items[i])
			return fs.saveLocked()
		}
	}
	return ErrNotFound
}

// CountCreatedBetween buckets items created in [from, to).
func (fs *FileStore) CountCreatedBetween(_ context.Context, from, to time.Time) (models.DayStats, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var st models.DayStats
	for _, it := range fs.data.Items {
		if it.CreatedAt.Before(from) || !it.CreatedAt.Before(to) {
			continue
		}
		st.Add(it)
	}
	return st, nil
}

// Item returns a stored item by ID.
func (fs *FileStore) Item(id int64) (models.Item, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for _, it := range fs.data.Items {
		if it.ID == id {
			return it, true
		}
	}
	return models.Item{}, false
}

// Items returns a copy of all stored items in insertion order.
func (fs *FileStore) Items() []models.Item {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return append([]models.Item(nil), fs.data.Items...)
}

// GetStats returns store statistics.
func (fs *FileStore) GetStats() map[string]int {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	visible := 0
	for _, it := range fs.data.Items {
		if it.Visible() {
			visible++
		}
	}
	return map[string]int{
		"total_items":   len(fs.data.Items),
		"visible_items": visible,
		"sources":       len(fs.data.Sources),
	}
}
