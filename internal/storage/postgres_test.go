package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/deusflow/mynews/internal/models"
)

func TestWindowQuery(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		filter   models.WindowFilter
		contains []string
		absent   []string
		args     int
	}{
		{
			name:   "no filter",
			absent: []string{"embedding IS NOT NULL", "is_filtered"},
			args:   1,
		},
		{
			name:     "with embedding",
			filter:   models.WindowFilter{WithEmbedding: true},
			contains: []string{"embedding IS NOT NULL"},
			args:     1,
		},
		{
			name:     "accepted only",
			filter:   models.WindowFilter{WithEmbedding: true, ExcludeFiltered: true},
			contains: []string{"embedding IS NOT NULL", "is_ai_filtered = $2", "is_filtered = $3", "is_redundant = $4"},
			args:     4,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, args, err := windowQuery(since, tc.filter).ToSql()
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(query, "published_date >= $1") || !strings.HasSuffix(query, "ORDER BY published_date ASC, id ASC") {
				t.Errorf("query = %s", query)
			}
			for _, s := range tc.contains {
				if !strings.Contains(query, s) {
					t.Errorf("query lacks %q: %s", s, query)
				}
			}
			for _, s := range tc.absent {
				if strings.Contains(query, s) {
					t.Errorf("query has %q: %s", s, query)
				}
			}
			if len(args) != tc.args {
				t.Errorf("args = %v, want %d", args, tc.args)
			}
		})
	}
}

func TestInsertItemSkipsDuplicates(t *testing.T) {
	query, args, err := insertItem(models.Item{GUID: "g", Title: "t"}).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(query, "ON CONFLICT (guid) DO NOTHING RETURNING id, created_at") {
		t.Errorf("query = %s", query)
	}
	if len(args) != 19 {
		t.Fatalf("args = %d, want 19", len(args))
	}
	if args[8] != nil {
		t.Errorf("empty embedding must be NULL, got %v", args[8])
	}
}

func TestSearchQuery(t *testing.T) {
	query, args, err := searchQuery([]float32{0.1, 0.2}, 5, time.Unix(0, 0), 7).ToSql()
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{
		"1 - (embedding <=> $1) AS score",
		"embedding IS NOT NULL",
		"id <> $2",
		"ORDER BY embedding <=> $",
		"LIMIT 5",
	} {
		if !strings.Contains(query, s) {
			t.Errorf("query lacks %q: %s", s, query)
		}
	}
	if args[1] != int64(7) {
		t.Errorf("exclude arg = %v", args[1])
	}
}

func TestSchemaUsesDimension(t *testing.T) {
	if !strings.Contains(schemaSQL(768), "embedding vector(768)") {
		t.Fatal("schema ignores the embedding dimension")
	}
}
