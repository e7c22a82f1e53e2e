package news

import (
	"regexp"
	"sync"

	"github.com/deusflow/mynews/internal/models"
)

var (
	wordPatternsMu sync.Mutex
	wordPatterns   = map[string]*regexp.Regexp{}
)

// wordPattern compiles a case-insensitive whole-word matcher, caching by word.
func wordPattern(word string) *regexp.Regexp {
	wordPatternsMu.Lock()
	defer wordPatternsMu.Unlock()

	if re, ok := wordPatterns[word]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	wordPatterns[word] = re
	return re
}

// ShouldFilter reports the first active word that matches. Title-only words test the
// title; the rest test title or description.
func ShouldFilter(title, description string, words []models.FilterWord) (bool, *models.FilterWord) {
	for i := range words {
		w := words[i]
		if !w.Active || w.Word == "" {
			continue
		}
		re := wordPattern(w.Word)
		if re.MatchString(title) || (!w.TitleOnly && re.MatchString(description)) {
			return true, &w
		}
	}
	return false, nil
}
