package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
)

// ErrMalformed marks a model response that does not match the JSON contract.
var ErrMalformed = errors.New("malformed model response")

// response is the strict JSON contract: summary string, short_answer string|null, ai_filter string|null.
type response struct {
	Summary     *string `json:"summary"`
	ShortAnswer *string `json:"short_answer"`
	AIFilter    *string `json:"ai_filter"`
}

var (
	fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	boldRe  = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

func parseResponse(raw string) (response, error) {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(s, "{") {
		return response{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	dec := json.NewDecoder(strings.NewReader(s))
	var resp response
	if err := dec.Decode(&resp); err != nil {
		return response{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return response{}, fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	return resp, nil
}

// formatSummary escapes model text and turns markdown bullets, bold and newlines into light HTML.
func formatSummary(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") {
			t = "• " + strings.TrimSpace(t[2:])
		}
		t = html.EscapeString(t)
		lines[i] = boldRe.ReplaceAllString(t, "<strong>$1</strong>")
	}
	return strings.Join(lines, "<br>")
}

func wordSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// overlapRatio is |words(summary) ∩ words(short)| / |words(short)|.
func overlapRatio(summary, short string) float64 {
	sw := wordSet(short)
	if len(sw) == 0 {
		return 0
	}
	mw := wordSet(summary)
	shared := 0
	for w := range sw {
		if _, ok := mw[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(sw))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
