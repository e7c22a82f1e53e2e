package summary

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/deusflow/mynews/internal/models"
)

const promptTemplate = `You are a news editor. Read the article below and reply with one JSON object and nothing else.

Keys:
- "summary": a neutral summary of about 60-70 words. Plain text, no markdown, no HTML.
- "short_answer": null, unless the title asks a direct question or withholds the answer to make the reader click (for example "You won't believe what happened next"). In that case give the answer in at most 15 words, with no preamble.
- "ai_filter": %s

%sTitle: %s
Content: %s
`

// BuildPrompt renders the summarization prompt. Active instructions are listed verbatim.
func BuildPrompt(title, content string, instructions []models.AIFilterInstruction) string {
	active := activeInstructions(instructions)

	filterRule := "always null."
	var filterBlock string
	if len(active) > 0 {
		filterRule = "null, unless the article matches one of the filter instructions below. In that case copy the text of that one instruction exactly."
		var sb strings.Builder
		sb.WriteString("Filter instructions:\n")
		for _, ins := range active {
			sb.WriteString("- ")
			sb.WriteString(ins)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		filterBlock = sb.String()
	}

	return fmt.Sprintf(promptTemplate, filterRule, filterBlock, strings.TrimSpace(title), content)
}

func activeInstructions(instructions []models.AIFilterInstruction) []string {
	var out []string
	for _, ins := range instructions {
		text := strings.TrimSpace(ins.Instruction)
		if ins.Active && text != "" {
			out = append(out, text)
		}
	}
	return out
}

// truncateContent collapses whitespace and cuts content to maxRunes, preferring a sentence end.
func truncateContent(content string, maxRunes int) string {
	content = strings.ReplaceAll(content, "\r", "")
	content = strings.Join(strings.Fields(content), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(content) <= maxRunes {
		return content
	}

	runes := []rune(content)
	trimmed := string(runes[:maxRunes])
	if idx := strings.LastIndex(trimmed, ". "); idx > len(trimmed)/5 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed + "\n[TRUNCATED]"
}
