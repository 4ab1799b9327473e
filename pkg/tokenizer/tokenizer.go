// Package tokenizer estimates token counts for prompt sizing. The
// analyzer uses the estimate to pick a per-call timeout and to log
// prompt budgets; it never needs exact counts.
package tokenizer

import (
	"strings"
)

// EstimateTokens provides a rough token count estimate.
// Uses the heuristic of ~4 characters per token for English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Count words and characters for a blended estimate
	words := len(strings.Fields(text))
	chars := len(text)

	// Heuristic: average of word-based and char-based estimates
	wordEstimate := int(float64(words) * 1.3) // ~1.3 tokens per word
	charEstimate := chars / 4                 // ~4 chars per token

	return (wordEstimate + charEstimate) / 2
}

// Preview truncates text to approximately maxChars, cutting at a word
// boundary where one exists in the second half. Used for history entry
// previews.
func Preview(text string, maxChars int) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if maxChars <= 0 {
		return ""
	}
	if len(text) <= maxChars {
		return text
	}

	truncated := text[:maxChars]
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > maxChars/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
