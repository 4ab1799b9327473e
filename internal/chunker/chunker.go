// Package chunker splits oversized prompt text into overlapping segments
// sized to fit a model's context window.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration is returned when chunking parameters are inconsistent.
var ErrConfiguration = errors.New("invalid chunker configuration")

// boundaryLookbackFraction bounds how far back from the hard cutoff a
// sentence or paragraph boundary is searched before falling back to a
// hard character split.
const boundaryLookbackFraction = 0.2

// Split divides text into chunks of at most maxChunkChars characters,
// repeating the final overlapChars characters of each chunk at the start
// of the next to preserve context across the boundary.
//
// Text that already fits returns a single chunk with no overlap applied.
// Empty text returns nil. Splits prefer the nearest preceding paragraph
// or sentence boundary within a look-back window of 20% of the chunk
// size; when no boundary is found the text is cut at the character limit,
// so no input is ever dropped.
func Split(text string, maxChunkChars, overlapChars int) ([]string, error) {
	if maxChunkChars <= 0 {
		return nil, fmt.Errorf("%w: max chunk chars must be greater than 0, got %d", ErrConfiguration, maxChunkChars)
	}
	if overlapChars < 0 {
		return nil, fmt.Errorf("%w: overlap chars must be >= 0, got %d", ErrConfiguration, overlapChars)
	}
	if overlapChars >= maxChunkChars {
		return nil, fmt.Errorf("%w: overlap chars (%d) must be less than max chunk chars (%d)",
			ErrConfiguration, overlapChars, maxChunkChars)
	}

	if text == "" {
		return nil, nil
	}
	if len(text) <= maxChunkChars {
		return []string{text}, nil
	}

	var chunks []string
	overlap := ""
	rest := text

	for rest != "" {
		budget := maxChunkChars - len(overlap)
		if len(rest) <= budget {
			chunks = append(chunks, overlap+rest)
			break
		}

		cut := splitPoint(rest, budget)
		chunk := overlap + rest[:cut]
		chunks = append(chunks, chunk)

		if overlapChars > 0 {
			start := len(chunk) - overlapChars
			if start < 0 {
				start = 0
			}
			overlap = chunk[start:]
		}
		rest = rest[cut:]
	}

	return chunks, nil
}

// splitPoint returns where to cut text so the piece before the cut is at
// most limit characters, preferring a paragraph or sentence boundary
// within the look-back window.
func splitPoint(text string, limit int) int {
	if limit <= 0 {
		// Overlap consumed the whole budget; emit at least one character
		// so progress is always made.
		return 1
	}

	window := text[:limit]
	lookback := int(float64(limit) * boundaryLookbackFraction)
	floor := limit - lookback

	// Paragraph break is the strongest boundary.
	if idx := strings.LastIndex(window, "\n\n"); idx >= floor {
		return idx + 2
	}

	// Then sentence-ending punctuation followed by whitespace.
	best := -1
	for _, sep := range []string{". ", ".\n", "! ", "!\n", "? ", "?\n"} {
		if idx := strings.LastIndex(window, sep); idx >= floor && idx+len(sep) > best {
			best = idx + len(sep)
		}
	}
	if best > 0 {
		return best
	}

	// Then any whitespace.
	if idx := strings.LastIndexAny(window, " \t\n"); idx >= floor {
		return idx + 1
	}

	// A single run longer than the limit: hard cut. The caller still
	// receives every character.
	return limit
}
