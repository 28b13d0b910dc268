package emailproc

import "strings"

// EmailEmbeddingMaxChars bounds one email body chunk for embedding.
// ~1.5 chars/token in dense text, so 8000 chars stays well inside the
// embedding model's context.
const EmailEmbeddingMaxChars = 8000

// BodyChunk is one bounded slice of a cleaned email body.
type BodyChunk struct {
	Text  string
	Index int
}

// ChunkBody splits cleaned body text into chunks of at most maxChars.
// A text that already fits is returned as a single chunk. Longer texts are
// cut at the best boundary inside the window, preferring a paragraph break,
// then a sentence end, then a space, but only when the boundary lies past
// half the window; otherwise the cut is hard at maxChars. Empty chunks are
// dropped and indices stay contiguous.
func ChunkBody(text string, maxChars int) []BodyChunk {
	if maxChars <= 0 {
		maxChars = EmailEmbeddingMaxChars
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= maxChars {
		return []BodyChunk{{Text: trimmed, Index: 0}}
	}

	var chunks []BodyChunk
	remaining := trimmed
	index := 0
	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			if piece := strings.TrimSpace(remaining); piece != "" {
				chunks = append(chunks, BodyChunk{Text: piece, Index: index})
				index++
			}
			break
		}

		cut := boundaryCut(remaining, maxChars)
		piece := strings.TrimSpace(remaining[:cut])
		if piece != "" {
			chunks = append(chunks, BodyChunk{Text: piece, Index: index})
			index++
		}
		remaining = remaining[cut:]
	}
	return chunks
}

// boundaryCut returns the cut position for the next chunk, always >= 1 so
// the caller makes progress even on degenerate input.
func boundaryCut(text string, maxChars int) int {
	window := text[:maxChars]
	half := maxChars / 2

	if idx := strings.LastIndex(window, "\n\n"); idx > half {
		return idx + 2
	}
	if idx := lastSentenceEnd(window); idx > half {
		return idx
	}
	if idx := strings.LastIndex(window, " "); idx > half {
		return idx + 1
	}
	return maxChars
}

// lastSentenceEnd finds the position just after the last sentence-ending
// punctuation followed by a space, or -1.
func lastSentenceEnd(window string) int {
	best := -1
	for i := len(window) - 2; i >= 0; i-- {
		c := window[i]
		if (c == '.' || c == '!' || c == '?') && window[i+1] == ' ' {
			best = i + 2
			break
		}
	}
	return best
}
