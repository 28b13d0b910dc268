// Package docproc extracts and chunks text from email attachments so they
// can be embedded next to the emails that carried them.
package docproc

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 150
)

// ragAttachmentMimes are the document types worth indexing; images and other
// binary attachments are skipped.
var ragAttachmentMimes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/msword": true,
	"text/plain":         true,
	"text/csv":           true,
	"text/html":          true,
}

var textMimes = map[string]bool{
	"text/plain": true,
	"text/csv":   true,
	"text/html":  true,
}

// IsRAGRelevant reports whether an attachment MIME type should be indexed.
func IsRAGRelevant(mimeType string) bool {
	return ragAttachmentMimes[strings.ToLower(mimeType)]
}

// Extractor turns an attachment buffer into plain text. Binary formats (PDF,
// Word) need an external implementation; TextExtractor covers the text MIMEs.
type Extractor interface {
	ExtractText(data []byte, mimeType, filename string) (string, error)
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// TextExtractor handles text/plain, text/csv and text/html buffers.
type TextExtractor struct{}

func (TextExtractor) ExtractText(data []byte, mimeType, filename string) (string, error) {
	mime := strings.ToLower(mimeType)
	if !textMimes[mime] {
		return "", fmt.Errorf("unsupported MIME type %q for attachment %q", mimeType, filename)
	}
	text := string(data)
	if mime == "text/html" {
		text = htmlTagRe.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(text), nil
}

// Chunk is one overlapping slice of an extracted document.
type Chunk struct {
	Text  string
	Index int
}

// ChunkText splits document text into chunks of at most chunkSize characters
// with the given overlap carried between consecutive chunks. Cuts back off to
// the last space when one exists past half the window so words stay whole.
func ChunkText(text string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		return nil
	}
	normalized := strings.TrimSpace(regexp.MustCompile(`\s+`).ReplaceAllString(text, " "))
	if normalized == "" {
		return nil
	}
	if len(normalized) <= chunkSize {
		return []Chunk{{Text: normalized, Index: 0}}
	}

	var chunks []Chunk
	start := 0
	index := 0
	for start < len(normalized) {
		end := start + chunkSize
		if end > len(normalized) {
			end = len(normalized)
		}
		slice := normalized[start:end]

		if end < len(normalized) {
			if lastSpace := strings.LastIndex(slice, " "); lastSpace > chunkSize/2 {
				slice = slice[:lastSpace+1]
				end = start + lastSpace + 1
			}
		}

		if trimmed := strings.TrimSpace(slice); trimmed != "" {
			chunks = append(chunks, Chunk{Text: trimmed, Index: index})
			index++
		}

		if end >= len(normalized) {
			break
		}
		next := end
		if overlap > 0 {
			step := overlap
			if step > len(slice) {
				step = len(slice)
			}
			next = end - step
		}
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}
