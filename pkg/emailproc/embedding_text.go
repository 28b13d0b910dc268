package emailproc

import (
	"fmt"
	"strings"
)

// BuildEmbeddingText assembles the canonical string handed to the embedding
// model. Only subject, sender and body are embedded; the other metadata
// fields stay retrieval filters.
func BuildEmbeddingText(subject, from, body string) string {
	return strings.TrimSpace(fmt.Sprintf("Subject: %s\n\nFrom: %s\n\nMessage:\n%s", subject, from, body))
}
