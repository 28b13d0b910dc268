package rag

import (
	"fmt"
	"strings"

	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/pkg/stream"
	"mailpilot-backend/pkg/vectorindex"
)

// NoContextSentinel is rendered instead of an empty context so the prompt
// always states context availability explicitly.
const NoContextSentinel = "No relevant email or document context found."

func metaString(meta map[string]interface{}, key, fallback string) string {
	if v, ok := meta[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func buildEmailBlock(meta map[string]interface{}, n int) string {
	from := metaString(meta, "from", "Unknown sender")
	if metaString(meta, "direction", "") == emaildomain.DirectionOutbound {
		from += " (sent by you)"
	}

	lines := []string{
		fmt.Sprintf("Email %d:", n),
		"Subject: " + metaString(meta, "subject", "Unknown subject"),
		"From: " + from,
		"Date: " + metaString(meta, "date", "Unknown date"),
	}
	if snippet := metaString(meta, "snippet", ""); snippet != "" {
		lines = append(lines, "Snippet: "+snippet)
	} else {
		lines = append(lines, "Snippet: (no snippet available)")
	}
	return strings.Join(lines, "\n")
}

func buildAttachmentBlock(meta map[string]interface{}, n int) string {
	lines := []string{
		fmt.Sprintf("Document %d (attachment: %s):", n, metaString(meta, "filename", "Unknown file")),
	}
	if subject := metaString(meta, "subject", ""); subject != "" {
		lines = append(lines, "From email subject: "+subject)
	}
	if from := metaString(meta, "from", ""); from != "" {
		lines = append(lines, "From: "+from)
	}
	if snippet := metaString(meta, "snippet", ""); snippet != "" {
		lines = append(lines, "Content excerpt: "+snippet)
	} else {
		lines = append(lines, "Content: (no excerpt)")
	}
	return strings.Join(lines, "\n")
}

// BuildContext renders matches into the prompt context: numbered email and
// document blocks joined by blank lines, or the sentinel when nothing
// matched.
func BuildContext(matches []vectorindex.Match) string {
	if len(matches) == 0 {
		return NoContextSentinel
	}

	blocks := make([]string, len(matches))
	for i, m := range matches {
		if metaString(m.Metadata, "docType", "") == emaildomain.DocTypeAttachment {
			blocks[i] = buildAttachmentBlock(m.Metadata, i+1)
		} else {
			blocks[i] = buildEmailBlock(m.Metadata, i+1)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// BuildCitations maps matches to the citation entries sent on the metadata
// stream line.
func BuildCitations(matches []vectorindex.Match) []stream.Citation {
	citations := make([]stream.Citation, len(matches))
	for i, m := range matches {
		citations[i] = stream.Citation{
			ID:       m.ID,
			Score:    m.Score,
			DocType:  metaString(m.Metadata, "docType", emaildomain.DocTypeEmail),
			Subject:  metaString(m.Metadata, "subject", ""),
			From:     metaString(m.Metadata, "from", ""),
			Date:     metaString(m.Metadata, "date", ""),
			ThreadID: metaString(m.Metadata, "threadId", ""),
			Snippet:  metaString(m.Metadata, "snippet", ""),
			Filename: metaString(m.Metadata, "filename", ""),
		}
	}
	return citations
}
