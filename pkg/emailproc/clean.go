// Package emailproc contains the pure text processing steps of the email
// ingestion pipeline: body cleanup, intent tagging, chunking and embedding
// text assembly. Everything here is deterministic and side-effect free.
package emailproc

import (
	"regexp"
	"strings"
)

var (
	signatureRe  = regexp.MustCompile(`(?s)\n--\s*\n.*$`)
	sentFromRe   = regexp.MustCompile(`(?i)\nSent from my [^\n]*$`)
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&#39;", "'",
)

// CleanBody turns a raw email body (plain text or HTML) into normalized plain
// text: trailing signature blocks removed, HTML stripped, the standard
// entities decoded and whitespace runs collapsed to single spaces.
func CleanBody(text string) string {
	if text == "" {
		return ""
	}
	noSig := sentFromRe.ReplaceAllString(signatureRe.ReplaceAllString(text, ""), "")
	noHTML := htmlTagRe.ReplaceAllString(noSig, " ")
	decoded := entityReplacer.Replace(noHTML)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(decoded, " "))
}
