// Package rag covers the retrieval half of question answering: embedding a
// query, pulling matches from the vector index, and assembling the prompt
// context the model answers from.
package rag

import (
	"context"
	"net/mail"
	"sort"
	"strings"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/pkg/vectorindex"
)

const (
	defaultTopK = 6
	minTopK     = 1
	maxTopK     = 20
)

// Embedder is the slice of the model client the retriever needs.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// Options tunes a single retrieval. Zero values fall back to defaults.
type Options struct {
	TopK      int
	Namespace string
	// DocTypes overrides the default {email, attachment} filter.
	DocTypes []string
}

type Retriever struct {
	embedder  Embedder
	index     vectorindex.Index
	namespace string
}

func NewRetriever(embedder Embedder, index vectorindex.Index, namespace string) *Retriever {
	if namespace == "" {
		namespace = "emails"
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		namespace: namespace,
	}
}

// Retrieve embeds the question and queries the vector index. A blank
// question short-circuits to an empty result without an embedding call.
func (r *Retriever) Retrieve(ctx context.Context, question string, opts Options) ([]vectorindex.Match, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return []vectorindex.Match{}, nil
	}

	embeddings, err := r.embedder.CreateEmbeddings(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return []vectorindex.Match{}, nil
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK < minTopK {
		topK = minTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = r.namespace
	}

	docTypes := opts.DocTypes
	if len(docTypes) == 0 {
		docTypes = []string{emaildomain.DocTypeEmail, emaildomain.DocTypeAttachment}
	}

	matches, err := r.index.Query(ctx, namespace, embeddings[0], topK, &vectorindex.Filter{DocTypes: docTypes})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []vectorindex.Match{}
	}
	return matches, nil
}

// SortMatchesByDate orders matches chronologically by their date metadata.
// Matches whose date is missing or unparseable sort last, keeping their
// relative order.
func SortMatchesByDate(matches []vectorindex.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		ti, okI := parseMatchDate(matches[i])
		tj, okJ := parseMatchDate(matches[j])
		if okI != okJ {
			return okI
		}
		if !okI {
			return false
		}
		return ti.Before(tj)
	})
}

func parseMatchDate(m vectorindex.Match) (time.Time, bool) {
	raw, _ := m.Metadata["date"].(string)
	if raw == "" {
		return time.Time{}, false
	}
	parsed, err := mail.ParseDate(raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
