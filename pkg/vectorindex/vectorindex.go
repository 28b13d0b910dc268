// Package vectorindex abstracts the vector store behind the ingestion
// pipeline and the retriever: upsert with precomputed embeddings and
// metadata, query by vector with a document-type filter.
package vectorindex

import "context"

// Vector is one embedding plus the metadata needed to render a citation
// without a second fetch.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

// Match is one query result. Score is similarity (higher is closer).
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

// Filter restricts a query. A nil Filter or an empty DocTypes slice means
// no docType filter.
type Filter struct {
	DocTypes []string
}

// Index is the vector store capability. Namespace is a logical partition,
// typically one per mailbox.
type Index interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error)
}
