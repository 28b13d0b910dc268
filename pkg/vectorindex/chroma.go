package vectorindex

import (
	"context"
	"fmt"
	"sync"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"mailpilot-backend/pkg/config"
)

// ChromaIndex implements Index on Chroma Cloud. Each namespace maps to one
// collection; collections are created lazily and cached.
type ChromaIndex struct {
	client chroma.Client

	mu          sync.Mutex
	collections map[string]chroma.Collection
}

func NewChromaIndex(cfg *config.Config) (*ChromaIndex, error) {
	if cfg.ChromaAPIKey == "" {
		return nil, fmt.Errorf("CHROMA_API_KEY is required")
	}

	var client chroma.Client
	var err error
	if cfg.ChromaDatabase != "" && cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithDatabaseAndTenant(cfg.ChromaDatabase, cfg.ChromaTenant),
		)
	} else if cfg.ChromaTenant != "" {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
			chroma.WithTenant(cfg.ChromaTenant),
		)
	} else {
		client, err = chroma.NewHTTPClient(
			chroma.WithBaseURL(chroma.ChromaCloudEndpoint),
			chroma.WithCloudAPIKey(cfg.ChromaAPIKey),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Chroma client: %w", err)
	}

	return &ChromaIndex{
		client:      client,
		collections: make(map[string]chroma.Collection),
	}, nil
}

func (c *ChromaIndex) collection(ctx context.Context, namespace string) (chroma.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if col, ok := c.collections[namespace]; ok {
		return col, nil
	}
	col, err := c.client.GetOrCreateCollection(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection %q: %w", namespace, err)
	}
	c.collections[namespace] = col
	return col, nil
}

func (c *ChromaIndex) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	collection, err := c.collection(ctx, namespace)
	if err != nil {
		return err
	}

	ids := make([]chroma.DocumentID, 0, len(vectors))
	embs := make([]embeddings.Embedding, 0, len(vectors))
	metadatas := make([]chroma.DocumentMetadata, 0, len(vectors))
	for _, v := range vectors {
		metadata, err := chroma.NewDocumentMetadataFromMap(v.Metadata)
		if err != nil {
			return fmt.Errorf("failed to create metadata for %s: %w", v.ID, err)
		}
		ids = append(ids, chroma.DocumentID(v.ID))
		embs = append(embs, embeddings.NewEmbeddingFromFloat32(v.Values))
		metadatas = append(metadatas, metadata)
	}

	err = collection.Upsert(
		ctx,
		chroma.WithIDs(ids...),
		chroma.WithEmbeddings(embs...),
		chroma.WithMetadatas(metadatas...),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

func (c *ChromaIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	collection, err := c.collection(ctx, namespace)
	if err != nil {
		return nil, err
	}

	opts := []chroma.CollectionQueryOption{
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(topK),
	}
	if where := docTypeFilter(filter); where != nil {
		opts = append(opts, chroma.WithWhereQuery(where))
	}

	results, err := collection.Query(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}
	if results == nil || results.CountGroups() == 0 {
		return nil, nil
	}

	idGroups := results.GetIDGroups()
	distanceGroups := results.GetDistancesGroups()
	metadataGroups := results.GetMetadatasGroups()
	if len(idGroups) == 0 || len(idGroups[0]) == 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		m := Match{ID: string(id)}
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			// Cosine distance to similarity.
			m.Score = 1 - float64(distanceGroups[0][i])
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			m.Metadata = metadataToMap(metadataGroups[0][i])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func docTypeFilter(filter *Filter) chroma.WhereFilter {
	if filter == nil {
		return nil
	}
	switch len(filter.DocTypes) {
	case 0:
		return nil
	case 1:
		return chroma.EqString("docType", filter.DocTypes[0])
	default:
		clauses := make([]chroma.WhereClause, 0, len(filter.DocTypes))
		for _, dt := range filter.DocTypes {
			clauses = append(clauses, chroma.EqString("docType", dt))
		}
		return chroma.Or(clauses...)
	}
}

func metadataToMap(metadata chroma.DocumentMetadata) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	out := make(map[string]interface{})
	for _, key := range metadataKeys {
		if s, ok := metadata.GetString(key); ok {
			out[key] = s
			continue
		}
		if b, ok := metadata.GetBool(key); ok {
			out[key] = b
			continue
		}
		if i, ok := metadata.GetInt(key); ok {
			out[key] = i
			continue
		}
		if f, ok := metadata.GetFloat(key); ok {
			out[key] = f
		}
	}
	return out
}

// metadataKeys is the full set of fields written by the ingestion pipeline.
var metadataKeys = []string{
	"docType", "messageId", "threadId", "source", "date", "subject", "from",
	"snippet", "chunkIndex", "totalChunks", "direction", "filename",
	"hasAction", "hasDecision", "hasConfirmation",
}
