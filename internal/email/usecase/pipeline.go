package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/pkg/docproc"
	"mailpilot-backend/pkg/emailproc"
	"mailpilot-backend/pkg/vectorindex"
)

const (
	upsertBatchSize      = 100
	snippetFullMaxChars  = 1000
	snippetChunkMaxChars = 500
)

// Embedder turns a batch of texts into one embedding per text, in order.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)
}

// Pipeline normalizes, chunks, tags, embeds and upserts mail into the
// vector index. Both the bulk Gmail sync and the live IMAP listener feed it.
type Pipeline struct {
	embedder  Embedder
	index     vectorindex.Index
	extractor docproc.Extractor
	namespace string
}

func NewPipeline(embedder Embedder, index vectorindex.Index, extractor docproc.Extractor, namespace string) *Pipeline {
	if namespace == "" {
		namespace = "emails"
	}
	return &Pipeline{
		embedder:  embedder,
		index:     index,
		extractor: extractor,
		namespace: namespace,
	}
}

func (p *Pipeline) Namespace() string {
	return p.namespace
}

type pendingChunk struct {
	raw           emaildomain.RawMessage
	threadID      string
	flags         emailproc.IntentFlags
	embeddingText string
	snippet       string
	chunkIndex    int
	totalChunks   int
}

// Ingest processes a batch of raw messages end to end. One embedding call
// covers the whole batch; an embedding failure aborts the batch with nothing
// upserted. Messages whose cleaned body is empty yield no chunks and are
// skipped. Vector IDs are deterministic, so re-ingesting the same messages
// overwrites in place.
func (p *Pipeline) Ingest(ctx context.Context, raws []emaildomain.RawMessage, mailboxEmail, namespace string) (emaildomain.SyncResult, error) {
	if namespace == "" {
		namespace = p.namespace
	}
	result := emaildomain.SyncResult{Namespace: namespace}

	pending := make([]pendingChunk, 0, len(raws))
	for _, raw := range raws {
		cleaned := emailproc.CleanBody(raw.Body)
		threadID := raw.InReplyToID
		if threadID == "" {
			threadID = raw.MessageID
		}
		flags := emailproc.DetectIntentFlags(cleaned)
		chunks := emailproc.ChunkBody(cleaned, emailproc.EmailEmbeddingMaxChars)

		for _, chunk := range chunks {
			snippet := truncate(cleaned, snippetFullMaxChars)
			if len(chunks) > 1 {
				snippet = truncate(chunk.Text, snippetChunkMaxChars)
			}
			pending = append(pending, pendingChunk{
				raw:           raw,
				threadID:      threadID,
				flags:         flags,
				embeddingText: emailproc.BuildEmbeddingText(raw.Subject, raw.From, chunk.Text),
				snippet:       snippet,
				chunkIndex:    chunk.Index,
				totalChunks:   len(chunks),
			})
		}
	}

	if len(pending) == 0 {
		return result, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.embeddingText
	}
	embeddings, err := p.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("embedding batch failed: %w", err)
	}
	if len(embeddings) != len(pending) {
		return result, fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(pending))
	}

	mailboxLower := strings.ToLower(mailboxEmail)
	vectors := make([]vectorindex.Vector, len(pending))
	for i, c := range pending {
		id := c.raw.MessageID
		if c.totalChunks > 1 {
			id = fmt.Sprintf("%s_chunk_%d", c.raw.MessageID, c.chunkIndex)
		}

		direction := emaildomain.DirectionInbound
		if mailboxLower != "" && strings.Contains(strings.ToLower(c.raw.From), mailboxLower) {
			direction = emaildomain.DirectionOutbound
		}

		vectors[i] = vectorindex.Vector{
			ID:     id,
			Values: embeddings[i],
			Metadata: map[string]interface{}{
				"docType":         emaildomain.DocTypeEmail,
				"messageId":       c.raw.MessageID,
				"threadId":        c.threadID,
				"source":          "gmail",
				"date":            c.raw.Date,
				"subject":         c.raw.Subject,
				"from":            c.raw.From,
				"snippet":         c.snippet,
				"chunkIndex":      c.chunkIndex,
				"totalChunks":     c.totalChunks,
				"direction":       direction,
				"hasAction":       c.flags.HasAction,
				"hasDecision":     c.flags.HasDecision,
				"hasConfirmation": c.flags.HasConfirmation,
			},
		}
	}

	if err := p.upsertBatched(ctx, namespace, vectors); err != nil {
		return result, err
	}

	result.SyncedCount = len(vectors)
	return result, nil
}

// Attachment carries extracted-or-extractable attachment content alongside
// its identity.
type Attachment struct {
	AttachmentID string
	Filename     string
	MimeType     string
	Data         []byte
}

// IngestAttachments extracts text from a message's document attachments,
// chunks with overlap, embeds once per batch and upserts. Attachments whose
// text cannot be extracted are logged and skipped.
func (p *Pipeline) IngestAttachments(ctx context.Context, raw emaildomain.RawMessage, atts []Attachment, mailboxEmail, namespace string) (int, error) {
	if namespace == "" {
		namespace = p.namespace
	}

	type attChunk struct {
		att   Attachment
		chunk docproc.Chunk
		total int
	}

	var pending []attChunk
	for _, att := range atts {
		text, err := p.extractor.ExtractText(att.Data, att.MimeType, att.Filename)
		if err != nil {
			log.Printf("[Pipeline] Skipping attachment %s: %v", att.Filename, err)
			continue
		}
		chunks := docproc.ChunkText(text, docproc.DefaultChunkSize, docproc.DefaultChunkOverlap)
		for _, ch := range chunks {
			pending = append(pending, attChunk{att: att, chunk: ch, total: len(chunks)})
		}
	}

	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = emailproc.BuildEmbeddingText(raw.Subject, raw.From, c.chunk.Text)
	}
	embeddings, err := p.embedder.CreateEmbeddings(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("attachment embedding batch failed: %w", err)
	}
	if len(embeddings) != len(pending) {
		return 0, fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(pending))
	}

	threadID := raw.InReplyToID
	if threadID == "" {
		threadID = raw.MessageID
	}

	mailboxLower := strings.ToLower(mailboxEmail)
	direction := emaildomain.DirectionInbound
	if mailboxLower != "" && strings.Contains(strings.ToLower(raw.From), mailboxLower) {
		direction = emaildomain.DirectionOutbound
	}

	vectors := make([]vectorindex.Vector, len(pending))
	for i, c := range pending {
		vectors[i] = vectorindex.Vector{
			ID:     fmt.Sprintf("%s_att_%s_chunk_%d", raw.MessageID, c.att.AttachmentID, c.chunk.Index),
			Values: embeddings[i],
			Metadata: map[string]interface{}{
				"docType":     emaildomain.DocTypeAttachment,
				"messageId":   raw.MessageID,
				"threadId":    threadID,
				"source":      "gmail",
				"date":        raw.Date,
				"subject":     raw.Subject,
				"from":        raw.From,
				"filename":    c.att.Filename,
				"snippet":     truncate(c.chunk.Text, snippetChunkMaxChars),
				"chunkIndex":  c.chunk.Index,
				"totalChunks": c.total,
				"direction":   direction,
			},
		}
	}

	if err := p.upsertBatched(ctx, namespace, vectors); err != nil {
		return 0, err
	}
	return len(vectors), nil
}

func (p *Pipeline) upsertBatched(ctx context.Context, namespace string, vectors []vectorindex.Vector) error {
	for i := 0; i < len(vectors); i += upsertBatchSize {
		end := i + upsertBatchSize
		if end > len(vectors) {
			end = len(vectors)
		}
		if err := p.index.Upsert(ctx, namespace, vectors[i:end]); err != nil {
			return fmt.Errorf("vector upsert failed: %w", err)
		}
	}
	return nil
}

// truncate cuts s to at most max bytes, backing off to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
