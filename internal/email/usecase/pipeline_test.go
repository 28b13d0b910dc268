package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/pkg/docproc"
	"mailpilot-backend/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls [][]string
	fail  bool
}

func (f *fakeEmbedder) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	f.calls = append(f.calls, inputs)
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

type fakeIndex struct {
	upserts map[string][]vectorindex.Vector
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{upserts: make(map[string][]vectorindex.Vector)}
}

func (f *fakeIndex) Upsert(ctx context.Context, namespace string, vectors []vectorindex.Vector) error {
	f.upserts[namespace] = append(f.upserts[namespace], vectors...)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *vectorindex.Filter) ([]vectorindex.Match, error) {
	return nil, nil
}

func (f *fakeIndex) byID(namespace, id string) *vectorindex.Vector {
	for i := range f.upserts[namespace] {
		if f.upserts[namespace][i].ID == id {
			return &f.upserts[namespace][i]
		}
	}
	return nil
}

func newTestPipeline(embedder *fakeEmbedder, index *fakeIndex) *Pipeline {
	return NewPipeline(embedder, index, docproc.TextExtractor{}, "emails")
}

func TestIngestSingleMessage(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{{
		MessageID: "<m1@example.com>",
		Subject:   "Project kickoff",
		From:      "Alice <alice@example.com>",
		Date:      "Mon, 12 Jan 2026 10:00:00 +0000",
		Body:      "Action required: please respond by Friday.",
	}}

	result, err := p.Ingest(context.Background(), raws, "me@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedCount)
	assert.Equal(t, "emails", result.Namespace)

	v := index.byID("emails", "<m1@example.com>")
	require.NotNil(t, v, "single-chunk vector keeps the bare message ID")
	assert.Equal(t, "email", v.Metadata["docType"])
	assert.Equal(t, "<m1@example.com>", v.Metadata["threadId"], "threadId falls back to messageId")
	assert.Equal(t, "inbound", v.Metadata["direction"])
	assert.Equal(t, true, v.Metadata["hasAction"])
	assert.Equal(t, false, v.Metadata["hasDecision"])
	assert.Equal(t, 0, v.Metadata["chunkIndex"])
	assert.Equal(t, 1, v.Metadata["totalChunks"])
}

func TestIngestLongBodyProducesChunkIDs(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{{
		MessageID: "m1",
		Subject:   "Long thread",
		From:      "bob@example.com",
		Body:      strings.Repeat("x", 9000),
	}}

	result, err := p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.SyncedCount)

	first := index.byID("emails", "m1_chunk_0")
	second := index.byID("emails", "m1_chunk_1")
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, 2, first.Metadata["totalChunks"])
	snippet, ok := first.Metadata["snippet"].(string)
	require.True(t, ok)
	assert.LessOrEqual(t, len(snippet), 500, "multi-chunk snippets come from the chunk, capped at 500")
}

func TestIngestSnippetStaysValidUTF8(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	// 3-byte runes put the 1000-byte snippet cap mid-rune.
	raws := []emaildomain.RawMessage{{
		MessageID: "m7",
		Subject:   "Multibyte",
		From:      "carol@example.com",
		Body:      strings.Repeat("世", 400),
	}}

	_, err := p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)

	v := index.byID("emails", "m7")
	require.NotNil(t, v)
	snippet, ok := v.Metadata["snippet"].(string)
	require.True(t, ok)
	assert.True(t, utf8.ValidString(snippet))
	assert.LessOrEqual(t, len(snippet), 1000)
}

func TestIngestDirectionOutbound(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{{
		MessageID: "m2",
		From:      "Me <ME@Example.COM>",
		Body:      "sent by the mailbox owner",
	}}

	_, err := p.Ingest(context.Background(), raws, "me@example.com", "")
	require.NoError(t, err)

	v := index.byID("emails", "m2")
	require.NotNil(t, v)
	assert.Equal(t, "outbound", v.Metadata["direction"])
}

func TestIngestSkipsEmptyBodies(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{
		{MessageID: "empty", Body: "   "},
		{MessageID: "kept", Body: "real content"},
	}

	result, err := p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedCount)
	assert.Nil(t, index.byID("emails", "empty"))
	assert.NotNil(t, index.byID("emails", "kept"))
}

func TestIngestEmptyBatchSkipsEmbedding(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	result, err := p.Ingest(context.Background(), nil, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.SyncedCount)
	assert.Empty(t, embedder.calls, "no embed call for an empty batch")
}

func TestIngestEmbedFailureAbortsBatch(t *testing.T) {
	embedder := &fakeEmbedder{fail: true}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{{MessageID: "m1", Body: "content"}}

	_, err := p.Ingest(context.Background(), raws, "", "")
	require.Error(t, err)
	assert.Empty(t, index.upserts, "nothing upserted when embedding fails")
}

func TestIngestBatchEmbedsOnce(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{
		{MessageID: "a", Subject: "one", Body: "first message"},
		{MessageID: "b", Subject: "two", Body: "second message"},
		{MessageID: "c", Subject: "three", Body: "third message"},
	}

	_, err := p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)
	require.Len(t, embedder.calls, 1, "one embedding request per batch")
	assert.Len(t, embedder.calls[0], 3)
}

func TestIngestIdempotentIDs(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raws := []emaildomain.RawMessage{{MessageID: "stable", Body: "same content"}}

	_, err := p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)
	_, err = p.Ingest(context.Background(), raws, "", "")
	require.NoError(t, err)

	ids := make(map[string]int)
	for _, v := range index.upserts["emails"] {
		ids[v.ID]++
	}
	assert.Equal(t, 2, ids["stable"], "re-ingest reuses the same vector ID")
	assert.Len(t, ids, 1)
}

func TestIngestAttachments(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raw := emaildomain.RawMessage{
		MessageID: "m9",
		Subject:   "Specs attached",
		From:      "alice@example.com",
	}
	atts := []Attachment{{
		AttachmentID: "att1",
		Filename:     "notes.txt",
		MimeType:     "text/plain",
		Data:         []byte("attachment body text"),
	}}

	count, err := p.IngestAttachments(context.Background(), raw, atts, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	v := index.byID("emails", "m9_att_att1_chunk_0")
	require.NotNil(t, v)
	assert.Equal(t, "attachment", v.Metadata["docType"])
	assert.Equal(t, "notes.txt", v.Metadata["filename"])
}

func TestIngestAttachmentsSkipsUnextractable(t *testing.T) {
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	p := newTestPipeline(embedder, index)

	raw := emaildomain.RawMessage{MessageID: "m10"}
	atts := []Attachment{{
		AttachmentID: "bin1",
		Filename:     "image.png",
		MimeType:     "image/png",
		Data:         []byte{0x89, 0x50},
	}}

	count, err := p.IngestAttachments(context.Background(), raw, atts, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, embedder.calls)
}
