package stream

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterEventOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteMetadata([]Citation{{ID: "m1", Score: 0.91, DocType: "email"}}, 1))
	require.NoError(t, w.WriteChunk("Hel"))
	require.NoError(t, w.WriteChunk("lo"))
	require.NoError(t, w.WriteDone())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "metadata", lines[0]["type"])
	assert.Equal(t, float64(1), lines[0]["matchCount"])
	assert.Equal(t, "chunk", lines[1]["type"])
	assert.Equal(t, "Hel", lines[1]["content"])
	assert.Equal(t, "lo", lines[2]["content"])
	assert.Equal(t, "done", lines[3]["type"])
}

func TestWriterMetadataEmptyCitations(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteMetadata(nil, 0))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	citations, ok := lines[0]["citations"].([]interface{})
	require.True(t, ok, "citations must be a JSON array, not null")
	assert.Empty(t, citations)
	assert.Equal(t, float64(0), lines[0]["matchCount"])
	assert.Contains(t, buf.String(), `"citations":[]`)
}

func TestWriterChunkOmitsMetadataKeys(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteChunk("tok"))
	require.NoError(t, w.WriteDone())

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.NotContains(t, l, "citations")
		assert.NotContains(t, l, "matchCount")
	}
}

func TestWriterSetsStreamHeadersOnFirstWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	// No writes yet: an error response can still pick its own content type.
	assert.Empty(t, rec.Header().Get("Content-Type"))

	require.NoError(t, w.WriteMetadata(nil, 0))

	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func TestWriterDropsWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteChunk("before"))
	w.Close()
	require.NoError(t, w.WriteTitle("late title"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "chunk", lines[0]["type"])
}

func TestWriterStarted(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	assert.False(t, w.Started())
	require.NoError(t, w.WriteMetadata(nil, 0))
	assert.True(t, w.Started())
}

func TestWriterConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = w.WriteChunk("token")
		}()
	}
	wg.Wait()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Equal(t, "chunk", l["type"])
		assert.Equal(t, "token", l["content"])
	}
}

func TestWriterErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteError("model unavailable"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["type"])
	assert.Equal(t, "model unavailable", lines[0]["message"])
}
