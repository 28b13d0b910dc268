// Package stream implements the append-only newline-delimited JSON framing
// used to carry chat answers to the client: one complete JSON object per
// line, metadata first, then chunks, then a terminal done or error line.
package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

const ContentType = "application/x-ndjson"

type Citation struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	DocType  string  `json:"docType"`
	Subject  string  `json:"subject"`
	From     string  `json:"from"`
	Date     string  `json:"date"`
	ThreadID string  `json:"threadId"`
	Snippet  string  `json:"snippet"`
	Filename string  `json:"filename"`
}

// metadataEvent always carries citations as an array, even with zero
// matches, so clients can index into it without a null check.
type metadataEvent struct {
	Type       string     `json:"type"`
	Citations  []Citation `json:"citations"`
	MatchCount int        `json:"matchCount"`
}

type event struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Writer serializes events onto an io.Writer, one JSON line each, flushing
// after every line. It is safe for concurrent use: the background title task
// may race the main stream, so every write checks the closed flag first.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	header  http.Header
	flusher http.Flusher
	closed  bool
	started bool
}

// NewWriter wraps w. When w is an http.ResponseWriter the stream headers
// are set lazily on the first line, so a handler that errors out before
// streaming can still respond with plain JSON.
func NewWriter(w io.Writer) *Writer {
	sw := &Writer{w: w}
	if rw, ok := w.(http.ResponseWriter); ok {
		sw.header = rw.Header()
	}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Started reports whether any line has been written. The HTTP handler uses
// this to decide between a plain JSON error response and an in-stream error
// line.
func (s *Writer) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Close marks the stream as unusable; later writes are silently dropped.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Writer) WriteMetadata(citations []Citation, matchCount int) error {
	if citations == nil {
		citations = []Citation{}
	}
	return s.write(metadataEvent{Type: "metadata", Citations: citations, MatchCount: matchCount})
}

func (s *Writer) WriteChunk(content string) error {
	return s.write(event{Type: "chunk", Content: content})
}

func (s *Writer) WriteTitle(title string) error {
	return s.write(event{Type: "title", Title: title})
}

func (s *Writer) WriteDone() error {
	return s.write(event{Type: "done"})
}

func (s *Writer) WriteError(message string) error {
	return s.write(event{Type: "error", Message: message})
}

func (s *Writer) write(e interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if !s.started && s.header != nil {
		s.header.Set("Content-Type", ContentType)
		s.header.Set("Cache-Control", "no-cache")
		s.header.Set("Connection", "keep-alive")
	}

	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		// The consumer is gone; stop writing but let the caller finish its
		// own bookkeeping.
		s.closed = true
		return err
	}
	s.started = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
