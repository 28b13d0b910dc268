package listener

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngestor struct {
	mu   sync.Mutex
	raws []emaildomain.RawMessage
}

func (f *fakeIngestor) Ingest(ctx context.Context, raws []emaildomain.RawMessage, mailboxEmail, namespace string) (emaildomain.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws = append(f.raws, raws...)
	return emaildomain.SyncResult{SyncedCount: len(raws), Namespace: "emails"}, nil
}

func testConfig() IMAPConfig {
	return IMAPConfig{
		User:           "me@example.com",
		Password:       "app-password",
		Host:           "imap.example.com",
		Port:           993,
		ReconnectDelay: 10 * time.Millisecond,
	}
}

func TestRunReconnectsAfterSessionError(t *testing.T) {
	l := NewIMAPListener(testConfig(), &fakeIngestor{})

	var mu sync.Mutex
	attempts := 0
	l.session = func(ctx context.Context) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("connection reset")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return attempts >= 3
	}, time.Second, 5*time.Millisecond, "listener keeps reconnecting")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	assert.Equal(t, StateDisconnected, l.State())
}

func TestRunStopsWhenContextCancelledDuringSession(t *testing.T) {
	l := NewIMAPListener(testConfig(), &fakeIngestor{})
	l.session = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return l.State() == StateConnecting
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestRunSkipsWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.User = ""
	l := NewIMAPListener(cfg, &fakeIngestor{})

	called := false
	l.session = func(ctx context.Context) error {
		called = true
		return nil
	}

	l.Run(context.Background())
	assert.False(t, called, "no session without credentials")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "listening", StateListening.String())
}

const sampleMessage = "Message-Id: <abc123@example.com>\r\n" +
	"In-Reply-To: <parent@example.com>\r\n" +
	"From: Alice Example <alice@example.com>\r\n" +
	"Date: Mon, 12 Jan 2026 10:00:00 +0000\r\n" +
	"Subject: Meeting notes\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Here are the notes from today.\r\n"

func TestParseMessage(t *testing.T) {
	raw, err := ParseMessage(strings.NewReader(sampleMessage))
	require.NoError(t, err)

	assert.Equal(t, "<abc123@example.com>", raw.MessageID)
	assert.Equal(t, "<parent@example.com>", raw.InReplyToID)
	assert.Equal(t, "Meeting notes", raw.Subject)
	assert.Contains(t, raw.From, "alice@example.com")
	assert.Contains(t, raw.Body, "Here are the notes from today.")
}

const multipartMessage = "Message-Id: <mp1@example.com>\r\n" +
	"From: bob@example.com\r\n" +
	"Date: Tue, 13 Jan 2026 10:00:00 +0000\r\n" +
	"Subject: Multipart\r\n" +
	"Content-Type: multipart/alternative; boundary=sep\r\n" +
	"\r\n" +
	"--sep\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>html version</p>\r\n" +
	"--sep\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"plain version\r\n" +
	"--sep--\r\n"

func TestParseMessagePrefersPlainPart(t *testing.T) {
	raw, err := ParseMessage(strings.NewReader(multipartMessage))
	require.NoError(t, err)
	assert.Contains(t, raw.Body, "plain version")
	assert.NotContains(t, raw.Body, "<p>")
}

const htmlOnlyMessage = "Message-Id: <h1@example.com>\r\n" +
	"From: bob@example.com\r\n" +
	"Date: Tue, 13 Jan 2026 10:00:00 +0000\r\n" +
	"Subject: HTML only\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>only html here</p>\r\n"

func TestParseMessageFallsBackToHTML(t *testing.T) {
	raw, err := ParseMessage(strings.NewReader(htmlOnlyMessage))
	require.NoError(t, err)
	assert.Contains(t, raw.Body, "only html here")
}

const noIDMessage = "From: bob@example.com\r\n" +
	"Date: Tue, 13 Jan 2026 10:00:00 +0000\r\n" +
	"Subject: No id\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"body\r\n"

func TestParseMessageSynthesizesMissingID(t *testing.T) {
	raw, err := ParseMessage(strings.NewReader(noIDMessage))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw.MessageID, "imap_"), "synthetic id for messages without Message-Id")
}

func TestNotificationDeduplication(t *testing.T) {
	s := &NotificationService{lastHistoryID: make(map[string]uint64)}

	assert.False(t, s.isDuplicate("me@example.com", 100))
	assert.True(t, s.isDuplicate("me@example.com", 100), "same historyId is a duplicate")
	assert.True(t, s.isDuplicate("me@example.com", 99), "older historyId is a duplicate")
	assert.False(t, s.isDuplicate("me@example.com", 101))
	assert.False(t, s.isDuplicate("other@example.com", 50), "dedup is per mailbox")
}
