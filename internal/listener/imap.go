// Package listener holds the two live ingestion paths: an IMAP IDLE
// listener and a Pub/Sub subscriber for Gmail push notifications. Both feed
// new mail into the same ingestion pipeline the bulk sync uses.
package listener

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// State is the IMAP listener's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateListening
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	default:
		return "disconnected"
	}
}

// Ingestor is the pipeline slice the listeners need. *usecase.Pipeline
// satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, raws []emaildomain.RawMessage, mailboxEmail, namespace string) (emaildomain.SyncResult, error)
}

// IMAPConfig carries the listener's connection settings.
type IMAPConfig struct {
	User           string
	Password       string
	Host           string
	Port           int
	Mailbox        string
	ReconnectDelay time.Duration
}

// IMAPListener keeps one IDLE connection to the mailbox and ingests new
// mail as it arrives. On any error it disconnects and retries after
// ReconnectDelay, forever, until the context is cancelled.
type IMAPListener struct {
	cfg      IMAPConfig
	ingestor Ingestor

	// session runs one connect-and-listen cycle; swapped in tests
	session func(ctx context.Context) error

	mu    sync.Mutex
	state State
}

func NewIMAPListener(cfg IMAPConfig, ingestor Ingestor) *IMAPListener {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "[Gmail]/All Mail"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 30 * time.Second
	}
	l := &IMAPListener{
		cfg:      cfg,
		ingestor: ingestor,
	}
	l.session = l.listen
	return l
}

func (l *IMAPListener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *IMAPListener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run drives the reconnect loop. It blocks until ctx is cancelled.
func (l *IMAPListener) Run(ctx context.Context) {
	if l.cfg.User == "" || l.cfg.Password == "" {
		log.Printf("[IMAP] IMAP_USER or IMAP_APP_PASSWORD not set, skipping IMAP listener")
		return
	}

	log.Printf("[IMAP] Starting listener for %s...", l.cfg.User)
	for {
		l.setState(StateConnecting)
		err := l.session(ctx)
		l.setState(StateDisconnected)

		if ctx.Err() != nil {
			log.Printf("[IMAP] Listener stopped")
			return
		}

		log.Printf("[IMAP] Connection lost: %v, reconnecting in %s", err, l.cfg.ReconnectDelay)
		select {
		case <-time.After(l.cfg.ReconnectDelay):
		case <-ctx.Done():
			log.Printf("[IMAP] Listener stopped")
			return
		}
	}
}

// listen runs one connection: dial, login, select the mailbox, then IDLE
// until an update arrives or the connection drops. Each mailbox update
// triggers a fetch of the newest message.
func (l *IMAPListener) listen(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer c.Logout()

	if err := c.Login(l.cfg.User, l.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	mbox, err := c.Select(l.cfg.Mailbox, false)
	if err != nil {
		return fmt.Errorf("select %s: %w", l.cfg.Mailbox, err)
	}

	log.Printf("[IMAP] Connected, listening on %s (%d messages)", l.cfg.Mailbox, mbox.Messages)
	l.setState(StateListening)

	updates := make(chan client.Update, 8)
	c.Updates = updates

	for {
		stop := make(chan struct{})
		idleDone := make(chan error, 1)
		go func() {
			idleDone <- c.Idle(stop, nil)
		}()

		var newMail bool
	idleWait:
		for {
			select {
			case update := <-updates:
				if _, ok := update.(*client.MailboxUpdate); ok {
					newMail = true
					close(stop)
					break idleWait
				}
			case err := <-idleDone:
				return fmt.Errorf("idle: %w", err)
			case <-ctx.Done():
				close(stop)
				<-idleDone
				return ctx.Err()
			}
		}

		if err := <-idleDone; err != nil {
			return fmt.Errorf("idle: %w", err)
		}

		if newMail {
			log.Printf("[IMAP] New mail detected")
			if err := l.fetchAndIngestLatest(ctx, c); err != nil {
				log.Printf("[IMAP] Failed to process new mail: %v", err)
			}
		}
	}
}

// fetchAndIngestLatest pulls the highest-sequence message and runs it
// through the pipeline.
func (l *IMAPListener) fetchAndIngestLatest(ctx context.Context, c *client.Client) error {
	mbox := c.Mailbox()
	if mbox == nil || mbox.Messages == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(mbox.Messages)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqset, items, messages)
	}()

	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := ParseMessage(body)
		if err != nil {
			log.Printf("[IMAP] Failed to parse message: %v", err)
			continue
		}
		result, err := l.ingestor.Ingest(ctx, []emaildomain.RawMessage{raw}, l.cfg.User, "")
		if err != nil {
			log.Printf("[IMAP] Failed to ingest message %s: %v", raw.MessageID, err)
			continue
		}
		log.Printf("[IMAP] Processed new email: %s (%d synced)", raw.Subject, result.SyncedCount)
	}

	return <-fetchDone
}
