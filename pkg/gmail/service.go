package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"

	emaildomain "mailpilot-backend/internal/email/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is a callback function that handles token updates
type TokenUpdateFunc = emaildomain.TokenUpdateFunc

// fetchConcurrency bounds parallel messages.get calls per batch
const fetchConcurrency = 10

type Service struct {
	clientID     string
	clientSecret string
}

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.RefreshToken != t.RefreshToken && t.RefreshToken != "" {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

func NewService(clientID, clientSecret string) *Service {
	return &Service{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// GetGmailService creates a Gmail service from a stored refresh token.
func (s *Service) GetGmailService(ctx context.Context, refreshToken string, onTokenRefresh TokenUpdateFunc) (*gmail.Service, error) {
	token := &oauth2.Token{
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
	}

	config := &oauth2.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		Endpoint:     google.Endpoint,
	}

	tokenSource := config.TokenSource(ctx, token)

	// Wrap token source to detect refresh token rotation
	wrappedSource := &notifyTokenSource{
		src:      tokenSource,
		current:  token,
		callback: onTokenRefresh,
	}

	client := oauth2.NewClient(ctx, wrappedSource)

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v", err)
	}

	return srv, nil
}

// ListOptions controls message listing and pagination.
type ListOptions struct {
	MaxResults int64
	FetchAll   bool
	MaxTotal   int
	LabelIDs   []string
	Query      string
	PageToken  string
}

// ListPage is one page (or, when FetchAll is set, the accumulated pages)
// of message references.
type ListPage struct {
	Refs               []emaildomain.MessageRef
	NextPageToken      string
	ResultSizeEstimate int
}

// ListMessageRefs pages users.messages.list. With FetchAll=false it returns
// a single page and its continuation token; with FetchAll=true it follows
// page tokens until they run out or MaxTotal refs are collected.
func (s *Service) ListMessageRefs(srv *gmail.Service, opts ListOptions) (*ListPage, error) {
	user := "me"
	pageToken := opts.PageToken
	all := make([]emaildomain.MessageRef, 0)

	for {
		call := srv.Users.Messages.List(user).MaxResults(opts.MaxResults)
		if opts.Query != "" {
			call = call.Q(opts.Query)
		}
		if len(opts.LabelIDs) > 0 {
			call = call.LabelIds(opts.LabelIDs...)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("unable to list messages: %v", err)
		}

		refs := make([]emaildomain.MessageRef, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			refs = append(refs, emaildomain.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
		}

		if !opts.FetchAll {
			return &ListPage{
				Refs:               refs,
				NextPageToken:      resp.NextPageToken,
				ResultSizeEstimate: int(resp.ResultSizeEstimate),
			}, nil
		}

		all = append(all, refs...)
		pageToken = resp.NextPageToken
		if pageToken == "" || len(all) >= opts.MaxTotal {
			break
		}
	}

	if len(all) > opts.MaxTotal {
		all = all[:opts.MaxTotal]
	}

	return &ListPage{
		Refs:               all,
		ResultSizeEstimate: len(all),
	}, nil
}

// FetchMessages gets full message details for the given refs. Fetches run in
// sub-batches with bounded concurrency; refs that fail to fetch are skipped.
// Result order matches the input order.
func (s *Service) FetchMessages(srv *gmail.Service, refs []emaildomain.MessageRef) ([]emaildomain.RawMessage, error) {
	user := "me"
	results := make([]*emaildomain.RawMessage, len(refs))

	semaphore := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, msgID string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			fullMsg, err := srv.Users.Messages.Get(user, msgID).Format("full").Do()
			if err != nil {
				log.Printf("[Gmail] Failed to fetch message %s: %v", msgID, err)
				return
			}
			raw := convertMessage(fullMsg)
			results[idx] = &raw
		}(i, ref.ID)
	}
	wg.Wait()

	raws := make([]emaildomain.RawMessage, 0, len(refs))
	for _, r := range results {
		if r != nil {
			raws = append(raws, *r)
		}
	}
	return raws, nil
}

// FetchSummaries gets metadata-only details (Subject/From/Date headers plus
// the API snippet) for message listing.
func (s *Service) FetchSummaries(srv *gmail.Service, refs []emaildomain.MessageRef) ([]emaildomain.MessageSummary, error) {
	user := "me"
	results := make([]*emaildomain.MessageSummary, len(refs))

	semaphore := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, msgID string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			msg, err := srv.Users.Messages.Get(user, msgID).
				Format("metadata").
				MetadataHeaders("Subject", "From", "Date").
				Do()
			if err != nil {
				log.Printf("[Gmail] Failed to fetch message metadata %s: %v", msgID, err)
				return
			}

			var headers []*gmail.MessagePartHeader
			if msg.Payload != nil {
				headers = msg.Payload.Headers
			}
			results[idx] = &emaildomain.MessageSummary{
				ID:       msg.Id,
				ThreadID: msg.ThreadId,
				Snippet:  msg.Snippet,
				Subject:  getHeader(headers, "Subject"),
				From:     getHeader(headers, "From"),
				Date:     getHeader(headers, "Date"),
			}
		}(i, ref.ID)
	}
	wg.Wait()

	summaries := make([]emaildomain.MessageSummary, 0, len(refs))
	for _, r := range results {
		if r != nil {
			summaries = append(summaries, *r)
		}
	}
	return summaries, nil
}

// FetchLatestInbox returns the newest INBOX message, used by the push
// notification path.
func (s *Service) FetchLatestInbox(srv *gmail.Service) (*emaildomain.RawMessage, error) {
	page, err := s.ListMessageRefs(srv, ListOptions{MaxResults: 1, LabelIDs: []string{"INBOX"}})
	if err != nil {
		return nil, err
	}
	if len(page.Refs) == 0 {
		return nil, nil
	}

	fullMsg, err := srv.Users.Messages.Get("me", page.Refs[0].ID).Format("full").Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message: %v", err)
	}
	raw := convertMessage(fullMsg)
	return &raw, nil
}

// ListRAGAttachments returns the attachment parts of a message whose MIME
// types we can extract text from.
func (s *Service) ListRAGAttachments(srv *gmail.Service, messageID string, relevant func(mimeType, filename string) bool) ([]emaildomain.AttachmentRef, error) {
	msg, err := srv.Users.Messages.Get("me", messageID).Format("full").Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve message details: %v", err)
	}

	var refs []emaildomain.AttachmentRef
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				if relevant(strings.ToLower(part.MimeType), part.Filename) {
					refs = append(refs, emaildomain.AttachmentRef{
						AttachmentID: part.Body.AttachmentId,
						Filename:     part.Filename,
						MimeType:     strings.ToLower(part.MimeType),
					})
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	if msg.Payload != nil {
		walk(msg.Payload.Parts)
	}
	return refs, nil
}

// GetAttachmentData downloads and decodes an attachment body.
func (s *Service) GetAttachmentData(srv *gmail.Service, messageID, attachmentID string) ([]byte, error) {
	attachPart, err := srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve attachment: %v", err)
	}

	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimRight(attachPart.Data, "="))
	if err != nil {
		return nil, fmt.Errorf("unable to decode attachment data: %v", err)
	}
	return data, nil
}

// Watch sets up push notifications for the mailbox
func (s *Service) Watch(srv *gmail.Service, topicName string) error {
	// Stop any existing watch first to avoid "Only one user push
	// notification client allowed" errors.
	log.Printf("[Gmail] Stopping existing watch...")
	_ = srv.Users.Stop("me").Do()

	req := &gmail.WatchRequest{
		TopicName: topicName,
		LabelIds:  []string{"INBOX"},
	}

	log.Printf("[Gmail] Starting watch on topic: %s", topicName)
	resp, err := srv.Users.Watch("me", req).Do()
	if err != nil {
		log.Printf("[Gmail] Watch API error: %v", err)
		return fmt.Errorf("unable to watch mailbox: %v", err)
	}
	log.Printf("[Gmail] Watch started. Expiration: %d, HistoryId: %d", resp.Expiration, resp.HistoryId)

	return nil
}

// Stop stops push notifications for the mailbox
func (s *Service) Stop(srv *gmail.Service) error {
	if err := srv.Users.Stop("me").Do(); err != nil {
		return fmt.Errorf("unable to stop mailbox watch: %v", err)
	}
	return nil
}

// Helper functions

func convertMessage(msg *gmail.Message) emaildomain.RawMessage {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	messageID := getHeader(headers, "Message-ID")
	if messageID == "" {
		messageID = msg.Id
	}

	return emaildomain.RawMessage{
		MessageID:   messageID,
		ProviderID:  msg.Id,
		InReplyToID: getHeader(headers, "In-Reply-To"),
		Subject:     getHeader(headers, "Subject"),
		From:        getHeader(headers, "From"),
		Date:        getHeader(headers, "Date"),
		Body:        extractBody(msg.Payload),
	}
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, header := range headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

// extractBody prefers text/plain, falls back to text/html, then to the
// payload's own body data.
func extractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}

	if data := findPartByMime(payload, "text/plain"); data != "" {
		return decodeBase64URL(data)
	}
	if data := findPartByMime(payload, "text/html"); data != "" {
		return decodeBase64URL(data)
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBase64URL(payload.Body.Data)
	}
	return ""
}

func findPartByMime(payload *gmail.MessagePart, mimeType string) string {
	if payload.MimeType == mimeType && payload.Body != nil && payload.Body.Data != "" {
		return payload.Body.Data
	}
	for _, part := range payload.Parts {
		if found := findPartByMime(part, mimeType); found != "" {
			return found
		}
	}
	return ""
}

// decodeBase64URL decodes Gmail's base64url payloads, fixing up missing
// padding first.
func decodeBase64URL(data string) string {
	normalized := strings.NewReplacer("-", "+", "_", "/").Replace(data)
	if pad := len(normalized) % 4; pad != 0 {
		normalized += strings.Repeat("=", 4-pad)
	}
	decoded, err := base64.StdEncoding.DecodeString(normalized)
	if err != nil {
		return ""
	}
	return string(decoded)
}
