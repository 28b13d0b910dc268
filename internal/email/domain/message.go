package domain

import "golang.org/x/oauth2"

// TokenUpdateFunc is invoked when the oauth token source refreshes the
// access token, so the caller can persist the new token.
type TokenUpdateFunc func(token *oauth2.Token) error

const (
	DocTypeEmail      = "email"
	DocTypeAttachment = "attachment"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// RawMessage is a mail message reduced to the fields the ingestion pipeline
// needs, regardless of whether it arrived via the Gmail API or IMAP.
type RawMessage struct {
	// MessageID is the RFC 2822 Message-ID header when present, otherwise
	// the provider's message id.
	MessageID string
	// ProviderID is the Gmail API message id, needed for follow-up API
	// calls such as attachment downloads. Empty for IMAP-sourced messages.
	ProviderID  string
	InReplyToID string
	Subject     string
	From        string
	Date        string
	Body        string
}

// MessageRef is a lightweight list entry returned by the Gmail list API.
type MessageRef struct {
	ID       string
	ThreadID string
}

// MessageSummary is the metadata-only view served by the message listing
// endpoint.
type MessageSummary struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Snippet  string `json:"snippet"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Date     string `json:"date"`
}

// AttachmentRef identifies an attachment part within a message.
type AttachmentRef struct {
	AttachmentID string
	Filename     string
	MimeType     string
}

// SyncResult reports how many vectors a sync run upserted and into which
// namespace.
type SyncResult struct {
	SyncedCount            int    `json:"syncedCount"`
	AttachmentChunksSynced int    `json:"attachmentChunksSynced,omitempty"`
	Namespace              string `json:"namespace"`
}
