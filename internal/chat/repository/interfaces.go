package repository

import (
	chatdomain "mailpilot-backend/internal/chat/domain"
)

// ConversationRepository defines conversation storage.
type ConversationRepository interface {
	// Create stores a conversation and its memory session in one transaction
	Create(conversation *chatdomain.Conversation) error
	// FindByIDForUser returns the conversation only if it belongs to the user
	FindByIDForUser(id, userID string) (*chatdomain.Conversation, error)
	// ListByUser returns the user's conversations, most recently updated first
	ListByUser(userID string) ([]chatdomain.Conversation, error)
	// UpdateTitle sets the title; returns gorm.ErrRecordNotFound when the
	// conversation does not belong to the user
	UpdateTitle(id, userID, title string) error
	// Delete removes the conversation, its chats and its memory session in
	// one transaction
	Delete(id, userID string) error
	// Touch bumps updated_at so listing order follows activity
	Touch(id string) error
}

// ChatRepository defines turn storage with atomic sequence assignment.
type ChatRepository interface {
	// AppendTurn inserts a turn at sequence max+1 inside a transaction that
	// locks the conversation's rows. Returns the stored turn and whether it
	// is the first turn of the conversation.
	AppendTurn(conversationID, userID, role, message string) (*chatdomain.Chat, bool, error)
	// ListBySequence returns all turns ordered by sequence ascending
	ListBySequence(conversationID, userID string) ([]chatdomain.Chat, error)
	// LastN returns the most recent n turns, still in ascending order
	LastN(conversationID, userID string, n int) ([]chatdomain.Chat, error)
}

// MemoryRepository defines rolling summary storage.
type MemoryRepository interface {
	// Get returns the memory session for a conversation, or nil when absent
	Get(conversationID, userID string) (*chatdomain.MemorySession, error)
	// SaveSummary overwrites the summary, capped at MemorySummaryMaxChars
	SaveSummary(conversationID, userID, summary string) error
}
