package domain

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MemorySummaryMaxChars caps the rolling conversation summary.
const MemorySummaryMaxChars = 2000

type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Title     string    `json:"title" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Chat is one turn in a conversation. Sequence is assigned transactionally
// so user and assistant turns interleave without gaps or duplicates.
type Chat struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"index:idx_conversation_sequence;not null"`
	UserID         string    `json:"user_id" gorm:"index;not null"`
	Role           string    `json:"role" gorm:"not null"`
	Message        string    `json:"message" gorm:"not null"`
	Sequence       int       `json:"sequence" gorm:"index:idx_conversation_sequence;not null"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Chat) TableName() string {
	return "chats"
}

// MemorySession holds the rolling summary carried between turns.
type MemorySession struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"index;not null"`
	UserID         string    `json:"user_id" gorm:"index;not null"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (MemorySession) TableName() string {
	return "memory_sessions"
}
