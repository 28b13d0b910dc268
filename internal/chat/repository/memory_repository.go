package repository

import (
	"strings"
	"time"
	"unicode/utf8"

	chatdomain "mailpilot-backend/internal/chat/domain"

	"gorm.io/gorm"
)

type memoryRepository struct {
	db *gorm.DB
}

func NewMemoryRepository(db *gorm.DB) MemoryRepository {
	return &memoryRepository{
		db: db,
	}
}

func (r *memoryRepository) Get(conversationID, userID string) (*chatdomain.MemorySession, error) {
	var session chatdomain.MemorySession
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// SaveSummary overwrites the rolling summary. A blank summary is ignored so
// a failed summarization never wipes existing memory.
func (r *memoryRepository) SaveSummary(conversationID, userID, summary string) error {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil
	}
	if len(summary) > chatdomain.MemorySummaryMaxChars {
		cut := chatdomain.MemorySummaryMaxChars
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}
	return r.db.Model(&chatdomain.MemorySession{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{"summary": summary, "updated_at": time.Now()}).Error
}
