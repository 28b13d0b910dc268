package repository

import (
	"time"

	chatdomain "mailpilot-backend/internal/chat/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type chatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{
		db: db,
	}
}

// AppendTurn assigns sequence max+1 under a row lock so concurrent sends on
// the same conversation cannot allocate duplicate sequence numbers.
func (r *chatRepository) AppendTurn(conversationID, userID, role, message string) (*chatdomain.Chat, bool, error) {
	chat := &chatdomain.Chat{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Message:        message,
		CreatedAt:      time.Now(),
	}

	var isFirstTurn bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var last chatdomain.Chat
		maxSeq := 0
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Order("sequence DESC").
			First(&last).Error
		if err == nil {
			maxSeq = last.Sequence
		} else if err != gorm.ErrRecordNotFound {
			return err
		}

		chat.Sequence = maxSeq + 1
		isFirstTurn = maxSeq == 0
		return tx.Create(chat).Error
	})
	if err != nil {
		return nil, false, err
	}
	return chat, isFirstTurn, nil
}

func (r *chatRepository) ListBySequence(conversationID, userID string) ([]chatdomain.Chat, error) {
	var chats []chatdomain.Chat
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("sequence ASC").
		Find(&chats).Error
	return chats, err
}

func (r *chatRepository) LastN(conversationID, userID string, n int) ([]chatdomain.Chat, error) {
	var chats []chatdomain.Chat
	err := r.db.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Order("sequence DESC").
		Limit(n).
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	// flip back to ascending
	for i, j := 0, len(chats)-1; i < j; i, j = i+1, j-1 {
		chats[i], chats[j] = chats[j], chats[i]
	}
	return chats, nil
}
