package repository

import (
	"time"

	chatdomain "mailpilot-backend/internal/chat/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{
		db: db,
	}
}

func (r *conversationRepository) Create(conversation *chatdomain.Conversation) error {
	now := time.Now()
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.Title == "" {
		conversation.Title = "New chat"
	}
	conversation.CreatedAt = now
	conversation.UpdatedAt = now

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conversation).Error; err != nil {
			return err
		}
		session := &chatdomain.MemorySession{
			ID:             uuid.New().String(),
			ConversationID: conversation.ID,
			UserID:         conversation.UserID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.Create(session).Error
	})
}

func (r *conversationRepository) FindByIDForUser(id, userID string) (*chatdomain.Conversation, error) {
	var conversation chatdomain.Conversation
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) ListByUser(userID string) ([]chatdomain.Conversation, error) {
	var conversations []chatdomain.Conversation
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&conversations).Error
	return conversations, err
}

func (r *conversationRepository) UpdateTitle(id, userID, title string) error {
	result := r.db.Model(&chatdomain.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *conversationRepository) Delete(id, userID string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ? AND user_id = ?", id, userID).Delete(&chatdomain.Chat{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ? AND user_id = ?", id, userID).Delete(&chatdomain.MemorySession{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND user_id = ?", id, userID).Delete(&chatdomain.Conversation{}).Error
	})
}

func (r *conversationRepository) Touch(id string) error {
	return r.db.Model(&chatdomain.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
}
