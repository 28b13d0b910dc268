package repository

import (
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gmailConnectionRepository struct {
	db *gorm.DB
}

func NewGmailConnectionRepository(db *gorm.DB) GmailConnectionRepository {
	return &gmailConnectionRepository{
		db: db,
	}
}

func (r *gmailConnectionRepository) FindLatestByUser(userID string) (*emaildomain.GmailConnection, error) {
	var conn emaildomain.GmailConnection
	err := r.db.Where("user_id = ?", userID).Order("updated_at DESC").First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *gmailConnectionRepository) FindByAccountEmail(email string) (*emaildomain.GmailConnection, error) {
	var conn emaildomain.GmailConnection
	err := r.db.Where("LOWER(google_account_email) = LOWER(?)", email).Order("updated_at DESC").First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *gmailConnectionRepository) Save(conn *emaildomain.GmailConnection) error {
	now := time.Now()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now
	return r.db.Save(conn).Error
}

func (r *gmailConnectionRepository) UpdateSyncStatus(id, status string, lastSyncedAt *time.Time) error {
	updates := map[string]interface{}{
		"sync_status": status,
		"updated_at":  time.Now(),
	}
	if lastSyncedAt != nil {
		updates["last_synced_at"] = lastSyncedAt
	}
	return r.db.Model(&emaildomain.GmailConnection{}).Where("id = ?", id).Updates(updates).Error
}
