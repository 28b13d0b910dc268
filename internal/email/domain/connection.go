package domain

import "time"

const (
	SyncStatusConnected = "connected"
	SyncStatusSyncing   = "syncing"
	SyncStatusError     = "error"
)

// GmailConnection stores the OAuth linkage between a user and the Gmail
// account whose mailbox we index. The refresh token is obtained by an
// external OAuth flow and written here; the service only consumes it.
type GmailConnection struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	UserID             string     `json:"user_id" gorm:"index;not null"`
	GoogleAccountEmail string     `json:"google_account_email" gorm:"not null"`
	RefreshToken       string     `json:"-" gorm:"not null"`
	Scope              string     `json:"scope"`
	SyncStatus         string     `json:"sync_status" gorm:"default:connected"`
	LastSyncedAt       *time.Time `json:"last_synced_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (GmailConnection) TableName() string {
	return "gmail_connections"
}
