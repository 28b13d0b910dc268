package repository

import (
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"
)

// GmailConnectionRepository defines storage for per-user Gmail OAuth links.
type GmailConnectionRepository interface {
	// FindLatestByUser returns the most recently updated connection for a user
	FindLatestByUser(userID string) (*emaildomain.GmailConnection, error)
	// FindByAccountEmail resolves a connection by the Gmail account address
	FindByAccountEmail(email string) (*emaildomain.GmailConnection, error)
	// Save creates or updates a connection
	Save(conn *emaildomain.GmailConnection) error
	// UpdateSyncStatus records sync state transitions and the last sync time
	UpdateSyncStatus(id, status string, lastSyncedAt *time.Time) error
}
