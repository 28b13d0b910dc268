package usecase

import (
	"context"
	"log"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/internal/email/repository"
	"mailpilot-backend/pkg/apperrors"
	"mailpilot-backend/pkg/docproc"
	gmailpkg "mailpilot-backend/pkg/gmail"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"gorm.io/gorm"
)

// SyncUsecase drives the bulk sync path: resolve the user's Gmail
// connection, pull messages through the API adapter and hand them to the
// ingestion pipeline.
type SyncUsecase struct {
	gmail       *gmailpkg.Service
	connections repository.GmailConnectionRepository
	pipeline    *Pipeline
}

func NewSyncUsecase(gmail *gmailpkg.Service, connections repository.GmailConnectionRepository, pipeline *Pipeline) *SyncUsecase {
	return &SyncUsecase{
		gmail:       gmail,
		connections: connections,
		pipeline:    pipeline,
	}
}

func (u *SyncUsecase) connectionFor(userID string) (*emaildomain.GmailConnection, error) {
	conn, err := u.connections.FindLatestByUser(userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFound("no Gmail connection found")
		}
		return nil, err
	}
	return conn, nil
}

func (u *SyncUsecase) tokenUpdater(conn *emaildomain.GmailConnection) emaildomain.TokenUpdateFunc {
	return func(token *oauth2.Token) error {
		conn.RefreshToken = token.RefreshToken
		return u.connections.Save(conn)
	}
}

// Sync lists, fetches and ingests messages per the given list options.
// When includeAttachments is set, document attachments of each fetched
// message are extracted and ingested as well.
func (u *SyncUsecase) Sync(ctx context.Context, userID string, opts gmailpkg.ListOptions, includeAttachments bool) (emaildomain.SyncResult, error) {
	conn, err := u.connectionFor(userID)
	if err != nil {
		return emaildomain.SyncResult{}, err
	}

	srv, err := u.gmail.GetGmailService(ctx, conn.RefreshToken, u.tokenUpdater(conn))
	if err != nil {
		return emaildomain.SyncResult{}, err
	}

	if err := u.connections.UpdateSyncStatus(conn.ID, emaildomain.SyncStatusSyncing, nil); err != nil {
		log.Printf("[Sync] Failed to mark connection syncing: %v", err)
	}

	result, err := u.syncMessages(ctx, srv, conn, opts, includeAttachments)

	status := emaildomain.SyncStatusConnected
	if err != nil {
		status = emaildomain.SyncStatusError
	}
	now := time.Now()
	if statusErr := u.connections.UpdateSyncStatus(conn.ID, status, &now); statusErr != nil {
		log.Printf("[Sync] Failed to update sync status: %v", statusErr)
	}

	return result, err
}

func (u *SyncUsecase) syncMessages(ctx context.Context, srv *gmail.Service, conn *emaildomain.GmailConnection, opts gmailpkg.ListOptions, includeAttachments bool) (emaildomain.SyncResult, error) {
	page, err := u.gmail.ListMessageRefs(srv, opts)
	if err != nil {
		return emaildomain.SyncResult{}, err
	}

	raws, err := u.gmail.FetchMessages(srv, page.Refs)
	if err != nil {
		return emaildomain.SyncResult{}, err
	}

	result, err := u.pipeline.Ingest(ctx, raws, conn.GoogleAccountEmail, "")
	if err != nil {
		return result, err
	}

	if includeAttachments {
		for _, raw := range raws {
			synced, attErr := u.syncAttachments(ctx, srv, raw, conn.GoogleAccountEmail)
			if attErr != nil {
				log.Printf("[Sync] Attachment sync failed for %s: %v", raw.MessageID, attErr)
				continue
			}
			result.AttachmentChunksSynced += synced
		}
	}

	return result, nil
}

func (u *SyncUsecase) syncAttachments(ctx context.Context, srv *gmail.Service, raw emaildomain.RawMessage, mailboxEmail string) (int, error) {
	if raw.ProviderID == "" {
		return 0, nil
	}

	refs, err := u.gmail.ListRAGAttachments(srv, raw.ProviderID, func(mimeType, filename string) bool {
		return docproc.IsRAGRelevant(mimeType)
	})
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	atts := make([]Attachment, 0, len(refs))
	for _, ref := range refs {
		data, err := u.gmail.GetAttachmentData(srv, raw.ProviderID, ref.AttachmentID)
		if err != nil {
			log.Printf("[Sync] Failed to download attachment %s: %v", ref.Filename, err)
			continue
		}
		atts = append(atts, Attachment{
			AttachmentID: ref.AttachmentID,
			Filename:     ref.Filename,
			MimeType:     ref.MimeType,
			Data:         data,
		})
	}

	return u.pipeline.IngestAttachments(ctx, raw, atts, mailboxEmail, "")
}

// ListMessages serves the metadata-only message listing.
func (u *SyncUsecase) ListMessages(ctx context.Context, userID string, opts gmailpkg.ListOptions) ([]emaildomain.MessageSummary, string, int, error) {
	conn, err := u.connectionFor(userID)
	if err != nil {
		return nil, "", 0, err
	}

	srv, err := u.gmail.GetGmailService(ctx, conn.RefreshToken, u.tokenUpdater(conn))
	if err != nil {
		return nil, "", 0, err
	}

	page, err := u.gmail.ListMessageRefs(srv, opts)
	if err != nil {
		return nil, "", 0, err
	}

	summaries, err := u.gmail.FetchSummaries(srv, page.Refs)
	if err != nil {
		return nil, "", 0, err
	}

	return summaries, page.NextPageToken, page.ResultSizeEstimate, nil
}
