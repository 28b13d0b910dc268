package delivery

import (
	"net/http"
	"strconv"
	"strings"

	authdelivery "mailpilot-backend/internal/auth/delivery"
	"mailpilot-backend/internal/email/usecase"
	"mailpilot-backend/pkg/apperrors"
	gmailpkg "mailpilot-backend/pkg/gmail"

	"github.com/gin-gonic/gin"
)

type GmailHandler struct {
	syncUsecase *usecase.SyncUsecase
}

func NewGmailHandler(syncUsecase *usecase.SyncUsecase) *GmailHandler {
	return &GmailHandler{
		syncUsecase: syncUsecase,
	}
}

func buildListOptions(c *gin.Context, defaultMaxResults, defaultMaxTotal int) gmailpkg.ListOptions {
	maxResults := defaultMaxResults
	if parsed, err := strconv.Atoi(c.Query("maxResults")); err == nil && parsed > 0 {
		maxResults = parsed
	}
	if maxResults > 100 {
		maxResults = 100
	}

	maxTotal := defaultMaxTotal
	if parsed, err := strconv.Atoi(c.Query("maxTotal")); err == nil && parsed > 0 {
		maxTotal = parsed
	}

	var labelIDs []string
	for _, id := range strings.Split(c.Query("labelIds"), ",") {
		if id != "" {
			labelIDs = append(labelIDs, id)
		}
	}

	return gmailpkg.ListOptions{
		MaxResults: int64(maxResults),
		FetchAll:   c.Query("all") == "true",
		MaxTotal:   maxTotal,
		LabelIDs:   labelIDs,
		Query:      c.Query("q"),
		PageToken:  c.Query("pageToken"),
	}
}

// SyncMessages pulls messages from Gmail and ingests them into the vector
// index. Responds with the number of vectors upserted and the namespace.
func (h *GmailHandler) SyncMessages(c *gin.Context) {
	userID := authdelivery.UserID(c)
	opts := buildListOptions(c, 25, 200)
	includeAttachments := c.Query("attachments") == "true"

	result, err := h.syncUsecase.Sync(c.Request.Context(), userID, opts, includeAttachments)
	if err != nil {
		c.JSON(apperrors.StatusCode(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetMessages lists metadata-only message summaries.
func (h *GmailHandler) GetMessages(c *gin.Context) {
	userID := authdelivery.UserID(c)
	opts := buildListOptions(c, 20, 200)

	messages, nextPageToken, estimate, err := h.syncUsecase.ListMessages(c.Request.Context(), userID, opts)
	if err != nil {
		c.JSON(apperrors.StatusCode(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":           messages,
		"nextPageToken":      nextPageToken,
		"resultSizeEstimate": estimate,
		"fetchedCount":       len(messages),
	})
}
