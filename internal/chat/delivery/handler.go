package delivery

import (
	"log"
	"net/http"
	"strings"

	authdelivery "mailpilot-backend/internal/auth/delivery"
	chatdomain "mailpilot-backend/internal/chat/domain"
	"mailpilot-backend/internal/chat/repository"
	"mailpilot-backend/internal/chat/usecase"
	"mailpilot-backend/pkg/apperrors"
	"mailpilot-backend/pkg/stream"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ConversationHandler struct {
	conversations repository.ConversationRepository
	chats         repository.ChatRepository
	engine        *usecase.Engine
}

func NewConversationHandler(conversations repository.ConversationRepository, chats repository.ChatRepository, engine *usecase.Engine) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		chats:         chats,
		engine:        engine,
	}
}

func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	userID := authdelivery.UserID(c)

	var body struct {
		Title string `json:"title"`
	}
	_ = c.ShouldBindJSON(&body)

	conversation := &chatdomain.Conversation{
		UserID: userID,
		Title:  strings.TrimSpace(body.Title),
	}
	if err := h.conversations.Create(conversation); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, conversation)
}

func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := authdelivery.UserID(c)

	conversations, err := h.conversations.ListByUser(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if conversations == nil {
		conversations = []chatdomain.Conversation{}
	}

	c.JSON(http.StatusOK, conversations)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID := authdelivery.UserID(c)

	conversation, err := h.conversations.FindByIDForUser(c.Param("id"), userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) UpdateConversationTitle(c *gin.Context) {
	userID := authdelivery.UserID(c)

	var body struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	if err := h.conversations.UpdateTitle(c.Param("id"), userID, strings.TrimSpace(body.Title)); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.conversations.FindByIDForUser(c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	userID := authdelivery.UserID(c)

	if _, err := h.conversations.FindByIDForUser(c.Param("id"), userID); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.conversations.Delete(c.Param("id"), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) GetChats(c *gin.Context) {
	userID := authdelivery.UserID(c)

	if _, err := h.conversations.FindByIDForUser(c.Param("id"), userID); err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	chats, err := h.chats.ListBySequence(c.Param("id"), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if chats == nil {
		chats = []chatdomain.Chat{}
	}

	c.JSON(http.StatusOK, chats)
}

// SendMessage streams the answer over NDJSON. Errors before the first
// stream line go out as plain JSON with a mapped status; errors after
// become a terminal in-stream error line.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	userID := authdelivery.UserID(c)

	var body struct {
		Message  string `json:"message"`
		Question string `json:"question"`
		TopK     int    `json:"topK"`
	}
	_ = c.ShouldBindJSON(&body)

	question := strings.TrimSpace(body.Message)
	if question == "" {
		question = strings.TrimSpace(body.Question)
	}

	// Stream headers are set by the writer on its first line, so errors
	// before any output still go out as plain JSON.
	writer := stream.NewWriter(c.Writer)
	defer writer.Close()

	err := h.engine.SendMessage(c.Request.Context(), userID, c.Param("id"), question, body.TopK, writer)
	if err == nil {
		return
	}

	if !writer.Started() {
		c.JSON(apperrors.StatusCode(err), gin.H{"error": err.Error()})
		return
	}

	if apperrors.IsStreamInterrupted(err) {
		// consumer is gone; nothing left to write
		log.Printf("[Chat] Stream interrupted: %v", err)
		return
	}
	if writeErr := writer.WriteError(err.Error()); writeErr != nil {
		log.Printf("[Chat] Failed to write error line: %v", writeErr)
	}
}
