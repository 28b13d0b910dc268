package api

import (
	chatDelivery "mailpilot-backend/internal/chat/delivery"
	chatRepo "mailpilot-backend/internal/chat/repository"
	chatUsecase "mailpilot-backend/internal/chat/usecase"
	emailDelivery "mailpilot-backend/internal/email/delivery"
	emailUsecase "mailpilot-backend/internal/email/usecase"
	"mailpilot-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	config              *config.Config
	gmailHandler        *emailDelivery.GmailHandler
	conversationHandler *chatDelivery.ConversationHandler
}

func NewHandler(cfg *config.Config, syncUc *emailUsecase.SyncUsecase, conversations chatRepo.ConversationRepository, chats chatRepo.ChatRepository, engine *chatUsecase.Engine) *Handler {
	return &Handler{
		config:              cfg,
		gmailHandler:        emailDelivery.NewGmailHandler(syncUc),
		conversationHandler: chatDelivery.NewConversationHandler(conversations, chats, engine),
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Setup routes
	SetupRoutes(r, h.config, h.gmailHandler, h.conversationHandler)

	return r.Run(addr)
}
