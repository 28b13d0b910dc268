package api

import (
	"net/http"

	authDelivery "mailpilot-backend/internal/auth/delivery"
	chatDelivery "mailpilot-backend/internal/chat/delivery"
	emailDelivery "mailpilot-backend/internal/email/delivery"
	"mailpilot-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config, gmailHandler *emailDelivery.GmailHandler, conversationHandler *chatDelivery.ConversationHandler) {
	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Gmail routes (protected)
		gmail := api.Group("/gmail")
		gmail.Use(authDelivery.AuthMiddleware(cfg.JWTSecret))
		{
			gmail.POST("/sync", gmailHandler.SyncMessages)
			gmail.GET("/messages", gmailHandler.GetMessages)
		}

		// Conversation routes (protected)
		conversations := api.Group("/conversations")
		conversations.Use(authDelivery.AuthMiddleware(cfg.JWTSecret))
		{
			conversations.POST("", conversationHandler.CreateConversation)
			conversations.GET("", conversationHandler.ListConversations)
			conversations.GET("/:id", conversationHandler.GetConversation)
			conversations.PUT("/:id", conversationHandler.UpdateConversationTitle)
			conversations.DELETE("/:id", conversationHandler.DeleteConversation)
			conversations.GET("/:id/chats", conversationHandler.GetChats)
			conversations.POST("/:id/messages", conversationHandler.SendMessage)
		}
	}
}
