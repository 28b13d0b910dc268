package main

import (
	"context"
	"log"
	"strings"

	api "mailpilot-backend/cmd/api"
	chatdomain "mailpilot-backend/internal/chat/domain"
	chatRepo "mailpilot-backend/internal/chat/repository"
	chatUsecase "mailpilot-backend/internal/chat/usecase"
	emaildomain "mailpilot-backend/internal/email/domain"
	emailRepo "mailpilot-backend/internal/email/repository"
	emailUsecase "mailpilot-backend/internal/email/usecase"
	"mailpilot-backend/internal/listener"
	"mailpilot-backend/internal/rag"
	"mailpilot-backend/pkg/config"
	"mailpilot-backend/pkg/database"
	"mailpilot-backend/pkg/docproc"
	"mailpilot-backend/pkg/gmail"
	"mailpilot-backend/pkg/openai"
	"mailpilot-backend/pkg/vectorindex"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&emaildomain.GmailConnection{}, &chatdomain.Conversation{}, &chatdomain.Chat{}, &chatdomain.MemorySession{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	connectionRepo := emailRepo.NewGmailConnectionRepository(db)
	conversationRepo := chatRepo.NewConversationRepository(db)
	chatRepository := chatRepo.NewChatRepository(db)
	memoryRepo := chatRepo.NewMemoryRepository(db)

	// Initialize OpenAI client (embeddings + chat completions)
	openaiClient := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIEmbeddingModel, cfg.OpenAIChatModel).
		WithRetry(3, cfg.EmbedRetryBaseDelay)

	// Initialize Chroma vector index
	index, err := vectorindex.NewChromaIndex(cfg)
	if err != nil {
		log.Fatal("Failed to initialize Chroma index:", err)
	}

	// Initialize ingestion pipeline and Gmail service
	pipeline := emailUsecase.NewPipeline(openaiClient, index, docproc.TextExtractor{}, cfg.VectorNamespace)
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Initialize IMAP listener for real-time ingestion
	imapListener := listener.NewIMAPListener(listener.IMAPConfig{
		User:           cfg.IMAPUser,
		Password:       cfg.IMAPAppPassword,
		Host:           cfg.IMAPHost,
		Port:           cfg.IMAPPort,
		Mailbox:        cfg.IMAPMailbox,
		ReconnectDelay: cfg.IMAPReconnectDelay,
	}, pipeline)
	go imapListener.Run(context.Background())

	// Initialize Pub/Sub notification service
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		if topicName == "" {
			topicName = "gmail-updates"
		}

		notifService, err := listener.NewNotificationService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, gmailService, connectionRepo, pipeline)
		if err != nil {
			log.Printf("[PubSub] Failed to initialize notification service: %v", err)
		} else {
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[PubSub] GoogleProjectID not configured, notification service disabled")
	}

	// Initialize use cases (dependency injection)
	syncUsecase := emailUsecase.NewSyncUsecase(gmailService, connectionRepo, pipeline)
	retriever := rag.NewRetriever(openaiClient, index, cfg.VectorNamespace)
	engine := chatUsecase.NewEngine(conversationRepo, chatRepository, memoryRepo, retriever, openaiClient, cfg.OpenAIChatMaxTokens)

	// Initialize HTTP handler
	handler := api.NewHandler(cfg, syncUsecase, conversationRepo, chatRepository, engine)

	// Start server
	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
