package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	emaildomain "mailpilot-backend/internal/email/domain"
	emailrepo "mailpilot-backend/internal/email/repository"
	gmailpkg "mailpilot-backend/pkg/gmail"

	"cloud.google.com/go/pubsub"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on watch events.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// NotificationService subscribes to the Gmail watch topic and ingests the
// newest INBOX message whenever a notification arrives. Notifications are
// deduplicated per mailbox by historyId.
type NotificationService struct {
	pubsubClient *pubsub.Client
	gmailService *gmailpkg.Service
	connections  emailrepo.GmailConnectionRepository
	ingestor     Ingestor
	topicName    string
	subName      string

	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewNotificationService(projectID, topicName, credentialsFile string, gmailService *gmailpkg.Service, connections emailrepo.GmailConnectionRepository, ingestor Ingestor) (*NotificationService, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &NotificationService{
		pubsubClient:  client,
		gmailService:  gmailService,
		connections:   connections,
		ingestor:      ingestor,
		topicName:     topicName,
		subName:       topicName + "-sub",
		lastHistoryID: make(map[string]uint64),
	}, nil
}

// Start ensures the subscription exists and blocks receiving messages until
// ctx is cancelled.
func (s *NotificationService) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic %s does not exist, cannot create subscription", s.topicName)
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

// isDuplicate records the historyId and reports whether it was already seen.
func (s *NotificationService) isDuplicate(emailAddress string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[emailAddress]; ok && historyID <= last {
		return true
	}
	s.lastHistoryID[emailAddress] = historyID
	return false
}

func (s *NotificationService) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	log.Printf("[PubSub] Notification for %s (historyId: %d)", notification.EmailAddress, notification.HistoryID)

	if s.isDuplicate(notification.EmailAddress, notification.HistoryID) {
		log.Printf("[PubSub] Skipping duplicate notification for %s (historyId %d)", notification.EmailAddress, notification.HistoryID)
		return
	}

	conn, err := s.connections.FindByAccountEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] No connection found for %s: %v", notification.EmailAddress, err)
		return
	}

	onTokenRefresh := func(token *oauth2.Token) error {
		conn.RefreshToken = token.RefreshToken
		return s.connections.Save(conn)
	}

	srv, err := s.gmailService.GetGmailService(ctx, conn.RefreshToken, onTokenRefresh)
	if err != nil {
		log.Printf("[PubSub] Failed to create Gmail client for %s: %v", notification.EmailAddress, err)
		return
	}

	raw, err := s.gmailService.FetchLatestInbox(srv)
	if err != nil {
		log.Printf("[PubSub] Failed to fetch latest message for %s: %v", notification.EmailAddress, err)
		return
	}
	if raw == nil {
		return
	}

	result, err := s.ingestor.Ingest(ctx, []emaildomain.RawMessage{*raw}, conn.GoogleAccountEmail, "")
	if err != nil {
		log.Printf("[PubSub] Failed to ingest message %s: %v", raw.MessageID, err)
		return
	}
	log.Printf("[PubSub] Ingested new email: %s (%d synced)", raw.Subject, result.SyncedCount)
}
