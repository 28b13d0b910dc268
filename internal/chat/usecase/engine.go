package usecase

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	chatdomain "mailpilot-backend/internal/chat/domain"
	"mailpilot-backend/internal/chat/repository"
	"mailpilot-backend/internal/rag"
	"mailpilot-backend/pkg/apperrors"
	"mailpilot-backend/pkg/openai"
	"mailpilot-backend/pkg/stream"
	"mailpilot-backend/pkg/vectorindex"

	"gorm.io/gorm"
)

const (
	historyLimit          = 15
	memorySummaryMessages = 8
	fallbackAnswer        = "No answer available."

	answerTemperature  = 0.2
	titleTemperature   = 0.3
	titleMaxTokens     = 30
	titleInputMaxChars = 200
	titleMaxChars      = 100
	summaryTemperature = 0.2
	summaryMaxTokens   = 150
	summaryTurnClip    = 500
)

// Retriever is the slice of internal/rag the engine depends on.
type Retriever interface {
	Retrieve(ctx context.Context, question string, opts rag.Options) ([]vectorindex.Match, error)
}

// ChatModel covers the two completion shapes the engine uses.
type ChatModel interface {
	CreateChatCompletionOnce(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (string, error)
	StreamChatCompletion(ctx context.Context, messages []openai.Message, opts openai.ChatOptions, fn func(token string) error) error
}

// Sink receives the stream events of one answer. *stream.Writer satisfies
// it; tests substitute a recorder.
type Sink interface {
	WriteMetadata(citations []stream.Citation, matchCount int) error
	WriteChunk(content string) error
	WriteTitle(title string) error
	WriteDone() error
}

// Engine runs one chat turn end to end: persist the user turn, retrieve,
// stream the answer, persist the assistant turn, then kick off detached
// title and summary tasks.
type Engine struct {
	conversations repository.ConversationRepository
	chats         repository.ChatRepository
	memories      repository.MemoryRepository
	retriever     Retriever
	model         ChatModel
	template      rag.PromptTemplate
	maxTokens     int

	// background waits for detached title/summary goroutines; tests use it
	// to observe their completion.
	background sync.WaitGroup
}

func NewEngine(
	conversations repository.ConversationRepository,
	chats repository.ChatRepository,
	memories repository.MemoryRepository,
	retriever Retriever,
	model ChatModel,
	maxTokens int,
) *Engine {
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &Engine{
		conversations: conversations,
		chats:         chats,
		memories:      memories,
		retriever:     retriever,
		model:         model,
		template:      rag.DefaultPromptTemplate,
		maxTokens:     maxTokens,
	}
}

// Wait blocks until detached title/summary tasks finish.
func (e *Engine) Wait() {
	e.background.Wait()
}

// SendMessage processes one turn. The sink receives metadata first, then
// chunks, then done; the caller owns the terminal error line when this
// returns an error after streaming started.
func (e *Engine) SendMessage(ctx context.Context, userID, conversationID, question string, topK int, sink Sink) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return apperrors.NewValidation("message is required")
	}

	if _, err := e.conversations.FindByIDForUser(conversationID, userID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.NewNotFound("conversation not found")
		}
		return err
	}

	userTurn, isFirstTurn, err := e.chats.AppendTurn(conversationID, userID, chatdomain.RoleUser, question)
	if err != nil {
		return fmt.Errorf("failed to store user turn: %w", err)
	}

	matches, err := e.retriever.Retrieve(ctx, question, rag.Options{TopK: topK})
	if err != nil {
		return err
	}

	if err := sink.WriteMetadata(rag.BuildCitations(matches), len(matches)); err != nil {
		return apperrors.NewStreamInterrupted(err)
	}

	if isFirstTurn {
		e.background.Add(1)
		go func() {
			defer e.background.Done()
			e.inferTitle(conversationID, userID, question, sink)
		}()
	}

	prior, err := e.priorTurns(conversationID, userID, userTurn.Sequence)
	if err != nil {
		log.Printf("[Engine] Failed to load history: %v", err)
		prior = nil
	}

	memorySummary := ""
	if session, memErr := e.memories.Get(conversationID, userID); memErr == nil && session != nil {
		memorySummary = session.Summary
	}

	messages := e.template.BuildMessages(question, rag.BuildContext(matches), memorySummary, prior)

	var answer strings.Builder
	var sinkErr error
	streamErr := e.model.StreamChatCompletion(ctx, messages, openai.ChatOptions{
		Temperature: answerTemperature,
		MaxTokens:   e.maxTokens,
	}, func(token string) error {
		answer.WriteString(token)
		if sinkErr == nil {
			// keep consuming tokens after the consumer disconnects so the
			// full answer is still persisted
			sinkErr = sink.WriteChunk(token)
		}
		return nil
	})

	// The assistant turn persists whatever accumulated, even on failure.
	final := answer.String()
	if final == "" {
		final = fallbackAnswer
	}
	if _, _, err := e.chats.AppendTurn(conversationID, userID, chatdomain.RoleAssistant, final); err != nil {
		log.Printf("[Engine] Failed to store assistant turn: %v", err)
	}
	if err := e.conversations.Touch(conversationID); err != nil {
		log.Printf("[Engine] Failed to touch conversation: %v", err)
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		e.summarize(conversationID, userID)
	}()

	if streamErr != nil {
		return streamErr
	}
	if sinkErr != nil {
		return apperrors.NewStreamInterrupted(sinkErr)
	}
	return sink.WriteDone()
}

// priorTurns returns the last historyLimit turns before the current user
// turn, as model messages.
func (e *Engine) priorTurns(conversationID, userID string, currentSequence int) ([]openai.Message, error) {
	turns, err := e.chats.LastN(conversationID, userID, historyLimit)
	if err != nil {
		return nil, err
	}

	prior := make([]openai.Message, 0, len(turns))
	for _, turn := range turns {
		if turn.Sequence >= currentSequence {
			continue
		}
		role := chatdomain.RoleUser
		if turn.Role == chatdomain.RoleAssistant {
			role = chatdomain.RoleAssistant
		}
		prior = append(prior, openai.Message{Role: role, Content: turn.Message})
	}
	return prior, nil
}

// inferTitle asks the model for a 2-5 word title over the first message and
// persists it. Best effort: failures are logged and the placeholder title
// stays; the title line is pushed to the sink if the stream is still open.
func (e *Engine) inferTitle(conversationID, userID, firstMessage string, sink Sink) {
	clipped := clip(firstMessage, titleInputMaxChars)

	prompt := strings.Join([]string{
		"Create a short, specific conversation title (2-5 words) based on the user's first message below.",
		"Requirements:",
		"- Capture the main topic or intent.",
		"- Use natural, human-like phrasing.",
		"- No quotes, punctuation at the end, or explanations.",
		"- Output title only.",
		"",
		"First message: " + clipped,
	}, "\n")

	title, err := e.model.CreateChatCompletionOnce(context.Background(), []openai.Message{
		{Role: "user", Content: prompt},
	}, openai.ChatOptions{Temperature: titleTemperature, MaxTokens: titleMaxTokens})
	if err != nil {
		log.Printf("[Engine] Title generation failed: %v", err)
		return
	}

	title = strings.Trim(strings.TrimSpace(title), `"'`)
	title = clip(title, titleMaxChars)
	if title == "" {
		return
	}

	if err := e.conversations.UpdateTitle(conversationID, userID, title); err != nil {
		log.Printf("[Engine] Failed to persist title: %v", err)
		return
	}
	if err := sink.WriteTitle(title); err != nil {
		log.Printf("[Engine] Failed to push title update: %v", err)
	}
}

// summarize compresses the last few turns into a 1-2 sentence rolling
// summary. Best effort: failures are logged and the previous summary stays.
func (e *Engine) summarize(conversationID, userID string) {
	turns, err := e.chats.LastN(conversationID, userID, memorySummaryMessages)
	if err != nil || len(turns) == 0 {
		if err != nil {
			log.Printf("[Engine] Failed to load turns for summary: %v", err)
		}
		return
	}

	lines := []string{
		"Summarize this conversation in 1-2 short sentences for context in future turns. Only output the summary, no preamble.",
		"",
	}
	for _, turn := range turns {
		lines = append(lines, turn.Role+": "+clip(turn.Message, summaryTurnClip))
	}

	summary, err := e.model.CreateChatCompletionOnce(context.Background(), []openai.Message{
		{Role: "user", Content: strings.Join(lines, "\n")},
	}, openai.ChatOptions{Temperature: summaryTemperature, MaxTokens: summaryMaxTokens})
	if err != nil {
		log.Printf("[Engine] Summary generation failed: %v", err)
		return
	}

	if err := e.memories.SaveSummary(conversationID, userID, summary); err != nil {
		log.Printf("[Engine] Failed to save summary: %v", err)
	}
}

// clip cuts s to at most max bytes, backing off to a rune boundary so the
// result stays valid UTF-8.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
