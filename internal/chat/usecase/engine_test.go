package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	chatdomain "mailpilot-backend/internal/chat/domain"
	"mailpilot-backend/internal/rag"
	"mailpilot-backend/pkg/apperrors"
	"mailpilot-backend/pkg/openai"
	"mailpilot-backend/pkg/stream"
	"mailpilot-backend/pkg/vectorindex"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// in-memory repositories

type memConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]*chatdomain.Conversation
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{conversations: make(map[string]*chatdomain.Conversation)}
}

func (r *memConversationRepo) Create(c *chatdomain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	r.conversations[c.ID] = c
	return nil
}

func (r *memConversationRepo) FindByIDForUser(id, userID string) (*chatdomain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return c, nil
}

func (r *memConversationRepo) ListByUser(userID string) ([]chatdomain.Conversation, error) {
	return nil, nil
}

func (r *memConversationRepo) UpdateTitle(id, userID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok || c.UserID != userID {
		return gorm.ErrRecordNotFound
	}
	c.Title = title
	return nil
}

func (r *memConversationRepo) Delete(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
	return nil
}

func (r *memConversationRepo) Touch(id string) error { return nil }

type memChatRepo struct {
	mu    sync.Mutex
	turns map[string][]chatdomain.Chat
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{turns: make(map[string][]chatdomain.Chat)}
}

func (r *memChatRepo) AppendTurn(conversationID, userID, role, message string) (*chatdomain.Chat, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := len(r.turns[conversationID]) + 1
	chat := chatdomain.Chat{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Message:        message,
		Sequence:       seq,
	}
	r.turns[conversationID] = append(r.turns[conversationID], chat)
	return &chat, seq == 1, nil
}

func (r *memChatRepo) ListBySequence(conversationID, userID string) ([]chatdomain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chatdomain.Chat, len(r.turns[conversationID]))
	copy(out, r.turns[conversationID])
	return out, nil
}

func (r *memChatRepo) LastN(conversationID, userID string, n int) ([]chatdomain.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	turns := r.turns[conversationID]
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]chatdomain.Chat, len(turns))
	copy(out, turns)
	return out, nil
}

type memMemoryRepo struct {
	mu        sync.Mutex
	summaries map[string]string
}

func newMemMemoryRepo() *memMemoryRepo {
	return &memMemoryRepo{summaries: make(map[string]string)}
}

func (r *memMemoryRepo) Get(conversationID, userID string) (*chatdomain.MemorySession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &chatdomain.MemorySession{ConversationID: conversationID, UserID: userID, Summary: r.summaries[conversationID]}, nil
}

func (r *memMemoryRepo) SaveSummary(conversationID, userID, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.TrimSpace(summary) == "" {
		return nil
	}
	if len(summary) > chatdomain.MemorySummaryMaxChars {
		summary = summary[:chatdomain.MemorySummaryMaxChars]
	}
	r.summaries[conversationID] = summary
	return nil
}

// model and retriever fakes

type fakeRetriever struct {
	matches []vectorindex.Match
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, opts rag.Options) ([]vectorindex.Match, error) {
	return f.matches, nil
}

type fakeModel struct {
	mu             sync.Mutex
	tokens         []string
	streamErr      error
	titleAnswer    string
	summaryAnswers []string // consumed per summary call
	onceErr        error
	titleCalls     int
	summaryCalls   int
}

func (f *fakeModel) CreateChatCompletionOnce(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onceErr != nil {
		return "", f.onceErr
	}
	prompt := messages[len(messages)-1].Content
	if strings.Contains(prompt, "conversation title") {
		f.titleCalls++
		if f.titleAnswer != "" {
			return f.titleAnswer, nil
		}
		return "stub title", nil
	}
	f.summaryCalls++
	if len(f.summaryAnswers) == 0 {
		return "stub summary", nil
	}
	answer := f.summaryAnswers[0]
	f.summaryAnswers = f.summaryAnswers[1:]
	return answer, nil
}

func (f *fakeModel) StreamChatCompletion(ctx context.Context, messages []openai.Message, opts openai.ChatOptions, fn func(token string) error) error {
	for _, token := range f.tokens {
		if err := fn(token); err != nil {
			return err
		}
	}
	return f.streamErr
}

// recording sink

type recordedEvent struct {
	kind    string
	content string
}

type recordingSink struct {
	mu      sync.Mutex
	events  []recordedEvent
	failAt  string // event kind that starts failing
	started bool
}

func (s *recordingSink) record(kind, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt != "" && kind == s.failAt {
		return errors.New("consumer disconnected")
	}
	s.events = append(s.events, recordedEvent{kind: kind, content: content})
	return nil
}

func (s *recordingSink) WriteMetadata(citations []stream.Citation, matchCount int) error {
	return s.record("metadata", "")
}

func (s *recordingSink) WriteChunk(content string) error { return s.record("chunk", content) }
func (s *recordingSink) WriteTitle(title string) error   { return s.record("title", title) }
func (s *recordingSink) WriteDone() error                { return s.record("done", "") }

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.kind
	}
	return out
}

func (s *recordingSink) chunkText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, e := range s.events {
		if e.kind == "chunk" {
			b.WriteString(e.content)
		}
	}
	return b.String()
}

// helpers

type engineFixture struct {
	engine        *Engine
	conversations *memConversationRepo
	chats         *memChatRepo
	memories      *memMemoryRepo
	model         *fakeModel
	convID        string
}

func newEngineFixture(t *testing.T, model *fakeModel) *engineFixture {
	t.Helper()
	conversations := newMemConversationRepo()
	chats := newMemChatRepo()
	memories := newMemMemoryRepo()

	conv := &chatdomain.Conversation{UserID: "user-1", Title: "New chat"}
	require.NoError(t, conversations.Create(conv))

	engine := NewEngine(conversations, chats, memories, &fakeRetriever{}, model, 500)
	return &engineFixture{
		engine:        engine,
		conversations: conversations,
		chats:         chats,
		memories:      memories,
		model:         model,
		convID:        conv.ID,
	}
}

// tests

func TestSendMessageRejectsEmptyQuestion(t *testing.T) {
	f := newEngineFixture(t, &fakeModel{})
	sink := &recordingSink{}

	err := f.engine.SendMessage(context.Background(), "user-1", f.convID, "   ", 0, sink)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Empty(t, sink.events, "no stream output before validation")
	turns, _ := f.chats.ListBySequence(f.convID, "user-1")
	assert.Empty(t, turns, "no side effects before validation")
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newEngineFixture(t, &fakeModel{})

	err := f.engine.SendMessage(context.Background(), "user-1", "missing", "hello", 0, &recordingSink{})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestSendMessageOtherUsersConversation(t *testing.T) {
	f := newEngineFixture(t, &fakeModel{})

	err := f.engine.SendMessage(context.Background(), "intruder", f.convID, "hello", 0, &recordingSink{})

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestSendMessageStreamContract(t *testing.T) {
	model := &fakeModel{tokens: []string{"Hel", "lo ", "there"}}
	f := newEngineFixture(t, model)
	sink := &recordingSink{}

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "greet me", 0, sink))
	f.engine.Wait()

	kinds := sink.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, "metadata", kinds[0], "metadata is always the first line")
	assert.Equal(t, "Hel" + "lo " + "there", sink.chunkText())

	doneSeen := false
	for _, k := range kinds {
		if k == "done" {
			doneSeen = true
		} else {
			assert.False(t, doneSeen, "no events after done except none")
		}
	}
	assert.True(t, doneSeen)

	turns, _ := f.chats.ListBySequence(f.convID, "user-1")
	require.Len(t, turns, 2)
	assert.Equal(t, sink.chunkText(), turns[1].Message, "persisted answer equals streamed chunks")
}

func TestSendMessageSequenceIntegrity(t *testing.T) {
	model := &fakeModel{tokens: []string{"answer"}}
	f := newEngineFixture(t, model)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "question", 0, &recordingSink{}))
	}
	f.engine.Wait()

	turns, _ := f.chats.ListBySequence(f.convID, "user-1")
	require.Len(t, turns, 6)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Sequence)
		if i%2 == 0 {
			assert.Equal(t, chatdomain.RoleUser, turn.Role)
		} else {
			assert.Equal(t, chatdomain.RoleAssistant, turn.Role)
		}
	}
}

func TestSendMessageFallbackAnswer(t *testing.T) {
	model := &fakeModel{} // streams zero tokens
	f := newEngineFixture(t, model)

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "question", 0, &recordingSink{}))
	f.engine.Wait()

	turns, _ := f.chats.ListBySequence(f.convID, "user-1")
	require.Len(t, turns, 2)
	assert.Equal(t, "No answer available.", turns[1].Message)
}

func TestSendMessageTitleOnFirstTurnOnly(t *testing.T) {
	model := &fakeModel{tokens: []string{"answer"}, titleAnswer: `"Trip Planning"`}
	f := newEngineFixture(t, model)
	sink := &recordingSink{}

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "plan my trip", 0, sink))
	f.engine.Wait()

	conv, err := f.conversations.FindByIDForUser(f.convID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning", conv.Title, "title persisted with quotes stripped")

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "second question", 0, &recordingSink{}))
	f.engine.Wait()

	assert.Equal(t, 1, model.titleCalls, "title inferred on the first turn only")
	assert.Equal(t, 2, model.summaryCalls, "summary runs every turn")
}

func TestSendMessageTitleClipStaysValidUTF8(t *testing.T) {
	// 3-byte runes put the 100-byte title cap mid-rune.
	model := &fakeModel{tokens: []string{"answer"}, titleAnswer: strings.Repeat("世", 40)}
	f := newEngineFixture(t, model)

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "question", 0, &recordingSink{}))
	f.engine.Wait()

	conv, err := f.conversations.FindByIDForUser(f.convID, "user-1")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(conv.Title))
	assert.LessOrEqual(t, len(conv.Title), 100)
}

func TestSendMessageTitleFailureIsSwallowed(t *testing.T) {
	model := &fakeModel{tokens: []string{"answer"}, onceErr: errors.New("model down")}
	f := newEngineFixture(t, model)

	err := f.engine.SendMessage(context.Background(), "user-1", f.convID, "question", 0, &recordingSink{})
	f.engine.Wait()

	require.NoError(t, err, "background failures never fail the turn")
	conv, _ := f.conversations.FindByIDForUser(f.convID, "user-1")
	assert.Equal(t, "New chat", conv.Title, "placeholder title stays")
}

func TestSendMessageSummaryOverwrites(t *testing.T) {
	model := &fakeModel{tokens: []string{"answer"}, summaryAnswers: []string{"first summary", "second summary"}}
	f := newEngineFixture(t, model)

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "q1", 0, &recordingSink{}))
	f.engine.Wait()
	assert.Equal(t, "first summary", f.memories.summaries[f.convID])

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "q2", 0, &recordingSink{}))
	f.engine.Wait()
	assert.Equal(t, "second summary", f.memories.summaries[f.convID], "summary is overwritten, not appended")
}

func TestSendMessagePersistsOnConsumerDisconnect(t *testing.T) {
	model := &fakeModel{tokens: []string{"part1 ", "part2"}}
	f := newEngineFixture(t, model)
	sink := &recordingSink{failAt: "chunk"}

	err := f.engine.SendMessage(context.Background(), "user-1", f.convID, "question", 0, sink)
	f.engine.Wait()

	require.Error(t, err)
	assert.True(t, apperrors.IsStreamInterrupted(err))

	turns, _ := f.chats.ListBySequence(f.convID, "user-1")
	require.Len(t, turns, 2)
	assert.Equal(t, "part1 part2", turns[1].Message, "full answer persisted despite disconnect")
}

func TestSendMessageHistoryFeedsModelNotRetriever(t *testing.T) {
	var streamedMessages []openai.Message
	model := &fakeModel{tokens: []string{"answer"}}
	f := newEngineFixture(t, model)

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "first question", 0, &recordingSink{}))
	f.engine.Wait()

	// capture the second request's messages via a wrapper
	wrapped := &capturingModel{inner: model, capture: &streamedMessages}
	f.engine.model = wrapped

	require.NoError(t, f.engine.SendMessage(context.Background(), "user-1", f.convID, "second question", 0, &recordingSink{}))
	f.engine.Wait()

	require.NotEmpty(t, streamedMessages)
	assert.Equal(t, "system", streamedMessages[0].Role)
	var priorContents []string
	for _, m := range streamedMessages[1 : len(streamedMessages)-1] {
		priorContents = append(priorContents, m.Content)
	}
	assert.Contains(t, priorContents, "first question", "prior turns reach the model")
	assert.Contains(t, streamedMessages[len(streamedMessages)-1].Content, "second question")
}

type capturingModel struct {
	inner   *fakeModel
	capture *[]openai.Message
}

func (c *capturingModel) CreateChatCompletionOnce(ctx context.Context, messages []openai.Message, opts openai.ChatOptions) (string, error) {
	return c.inner.CreateChatCompletionOnce(ctx, messages, opts)
}

func (c *capturingModel) StreamChatCompletion(ctx context.Context, messages []openai.Message, opts openai.ChatOptions, fn func(token string) error) error {
	*c.capture = append([]openai.Message{}, messages...)
	return c.inner.StreamChatCompletion(ctx, messages, opts, fn)
}
