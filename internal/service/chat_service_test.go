package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"lex-assist-go/internal/model"
	"lex-assist-go/pkg/llm"
	"lex-assist-go/pkg/log"
	"lex-assist-go/pkg/tasks"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	os.Exit(m.Run())
}

// fakeChatRepo 是 ChatRepository 的内存实现，供服务层测试使用。
type fakeChatRepo struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
	messages      []*model.Message

	createErr     error
	addMsgCalls   int
	failAddOnCall int // 第 N 次 AddMessage 调用返回错误，0 表示不失败
	addMsgErr     error
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{conversations: make(map[string]*model.Conversation)}
}

func (r *fakeChatRepo) ListByUser(ctx context.Context, userID uint) ([]model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Conversation
	for _, c := range r.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *fakeChatRepo) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *fakeChatRepo) Create(ctx context.Context, conversation *model.Conversation) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if conversation.ID == "" {
		conversation.ID = uuid.NewString()
	}
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	return nil
}

func (r *fakeChatRepo) Update(ctx context.Context, conversation *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	return nil
}

func (r *fakeChatRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ConversationID != id {
			kept = append(kept, m)
		}
	}
	r.messages = kept
	return nil
}

func (r *fakeChatRepo) AddMessage(ctx context.Context, message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addMsgCalls++
	if r.failAddOnCall != 0 && r.addMsgCalls == r.failAddOnCall {
		if r.addMsgErr != nil {
			return r.addMsgErr
		}
		return errors.New("insert failed")
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	copied := *message
	r.messages = append(r.messages, &copied)
	return nil
}

func (r *fakeChatRepo) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeChatRepo) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *fakeChatRepo) conversationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conversations)
}

// fakeLLMClient 按固定分片回放模型输出。onStream 在开始流式之前触发。
type fakeLLMClient struct {
	deltas   []string
	err      error
	called   bool
	onStream func()
}

func (c *fakeLLMClient) StreamChat(ctx context.Context, modelName string, messages []llm.Message, gen *llm.GenerationParams, handler llm.DeltaHandler) error {
	c.called = true
	if c.onStream != nil {
		c.onStream()
	}
	if c.err != nil {
		return c.err
	}
	for _, d := range c.deltas {
		if err := handler(d); err != nil {
			return err
		}
	}
	return nil
}

func testPromptPath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.xml")
	content := `<prompt version="1" jurisdiction="US">
  <persona>P</persona><tone>T</tone><disclaimers>D</disclaimers>
  <rules><rule>R</rule></rules>
  <outputFormat>F</outputFormat>
</prompt>`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write prompt file: %v", err)
	}
	return path
}

func newTestChatService(repo *fakeChatRepo, client llm.Client, promptPath string, publish ArchivePublisher) ChatService {
	registry := llm.NewRegistry(client)
	return NewChatService(repo, registry, promptPath, "gpt-4o-mini", publish)
}

func userMessage(content string) TurnMessage {
	return TurnMessage{Role: model.RoleUser, Content: content}
}

func TestStreamTurnNoMessages(t *testing.T) {
	repo := newFakeChatRepo()
	svc := newTestChatService(repo, &fakeLLMClient{}, testPromptPath(t), nil)

	err := svc.StreamTurn(context.Background(), TurnRequest{}, &model.User{}, TurnEvents{})
	if !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}

func TestStreamTurnGuestStreamsWithoutPersistence(t *testing.T) {
	repo := newFakeChatRepo()
	client := &fakeLLMClient{deltas: []string{"Hello", " world"}}
	svc := newTestChatService(repo, client, testPromptPath(t), nil)

	var got strings.Builder
	conversationEvents := 0
	events := TurnEvents{
		OnConversation: func(id string) error {
			conversationEvents++
			return nil
		},
		OnDelta: func(delta string) error {
			got.WriteString(delta)
			return nil
		},
	}

	req := TurnRequest{Messages: []TurnMessage{userMessage("hi")}}
	if err := svc.StreamTurn(context.Background(), req, nil, events); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if got.String() != "Hello world" {
		t.Fatalf("expected streamed deltas verbatim, got %q", got.String())
	}
	if conversationEvents != 0 {
		t.Fatalf("guest turn must not emit conversation events, got %d", conversationEvents)
	}
	if repo.conversationCount() != 0 || repo.messageCount() != 0 {
		t.Fatalf("guest turn must not persist anything, got %d conversations, %d messages",
			repo.conversationCount(), repo.messageCount())
	}
}

func TestStreamTurnCreatesConversationAndPersists(t *testing.T) {
	repo := newFakeChatRepo()
	client := &fakeLLMClient{deltas: []string{"an", "swer"}}
	// 用户消息必须在模型调用之前落库
	client.onStream = func() {
		if repo.messageCount() != 1 {
			t.Errorf("expected 1 persisted message before streaming, got %d", repo.messageCount())
		}
	}

	var published []tasks.ChatArchiveTask
	publish := func(task tasks.ChatArchiveTask) error {
		published = append(published, task)
		return nil
	}
	svc := newTestChatService(repo, client, testPromptPath(t), publish)

	var conversationID string
	events := TurnEvents{
		OnConversation: func(id string) error {
			conversationID = id
			return nil
		},
	}

	user := &model.User{ID: 7}
	req := TurnRequest{Messages: []TurnMessage{userMessage("what is a tort?")}}
	if err := svc.StreamTurn(context.Background(), req, user, events); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if conversationID == "" {
		t.Fatalf("expected conversation event with the new chat id")
	}
	if repo.conversationCount() != 1 {
		t.Fatalf("expected exactly one conversation, got %d", repo.conversationCount())
	}
	conversation := repo.conversations[conversationID]
	if conversation.Title != "what is a tort?" {
		t.Fatalf("expected title derived from first user message, got %q", conversation.Title)
	}
	if conversation.Model != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %q", conversation.Model)
	}

	msgs, _ := repo.ListMessages(context.Background(), conversationID)
	if len(msgs) != 2 {
		t.Fatalf("expected user and assistant messages, got %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "what is a tort?" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant || msgs[1].Content != "answer" {
		t.Fatalf("expected assistant message with full answer, got %+v", msgs[1])
	}

	if len(published) != 1 {
		t.Fatalf("expected one archive task, got %d", len(published))
	}
	task := published[0]
	if task.ConversationID != conversationID || task.UserID != 7 {
		t.Fatalf("unexpected archive task: %+v", task)
	}
	if len(task.Entries) != 2 || task.Entries[0].Role != model.RoleUser || task.Entries[1].Content != "answer" {
		t.Fatalf("unexpected archive entries: %+v", task.Entries)
	}
}

func TestStreamTurnReusesExistingChat(t *testing.T) {
	repo := newFakeChatRepo()
	client := &fakeLLMClient{deltas: []string{"ok"}}
	svc := newTestChatService(repo, client, testPromptPath(t), nil)

	var conversationID string
	events := TurnEvents{
		OnConversation: func(id string) error {
			conversationID = id
			return nil
		},
	}

	user := &model.User{ID: 1}
	req := TurnRequest{ChatID: "existing-chat", Messages: []TurnMessage{userMessage("follow up")}}
	if err := svc.StreamTurn(context.Background(), req, user, events); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if conversationID != "existing-chat" {
		t.Fatalf("expected existing chat id to be echoed, got %q", conversationID)
	}
	if repo.conversationCount() != 0 {
		t.Fatalf("request with chatId must not create a conversation, got %d", repo.conversationCount())
	}
	for _, m := range repo.messages {
		if m.ConversationID != "existing-chat" {
			t.Fatalf("message persisted against wrong conversation: %+v", m)
		}
	}
}

func TestStreamTurnTitleTruncation(t *testing.T) {
	repo := newFakeChatRepo()
	svc := newTestChatService(repo, &fakeLLMClient{deltas: []string{"x"}}, testPromptPath(t), nil)

	long := strings.Repeat("甲", 60)
	var conversationID string
	events := TurnEvents{OnConversation: func(id string) error { conversationID = id; return nil }}

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{userMessage(long)}}
	if err := svc.StreamTurn(context.Background(), req, user, events); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	title := repo.conversations[conversationID].Title
	if got := len([]rune(title)); got != 50 {
		t.Fatalf("expected title truncated to 50 runes, got %d", got)
	}
	if title != strings.Repeat("甲", 50) {
		t.Fatalf("truncation corrupted multibyte title: %q", title)
	}
}

func TestStreamTurnTitleFallback(t *testing.T) {
	repo := newFakeChatRepo()
	svc := newTestChatService(repo, &fakeLLMClient{deltas: []string{"x"}}, testPromptPath(t), nil)

	var conversationID string
	events := TurnEvents{OnConversation: func(id string) error { conversationID = id; return nil }}

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{{Role: model.RoleUser, Content: ""}}}
	if err := svc.StreamTurn(context.Background(), req, user, events); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	if title := repo.conversations[conversationID].Title; title != model.DefaultTitle {
		t.Fatalf("expected fallback title %q, got %q", model.DefaultTitle, title)
	}
}

func TestStreamTurnPersistsOriginalParts(t *testing.T) {
	repo := newFakeChatRepo()
	svc := newTestChatService(repo, &fakeLLMClient{deltas: []string{"x"}}, testPromptPath(t), nil)

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{{
		Role: model.RoleUser,
		Parts: []model.MessagePart{
			{Type: "text", Text: "see attachment"},
			{Type: "file", URL: "https://example.com/contract.pdf"},
		},
	}}}
	if err := svc.StreamTurn(context.Background(), req, user, TurnEvents{}); err != nil {
		t.Fatalf("StreamTurn returned error: %v", err)
	}

	var userMsg *model.Message
	for _, m := range repo.messages {
		if m.Role == model.RoleUser {
			userMsg = m
		}
	}
	if userMsg == nil {
		t.Fatalf("user message not persisted")
	}
	if userMsg.Content != "see attachment" {
		t.Fatalf("expected text part as content, got %q", userMsg.Content)
	}
	if !strings.Contains(string(userMsg.Metadata), "contract.pdf") {
		t.Fatalf("expected original parts in metadata, got %s", userMsg.Metadata)
	}
}

func TestStreamTurnUserMessagePersistFailureAborts(t *testing.T) {
	repo := newFakeChatRepo()
	repo.failAddOnCall = 1
	client := &fakeLLMClient{deltas: []string{"x"}}
	svc := newTestChatService(repo, client, testPromptPath(t), nil)

	conversationEvents := 0
	deltas := 0
	events := TurnEvents{
		OnConversation: func(id string) error {
			conversationEvents++
			return nil
		},
		OnDelta: func(delta string) error {
			deltas++
			return nil
		},
	}

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{userMessage("hi")}}
	err := svc.StreamTurn(context.Background(), req, user, events)
	if err == nil {
		t.Fatalf("expected error when user message cannot be persisted")
	}
	if client.called {
		t.Fatalf("model must not be called after persistence failure")
	}
	// 落库失败时不得写出任何事件，调用方才能返回 JSON 错误
	if conversationEvents != 0 || deltas != 0 {
		t.Fatalf("expected no events before persistence, got %d conversation events, %d deltas",
			conversationEvents, deltas)
	}
}

func TestStreamTurnAssistantPersistFailureSwallowed(t *testing.T) {
	repo := newFakeChatRepo()
	repo.failAddOnCall = 2
	published := 0
	publish := func(task tasks.ChatArchiveTask) error {
		published++
		return nil
	}
	svc := newTestChatService(repo, &fakeLLMClient{deltas: []string{"answer"}}, testPromptPath(t), publish)

	var got strings.Builder
	events := TurnEvents{OnDelta: func(delta string) error {
		got.WriteString(delta)
		return nil
	}}

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{userMessage("hi")}}
	if err := svc.StreamTurn(context.Background(), req, user, events); err != nil {
		t.Fatalf("assistant persistence failure must not fail the turn, got %v", err)
	}
	if got.String() != "answer" {
		t.Fatalf("client should still have received the full answer, got %q", got.String())
	}
	if published != 0 {
		t.Fatalf("archive task must not be published when assistant message is lost")
	}
}

func TestStreamTurnProviderFailure(t *testing.T) {
	repo := newFakeChatRepo()
	client := &fakeLLMClient{err: errors.New("provider down")}
	svc := newTestChatService(repo, client, testPromptPath(t), nil)

	user := &model.User{ID: 1}
	req := TurnRequest{Messages: []TurnMessage{userMessage("hi")}}
	err := svc.StreamTurn(context.Background(), req, user, TurnEvents{})
	if err == nil {
		t.Fatalf("expected provider error to surface")
	}
	// 用户消息已落库，助手消息不应出现
	if repo.messageCount() != 1 {
		t.Fatalf("expected only the user message persisted, got %d", repo.messageCount())
	}
}

func TestStreamTurnMissingPromptAborts(t *testing.T) {
	repo := newFakeChatRepo()
	client := &fakeLLMClient{deltas: []string{"x"}}
	svc := newTestChatService(repo, client, filepath.Join(t.TempDir(), "missing.xml"), nil)

	req := TurnRequest{Messages: []TurnMessage{userMessage("hi")}}
	if err := svc.StreamTurn(context.Background(), req, nil, TurnEvents{}); err == nil {
		t.Fatalf("expected error when prompt document is missing")
	}
	if client.called {
		t.Fatalf("model must not be called without a system prompt")
	}
}
