package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/chatkit/provider"
)

func newTestManager(t *testing.T, remote provider.Client) (*Manager, *MemoryStore) {
	t.Helper()

	store := NewMemoryStore()
	m, err := NewManager(Config{Store: store, Remote: remote})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return m, store
}

func drain(ch chan string) string {
	var sb strings.Builder
	for tok := range ch {
		sb.WriteString(tok)
	}
	return sb.String()
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{Remote: provider.NewMockClient()})
	require.ErrorIs(t, err, provider.ErrInvalidRequest)

	_, err = NewManager(Config{Store: NewMemoryStore()})
	require.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestNewManagerResolvesBackendNames(t *testing.T) {
	client := provider.NewMockClient("resolved")
	provider.Register("test-remote", func(cfg provider.Config) (provider.Client, error) {
		return client, nil
	})
	t.Cleanup(func() { provider.Unregister("test-remote") })

	m, err := NewManager(Config{
		Store:         NewMemoryStore(),
		RemoteBackend: "test-remote",
	})
	require.NoError(t, err)
	defer m.Close()
	require.Same(t, client, m.backend())

	_, err = NewManager(Config{
		Store:         NewMemoryStore(),
		RemoteBackend: "no-such-backend",
	})
	require.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestStreamChatMessage(t *testing.T) {
	client := provider.NewMockClient("Hello", ", ", "world").WithQuestions("What next?")
	m, store := newTestManager(t, client)

	answers := make(chan string, 16)
	questions := make(chan string, 4)

	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:    "chat-1",
		Message:   "hi there",
		Answers:   answers,
		Questions: questions,
	})
	require.NoError(t, err)
	require.Equal(t, RoleUser, res.Question.Role)
	require.Equal(t, StatusComplete, res.Question.Status)
	require.Equal(t, RoleAssistant, res.Answer.Role)

	<-res.Handle.Done()

	require.Equal(t, "Hello, world", drain(answers))
	require.Equal(t, []string{"What next?"}, []string{<-questions})

	msg, err := store.GetMessage(context.Background(), "chat-1", res.Answer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, msg.Status)
	assert.Equal(t, "Hello, world", msg.Content)
	assert.False(t, m.IsStreaming("chat-1"))
}

func TestStreamChatMessageValidation(t *testing.T) {
	m, _ := newTestManager(t, provider.NewMockClient("ok"))
	answers := make(chan string, 1)

	tests := []struct {
		name    string
		req     StreamChatRequest
		wantErr error
	}{
		{"missing chat id", StreamChatRequest{Message: "hi", Answers: answers}, ErrEmptyField},
		{"missing message", StreamChatRequest{ChatID: "c", Answers: answers}, ErrEmptyField},
		{"missing answers channel", StreamChatRequest{ChatID: "c", Message: "hi"}, ErrEmptyField},
		{
			"message too long",
			StreamChatRequest{ChatID: "c", Message: strings.Repeat("x", DefaultMaxMessageLen+1), Answers: answers},
			ErrMessageTooLong,
		},
		{
			"assistant role rejected",
			StreamChatRequest{ChatID: "c", Message: "hi", Role: RoleAssistant, Answers: answers},
			provider.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.StreamChatMessage(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStreamChatMessageBusyConversation(t *testing.T) {
	client := provider.NewMockClient("a", "b", "c").WithChunkDelay(40 * time.Millisecond)
	m, _ := newTestManager(t, client)

	answers := make(chan string, 16)
	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "first",
		Answers: answers,
	})
	require.NoError(t, err)

	answers2 := make(chan string, 16)
	_, err = m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "second",
		Answers: answers2,
	})
	require.ErrorIs(t, err, ErrConversationBusy)

	// The losing call left no message records behind.
	count, err := m.cfg.Store.MessageCount(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	<-res.Handle.Done()
}

func TestStopStreamRetainsPartialContent(t *testing.T) {
	chunks := make([]string, 100)
	for i := range chunks {
		chunks[i] = fmt.Sprintf("t%d ", i)
	}
	client := provider.NewMockClient(chunks...).WithChunkDelay(10 * time.Millisecond)
	m, store := newTestManager(t, client)

	answers := make(chan string, 200)
	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "go",
		Answers: answers,
	})
	require.NoError(t, err)

	select {
	case <-answers:
	case <-time.After(5 * time.Second):
		t.Fatal("no token received")
	}

	require.NoError(t, m.StopStream(context.Background(), "chat-1"))
	require.False(t, m.IsStreaming("chat-1"))

	msg, err := store.GetMessage(context.Background(), "chat-1", res.Answer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, msg.Status)
	assert.Equal(t, FailReasonCancelled, msg.FailReason)
	assert.NotEmpty(t, msg.Content, "tokens emitted before the stop must be retained")
	assert.True(t, strings.HasPrefix(msg.Content, "t0 "))

	// A new stream is admitted after the stop.
	answers2 := make(chan string, 200)
	res2, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "again",
		Answers: answers2,
	})
	require.NoError(t, err)
	m.registry.Stop("chat-1")
	<-res2.Handle.Done()
}

func TestRegenerateResponse(t *testing.T) {
	client := provider.NewMockClient("final ", "answer")
	m, store := newTestManager(t, client)

	answers := make(chan string, 16)
	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "question",
		Answers: answers,
	})
	require.NoError(t, err)
	<-res.Handle.Done()

	regen := make(chan string, 16)
	h, err := m.RegenerateResponse(context.Background(), RegenerateRequest{
		ChatID:          "chat-1",
		AnswerMessageID: res.Answer.ID,
		Answers:         regen,
	})
	require.NoError(t, err)
	<-h.Done()

	require.Equal(t, "final answer", drain(regen))

	msg, err := store.GetMessage(context.Background(), "chat-1", res.Answer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, msg.Status)
	assert.Equal(t, "final answer", msg.Content)
}

func TestRegenerateSupersedesLiveStream(t *testing.T) {
	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "old "
	}
	client := provider.NewMockClient(chunks...).WithChunkDelay(10 * time.Millisecond)
	m, store := newTestManager(t, client)

	answers := make(chan string, 100)
	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "question",
		Answers: answers,
	})
	require.NoError(t, err)

	select {
	case <-answers:
	case <-time.After(5 * time.Second):
		t.Fatal("no token received")
	}

	regen := make(chan string, 100)
	h, err := m.RegenerateResponse(context.Background(), RegenerateRequest{
		ChatID:          "chat-1",
		AnswerMessageID: res.Answer.ID,
		Answers:         regen,
	})
	require.NoError(t, err)
	require.True(t, res.Handle.Cancelled())

	<-h.Done()

	msg, err := store.GetMessage(context.Background(), "chat-1", res.Answer.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, msg.Status)
	assert.False(t, m.IsStreaming("chat-1"))
}

func TestRegenerateRejectsNonAnswer(t *testing.T) {
	m, _ := newTestManager(t, provider.NewMockClient("x"))

	answers := make(chan string, 16)
	res, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID:  "chat-1",
		Message: "question",
		Answers: answers,
	})
	require.NoError(t, err)
	<-res.Handle.Done()

	regen := make(chan string, 16)
	_, err = m.RegenerateResponse(context.Background(), RegenerateRequest{
		ChatID:          "chat-1",
		AnswerMessageID: res.Question.ID,
		Answers:         regen,
	})
	require.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestManagerClosed(t *testing.T) {
	m, _ := newTestManager(t, provider.NewMockClient("x"))
	require.NoError(t, m.Close())

	answers := make(chan string, 1)
	_, err := m.StreamChatMessage(context.Background(), StreamChatRequest{
		ChatID: "c", Message: "hi", Answers: answers,
	})
	require.ErrorIs(t, err, ErrClosed)

	_, err = m.LoadPrevMessages(context.Background(), "c", 0, 10)
	require.ErrorIs(t, err, ErrClosed)

	err = m.UpdateRAGIDs(context.Background(), "c", nil)
	require.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestLoadMessagesPagination(t *testing.T) {
	m, store := newTestManager(t, provider.NewMockClient("x"))
	seedMessages(t, store, "chat-1", 10)
	ctx := context.Background()

	prev, err := m.LoadPrevMessages(ctx, "chat-1", 6, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 4, 5}, messageIDs(prev))
	require.True(t, prev.HasMore)

	next, err := m.LoadNextMessages(ctx, "chat-1", 6, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8, 9}, messageIDs(next))
	require.True(t, next.HasMore)
}

func TestGetRelatedQuestions(t *testing.T) {
	client := provider.NewMockClient("x").WithQuestions("Q1", "Q2")
	m, store := newTestManager(t, client)
	seedMessages(t, store, "chat-1", 2)

	got, err := m.GetRelatedQuestions(context.Background(), "chat-1", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"Q1", "Q2"}, got)

	_, err = m.GetRelatedQuestions(context.Background(), "chat-1", 99)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateAnswer(t *testing.T) {
	client := provider.NewMockClient("materialized answer")
	m, store := newTestManager(t, client)
	seedMessages(t, store, "chat-1", 1)

	answer, err := m.GenerateAnswer(context.Background(), "chat-1", 1)
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, answer.Role)
	require.Equal(t, StatusComplete, answer.Status)
	require.Equal(t, "materialized answer", answer.Content)

	count, err := store.MessageCount(context.Background(), "chat-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUpdateRAGIDs(t *testing.T) {
	m, _ := newTestManager(t, provider.NewMockClient("x"))
	ctx := context.Background()

	// Creates the conversation if absent.
	require.NoError(t, m.UpdateRAGIDs(ctx, "chat-1", []string{"doc-1", "doc-2"}))

	ids, err := m.GetRAGIDs(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, []string{"doc-1", "doc-2"}, ids)

	require.NoError(t, m.UpdateRAGIDs(ctx, "chat-1", []string{"doc-3"}))
	ids, err = m.GetRAGIDs(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, []string{"doc-3"}, ids)
}

func TestGetChatInfo(t *testing.T) {
	m, store := newTestManager(t, provider.NewMockClient("x"))
	seedMessages(t, store, "chat-1", 4)
	require.NoError(t, m.UpdateRAGIDs(context.Background(), "chat-1", []string{"doc-1"}))

	info, err := m.GetChatInfo(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", info.ID)
	assert.Equal(t, 4, info.MessageCount)
	assert.Equal(t, []string{"doc-1"}, info.RAGIDs)

	_, err = m.GetChatInfo(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

type stubFS struct {
	files map[string][]byte
}

func (s stubFS) Size(name string) (int64, error) {
	data, ok := s.files[name]
	if !ok {
		return 0, errors.New("no such file")
	}
	return int64(len(data)), nil
}

func (s stubFS) ReadFile(name string) ([]byte, error) {
	data, ok := s.files[name]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func TestAttachFile(t *testing.T) {
	fs := stubFS{files: map[string][]byte{
		"/docs/notes.txt":  []byte("hello"),
		"/docs/huge.txt":   make([]byte, MaxAttachmentSize+1),
		"/docs/exact.txt":  make([]byte, MaxAttachmentSize),
		"/docs/sheet.xlsx": []byte("nope"),
	}}

	store := NewMemoryStore()
	m, err := NewManager(Config{Store: store, Remote: provider.NewMockClient("x"), FS: fs})
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()

	entry, err := m.AttachFile(ctx, "chat-1", "/docs/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, provider.ContextText, entry.ContentType)
	assert.Equal(t, int64(5), entry.Size)
	assert.Equal(t, "notes.txt", entry.Name)
	assert.NotEmpty(t, entry.ID)

	ids, err := m.GetRAGIDs(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, []string{entry.ID}, ids)

	// Policy checks run before content is read.
	_, err = m.AttachFile(ctx, "chat-1", "/docs/huge.txt")
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = m.AttachFile(ctx, "chat-1", "/docs/sheet.xlsx")
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	// A missing file is not-found, not a format problem.
	_, err = m.AttachFile(ctx, "chat-1", "/docs/gone.txt")
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrUnsupportedFormat)

	// The size limit is inclusive.
	_, err = m.AttachFile(ctx, "chat-1", "/docs/exact.txt")
	require.NoError(t, err)
}

func TestCreateChatContext(t *testing.T) {
	client := provider.NewMockClient("answer")
	m, _ := newTestManager(t, client)
	ctx := context.Background()

	entry, err := m.CreateChatContext(ctx, "chat-1", RAGMetadata{
		Name:   "pasted notes",
		Data:   "some text",
		Loader: LoaderText,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID, "an id is assigned when the caller omits one")
	assert.Equal(t, provider.ContextText, entry.ContentType)
	assert.Equal(t, int64(9), entry.Size)

	ids, err := m.GetRAGIDs(ctx, "chat-1")
	require.NoError(t, err)
	require.Equal(t, []string{entry.ID}, ids)

	// Context entries ride along on subsequent stream requests.
	answers := make(chan string, 16)
	res, err := m.StreamChatMessage(ctx, StreamChatRequest{
		ChatID:  "chat-1",
		Message: "use my notes",
		Answers: answers,
	})
	require.NoError(t, err)
	<-res.Handle.Done()

	require.NotEmpty(t, client.Calls)
	streamReq := client.Calls[len(client.Calls)-1]
	require.Len(t, streamReq.Context, 1)
	require.Equal(t, entry.ID, streamReq.Context[0].ID)
}

type stubLocalAI struct {
	chatEnabled bool
	running     bool
}

func (s stubLocalAI) IsChatEnabled() bool { return s.chatEnabled }
func (s stubLocalAI) IsRunning() bool     { return s.running }

func TestBackendSelection(t *testing.T) {
	remote := provider.NewMockClient("remote")
	local := provider.NewMockClient("local")

	tests := []struct {
		name    string
		localAI LocalAIState
		want    provider.Client
	}{
		{"chat enabled and running uses local", stubLocalAI{true, true}, local},
		{"chat disabled uses remote", stubLocalAI{false, true}, remote},
		{"not running uses remote", stubLocalAI{true, false}, remote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(Config{
				Store:   NewMemoryStore(),
				Remote:  remote,
				Local:   local,
				LocalAI: tt.localAI,
			})
			require.NoError(t, err)
			defer m.Close()

			require.Same(t, tt.want, m.backend())
		})
	}
}
