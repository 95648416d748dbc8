package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/chatkit/provider"
)

func newStreamFixture(t *testing.T, chatID string) (*MemoryStore, Message) {
	t.Helper()
	ctx := context.Background()

	store := NewMemoryStore()
	_, err := store.EnsureConversation(ctx, chatID)
	require.NoError(t, err)

	answer, err := store.AppendMessage(ctx, Message{
		ChatID: chatID,
		Role:   RoleAssistant,
		Status: StatusPending,
	})
	require.NoError(t, err)

	return store, answer
}

func TestRegistryAdmitsOneStreamPerConversation(t *testing.T) {
	store, answer := newStreamFixture(t, "chat-1")
	registry := NewStreamRegistry()

	client := provider.NewMockClient("a", "b").WithChunkDelay(30 * time.Millisecond)
	answers := make(chan string, 16)

	h, err := registry.start(context.Background(), streamSpec{
		chatID:   "chat-1",
		answerID: answer.ID,
		client:   client,
		answers:  answers,
		store:    store,
	}, false)
	require.NoError(t, err)
	require.True(t, registry.IsActive("chat-1"))

	// A second start for the same conversation loses.
	answers2 := make(chan string, 16)
	_, err = registry.start(context.Background(), streamSpec{
		chatID:   "chat-1",
		answerID: answer.ID,
		client:   client,
		answers:  answers2,
		store:    store,
	}, false)
	require.ErrorIs(t, err, ErrConversationBusy)

	// A different conversation is unaffected.
	otherStore, otherAnswer := newStreamFixture(t, "chat-2")
	answers3 := make(chan string, 16)
	h2, err := registry.start(context.Background(), streamSpec{
		chatID:   "chat-2",
		answerID: otherAnswer.ID,
		client:   provider.NewMockClient("x"),
		answers:  answers3,
		store:    otherStore,
	}, false)
	require.NoError(t, err)

	<-h.Done()
	<-h2.Done()
	require.False(t, registry.IsActive("chat-1"))
	require.False(t, registry.IsActive("chat-2"))
}

func TestRegistryConcurrentStartsExactlyOneWinner(t *testing.T) {
	store, answer := newStreamFixture(t, "chat-1")
	registry := NewStreamRegistry()
	client := provider.NewMockClient("tok").WithChunkDelay(50 * time.Millisecond)

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, busy int
	var winner *StreamHandle

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answers := make(chan string, 4)
			h, err := registry.start(context.Background(), streamSpec{
				chatID:   "chat-1",
				answerID: answer.ID,
				client:   client,
				answers:  answers,
				store:    store,
			}, false)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
				winner = h
			default:
				require.ErrorIs(t, err, ErrConversationBusy)
				busy++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, racers-1, busy)

	<-winner.Done()
}

func TestRegistryStopLeavesTerminalStatus(t *testing.T) {
	store, answer := newStreamFixture(t, "chat-1")
	registry := NewStreamRegistry()

	// Enough slow chunks that the stream is still live when stopped.
	chunks := make([]string, 100)
	for i := range chunks {
		chunks[i] = "t"
	}
	client := provider.NewMockClient(chunks...).WithChunkDelay(10 * time.Millisecond)

	answers := make(chan string, 200)
	h, err := registry.start(context.Background(), streamSpec{
		chatID:   "chat-1",
		answerID: answer.ID,
		client:   client,
		answers:  answers,
		store:    store,
	}, false)
	require.NoError(t, err)

	// Wait for at least one token so content is partially written.
	select {
	case <-answers:
	case <-time.After(5 * time.Second):
		t.Fatal("no token received")
	}

	registry.Stop("chat-1")

	// Stop returned, so the stream has retired and the record is terminal.
	require.False(t, registry.IsActive("chat-1"))
	require.True(t, h.Cancelled())

	msg, err := store.GetMessage(context.Background(), "chat-1", answer.ID)
	require.NoError(t, err)
	require.True(t, msg.Terminal(), "status = %s", msg.Status)
	require.Equal(t, StatusFailed, msg.Status)
	require.Equal(t, FailReasonCancelled, msg.FailReason)
}

func TestRegistryStopIdleConversationIsNoop(t *testing.T) {
	registry := NewStreamRegistry()
	registry.Stop("nothing-here")
	require.False(t, registry.IsActive("nothing-here"))
}

func TestRegistrySupersedeCancelsPrevious(t *testing.T) {
	store, answer := newStreamFixture(t, "chat-1")
	registry := NewStreamRegistry()

	chunks := make([]string, 50)
	for i := range chunks {
		chunks[i] = "old"
	}
	slow := provider.NewMockClient(chunks...).WithChunkDelay(10 * time.Millisecond)

	answers1 := make(chan string, 100)
	h1, err := registry.start(context.Background(), streamSpec{
		chatID:   "chat-1",
		answerID: answer.ID,
		client:   slow,
		answers:  answers1,
		store:    store,
	}, false)
	require.NoError(t, err)

	select {
	case <-answers1:
	case <-time.After(5 * time.Second):
		t.Fatal("first stream produced nothing")
	}

	fresh := provider.NewMockClient("new ", "answer")
	answers2 := make(chan string, 16)
	h2, err := registry.start(context.Background(), streamSpec{
		chatID:   "chat-1",
		answerID: answer.ID,
		client:   fresh,
		answers:  answers2,
		store:    store,
	}, true)
	require.NoError(t, err)
	require.True(t, h1.Cancelled())

	<-h2.Done()

	// The superseded stream retired before its successor produced; the
	// record reflects the successor's complete run.
	select {
	case <-h1.Done():
	default:
		t.Fatal("superseded stream still live after successor finished")
	}

	msg, err := store.GetMessage(context.Background(), "chat-1", answer.ID)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, msg.Status)
	require.Equal(t, "new answer", msg.Content)
	require.False(t, registry.IsActive("chat-1"))
}

func TestRegistryStopAll(t *testing.T) {
	registry := NewStreamRegistry()
	client := provider.NewMockClient("a", "b", "c").WithChunkDelay(20 * time.Millisecond)

	var handles []*StreamHandle
	for _, chatID := range []string{"c1", "c2", "c3"} {
		store, answer := newStreamFixture(t, chatID)
		answers := make(chan string, 16)
		h, err := registry.start(context.Background(), streamSpec{
			chatID:   chatID,
			answerID: answer.ID,
			client:   client,
			answers:  answers,
			store:    store,
		}, false)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	registry.StopAll()

	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Errorf("stream %s still live after StopAll", h.ChatID())
		}
		require.False(t, registry.IsActive(h.ChatID()))
	}
}
