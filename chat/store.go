package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists conversations and messages. It supports append and
// bounded range queries by cursor. Implementations must be safe for
// concurrent use.
type Store interface {
	// EnsureConversation returns the conversation, creating it if absent.
	EnsureConversation(ctx context.Context, chatID string) (Conversation, error)

	// GetConversation returns the conversation or ErrNotFound.
	GetConversation(ctx context.Context, chatID string) (Conversation, error)

	// SetRAGIDs replaces the conversation's RAG source set atomically.
	SetRAGIDs(ctx context.Context, chatID string, ragIDs []string) error

	// AppendMessage appends a message, assigning the next id in the
	// conversation, and returns the stored record.
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// UpdateMessage overwrites a previously appended message.
	UpdateMessage(ctx context.Context, msg Message) error

	// GetMessage returns a message by conversation and id.
	GetMessage(ctx context.Context, chatID string, messageID int64) (Message, error)

	// MessagesBefore returns up to limit messages with id < before, in
	// ascending order. A zero cursor means "from the end".
	MessagesBefore(ctx context.Context, chatID string, before int64, limit int) (MessageList, error)

	// MessagesAfter returns up to limit messages with id > after, in
	// ascending order.
	MessagesAfter(ctx context.Context, chatID string, after int64, limit int) (MessageList, error)

	// MessageCount returns the number of messages in the conversation.
	MessageCount(ctx context.Context, chatID string) (int, error)
}

// MemoryStore is an in-memory Store. It backs tests and small deployments;
// production callers plug in their own persistence behind the Store
// interface.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memoryConversation
}

type memoryConversation struct {
	conv   Conversation
	msgs   []Message
	nextID int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*memoryConversation)}
}

// EnsureConversation implements Store.
func (s *MemoryStore) EnsureConversation(_ context.Context, chatID string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[chatID]
	if !ok {
		c = &memoryConversation{
			conv:   Conversation{ID: chatID, CreatedAt: time.Now()},
			nextID: 1,
		}
		s.convs[chatID] = c
	}
	return c.conv, nil
}

// GetConversation implements Store.
func (s *MemoryStore) GetConversation(_ context.Context, chatID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[chatID]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}
	return c.conv, nil
}

// SetRAGIDs implements Store.
func (s *MemoryStore) SetRAGIDs(_ context.Context, chatID string, ragIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[chatID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}
	c.conv.RAGIDs = append([]string(nil), ragIDs...)
	return nil
}

// AppendMessage implements Store.
func (s *MemoryStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[msg.ChatID]
	if !ok {
		return Message{}, fmt.Errorf("conversation %s: %w", msg.ChatID, ErrNotFound)
	}

	msg.ID = c.nextID
	c.nextID++
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c.msgs = append(c.msgs, msg)
	return msg, nil
}

// UpdateMessage implements Store.
func (s *MemoryStore) UpdateMessage(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[msg.ChatID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ChatID, ErrNotFound)
	}

	idx := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID >= msg.ID })
	if idx >= len(c.msgs) || c.msgs[idx].ID != msg.ID {
		return fmt.Errorf("message %d: %w", msg.ID, ErrNotFound)
	}
	c.msgs[idx] = msg
	return nil
}

// GetMessage implements Store.
func (s *MemoryStore) GetMessage(_ context.Context, chatID string, messageID int64) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[chatID]
	if !ok {
		return Message{}, fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}

	idx := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID >= messageID })
	if idx >= len(c.msgs) || c.msgs[idx].ID != messageID {
		return Message{}, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	return c.msgs[idx], nil
}

// MessagesBefore implements Store.
func (s *MemoryStore) MessagesBefore(_ context.Context, chatID string, before int64, limit int) (MessageList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[chatID]
	if !ok {
		return MessageList{}, fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}

	// end is the index one past the last eligible message.
	end := len(c.msgs)
	if before > 0 {
		end = sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID >= before })
	}

	start := end - limit
	if limit <= 0 || start < 0 {
		start = 0
	}

	return MessageList{
		Messages: append([]Message(nil), c.msgs[start:end]...),
		HasMore:  start > 0,
	}, nil
}

// MessagesAfter implements Store.
func (s *MemoryStore) MessagesAfter(_ context.Context, chatID string, after int64, limit int) (MessageList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[chatID]
	if !ok {
		return MessageList{}, fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}

	start := sort.Search(len(c.msgs), func(i int) bool { return c.msgs[i].ID > after })
	end := len(c.msgs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return MessageList{
		Messages: append([]Message(nil), c.msgs[start:end]...),
		HasMore:  end < len(c.msgs),
	}, nil
}

// MessageCount implements Store.
func (s *MemoryStore) MessageCount(_ context.Context, chatID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[chatID]
	if !ok {
		return 0, fmt.Errorf("conversation %s: %w", chatID, ErrNotFound)
	}
	return len(c.msgs), nil
}
