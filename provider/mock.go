package provider

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockClient is a test double for Client.
// It supports scripted chunk sequences, failure injection, and custom
// handlers. Exported so dependent packages can test against it.
type MockClient struct {
	mu         sync.Mutex
	chunks     []string
	questions  []string
	chunkDelay time.Duration
	err        error
	streamFunc func(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// Calls tracks all requests for assertions.
	Calls []Request
}

// NewMockClient creates a mock that streams the given chunks in order.
func NewMockClient(chunks ...string) *MockClient {
	return &MockClient{chunks: chunks}
}

// WithQuestions configures follow-up questions delivered on the final chunk.
func (m *MockClient) WithQuestions(questions ...string) *MockClient {
	m.questions = questions
	return m
}

// WithChunkDelay adds a pause before each streamed chunk.
func (m *MockClient) WithChunkDelay(d time.Duration) *MockClient {
	m.chunkDelay = d
	return m
}

// WithError configures the mock to always return an error.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithStreamFunc sets a custom handler for Stream calls.
// This takes precedence over scripted chunks.
func (m *MockClient) WithStreamFunc(fn func(ctx context.Context, req Request) (<-chan StreamChunk, error)) *MockClient {
	m.streamFunc = fn
	return m
}

// Stream implements Client.
func (m *MockClient) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	fn := m.streamFunc
	err := m.err
	chunks := m.chunks
	questions := m.questions
	delay := m.chunkDelay
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for _, content := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					ch <- StreamChunk{Error: ctx.Err()}
					return
				}
			}
			select {
			case ch <- StreamChunk{Content: content}:
			case <-ctx.Done():
				ch <- StreamChunk{Error: ctx.Err()}
				return
			}
		}
		select {
		case ch <- StreamChunk{Questions: questions, Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if m.err != nil {
		return nil, m.err
	}

	return &Response{
		Content:      strings.Join(m.chunks, ""),
		Model:        "mock-model",
		FinishReason: "stop",
		Duration:     10 * time.Millisecond,
	}, nil
}

// RelatedQuestions implements Client.
func (m *MockClient) RelatedQuestions(ctx context.Context, req Request) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.err != nil {
		return nil, m.err
	}
	return m.questions, nil
}

// Name implements Client.
func (m *MockClient) Name() string {
	return "mock"
}
