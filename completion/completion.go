// Package completion runs short-form text completion tasks such as
// improving writing or fixing spelling and grammar.
//
// Unlike chat streaming, completion tasks are not tied to a
// conversation: any number may run concurrently, each identified by a
// task id that the caller can use to cancel it mid-stream.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/randalmurphal/chatkit/provider"
)

// Kind selects what the completion should do with the input text.
type Kind string

// Completion kinds.
const (
	KindImproveWriting  Kind = "improve_writing"
	KindSpellingGrammar Kind = "spelling_grammar"
	KindMakeShorter     Kind = "make_shorter"
	KindMakeLonger      Kind = "make_longer"
	KindContinueWriting Kind = "continue_writing"
)

// kindPrompts maps each kind to its instruction.
var kindPrompts = map[Kind]string{
	KindImproveWriting:  "Improve the writing of the following text. Keep the meaning intact.",
	KindSpellingGrammar: "Fix the spelling and grammar of the following text. Change nothing else.",
	KindMakeShorter:     "Make the following text shorter while keeping its meaning.",
	KindMakeLonger:      "Expand the following text with more detail in the same voice.",
	KindContinueWriting: "Continue writing from where the following text leaves off.",
}

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	_, ok := kindPrompts[k]
	return ok
}

// Sentinel errors for completion operations.
var (
	// ErrUnknownKind indicates an unrecognized completion kind.
	ErrUnknownKind = errors.New("unknown completion kind")

	// ErrTaskNotFound indicates the task id does not match a running task.
	ErrTaskNotFound = errors.New("completion task not found")

	// ErrClosed indicates the manager has been torn down.
	ErrClosed = errors.New("completion manager is closed")
)

// Request describes one completion task.
type Request struct {
	// Text is the input to operate on.
	Text string

	// Kind selects the operation.
	Kind Kind

	// Format is the desired output format. Defaults to plain text.
	Format provider.OutputFormat
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return errors.New("completion text is empty")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	return nil
}

// task is one in-flight completion.
type task struct {
	id        string
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

// Manager runs completion tasks against a provider client.
type Manager struct {
	client provider.Client

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

// NewManager creates a completion manager.
func NewManager(client provider.Client) (*Manager, error) {
	if client == nil {
		return nil, errors.New("provider client is required")
	}
	return &Manager{
		client: client,
		tasks:  make(map[string]*task),
	}, nil
}

// Close cancels all running tasks and waits for them to retire.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	for _, t := range tasks {
		t.cancelled.Store(true)
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
	return nil
}

// CreateTask starts a completion task. Output chunks are pushed into out
// until the task finishes; the channel is closed when the task retires,
// whether it completed, failed, or was cancelled. Returns the task id.
func (m *Manager) CreateTask(ctx context.Context, req Request, out chan<- string) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	if out == nil {
		return "", errors.New("output channel is required")
	}

	format := req.Format
	if format == "" {
		format = provider.FormatPlainText
	}

	t := &task{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	m.tasks[t.id] = t
	m.mu.Unlock()

	preq := provider.Request{
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: kindPrompts[req.Kind]},
			{Role: provider.RoleUser, Content: req.Text},
		},
		Format: format,
	}

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.tasks, t.id)
			m.mu.Unlock()
			close(out)
			close(t.done)
		}()
		m.run(taskCtx, t, preq, out)
	}()

	return t.id, nil
}

// CancelTask cancels the task with the given id and waits for it to
// retire. The output channel is closed; no chunks follow cancellation.
func (m *Manager) CancelTask(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	t.cancelled.Store(true)
	t.cancel()
	<-t.done
	return nil
}

// IsRunning reports whether the task is still in flight.
func (m *Manager) IsRunning(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[taskID]
	return ok
}

func (m *Manager) run(ctx context.Context, t *task, req provider.Request, out chan<- string) {
	chunks, err := m.client.Stream(ctx, req)
	if err != nil {
		return
	}

	for chunk := range chunks {
		if t.cancelled.Load() || ctx.Err() != nil {
			return
		}
		if chunk.Error != nil {
			return
		}
		if chunk.Content == "" {
			continue
		}
		select {
		case out <- chunk.Content:
		case <-ctx.Done():
			return
		}
	}
}
