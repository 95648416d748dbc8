package chat

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/chatkit/provider"
)

// DefaultMaxMessageLen is the default chat message length limit in bytes.
const DefaultMaxMessageLen = 5000

// DefaultHistoryLimit is how many prior messages are sent as context.
const DefaultHistoryLimit = 10

// LocalAIState is the read-only view the manager needs of the local model
// lifecycle controller. It is consulted only to decide whether inference
// targets the local or the remote backend.
type LocalAIState interface {
	// IsChatEnabled reports whether local AI chat is switched on.
	IsChatEnabled() bool

	// IsRunning reports whether the local model plugin is running.
	IsRunning() bool
}

// Config configures a Manager.
type Config struct {
	// Store persists conversations and messages. Required.
	Store Store

	// Remote is the remote inference backend. Required unless
	// RemoteBackend names a registered one.
	Remote provider.Client

	// RemoteBackend is a registered backend name resolved through the
	// provider registry when Remote is nil.
	RemoteBackend string

	// RemoteConfig configures a backend resolved via RemoteBackend.
	RemoteConfig provider.Config

	// Local is the local inference backend. Optional; used when LocalAI
	// reports chat enabled and running.
	Local provider.Client

	// LocalBackend is a registered backend name resolved through the
	// provider registry when Local is nil.
	LocalBackend string

	// LocalConfig configures a backend resolved via LocalBackend.
	LocalConfig provider.Config

	// LocalAI reports local model availability. Optional.
	LocalAI LocalAIState

	// FS reads attachment bytes and metadata. Defaults to the OS.
	FS FS

	// MaxMessageLen bounds chat message length. Defaults to
	// DefaultMaxMessageLen.
	MaxMessageLen int

	// HistoryLimit bounds how much history is sent as context. Defaults
	// to DefaultHistoryLimit.
	HistoryLimit int
}

// Manager is the chat orchestrator: it validates requests, resolves RAG
// content, starts and stops streams, and paginates history.
type Manager struct {
	cfg      Config
	registry *StreamRegistry

	// streamMu serializes the busy-check and message creation of stream
	// starts so a losing caller leaves no records behind.
	streamMu sync.Mutex

	mu          sync.Mutex
	closed      bool
	attachments map[string][]provider.ContextData
}

// NewManager creates a chat manager. Backends may be passed as clients or
// as registered backend names; a name is resolved through the provider
// registry.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", provider.ErrInvalidRequest)
	}
	if cfg.Remote == nil && cfg.RemoteBackend != "" {
		client, err := provider.New(cfg.RemoteBackend, cfg.RemoteConfig)
		if err != nil {
			return nil, err
		}
		cfg.Remote = client
	}
	if cfg.Local == nil && cfg.LocalBackend != "" {
		client, err := provider.New(cfg.LocalBackend, cfg.LocalConfig)
		if err != nil {
			return nil, err
		}
		cfg.Local = client
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("%w: remote client is required", provider.ErrInvalidRequest)
	}
	if cfg.FS == nil {
		cfg.FS = OSFS()
	}
	if cfg.MaxMessageLen == 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Manager{
		cfg:         cfg,
		registry:    NewStreamRegistry(),
		attachments: make(map[string][]provider.ContextData),
	}, nil
}

// Close tears the manager down. Live streams are stopped; subsequent entry
// operations fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.registry.StopAll()
	return nil
}

// guard fails with ErrClosed once the manager is torn down, so callers
// holding a stale reference get a tagged error instead of dead state.
func (m *Manager) guard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// backend picks the inference client for the next request.
func (m *Manager) backend() provider.Client {
	if m.cfg.Local != nil && m.cfg.LocalAI != nil &&
		m.cfg.LocalAI.IsChatEnabled() && m.cfg.LocalAI.IsRunning() {
		return m.cfg.Local
	}
	return m.cfg.Remote
}

// StreamChatRequest asks for a streamed answer to a new chat message.
type StreamChatRequest struct {
	// ChatID identifies the conversation; created on first message.
	ChatID string

	// Message is the user or system message content.
	Message string

	// Role of the message author. Defaults to RoleUser; RoleAssistant is
	// not accepted here.
	Role Role

	// Format selects the answer output format.
	Format provider.OutputFormat

	// Metadata is raw RAG source material to normalize and attach.
	Metadata []RAGMetadata

	// Answers receives incremental answer tokens. Required. Closed by the
	// stream when it retires.
	Answers chan<- string

	// Questions receives follow-up question suggestions. Optional; closed
	// by the stream when it retires.
	Questions chan<- string
}

func (r *StreamChatRequest) validate(maxLen int) error {
	if r.ChatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if r.Message == "" {
		return fmt.Errorf("%w: message", ErrEmptyField)
	}
	if len(r.Message) > maxLen {
		return fmt.Errorf("%w: %d bytes, max is %d", ErrMessageTooLong, len(r.Message), maxLen)
	}
	if r.Answers == nil {
		return fmt.Errorf("%w: answers channel", ErrEmptyField)
	}
	switch r.Role {
	case "", RoleUser, RoleSystem:
	default:
		return fmt.Errorf("%w: role %q", provider.ErrInvalidRequest, r.Role)
	}
	return nil
}

// StreamResult reports the records created by a stream start.
type StreamResult struct {
	// Question is the stored caller message.
	Question Message

	// Answer is the assistant message the stream is filling in.
	Answer Message

	// Handle is the admitted stream.
	Handle *StreamHandle
}

// StreamChatMessage records the message, opens a stream for the
// conversation, and begins pushing answer tokens into the request's
// channels. Fails with ErrConversationBusy while a stream is live for the
// same conversation.
func (m *Manager) StreamChatMessage(ctx context.Context, req StreamChatRequest) (*StreamResult, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if err := req.validate(m.cfg.MaxMessageLen); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = RoleUser
	}

	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	if m.registry.IsActive(req.ChatID) {
		return nil, ErrConversationBusy
	}

	if _, err := m.cfg.Store.EnsureConversation(ctx, req.ChatID); err != nil {
		return nil, err
	}

	question, err := m.cfg.Store.AppendMessage(ctx, Message{
		ChatID:  req.ChatID,
		Role:    role,
		Content: req.Message,
		Status:  StatusComplete,
	})
	if err != nil {
		return nil, err
	}

	answer, err := m.cfg.Store.AppendMessage(ctx, Message{
		ChatID: req.ChatID,
		Role:   RoleAssistant,
		Status: StatusPending,
	})
	if err != nil {
		return nil, err
	}

	genReq, err := m.buildRequest(ctx, req.ChatID, answer.ID, req.Format)
	if err != nil {
		return nil, err
	}
	genReq.Context = append(genReq.Context, NormalizeRAGMetadataList(req.Metadata)...)

	handle, err := m.registry.start(ctx, streamSpec{
		chatID:    req.ChatID,
		answerID:  answer.ID,
		client:    m.backend(),
		request:   genReq,
		answers:   req.Answers,
		questions: req.Questions,
		store:     m.cfg.Store,
	}, false)
	if err != nil {
		return nil, err
	}

	return &StreamResult{Question: question, Answer: answer, Handle: handle}, nil
}

// RegenerateRequest asks to regenerate an existing assistant answer.
type RegenerateRequest struct {
	ChatID string

	// AnswerMessageID is the assistant message to regenerate.
	AnswerMessageID int64

	// Format selects the answer output format.
	Format provider.OutputFormat

	// Answers receives incremental answer tokens. Required.
	Answers chan<- string
}

// RegenerateResponse re-runs generation for a recorded answer, reusing the
// conversation up to that point as the prompt. Any live stream for the
// conversation is superseded: it is cancelled and retired before the new
// stream produces.
func (m *Manager) RegenerateResponse(ctx context.Context, req RegenerateRequest) (*StreamHandle, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	if req.ChatID == "" {
		return nil, fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if req.Answers == nil {
		return nil, fmt.Errorf("%w: answers channel", ErrEmptyField)
	}

	answer, err := m.cfg.Store.GetMessage(ctx, req.ChatID, req.AnswerMessageID)
	if err != nil {
		return nil, err
	}
	if answer.Role != RoleAssistant {
		return nil, fmt.Errorf("%w: message %d is not an answer", provider.ErrInvalidRequest, req.AnswerMessageID)
	}

	genReq, err := m.buildRequest(ctx, req.ChatID, answer.ID, req.Format)
	if err != nil {
		return nil, err
	}

	m.streamMu.Lock()
	defer m.streamMu.Unlock()

	return m.registry.start(ctx, streamSpec{
		chatID:   req.ChatID,
		answerID: answer.ID,
		client:   m.backend(),
		request:  genReq,
		answers:  req.Answers,
		store:    m.cfg.Store,
	}, true)
}

// buildRequest assembles the generation request from conversation history
// strictly before the answer message, plus any file attachments.
func (m *Manager) buildRequest(ctx context.Context, chatID string, answerID int64, format provider.OutputFormat) (provider.Request, error) {
	history, err := m.cfg.Store.MessagesBefore(ctx, chatID, answerID, m.cfg.HistoryLimit)
	if err != nil {
		return provider.Request{}, err
	}

	msgs := make([]provider.Message, 0, len(history.Messages))
	for _, msg := range history.Messages {
		if msg.Status != StatusComplete || msg.Content == "" {
			continue
		}
		msgs = append(msgs, provider.Message{
			Role:    provider.Role(msg.Role),
			Content: msg.Content,
		})
	}

	m.mu.Lock()
	attached := append([]provider.ContextData(nil), m.attachments[chatID]...)
	m.mu.Unlock()

	return provider.Request{
		ChatID:   chatID,
		Messages: msgs,
		Format:   format,
		Context:  attached,
	}, nil
}

// StopStream cancels the conversation's live stream, if any. The stream
// observes the flag at the next token boundary; partial content already
// emitted stays on the message record.
func (m *Manager) StopStream(ctx context.Context, chatID string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if chatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	m.registry.Stop(chatID)
	return nil
}

// IsStreaming reports whether the conversation has a live stream.
func (m *Manager) IsStreaming(chatID string) bool {
	return m.registry.IsActive(chatID)
}

// LoadPrevMessages returns up to limit messages before the cursor in
// ascending order. A zero cursor reads from the end.
func (m *Manager) LoadPrevMessages(ctx context.Context, chatID string, beforeMessageID int64, limit int) (MessageList, error) {
	if err := m.guard(); err != nil {
		return MessageList{}, err
	}
	if chatID == "" {
		return MessageList{}, fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	return m.cfg.Store.MessagesBefore(ctx, chatID, beforeMessageID, limit)
}

// LoadNextMessages returns up to limit messages after the cursor in
// ascending order.
func (m *Manager) LoadNextMessages(ctx context.Context, chatID string, afterMessageID int64, limit int) (MessageList, error) {
	if err := m.guard(); err != nil {
		return MessageList{}, err
	}
	if chatID == "" {
		return MessageList{}, fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	return m.cfg.Store.MessagesAfter(ctx, chatID, afterMessageID, limit)
}

// GetRelatedQuestions asks the backend for follow-up questions to an
// already-recorded message.
func (m *Manager) GetRelatedQuestions(ctx context.Context, chatID string, messageID int64) ([]string, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	msg, err := m.cfg.Store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, err
	}

	return m.backend().RelatedQuestions(ctx, provider.Request{
		ChatID:   chatID,
		Messages: []provider.Message{{Role: provider.Role(msg.Role), Content: msg.Content}},
	})
}

// GenerateAnswer produces a single materialized answer for a recorded
// question, without a live stream. The answer is appended to the
// conversation as a complete assistant message.
func (m *Manager) GenerateAnswer(ctx context.Context, chatID string, questionID int64) (Message, error) {
	if err := m.guard(); err != nil {
		return Message{}, err
	}

	question, err := m.cfg.Store.GetMessage(ctx, chatID, questionID)
	if err != nil {
		return Message{}, err
	}

	resp, err := m.backend().Complete(ctx, provider.Request{
		ChatID:   chatID,
		Messages: []provider.Message{{Role: provider.Role(question.Role), Content: question.Content}},
	})
	if err != nil {
		return Message{}, err
	}

	return m.cfg.Store.AppendMessage(ctx, Message{
		ChatID:  chatID,
		Role:    RoleAssistant,
		Content: resp.Content,
		Status:  StatusComplete,
	})
}

// GetChatInfo returns aggregate information about a conversation.
func (m *Manager) GetChatInfo(ctx context.Context, chatID string) (ChatInfo, error) {
	if err := m.guard(); err != nil {
		return ChatInfo{}, err
	}

	conv, err := m.cfg.Store.GetConversation(ctx, chatID)
	if err != nil {
		return ChatInfo{}, err
	}
	count, err := m.cfg.Store.MessageCount(ctx, chatID)
	if err != nil {
		return ChatInfo{}, err
	}

	return ChatInfo{
		ID:           conv.ID,
		MessageCount: count,
		RAGIDs:       conv.RAGIDs,
		CreatedAt:    conv.CreatedAt,
	}, nil
}

// GetRAGIDs returns the conversation's RAG source identifiers.
func (m *Manager) GetRAGIDs(ctx context.Context, chatID string) ([]string, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	conv, err := m.cfg.Store.GetConversation(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return conv.RAGIDs, nil
}

// UpdateRAGIDs replaces the conversation's RAG source set. The replacement
// is atomic: readers observe either the old set or the new one, never a
// partial update.
func (m *Manager) UpdateRAGIDs(ctx context.Context, chatID string, ragIDs []string) error {
	if err := m.guard(); err != nil {
		return err
	}
	if chatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if _, err := m.cfg.Store.EnsureConversation(ctx, chatID); err != nil {
		return err
	}
	return m.cfg.Store.SetRAGIDs(ctx, chatID, ragIDs)
}

// CreateChatContext ingests caller-supplied source material as RAG
// context for the conversation, without touching the file system. The
// normalized entry's id is added to the conversation's RAG source set.
func (m *Manager) CreateChatContext(ctx context.Context, chatID string, md RAGMetadata) (provider.ContextData, error) {
	if err := m.guard(); err != nil {
		return provider.ContextData{}, err
	}
	if chatID == "" {
		return provider.ContextData{}, fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if md.ID == "" {
		md.ID = uuid.NewString()
	}

	entry := NormalizeRAGMetadata(md)

	conv, err := m.cfg.Store.EnsureConversation(ctx, chatID)
	if err != nil {
		return provider.ContextData{}, err
	}
	if err := m.cfg.Store.SetRAGIDs(ctx, chatID, append(conv.RAGIDs, entry.ID)); err != nil {
		return provider.ContextData{}, err
	}

	m.mu.Lock()
	m.attachments[chatID] = append(m.attachments[chatID], entry)
	m.mu.Unlock()

	return entry, nil
}

// AttachFile validates and ingests a file as RAG context for the
// conversation. Extension and size are checked before any content is read.
// The normalized entry's id is added to the conversation's RAG source set.
func (m *Manager) AttachFile(ctx context.Context, chatID, path string) (provider.ContextData, error) {
	if err := m.guard(); err != nil {
		return provider.ContextData{}, err
	}
	if chatID == "" {
		return provider.ContextData{}, fmt.Errorf("%w: chat_id", ErrEmptyField)
	}

	size, err := m.cfg.FS.Size(path)
	if err != nil {
		return provider.ContextData{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err := ValidateAttachment(path, size); err != nil {
		return provider.ContextData{}, err
	}

	data, err := m.cfg.FS.ReadFile(path)
	if err != nil {
		return provider.ContextData{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	entry := NormalizeRAGMetadata(RAGMetadata{
		ID:     uuid.NewString(),
		Name:   filepath.Base(path),
		Source: path,
		Data:   string(data),
		Loader: loaderForExtension(path),
	})

	conv, err := m.cfg.Store.EnsureConversation(ctx, chatID)
	if err != nil {
		return provider.ContextData{}, err
	}
	if err := m.cfg.Store.SetRAGIDs(ctx, chatID, append(conv.RAGIDs, entry.ID)); err != nil {
		return provider.ContextData{}, err
	}

	m.mu.Lock()
	m.attachments[chatID] = append(m.attachments[chatID], entry)
	m.mu.Unlock()

	return entry, nil
}
