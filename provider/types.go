package provider

import "time"

// Role identifies the message sender.
type Role string

// Standard message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a conversation turn sent to the backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// OutputFormat selects how the backend should format generated answers.
type OutputFormat string

// Supported output formats.
const (
	FormatPlainText OutputFormat = "text"
	FormatMarkdown  OutputFormat = "markdown"
)

// ContextType classifies retrieval-augmented context supplied with a request.
type ContextType string

// Supported context types. Unrecognized source kinds map to ContextUnknown
// rather than failing, so new loaders can be added without breaking callers.
const (
	ContextText     ContextType = "text"
	ContextMarkdown ContextType = "markdown"
	ContextPDF      ContextType = "pdf"
	ContextUnknown  ContextType = "unknown"
)

// ContextData is a normalized piece of RAG source material attached to a
// request. Size is derived from the content for text-like types; PDF and
// unknown types report zero until extraction happens downstream.
type ContextData struct {
	// ID identifies the source document.
	ID string `json:"id"`

	// Name is the human-readable display name of the source.
	Name string `json:"name"`

	// Source describes where the content came from (path, URL, app object id).
	Source string `json:"source,omitempty"`

	// Content is the raw or referenced content.
	Content string `json:"content"`

	// ContentType tags how Content should be interpreted.
	ContentType ContextType `json:"content_type"`

	// Size is the content size in bytes. Always non-negative; zero when
	// extraction is deferred (PDF, unknown types).
	Size int64 `json:"size"`

	// Extra holds optional extraction metadata.
	Extra map[string]string `json:"extra,omitempty"`
}

// Request configures a generation call.
// This is the backend-agnostic request format used for both the local
// plugin and remote inference services.
type Request struct {
	// ChatID identifies the conversation this request belongs to.
	ChatID string `json:"chat_id,omitempty"`

	// Messages is the conversation history to send to the model.
	Messages []Message `json:"messages"`

	// Model specifies which model to use (backend-specific name).
	Model string `json:"model,omitempty"`

	// Format selects the answer output format. Defaults to plain text.
	Format OutputFormat `json:"format,omitempty"`

	// Context carries normalized RAG source material for grounding.
	Context []ContextData `json:"context,omitempty"`

	// MaxTokens limits the response length.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Options holds backend-specific configuration not covered by
	// standard fields.
	Options map[string]any `json:"options,omitempty"`
}

// Response is the output of a non-streaming generation call.
type Response struct {
	// Content is the text response from the model.
	Content string `json:"content"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// FinishReason indicates why the model stopped generating.
	// Common values: "stop", "length", "error"
	FinishReason string `json:"finish_reason"`

	// Duration is the time taken for the completion.
	Duration time.Duration `json:"duration"`
}

// StreamChunk is a piece of a streaming response. The chunk sequence is
// finite and not restartable; the channel is closed after the final chunk.
type StreamChunk struct {
	// Content is the text content in this chunk.
	Content string `json:"content,omitempty"`

	// Questions carries follow-up question suggestions proposed by the
	// backend, usually only on the final chunk.
	Questions []string `json:"questions,omitempty"`

	// Done indicates this is the final chunk.
	Done bool `json:"done"`

	// Error is non-nil if streaming failed.
	Error error `json:"-"`
}
