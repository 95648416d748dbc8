package chat

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Dispatch-layer payload types. The IPC layer that fronts the core
// deserializes into these, validates them field by field, and then calls
// the Manager. SchemaFor exposes JSON Schemas so that layer can validate
// without duplicating the rules here.

// StreamChatPayload is the wire form of a stream start request.
type StreamChatPayload struct {
	ChatID      string               `json:"chat_id" jsonschema:"required,minLength=1"`
	Message     string               `json:"message" jsonschema:"required,minLength=1,maxLength=5000"`
	MessageType string               `json:"message_type,omitempty" jsonschema:"enum=user,enum=system"`
	Format      string               `json:"format,omitempty" jsonschema:"enum=text,enum=markdown"`
	Metadata    []RAGMetadataPayload `json:"metadata,omitempty"`
}

// Validate checks required fields and enum membership.
func (p *StreamChatPayload) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: message", ErrEmptyField)
	}
	if len(p.Message) > DefaultMaxMessageLen {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(p.Message))
	}
	switch p.MessageType {
	case "", "user", "system":
	default:
		return fmt.Errorf("invalid message_type %q", p.MessageType)
	}
	return nil
}

// RAGMetadataPayload is the wire form of one RAG source record.
type RAGMetadataPayload struct {
	ID         string `json:"id" jsonschema:"required"`
	Name       string `json:"name" jsonschema:"required"`
	Source     string `json:"source,omitempty"`
	Data       string `json:"data"`
	LoaderType string `json:"loader_type"`
}

// ToMetadata converts the payload to the core metadata record.
func (p RAGMetadataPayload) ToMetadata() RAGMetadata {
	return RAGMetadata{
		ID:     p.ID,
		Name:   p.Name,
		Source: p.Source,
		Data:   p.Data,
		Loader: LoaderType(p.LoaderType),
	}
}

// RegeneratePayload is the wire form of a regenerate request.
type RegeneratePayload struct {
	ChatID          string `json:"chat_id" jsonschema:"required,minLength=1"`
	AnswerMessageID int64  `json:"answer_message_id" jsonschema:"required"`
	Format          string `json:"format,omitempty" jsonschema:"enum=text,enum=markdown"`
}

// Validate checks required fields.
func (p *RegeneratePayload) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if p.AnswerMessageID <= 0 {
		return fmt.Errorf("%w: answer_message_id", ErrEmptyField)
	}
	return nil
}

// StopStreamPayload is the wire form of a stream stop request.
type StopStreamPayload struct {
	ChatID string `json:"chat_id" jsonschema:"required,minLength=1"`
}

// Validate checks required fields.
func (p *StopStreamPayload) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	return nil
}

// LoadMessagesPayload is the wire form of a pagination request. Exactly
// one of BeforeMessageID and AfterMessageID should be set.
type LoadMessagesPayload struct {
	ChatID          string `json:"chat_id" jsonschema:"required,minLength=1"`
	Limit           int    `json:"limit" jsonschema:"minimum=1,maximum=100"`
	BeforeMessageID int64  `json:"before_message_id,omitempty"`
	AfterMessageID  int64  `json:"after_message_id,omitempty"`
}

// Validate checks required fields and bounds.
func (p *LoadMessagesPayload) Validate() error {
	if p.ChatID == "" {
		return fmt.Errorf("%w: chat_id", ErrEmptyField)
	}
	if p.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", p.Limit)
	}
	return nil
}

// SchemaFor returns the JSON Schema of a payload type for dispatch-layer
// validation.
//
// Example:
//
//	schema := chat.SchemaFor(&chat.StreamChatPayload{})
func SchemaFor(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return r.Reflect(v)
}
