package chat

import (
	"time"
)

// Role identifies who authored a message.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus is the delivery status of a message.
type MessageStatus string

// Message delivery statuses. A message is mutated only by the stream that
// produces it or by explicit regeneration, and is immutable once complete.
const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusFailed    MessageStatus = "failed"
)

// FailReasonCancelled marks a message whose stream was stopped by the caller.
const FailReasonCancelled = "cancelled"

// Message is a single conversation turn.
type Message struct {
	// ID is assigned by the store, strictly increasing per conversation.
	ID int64 `json:"id"`

	// ChatID is a back-reference to the owning conversation.
	ChatID string `json:"chat_id"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	CreatedAt time.Time `json:"created_at"`

	Status MessageStatus `json:"status"`

	// FailReason explains a failed status ("cancelled", backend error text).
	FailReason string `json:"fail_reason,omitempty"`
}

// Terminal reports whether the message has reached a final status.
func (m Message) Terminal() bool {
	return m.Status == StatusComplete || m.Status == StatusFailed
}

// Conversation is a chat session. Created on first message, never
// implicitly destroyed.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// RAGIDs is the set of RAG source identifiers associated with the
	// conversation's settings. Replaced atomically by UpdateRAGIDs.
	RAGIDs []string `json:"rag_ids"`
}

// ChatInfo is an aggregate view over a conversation.
type ChatInfo struct {
	ID           string    `json:"id"`
	MessageCount int       `json:"message_count"`
	RAGIDs       []string  `json:"rag_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessageList is one bounded, ordered page of messages.
type MessageList struct {
	// Messages in ascending id order.
	Messages []Message `json:"messages"`

	// HasMore reports whether more messages exist beyond this page in the
	// direction of the query.
	HasMore bool `json:"has_more"`
}
