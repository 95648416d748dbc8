package chat

import "errors"

// Sentinel errors for chat operations.
var (
	// ErrConversationBusy indicates a live stream already exists for the
	// conversation. Expected under contention; retry after the conflicting
	// stream completes or is stopped.
	ErrConversationBusy = errors.New("conversation already has an active stream")

	// ErrClosed indicates the manager has been torn down. Entry operations
	// fail with this instead of dereferencing dead state.
	ErrClosed = errors.New("chat manager is closed")

	// ErrNotFound indicates the conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedFormat indicates a disallowed attachment extension.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrPayloadTooLarge indicates an attachment over the size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMessageTooLong indicates the chat message exceeds the length limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrEmptyField indicates a required request field is missing.
	ErrEmptyField = errors.New("required field is empty")
)
