package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/chatkit/provider"
)

// StreamHandle is a live answer stream for one conversation.
// For a given conversation at most one live handle exists at any instant.
type StreamHandle struct {
	chatID   string
	answerID int64
	created  time.Time

	answers   chan<- string
	questions chan<- string

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// ChatID returns the owning conversation id.
func (h *StreamHandle) ChatID() string {
	return h.chatID
}

// AnswerID returns the id of the message the stream is producing.
func (h *StreamHandle) AnswerID() int64 {
	return h.answerID
}

// CreatedAt returns when the stream was admitted.
func (h *StreamHandle) CreatedAt() time.Time {
	return h.created
}

// Cancelled reports whether a stop was requested.
func (h *StreamHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done returns a channel closed when the stream has retired and its
// message record holds a terminal status.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.done
}

// streamSpec describes one stream to produce.
type streamSpec struct {
	chatID    string
	answerID  int64
	client    provider.Client
	request   provider.Request
	answers   chan<- string
	questions chan<- string
	store     Store
}

// run produces the stream: pulls chunks from the backend, forwards tokens
// and question suggestions to the caller's channels, and leaves the answer
// message in a terminal status. The cancellation flag is observed between
// chunks, never mid-chunk.
func run(ctx context.Context, h *StreamHandle, spec streamSpec) {
	defer func() {
		close(h.answers)
		if h.questions != nil {
			close(h.questions)
		}
	}()

	// Finalization must survive stream cancellation.
	bg := context.WithoutCancel(ctx)

	msg, err := spec.store.GetMessage(ctx, spec.chatID, spec.answerID)
	if err != nil {
		slog.Warn("stream answer message missing",
			slog.String("chat_id", spec.chatID),
			slog.Int64("message_id", spec.answerID))
		return
	}

	var content strings.Builder

	finalize := func(status MessageStatus, reason string) {
		msg.Content = content.String()
		msg.Status = status
		msg.FailReason = reason
		if err := spec.store.UpdateMessage(bg, msg); err != nil {
			slog.Warn("update answer message failed",
				slog.String("chat_id", spec.chatID),
				slog.Any("error", err))
		}
	}

	msg.Status = StatusStreaming
	if err := spec.store.UpdateMessage(ctx, msg); err != nil {
		finalize(StatusFailed, err.Error())
		return
	}

	chunks, err := spec.client.Stream(ctx, spec.request)
	if err != nil {
		finalize(StatusFailed, err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			finalize(StatusFailed, FailReasonCancelled)
			return

		case chunk, ok := <-chunks:
			if !ok {
				finalize(StatusComplete, "")
				return
			}
			if chunk.Error != nil {
				if h.cancelled.Load() {
					finalize(StatusFailed, FailReasonCancelled)
				} else {
					finalize(StatusFailed, chunk.Error.Error())
				}
				return
			}
			// Safe suspension point: between chunks.
			if h.cancelled.Load() {
				finalize(StatusFailed, FailReasonCancelled)
				return
			}

			if chunk.Content != "" {
				content.WriteString(chunk.Content)
				select {
				case h.answers <- chunk.Content:
				case <-ctx.Done():
					finalize(StatusFailed, FailReasonCancelled)
					return
				}
			}

			if h.questions != nil {
				for _, q := range chunk.Questions {
					select {
					case h.questions <- q:
					case <-ctx.Done():
						finalize(StatusFailed, FailReasonCancelled)
						return
					}
				}
			}

			if chunk.Done {
				finalize(StatusComplete, "")
				return
			}
		}
	}
}
