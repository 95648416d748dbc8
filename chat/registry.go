package chat

import (
	"context"
	"sync"
	"time"
)

// StreamRegistry tracks the live answer stream of each conversation and
// enforces single-stream admission. Registration and retirement are atomic
// with respect to concurrent starts for the same conversation: of two
// racing starts, exactly one wins and the loser observes
// ErrConversationBusy.
type StreamRegistry struct {
	mu      sync.Mutex
	streams map[string]*StreamHandle
}

// NewStreamRegistry creates an empty registry.
func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{streams: make(map[string]*StreamHandle)}
}

// start admits a new stream for the conversation and begins asynchronous
// production. With supersede set (regeneration), any live stream is
// cancelled and the new handle takes its table slot in the same critical
// section, so no third caller can slip in between.
func (r *StreamRegistry) start(ctx context.Context, spec streamSpec, supersede bool) (*StreamHandle, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	h := &StreamHandle{
		chatID:    spec.chatID,
		answerID:  spec.answerID,
		created:   time.Now(),
		answers:   spec.answers,
		questions: spec.questions,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.streams[spec.chatID]
	if prev != nil {
		if !supersede {
			r.mu.Unlock()
			cancel()
			return nil, ErrConversationBusy
		}
		prev.cancelled.Store(true)
		prev.cancel()
	}
	r.streams[spec.chatID] = h
	r.mu.Unlock()

	go func() {
		// Regeneration waits for the superseded stream to retire before
		// producing, so two streams never emit tokens concurrently.
		if prev != nil {
			<-prev.done
		}
		run(streamCtx, h, spec)
		cancel()
		r.retire(h)
	}()

	return h, nil
}

// retire removes the handle from the table and signals Done. The identity
// check keeps a superseded stream from unregistering its successor.
func (r *StreamRegistry) retire(h *StreamHandle) {
	r.mu.Lock()
	if r.streams[h.chatID] == h {
		delete(r.streams, h.chatID)
	}
	r.mu.Unlock()
	close(h.done)
}

// Stop requests cancellation of the conversation's live stream, if any,
// and waits for it to retire. After Stop returns, the answer message is in
// a terminal status. Stopping an idle conversation is a no-op.
func (r *StreamRegistry) Stop(chatID string) {
	r.mu.Lock()
	h := r.streams[chatID]
	r.mu.Unlock()

	if h == nil {
		return
	}
	h.cancelled.Store(true)
	h.cancel()
	<-h.done
}

// IsActive reports whether the conversation has a live stream.
func (r *StreamRegistry) IsActive(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[chatID]
	return ok
}

// StopAll stops every live stream. Used during manager teardown.
func (r *StreamRegistry) StopAll() {
	r.mu.Lock()
	handles := make([]*StreamHandle, 0, len(r.streams))
	for _, h := range r.streams {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.cancelled.Store(true)
		h.cancel()
		<-h.done
	}
}
