// Package chat coordinates conversations and answer streams.
//
// The Manager is the entry point. It validates requests, resolves RAG
// context, and routes generation to a local or remote backend. Answer
// tokens and follow-up question suggestions are pushed to channels the
// caller supplies when a stream starts, independent of the call's return
// value.
//
// # Stream admission
//
// At most one answer stream is live per conversation at any instant.
// Starting a second stream fails with ErrConversationBusy; regeneration is
// the exception and supersedes the live stream. Admission is an atomic
// check-then-insert against a single registry, so two racing starts can
// never both win.
//
// # Cancellation
//
// Cancellation is cooperative: the producing goroutine observes the stop
// flag between tokens and retires within one scheduling step. Content
// emitted before the stop is retained on the message record (status
// failed, reason cancelled), never discarded.
//
// # Usage
//
//	mgr, err := chat.NewManager(chat.Config{
//	    Store:  chat.NewMemoryStore(),
//	    Remote: remoteClient,
//	})
//	answers := make(chan string, 64)
//	res, err := mgr.StreamChatMessage(ctx, chat.StreamChatRequest{
//	    ChatID:  "chat-1",
//	    Message: "What is a goroutine?",
//	    Answers: answers,
//	})
package chat
