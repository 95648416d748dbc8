// Package chatkit coordinates conversational AI sessions.
//
// chatkit is the control core of a chat application: it accepts chat
// messages, streams generated answers back over live channels, and manages
// a locally-hosted language model's lifecycle. Each subpackage can be used
// independently:
//
//   - chat: conversation management, stream admission, RAG context handling
//   - localai: local model lifecycle, downloads, plugin process control
//   - provider: backend abstraction for local and remote inference
//   - completion: standalone cancellable text-completion tasks
//   - notify: push-style state-change notifications
//
// # Quick Start
//
// Streaming a chat message:
//
//	import "github.com/randalmurphal/chatkit/chat"
//
//	mgr, _ := chat.NewManager(chat.Config{Store: chat.NewMemoryStore(), Remote: client})
//	answers := make(chan string, 64)
//	questions := make(chan string, 8)
//	res, _ := mgr.StreamChatMessage(ctx, chat.StreamChatRequest{
//	    ChatID:    "chat-1",
//	    Message:   "Hello",
//	    Answers:   answers,
//	    Questions: questions,
//	})
//	for token := range answers {
//	    fmt.Print(token)
//	}
//
// Selecting and downloading a local model:
//
//	import "github.com/randalmurphal/chatkit/localai"
//
//	ctrl, _ := localai.NewController(localai.Config{StorageDir: dir})
//	_, err := ctrl.SelectModel(ctx, "llama3.2-1b")
//
// # Design Philosophy
//
// chatkit follows these principles:
//
//   - At most one in-flight answer stream per conversation
//   - Cooperative cancellation between units of work, never preemptive
//   - Push-style delivery for progress and state changes
//   - Tagged errors so callers can tell contention from failure
package chatkit
