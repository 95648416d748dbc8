// Package provider defines the backend abstraction for message generation.
//
// A provider is an inference backend: the locally-hosted model plugin or a
// remote service. Backends register a factory by name and are constructed
// through New, so the chat core never depends on a concrete backend.
//
// # Usage
//
//	client, err := provider.New("remote", provider.Config{
//	    Model: "gpt-4o-mini",
//	    Host:  "api.example.com",
//	})
package provider

import (
	"context"
	"time"
)

// Client is a message-generation backend.
//
// Stream returns a finite, non-restartable sequence of chunks; the channel
// is closed after the final chunk or an error chunk. Complete and
// RelatedQuestions are single-shot variants used when the caller wants a
// materialized result rather than a live stream.
type Client interface {
	// Stream starts generation and returns a channel of incremental chunks.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// Complete runs a single non-streaming generation.
	Complete(ctx context.Context, req Request) (*Response, error)

	// RelatedQuestions proposes follow-up questions for the given context.
	RelatedQuestions(ctx context.Context, req Request) ([]string, error)

	// Name returns the backend name ("local", "remote", ...).
	Name() string
}

// Config holds backend-agnostic client configuration.
type Config struct {
	// Model is the default model name for requests that don't specify one.
	Model string `json:"model,omitempty"`

	// Host is the backend server address, for backends that need one.
	Host string `json:"host,omitempty"`

	// RequestTimeout bounds individual generation calls. Zero means no
	// client-side timeout.
	RequestTimeout time.Duration `json:"request_timeout,omitempty"`

	// Options holds backend-specific configuration.
	Options map[string]any `json:"options,omitempty"`
}
