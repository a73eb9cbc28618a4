// Package llm defines the chat-completion endpoint abstraction used by the
// conversation pipeline. An [Endpoint] is one OpenAI-compatible API target
// (base URL, model, key); failover across endpoints is layered on top by the
// caller.
package llm

import "context"

// Message roles, matching the OpenAI chat schema.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one chat completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64

	// JSONObject requests response_format json_object. Endpoints that do
	// not support it return an error and the caller retries without.
	JSONObject bool
}

// Stream yields the content deltas of a streaming completion. Empty deltas
// are skipped; Next returns io.EOF when the stream ends normally.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Endpoint is a single chat-completion backend.
type Endpoint interface {
	// StreamChat starts a streaming completion. Request construction and
	// connection errors are returned immediately; errors after the stream
	// is established surface through Stream.Next.
	StreamChat(ctx context.Context, req Request) (Stream, error)

	// Complete runs a non-streaming completion and returns the full
	// message content.
	Complete(ctx context.Context, req Request) (string, error)
}
