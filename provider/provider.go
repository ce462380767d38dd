// Package provider defines the backend abstraction and the registry that
// resolves "provider:modelId" strings against configured backends.
package provider

import "context"

// Provider is the core abstraction for LLM backends.
// All backend implementations must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier (e.g., "openrouter", "anthropic").
	Name() string

	// Call executes a non-streaming request.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// StreamingProvider extends Provider with streaming capability.
type StreamingProvider interface {
	Provider

	// CallStream executes a streaming request.
	CallStream(ctx context.Context, req *Request) (ResponseStream, error)
}

// ResponseStream represents a streaming response.
type ResponseStream interface {
	// Next advances to the next chunk, returns false when done.
	Next() bool

	// Current returns the current chunk.
	Current() *StreamChunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close releases stream resources.
	Close() error

	// Accumulated returns the visible response accumulated so far.
	Accumulated() *Response
}

// StreamChunk is one decoded increment of a streaming response.
// Reasoning chunks carry hidden "thinking" text and are never shown to users.
type StreamChunk struct {
	Delta        string
	Reasoning    bool
	FinishReason FinishReason
}
