package provider

import "fmt"

// Request represents a provider-agnostic LLM request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Reasoning   *Reasoning
}

// Reasoning carries the reasoning decoration for a request.
// Exactly one of Effort or BudgetTokens is set.
type Reasoning struct {
	Effort       string
	BudgetTokens int
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response contains the backend's visible response.
type Response struct {
	Content      string
	FinishReason FinishReason
	Usage        Usage
}

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop   FinishReason = "stop"
	FinishReasonLength FinishReason = "length"
)

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// APIError is a non-2xx answer from a backend.
// Backends return it unwrapped so the caller can classify StatusCode.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}
