package anthropic

// messagesRequest represents an Anthropic Messages API request.
type messagesRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Thinking    *thinking `json:"thinking,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// thinking enables extended thinking with a token budget.
type thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// message represents a message in the conversation.
type message struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

// contentPart represents a part of message content.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// messagesResponse represents an Anthropic Messages API response.
type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      messagesUsage  `json:"usage"`
}

// contentBlock represents a content block in the response. Thinking blocks
// carry their text in Thinking and are never surfaced.
type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

// messagesUsage represents token usage information.
type messagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Streaming event types
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta *delta `json:"delta,omitempty"`
	// For message_start
	Message *messagesResponse `json:"message,omitempty"`
	// For content_block_start
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	// For message_delta
	Usage *deltaUsage `json:"usage,omitempty"`
	// For error
	Error *apiError `json:"error,omitempty"`
}

type delta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	Thinking   string `json:"thinking,omitempty"`
	Signature  string `json:"signature,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type deltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// errorResponse represents an API error response.
type errorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

// apiError represents the error details.
type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
