// Package anthropic implements the Anthropic Messages API backend.
package anthropic

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/sse"
)

// effortBudgets maps an effort level onto a thinking budget, since the
// Messages API only accepts budgets.
var effortBudgets = map[string]int{
	"high":   16000,
	"medium": 8000,
	"low":    2048,
}

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// New creates a new Anthropic provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		return nil, errors.New("anthropic: API key required")
	}

	return &Provider{
		client: newClient(cfg.apiKey, cfg.baseURL, cfg.httpClient),
	}, nil
}

// Factory builds a provider from registry configuration.
func Factory(_ provider.Kind, cfg provider.Config) (provider.Provider, error) {
	return New(WithAPIKey(cfg.APIKey), WithBaseURL(cfg.BaseURL))
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return string(provider.KindAnthropic)
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.messages(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	reader, body, err := p.client.messagesStream(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}

	return &anthropicStream{
		reader:      reader,
		body:        body,
		accumulated: &provider.Response{},
	}, nil
}

// buildRequest converts a provider.Request to an Anthropic API request.
func buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}

	// max_tokens is required by the Messages API.
	apiReq.MaxTokens = defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		apiReq.MaxTokens = *req.MaxTokens
	}

	for _, msg := range req.Messages {
		// Extract system message
		if msg.Role == provider.RoleSystem {
			if apiReq.System != "" {
				apiReq.System += "\n\n"
			}
			apiReq.System += msg.Content
			continue
		}
		if msg.Content == "" {
			continue
		}
		apiReq.Messages = append(apiReq.Messages, message{
			Role:    string(msg.Role),
			Content: []contentPart{{Type: "text", Text: msg.Content}},
		})
	}

	if req.Reasoning != nil {
		budget := req.Reasoning.BudgetTokens
		if budget == 0 {
			budget = effortBudgets[req.Reasoning.Effort]
		}
		if budget == 0 {
			budget = effortBudgets["medium"]
		}
		apiReq.Thinking = &thinking{Type: "enabled", BudgetTokens: budget}

		// Thinking requires max_tokens above the budget and no sampling overrides.
		if apiReq.MaxTokens <= budget {
			apiReq.MaxTokens = budget + defaultMaxTokens
		}
		apiReq.Temperature = nil
		apiReq.TopP = nil
	}

	return apiReq
}

// convertResponse converts an Anthropic API response to a provider.Response.
// Thinking blocks are dropped.
func convertResponse(resp *messagesResponse) *provider.Response {
	result := &provider.Response{
		FinishReason: convertStopReason(resp.StopReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			result.Content += block.Text
		}
	}

	return result
}

func convertStopReason(reason string) provider.FinishReason {
	if reason == "max_tokens" {
		return provider.FinishReasonLength
	}
	return provider.FinishReasonStop
}

// anthropicStream implements provider.ResponseStream for Anthropic.
type anthropicStream struct {
	reader      *sse.Reader
	body        io.Closer
	accumulated *provider.Response
	err         error
	current     *provider.StreamChunk
	done        bool
}

func (s *anthropicStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.reader.Next() {
		var event streamEvent
		if err := s.reader.DecodeJSON(&event); err != nil {
			if errors.Is(err, sse.ErrMalformed) {
				continue
			}
			s.err = err
			return false
		}

		chunk, ok := s.handle(&event)
		if s.done || s.err != nil {
			return false
		}
		if ok {
			s.current = chunk
			return true
		}
	}

	s.done = true
	s.err = s.reader.Err()
	return false
}

// handle applies one event and returns the chunk it produced, if any.
func (s *anthropicStream) handle(event *streamEvent) (*provider.StreamChunk, bool) {
	switch event.Type {
	case "message_start":
		if event.Message != nil {
			s.accumulated.Usage.PromptTokens = event.Message.Usage.InputTokens
		}

	case "content_block_delta":
		if event.Delta == nil {
			return nil, false
		}
		switch event.Delta.Type {
		case "thinking_delta":
			return &provider.StreamChunk{Delta: event.Delta.Thinking, Reasoning: true}, true
		case "signature_delta":
			return &provider.StreamChunk{Delta: event.Delta.Signature, Reasoning: true}, true
		default:
			if event.Delta.Text != "" {
				s.accumulated.Content += event.Delta.Text
				return &provider.StreamChunk{Delta: event.Delta.Text}, true
			}
		}

	case "message_delta":
		if event.Usage != nil {
			s.accumulated.Usage.CompletionTokens = event.Usage.OutputTokens
			s.accumulated.Usage.TotalTokens = s.accumulated.Usage.PromptTokens + event.Usage.OutputTokens
		}
		if event.Delta != nil && event.Delta.StopReason != "" {
			reason := convertStopReason(event.Delta.StopReason)
			s.accumulated.FinishReason = reason
			return &provider.StreamChunk{FinishReason: reason}, true
		}

	case "error":
		if event.Error != nil {
			s.err = &provider.APIError{
				Provider:   "anthropic",
				StatusCode: errorStatus(event.Error.Type),
				Type:       event.Error.Type,
				Message:    event.Error.Message,
			}
		}

	case "message_stop":
		s.done = true
	}

	return nil, false
}

func (s *anthropicStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *anthropicStream) Err() error {
	return s.err
}

func (s *anthropicStream) Close() error {
	return s.body.Close()
}

func (s *anthropicStream) Accumulated() *provider.Response {
	return s.accumulated
}

// Skipped reports how many malformed payloads were ignored.
func (s *anthropicStream) Skipped() int {
	return s.reader.Skipped()
}
