// Package gemini implements the Google Gemini generateContent backend.
package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/sse"
)

var effortBudgets = map[string]int{
	"high":   24576,
	"medium": 8192,
	"low":    1024,
}

// Provider implements the Gemini API.
type Provider struct {
	client *client
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.apiKey == "" {
		return nil, errors.New("gemini: API key required")
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
	return string(provider.KindGemini)
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.generateContent(ctx, req.Model, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	reader, body, err := p.client.streamGenerateContent(ctx, req.Model, buildRequest(req))
	if err != nil {
		return nil, err
	}

	return &geminiStream{
		reader:      reader,
		body:        body,
		accumulated: &provider.Response{},
	}, nil
}

// buildRequest converts a provider.Request to a Gemini API request.
func buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{
		Contents: make([]content, 0, len(req.Messages)),
	}

	if req.Temperature != nil || req.MaxTokens != nil || req.TopP != nil || req.Reasoning != nil {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
		}
	}

	if req.Reasoning != nil {
		budget := req.Reasoning.BudgetTokens
		if budget == 0 {
			budget = effortBudgets[req.Reasoning.Effort]
		}
		if budget == 0 {
			budget = effortBudgets["medium"]
		}
		apiReq.GenerationConfig.ThinkingConfig = &thinkingConfig{ThinkingBudget: budget}
	}

	for _, msg := range req.Messages {
		// Extract system message
		if msg.Role == provider.RoleSystem {
			if apiReq.SystemInstruction == nil {
				apiReq.SystemInstruction = &content{}
			}
			apiReq.SystemInstruction.Parts = append(apiReq.SystemInstruction.Parts, part{Text: msg.Content})
			continue
		}
		if msg.Content == "" {
			continue
		}
		apiReq.Contents = append(apiReq.Contents, content{
			Role:  convertRole(msg.Role),
			Parts: []part{{Text: msg.Content}},
		})
	}

	return apiReq
}

// convertResponse converts a Gemini API response to a provider.Response.
// Thought parts are dropped.
func convertResponse(resp *generateContentResponse) *provider.Response {
	result := &provider.Response{}

	if resp.UsageMetadata != nil {
		result.Usage = convertUsage(resp.UsageMetadata)
	}

	if len(resp.Candidates) == 0 {
		return result
	}

	candidate := resp.Candidates[0]
	result.FinishReason = convertFinishReason(candidate.FinishReason)

	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if !part.Thought {
				result.Content += part.Text
			}
		}
	}

	return result
}

func convertUsage(u *usageMetadata) provider.Usage {
	return provider.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

func convertRole(role provider.Role) string {
	if role == provider.RoleAssistant {
		return "model"
	}
	return string(role)
}

func convertFinishReason(reason string) provider.FinishReason {
	if reason == "MAX_TOKENS" {
		return provider.FinishReasonLength
	}
	return provider.FinishReasonStop
}

// geminiStream implements provider.ResponseStream for Gemini.
type geminiStream struct {
	reader      *sse.Reader
	body        io.Closer
	accumulated *provider.Response
	pending     []provider.StreamChunk
	current     *provider.StreamChunk
	err         error
}

func (s *geminiStream) Next() bool {
	if s.err != nil {
		return false
	}

	for len(s.pending) == 0 {
		if !s.reader.Next() {
			s.err = s.reader.Err()
			return false
		}

		var chunk generateContentResponse
		if err := s.reader.DecodeJSON(&chunk); err != nil {
			if errors.Is(err, sse.ErrMalformed) {
				continue
			}
			s.err = err
			return false
		}
		if chunk.Error != nil {
			s.err = convertError(0, chunk.Error)
			return false
		}
		s.consume(&chunk)
	}

	c := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &c
	return true
}

// consume queues one chunk per part; a single event may mix thought and
// visible parts.
func (s *geminiStream) consume(chunk *generateContentResponse) {
	if chunk.UsageMetadata != nil {
		s.accumulated.Usage = convertUsage(chunk.UsageMetadata)
	}
	if len(chunk.Candidates) == 0 {
		return
	}

	candidate := chunk.Candidates[0]
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p.Text == "" {
				continue
			}
			if p.Thought {
				s.pending = append(s.pending, provider.StreamChunk{Delta: p.Text, Reasoning: true})
				continue
			}
			s.accumulated.Content += p.Text
			s.pending = append(s.pending, provider.StreamChunk{Delta: p.Text})
		}
	}
	if candidate.FinishReason != "" {
		reason := convertFinishReason(candidate.FinishReason)
		s.accumulated.FinishReason = reason
		s.pending = append(s.pending, provider.StreamChunk{FinishReason: reason})
	}
}

func (s *geminiStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *geminiStream) Err() error {
	return s.err
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}

func (s *geminiStream) Accumulated() *provider.Response {
	return s.accumulated
}

// Skipped reports how many malformed payloads were ignored.
func (s *geminiStream) Skipped() int {
	return s.reader.Skipped()
}
