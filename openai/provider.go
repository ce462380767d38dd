// Package openai implements the OpenAI chat completions wire format. It backs
// the openai, openrouter, local and ollama provider kinds, which all speak it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/sse"
)

// Default base URLs for the hosted kinds. Local servers must be configured.
const (
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Extra keys read from provider.Config.Extra.
const (
	ExtraReferer = "http_referer"
	ExtraTitle   = "x_title"
)

// Provider implements an OpenAI-compatible backend.
type Provider struct {
	kind   provider.Kind
	client *client
}

// Option configures the provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	headers    map[string]string
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

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *providerConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// New creates a provider speaking the OpenAI format for kind.
func New(kind provider.Kind, opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.baseURL == "" {
		switch kind {
		case provider.KindOpenAI:
			cfg.baseURL = DefaultOpenAIBaseURL
		case provider.KindOpenRouter:
			cfg.baseURL = DefaultOpenRouterBaseURL
		default:
			return nil, fmt.Errorf("openai: %s requires a base URL", kind)
		}
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	if kind == provider.KindOllama && !strings.HasSuffix(cfg.baseURL, "/v1") {
		cfg.baseURL += "/v1"
	}

	if cfg.httpClient == nil {
		cfg.httpClient = http.DefaultClient
	}

	return &Provider{
		kind: kind,
		client: &client{
			name:       string(kind),
			apiKey:     cfg.apiKey,
			baseURL:    cfg.baseURL,
			headers:    cfg.headers,
			httpClient: cfg.httpClient,
		},
	}, nil
}

// Factory builds a provider from registry configuration.
func Factory(kind provider.Kind, cfg provider.Config) (provider.Provider, error) {
	opts := []Option{WithAPIKey(cfg.APIKey), WithBaseURL(cfg.BaseURL)}
	if kind == provider.KindOpenRouter {
		if v := cfg.Extra[ExtraReferer]; v != "" {
			opts = append(opts, WithHeader("HTTP-Referer", v))
		}
		if v := cfg.Extra[ExtraTitle]; v != "" {
			opts = append(opts, WithHeader("X-Title", v))
		}
	}
	return New(kind, opts...)
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return string(p.kind)
}

// Call implements provider.Provider.
func (p *Provider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.chatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CallStream implements provider.StreamingProvider.
func (p *Provider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	reader, body, err := p.client.chatCompletionStream(ctx, p.buildRequest(req))
	if err != nil {
		return nil, err
	}

	return &openaiStream{
		client:      p.client,
		reader:      reader,
		body:        body,
		accumulated: &provider.Response{},
	}, nil
}

// buildRequest converts a provider.Request to the wire request and applies
// the reasoning decoration in the dialect of p.kind.
func (p *Provider) buildRequest(req *provider.Request) *chatCompletionRequest {
	apiReq := &chatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}

	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	if req.Reasoning == nil {
		return apiReq
	}

	switch p.kind {
	case provider.KindOpenRouter:
		if req.Reasoning.Effort != "" {
			apiReq.Reasoning = &reasoning{Effort: req.Reasoning.Effort}
		} else {
			apiReq.Reasoning = &reasoning{MaxTokens: req.Reasoning.BudgetTokens}
		}
	case provider.KindOpenAI:
		// Reasoning models reject max_tokens and sampling parameters.
		apiReq.MaxCompletionTokens = apiReq.MaxTokens
		apiReq.MaxTokens = nil
		apiReq.Temperature = nil
		apiReq.TopP = nil
		apiReq.ReasoningEffort = req.Reasoning.Effort
	default:
		apiReq.ReasoningEffort = req.Reasoning.Effort
	}

	return apiReq
}

// convertResponse converts a wire response to a provider.Response.
// Reasoning fields of the message are dropped.
func convertResponse(resp *chatCompletionResponse) *provider.Response {
	if len(resp.Choices) == 0 {
		return &provider.Response{}
	}

	choice := resp.Choices[0]
	return &provider.Response{
		Content:      choice.Message.Content,
		FinishReason: convertFinishReason(choice.FinishReason),
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func convertFinishReason(reason string) provider.FinishReason {
	if reason == "length" {
		return provider.FinishReasonLength
	}
	return provider.FinishReasonStop
}

// openaiStream implements provider.ResponseStream.
type openaiStream struct {
	client      *client
	reader      *sse.Reader
	body        io.Closer
	accumulated *provider.Response
	pending     []provider.StreamChunk
	current     *provider.StreamChunk
	err         error
}

func (s *openaiStream) Next() bool {
	if s.err != nil {
		return false
	}

	for len(s.pending) == 0 {
		if !s.reader.Next() {
			s.err = s.reader.Err()
			return false
		}

		var chunk streamChunk
		if err := s.reader.DecodeJSON(&chunk); err != nil {
			if errors.Is(err, sse.ErrMalformed) {
				continue
			}
			s.err = err
			return false
		}
		if chunk.Error != nil {
			s.err = s.client.streamError(chunk.Error)
			return false
		}
		s.consume(&chunk)
	}

	c := s.pending[0]
	s.pending = s.pending[1:]
	s.current = &c
	return true
}

// consume turns one wire chunk into zero or more pending chunks. A single
// delta may carry both reasoning and visible content.
func (s *openaiStream) consume(chunk *streamChunk) {
	if chunk.Usage != nil {
		s.accumulated.Usage = provider.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	if len(chunk.Choices) == 0 {
		return
	}

	choice := chunk.Choices[0]
	if r := choice.Delta.reasoningText(); r != "" {
		s.pending = append(s.pending, provider.StreamChunk{Delta: r, Reasoning: true})
	}
	if choice.Delta.Content != "" {
		s.accumulated.Content += choice.Delta.Content
		s.pending = append(s.pending, provider.StreamChunk{Delta: choice.Delta.Content})
	}
	if choice.FinishReason != nil {
		reason := convertFinishReason(*choice.FinishReason)
		s.accumulated.FinishReason = reason
		s.pending = append(s.pending, provider.StreamChunk{FinishReason: reason})
	}
}

func (s *openaiStream) Current() *provider.StreamChunk {
	return s.current
}

func (s *openaiStream) Err() error {
	return s.err
}

func (s *openaiStream) Close() error {
	return s.body.Close()
}

func (s *openaiStream) Accumulated() *provider.Response {
	return s.accumulated
}

// Skipped reports how many malformed payloads were ignored.
func (s *openaiStream) Skipped() int {
	return s.reader.Skipped()
}
