package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/sse"
)

// client wraps the HTTP client for OpenAI-compatible API calls.
type client struct {
	name       string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

// chatCompletion sends a chat completion request.
func (c *client) chatCompletion(ctx context.Context, req *chatCompletionRequest) (*chatCompletionResponse, error) {
	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.parseError(httpResp.StatusCode, respBody)
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return &resp, nil
}

// chatCompletionStream sends a streaming chat completion request.
func (c *client) chatCompletionStream(ctx context.Context, req *chatCompletionRequest) (*sse.Reader, io.Closer, error) {
	// Create a copy with stream enabled
	streamReq := *req
	streamReq.Stream = true
	streamReq.StreamOptions = &streamOptions{IncludeUsage: true}

	httpResp, err := c.post(ctx, &streamReq)
	if err != nil {
		return nil, nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, nil, c.parseError(httpResp.StatusCode, respBody)
	}

	return sse.NewReader(httpResp.Body), httpResp.Body, nil
}

func (c *client) post(ctx context.Context, req *chatCompletionRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return httpResp, nil
}

// parseError parses an error response from the API.
func (c *client) parseError(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == nil {
		return &provider.APIError{
			Provider:   c.name,
			StatusCode: statusCode,
			Message:    string(body),
		}
	}

	return &provider.APIError{
		Provider:   c.name,
		StatusCode: statusCode,
		Message:    errResp.Error.Message,
		Type:       errResp.Error.Type,
	}
}

// streamError converts an error object delivered inside the stream.
func (c *client) streamError(e *apiError) error {
	status := http.StatusBadGateway
	if code, ok := e.Code.(float64); ok && code >= 400 {
		status = int(code)
	}
	return &provider.APIError{
		Provider:   c.name,
		StatusCode: status,
		Message:    e.Message,
		Type:       e.Type,
	}
}
