package gemini

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

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	apiVersion     = "v1beta"
)

// client wraps the HTTP client for Gemini API calls.
type client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// newClient creates a new Gemini client.
func newClient(apiKey, baseURL string, httpClient *http.Client) *client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// generateContent sends a generateContent request.
func (c *client) generateContent(ctx context.Context, model string, req *generateContentRequest) (*generateContentResponse, error) {
	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, model)
	httpResp, err := c.post(ctx, url, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseError(httpResp.StatusCode, respBody)
	}

	var resp generateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return &resp, nil
}

// streamGenerateContent sends a streaming generateContent request.
func (c *client) streamGenerateContent(ctx context.Context, model string, req *generateContentRequest) (*sse.Reader, io.Closer, error) {
	url := fmt.Sprintf("%s/%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, apiVersion, model)
	httpResp, err := c.post(ctx, url, req)
	if err != nil {
		return nil, nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		defer func() { _ = httpResp.Body.Close() }()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, nil, parseError(httpResp.StatusCode, respBody)
	}

	return sse.NewReader(httpResp.Body), httpResp.Body, nil
}

func (c *client) post(ctx context.Context, url string, req *generateContentRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	return httpResp, nil
}

func parseError(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return &provider.APIError{
			Provider:   "gemini",
			StatusCode: statusCode,
			Message:    string(body),
		}
	}
	return convertError(statusCode, &errResp.Error)
}

func convertError(statusCode int, e *apiError) error {
	if statusCode == 0 {
		statusCode = e.Code
	}
	return &provider.APIError{
		Provider:   "gemini",
		StatusCode: statusCode,
		Type:       e.Status,
		Message:    e.Message,
	}
}
