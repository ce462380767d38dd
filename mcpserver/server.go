// Package mcpserver exposes the story operations as Model Context Protocol
// tools, so editors and agents can summarize scenes, title passages, expand
// beats and chat about a story over stdio.
package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/i2y/quill/generation"
	"github.com/i2y/quill/logging"
	"github.com/i2y/quill/provider"
)

// Name is the implementation name reported to clients.
const Name = "quill"

// Server serves the story tools.
type Server struct {
	svc      *generation.Service
	registry *provider.Registry
	requests *logging.RequestLog
	log      logrus.FieldLogger
	version  string

	mcp *mcp.Server
}

// Option configures a Server.
type Option func(*Server)

// WithRequestLog enables the recent_requests tool.
func WithRequestLog(r *logging.RequestLog) Option {
	return func(s *Server) {
		s.requests = r
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a Server running operations on svc. registry answers
// list_providers.
func New(svc *generation.Service, registry *provider.Registry, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		registry: registry,
		log:      logrus.StandardLogger(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: Name, Version: s.version}, nil)
	s.addTools()
	return s
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves over stdin and stdout until ctx is done or the client
// disconnects. Running generations are cancelled when it returns.
func (s *Server) Run(ctx context.Context) error {
	defer s.svc.Coordinator().Close()
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) addTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "summarize_scene",
		Description: "Summarize a scene. The summary length scales with the scene and the whole codex for the scene's story path is taken into account.",
	}, s.summarizeScene)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_title",
		Description: "Suggest a short title for a passage of text.",
	}, s.generateTitle)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "generate_scene_beat",
		Description: "Write prose for a scene beat, continuing the scene's text and using the most relevant codex entries.",
	}, s.generateSceneBeat)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "chat",
		Description: "Answer a question about the story, using selected codex entries and scenes as context.",
	}, s.chat)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cancel_generation",
		Description: "Cancel the running generation for an entity. Does nothing if none is running.",
	}, s.cancelGeneration)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_generations",
		Description: "List the entities with a running generation.",
	}, s.listGenerations)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_providers",
		Description: "List the configured providers that can serve requests, in fallback order.",
	}, s.listProviders)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_codex_context",
		Description: "Render the codex context that would be sent for a passage, with the entries that were left out to stay within the token budget.",
	}, s.buildCodexContext)

	if s.requests != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "recent_requests",
			Description: "List the most recent model requests, newest first.",
		}, s.recentRequests)
	}
}

// GenerationResult is the output of every generating tool.
type GenerationResult struct {
	GenerationID string `json:"generation_id,omitempty"`
	State        string `json:"state"`
	Text         string `json:"text,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	FellBack     bool   `json:"fell_back,omitempty"`
	Dropped      int    `json:"dropped_entries,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// toolError carries a message meant for the user.
type toolError struct {
	msg string
	err error
}

func (e *toolError) Error() string { return e.msg }
func (e *toolError) Unwrap() error { return e.err }

// result converts a generation outcome. A failure becomes a tool error with
// a user-displayable message.
func (s *Server) result(op string, out *generation.Outcome, err error) (*mcp.CallToolResult, GenerationResult, error) {
	if err != nil {
		s.log.WithError(err).WithField("tool", op).Debug("tool call failed")
		return nil, GenerationResult{}, &toolError{msg: generation.ErrorMessage(err), err: err}
	}

	res := GenerationResult{
		GenerationID: out.GenerationID,
		State:        string(out.State),
		Text:         out.Text,
		Dropped:      out.Dropped,
		Truncated:    out.Truncated,
		DurationMS:   out.Duration.Milliseconds(),
	}
	if out.Result != nil {
		res.Provider = string(out.Result.Provider)
		res.Model = out.Result.Model
		res.FellBack = out.Result.FellBack
	}
	return nil, res, nil
}

// CallArgs select the model for a generating tool.
type CallArgs struct {
	Model    string `json:"model,omitempty" jsonschema:"model as provider:modelId or a raw model id; empty uses the default model"`
	Provider string `json:"provider,omitempty" jsonschema:"provider for raw model ids"`
	Replace  bool   `json:"replace,omitempty" jsonschema:"cancel a running generation for the same entity instead of failing"`
	Fallback bool   `json:"fallback,omitempty" jsonschema:"retry once on the fallback provider when the provider is unavailable or rate limited"`
}

func (a CallArgs) options() generation.CallOptions {
	opts := generation.CallOptions{
		Model:    a.Model,
		Provider: provider.Kind(a.Provider),
		Fallback: a.Fallback,
	}
	if a.Replace {
		opts.Policy = generation.PolicyReplace
	}
	return opts
}
