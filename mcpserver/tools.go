package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/i2y/quill/generation"
	"github.com/i2y/quill/llm"
)

type SummarizeSceneArgs struct {
	CallArgs
	SceneID string `json:"scene_id" jsonschema:"id of the scene to summarize"`
	Scope   string `json:"scope,omitempty" jsonschema:"story path used to select codex entries; defaults to the scene's path"`
}

func (s *Server) summarizeScene(ctx context.Context, _ *mcp.CallToolRequest, in SummarizeSceneArgs) (*mcp.CallToolResult, GenerationResult, error) {
	out, err := s.svc.SummarizeScene(ctx, in.SceneID, generation.SummaryOptions{
		CallOptions: in.options(),
		Scope:       in.Scope,
	})
	return s.result("summarize_scene", out, err)
}

type GenerateTitleArgs struct {
	CallArgs
	EntityID string `json:"entity_id" jsonschema:"id of the chapter or scene being titled"`
	Text     string `json:"text" jsonschema:"passage to title"`
	MaxWords int    `json:"max_words,omitempty" jsonschema:"longest acceptable title in words"`
}

func (s *Server) generateTitle(ctx context.Context, _ *mcp.CallToolRequest, in GenerateTitleArgs) (*mcp.CallToolResult, GenerationResult, error) {
	out, err := s.svc.GenerateTitle(ctx, in.EntityID, in.Text, generation.TitleOptions{
		CallOptions: in.options(),
		MaxWords:    in.MaxWords,
	})
	return s.result("generate_title", out, err)
}

type SceneBeatArgs struct {
	CallArgs
	BeatID       string `json:"beat_id" jsonschema:"id of the beat"`
	Instructions string `json:"instructions" jsonschema:"what should happen in the beat"`
	SceneID      string `json:"scene_id,omitempty" jsonschema:"scene the beat continues"`
	PreviousText string `json:"previous_text,omitempty" jsonschema:"text to continue when no scene is given"`
	Scope        string `json:"scope,omitempty" jsonschema:"story path used to select codex entries"`
	TargetWords  int    `json:"target_words,omitempty" jsonschema:"approximate length of the prose"`
}

func (s *Server) generateSceneBeat(ctx context.Context, _ *mcp.CallToolRequest, in SceneBeatArgs) (*mcp.CallToolResult, GenerationResult, error) {
	out, err := s.svc.GenerateSceneBeat(ctx, in.BeatID, generation.SceneBeat{
		CallOptions:  in.options(),
		Instructions: in.Instructions,
		SceneID:      in.SceneID,
		PreviousText: in.PreviousText,
		Scope:        in.Scope,
		TargetWords:  in.TargetWords,
	}, nil)
	return s.result("generate_scene_beat", out, err)
}

type ChatMessage struct {
	Role    string `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content"`
}

type ChatArgs struct {
	CallArgs
	ChatID   string        `json:"chat_id" jsonschema:"id of the conversation"`
	Message  string        `json:"message" jsonschema:"the user's message"`
	History  []ChatMessage `json:"history,omitempty" jsonschema:"earlier messages, oldest first"`
	EntryIDs []string      `json:"entry_ids,omitempty" jsonschema:"codex entries to include"`
	SceneIDs []string      `json:"scene_ids,omitempty" jsonschema:"scenes to include"`
	Scope    string        `json:"scope,omitempty" jsonschema:"story path the entries are looked up in"`
	Outline  string        `json:"outline,omitempty"`
}

func (s *Server) chat(ctx context.Context, _ *mcp.CallToolRequest, in ChatArgs) (*mcp.CallToolResult, GenerationResult, error) {
	history := make([]llm.Message, 0, len(in.History))
	for _, m := range in.History {
		role := llm.RoleUser
		if m.Role == string(llm.RoleAssistant) {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}

	out, err := s.svc.Chat(ctx, in.ChatID, generation.ChatTurn{
		CallOptions: in.options(),
		Message:     in.Message,
		History:     history,
		EntryIDs:    in.EntryIDs,
		SceneIDs:    in.SceneIDs,
		Scope:       in.Scope,
		Outline:     in.Outline,
	}, nil)
	return s.result("chat", out, err)
}

type CancelArgs struct {
	EntityID string `json:"entity_id" jsonschema:"entity whose generation should stop"`
}

type CancelResult struct {
	// WasRunning reports whether a generation was running.
	WasRunning bool `json:"was_running"`
}

func (s *Server) cancelGeneration(_ context.Context, _ *mcp.CallToolRequest, in CancelArgs) (*mcp.CallToolResult, CancelResult, error) {
	coord := s.svc.Coordinator()
	running := coord.IsActive(in.EntityID)
	coord.Cancel(in.EntityID)
	return nil, CancelResult{WasRunning: running}, nil
}

type GenerationsResult struct {
	Active []string `json:"active"`
}

func (s *Server) listGenerations(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, GenerationsResult, error) {
	active := s.svc.Coordinator().Active()
	if active == nil {
		active = []string{}
	}
	return nil, GenerationsResult{Active: active}, nil
}

type ProvidersResult struct {
	Available []string `json:"available"`
}

func (s *Server) listProviders(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, ProvidersResult, error) {
	res := ProvidersResult{Available: []string{}}
	for _, k := range s.registry.ListAvailable() {
		res.Available = append(res.Available, string(k))
	}
	return nil, res, nil
}

type CodexContextArgs struct {
	Scope         string `json:"scope,omitempty" jsonschema:"story path used to select codex entries"`
	Text          string `json:"text" jsonschema:"passage the context is for"`
	PromptContext string `json:"prompt_context,omitempty" jsonschema:"instructions whose mentions weigh more than the passage's"`
	TokenBudget   int    `json:"token_budget,omitempty" jsonschema:"token budget for the codex; 0 means no budget"`
	IncludeAll    bool   `json:"include_all,omitempty" jsonschema:"include every entry regardless of budget"`
}

type CodexContextResult struct {
	Context   string   `json:"context"`
	Included  []string `json:"included"`
	Dropped   int      `json:"dropped"`
	Total     int      `json:"total"`
	Tokens    int      `json:"tokens"`
	Truncated bool     `json:"truncated"`
}

func (s *Server) buildCodexContext(ctx context.Context, _ *mcp.CallToolRequest, in CodexContextArgs) (*mcp.CallToolResult, CodexContextResult, error) {
	b, err := s.svc.Assembler().BuildCodexContext(ctx, in.Scope, in.Text, in.PromptContext, in.TokenBudget, in.IncludeAll)
	if err != nil {
		return nil, CodexContextResult{}, err
	}
	included := b.Included
	if included == nil {
		included = []string{}
	}
	return nil, CodexContextResult{
		Context:   b.Text,
		Included:  included,
		Dropped:   b.Dropped,
		Total:     b.Total,
		Tokens:    b.Tokens,
		Truncated: b.Truncated,
	}, nil
}

type RecentRequestsArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of requests to return"`
}

type RequestSummary struct {
	ID         string `json:"id"`
	EntityID   string `json:"entity_id,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type RecentRequestsResult struct {
	Pending  int              `json:"pending"`
	Requests []RequestSummary `json:"requests"`
}

func (s *Server) recentRequests(_ context.Context, _ *mcp.CallToolRequest, in RecentRequestsArgs) (*mcp.CallToolResult, RecentRequestsResult, error) {
	entries := s.requests.Recent()
	if in.Limit > 0 && in.Limit < len(entries) {
		entries = entries[:in.Limit]
	}

	res := RecentRequestsResult{Pending: s.requests.Pending(), Requests: []RequestSummary{}}
	for _, e := range entries {
		res.Requests = append(res.Requests, RequestSummary{
			ID:         e.ID,
			EntityID:   e.EntityID,
			Operation:  e.Operation,
			Provider:   string(e.Provider),
			Model:      e.Model,
			Status:     string(e.Status),
			Error:      e.Error,
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	return nil, res, nil
}
