package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode"

	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/prompts"
	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/storycontext"
)

// Summary length scaling.
const (
	SummaryRatio    = 0.1
	MinSummaryWords = 50
	MaxSummaryWords = 400
	TokensPerWord   = 1.5
)

// Defaults for the other operations.
const (
	DefaultBeatWords  = 400
	DefaultTitleWords = 8
)

// DefaultContextTokenBudget bounds relevance-filtered codex context.
const DefaultContextTokenBudget = 4000

// CallOptions are shared by every operation.
type CallOptions struct {
	// Model is a "provider:modelId" reference or raw model id. Empty uses
	// the template's model, then the provider's default model.
	Model    string
	Provider provider.Kind
	Policy   Policy
	Fallback bool
}

// SummaryOptions configures SummarizeScene.
type SummaryOptions struct {
	CallOptions
	// Scope overrides the scene's story path for codex lookup.
	Scope string
}

// TitleOptions configures GenerateTitle.
type TitleOptions struct {
	CallOptions
	MaxWords int
}

// SceneBeat is a beat to expand into prose.
type SceneBeat struct {
	CallOptions
	// Instructions describe what should happen in the beat.
	Instructions string
	// SceneID names the scene the beat continues. Its text is read when the
	// generation starts.
	SceneID string
	// PreviousText is used when SceneID is empty.
	PreviousText string
	Scope        string
	TargetWords  int
}

// ChatTurn is one user message in a chat.
type ChatTurn struct {
	CallOptions
	Message string
	History []llm.Message
	// EntryIDs and SceneIDs select the context. Entries are looked up in
	// Scope.
	EntryIDs []string
	SceneIDs []string
	Scope    string
	Outline  string
}

// Service runs the story operations.
type Service struct {
	coord     *Coordinator
	store     storycontext.Store
	assembler *storycontext.Assembler
	prompts   *prompts.Set
	budget    int
	provider  provider.Kind
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPrompts replaces the built-in prompt templates.
func WithPrompts(s *prompts.Set) ServiceOption {
	return func(svc *Service) {
		if s != nil {
			svc.prompts = s
		}
	}
}

// WithAssembler sets the context assembler. Defaults to one reading from the
// service's store.
func WithAssembler(a *storycontext.Assembler) ServiceOption {
	return func(svc *Service) {
		if a != nil {
			svc.assembler = a
		}
	}
}

// WithContextTokenBudget bounds relevance-filtered codex context.
func WithContextTokenBudget(n int) ServiceOption {
	return func(svc *Service) {
		if n > 0 {
			svc.budget = n
		}
	}
}

// WithDefaultProvider sets the provider used for model ids without a
// provider prefix when the call does not name one.
func WithDefaultProvider(kind provider.Kind) ServiceOption {
	return func(svc *Service) {
		svc.provider = kind
	}
}

// NewService creates a Service.
func NewService(coord *Coordinator, store storycontext.Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		coord:  coord,
		store:  store,
		budget: DefaultContextTokenBudget,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.prompts == nil {
		set, err := prompts.Defaults()
		if err != nil {
			return nil, fmt.Errorf("loading default prompts: %w", err)
		}
		svc.prompts = set
	}
	if svc.assembler == nil {
		svc.assembler = storycontext.NewAssembler(store)
	}
	return svc, nil
}

// Coordinator returns the underlying coordinator.
func (s *Service) Coordinator() *Coordinator {
	return s.coord
}

// Assembler returns the context assembler.
func (s *Service) Assembler() *storycontext.Assembler {
	return s.assembler
}

// SummarizeScene summarizes the scene with sceneID. The whole codex for the
// scene's story path is included. An empty scene fails with a
// ValidationError before any call is made.
func (s *Service) SummarizeScene(ctx context.Context, sceneID string, opts SummaryOptions) (*Outcome, error) {
	var bundle storycontext.Bundle

	out, err := s.coord.Run(ctx, Task{
		EntityID:  sceneID,
		Operation: "summary",
		Policy:    opts.Policy,
		Fallback:  opts.Fallback,
		Post:      EnsureTerminalPunctuation,
		Build: func(ctx context.Context) (*llm.Request, error) {
			scene, err := s.scene(ctx, sceneID)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(storycontext.Sanitize(scene.Content)) == "" {
				return nil, &llm.ValidationError{Field: "scene", Message: "Scene has no content to summarize."}
			}

			scope := opts.Scope
			if scope == "" {
				scope = scene.Path
			}
			bundle, err = s.assembler.BuildCodexContext(ctx, scope, scene.Content, "", 0, true)
			if err != nil {
				return nil, err
			}

			target := SummaryTargetWords(len(strings.Fields(bundle.Source)))
			r, err := s.prompts.Render(prompts.NameSummary, prompts.SummaryData{
				Title:       scene.Title,
				Scene:       bundle.Source,
				Codex:       bundle.Text,
				TargetWords: target,
			})
			if err != nil {
				return nil, err
			}
			req := s.request(r, opts.CallOptions)
			req.MaxTokens = WordsToTokens(target)
			return req, nil
		},
	})
	return withContext(out, bundle), err
}

// GenerateTitle suggests a title for text.
func (s *Service) GenerateTitle(ctx context.Context, entityID, text string, opts TitleOptions) (*Outcome, error) {
	text = storycontext.Sanitize(text)
	if strings.TrimSpace(text) == "" {
		return nil, &llm.ValidationError{Field: "text", Message: "There is no text to title."}
	}
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultTitleWords
	}

	var truncated bool
	out, err := s.coord.Run(ctx, Task{
		EntityID:  entityID,
		Operation: "title",
		Policy:    opts.Policy,
		Fallback:  opts.Fallback,
		Post:      CleanTitle,
		Build: func(context.Context) (*llm.Request, error) {
			var source string
			source, truncated = s.assembler.PrepareText(text)
			r, err := s.prompts.Render(prompts.NameTitle, prompts.TitleData{Text: source, MaxWords: maxWords})
			if err != nil {
				return nil, err
			}
			return s.request(r, opts.CallOptions), nil
		},
	})
	return withContext(out, storycontext.Bundle{Truncated: truncated}), err
}

// GenerateSceneBeat streams prose for a beat to onChunk. Codex entries are
// ranked by relevance to the preceding text and the instructions and kept
// within the context token budget.
func (s *Service) GenerateSceneBeat(ctx context.Context, beatID string, beat SceneBeat, onChunk func(string)) (*Outcome, error) {
	if strings.TrimSpace(beat.Instructions) == "" {
		return nil, &llm.ValidationError{Field: "instructions", Message: "The scene beat is empty."}
	}
	target := beat.TargetWords
	if target <= 0 {
		target = DefaultBeatWords
	}

	var bundle storycontext.Bundle
	out, err := s.coord.Run(ctx, Task{
		EntityID:  beatID,
		Operation: "scene_beat",
		Policy:    beat.Policy,
		Fallback:  beat.Fallback,
		OnChunk:   streamTo(onChunk),
		Post:      strings.TrimSpace,
		Build: func(ctx context.Context) (*llm.Request, error) {
			previous, scope := beat.PreviousText, beat.Scope
			if beat.SceneID != "" {
				scene, err := s.scene(ctx, beat.SceneID)
				if err != nil {
					return nil, err
				}
				previous = scene.Content
				if scope == "" {
					scope = scene.Path
				}
			}

			var err error
			bundle, err = s.assembler.BuildCodexContext(ctx, scope, previous, beat.Instructions, s.budget, false)
			if err != nil {
				return nil, err
			}

			r, err := s.prompts.Render(prompts.NameSceneBeat, prompts.SceneBeatData{
				Beat:         strings.TrimSpace(storycontext.Sanitize(beat.Instructions)),
				PreviousText: strings.TrimSpace(bundle.Source),
				Codex:        bundle.Text,
				TargetWords:  target,
			})
			if err != nil {
				return nil, err
			}
			req := s.request(r, beat.CallOptions)
			req.MaxTokens = WordsToTokens(target)
			return req, nil
		},
	})
	return withContext(out, bundle), err
}

// Chat streams the answer to a chat turn to onChunk.
func (s *Service) Chat(ctx context.Context, turnID string, turn ChatTurn, onChunk func(string)) (*Outcome, error) {
	if strings.TrimSpace(turn.Message) == "" {
		return nil, &llm.ValidationError{Field: "message", Message: "The message is empty."}
	}

	var bundle storycontext.Bundle
	out, err := s.coord.Run(ctx, Task{
		EntityID:  turnID,
		Operation: "chat",
		Policy:    turn.Policy,
		Fallback:  turn.Fallback,
		OnChunk:   streamTo(onChunk),
		Build: func(ctx context.Context) (*llm.Request, error) {
			sel, err := s.selection(ctx, turn)
			if err != nil {
				return nil, err
			}
			bundle = s.assembler.BuildCustomContext(sel)

			r, err := s.prompts.Render(prompts.NameChat, prompts.ChatData{
				Context: bundle.Text,
				Message: storycontext.Sanitize(turn.Message),
			})
			if err != nil {
				return nil, err
			}
			req := s.request(r, turn.CallOptions)
			req.Messages = sanitizeHistory(turn.History)
			return req, nil
		},
	})
	return withContext(out, bundle), err
}

func (s *Service) selection(ctx context.Context, turn ChatTurn) (storycontext.Selection, error) {
	sel := storycontext.Selection{Outline: turn.Outline}
	if len(turn.EntryIDs) > 0 {
		entries, err := s.store.Entries(ctx, turn.Scope)
		if err != nil {
			return sel, fmt.Errorf("loading codex entries: %w", err)
		}
		for _, e := range entries {
			if slices.Contains(turn.EntryIDs, e.ID) {
				sel.Entries = append(sel.Entries, e)
			}
		}
	}
	for _, id := range turn.SceneIDs {
		scene, err := s.scene(ctx, id)
		if err != nil {
			return sel, err
		}
		sel.Scenes = append(sel.Scenes, scene)
	}
	return sel, nil
}

func (s *Service) scene(ctx context.Context, id string) (storycontext.Scene, error) {
	if s.store == nil {
		return storycontext.Scene{}, &llm.ValidationError{Field: "scene", Message: "No story is open."}
	}
	scene, err := s.store.Scene(ctx, id)
	if errors.Is(err, storycontext.ErrNotFound) {
		return storycontext.Scene{}, &llm.ValidationError{Field: "scene", Message: "The scene no longer exists."}
	}
	if err != nil {
		return storycontext.Scene{}, fmt.Errorf("loading scene %s: %w", id, err)
	}
	return scene, nil
}

// request builds an orchestrator request from a rendered template. Call
// options take precedence over template settings.
func (s *Service) request(r *prompts.Rendered, opts CallOptions) *llm.Request {
	model := opts.Model
	if model == "" {
		model = r.Model
	}
	kind := opts.Provider
	if kind == "" {
		kind = s.provider
	}
	return &llm.Request{
		Model:        model,
		Provider:     kind,
		SystemPrompt: r.System,
		Prompt:       r.Prompt,
		MaxTokens:    r.MaxTokens,
		Temperature:  r.Temperature,
	}
}

// sanitizeHistory strips inline image payloads from prior chat messages.
func sanitizeHistory(history []llm.Message) []llm.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]llm.Message, len(history))
	for i, m := range history {
		out[i] = llm.Message{Role: m.Role, Content: storycontext.Sanitize(m.Content)}
	}
	return out
}

func withContext(out *Outcome, b storycontext.Bundle) *Outcome {
	if out != nil {
		out.Dropped = b.Dropped
		out.Truncated = b.Truncated
	}
	return out
}

// streamTo makes sure a streaming operation has a chunk sink.
func streamTo(onChunk func(string)) func(string) {
	if onChunk == nil {
		return func(string) {}
	}
	return onChunk
}

// SummaryTargetWords scales the summary length with the scene length.
func SummaryTargetWords(sceneWords int) int {
	target := int(math.Round(float64(sceneWords) * SummaryRatio))
	return min(max(target, MinSummaryWords), MaxSummaryWords)
}

// WordsToTokens converts a word count to a max-token setting.
func WordsToTokens(words int) int {
	return int(math.Ceil(float64(words) * TokensPerWord))
}

// EnsureTerminalPunctuation appends a period unless text already ends with
// sentence punctuation or a closing quote.
func EnsureTerminalPunctuation(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	last := []rune(text)[len([]rune(text))-1]
	if strings.ContainsRune(".!?…\"'”’)」』", last) {
		return text
	}
	return text + "."
}

// titleQuotes are stripped from both ends of a title.
const titleQuotes = "\"'`“”‘’«»「」『』*"

// CleanTitle reduces a model answer to a bare title: the first non-empty
// line, without a "Title:" label, surrounding quotes or a trailing period.
func CleanTitle(text string) string {
	var line string
	for l := range strings.Lines(text) {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if label, rest, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(label), "title") {
		line = strings.TrimSpace(rest)
	}
	line = strings.TrimSpace(strings.Trim(line, titleQuotes))
	line = strings.TrimRightFunc(strings.TrimSuffix(line, "."), unicode.IsSpace)
	return strings.TrimSpace(strings.Trim(line, titleQuotes))
}
