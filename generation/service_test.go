package generation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/storycontext"
)

func TestService_SummarizeScene(t *testing.T) {
	f := newFakeProvider()
	f.reply = " Mira steals the key and escapes "
	h := newHarness(t, f)

	require.NoError(t, h.store.PutScene(storycontext.Scene{
		ID:      "s1",
		Title:   "The Vault",
		Content: "Mira waited. " + strings.Repeat("word ", 998),
		Path:    "book-1/act-1",
	}))
	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "mira", Name: "Mira", Type: storycontext.EntryCharacter, Description: "A thief."}))
	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "sea", Name: "The Sea", Description: "Cold.", Scope: "book-2/**"}))

	out, err := h.svc.SummarizeScene(context.Background(), "s1", SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "Mira steals the key and escapes.", out.Text)
	assert.Equal(t, "summary", out.Operation)
	assert.Zero(t, out.Dropped)

	req := f.last()
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 150, *req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, `Summarize the scene "The Vault" in about 100 words.`)
	assert.Contains(t, prompt, `name="Mira"`)
	assert.NotContains(t, prompt, "The Sea")
}

func TestService_SummarizeScene_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		sceneID string
		wantMsg string
	}{
		{"empty scene", "empty", "Scene has no content to summarize."},
		{"missing scene", "gone", "The scene no longer exists."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeProvider()
			h := newHarness(t, f)
			require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "empty", Content: "  \n\t "}))

			out, err := h.svc.SummarizeScene(context.Background(), tt.sceneID, SummaryOptions{})
			require.ErrorIs(t, err, llm.ErrValidation)
			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tt.wantMsg, out.Message)
			assert.Equal(t, 0, f.calls())
			assert.Equal(t, 0, h.requestCount())
			assert.Equal(t, StateIdle, h.coord.State(tt.sceneID))
		})
	}
}

func TestService_SummarizeScene_ModelOverride(t *testing.T) {
	f := newFakeProvider()
	h := newHarness(t, f)
	require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "s1", Content: "Short scene."}))

	out, err := h.svc.SummarizeScene(context.Background(), "s1", SummaryOptions{
		CallOptions: CallOptions{Model: "openrouter:mistralai/mistral-large"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mistralai/mistral-large", f.last().Model)
	assert.Equal(t, "mistralai/mistral-large", out.Result.Model)
	assert.Equal(t, 75, *f.last().MaxTokens)

	_, err = h.svc.SummarizeScene(context.Background(), "s1", SummaryOptions{
		CallOptions: CallOptions{Model: "anthropic:claude-sonnet-4"},
	})
	assert.ErrorIs(t, err, llm.ErrConfiguration)
	assert.Equal(t, 1, f.calls())
}

func TestService_DefaultProvider(t *testing.T) {
	router := newFakeProvider()
	gem := newFakeProvider()
	h := newHarness(t, router, func(c *harnessConfig) {
		c.providers[provider.KindGemini] = provider.Config{Enabled: true, APIKey: "g", DefaultModel: "gemini-2.5-flash"}
		c.backends[provider.KindGemini] = gem
		c.svcOpts = append(c.svcOpts, WithDefaultProvider(provider.KindGemini))
	})

	out, err := h.svc.GenerateTitle(context.Background(), "ch-1", "A night at the harbor.", TitleOptions{})
	require.NoError(t, err)
	assert.Equal(t, provider.KindGemini, out.Result.Provider)
	assert.Equal(t, "gemini-2.5-flash", gem.last().Model)
	assert.Equal(t, 0, router.calls())

	out, err = h.svc.GenerateTitle(context.Background(), "ch-2", "A night at the harbor.", TitleOptions{
		CallOptions: CallOptions{Provider: provider.KindOpenRouter},
	})
	require.NoError(t, err)
	assert.Equal(t, provider.KindOpenRouter, out.Result.Provider)
	assert.Equal(t, 1, router.calls())
}

func TestService_GenerateTitle(t *testing.T) {
	f := newFakeProvider()
	f.reply = "Title: \"The Long Night.\"\nBecause it is dark."
	h := newHarness(t, f, func(c *harnessConfig) {
		c.svcOpts = append(c.svcOpts, WithAssembler(storycontext.NewAssembler(nil, storycontext.WithMaxTextChars(20))))
	})

	out, err := h.svc.GenerateTitle(context.Background(), "ch-1", "The night went on and on without end.", TitleOptions{MaxWords: 4})
	require.NoError(t, err)
	assert.Equal(t, "The Long Night", out.Text)
	assert.True(t, out.Truncated)

	prompt := f.last().Messages[1].Content
	assert.Contains(t, prompt, "at most 4 words")
	assert.Contains(t, prompt, "The night went on an")
	assert.NotContains(t, prompt, "without end")

	out, err = h.svc.GenerateTitle(context.Background(), "ch-1", "  ", TitleOptions{})
	assert.ErrorIs(t, err, llm.ErrValidation)
	assert.Nil(t, out)
	assert.Equal(t, 1, f.calls())
}

func TestService_GenerateSceneBeat(t *testing.T) {
	f := newFakeProvider()
	f.chunks = []string{"Mira ", "runs ", "for the door. "}
	h := newHarness(t, f, func(c *harnessConfig) {
		c.svcOpts = append(c.svcOpts, WithContextTokenBudget(60))
	})

	require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "s1", Content: "The alarm rang. Mira froze.", Path: "book-1"}))
	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "archive", Name: "The Archive", Description: strings.Repeat("Dusty shelves. ", 60)}))
	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "mira", Name: "Mira", Description: "A thief."}))

	var got []string
	out, err := h.svc.GenerateSceneBeat(context.Background(), "beat-1", SceneBeat{
		Instructions: "Mira escapes.",
		SceneID:      "s1",
		TargetWords:  100,
	}, func(s string) { got = append(got, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Mira ", "runs ", "for the door. "}, got)
	assert.Equal(t, "Mira runs for the door.", out.Text)
	assert.Equal(t, 1, out.Dropped)

	req := f.last()
	assert.Equal(t, 150, *req.MaxTokens)
	prompt := req.Messages[1].Content
	assert.Contains(t, prompt, "<previous>\nThe alarm rang. Mira froze.\n</previous>")
	assert.Contains(t, prompt, `name="Mira"`)
	assert.NotContains(t, prompt, "The Archive")
}

func TestService_GenerateSceneBeat_ReadsSceneAtStart(t *testing.T) {
	f := newFakeProvider()
	f.chunks = []string{"ok"}
	h := newHarness(t, f)
	require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "s1", Content: "Old text."}))

	beat := SceneBeat{Instructions: "Go on.", SceneID: "s1"}
	require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "s1", Content: "New text."}))

	_, err := h.svc.GenerateSceneBeat(context.Background(), "beat-1", beat, nil)
	require.NoError(t, err)
	assert.Contains(t, f.last().Messages[1].Content, "New text.")
	assert.Equal(t, DefaultBeatWords*3/2, *f.last().MaxTokens)

	_, err = h.svc.GenerateSceneBeat(context.Background(), "beat-1", SceneBeat{Instructions: " "}, nil)
	assert.ErrorIs(t, err, llm.ErrValidation)
}

func TestService_Chat(t *testing.T) {
	f := newFakeProvider()
	f.chunks = []string{"She ", "is a thief."}
	h := newHarness(t, f)

	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "mira", Name: "Mira", Description: "A thief."}))
	require.NoError(t, h.store.PutEntry(storycontext.Entry{ID: "orin", Name: "Orin", Description: "A guard."}))
	require.NoError(t, h.store.PutScene(storycontext.Scene{ID: "s1", Title: "The Vault", Content: "Mira waited."}))

	var b strings.Builder
	out, err := h.svc.Chat(context.Background(), "chat-1", ChatTurn{
		Message:  "Who is Mira?",
		History:  []llm.Message{llm.UserMessage("Hi"), llm.AssistantMessage("Hello.")},
		EntryIDs: []string{"mira"},
		SceneIDs: []string{"s1"},
		Outline:  "Act one.",
	}, func(s string) { b.WriteString(s) })
	require.NoError(t, err)
	assert.Equal(t, "She is a thief.", b.String())
	assert.Equal(t, "She is a thief.", out.Text)

	msgs := f.last().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "<context>")
	assert.Contains(t, msgs[0].Content, `name="Mira"`)
	assert.NotContains(t, msgs[0].Content, "Orin")
	assert.Contains(t, msgs[0].Content, "Mira waited.")
	assert.Contains(t, msgs[0].Content, "<outline>Act one.</outline>")
	assert.Equal(t, "Hi", msgs[1].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[2].Role)
	assert.Equal(t, llm.UserMessage("Who is Mira?"), msgs[3])

	_, err = h.svc.Chat(context.Background(), "chat-1", ChatTurn{Message: "x", SceneIDs: []string{"gone"}}, nil)
	assert.ErrorIs(t, err, llm.ErrValidation)
	assert.Equal(t, 1, f.calls())
}

func TestService_Chat_SanitizesHistory(t *testing.T) {
	f := newFakeProvider()
	f.chunks = []string{"A map."}
	h := newHarness(t, f)

	history := []llm.Message{
		llm.UserMessage("look ![x](data:image/png;base64,AAAABBBBCCCC)"),
		llm.AssistantMessage(`I see <img src="data:image/jpeg;base64,QUJD"> there.`),
	}
	_, err := h.svc.Chat(context.Background(), "chat-1", ChatTurn{Message: "hi", History: history}, nil)
	require.NoError(t, err)

	msgs := f.last().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "look [image]", msgs[1].Content)
	assert.Equal(t, "I see [image] there.", msgs[2].Content)
	for _, m := range msgs {
		assert.NotContains(t, m.Content, "base64")
	}
	assert.Contains(t, history[0].Content, "base64", "caller history is not modified")
}

func TestSummaryTargetWords(t *testing.T) {
	tests := []struct {
		words int
		want  int
	}{
		{0, MinSummaryWords},
		{499, MinSummaryWords},
		{1000, 100},
		{2340, 234},
		{4000, MaxSummaryWords},
		{100000, MaxSummaryWords},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SummaryTargetWords(tt.words), "words=%d", tt.words)
	}

	assert.Equal(t, 150, WordsToTokens(100))
	assert.Equal(t, 11, WordsToTokens(7))
}

func TestEnsureTerminalPunctuation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"  Done  ", "Done."},
		{"Done.", "Done."},
		{"Really?", "Really?"},
		{"Run!", "Run!"},
		{`He said "go"`, `He said "go"`},
		{"Then…", "Then…"},
		{"彼は去った」", "彼は去った」"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EnsureTerminalPunctuation(tt.in), "in=%q", tt.in)
	}
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Long Night", "The Long Night"},
		{"\n\n  \"The Long Night.\"  \nexplanation", "The Long Night"},
		{"Title: The Vault", "The Vault"},
		{"title:  'Ashes'.", "Ashes"},
		{"**Storm Coast**", "Storm Coast"},
		{"「夜明け」", "夜明け"},
		{"Mr. Brown", "Mr. Brown"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanTitle(tt.in), "in=%q", tt.in)
	}
}
