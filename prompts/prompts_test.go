package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		data     string
		wantName string
		wantBody string
		wantErr  bool
	}{
		{
			name:     "frontmatter",
			path:     "custom/recap.md",
			data:     "---\nname: recap\ndescription: Recap\nmax_tokens: 200\n---\n\nRecap {{.Title}}\n",
			wantName: "recap",
			wantBody: "Recap Hello",
		},
		{
			name:     "name from file",
			path:     "custom/recap.md",
			data:     "---\ndescription: Recap\n---\nRecap {{.Title}}",
			wantName: "recap",
			wantBody: "Recap Hello",
		},
		{
			name:     "no frontmatter",
			path:     "plain.md",
			data:     "Just {{.Title}}.",
			wantName: "plain",
			wantBody: "Just Hello.",
		},
		{
			name:     "unclosed frontmatter is body",
			path:     "open.md",
			data:     "---\nname: x\nbody",
			wantName: "open",
			wantBody: "---\nname: x\nbody",
		},
		{
			name:     "byte order mark",
			path:     "bom.md",
			data:     "\ufeff---\nname: bom\n---\nok",
			wantName: "bom",
			wantBody: "ok",
		},
		{name: "bad yaml", path: "bad.md", data: "---\nname: [\n---\nbody", wantErr: true},
		{name: "bad template", path: "bad.md", data: "{{.Title", wantErr: true},
		{name: "negative max tokens", path: "bad.md", data: "---\nmax_tokens: -1\n---\nbody", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl, err := Parse(tt.path, []byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tpl.Name)

			out, err := tpl.Render(SummaryData{Title: "Hello"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, out.Prompt)
		})
	}
}

func TestTemplate_RenderFields(t *testing.T) {
	tpl, err := Parse("x.md", []byte("---\nsystem: |\n  Editor for {{.Title}}.\nmodel: gemini:gemini-2.5-pro\ntemperature: 0.2\nmax_tokens: 100\n---\nBody"))
	require.NoError(t, err)

	out, err := tpl.Render(SummaryData{Title: "Saga"})
	require.NoError(t, err)
	assert.Equal(t, "Editor for Saga.", out.System)
	assert.Equal(t, "gemini:gemini-2.5-pro", out.Model)
	require.NotNil(t, out.Temperature)
	assert.Equal(t, 0.2, *out.Temperature)
	assert.Equal(t, 100, out.MaxTokens)

	_, err = tpl.Render(map[string]any{})
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	set, err := Defaults()
	require.NoError(t, err)
	assert.Equal(t, []string{NameChat, NameSceneBeat, NameSummary, NameTitle}, set.Names())

	out, err := set.Render(NameSummary, SummaryData{Title: "The Vault", Scene: "Mira waited.", Codex: "<codex/>", TargetWords: 50})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, `Summarize the scene "The Vault" in about 50 words.`)
	assert.Contains(t, out.Prompt, "<scene>\nMira waited.\n</scene>")
	assert.Contains(t, out.Prompt, "Story codex:\n<codex/>")
	assert.Contains(t, out.System, "story editor")

	out, err = set.Render(NameSummary, SummaryData{Scene: "Mira waited.", TargetWords: 50})
	require.NoError(t, err)
	assert.NotContains(t, out.Prompt, "codex")
	assert.Contains(t, out.Prompt, "Summarize the scene in about 50 words.")

	out, err = set.Render(NameChat, ChatData{Context: "<context/>", Message: "Who is Mira?"})
	require.NoError(t, err)
	assert.Equal(t, "Who is Mira?", out.Prompt)
	assert.Contains(t, out.System, "\n\n<context/>")

	out, err = set.Render(NameChat, ChatData{Message: "Hi"})
	require.NoError(t, err)
	assert.NotContains(t, out.System, "\n\n")

	out, err = set.Render(NameTitle, TitleData{Text: "Rain fell.", MaxWords: 6})
	require.NoError(t, err)
	assert.Equal(t, 30, out.MaxTokens)

	out, err = set.Render(NameSceneBeat, SceneBeatData{Beat: "They escape.", PreviousText: "The alarm rang.", TargetWords: 300})
	require.NoError(t, err)
	assert.Contains(t, out.Prompt, "<previous>\nThe alarm rang.\n</previous>")
	assert.Contains(t, out.Prompt, "Write about 300 words for this beat:\nThey escape.")
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"title.md":              {Data: []byte("---\nname: title\n---\nCustom title for {{.Text}}")},
		"extra/deep/recap.md":   {Data: []byte("Recap")},
		"extra/deep/notes.txt":  {Data: []byte("ignored")},
		"extra/broken/other.md": {Data: []byte("---\nname: recap2\n---\nok")},
	}

	set, err := LoadFS(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"recap", "recap2", "title"}, set.Names())

	defaults, err := Defaults()
	require.NoError(t, err)
	merged := defaults.Overlay(set)

	out, err := merged.Render(NameTitle, TitleData{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Custom title for x", out.Prompt)
	assert.Len(t, merged.Names(), 6)
	assert.Len(t, defaults.Names(), 4)
}

func TestLoadFS_DuplicateName(t *testing.T) {
	fsys := fstest.MapFS{
		"a.md": {Data: []byte("---\nname: same\n---\na")},
		"b.md": {Data: []byte("---\nname: same\n---\nb")},
	}
	_, err := LoadFS(fsys)
	assert.ErrorContains(t, err, `prompt "same" defined in both a.md and b.md`)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "chat.md"), []byte("Q: {{.Message}}"), 0o644))

	set, err := LoadDir(dir)
	require.NoError(t, err)
	out, err := set.Render(NameChat, ChatData{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Q: hi", out.Prompt)

	_, err = LoadDir(filepath.Join(dir, "missing"))
	assert.Error(t, err)
	_, err = LoadDir(filepath.Join(dir, "nested", "chat.md"))
	assert.Error(t, err)
}

func TestSet_UnknownTemplate(t *testing.T) {
	_, err := NewSet().Render("nope", nil)
	assert.True(t, errors.Is(err, ErrUnknownTemplate))
}
