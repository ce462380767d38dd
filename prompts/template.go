// Package prompts loads prompt templates written as markdown files with YAML
// frontmatter.
//
// A template file looks like:
//
//	---
//	name: scene-summary
//	description: Summarize a scene.
//	system: You are a story editor.
//	model: openrouter:anthropic/claude-sonnet-4
//	temperature: 0.3
//	max_tokens: 600
//	---
//	Summarize "{{.Title}}" in about {{.TargetWords}} words.
//
// The body and the system field are text/template sources.
package prompts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Names of the built-in templates.
const (
	NameSummary   = "scene-summary"
	NameTitle     = "title"
	NameSceneBeat = "scene-beat"
	NameChat      = "chat"
)

// ErrUnknownTemplate is returned when a template name is not in a Set.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// Template is a parsed prompt template.
type Template struct {
	Name        string
	Description string
	// Model is an optional "provider:modelId" reference.
	Model       string
	Temperature *float64
	MaxTokens   int
	FilePath    string

	system *template.Template
	body   *template.Template
}

// Rendered is a template executed against data.
type Rendered struct {
	System      string
	Prompt      string
	Model       string
	Temperature *float64
	MaxTokens   int
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      string   `yaml:"system"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// Parse parses a template file. The template name comes from the
// frontmatter, or from the file name without its extension.
func Parse(filePath string, data []byte) (*Template, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt %s: %w", filePath, err)
	}

	var meta frontmatter
	if len(fm) > 0 {
		if err := yaml.Unmarshal(fm, &meta); err != nil {
			return nil, fmt.Errorf("parsing prompt %s frontmatter: %w", filePath, err)
		}
	}
	if meta.MaxTokens < 0 {
		return nil, fmt.Errorf("prompt %s: max_tokens must not be negative", filePath)
	}

	t := &Template{
		Name:        strings.TrimSpace(meta.Name),
		Description: meta.Description,
		Model:       strings.TrimSpace(meta.Model),
		Temperature: meta.Temperature,
		MaxTokens:   meta.MaxTokens,
		FilePath:    filePath,
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(path.Base(filePath), path.Ext(filePath))
	}

	if t.system, err = newTemplate(t.Name+".system", strings.TrimSpace(meta.System)); err != nil {
		return nil, fmt.Errorf("prompt %s system: %w", filePath, err)
	}
	if t.body, err = newTemplate(t.Name, body); err != nil {
		return nil, fmt.Errorf("prompt %s body: %w", filePath, err)
	}
	return t, nil
}

func newTemplate(name, src string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(src)
}

// Render executes the template against data.
func (t *Template) Render(data any) (*Rendered, error) {
	var sys, body bytes.Buffer
	if err := t.system.Execute(&sys, data); err != nil {
		return nil, fmt.Errorf("rendering %s system prompt: %w", t.Name, err)
	}
	if err := t.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("rendering %s prompt: %w", t.Name, err)
	}
	return &Rendered{
		System:      strings.TrimSpace(sys.String()),
		Prompt:      strings.TrimSpace(body.String()),
		Model:       t.Model,
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
	}, nil
}

// splitFrontmatter separates "---" delimited YAML frontmatter from the body.
// Data without a complete frontmatter block is returned as body.
func splitFrontmatter(data []byte) (fm []byte, body string, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() || strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff")) != "---" {
		return nil, strings.TrimSpace(string(data)), nil
	}

	var head, rest []string
	closed := false
	for sc.Scan() {
		line := sc.Text()
		if !closed {
			if strings.TrimSpace(line) == "---" {
				closed = true
				continue
			}
			head = append(head, line)
			continue
		}
		rest = append(rest, line)
	}
	if err := sc.Err(); err != nil {
		return nil, "", err
	}
	if !closed {
		return nil, strings.TrimSpace(string(data)), nil
	}

	return []byte(strings.Join(head, "\n")), strings.TrimSpace(strings.Join(rest, "\n")), nil
}
