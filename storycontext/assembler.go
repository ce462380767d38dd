package storycontext

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"slices"
	"strings"

	"github.com/i2y/quill/metrics"
)

// Bundle is assembled prompt context. It is not modified after it is built.
type Bundle struct {
	// Text is the rendered XML context, empty when nothing was included.
	Text string
	// Source is the sanitized and truncated input text the context was
	// ranked against.
	Source string
	// Included lists the IDs of codex entries in Text, in rendered order.
	Included []string
	Dropped  int
	Total    int
	// Truncated reports that raw scene or beat text was cut.
	Truncated bool
	// Tokens is the estimated token count of Text.
	Tokens int
}

// Selection is a caller-chosen set of context items.
type Selection struct {
	Entries []Entry
	Scenes  []Scene
	Outline string
}

// Assembler builds context bundles from a Store.
type Assembler struct {
	store    Store
	maxChars int
	metrics  *metrics.Metrics
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithMaxTextChars overrides MaxTextChars.
func WithMaxTextChars(n int) AssemblerOption {
	return func(a *Assembler) {
		a.maxChars = n
	}
}

// WithMetrics reports dropped entries to m.
func WithMetrics(m *metrics.Metrics) AssemblerOption {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// NewAssembler creates an Assembler reading from store.
func NewAssembler(store Store, opts ...AssemblerOption) *Assembler {
	a := &Assembler{store: store, maxChars: MaxTextChars}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PrepareText sanitizes text and cuts it to the character ceiling.
func (a *Assembler) PrepareText(text string) (string, bool) {
	return TruncateText(Sanitize(text), a.maxChars)
}

// BuildCodexContext renders the codex entries for scope.
//
// With includeAll every entry is rendered and Dropped is zero. Otherwise
// entries are ranked by how often their name and aliases appear in
// promptContext and text, and kept in rank order while they fit within
// tokenBudget. Entries that do not fit are counted in Dropped. A
// tokenBudget <= 0 means no budget.
func (a *Assembler) BuildCodexContext(ctx context.Context, scope, text, promptContext string, tokenBudget int, includeAll bool) (Bundle, error) {
	source, truncated := a.PrepareText(text)
	b := Bundle{Source: source, Truncated: truncated}

	var entries []Entry
	if a.store != nil {
		var err error
		entries, err = a.store.Entries(ctx, scope)
		if err != nil {
			return Bundle{}, fmt.Errorf("loading codex entries: %w", err)
		}
	}
	b.Total = len(entries)
	if len(entries) == 0 {
		return b, nil
	}

	var kept []entryXML
	if includeAll || tokenBudget <= 0 {
		for _, e := range entries {
			kept = append(kept, newEntryXML(e))
		}
	} else {
		used := 0
		for _, e := range rank(entries, strings.ToLower(source), strings.ToLower(Sanitize(promptContext))) {
			x := newEntryXML(e)
			cost := EstimateTokens(x.render())
			if used+cost > tokenBudget {
				b.Dropped++
				continue
			}
			used += cost
			kept = append(kept, x)
		}
		a.metrics.AddDropped(b.Dropped)
	}

	for _, x := range kept {
		b.Included = append(b.Included, x.id)
	}
	if len(kept) > 0 {
		b.Text = render(codexXML{Entries: kept})
		b.Tokens = EstimateTokens(b.Text)
	}
	return b, nil
}

// BuildCustomContext renders a caller-chosen selection. Nothing is dropped;
// scene text is sanitized and cut to the character ceiling.
func (a *Assembler) BuildCustomContext(sel Selection) Bundle {
	var b Bundle
	doc := contextXML{Outline: strings.TrimSpace(Sanitize(sel.Outline))}

	if len(sel.Entries) > 0 {
		doc.Codex = &codexXML{}
		for _, e := range sel.Entries {
			doc.Codex.Entries = append(doc.Codex.Entries, newEntryXML(e))
			b.Included = append(b.Included, e.ID)
		}
	}
	for _, sc := range sel.Scenes {
		content, cut := a.PrepareText(sc.Content)
		b.Truncated = b.Truncated || cut
		doc.Scenes = append(doc.Scenes, sceneXML{
			Title:   sc.Title,
			Summary: strings.TrimSpace(Sanitize(sc.Summary)),
			Content: content,
		})
	}

	b.Total = len(sel.Entries) + len(sel.Scenes)
	if b.Total == 0 && doc.Outline == "" {
		return b
	}
	b.Text = render(doc)
	b.Tokens = EstimateTokens(b.Text)
	return b
}

// scored is an entry with its relevance score.
type scored struct {
	entry Entry
	score int
}

// Mentions in the prompt context weigh more than mentions in the text.
const promptContextWeight = 3

// rank orders entries by AlwaysInclude, then score, keeping store order for
// ties. text and promptContext must be lower case.
func rank(entries []Entry, text, promptContext string) []Entry {
	items := make([]scored, len(entries))
	for i, e := range entries {
		n := 0
		for _, term := range terms(e) {
			n += strings.Count(text, term) + promptContextWeight*strings.Count(promptContext, term)
		}
		items[i] = scored{entry: e, score: n}
	}

	slices.SortStableFunc(items, func(a, b scored) int {
		if a.entry.AlwaysInclude != b.entry.AlwaysInclude {
			if a.entry.AlwaysInclude {
				return -1
			}
			return 1
		}
		return cmp.Compare(b.score, a.score)
	})

	out := make([]Entry, len(items))
	for i, it := range items {
		out[i] = it.entry
	}
	return out
}

func terms(e Entry) []string {
	var out []string
	for _, s := range append([]string{e.Name}, e.Aliases...) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

type contextXML struct {
	XMLName xml.Name   `xml:"context"`
	Codex   *codexXML  `xml:"codex,omitempty"`
	Scenes  []sceneXML `xml:"scenes>scene,omitempty"`
	Outline string     `xml:"outline,omitempty"`
}

type codexXML struct {
	XMLName xml.Name   `xml:"codex"`
	Entries []entryXML `xml:"entry"`
}

type entryXML struct {
	XMLName     xml.Name `xml:"entry"`
	id          string
	Type        string `xml:"type,attr,omitempty"`
	Name        string `xml:"name,attr"`
	Aliases     string `xml:"aliases,omitempty"`
	Tags        string `xml:"tags,omitempty"`
	Description string `xml:"description"`
}

func newEntryXML(e Entry) entryXML {
	return entryXML{
		id:          e.ID,
		Type:        string(e.Type),
		Name:        e.Name,
		Aliases:     strings.Join(e.Aliases, ", "),
		Tags:        strings.Join(e.Tags, ", "),
		Description: strings.TrimSpace(Sanitize(e.Description)),
	}
}

func (x entryXML) render() string {
	return render(x)
}

type sceneXML struct {
	XMLName xml.Name `xml:"scene"`
	Title   string   `xml:"title,attr,omitempty"`
	Summary string   `xml:"summary,omitempty"`
	Content string   `xml:"content,omitempty"`
}

// render marshals v as indented XML. The types above always marshal.
func render(v any) string {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}
