package llm

import (
	"time"

	"github.com/i2y/quill/provider"
)

// RequestMeta describes a call when it starts.
type RequestMeta struct {
	EntityID    string
	Operation   string
	Provider    provider.Kind
	Model       string
	Streaming   bool
	Reasoning   bool
	MaxTokens   int
	PromptChars int
	StartedAt   time.Time
}

// RequestLogger records calls. For every LogRequest exactly one of
// LogSuccess, LogError or LogAborted follows with the returned id.
type RequestLogger interface {
	LogRequest(meta RequestMeta) string
	LogSuccess(id, text string, duration time.Duration)
	LogError(id, message string, duration time.Duration)
	LogAborted(id string, duration time.Duration)
}

type nopRequestLogger struct{}

func (nopRequestLogger) LogRequest(RequestMeta) string { return "" }
func (nopRequestLogger) LogSuccess(string, string, time.Duration) {}
func (nopRequestLogger) LogError(string, string, time.Duration) {}
func (nopRequestLogger) LogAborted(string, time.Duration) {}
