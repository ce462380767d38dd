package logging

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i2y/quill/llm"
)

// DefaultHistorySize is the number of completed entries kept by Recent.
const DefaultHistorySize = 100

// Status is the state of a logged request.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Entry is one request in the history.
type Entry struct {
	ID string
	llm.RequestMeta
	Status     Status
	Text       string
	Error      string
	Duration   time.Duration
	FinishedAt time.Time
}

// RequestLog writes request lifecycle events to a logrus logger and keeps
// the most recent completed entries in memory. It implements
// llm.RequestLogger and is safe for concurrent use.
//
// A terminal event for an id that is unknown or already completed is
// ignored, so each request has at most one terminal entry.
type RequestLog struct {
	log  logrus.FieldLogger
	size int

	mu      sync.Mutex
	pending map[string]*Entry
	ring    []Entry
	next    int
}

var _ llm.RequestLogger = (*RequestLog)(nil)

// RequestLogOption configures a RequestLog.
type RequestLogOption func(*RequestLog)

// WithHistorySize sets how many completed entries Recent returns.
func WithHistorySize(n int) RequestLogOption {
	return func(r *RequestLog) {
		if n > 0 {
			r.size = n
		}
	}
}

// NewRequestLog creates a RequestLog writing to log. A nil log uses the
// logrus standard logger.
func NewRequestLog(log logrus.FieldLogger, opts ...RequestLogOption) *RequestLog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &RequestLog{
		log:     log,
		size:    DefaultHistorySize,
		pending: make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ring = make([]Entry, 0, r.size)
	return r
}

// LogRequest records the start of a request and returns its log id.
func (r *RequestLog) LogRequest(meta llm.RequestMeta) string {
	id := uuid.NewString()
	if meta.StartedAt.IsZero() {
		meta.StartedAt = time.Now()
	}

	r.mu.Lock()
	r.pending[id] = &Entry{ID: id, RequestMeta: meta, Status: StatusPending}
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{
		"log_id":       id,
		"entity_id":    meta.EntityID,
		"operation":    meta.Operation,
		"provider":     meta.Provider,
		"model":        meta.Model,
		"streaming":    meta.Streaming,
		"reasoning":    meta.Reasoning,
		"max_tokens":   meta.MaxTokens,
		"prompt_chars": meta.PromptChars,
	}).Info("llm request")
	return id
}

// LogSuccess records a successful completion.
func (r *RequestLog) LogSuccess(id, text string, d time.Duration) {
	e, ok := r.complete(id, StatusSuccess, d, func(e *Entry) { e.Text = text })
	if !ok {
		return
	}
	r.fields(e).WithField("response_chars", len([]rune(text))).Info("llm request succeeded")
}

// LogError records a failure with a user-displayable message.
func (r *RequestLog) LogError(id, message string, d time.Duration) {
	e, ok := r.complete(id, StatusError, d, func(e *Entry) { e.Error = message })
	if !ok {
		return
	}
	r.fields(e).WithField("error", message).Warn("llm request failed")
}

// LogAborted records a cancelled request.
func (r *RequestLog) LogAborted(id string, d time.Duration) {
	e, ok := r.complete(id, StatusAborted, d, nil)
	if !ok {
		return
	}
	r.fields(e).Info("llm request aborted")
}

// Recent returns completed entries, newest first.
func (r *RequestLog) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.ring))
	n := len(r.ring)
	for i := 1; i <= n; i++ {
		out = append(out, r.ring[(r.next-i+n)%n])
	}
	return out
}

// Pending returns the number of requests without a terminal event.
func (r *RequestLog) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *RequestLog) complete(id string, status Status, d time.Duration, fill func(*Entry)) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.pending[id]
	if !ok {
		return Entry{}, false
	}
	delete(r.pending, id)

	e.Status = status
	e.Duration = d
	e.FinishedAt = time.Now()
	if fill != nil {
		fill(e)
	}

	if len(r.ring) < r.size {
		r.ring = append(r.ring, *e)
		r.next = len(r.ring) % r.size
	} else {
		r.ring[r.next] = *e
		r.next = (r.next + 1) % r.size
	}
	return *e, true
}

func (r *RequestLog) fields(e Entry) logrus.FieldLogger {
	return r.log.WithFields(logrus.Fields{
		"log_id":      e.ID,
		"entity_id":   e.EntityID,
		"operation":   e.Operation,
		"provider":    e.Provider,
		"duration_ms": e.Duration.Milliseconds(),
	})
}
