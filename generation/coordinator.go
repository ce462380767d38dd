// Package generation tracks story generations and runs the story operations
// (scene summaries, titles, scene beats and chat turns) on top of the
// orchestrator.
//
// A Coordinator allows at most one generation per entity id. Each generation
// moves from Generating to Completed, Failed or Cancelled and its record is
// removed when it ends.
package generation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/metrics"
	"github.com/i2y/quill/provider"
)

var (
	// ErrAlreadyGenerating is returned when a generation is already running
	// for the entity and the policy is PolicyReject.
	ErrAlreadyGenerating = errors.New("generation already in progress")

	// ErrClosed is returned by a Coordinator after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Cancellation causes.
var (
	errCancelled = errors.New("generation cancelled")
	errReplaced  = errors.New("generation replaced")
	errClosed    = errors.New("coordinator closed")
	errFinished  = errors.New("generation finished")
)

// State is the lifecycle state of a generation.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Policy decides what happens when a generation starts while another one is
// running for the same entity.
type Policy int

const (
	// PolicyDefault uses the Coordinator's policy.
	PolicyDefault Policy = iota
	// PolicyReject fails the new generation with ErrAlreadyGenerating.
	PolicyReject
	// PolicyReplace cancels the running generation, waits for it to end and
	// then starts the new one.
	PolicyReplace
)

// Task is one generation to run.
type Task struct {
	EntityID  string
	Operation string
	// Build creates the request. It runs after the generation has started,
	// so store reads it makes are fresh.
	Build func(ctx context.Context) (*llm.Request, error)
	// Post transforms the text of a successful generation.
	Post func(text string) string
	// OnChunk receives visible text in network order. A nil OnChunk runs a
	// non-streaming call.
	OnChunk func(text string)
	Policy  Policy
	// Fallback allows one further attempt on the registry's fallback
	// provider when the first provider is unavailable or rate limited and no
	// text has been delivered.
	Fallback bool
}

// Outcome is the result of a generation.
type Outcome struct {
	GenerationID string
	EntityID     string
	Operation    string
	State        State
	// Text is the post-processed text of a completed generation.
	Text   string
	Result *llm.Result
	// Message is a user-displayable description of a failure.
	Message  string
	Duration time.Duration
	// Dropped and Truncated describe the context the prompt was built with.
	Dropped   int
	Truncated bool
}

type record struct {
	id        string
	entityID  string
	operation string
	state     State
	startedAt time.Time
	cancel    context.CancelCauseFunc
	done      chan struct{}
}

// Coordinator runs generations. It is safe for concurrent use.
type Coordinator struct {
	llm     *llm.Orchestrator
	policy  Policy
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	records map[string]*record
	closed  bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPolicy sets the default policy. Defaults to PolicyReject.
func WithPolicy(p Policy) Option {
	return func(c *Coordinator) {
		if p != PolicyDefault {
			c.policy = p
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates a Coordinator running calls through o.
func NewCoordinator(o *llm.Orchestrator, opts ...Option) *Coordinator {
	c := &Coordinator{
		llm:     o,
		policy:  PolicyReject,
		log:     logrus.StandardLogger(),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run runs task to completion. A cancelled generation returns an Outcome in
// StateCancelled and a nil error. A failed one returns an Outcome in
// StateFailed along with the error.
func (c *Coordinator) Run(ctx context.Context, task Task) (*Outcome, error) {
	if strings.TrimSpace(task.EntityID) == "" {
		return nil, &llm.ValidationError{Field: "entity_id", Message: "An entity id is required to start a generation."}
	}
	if task.Build == nil {
		return nil, &llm.ValidationError{Field: "build", Message: "Nothing to generate."}
	}

	rec, rctx, err := c.start(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &Outcome{EntityID: task.EntityID, Operation: task.Operation, State: StateCancelled}, nil
		}
		return nil, err
	}

	res, text, err := c.execute(rctx, task)

	out := &Outcome{
		GenerationID: rec.id,
		EntityID:     task.EntityID,
		Operation:    task.Operation,
		Duration:     time.Since(rec.startedAt),
	}
	switch {
	case isCancellation(rctx, err):
		out.State = StateCancelled
		err = nil
	case err != nil:
		out.State = StateFailed
		out.Message = ErrorMessage(err)
	default:
		out.State = StateCompleted
		out.Result = res
		if task.Post != nil {
			text = task.Post(text)
		}
		out.Text = text
	}

	c.finish(rec, out.State, err)
	return out, err
}

// isCancellation reports whether a generation ended because it was
// cancelled. A result or error that arrives after cancellation is discarded.
func isCancellation(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, llm.ErrCancelled)
}

// start claims the entity's slot.
func (c *Coordinator) start(ctx context.Context, task Task) (*record, context.Context, error) {
	policy := task.Policy
	if policy == PolicyDefault {
		policy = c.policy
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, nil, ErrClosed
		}

		old, busy := c.records[task.EntityID]
		if !busy {
			rctx, cancel := context.WithCancelCause(ctx)
			rec := &record{
				id:        uuid.NewString(),
				entityID:  task.EntityID,
				operation: task.Operation,
				state:     StateGenerating,
				startedAt: time.Now(),
				cancel:    cancel,
				done:      make(chan struct{}),
			}
			c.records[task.EntityID] = rec
			c.mu.Unlock()

			c.metrics.GenerationStarted()
			c.log.WithFields(logrus.Fields{
				"generation_id": rec.id,
				"entity_id":     rec.entityID,
				"operation":     rec.operation,
			}).Debug("generation started")
			return rec, rctx, nil
		}

		// A cancelled generation is only waiting for its call to unwind.
		if old.state != StateCancelled && policy != PolicyReplace {
			c.mu.Unlock()
			return nil, nil, fmt.Errorf("%w for %q", ErrAlreadyGenerating, task.EntityID)
		}
		old.state = StateCancelled
		old.cancel(errReplaced)
		c.mu.Unlock()

		select {
		case <-old.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
}

func (c *Coordinator) finish(rec *record, state State, err error) {
	c.mu.Lock()
	rec.state = state
	if c.records[rec.entityID] == rec {
		delete(c.records, rec.entityID)
	}
	c.mu.Unlock()

	rec.cancel(errFinished)
	close(rec.done)
	c.metrics.GenerationFinished(rec.operation, string(state))

	entry := c.log.WithFields(logrus.Fields{
		"generation_id": rec.id,
		"entity_id":     rec.entityID,
		"operation":     rec.operation,
		"state":         state,
		"duration_ms":   time.Since(rec.startedAt).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Info("generation failed")
		return
	}
	entry.Debug("generation finished")
}

// execute builds the request and runs it, with at most one fallback attempt.
func (c *Coordinator) execute(ctx context.Context, task Task) (*llm.Result, string, error) {
	req, err := task.Build(ctx)
	if err != nil {
		return nil, "", err
	}
	if req.EntityID == "" {
		req.EntityID = task.EntityID
	}
	if req.Operation == "" {
		req.Operation = task.Operation
	}

	res, text, err := c.call(ctx, req, task.OnChunk)
	if err == nil || !task.Fallback || text != "" || ctx.Err() != nil {
		return res, text, err
	}

	alt, from, ok := c.fallbackFor(err)
	if !ok {
		return res, text, err
	}
	c.log.WithFields(logrus.Fields{
		"entity_id": task.EntityID,
		"from":      from,
		"to":        alt,
	}).WithError(err).Warn("retrying generation on fallback provider")
	c.metrics.Fallback(string(from), string(alt))

	retry := *req
	retry.Provider = alt
	// An empty model id selects the fallback provider's default model.
	retry.Model = provider.ModelReference{Provider: alt}.String()
	return c.call(ctx, &retry, task.OnChunk)
}

// fallbackFor returns the fallback provider for a failure that another
// provider might not have. A call that already went to the alternate
// provider gets no further attempt.
func (c *Coordinator) fallbackFor(err error) (alt, from provider.Kind, ok bool) {
	var te *llm.TransportError
	if !errors.As(err, &te) {
		return "", "", false
	}
	if te.FellBack {
		return "", "", false
	}
	if te.Category != llm.CategoryUnavailable && te.Category != llm.CategoryRateLimited {
		return "", "", false
	}
	alt, ok = c.llm.Registry().FallbackCandidate(te.Provider)
	return alt, te.Provider, ok
}

// call runs one orchestrator call. On failure it returns the visible text
// delivered before the error.
func (c *Coordinator) call(ctx context.Context, req *llm.Request, onChunk func(string)) (*llm.Result, string, error) {
	if onChunk == nil {
		res, err := c.llm.Execute(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return res, res.Text, nil
	}

	stream, err := c.llm.ExecuteStream(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = stream.Close() }()

	for text := range stream.Chunks() {
		onChunk(text)
	}
	if err := stream.Err(); err != nil {
		return nil, stream.Text(), err
	}
	res := stream.Result()
	return res, res.Text, nil
}

// Cancel cancels the running generation for entityID. It is a no-op when
// nothing is running.
func (c *Coordinator) Cancel(entityID string) {
	c.mu.Lock()
	rec, ok := c.records[entityID]
	if ok && rec.state == StateGenerating {
		rec.state = StateCancelled
	}
	c.mu.Unlock()

	if ok {
		rec.cancel(errCancelled)
	}
}

// State returns the state of entityID's generation. Entities without a
// running generation are StateIdle.
func (c *Coordinator) State(entityID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[entityID]; ok {
		return rec.state
	}
	return StateIdle
}

// IsActive reports whether a generation is running for entityID.
func (c *Coordinator) IsActive(entityID string) bool {
	return c.State(entityID) == StateGenerating
}

// Active returns the entity ids with a running generation, sorted.
func (c *Coordinator) Active() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, rec := range c.records {
		if rec.state == StateGenerating {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Close cancels every running generation and clears all records. Later
// calls to Run fail with ErrClosed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	recs := make([]*record, 0, len(c.records))
	for _, rec := range c.records {
		rec.state = StateCancelled
		recs = append(recs, rec)
	}
	c.records = make(map[string]*record)
	c.closed = true
	c.mu.Unlock()

	for _, rec := range recs {
		rec.cancel(errClosed)
	}
}

// ErrorMessage converts err into text that can be shown to a user.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyGenerating):
		return "A generation is already running for this item."
	case errors.Is(err, ErrClosed):
		return "Generation is no longer available."
	default:
		return llm.ErrorMessage(err)
	}
}
