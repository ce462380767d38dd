// Package llm executes requests against the configured backends.
//
// An Orchestrator resolves the model reference, applies the reasoning
// decoration, runs the call under a watchdog and cancellation handle, filters
// hidden reasoning text and classifies failures. Every call that reaches the
// network produces exactly one terminal RequestLogger event.
package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/i2y/quill/metrics"
	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/reasoning"
)

// Request is one generation request.
type Request struct {
	// EntityID scopes cancellation. Optional.
	EntityID string
	// Operation names the call in logs, e.g. "summary" or "chat".
	Operation string
	// Model is a "provider:modelId" reference or a raw model id.
	Model string
	// Provider is the provider requested for raw model ids.
	Provider provider.Kind

	SystemPrompt string
	Messages     []Message
	Prompt       string

	// MaxTokens is the visible output length. Reasoning budget is added on top.
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Result is the outcome of a successful call.
type Result struct {
	Text         string
	Provider     provider.Kind
	Model        string
	FellBack     bool
	Reasoning    reasoning.Decision
	FinishReason provider.FinishReason
	Usage        provider.Usage
	Duration     time.Duration
	LogID        string
}

// Orchestrator runs requests. It is safe for concurrent use.
type Orchestrator struct {
	registry *provider.Registry
	requests RequestLogger
	log      logrus.FieldLogger
	timeout  time.Duration
	sem      *semaphore.Weighted
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu       sync.Mutex
	inflight map[string]map[*call]struct{}
}

// New creates an Orchestrator resolving providers through registry.
func New(registry *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		requests: nopRequestLogger{},
		log:      logrus.StandardLogger(),
		timeout:  DefaultTimeout,
		tracer:   otel.Tracer("github.com/i2y/quill/llm"),
		inflight: make(map[string]map[*call]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// Execute runs a non-streaming call.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Result, error) {
	p, err := o.prepare(req)
	if err != nil {
		return nil, err
	}

	c := o.begin(ctx, req, p, false)
	if err := c.acquire(); err != nil {
		return nil, c.finish("", nil, err)
	}

	resp, err := p.res.Provider.Call(c.ctx, p.wire)
	return c.finishResponse(resp, err)
}

// Cancel cancels every in-flight call for entityID. It is a no-op when
// nothing is running for it.
func (o *Orchestrator) Cancel(entityID string) {
	o.mu.Lock()
	calls := make([]*call, 0, len(o.inflight[entityID]))
	for c := range o.inflight[entityID] {
		calls = append(calls, c)
	}
	o.mu.Unlock()

	for _, c := range calls {
		c.cancel(errCancelled)
	}
}

// InFlight reports how many calls are running for entityID.
func (o *Orchestrator) InFlight(entityID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.inflight[entityID])
}

// prepared is a validated and resolved request.
type prepared struct {
	req      *Request
	res      *provider.Resolution
	decision reasoning.Decision
	wire     *provider.Request
}

// prepare validates and resolves req. Its errors are returned before any
// log entry or network call.
func (o *Orchestrator) prepare(req *Request) (*prepared, error) {
	if req == nil {
		return nil, &ValidationError{Message: "request is required"}
	}
	if strings.TrimSpace(req.Prompt) == "" && !hasContent(req.Messages) {
		return nil, &ValidationError{Field: "prompt", Message: "Nothing to send: the prompt is empty."}
	}
	if req.MaxTokens < 0 {
		return nil, &ValidationError{Field: "max_tokens", Message: "Maximum output length cannot be negative."}
	}

	res, err := o.registry.Resolve(provider.ParseModelReference(req.Model), req.Provider)
	if err != nil {
		return nil, &ConfigurationError{Cause: err}
	}

	d := reasoning.Classify(res.ModelID, req.MaxTokens)
	return &prepared{
		req:      req,
		res:      res,
		decision: d,
		wire:     buildRequest(req, res, d),
	}, nil
}

// buildRequest creates the provider request, applying the reasoning
// decoration and per-provider sampling defaults.
func buildRequest(req *Request, res *provider.Resolution, d reasoning.Decision) *provider.Request {
	wire := &provider.Request{
		Model:       d.BaseModel,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if wire.Temperature == nil {
		wire.Temperature = res.Config.Temperature
	}
	if wire.TopP == nil {
		wire.TopP = res.Config.TopP
	}

	if req.MaxTokens > 0 {
		n := d.MaxTokens(req.MaxTokens)
		wire.MaxTokens = &n
	}

	switch d.Mode {
	case reasoning.ModeEffort:
		wire.Reasoning = &provider.Reasoning{Effort: string(d.Effort)}
	case reasoning.ModeBudget:
		wire.Reasoning = &provider.Reasoning{BudgetTokens: d.BudgetTokens}
	}

	if req.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, SystemMessage(req.SystemPrompt))
	}
	wire.Messages = append(wire.Messages, req.Messages...)
	if req.Prompt != "" {
		wire.Messages = append(wire.Messages, UserMessage(req.Prompt))
	}

	return wire
}

func hasContent(msgs []Message) bool {
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}

// Cancellation causes.
var (
	errCancelled = errors.New("cancelled by caller")
	errWatchdog  = errors.New("watchdog fired")
	errFinished  = errors.New("call finished")
)

// outcome of a call, used for metrics and span status.
const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
	outcomeAborted = "aborted"
)

// call tracks one in-flight request from its first log entry to its
// terminal one.
type call struct {
	o        *Orchestrator
	p        *prepared
	ctx      context.Context
	cancel   context.CancelCauseFunc
	watchdog *time.Timer
	span     trace.Span
	logID    string
	started  time.Time
	acquired bool
	once     sync.Once
}

// begin registers the call, starts its watchdog and span, and emits the
// request log entry.
func (o *Orchestrator) begin(ctx context.Context, req *Request, p *prepared, streaming bool) *call {
	ctx, span := o.tracer.Start(ctx, "llm."+operationName(req),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(p.res.Kind)),
			attribute.String("llm.model", p.decision.BaseModel),
			attribute.String("llm.entity_id", req.EntityID),
			attribute.Bool("llm.streaming", streaming),
			attribute.Bool("llm.reasoning", p.decision.IsReasoning),
		))

	cctx, cancel := context.WithCancelCause(ctx)
	c := &call{
		o:       o,
		p:       p,
		ctx:     cctx,
		cancel:  cancel,
		span:    span,
		started: time.Now(),
	}
	c.watchdog = time.AfterFunc(o.timeout, func() { cancel(errWatchdog) })

	if req.EntityID != "" {
		o.mu.Lock()
		set, ok := o.inflight[req.EntityID]
		if !ok {
			set = make(map[*call]struct{})
			o.inflight[req.EntityID] = set
		}
		set[c] = struct{}{}
		o.mu.Unlock()
	}

	if p.res.FellBack {
		o.metrics.Fallback(string(req.Provider), string(p.res.Kind))
	}

	maxTokens := 0
	if p.wire.MaxTokens != nil {
		maxTokens = *p.wire.MaxTokens
	}
	c.logID = o.requests.LogRequest(RequestMeta{
		EntityID:    req.EntityID,
		Operation:   req.Operation,
		Provider:    p.res.Kind,
		Model:       p.decision.BaseModel,
		Streaming:   streaming,
		Reasoning:   p.decision.IsReasoning,
		MaxTokens:   maxTokens,
		PromptChars: promptChars(p.wire.Messages),
		StartedAt:   c.started,
	})

	o.log.WithFields(logrus.Fields{
		"log_id":    c.logID,
		"entity_id": req.EntityID,
		"provider":  p.res.Kind,
		"model":     p.decision.BaseModel,
		"streaming": streaming,
		"fell_back": p.res.FellBack,
	}).Debug("llm call started")

	return c
}

// acquire takes a concurrency slot.
func (c *call) acquire() error {
	if c.o.sem == nil {
		return nil
	}
	if err := c.o.sem.Acquire(c.ctx, 1); err != nil {
		return err
	}
	c.acquired = true
	return nil
}

// finishResponse completes a non-streaming call.
func (c *call) finishResponse(resp *provider.Response, err error) (*Result, error) {
	if err == nil && resp == nil {
		resp = &provider.Response{}
	}
	var res *Result
	ferr := c.finish(textOf(resp), resp, err)
	if ferr == nil {
		res = c.result(resp.Content, resp)
	}
	return res, ferr
}

// finish classifies the end of the call and emits its terminal log entry.
// Only the first call has any effect. A cancellation or watchdog that fired
// before finish wins over the backend's own result.
func (c *call) finish(text string, resp *provider.Response, err error) (ferr error) {
	c.once.Do(func() {
		fired := !c.watchdog.Stop()
		duration := time.Since(c.started)
		kind := c.p.res.Kind

		var outcome string
		switch {
		case fired || (c.ctx.Err() != nil && errors.Is(context.Cause(c.ctx), context.DeadlineExceeded)):
			outcome = outcomeTimeout
			ferr = &TimeoutError{Provider: kind, After: c.o.timeout}
		case c.ctx.Err() != nil:
			outcome = outcomeAborted
			ferr = &CancelledError{EntityID: c.p.req.EntityID}
		case err != nil:
			outcome = outcomeError
			te := newTransportError(kind, err)
			te.FellBack = c.p.res.FellBack
			ferr = te
		default:
			outcome = outcomeSuccess
		}

		c.cancel(errFinished)
		if c.acquired {
			c.o.sem.Release(1)
		}
		c.o.deregister(c)

		entry := c.o.log.WithFields(logrus.Fields{
			"log_id":      c.logID,
			"entity_id":   c.p.req.EntityID,
			"provider":    kind,
			"duration_ms": duration.Milliseconds(),
			"outcome":     outcome,
		})
		switch outcome {
		case outcomeSuccess:
			c.o.requests.LogSuccess(c.logID, text, duration)
			entry.Debug("llm call succeeded")
			if resp != nil {
				c.o.metrics.AddTokens(string(kind), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			c.span.SetStatus(codes.Ok, "")
		case outcomeAborted:
			c.o.requests.LogAborted(c.logID, duration)
			entry.Debug("llm call aborted")
			c.span.SetStatus(codes.Unset, outcomeAborted)
		default:
			c.o.requests.LogError(c.logID, ErrorMessage(ferr), duration)
			entry.WithError(ferr).Warn("llm call failed")
			c.span.RecordError(ferr)
			c.span.SetStatus(codes.Error, outcome)
		}

		c.o.metrics.ObserveCall(string(kind), outcome, duration)
		c.span.SetAttributes(attribute.String("llm.outcome", outcome))
		c.span.End()
	})
	return ferr
}

func (c *call) result(text string, resp *provider.Response) *Result {
	r := &Result{
		Text:      text,
		Provider:  c.p.res.Kind,
		Model:     c.p.decision.BaseModel,
		FellBack:  c.p.res.FellBack,
		Reasoning: c.p.decision,
		Duration:  time.Since(c.started),
		LogID:     c.logID,
	}
	if resp != nil {
		r.FinishReason = resp.FinishReason
		r.Usage = resp.Usage
	}
	return r
}

func (o *Orchestrator) deregister(c *call) {
	id := c.p.req.EntityID
	if id == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight[id], c)
	if len(o.inflight[id]) == 0 {
		delete(o.inflight, id)
	}
}

func operationName(req *Request) string {
	if req.Operation == "" {
		return "call"
	}
	return req.Operation
}

func promptChars(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += len([]rune(m.Content))
	}
	return n
}

func textOf(resp *provider.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}
