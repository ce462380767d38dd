package generation

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/logging"
	"github.com/i2y/quill/metrics"
	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/storycontext"
)

// fakeProvider implements provider.StreamingProvider for testing.
type fakeProvider struct {
	mu        sync.Mutex
	reqs      []*provider.Request
	active    int
	maxActive int

	reply  string
	chunks []string
	err    error
	// blockN is the number of initial calls that block until cancelled.
	blockN  int
	started chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{reply: "ok", started: make(chan struct{}, 64)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) enter(req *provider.Request) bool {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	block := len(f.reqs) <= f.blockN
	f.mu.Unlock()

	select {
	case f.started <- struct{}{}:
	default:
	}
	return block
}

func (f *fakeProvider) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

func (f *fakeProvider) last() *provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func (f *fakeProvider) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeProvider) Call(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	block := f.enter(req)
	defer f.leave()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &provider.Response{Content: f.reply, FinishReason: provider.FinishReasonStop}, nil
}

func (f *fakeProvider) CallStream(ctx context.Context, req *provider.Request) (provider.ResponseStream, error) {
	block := f.enter(req)
	return &fakeStream{f: f, ctx: ctx, chunks: f.chunks, block: block, final: f.err}, nil
}

type fakeStream struct {
	f       *fakeProvider
	ctx     context.Context
	chunks  []string
	idx     int
	current *provider.StreamChunk
	block   bool
	final   error
	err     error
	text    strings.Builder
	once    sync.Once
}

func (s *fakeStream) Next() bool {
	if s.block {
		<-s.ctx.Done()
		s.err = s.ctx.Err()
		return false
	}
	if s.idx >= len(s.chunks) {
		s.err = s.final
		return false
	}
	s.current = &provider.StreamChunk{Delta: s.chunks[s.idx]}
	s.text.WriteString(s.chunks[s.idx])
	s.idx++
	return true
}

func (s *fakeStream) Current() *provider.StreamChunk { return s.current }
func (s *fakeStream) Err() error                     { return s.err }

func (s *fakeStream) Close() error {
	s.once.Do(s.f.leave)
	return nil
}

func (s *fakeStream) Accumulated() *provider.Response {
	return &provider.Response{Content: s.text.String()}
}

type harness struct {
	svc      *Service
	coord    *Coordinator
	store    *storycontext.MemoryStore
	requests *logging.RequestLog
	metrics  *metrics.Metrics
}

// requestCount returns how many calls reached the request log.
func (h *harness) requestCount() int {
	return h.requests.Pending() + len(h.requests.Recent())
}

type harnessConfig struct {
	providers provider.StaticConfig
	backends  map[provider.Kind]provider.Provider
	coordOpts []Option
	svcOpts   []ServiceOption
}

func newHarness(t *testing.T, f *fakeProvider, mods ...func(*harnessConfig)) *harness {
	t.Helper()

	cfg := &harnessConfig{
		providers: provider.StaticConfig{
			provider.KindOpenRouter: {Enabled: true, APIKey: "k", DefaultModel: "openrouter/auto"},
		},
		backends: map[provider.Kind]provider.Provider{provider.KindOpenRouter: f},
	}
	for _, mod := range mods {
		mod(cfg)
	}

	reg := provider.NewRegistry(cfg.providers)
	for kind, p := range cfg.backends {
		reg.Register(kind, func(provider.Kind, provider.Config) (provider.Provider, error) { return p, nil })
	}

	logger, _ := test.NewNullLogger()
	requests := logging.NewRequestLog(logger)
	m := metrics.New(prometheus.NewRegistry())
	o := llm.New(reg, llm.WithRequestLogger(requests), llm.WithLogger(logger), llm.WithMetrics(m))

	coord := NewCoordinator(o, append([]Option{WithLogger(logger), WithMetrics(m)}, cfg.coordOpts...)...)
	store := storycontext.NewMemoryStore()
	svc, err := NewService(coord, store, cfg.svcOpts...)
	require.NoError(t, err)

	return &harness{svc: svc, coord: coord, store: store, requests: requests, metrics: m}
}
