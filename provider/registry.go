package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds how many built providers a Registry keeps.
const DefaultCacheSize = 32

// Factory builds a Provider for a kind from its current configuration.
type Factory func(kind Kind, cfg Config) (Provider, error)

// ErrNoProvider is matched by every NoProviderError.
var ErrNoProvider = errors.New("no provider configured")

// ErrNoModel is matched by every NoModelError.
var ErrNoModel = errors.New("no model selected")

// NoProviderError reports that no usable provider could be found.
type NoProviderError struct {
	Requested Kind
}

func (e *NoProviderError) Error() string {
	if e.Requested == "" {
		return "no provider configured"
	}
	return fmt.Sprintf("no provider configured: %q is not enabled or missing its %s", e.Requested, e.Requested.RequiredField())
}

func (e *NoProviderError) Is(target error) bool {
	return target == ErrNoProvider
}

// NoModelError reports that a provider was found but no model was chosen
// and the provider has no default model.
type NoModelError struct {
	Provider Kind
}

func (e *NoModelError) Error() string {
	return fmt.Sprintf("no model selected for provider %q", e.Provider)
}

func (e *NoModelError) Is(target error) bool {
	return target == ErrNoModel
}

// Resolution is the outcome of resolving a model reference.
type Resolution struct {
	Kind     Kind
	ModelID  string
	Config   Config
	Provider Provider
	// FellBack is set when Kind is the alternate, not the requested provider.
	FellBack bool
}

// Registry resolves model references against configured providers.
// It is owned by its creator; there is no process-wide instance.
type Registry struct {
	source ConfigSource

	mu        sync.RWMutex
	factories map[Kind]Factory
	order     []Kind
	cacheSize int

	// built holds providers keyed by kind and a digest of their config, so
	// a config change builds a fresh client.
	built  *lru.Cache[string, Provider]
	builds singleflight.Group
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallbackOrder overrides DefaultFallbackOrder. Unknown kinds are
// ignored and an empty order keeps the default.
func WithFallbackOrder(order ...Kind) RegistryOption {
	return func(r *Registry) {
		if len(order) > 0 {
			r.order = sanitizeOrder(order)
		}
	}
}

// WithCacheSize sets how many built providers are kept. Zero disables the
// cache.
func WithCacheSize(n int) RegistryOption {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// NewRegistry creates a Registry reading configuration from source.
func NewRegistry(source ConfigSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		source:    source,
		factories: make(map[Kind]Factory),
		order:     slices.Clone(DefaultFallbackOrder),
		cacheSize: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheSize > 0 {
		r.built, _ = lru.New[string, Provider](r.cacheSize)
	}
	return r
}

// Register adds a provider factory for kind, replacing any previous one.
func (r *Registry) Register(kind Kind, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
	if r.built != nil {
		r.built.Purge()
	}
}

// IsRegistered checks if a factory exists for kind.
func (r *Registry) IsRegistered(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// SetFallbackOrder replaces the fallback priority order. An empty order
// restores DefaultFallbackOrder.
func (r *Registry) SetFallbackOrder(order ...Kind) {
	if len(order) == 0 {
		order = DefaultFallbackOrder
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = sanitizeOrder(order)
}

// IsAvailable reports whether kind is registered, enabled and has its
// required field configured.
func (r *Registry) IsAvailable(kind Kind) bool {
	return r.available(r.snapshot(), kind)
}

// ListAvailable returns available kinds in fallback priority order.
func (r *Registry) ListAvailable() []Kind {
	configs := r.snapshot()
	var out []Kind
	for _, k := range r.fallbackOrder() {
		if r.available(configs, k) {
			out = append(out, k)
		}
	}
	return out
}

// FallbackCandidate returns the single alternate provider used when
// requested is unavailable: the first available kind in priority order
// other than requested.
func (r *Registry) FallbackCandidate(requested Kind) (Kind, bool) {
	return r.fallbackCandidate(r.snapshot(), requested)
}

// Resolve picks the provider and concrete model id for ref.
//
// A prefixed reference must name an available provider. An unprefixed one
// uses requested when available, otherwise exactly one alternate from the
// fallback order. The model id falls back to the provider's default model.
func (r *Registry) Resolve(ref ModelReference, requested Kind) (*Resolution, error) {
	configs := r.snapshot()

	var (
		kind     Kind
		fellBack bool
	)
	switch {
	case ref.Provider != "":
		if !r.available(configs, ref.Provider) {
			return nil, &NoProviderError{Requested: ref.Provider}
		}
		kind = ref.Provider
	case requested != "" && r.available(configs, requested):
		kind = requested
	default:
		alt, ok := r.fallbackCandidate(configs, requested)
		if !ok {
			return nil, &NoProviderError{Requested: requested}
		}
		kind, fellBack = alt, requested != ""
	}

	cfg := configs[kind]
	modelID := ref.ModelID
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	if modelID == "" {
		return nil, &NoModelError{Provider: kind}
	}

	p, err := r.build(kind, cfg)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Kind:     kind,
		ModelID:  modelID,
		Config:   cfg,
		Provider: p,
		FellBack: fellBack,
	}, nil
}

// Get builds the provider for an available kind.
func (r *Registry) Get(kind Kind) (Provider, error) {
	configs := r.snapshot()
	if !r.available(configs, kind) {
		return nil, &NoProviderError{Requested: kind}
	}
	return r.build(kind, configs[kind])
}

func (r *Registry) build(kind Kind, cfg Config) (Provider, error) {
	r.mu.RLock()
	factory := r.factories[kind]
	r.mu.RUnlock()

	if r.built == nil {
		return newProvider(factory, kind, cfg)
	}

	key := cacheKey(kind, cfg)
	if p, ok := r.built.Get(key); ok {
		return p, nil
	}
	v, err, _ := r.builds.Do(key, func() (any, error) {
		p, err := newProvider(factory, kind, cfg)
		if err != nil {
			return nil, err
		}
		r.built.Add(key, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

func newProvider(factory Factory, kind Kind, cfg Config) (Provider, error) {
	p, err := factory(kind, cfg)
	if err != nil {
		return nil, fmt.Errorf("building %s provider: %w", kind, err)
	}
	return p, nil
}

func cacheKey(kind Kind, cfg Config) string {
	data, _ := json.Marshal(cfg)
	sum := sha256.Sum256(data)
	return string(kind) + ":" + hex.EncodeToString(sum[:])
}

func (r *Registry) fallbackCandidate(configs map[Kind]Config, requested Kind) (Kind, bool) {
	for _, k := range r.fallbackOrder() {
		if k != requested && r.available(configs, k) {
			return k, true
		}
	}
	return "", false
}

func (r *Registry) available(configs map[Kind]Config, kind Kind) bool {
	if !r.IsRegistered(kind) {
		return false
	}
	cfg, ok := configs[kind]
	return ok && cfg.Available(kind)
}

func (r *Registry) snapshot() map[Kind]Config {
	if r.source == nil {
		return nil
	}
	return r.source.ProviderConfigs()
}

func (r *Registry) fallbackOrder() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.order
}

func sanitizeOrder(order []Kind) []Kind {
	out := make([]Kind, 0, len(order))
	for _, k := range order {
		if k.Valid() && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}
