// Package backends wires every built-in backend into a provider.Registry.
package backends

import (
	"github.com/i2y/quill/anthropic"
	"github.com/i2y/quill/gemini"
	"github.com/i2y/quill/openai"
	"github.com/i2y/quill/provider"
)

// Factories maps each kind to the factory of the backend that speaks it.
var Factories = map[provider.Kind]provider.Factory{
	provider.KindOpenRouter: openai.Factory,
	provider.KindOpenAI:     openai.Factory,
	provider.KindLocal:      openai.Factory,
	provider.KindOllama:     openai.Factory,
	provider.KindAnthropic:  anthropic.Factory,
	provider.KindGemini:     gemini.Factory,
}

// RegisterDefaults registers the built-in factory for every kind.
func RegisterDefaults(r *provider.Registry) {
	for kind, f := range Factories {
		r.Register(kind, f)
	}
}

// NewRegistry returns a registry over source with every backend registered.
func NewRegistry(source provider.ConfigSource, opts ...provider.RegistryOption) *provider.Registry {
	r := provider.NewRegistry(source, opts...)
	RegisterDefaults(r)
	return r
}
