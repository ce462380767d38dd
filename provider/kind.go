package provider

import "strings"

// Kind identifies one of the supported backends. The set is closed.
type Kind string

const (
	KindOpenRouter Kind = "openrouter"
	KindOpenAI     Kind = "openai"
	KindAnthropic  Kind = "anthropic"
	KindGemini     Kind = "gemini"
	KindLocal      Kind = "local"
	KindOllama     Kind = "ollama"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindOpenRouter, KindOpenAI, KindAnthropic, KindGemini, KindLocal, KindOllama}

// DefaultFallbackOrder is the priority used to pick an alternate provider
// when the requested one is unavailable.
var DefaultFallbackOrder = []Kind{KindOpenRouter, KindGemini, KindOpenAI, KindAnthropic, KindLocal, KindOllama}

// Field names a ProviderConfig field a kind needs before it counts as available.
type Field string

const (
	FieldAPIKey  Field = "api_key"
	FieldBaseURL Field = "base_url"
)

// requiredFields maps each kind to the config field it cannot work without.
var requiredFields = map[Kind]Field{
	KindOpenRouter: FieldAPIKey,
	KindOpenAI:     FieldAPIKey,
	KindAnthropic:  FieldAPIKey,
	KindGemini:     FieldAPIKey,
	KindLocal:      FieldBaseURL,
	KindOllama:     FieldBaseURL,
}

// RequiredField returns the field kind needs to be available.
func (k Kind) RequiredField() Field {
	return requiredFields[k]
}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	_, ok := requiredFields[k]
	return ok
}

// ParseKind converts s to a Kind, reporting whether it is supported.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Config is the per-provider configuration. It is read-only to this module.
type Config struct {
	Enabled      bool              `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	APIKey       string            `json:"api_key,omitempty" yaml:"api_key" mapstructure:"api_key"`
	BaseURL      string            `json:"base_url,omitempty" yaml:"base_url" mapstructure:"base_url"`
	DefaultModel string            `json:"default_model,omitempty" yaml:"default_model" mapstructure:"default_model"`
	Temperature  *float64          `json:"temperature,omitempty" yaml:"temperature" mapstructure:"temperature"`
	TopP         *float64          `json:"top_p,omitempty" yaml:"top_p" mapstructure:"top_p"`
	Extra        map[string]string `json:"extra,omitempty" yaml:"extra" mapstructure:"extra"`
}

// Field returns the value of a required field.
func (c Config) Field(f Field) string {
	switch f {
	case FieldAPIKey:
		return c.APIKey
	case FieldBaseURL:
		return c.BaseURL
	default:
		return ""
	}
}

// Available reports whether c is usable for kind k.
func (c Config) Available(k Kind) bool {
	if !c.Enabled || !k.Valid() {
		return false
	}
	return strings.TrimSpace(c.Field(k.RequiredField())) != ""
}

// ConfigSource supplies the current provider configuration. It is read
// synchronously at the start of every call.
type ConfigSource interface {
	ProviderConfigs() map[Kind]Config
}

// StaticConfig is a fixed ConfigSource.
type StaticConfig map[Kind]Config

// ProviderConfigs implements ConfigSource.
func (s StaticConfig) ProviderConfigs() map[Kind]Config {
	return s
}
