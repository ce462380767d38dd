// Package config loads quill's configuration file and keeps it current while
// the file changes.
//
// The file is YAML. ${VAR} and ${VAR:default} placeholders are replaced with
// environment variables before parsing, and QUILL_* variables override keys,
// e.g. QUILL_GENERATION_TIMEOUT=2m or QUILL_PROVIDERS_OPENAI_API_KEY=sk-....
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i2y/quill/generation"
	"github.com/i2y/quill/llm"
	"github.com/i2y/quill/logging"
	"github.com/i2y/quill/provider"
	"github.com/i2y/quill/tracing"
)

// Config is the configuration file.
type Config struct {
	Providers map[provider.Kind]provider.Config `json:"providers,omitempty" mapstructure:"providers" jsonschema:"description=Backend settings keyed by provider kind"`
	// DefaultProvider is used for model ids without a provider prefix.
	DefaultProvider provider.Kind `json:"default_provider,omitempty" mapstructure:"default_provider" jsonschema:"enum=openrouter,enum=openai,enum=anthropic,enum=gemini,enum=local,enum=ollama"`
	// FallbackOrder is the priority used to pick an alternate provider.
	FallbackOrder []provider.Kind `json:"fallback_order,omitempty" mapstructure:"fallback_order"`
	Generation    Generation      `json:"generation" mapstructure:"generation"`
	Logging       Logging         `json:"logging" mapstructure:"logging"`
	Prompts       Prompts         `json:"prompts" mapstructure:"prompts"`
	Tracing       tracing.Config  `json:"tracing" mapstructure:"tracing"`
	Metrics       Metrics         `json:"metrics" mapstructure:"metrics"`
}

// Generation configures the orchestrator and the coordinator.
type Generation struct {
	Timeout            time.Duration `json:"timeout" mapstructure:"timeout" jsonschema:"type=string,default=90s,description=Watchdog ceiling for one backend call"`
	MaxConcurrent      int           `json:"max_concurrent" mapstructure:"max_concurrent" jsonschema:"minimum=0,description=Cap on concurrent backend calls; 0 means no cap"`
	ContextTokenBudget int           `json:"context_token_budget" mapstructure:"context_token_budget" jsonschema:"minimum=0"`
	// ReplaceRunning cancels a running generation when another one starts
	// for the same entity instead of rejecting the new one.
	ReplaceRunning bool `json:"replace_running" mapstructure:"replace_running"`
}

// Logging configures the ambient logger.
type Logging struct {
	Level  string `json:"level" mapstructure:"level" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=error"`
	Format string `json:"format" mapstructure:"format" jsonschema:"enum=text,enum=json"`
}

// Prompts configures prompt templates.
type Prompts struct {
	// Dir holds templates that override the built-in ones by name.
	Dir string `json:"dir,omitempty" mapstructure:"dir"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `json:"addr,omitempty" mapstructure:"addr"`
}

// ProviderConfigs implements provider.ConfigSource.
func (c *Config) ProviderConfigs() map[provider.Kind]provider.Config {
	return c.Providers
}

// Policy returns the coordinator policy selected by ReplaceRunning.
func (g Generation) Policy() generation.Policy {
	if g.ReplaceRunning {
		return generation.PolicyReplace
	}
	return generation.PolicyReject
}

// Options returns the logging options for l.
func (l Logging) Options() logging.Options {
	return logging.Options{Level: l.Level, Format: logging.Format(l.Format)}
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	for kind := range c.Providers {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("providers: unknown provider %q", kind))
		}
	}
	if c.DefaultProvider != "" && !c.DefaultProvider.Valid() {
		errs = append(errs, fmt.Errorf("default_provider: unknown provider %q", c.DefaultProvider))
	}
	for _, kind := range c.FallbackOrder {
		if !kind.Valid() {
			errs = append(errs, fmt.Errorf("fallback_order: unknown provider %q", kind))
		}
	}
	if c.Generation.Timeout < 0 {
		errs = append(errs, errors.New("generation.timeout: must not be negative"))
	}
	if c.Generation.MaxConcurrent < 0 {
		errs = append(errs, errors.New("generation.max_concurrent: must not be negative"))
	}
	if c.Generation.ContextTokenBudget < 0 {
		errs = append(errs, errors.New("generation.context_token_budget: must not be negative"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if r := c.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate: %v is not between 0 and 1", r))
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Providers: map[provider.Kind]provider.Config{},
		Generation: Generation{
			Timeout:            llm.DefaultTimeout,
			ContextTokenBudget: generation.DefaultContextTokenBudget,
		},
		Logging: Logging{Level: "info", Format: string(logging.FormatText)},
		Tracing: tracing.Config{SampleRate: 1, ServiceName: tracing.DefaultServiceName},
	}
}
