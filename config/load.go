package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/i2y/quill/provider"
)

// EnvPrefix prefixes environment variables that override configuration keys.
const EnvPrefix = "QUILL"

// providerFields are the per-provider keys that can be set from the
// environment.
var providerFields = []string{"enabled", "api_key", "base_url", "default_model", "temperature", "top_p"}

// Load reads the configuration file at path. An empty path loads the defaults
// and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, kind := range provider.Kinds {
		for _, field := range providerFields {
			if err := v.BindEnv(fmt.Sprintf("providers.%s.%s", kind, field)); err != nil {
				return nil, fmt.Errorf("binding environment: %w", err)
			}
		}
	}

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[provider.Kind]provider.Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// readFile reads path into v after expanding environment placeholders.
func readFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" || ext == "yml" {
		ext = "yaml"
	}
	v.SetConfigType(ext)
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(data)))); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$\{(\w+)(:([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:default}. Unset variables without a
// default are left as written.
func expandEnv(s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		m := placeholder.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(m[1]); ok {
			return val
		}
		if m[2] != "" {
			return m[3]
		}
		return match
	})
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("generation.timeout", d.Generation.Timeout)
	v.SetDefault("generation.max_concurrent", d.Generation.MaxConcurrent)
	v.SetDefault("generation.context_token_budget", d.Generation.ContextTokenBudget)
	v.SetDefault("generation.replace_running", d.Generation.ReplaceRunning)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("default_provider", "")
	v.SetDefault("prompts.dir", "")
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("metrics.addr", "")
}
