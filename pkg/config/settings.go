// Package config holds the settings of a threadkeeper process and their
// binding to flags, environment variables and config files through viper.
package config

import (
	"time"

	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/eviction"
	"github.com/go-go-golems/threadkeeper/pkg/inference/engine/openai"
	"github.com/go-go-golems/threadkeeper/pkg/inference/toolloop"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/go-go-golems/threadkeeper/pkg/persistence"
	"github.com/go-go-golems/threadkeeper/pkg/security"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "threadkeeper"

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	OpenAIAPIKey  string `mapstructure:"openai-api-key" yaml:"-"`
	OpenAIBaseURL string `mapstructure:"openai-base-url" yaml:"openai-base-url,omitempty"`
	// AllowLocalEndpoints lets openai-base-url use plain http or a local host.
	AllowLocalEndpoints bool   `mapstructure:"allow-local-endpoints" yaml:"allow-local-endpoints"`
	Model               string `mapstructure:"model" yaml:"model"`
	SystemPrompt        string `mapstructure:"system-prompt" yaml:"system-prompt,omitempty"`

	StorageDir  string `mapstructure:"storage-dir" yaml:"storage-dir,omitempty"`
	DatabaseURL string `mapstructure:"database-url" yaml:"-"`
	Temporary   bool   `mapstructure:"temporary" yaml:"temporary"`

	AllowedTools     []string      `mapstructure:"allowed-tools" yaml:"allowed-tools,omitempty"`
	ToolTimeout      time.Duration `mapstructure:"tool-timeout" yaml:"tool-timeout"`
	MaxParallelTools int           `mapstructure:"max-parallel-tools" yaml:"max-parallel-tools"`
	MaxIterations    int           `mapstructure:"max-iterations" yaml:"max-iterations"`
	ContextBudget    int           `mapstructure:"context-budget" yaml:"context-budget"`

	IdleTimeout      time.Duration `mapstructure:"idle-timeout" yaml:"idle-timeout"`
	EvictionInterval time.Duration `mapstructure:"eviction-interval" yaml:"eviction-interval"`
	MemoryThreshold  float64       `mapstructure:"memory-threshold" yaml:"memory-threshold"`

	WeatherAPIKey string `mapstructure:"weather-api-key" yaml:"-"`
	CryptoAPIKey  string `mapstructure:"crypto-api-key" yaml:"-"`
	WorkspaceDir  string `mapstructure:"workspace-dir" yaml:"workspace-dir,omitempty"`
}

func Defaults() *Settings {
	return &Settings{
		Model:            openai.DefaultModel,
		ToolTimeout:      tools.DefaultExecutionTimeout,
		MaxParallelTools: 0,
		MaxIterations:    tools.DefaultMaxIterations,
		ContextBudget:    conversation.DefaultMaxChars,
		IdleTimeout:      eviction.DefaultIdleTimeout,
		EvictionInterval: eviction.DefaultInterval,
		MemoryThreshold:  eviction.DefaultMemoryThreshold,
	}
}

// AddFlags registers one flag per setting on fs, with the defaults as values.
func AddFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("openai-api-key", "", "OpenAI API key (also read from OPENAI_API_KEY)")
	fs.String("openai-base-url", "", "OpenAI API base URL")
	fs.Bool("allow-local-endpoints", false, "Allow an http or local-network --openai-base-url")
	fs.String("model", d.Model, "Chat model")
	fs.String("system-prompt", "", "System prompt sent ahead of every request")
	fs.String("storage-dir", "", "Directory for file-backed thread storage")
	fs.String("database-url", "", "Database URL for thread storage (postgres:// or sqlite://), wins over --storage-dir")
	fs.Bool("temporary", false, "Keep every thread in memory only")
	fs.StringSlice("allowed-tools", nil, "Tools the model may call, glob patterns allowed (default: all)")
	fs.Duration("tool-timeout", d.ToolTimeout, "Timeout of a single tool call")
	fs.Int("max-parallel-tools", d.MaxParallelTools, "Maximum concurrently running tool calls, 0 for unbounded")
	fs.Int("max-iterations", d.MaxIterations, "Maximum model calls per turn")
	fs.Int("context-budget", d.ContextBudget, "Context window budget in characters")
	fs.Duration("idle-timeout", d.IdleTimeout, "Flush threads unused for this long")
	fs.Duration("eviction-interval", d.EvictionInterval, "How often the eviction loop runs")
	fs.Float64("memory-threshold", d.MemoryThreshold, "Flush all durable threads above this used memory percentage, 0 disables")
	fs.String("weather-api-key", "", "OpenWeatherMap API key (also read from WEATHER_API_KEY)")
	fs.String("crypto-api-key", "", "CoinGecko API key (also read from CRYPTO_API_KEY)")
	fs.String("workspace-dir", "", "Directory the file tools operate in, file tools are disabled without it")
}

// BindEnv maps the conventional unprefixed variables of the API keys.
func BindEnv(v *viper.Viper) error {
	for key, env := range map[string]string{
		"openai-api-key":  "OPENAI_API_KEY",
		"weather-api-key": "WEATHER_API_KEY",
		"crypto-api-key":  "CRYPTO_API_KEY",
	} {
		if err := v.BindEnv(key, "THREADKEEPER_"+env, env); err != nil {
			return err
		}
	}
	return nil
}

// Load unmarshals the settings from v and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	s := Defaults()
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	switch {
	case s.MemoryThreshold < 0 || s.MemoryThreshold > 100:
		return errors.Wrapf(ErrInvalidSettings, "memory-threshold must be within 0..100, got %v", s.MemoryThreshold)
	case s.ToolTimeout < 0:
		return errors.Wrap(ErrInvalidSettings, "tool-timeout must not be negative")
	case s.IdleTimeout < 0:
		return errors.Wrap(ErrInvalidSettings, "idle-timeout must not be negative")
	case s.EvictionInterval < 0:
		return errors.Wrap(ErrInvalidSettings, "eviction-interval must not be negative")
	case s.MaxParallelTools < 0:
		return errors.Wrap(ErrInvalidSettings, "max-parallel-tools must not be negative")
	case s.MaxIterations < 0:
		return errors.Wrap(ErrInvalidSettings, "max-iterations must not be negative")
	case s.ContextBudget < 0:
		return errors.Wrap(ErrInvalidSettings, "context-budget must not be negative")
	case s.Temporary && s.DatabaseURL != "":
		return errors.Wrap(ErrInvalidSettings, "temporary and database-url are mutually exclusive")
	case s.Temporary && s.StorageDir != "":
		return errors.Wrap(ErrInvalidSettings, "temporary and storage-dir are mutually exclusive")
	}
	if s.OpenAIBaseURL != "" {
		policy := security.EndpointPolicy{}
		if s.AllowLocalEndpoints {
			policy = security.LocalEndpoints
		}
		if err := policy.Check(s.OpenAIBaseURL); err != nil {
			return errors.Wrapf(ErrInvalidSettings, "openai-base-url: %v", err)
		}
	}
	return nil
}

// HasBackend reports whether a persistence backend is configured.
func (s *Settings) HasBackend() bool {
	return !s.Temporary && (s.DatabaseURL != "" || s.StorageDir != "")
}

func (s *Settings) PersistenceConfig() persistence.Config {
	return persistence.Config{StorageDir: s.StorageDir, DatabaseURL: s.DatabaseURL}
}

func (s *Settings) ToolConfig() tools.ToolConfig {
	return tools.DefaultToolConfig().
		WithAllowedTools(s.AllowedTools).
		WithExecutionTimeout(s.ToolTimeout).
		WithMaxParallelTools(s.MaxParallelTools)
}

func (s *Settings) LoopConfig() toolloop.LoopConfig {
	return toolloop.DefaultLoopConfig().
		WithMaxIterations(s.MaxIterations).
		WithContextBudget(s.ContextBudget).
		WithSystemPrompt(s.SystemPrompt)
}

func (s *Settings) EvictionConfig() *eviction.Config {
	c := eviction.DefaultConfig()
	c.Interval = s.EvictionInterval
	c.IdleTimeout = s.IdleTimeout
	c.MemoryThreshold = s.MemoryThreshold
	return c
}
