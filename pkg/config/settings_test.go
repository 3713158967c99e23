package config

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	require.NoError(t, BindEnv(v))
	require.NoError(t, v.BindPFlags(fs))
	return v
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", s.Model)
	assert.Equal(t, 20000, s.ContextBudget)
	assert.Equal(t, 30*time.Second, s.ToolTimeout)
	assert.Equal(t, 30*time.Minute, s.IdleTimeout)
	assert.Equal(t, time.Minute, s.EvictionInterval)
	assert.Equal(t, 90.0, s.MemoryThreshold)
	assert.Equal(t, 10, s.MaxIterations)
	assert.False(t, s.HasBackend())
}

func TestLoadFlagsAndEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("WEATHER_API_KEY", "weather")

	s, err := Load(newViper(t,
		"--storage-dir", "/tmp/threads",
		"--allowed-tools", "exec_python,get_*",
		"--tool-timeout", "5s",
		"--memory-threshold", "80",
	))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", s.OpenAIAPIKey)
	assert.Equal(t, "weather", s.WeatherAPIKey)
	assert.Equal(t, []string{"exec_python", "get_*"}, s.AllowedTools)
	assert.True(t, s.HasBackend())

	tc := s.ToolConfig()
	assert.Equal(t, 5*time.Second, tc.ExecutionTimeout)
	assert.True(t, tc.IsToolAllowed("get_crypto_price"))
	assert.False(t, tc.IsToolAllowed("delete_file"))

	assert.Equal(t, 80.0, s.EvictionConfig().MemoryThreshold)
	assert.Equal(t, "/tmp/threads", s.PersistenceConfig().StorageDir)
}

func TestValidate(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())

	s.MemoryThreshold = 120
	assert.True(t, errors.Is(s.Validate(), ErrInvalidSettings))

	s = Defaults()
	s.Temporary = true
	s.StorageDir = "/tmp"
	assert.True(t, errors.Is(s.Validate(), ErrInvalidSettings))

	s = Defaults()
	s.MaxParallelTools = -1
	assert.True(t, errors.Is(s.Validate(), ErrInvalidSettings))
}

func TestValidateOpenAIBaseURL(t *testing.T) {
	s := Defaults()
	s.OpenAIBaseURL = "https://api.openai.com/v1"
	require.NoError(t, s.Validate())

	s.OpenAIBaseURL = "http://localhost:11434/v1"
	assert.True(t, errors.Is(s.Validate(), ErrInvalidSettings))

	s.AllowLocalEndpoints = true
	assert.NoError(t, s.Validate())
}

func TestMaxIterationsReachesLoopConfig(t *testing.T) {
	s, err := Load(newViper(t, "--max-iterations", "3", "--context-budget", "500"))
	require.NoError(t, err)
	lc := s.LoopConfig()
	assert.Equal(t, 3, lc.MaxIterations)
	assert.Equal(t, 500, lc.ContextBudget)
}
