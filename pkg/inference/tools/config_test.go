package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsToolAllowed(t *testing.T) {
	all := DefaultToolConfig()
	assert.True(t, all.IsToolAllowed("anything"))

	cfg := DefaultToolConfig().WithAllowedTools([]string{"exec_python", "get_*"})
	assert.True(t, cfg.IsToolAllowed("exec_python"))
	assert.True(t, cfg.IsToolAllowed("get_current_weather"))
	assert.True(t, cfg.IsToolAllowed("get_crypto_price"))
	assert.False(t, cfg.IsToolAllowed("delete_file"))
	assert.False(t, cfg.IsToolAllowed("exec_python2"))
}

func TestFilterTools(t *testing.T) {
	cfg := DefaultToolConfig().WithAllowedTools([]string{"read_*"})
	filtered := cfg.FilterTools([]ToolDefinition{{Name: "read_file"}, {Name: "write_file"}})
	if assert.Len(t, filtered, 1) {
		assert.Equal(t, "read_file", filtered[0].Name)
	}
}

func TestDefaultToolConfig(t *testing.T) {
	cfg := DefaultToolConfig()
	assert.Equal(t, ToolChoiceAuto, cfg.ToolChoice)
	assert.Equal(t, DefaultExecutionTimeout, cfg.ExecutionTimeout)
	assert.Equal(t, 0, cfg.MaxParallelTools)
}
