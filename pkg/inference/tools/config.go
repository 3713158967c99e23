package tools

import (
	"time"

	"github.com/mb0/glob"
	"github.com/rs/zerolog/log"
)

// ToolConfig specifies how tools are offered to the model and executed.
type ToolConfig struct {
	ToolChoice       ToolChoice    `json:"tool_choice" yaml:"tool_choice"`
	ExecutionTimeout time.Duration `json:"execution_timeout" yaml:"execution_timeout"`
	// MaxParallelTools bounds concurrently running calls of one batch, 0 means unbounded.
	MaxParallelTools int `json:"max_parallel_tools" yaml:"max_parallel_tools"`
	// AllowedTools holds names or glob patterns. Empty allows every tool.
	AllowedTools []string `json:"allowed_tools" yaml:"allowed_tools"`
}

const (
	// DefaultMaxIterations caps the model calls of one turn, see toolloop.LoopConfig.
	DefaultMaxIterations    = 10
	DefaultExecutionTimeout = 30 * time.Second
)

func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		ToolChoice:       ToolChoiceAuto,
		ExecutionTimeout: DefaultExecutionTimeout,
		MaxParallelTools: 0,
		AllowedTools:     nil,
	}
}

func (tc ToolConfig) WithToolChoice(choice ToolChoice) ToolConfig {
	tc.ToolChoice = choice
	return tc
}

func (tc ToolConfig) WithExecutionTimeout(timeout time.Duration) ToolConfig {
	tc.ExecutionTimeout = timeout
	return tc
}

func (tc ToolConfig) WithMaxParallelTools(maxParallel int) ToolConfig {
	tc.MaxParallelTools = maxParallel
	return tc
}

func (tc ToolConfig) WithAllowedTools(toolNames []string) ToolConfig {
	tc.AllowedTools = toolNames
	return tc
}

// ToolChoice defines how the model should choose tools
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"     // Let the model decide
	ToolChoiceNone     ToolChoice = "none"     // Never call tools
	ToolChoiceRequired ToolChoice = "required" // Must call at least one tool
)

// IsToolAllowed checks the name against the allow-list. Entries match exactly
// or as glob patterns; malformed patterns never match.
func (tc *ToolConfig) IsToolAllowed(toolName string) bool {
	if len(tc.AllowedTools) == 0 {
		return true
	}

	for _, allowed := range tc.AllowedTools {
		if allowed == toolName {
			return true
		}
		ok, err := glob.Match(allowed, toolName)
		if err != nil {
			log.Warn().Err(err).Str("pattern", allowed).Msg("invalid allowed-tools pattern")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// FilterTools returns only the tools that are allowed by this configuration
func (tc *ToolConfig) FilterTools(tools []ToolDefinition) []ToolDefinition {
	if len(tc.AllowedTools) == 0 {
		return tools
	}

	filtered := make([]ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		if tc.IsToolAllowed(tool.Name) {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}
