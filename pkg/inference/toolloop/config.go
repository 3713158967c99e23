package toolloop

import (
	"github.com/go-go-golems/threadkeeper/pkg/conversation"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
)

// LoopConfig bounds a single turn.
type LoopConfig struct {
	// MaxIterations caps the model calls of one turn.
	MaxIterations int
	// ContextBudget is the character budget enforced after the user message
	// is appended. 0 uses conversation.DefaultMaxChars.
	ContextBudget int
	// SystemPrompt is sent ahead of the thread on every call, never stored.
	SystemPrompt string
}

func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations: tools.DefaultMaxIterations,
		ContextBudget: conversation.DefaultMaxChars,
	}
}

func (c LoopConfig) WithMaxIterations(maxIterations int) LoopConfig {
	c.MaxIterations = maxIterations
	return c
}

func (c LoopConfig) WithContextBudget(budget int) LoopConfig {
	c.ContextBudget = budget
	return c
}

func (c LoopConfig) WithSystemPrompt(prompt string) LoopConfig {
	c.SystemPrompt = prompt
	return c
}
