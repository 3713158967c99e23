package conversation

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// DefaultMaxChars is the default context window budget, counted in characters
// of textual content.
const DefaultMaxChars = 20000

// WindowStats summarizes a trimming pass.
//
//   - Total is the counted size of the envelopes that were kept.
//   - Removed is the number of envelopes popped from the head.
//   - OverBudgetNewest is set when a single remaining envelope alone exceeds
//     the budget. It is kept regardless.
//   - EstimatedTokens is a cl100k estimate of the kept text, 0 if the codec is
//     unavailable.
type WindowStats struct {
	Budget           int
	Total            int
	Removed          int
	OverBudgetNewest bool
	EstimatedTokens  int
}

// CountChars sums the text length of all envelopes carrying textual content.
func CountChars(envs []Envelope) int {
	total := 0
	for _, e := range envs {
		total += e.Message.TextLength()
	}
	return total
}

// Trim drops envelopes from the head of envs until the counted size fits in
// maxChars. Entries are only ever removed from the head. The newest entry is
// never removed, so a single oversized message leaves the window over budget.
//
// The returned slice shares its backing array with envs.
func Trim(envs []Envelope, maxChars int) ([]Envelope, WindowStats) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	total := CountChars(envs)
	removed := 0
	for total > maxChars && len(envs) > 1 {
		total -= envs[0].Message.TextLength()
		envs = envs[1:]
		removed++
	}

	stats := WindowStats{
		Budget:           maxChars,
		Total:            total,
		Removed:          removed,
		OverBudgetNewest: total > maxChars,
		EstimatedTokens:  estimateTokens(envs),
	}
	if removed > 0 {
		log.Debug().
			Int("removed", removed).
			Int("total", total).
			Int("budget", maxChars).
			Msg("trimmed context window")
	}
	return envs, stats
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func estimateTokens(envs []Envelope) int {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("could not load tokenizer, token estimates disabled")
			return
		}
		codec = c
	})
	if codec == nil {
		return 0
	}

	n := 0
	for _, e := range envs {
		if !e.Message.HasText() {
			continue
		}
		ids, _, err := codec.Encode(e.Message.Content)
		if err != nil {
			return 0
		}
		n += len(ids)
	}
	return n
}
