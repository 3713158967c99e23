package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"
)

// Renderer formats assistant replies. Without a terminal it passes text
// through unchanged.
type Renderer struct {
	term *glamour.TermRenderer
}

func NewRenderer(interactive bool, width int) *Renderer {
	if !interactive {
		return &Renderer{}
	}
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		log.Warn().Err(err).Msg("could not create markdown renderer")
		return &Renderer{}
	}
	return &Renderer{term: r}
}

func (r *Renderer) Render(markdown string) string {
	if r.term == nil {
		return markdown
	}
	out, err := r.term.Render(markdown)
	if err != nil {
		log.Debug().Err(err).Msg("markdown rendering failed")
		return markdown
	}
	return strings.TrimRight(out, "\n")
}
