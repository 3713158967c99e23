// Package ui renders chat output in the terminal: the live tool call table
// and markdown formatting of assistant replies.
package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/go-go-golems/threadkeeper/pkg/inference/tools"
	"github.com/muesli/termenv"
)

const DefaultRefreshInterval = 500 * time.Millisecond

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	pendingStyle   = cellStyle.Foreground(lipgloss.Color("220"))
	completedStyle = cellStyle.Foreground(lipgloss.Color("42"))
	failedStyle    = cellStyle.Foreground(lipgloss.Color("196"))
)

func statusStyle(s tools.Status) lipgloss.Style {
	switch s {
	case tools.StatusCompleted:
		return completedStyle
	case tools.StatusFailed:
		return failedStyle
	default:
		return pendingStyle
	}
}

// RenderToolCalls draws the status table of a batch snapshot.
func RenderToolCalls(calls []tools.PendingToolCall) string {
	rows := make([][]string, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, []string{c.ID, c.Name, statusStyle(c.Status).Render(string(c.Status))})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		Headers("Tool Call ID", "Tool Name", "Status").
		Rows(rows...)

	return titleStyle.Render("Tool Call Status") + "\n" + t.Render()
}

// ProgressTable shows the tool calls of a batch while they run. On a terminal
// the table is redrawn in place every Interval until no call is pending;
// otherwise only the final table is written.
type ProgressTable struct {
	out         io.Writer
	interactive bool
	Interval    time.Duration

	mu sync.Mutex
}

func NewProgressTable(out io.Writer, interactive bool) *ProgressTable {
	return &ProgressTable{
		out:         out,
		interactive: interactive,
		Interval:    DefaultRefreshInterval,
	}
}

// Watch blocks until every call of b reached a terminal status or ctx is done.
func (p *ProgressTable) Watch(ctx context.Context, b *tools.Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.interactive {
		p.waitDone(ctx, b)
		_, _ = fmt.Fprintln(p.out, RenderToolCalls(b.Snapshot()))
		return
	}

	term := termenv.NewOutput(p.out)
	lines := 0
	draw := func() {
		if lines > 0 {
			term.ClearLines(lines)
		}
		rendered := RenderToolCalls(b.Snapshot())
		lines = strings.Count(rendered, "\n") + 1
		_, _ = fmt.Fprintln(p.out, rendered)
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		draw()
		if b.Done() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *ProgressTable) waitDone(ctx context.Context, b *tools.Batch) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for !b.Done() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
