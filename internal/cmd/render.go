package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/stream"
)

var (
	sourceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#6B7280")).
			Padding(0, 1)
)

// streamPrinter writes a turn's events as they arrive. Thoughts from one
// source run together on a block under that source's name; a new block
// starts whenever the source changes.
type streamPrinter struct {
	w      io.Writer
	width  int
	source string
	midway bool // the current line has text on it
}

func newStreamPrinter(w io.Writer, width int) *streamPrinter {
	if width <= 0 {
		width = 80
	}
	return &streamPrinter{w: w, width: width}
}

func (p *streamPrinter) endLine() {
	if p.midway {
		fmt.Fprintln(p.w)
		p.midway = false
	}
}

func (p *streamPrinter) note(s string) {
	p.endLine()
	p.source = ""
	fmt.Fprintln(p.w, s)
}

func (p *streamPrinter) Print(env stream.Envelope) {
	switch env.Origin {
	case stream.OriginStream:
		ev := env.Stream
		switch ev.Type {
		case stream.TypeThought:
			if ev.Source != p.source {
				p.endLine()
				fmt.Fprintln(p.w, sourceStyle.Render("● "+ev.Source))
				p.source = ev.Source
			}
			fmt.Fprint(p.w, ev.Content)
			p.midway = !strings.HasSuffix(ev.Content, "\n")
		case stream.TypeProgress:
			p.note(mutedStyle.Render(fmt.Sprintf("  %s: %s", ev.Source, ev.Content)))
		case stream.TypeError:
			p.note(errorStyle.Render(fmt.Sprintf("  %s: %s", ev.Source, ev.Content)))
		}

	case stream.OriginLifecycle:
		switch e := env.Lifecycle.(type) {
		case event.TasksDispatchedEvent:
			names := make([]string, 0, len(e.Tasks))
			for _, t := range e.Tasks {
				names = append(names, t.Worker)
			}
			p.note(mutedStyle.Render(fmt.Sprintf("Dispatched %d task(s) to %s", len(e.Tasks), strings.Join(names, ", "))))
		case event.BarrierFiredEvent:
			summary := fmt.Sprintf("All tasks finished: %d ok", e.Completed-e.Failed)
			if e.Failed > 0 {
				summary += fmt.Sprintf(", %d failed", e.Failed)
			}
			p.note(mutedStyle.Render(summary))
		}
	}
}

// Finish writes the final answer.
func (p *streamPrinter) Finish(res *orchestrator.Result) {
	p.endLine()
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, answerStyle.Width(p.width-2).Render(res.FinalOutput))
	for _, e := range res.Errors {
		fmt.Fprintln(p.w, errorStyle.Render(fmt.Sprintf("! %s: %s", e.Node, e.Message)))
	}
	fmt.Fprintln(p.w, mutedStyle.Render("thread "+res.ThreadID)+" "+okStyle.Render(fmt.Sprintf("%.1fs", res.Duration.Seconds())))
}
