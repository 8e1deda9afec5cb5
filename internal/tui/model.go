// Package tui renders a running turn in the terminal: one line per worker
// showing its streamed reasoning, the turn's phase, and the final answer.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/relay/internal/event"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/stream"
	"github.com/Iron-Ham/relay/internal/task"
	"github.com/Iron-Ham/relay/internal/util"
)

const defaultWidth = 80

type laneStatus int

const (
	laneRunning laneStatus = iota
	laneDone
	laneFailed
)

// lane is what one source has streamed so far.
type lane struct {
	source   string
	thought  string
	progress string
	status   laneStatus
}

// Messages.
type (
	envelopeMsg     stream.Envelope
	streamClosedMsg struct{}
	finishedMsg     struct {
		result *orchestrator.Result
		err    error
	}
)

// Model is the bubbletea model for one turn.
type Model struct {
	query    string
	threadID string

	events <-chan stream.Envelope
	wait   func() (*orchestrator.Result, error)
	cancel context.CancelFunc

	spinner spinner.Model
	phase   string
	lanes   []*lane
	index   map[string]*lane
	width   int

	done   bool
	result *orchestrator.Result
	err    error
}

// NewModel creates a model that reads events until the channel closes,
// then calls wait for the result. cancel is invoked when the user quits
// early.
func NewModel(query, threadID string, events <-chan stream.Envelope, wait func() (*orchestrator.Result, error), cancel context.CancelFunc) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = warningStyle

	return Model{
		query:    query,
		threadID: threadID,
		events:   events,
		wait:     wait,
		cancel:   cancel,
		spinner:  sp,
		phase:    "Starting",
		index:    make(map[string]*lane),
		width:    defaultWidth,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m Model) next() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		env, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return envelopeMsg(env)
	}
}

func (m Model) finish() tea.Cmd {
	wait := m.wait
	return func() tea.Msg {
		res, err := wait()
		return finishedMsg{result: res, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if !m.done && m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case envelopeMsg:
		m.apply(stream.Envelope(msg))
		return m, m.next()

	case streamClosedMsg:
		return m, m.finish()

	case finishedMsg:
		m.done = true
		m.result, m.err = msg.result, msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) lane(source string) *lane {
	if l, ok := m.index[source]; ok {
		return l
	}
	l := &lane{source: source}
	m.index[source] = l
	m.lanes = append(m.lanes, l)
	return l
}

func (m *Model) apply(env stream.Envelope) {
	switch env.Origin {
	case stream.OriginStream:
		ev := env.Stream
		l := m.lane(ev.Source)
		switch ev.Type {
		case stream.TypeThought:
			l.thought += ev.Content
		case stream.TypeProgress:
			l.progress = ev.Content
		case stream.TypeError:
			l.progress = ev.Content
			l.status = laneFailed
		case stream.TypeResult:
			l.status = laneDone
		}

	case stream.OriginLifecycle:
		switch e := env.Lifecycle.(type) {
		case event.TurnStartedEvent:
			m.phase = "Planning"
		case event.TasksDispatchedEvent:
			m.phase = fmt.Sprintf("Running %d task(s)", len(e.Tasks))
			for _, t := range e.Tasks {
				m.lane(t.Worker)
			}
		case event.TaskCompletedEvent:
			l := m.lane(e.Worker)
			if e.Status == task.StatusError.String() {
				l.status = laneFailed
			} else if l.status != laneFailed {
				l.status = laneDone
			}
		case event.BarrierFiredEvent:
			m.phase = "Writing the answer"
		case event.AggregationCompletedEvent:
			if e.Fallback {
				m.phase = "Answer unavailable"
			} else {
				m.phase = "Answer ready"
			}
		case event.TurnFailedEvent:
			m.phase = "Failed: " + e.Class
		}
	}
}

// Outcome returns the turn's result. done is false when the user quit
// before the turn finished.
func (m Model) Outcome() (res *orchestrator.Result, done bool, err error) {
	return m.result, m.done, m.err
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("relay"))
	if m.threadID != "" {
		b.WriteString(" " + mutedStyle.Render(m.threadID))
	}
	b.WriteString("\n")
	b.WriteString(queryStyle.Render(util.TruncateANSI(util.SingleLine(m.query), m.width)))
	b.WriteString("\n\n")

	if m.done {
		b.WriteString(mutedStyle.Render(m.phase))
	} else {
		b.WriteString(m.spinner.View() + " " + m.phase)
	}
	b.WriteString("\n")

	textWidth := max(m.width-14, 10)
	for _, l := range m.lanes {
		var icon string
		switch l.status {
		case laneDone:
			icon = successStyle.Render("✓")
		case laneFailed:
			icon = errorStyle.Render("✗")
		default:
			icon = m.spinner.View()
		}
		text := l.thought
		if text == "" {
			text = l.progress
		}
		fmt.Fprintf(&b, "%s %s %s\n", icon, sourceStyle.Render(l.source), mutedStyle.Render(util.TailANSI(util.SingleLine(text), textWidth)))
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + errorStyle.Render("Error: "+m.err.Error()) + "\n")
	case m.result != nil:
		b.WriteString("\n" + answerStyle.Width(max(m.width-2, 20)).Render(m.result.FinalOutput) + "\n")
	default:
		b.WriteString(helpStyle.Render("q quit") + "\n")
	}

	return b.String()
}
