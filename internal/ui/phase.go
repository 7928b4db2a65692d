package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"rivet/internal/observ"
)

// Status describes where a phase is in its lifecycle.
type Status int

const (
	StatusWorking Status = iota
	StatusDone
	StatusError
)

// Event reports one phase transition of an evaluation.
type Event struct {
	Phase  string
	Status Status
}

type phaseModel struct {
	title   string
	events  <-chan Event
	spinner spinner.Model
	prog    progress.Model
	items   []phaseItem
	index   map[string]int
	width   int
	done    bool
}

type phaseItem struct {
	name   string
	status string
}

type eventMsg Event
type doneMsg struct{}

// NewPhaseModel returns a Bubble Tea model that renders evaluation phase
// progress while a submission compiles and runs.
func NewPhaseModel(title string, events <-chan Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 76

	phases := []string{
		observ.PhaseSynthesize,
		observ.PhaseCache,
		observ.PhaseCompile,
		observ.PhaseRun,
	}
	items := make([]phaseItem, 0, len(phases))
	index := make(map[string]int, len(phases))
	for i, name := range phases {
		items = append(items, phaseItem{name: name, status: "queued"})
		index[name] = i
	}
	return &phaseModel{
		title:   title,
		events:  events,
		spinner: sp,
		prog:    prog,
		items:   items,
		index:   index,
		width:   80,
	}
}

func (m *phaseModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *phaseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		cmd := m.applyEvent(Event(msg))
		return m, tea.Batch(cmd, m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.prog.Width = msg.Width - 4
		}
		return m, nil
	case progress.FrameMsg:
		prog, cmd := m.prog.Update(msg)
		m.prog = prog.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *phaseModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	header := m.title
	if m.done {
		header = fmt.Sprintf("done: %s", header)
	} else {
		header = fmt.Sprintf("%s %s", m.spinner.View(), header)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	statusWidth := 10
	nameWidth := m.width - statusWidth - 4
	if nameWidth < 16 {
		nameWidth = 16
	}
	for _, item := range m.items {
		statusStyled := styleStatus(item.status).Render(fmt.Sprintf("%10s", item.status))
		fmt.Fprintf(&b, "  %s %s\n", statusStyled, truncate(item.name, nameWidth))
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.prog.ViewAs(1.0))
	} else {
		b.WriteString(m.prog.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *phaseModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *phaseModel) applyEvent(ev Event) tea.Cmd {
	idx, ok := m.index[ev.Phase]
	if !ok {
		return nil
	}
	switch ev.Status {
	case StatusWorking:
		m.items[idx].status = "working"
	case StatusDone:
		m.items[idx].status = "done"
	case StatusError:
		m.items[idx].status = "error"
	}

	total := 0.0
	for _, item := range m.items {
		if item.status == "done" || item.status == "error" {
			total += 1.0
		} else if item.status == "working" {
			total += 0.5
		}
	}
	return m.prog.SetPercent(total / float64(len(m.items)))
}

func styleStatus(status string) lipgloss.Style {
	switch status {
	case "done":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	case "error":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	case "working":
		return lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	}
}

func truncate(value string, width int) string {
	if width <= 0 {
		return value
	}
	if runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
