package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/device"
	"github.com/muurk/acond/internal/registers"
)

// setpointStep is how far +/- move the indoor setpoint
const setpointStep = 0.5

// WatchSource is what the watch screen reads from and writes to. A
// *coordinator.Coordinator satisfies it.
type WatchSource interface {
	Subscribe(fn coordinator.Observer) func()
	Current() (device.Snapshot, bool)
	State() coordinator.State
	RefreshNow(ctx context.Context) (device.Snapshot, error)
	WriteRegister(ctx context.Context, name string, value float64) error
}

type updateMsg coordinator.Update

type clockMsg time.Time

type actionDoneMsg struct {
	label string
	err   error
}

// WatchModel is a live view of the coordinator's snapshot
type WatchModel struct {
	Title   string
	Width   int
	Height  int
	Spinner spinner.Model

	source  WatchSource
	updates <-chan coordinator.Update

	snapshot device.Snapshot
	present  bool
	state    coordinator.State
	busy     string // label of the running action, "" when idle
	message  string // outcome of the last action
	failed   bool
	now      time.Time
	quitting bool
}

// NewWatchModel creates a watch screen fed by updates
func NewWatchModel(title string, source WatchSource, updates <-chan coordinator.Update) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(PrimaryColor)

	snap, present := source.Current()
	return WatchModel{
		Title:    title,
		Width:    GetTerminalWidth(),
		Spinner:  s,
		source:   source,
		updates:  updates,
		snapshot: snap,
		present:  present,
		state:    source.State(),
		now:      time.Now(),
	}
}

func waitForUpdate(updates <-chan coordinator.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return tea.Quit()
		}
		return updateMsg(u)
	}
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

// Init implements tea.Model
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.Spinner.Tick, waitForUpdate(m.updates), clockTick())
}

// Update implements tea.Model
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case updateMsg:
		m.snapshot = msg.Snapshot
		m.present = msg.Present
		m.state = msg.State
		return m, waitForUpdate(m.updates)

	case actionDoneMsg:
		m.busy = ""
		m.failed = msg.err != nil
		if msg.err != nil {
			m.message = msg.label + " failed: " + device.ShortMessage(msg.err)
		} else {
			m.message = msg.label + " done"
		}
		return m, nil

	case clockMsg:
		m.now = time.Time(msg)
		return m, clockTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m WatchModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q", "esc":
		m.quitting = true
		return m, tea.Quit

	case "r":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Refresh"
		return m, m.action("Refresh", func(ctx context.Context) error {
			_, err := m.source.RefreshNow(ctx)
			return err
		})

	case "+", "=", "-":
		if m.busy != "" || !m.present {
			return m, nil
		}
		reg, _ := registers.Lookup("indoor_setpoint")
		v, err := m.snapshot.Register(reg)
		if err != nil {
			m.failed, m.message = true, "Indoor setpoint is not available"
			return m, nil
		}
		target := v.Real + setpointStep
		if msg.String() == "-" {
			target = v.Real - setpointStep
		}
		label := fmt.Sprintf("Setpoint %.1f %s", target, reg.Unit)
		m.busy = label
		return m, m.action(label, func(ctx context.Context) error {
			return m.source.WriteRegister(ctx, reg.Name, target)
		})
	}

	return m, nil
}

func (m WatchModel) action(label string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*device.DefaultTimeout)
		defer cancel()
		return actionDoneMsg{label: label, err: fn(ctx)}
	}
}

// View implements tea.Model
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := HeaderTitleStyle.Render(strings.ToUpper(m.Title))
	if m.busy != "" || m.state.InFlight {
		title += " " + m.Spinner.View()
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(HeaderCommandStyle.Render(fmt.Sprintf("updated %s  failures %d",
		Age(m.state.LastSuccess, m.now), m.state.ConsecutiveFailures)))
	b.WriteString("\n\n")

	b.WriteString(SnapshotView{
		Snapshot: m.snapshot,
		Present:  m.present,
		Status:   string(m.state.Status),
		Error:    device.ShortMessage(m.state.LastError),
		Width:    m.Width,
	}.Render())
	b.WriteString("\n\n")

	switch {
	case m.busy != "":
		b.WriteString(StepRunningStyle.PaddingLeft(2).Render(m.busy + "..."))
	case m.message != "" && m.failed:
		b.WriteString(ErrorMessageStyle.PaddingLeft(2).Render(m.message))
	case m.message != "":
		b.WriteString(StepCompleteStyle.PaddingLeft(2).Render(m.message))
	}
	b.WriteString("\n")
	b.WriteString(StepNoteStyle.PaddingLeft(2).Render("r refresh  +/- indoor setpoint  q quit"))
	b.WriteString("\n")

	return b.String()
}

// RunWatch runs the watch screen until the user quits or ctx is done
func RunWatch(ctx context.Context, title string, source WatchSource) error {
	updates := make(chan coordinator.Update, 4)
	unsubscribe := source.Subscribe(func(u coordinator.Update) {
		select {
		case updates <- u:
		default:
			// the screen only needs the newest state
		}
	})
	defer unsubscribe()

	p := tea.NewProgram(NewWatchModel(title, source, updates), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
