package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/nocbroker/internal/metadata"
	"github.com/fyrsmithlabs/nocbroker/internal/project"
	"github.com/fyrsmithlabs/nocbroker/internal/stage"
)

// DefaultInterval is how often the dashboard re-reads the sidecar.
const DefaultInterval = time.Second

const maxBarWidth = 40

// LoadFunc reads the current project record.
type LoadFunc func() (*metadata.Metadata, error)

// Model is the bubbletea model for the live status dashboard.
type Model struct {
	project  project.Project
	load     LoadFunc
	interval time.Duration
	now      func() time.Time

	record     *metadata.Metadata
	lastUpdate time.Time
	err        error
	quitting   bool

	bar progress.Model
}

// NewModel creates a dashboard for p that polls load every interval.
func NewModel(p project.Project, load LoadFunc, interval time.Duration) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Model{
		project:  p,
		load:     load,
		interval: interval,
		now:      time.Now,
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff5f"),
			progress.WithWidth(maxBarWidth),
			progress.WithoutPercentage(),
		),
	}
}

// Message types
type tickMsg time.Time
type recordMsg struct{ record *metadata.Metadata }
type errMsg error

// Init starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetch(m.load))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetch(load LoadFunc) tea.Cmd {
	return func() tea.Msg {
		rec, err := load()
		if err != nil {
			return errMsg(err)
		}
		return recordMsg{record: rec}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetch(m.load)
		}

	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-12))

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetch(m.load))

	case recordMsg:
		m.record = msg.record
		m.lastUpdate = m.now()
		m.err = nil

	case errMsg:
		// Keep the last good record on screen.
		m.err = error(msg)
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch {
	case m.record != nil:
		content = Render(m.project, m.record) + "\n\n" + m.renderProgress()
	case m.err == nil:
		content = headerStyle.Render("NoC project "+m.project.Name) + "\n\n" + dimStyle.Render("loading...")
	default:
		content = headerStyle.Render("NoC project " + m.project.Name)
	}

	if m.err != nil {
		content += "\n\n" + RenderError(m.err)
	}

	footer := "[q] quit  [r] refresh"
	if !m.lastUpdate.IsZero() {
		footer = fmt.Sprintf("updated %s ago  %s", FormatAge(m.now().Sub(m.lastUpdate)), footer)
	}
	return containerStyle.Render(content+"\n"+footerStyle.Render(footer)) + "\n"
}

func (m Model) renderProgress() string {
	done := int(m.record.Progress)
	ratio := float64(done) / float64(stage.NumFlags)
	return m.bar.ViewAs(ratio) + " " + valueStyle.Render(fmt.Sprintf("%d/%d", done, stage.NumFlags)) +
		" " + dimStyle.Render(m.record.Progress.String())
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, p project.Project, load LoadFunc, interval time.Duration, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
	_, err := tea.NewProgram(NewModel(p, load, interval), opts...).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
