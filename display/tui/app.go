// Package tui is the interactive dashboard. The model polls a snapshot
// source on a timer and renders it with the dashboard package; it never
// samples by itself.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gitlab.com/tinyland/lab/sysmon/collectors"
	"gitlab.com/tinyland/lab/sysmon/display/dashboard"
	"gitlab.com/tinyland/lab/sysmon/internal/format"
)

// refreshDelay is how long after a forced refresh the model re-reads the
// source, giving the sampler time to finish.
const refreshDelay = 150 * time.Millisecond

// Source is the snapshot history the model reads. *history.Ring
// implements it.
type Source interface {
	Latest() (collectors.Snapshot, bool)
	Recent(n int) []collectors.Snapshot
}

// Options configures a Model.
type Options struct {
	Source Source
	// Interval is the redraw interval, normally the sampling interval.
	Interval time.Duration
	// Dashboard holds the initial render options; the keys toggle them.
	Dashboard dashboard.Options
	// Refresh asks the sampler for an immediate snapshot. May be nil.
	Refresh func()
}

// tickMsg drives the periodic redraw. Each tick schedules the next.
type tickMsg time.Time

// pollMsg re-reads the source once without scheduling another tick.
type pollMsg struct{}

// Model is the top-level Bubbletea model for the sysmon dashboard.
type Model struct {
	src      Source
	refresh  func()
	interval time.Duration
	opts     dashboard.Options

	help   help.Model
	width  int
	height int
	ready  bool

	snap        collectors.Snapshot
	hist        []collectors.Snapshot
	haveData    bool
	lastUpdated time.Time
}

// NewModel returns a Model reading from opts.Source.
func NewModel(opts Options) Model {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	m := Model{
		src:      opts.Source,
		refresh:  opts.Refresh,
		interval: opts.Interval,
		opts:     opts.Dashboard,
		help:     help.New(),
	}
	m.read()
	return m
}

// Init implements tea.Model. It starts the redraw timer.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.PerCPU):
			m.opts.ShowPerCPU = !m.opts.ShowPerCPU
		case key.Matches(msg, keys.Processes):
			m.opts.ShowProcesses = !m.opts.ShowProcesses
		case key.Matches(msg, keys.Compact):
			m.opts.Compact = !m.opts.Compact
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, keys.Refresh):
			if m.refresh != nil {
				m.refresh()
			}
			return m, tea.Tick(refreshDelay, func(time.Time) tea.Msg { return pollMsg{} })
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.ready = true

	case tickMsg:
		m.read()
		return m, m.tick()

	case pollMsg:
		m.read()
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	footer := m.renderFooter()
	contentHeight := m.height - lipgloss.Height(footer)

	var body string
	if !m.haveData {
		body = styleNotice.Render("Waiting for the first sample...")
	} else {
		// Padding takes one column on each side.
		opts := applyLayout(m.opts, max(m.width-2, 20))
		body = dashboard.Render(m.snap, m.hist, opts)
	}
	content := styleContent.Render(clipLines(body, contentHeight))

	return lipgloss.JoinVertical(lipgloss.Left, content, footer)
}

// renderFooter renders the key help and last updated time.
func (m Model) renderFooter() string {
	line := m.help.View(keys)
	if !m.lastUpdated.IsZero() {
		line += "  updated " + format.FormatClock(m.lastUpdated)
	}
	return styleFooter.Width(max(m.width, 1)).Render(line)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// read copies the latest snapshot and the sparkline history out of the
// source.
func (m *Model) read() {
	if m.src == nil {
		return
	}
	snap, ok := m.src.Latest()
	if !ok {
		return
	}
	m.snap = snap
	m.hist = m.src.Recent(max(m.opts.BarWidth, 1))
	m.haveData = true
	m.lastUpdated = snap.Timestamp
}

// Run shows the dashboard in the alternate screen until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
