/*
Package ui is a terminal viewer for a running swarm. It advances the
swarm on a tick and draws every agent's field strength and activation.
*/
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/theapemachine/gridswarm/pkg/rules"
	"github.com/theapemachine/gridswarm/pkg/swarm"
)

type tickMsg time.Time

type model struct {
	manager  *swarm.Manager
	interval time.Duration
	keys     keymap
	help     help.Model
	patterns []string
	pattern  int
	paused   bool
	last     swarm.StepMetrics
	err      error
}

// New builds the viewer. The manager must already be spawned.
func New(manager *swarm.Manager, interval time.Duration) tea.Model {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	return model{
		manager:  manager,
		interval: interval,
		keys:     newKeymap(),
		help:     help.New(),
		patterns: rules.PatternNames(),
	}
}

func (m model) Init() tea.Cmd {
	return m.tick()
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width

	case tickMsg:
		if !m.paused {
			m = m.advance()
		}
		return m, m.tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.step):
			m = m.advance()
		case key.Matches(msg, m.keys.inject):
			m.err = m.manager.InjectPattern(m.currentPattern(), nil, 1.0)
		case key.Matches(msg, m.keys.pattern):
			m.pattern = (m.pattern + 1) % len(m.patterns)
		case key.Matches(msg, m.keys.reset):
			m.manager.Reset()
			m.last = swarm.StepMetrics{}
			m.err = nil
		case key.Matches(msg, m.keys.help):
			m.help.ShowAll = !m.help.ShowAll
		}
	}

	return m, nil
}

func (m model) advance() model {
	step, err := m.manager.Step()
	if err != nil {
		m.err = err
		return m
	}

	m.last = step
	m.err = nil

	return m
}

func (m model) currentPattern() string {
	if len(m.patterns) == 0 {
		return "glider"
	}
	return m.patterns[m.pattern]
}

func (m model) View() string {
	view := m.manager.View()

	state := "running"
	frame := gridStyle
	if m.paused {
		state = "paused"
		frame = pausedGridStyle
	}

	header := headerStyle.Render(fmt.Sprintf("gridswarm %dx%d", view.Size, view.Size))

	status := statusBarStyle.Render(fmt.Sprintf(
		"step %d | %s | active %d/%d | %.1f steps/s | pattern %s",
		view.Step,
		state,
		m.last.Agents.Active,
		view.Size*view.Size,
		m.last.StepsPerSecond,
		m.currentPattern(),
	))

	parts := []string{header, frame.Render(renderGrid(view)), status}

	if m.err != nil {
		parts = append(parts, errorStyle.Render(m.err.Error()))
	}

	parts = append(parts, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderGrid draws one glyph per agent, two columns wide to keep cells square.
func renderGrid(view swarm.View) string {
	if view.Size == 0 {
		return "no agents spawned"
	}

	var b strings.Builder

	for row := 0; row < view.Size; row++ {
		for col := 0; col < view.Size; col++ {
			b.WriteString(cell(view.State[row][col], view.Active[row][col]))
		}
		if row < view.Size-1 {
			b.WriteByte('\n')
		}
	}

	return b.String()
}

func cell(value float32, active bool) string {
	if value < 0 {
		value = -value
	}

	switch {
	case active:
		return activeCell.Render("██")
	case value >= 0.5:
		return warmCell.Render("▓▓")
	case value >= 0.1:
		return faintCell.Render("░░")
	default:
		return idleCell.Render("··")
	}
}
