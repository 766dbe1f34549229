package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/hotload"
	"github.com/wippyai/hotload/internal/guestgen"
	"github.com/wippyai/hotload/reload"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	faultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const eventLog = 8

type interactiveModel struct {
	err      error
	plugin   *reload.Plugin
	spin     spinner.Model
	filename string
	interval time.Duration
	opts     []reload.Option
	events   []string
	lastRet  int32
	lastGen  uint32
	demo     bool
	rewrites int
	paused   bool
	quitting bool
}

type openedMsg struct {
	err    error
	plugin *reload.Plugin
}

type updatedMsg struct {
	err error
	ret int32
}

type tickMsg time.Time

func newInteractiveModel(filename string, interval time.Duration, opts []reload.Option, demo bool) *interactiveModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))
	return &interactiveModel{
		filename: filename,
		interval: interval,
		opts:     opts,
		spin:     s,
		demo:     demo,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.openPlugin)
}

func (m *interactiveModel) openPlugin() tea.Msg {
	p, err := reload.Open(context.Background(), m.filename, m.opts...)
	return openedMsg{plugin: p, err: err}
}

func (m *interactiveModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *interactiveModel) pump() tea.Msg {
	ret, err := m.plugin.Update(context.Background())
	return updatedMsg{ret: ret, err: err}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			if m.plugin != nil {
				m.plugin.Close(context.Background())
			}
			return m, tea.Quit

		case "p":
			m.paused = !m.paused
			if !m.paused && m.plugin != nil {
				return m, m.tick()
			}

		case "u":
			if m.plugin != nil {
				return m, m.pump
			}

		case "r":
			if m.demo && m.plugin != nil {
				m.rewrites++
				g := guestgen.CounterGuest(0)
				g.Padding = m.rewrites * 4
				if err := os.WriteFile(m.filename, g.Build(), 0o644); err != nil {
					m.logEvent(faultStyle.Render(fmt.Sprintf("rewrite failed: %v", err)))
				} else {
					m.logEvent("artifact rewritten")
				}
			}

		case "c":
			if m.demo && m.plugin != nil {
				m.rewrites++
				g := guestgen.CounterGuest(0)
				g.Padding = m.rewrites * 4
				g.OnStep = guestgen.Op{Action: guestgen.TrapOOBLoad}
				if err := os.WriteFile(m.filename, g.Build(), 0o644); err != nil {
					m.logEvent(faultStyle.Render(fmt.Sprintf("rewrite failed: %v", err)))
				} else {
					m.logEvent(faultStyle.Render("crashing artifact written"))
				}
			}
		}

	case openedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.plugin = msg.plugin
		m.lastGen = m.plugin.Version
		m.logEvent(fmt.Sprintf("opened generation %d", m.plugin.Version))
		return m, m.tick()

	case tickMsg:
		if m.plugin == nil || m.paused {
			return m, nil
		}
		return m, m.pump

	case updatedMsg:
		m.lastRet = msg.ret
		if msg.err != nil {
			m.logEvent(faultStyle.Render(fmt.Sprintf("%s -> rolled back to generation %d",
				m.plugin.Failure, m.plugin.Version)))
		} else if m.plugin.Version != m.lastGen {
			m.logEvent(eventStyle.Render(fmt.Sprintf("reloaded to generation %d", m.plugin.Version)))
		}
		m.lastGen = m.plugin.Version
		if m.paused {
			return m, nil
		}
		return m, m.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) logEvent(s string) {
	m.events = append(m.events, s)
	if len(m.events) > eventLog {
		m.events = m.events[len(m.events)-eventLog:]
	}
}

func (m *interactiveModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return faultStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("hotload"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.plugin == nil {
		b.WriteString(m.spin.View())
		b.WriteString(" loading guest...\n")
		return b.String()
	}

	state := m.spin.View() + " running"
	if m.paused {
		state = "paused"
	}
	b.WriteString(state)
	b.WriteString("\n\n")

	row := func(label string, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", label)))
		b.WriteString(value)
		b.WriteString("\n")
	}
	row("generation", valueStyle.Render(fmt.Sprintf("%d", m.plugin.Version)))
	row("next", valueStyle.Render(fmt.Sprintf("%d", m.plugin.NextVersion)))
	row("last working", valueStyle.Render(fmt.Sprintf("%d", m.plugin.LastWorkingVersion)))
	row("last return", valueStyle.Render(fmt.Sprintf("%d", m.lastRet)))
	if m.plugin.Failure != hotload.None {
		row("failure", faultStyle.Render(m.plugin.Failure.String()))
	} else {
		row("failure", valueStyle.Render("none"))
	}

	if len(m.events) > 0 {
		b.WriteString("\n")
		for _, e := range m.events {
			b.WriteString("  ")
			b.WriteString(e)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	help := "u pump now • p pause • q quit"
	if m.demo {
		help = "u pump now • p pause • r rewrite guest • c crash guest • q quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func runInteractive(filename string, interval time.Duration, opts []reload.Option, demo bool) error {
	p := tea.NewProgram(newInteractiveModel(filename, interval, opts, demo), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
