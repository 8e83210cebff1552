package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-fmu/config"
	"github.com/wippyai/wasm-fmu/slave"
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
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateStepping modelState = iota
	stateAddRef
)

type interactiveModel struct {
	err      error
	slave    *slave.Slave
	settings config.Settings
	opts     options
	values   sample
	input    textinput.Model
	status   string
	t        float64
	steps    int
	state    modelState
}

func newInteractiveModel(opts options, settings config.Settings) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "real 63"
	ti.Prompt = "watch: "
	ti.Width = 30
	return &interactiveModel{
		opts:     opts,
		settings: settings,
		input:    ti,
		t:        opts.start,
	}
}

type loadedMsg struct {
	err   error
	slave *slave.Slave
}

type stepMsg struct {
	err      error
	values   sample
	ok       bool
	advanced bool
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := startSlave(context.Background(), m.opts, m.settings)
	return loadedMsg{slave: s, err: err}
}

func (m *interactiveModel) step() tea.Msg {
	ctx := context.Background()
	if !m.slave.DoStep(ctx, m.t, m.opts.dt) {
		return stepMsg{}
	}
	v, err := read(ctx, m.slave, m.opts)
	return stepMsg{ok: true, advanced: true, values: v, err: err}
}

func (m *interactiveModel) refresh() tea.Msg {
	v, err := read(context.Background(), m.slave, m.opts)
	return stepMsg{ok: true, values: v, err: err}
}

func (m *interactiveModel) reset() error {
	ctx := context.Background()
	if err := m.slave.Reset(ctx); err != nil {
		return err
	}
	m.t = m.opts.start
	m.steps = 0
	return initialize(ctx, m.slave, m.opts)
}

func (m *interactiveModel) quit() (tea.Model, tea.Cmd) {
	if m.slave != nil {
		m.slave.Free(context.Background())
	}
	return m, tea.Quit
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateAddRef {
			return m.updateInput(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m.quit()

		case " ", "s", "enter":
			if m.slave != nil && m.err == nil {
				return m, m.step
			}

		case "r":
			if m.slave != nil {
				if err := m.reset(); err != nil {
					m.err = err
					return m, nil
				}
				m.status = "reset"
				return m, m.refresh
			}

		case "a":
			if m.slave != nil {
				m.state = stateAddRef
				m.input.SetValue("")
				m.input.Focus()
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.slave = msg.slave
		return m, m.refresh

	case stepMsg:
		if !msg.ok {
			m.status = fmt.Sprintf("step at t=%g discarded", m.t)
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		if msg.advanced {
			m.stepped()
		}
		m.values = msg.values
	}
	return m, nil
}

func (m *interactiveModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "esc":
		m.state = stateStepping
		m.input.Blur()
		return m, nil
	case "enter":
		m.state = stateStepping
		m.input.Blur()
		if err := m.watch(m.input.Value()); err != nil {
			m.status = err.Error()
			return m, nil
		}
		return m, m.refresh
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// watch adds a "real N" or "int N" reference to the displayed values.
func (m *interactiveModel) watch(s string) error {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return fmt.Errorf("expected <real|int> <ref>, got %q", s)
	}
	refs, err := parseRefs(fields[1])
	if err != nil {
		return err
	}
	switch fields[0] {
	case "real", "r":
		m.opts.reals = append(m.opts.reals, refs...)
	case "int", "integer", "i":
		m.opts.integers = append(m.opts.integers, refs...)
	default:
		return fmt.Errorf("unknown kind %q", fields[0])
	}
	return nil
}

func (m *interactiveModel) stepped() {
	m.t += m.opts.dt
	m.steps++
	m.status = ""
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.slave == nil {
		return "Loading slave..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("FMU Runner"))
	b.WriteString(" ")
	b.WriteString(m.slave.Class())
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("t      "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%g", m.t)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("steps  "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.steps)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("bulk   "))
	b.WriteString(valueStyle.Render(fmt.Sprintf("%v", m.slave.Bulk())))
	b.WriteString("\n\n")

	for i, r := range m.opts.reals {
		if i < len(m.values.reals) {
			b.WriteString(labelStyle.Render(fmt.Sprintf("real[%d] ", r)))
			b.WriteString(valueStyle.Render(fmt.Sprintf("%g", m.values.reals[i])))
			b.WriteString("\n")
		}
	}
	for i, r := range m.opts.integers {
		if i < len(m.values.integers) {
			b.WriteString(labelStyle.Render(fmt.Sprintf("int[%d]  ", r)))
			b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.values.integers[i])))
			b.WriteString("\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(m.status))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.state == stateAddRef {
		b.WriteString(m.input.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter add • esc cancel"))
	} else {
		b.WriteString(helpStyle.Render("space step • r reset • a watch value • q quit"))
	}
	return b.String()
}

func runInteractive(opts options, settings config.Settings) error {
	p := tea.NewProgram(newInteractiveModel(opts, settings), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
