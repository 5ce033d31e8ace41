// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/stagelink/pkg/controller"
	"github.com/Thermoquad/stagelink/pkg/octolink"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	defaultJogStep = 1600
	maxLogEntries  = 100
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	stage    *controller.Stage
	connInfo string

	state      controller.State
	haveState  bool
	stats      controller.Statistics
	eventLog   []logEntry
	pending    int
	illuminate bool
	linkErr    error
	linkDown   bool

	stepInput   textinput.Model
	editingStep bool

	width    int
	height   int
	quitting bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type stateBatchMsg struct {
	state  controller.State
	frames int
}

type linkFailedMsg struct {
	err error
}

type commandDoneMsg struct {
	name string
	err  error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(stage *controller.Stage, connInfo string) monitorModel {
	ti := textinput.New()
	ti.Placeholder = strconv.Itoa(defaultJogStep)
	ti.CharLimit = 10
	ti.Width = 12

	return monitorModel{
		stage:     stage,
		connInfo:  connInfo,
		eventLog:  make([]logEntry, 0),
		stepInput: ti,
		width:     80,
		height:    24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.stats = m.stage.Engine().Stats()
		m.stats.CalculateRates()
		return m, monitorTickCmd()

	case stateBatchMsg:
		m.applyState(msg.state)

	case commandDoneMsg:
		m.pending--
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.name, msg.err), true)
		} else {
			m.addLogEntry(fmt.Sprintf("%s done", msg.name), false)
		}

	case linkFailedMsg:
		m.linkDown = true
		m.linkErr = msg.err
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("LINK FAILED: %v", msg.err), true)
		} else {
			m.addLogEntry("Link closed", true)
		}
	}

	if m.editingStep {
		var cmd tea.Cmd
		m.stepInput, cmd = m.stepInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) applyState(s controller.State) {
	if m.haveState {
		if s.SwitchOn != m.state.SwitchOn {
			m.addLogEntry(fmt.Sprintf("Switch %s", onOff(s.SwitchOn)), false)
		}
		if s.Busy != m.state.Busy && !s.Busy && s.ExecStatus != octolink.StatusCompleted {
			m.addLogEntry(fmt.Sprintf("Command %d acknowledged with %s", s.AckID, octolink.FormatStatus(s.ExecStatus)), true)
		}
	}
	if s.JoystickPressEvent && m.stage.Engine().ConsumeJoystickPress() {
		m.addLogEntry("Joystick button pressed", false)
	}
	m.state = s
	m.haveState = true
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.editingStep {
		switch msg.String() {
		case "enter", "tab", "esc":
			m.editingStep = false
			m.stepInput.Blur()
			if _, err := m.jogStep(); err != nil {
				m.addLogEntry(err.Error(), true)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.stepInput, cmd = m.stepInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.editingStep = true
		return m, m.stepInput.Focus()

	case "r":
		m.stage.Engine().ResetStats()
		m.stats = m.stage.Engine().Stats()
		m.addLogEntry("Statistics reset", false)
		return m, nil

	case "up":
		return m.jog(octolink.AxisY, 1)
	case "down":
		return m.jog(octolink.AxisY, -1)
	case "right":
		return m.jog(octolink.AxisX, 1)
	case "left":
		return m.jog(octolink.AxisX, -1)
	case "pgup":
		return m.jog(octolink.AxisZ, 1)
	case "pgdown":
		return m.jog(octolink.AxisZ, -1)

	case "h":
		return m.run("Home XY", m.stage.HomeXY)

	case "0":
		return m.run("Zero XYZ", func() error {
			for _, a := range []octolink.Axis{octolink.AxisX, octolink.AxisY, octolink.AxisZ} {
				if err := m.stage.Zero(a); err != nil {
					return err
				}
			}
			return nil
		})

	case "l":
		m.illuminate = !m.illuminate
		if m.illuminate {
			return m.run("Illumination on", m.stage.IlluminationOn)
		}
		return m.run("Illumination off", m.stage.IlluminationOff)
	}

	return m, nil
}

// jogStep returns the step size from the input, or the default when empty
func (m monitorModel) jogStep() (int64, error) {
	val := strings.TrimSpace(m.stepInput.Value())
	if val == "" {
		return defaultJogStep, nil
	}
	step, err := strconv.ParseInt(val, 10, 64)
	if err != nil || step <= 0 {
		return 0, fmt.Errorf("invalid step size %q", val)
	}
	return step, nil
}

func (m monitorModel) jog(axis octolink.Axis, dir int64) (tea.Model, tea.Cmd) {
	step, err := m.jogStep()
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return m, nil
	}
	name := fmt.Sprintf("Jog %s %+d", octolink.FormatAxis(axis), dir*step)
	return m.run(name, func() error {
		return m.stage.MoveRelative(axis, dir*step)
	})
}

// run executes a stage action off the UI goroutine
func (m monitorModel) run(name string, action func() error) (tea.Model, tea.Cmd) {
	if m.linkDown {
		m.addLogEntry(fmt.Sprintf("Cannot run %s: link down", name), true)
		return m, nil
	}
	m.pending++
	return m, func() tea.Msg {
		return commandDoneMsg{name: name, err: action()}
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("STAGELINK MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.linkDown {
		connStatus = errorStyle.Render("LINK DOWN")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit tab=step h=home 0=zero l=light r=reset", connStatus)))
	s.WriteString("\n\n")

	// Positions | status side by side
	leftWidth := 34
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 30 {
		rightWidth = 30
	}
	positions := boxStyle.Width(leftWidth).Render(m.renderPositions(statsLabelStyle, statsValueStyle, headerStyle))
	status := boxStyle.Width(rightWidth).Render(m.renderStatus(statsLabelStyle, statsValueStyle, warningStyle, headerStyle))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, positions, " ", status))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, errorStyle, headerStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderPositions(labelStyle, valueStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("POSITION (usteps)"))
	s.WriteString("\n")

	if !m.haveState {
		s.WriteString(headerStyle.Render("Waiting for telemetry..."))
		return s.String()
	}

	p := m.state.Positions
	for _, row := range []struct {
		name  string
		value int32
	}{
		{"X", p.X}, {"Y", p.Y}, {"Z", p.Z}, {"Theta", p.Theta},
	} {
		s.WriteString(fmt.Sprintf("%-6s %s\n", row.name+":", valueStyle.Render(fmt.Sprintf("%12d", row.value))))
	}

	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Step: "))
	if m.editingStep {
		s.WriteString(m.stepInput.View())
	} else {
		val := m.stepInput.Value()
		if val == "" {
			val = m.stepInput.Placeholder
		}
		s.WriteString(fmt.Sprintf("[%s]", val))
	}
	return s.String()
}

func (m monitorModel) renderStatus(labelStyle, valueStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("CONTROLLER"))
	s.WriteString("\n")

	if !m.haveState {
		s.WriteString(headerStyle.Render("No telemetry data"))
		return s.String()
	}

	busy := valueStyle.Render("idle")
	if m.state.Busy {
		busy = warningStyle.Render(fmt.Sprintf("busy (cmd %d)", m.state.CommandID))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Link:"), busy))
	s.WriteString(fmt.Sprintf("%s %d %s\n", labelStyle.Render("Ack:"), m.state.AckID, octolink.FormatStatus(m.state.ExecStatus)))

	joy := "released"
	if m.state.ButtonPressed {
		joy = warningStyle.Render("PRESSED")
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Joystick:"), joy))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Switch:"), onOff(m.state.SwitchOn)))
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Illumination:"), onOff(m.illuminate)))
	if m.pending > 0 {
		s.WriteString(warningStyle.Render(fmt.Sprintf("%d command(s) queued", m.pending)))
	}
	return s.String()
}

func (m monitorModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.stats

	errValue := func(n uint64) string {
		if n > 0 {
			return errorStyle.Render(fmt.Sprintf("%d", n))
		}
		return valueStyle.Render("0")
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", st.FramesReceived)),
		labelStyle.Render("CRC:"), errValue(st.CRCRejected),
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", st.CommandsSent)),
		labelStyle.Render("Resends:"), errValue(st.Resends()),
		labelStyle.Render("Latency:"), valueStyle.Render(st.LastAckLatency.Round(time.Millisecond).String()),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f fr/s", st.FrameRate)),
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.eventLog) < logHeight {
		logHeight = len(m.eventLog)
	}
	startIdx := len(m.eventLog) - logHeight

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
