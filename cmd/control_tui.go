// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

//////////////////////////////////////////////////////////////
// Key Bindings
//////////////////////////////////////////////////////////////

type driveKeyMap struct {
	Forward      key.Binding
	Backward     key.Binding
	Left         key.Binding
	Right        key.Binding
	VeerLeft     key.Binding
	VeerRight    key.Binding
	BackLeft     key.Binding
	BackRight    key.Binding
	Stop         key.Binding
	Speed        key.Binding
	DefaultSpeed key.Binding
	Help         key.Binding
	Quit         key.Binding
}

func (k driveKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Forward, k.Backward, k.Left, k.Right, k.Stop, k.Help, k.Quit}
}

func (k driveKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Forward, k.Backward, k.Left, k.Right},
		{k.VeerLeft, k.VeerRight, k.BackLeft, k.BackRight},
		{k.Stop, k.Speed, k.DefaultSpeed},
		{k.Help, k.Quit},
	}
}

var driveKeys = driveKeyMap{
	Forward:      key.NewBinding(key.WithKeys("up", "w"), key.WithHelp("↑/w", "forward")),
	Backward:     key.NewBinding(key.WithKeys("down", "s"), key.WithHelp("↓/s", "backward")),
	Left:         key.NewBinding(key.WithKeys("left", "a"), key.WithHelp("←/a", "turn left")),
	Right:        key.NewBinding(key.WithKeys("right", "d"), key.WithHelp("→/d", "turn right")),
	VeerLeft:     key.NewBinding(key.WithKeys("shift+left", "e"), key.WithHelp("shift+←/e", "veer fwd left")),
	VeerRight:    key.NewBinding(key.WithKeys("shift+right", "r"), key.WithHelp("shift+→/r", "veer fwd right")),
	BackLeft:     key.NewBinding(key.WithKeys("z"), key.WithHelp("z", "veer back left")),
	BackRight:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "veer back right")),
	Stop:         key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "stop")),
	Speed:        key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "speed")),
	DefaultSpeed: key.NewBinding(key.WithKeys("0"), key.WithHelp("0", "default speeds")),
	Help:         key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlModel is the Bubble Tea model for the drive TUI
type controlModel struct {
	// Connection manager (for commands and reconnection)
	connMgr  *connectionManager
	connInfo string

	// Drive state
	speed     int // 0 drives at the default speeds
	direction behavior.Direction
	trackCmd  int

	// Robot state
	version  string
	power    int
	sensor   int
	timedOut bool

	log  eventLog
	help help.Model

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(connMgr *connectionManager, connInfo string) controlModel {
	return controlModel{
		connMgr:  connMgr,
		connInfo: connInfo,
		power:    -1,
		sensor:   -1,
		log:      newEventLog(100),
		help:     help.New(),
		width:    80,
		height:   24,
	}
}

func (m controlModel) Init() tea.Cmd {
	return tickCmd()
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, tickCmd()

	case powerMsg:
		m.power = int(msg)
	case sensorMsg:
		m.sensor = int(msg)
	case allMsg:
		m.power, m.sensor = msg.power, msg.sensor

	case versionMsg:
		m.version = msg.version.String()
		if msg.supported {
			m.log.add("Version "+m.version, false)
		} else {
			m.log.add("Unsupported version "+m.version, true)
		}

	case serialMsg:
		m.log.add("Serial number "+string(msg), false)

	case timeoutMsg:
		m.timedOut = msg.timedOut
		if msg.timedOut {
			m.log.add(fmt.Sprintf("Link timed out after %s", msg.timeout), true)
		} else {
			m.log.add("Link resumed", false)
		}

	case linkErrorMsg:
		m.log.add(fmt.Sprintf("Link failed: %v", msg.err), true)

	case connectionLostMsg:
		m.connectionLost = true
		m.direction = behavior.Stop
		m.addLostEntry(msg.err)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.version = ""
		m.power, m.sensor = -1, -1
		m.log.add("Reconnected, tracks braked", false)
	}

	return m, nil
}

func (m *controlModel) addLostEntry(err error) {
	if err != nil {
		m.log.add(fmt.Sprintf("Connection lost (%v), reconnecting...", err), true)
		return
	}
	m.log.add("Connection lost, reconnecting...", true)
}

func (m *controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, driveKeys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, driveKeys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, driveKeys.Speed):
		m.speed = int(msg.String()[0] - '0')
		m.log.add(fmt.Sprintf("Speed %d", m.speed), false)
		return m, nil
	case key.Matches(msg, driveKeys.DefaultSpeed):
		m.speed = 0
		m.log.add("Default speeds", false)
		return m, nil
	}

	dir := behavior.Unresolved
	switch {
	case key.Matches(msg, driveKeys.Forward):
		dir = behavior.Forward
	case key.Matches(msg, driveKeys.Backward):
		dir = behavior.Backward
	case key.Matches(msg, driveKeys.Left):
		dir = behavior.TurnLeft
	case key.Matches(msg, driveKeys.Right):
		dir = behavior.TurnRight
	case key.Matches(msg, driveKeys.VeerLeft):
		dir = behavior.VeerForwardLeft
	case key.Matches(msg, driveKeys.VeerRight):
		dir = behavior.VeerForwardRight
	case key.Matches(msg, driveKeys.BackLeft):
		dir = behavior.VeerBackwardLeft
	case key.Matches(msg, driveKeys.BackRight):
		dir = behavior.VeerBackwardRight
	case key.Matches(msg, driveKeys.Stop):
		dir = behavior.Stop
	}
	if dir == behavior.Unresolved {
		return m, nil
	}
	return m.drive(dir)
}

// drive sends dir to the tracks at the selected speed
func (m *controlModel) drive(dir behavior.Direction) (tea.Model, tea.Cmd) {
	// Don't allow drive commands while connection is lost
	if m.connectionLost {
		m.log.add("Cannot drive: connection lost", true)
		return m, nil
	}

	driver := m.connMgr.getDriver()
	if m.speed == 0 || dir == behavior.Stop {
		driver.Go(dir)
	} else {
		driver.GoSpeed(dir, m.speed)
	}
	m.direction = dir
	m.trackCmd++
	return m, nil
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	s.WriteString(titleStyle.Render("TRACKBOT CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s", connStatus)))
	s.WriteString("\n\n")

	// Link status
	switch {
	case m.connectionLost:
		s.WriteString(errorStyle.Render("Link lost"))
	case m.timedOut:
		s.WriteString(warningStyle.Render("Link timed out, resending..."))
	case m.version == "":
		s.WriteString(warningStyle.Render("Waiting for robot version..."))
	default:
		s.WriteString(statsValueStyle.Render("Connected: " + m.version))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderDrivePanel())
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(sensorPanel(m.power, m.sensor)))
	s.WriteString("\n\n")

	// Event log fills what is left above the help
	logHeight := m.height - 22
	if m.help.ShowAll {
		logHeight -= 4
	}
	s.WriteString(m.log.render("Event Log", logHeight, m.width-4))
	s.WriteString("\n")

	s.WriteString(m.help.View(driveKeys))
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderDrivePanel() string {
	speed := "default"
	if m.speed > 0 {
		speed = fmt.Sprintf("%d/%d", m.speed, trackbot.SpeedMax)
	}

	dirStyle := statsValueStyle
	if m.direction != behavior.Stop {
		dirStyle = warningStyle
	}

	var panel strings.Builder
	panel.WriteString(fmt.Sprintf("%s %s\n",
		statsLabelStyle.Render("Direction:"), dirStyle.Render(m.direction.String())))
	panel.WriteString(fmt.Sprintf("%s %s\n",
		statsLabelStyle.Render("Speed:    "), statsValueStyle.Render(speed)))
	panel.WriteString(fmt.Sprintf("%s %s",
		statsLabelStyle.Render("Commands: "), statsValueStyle.Render(fmt.Sprintf("%d", m.trackCmd))))
	return boxStyle.Render(panel.String())
}
