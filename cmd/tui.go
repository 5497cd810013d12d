// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Shared TUI styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// eventLog keeps the last max entries
type eventLog struct {
	entries []logEntry
	max     int
}

func newEventLog(limit int) eventLog {
	return eventLog{max: limit}
}

func (l *eventLog) add(message string, isError bool) {
	l.entries = append(l.entries, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

// render draws the newest height entries in a box of the given width
func (l eventLog) render(title string, height, width int) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render(title))
	s.WriteString("\n")

	if height < 1 {
		height = 1
	}
	startIdx := len(l.entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	var content strings.Builder
	if len(l.entries) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range l.entries[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				content.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("x "+entry.message)))
			} else {
				content.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("i ")+entry.message))
			}
		}
	}

	if width < 20 {
		width = 20
	}
	s.WriteString(boxStyle.Width(width).Render(content.String()))
	return s.String()
}

// Robot event messages
type (
	powerMsg  int
	sensorMsg int
	allMsg    struct {
		power, sensor, id int
	}
	versionMsg struct {
		version   trackbot.VersionInfo
		supported bool
	}
	serialMsg  string
	timeoutMsg struct {
		timedOut bool
		timeout  time.Duration
	}
	linkErrorMsg struct{ err error }
	lineMsg      string
	tickMsg      time.Time
)

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// programListener forwards robot events into a Bubble Tea program
type programListener struct {
	trackbot.BaseListener
	p *tea.Program
}

func (l programListener) PowerNodeState(state int)  { l.p.Send(powerMsg(state)) }
func (l programListener) SensorNodeState(state int) { l.p.Send(sensorMsg(state)) }

func (l programListener) AllStates(power, sensor int, _ *trackbot.BeaconMatrix, id int) {
	l.p.Send(allMsg{power: power, sensor: sensor, id: id})
}

func (l programListener) RobotVersion(v trackbot.VersionInfo, supported bool) {
	l.p.Send(versionMsg{version: v, supported: supported})
}

func (l programListener) RobotSerialNumber(serial string) { l.p.Send(serialMsg(serial)) }

func (l programListener) RobotTimeout(timedOut bool, timeout time.Duration) {
	l.p.Send(timeoutMsg{timedOut: timedOut, timeout: timeout})
}

func (l programListener) RobotLinkError(err error) { l.p.Send(linkErrorMsg{err: err}) }

// sensorPanel renders the corner, cliff and side state of the robot
func sensorPanel(power, sensor int) string {
	var s strings.Builder
	if power < 0 {
		s.WriteString(headerStyle.Render("Power node: waiting..."))
	} else {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Corners:"), statsValueStyle.Render(trackbot.FormatPowerState(power))))
	}
	if sensor < 0 {
		s.WriteString(headerStyle.Render("Sensor node: waiting..."))
	} else {
		cliffs := trackbot.FormatCliffs(sensor)
		cliffStyle := statsValueStyle
		if sensor&trackbot.SensorCliffs != trackbot.SensorCliffs {
			cliffStyle = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Cliffs: "), cliffStyle.Render(cliffs)))
		s.WriteString(fmt.Sprintf("%s %s", statsLabelStyle.Render("Sides:  "), statsValueStyle.Render(trackbot.FormatSides(sensor))))
	}
	return s.String()
}
