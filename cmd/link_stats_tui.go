// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// frameMsg is one logged inbound frame
type frameMsg struct {
	text    string
	isError bool
}

// TUI model
type model struct {
	connInfo string
	showAll  bool
	tap      *statsTap
	stats    trackbot.Statistics
	log      eventLog
	version  string
	serial   string
	power    int
	sensor   int
	timedOut bool
	failed   bool
	width    int
	height   int
	quitting bool
}

func initialModel(connInfo string, tap *statsTap, showAll bool) model {
	return model{
		connInfo: connInfo,
		showAll:  showAll,
		tap:      tap,
		stats:    tap.snapshot(),
		log:      newEventLog(100),
		power:    -1,
		sensor:   -1,
		width:    80,
		height:   24,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.tap.mu.Lock()
			m.tap.stats.Reset()
			m.tap.mu.Unlock()
			m.log.add("Statistics reset (link counters are cumulative)", false)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.stats = m.tap.snapshot()
		return m, tickCmd()

	case frameMsg:
		m.log.add(msg.text, msg.isError)

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
		m.serial = string(msg)

	case timeoutMsg:
		m.timedOut = msg.timedOut
		if msg.timedOut {
			m.log.add(fmt.Sprintf("Link timed out after %s", msg.timeout), true)
		} else {
			m.log.add("Link resumed", false)
		}

	case linkErrorMsg:
		m.failed = true
		m.log.add(fmt.Sprintf("Link failed: %v", msg.err), true)
	}

	return m, nil
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("TRACKBOT - LINK STATISTICS"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | r=reset q=quit",
		m.connInfo, func() string {
			if m.showAll {
				return "All frames"
			}
			return "Errors only"
		}())))
	s.WriteString("\n\n")

	// Link status
	switch {
	case m.failed:
		s.WriteString(errorStyle.Render("Link failed"))
	case m.timedOut:
		s.WriteString(warningStyle.Render("Link timed out, resending..."))
	case m.version == "":
		s.WriteString(warningStyle.Render("Waiting for robot version..."))
	default:
		s.WriteString(statsValueStyle.Render("Connected: " + m.version))
		if m.serial != "" {
			s.WriteString(headerStyle.Render(" serial " + m.serial))
		}
	}
	s.WriteString("\n\n")

	// Statistics
	st := m.stats
	var nakPercent float64
	if acked := st.Acks + st.Naks; acked > 0 {
		nakPercent = float64(st.Naks) * 100.0 / float64(acked)
	}

	var stats strings.Builder
	stats.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Frames:"), statsValueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		statsLabelStyle.Render("Power:"), statsValueStyle.Render(fmt.Sprintf("%d", st.PowerFrames)),
		statsLabelStyle.Render("Sensor:"), statsValueStyle.Render(fmt.Sprintf("%d", st.SensorFrames)),
	))
	stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		statsLabelStyle.Render("ACKs:"), statsValueStyle.Render(fmt.Sprintf("%d", st.Acks)),
		statsLabelStyle.Render("NAKs:"), func() string {
			text := fmt.Sprintf("%d (%.1f%%)", st.Naks, nakPercent)
			if st.Naks > 0 {
				return errorStyle.Render(text)
			}
			return statsValueStyle.Render(text)
		}(),
	))
	if st.Overflows > 0 || st.UnknownFrames > 0 {
		stats.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Overflows:"), errorStyle.Render(fmt.Sprintf("%d", st.Overflows)),
			statsLabelStyle.Render("Unknown:"), errorStyle.Render(fmt.Sprintf("%d", st.UnknownFrames)),
		))
	}
	if st.Timeouts > 0 {
		stats.WriteString(fmt.Sprintf("%s %s\n",
			statsLabelStyle.Render("Timeouts:"),
			warningStyle.Render(fmt.Sprintf("%d (resumed %d)", st.Timeouts, st.Resumes)),
		))
	}
	stats.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", st.FrameRate)),
		statsLabelStyle.Render("Error Rate:"), func() string {
			if st.ErrorRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
		}(),
	))

	s.WriteString(boxStyle.Render(stats.String()))
	s.WriteString("\n\n")

	// Latest sensors
	s.WriteString(boxStyle.Render(sensorPanel(m.power, m.sensor)))
	s.WriteString("\n\n")

	// Event log, reserving space for header and stats
	s.WriteString(m.log.render("Recent Events:", m.height-20, m.width-4))

	return s.String()
}
