// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/internal/log"
	"github.com/Thermoquad/trackbot/pkg/behavior"
)

var (
	monitorNoTUI    bool
	monitorStations bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the robot sensors without driving",
	Long: `Report sensor changes as they happen.

The monitor configures every sensor at short range once per connection,
then reports changed corner sensors and gain, cliffs, side sensors and
ambient light. With --stations it also polls the four transducer stations.

The tracks stay braked the whole time.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorNoTUI, "no-tui", false, "Print report lines instead of the TUI")
	monitorCmd.Flags().BoolVar(&monitorStations, "stations", false, "Poll the transducer stations")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	robot, connInfo, err := ConnectRobot(0)
	if err != nil {
		return err
	}
	defer robot.Close()

	monitor := behavior.NewMonitor(robot, log.L())
	defer monitor.Stop()

	if monitorNoTUI {
		fmt.Printf("TrackBot - Sensor Monitor\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Press Ctrl+C to exit\n\n")

		monitor.OnLine(func(line string) {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
		})
		robot.Events().AddListener(monitor)
		requery(robot)
		if monitorStations {
			monitor.StartStationPoller(behavior.DefaultStationPollInterval)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt)
		defer signal.Stop(sigs)

		select {
		case <-sigs:
			return nil
		case <-robot.Link().Done():
			return fmt.Errorf("link stopped: %w", robot.Link().Err())
		}
	}

	p := tea.NewProgram(initialMonitorModel(connInfo), tea.WithAltScreen())
	monitor.OnLine(func(line string) {
		p.Send(lineMsg(line))
	})
	robot.Events().AddListener(programListener{p: p})
	robot.Events().AddListener(monitor)
	requery(robot)
	if monitorStations {
		monitor.StartStationPoller(behavior.DefaultStationPollInterval)
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// monitorModel shows the sensor panel over the monitor report lines
type monitorModel struct {
	connInfo string
	version  string
	power    int
	sensor   int
	timedOut bool
	failed   bool
	log      eventLog
	width    int
	height   int
	quitting bool
}

func initialMonitorModel(connInfo string) monitorModel {
	return monitorModel{
		connInfo: connInfo,
		power:    -1,
		sensor:   -1,
		log:      newEventLog(200),
		width:    80,
		height:   24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tickCmd()
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case lineMsg:
		m.log.add(string(msg), strings.HasPrefix(string(msg), "CLIFF") || strings.HasPrefix(string(msg), "Link failed"))

	case powerMsg:
		m.power = int(msg)
	case sensorMsg:
		m.sensor = int(msg)
	case allMsg:
		m.power, m.sensor = msg.power, msg.sensor

	case versionMsg:
		m.version = msg.version.String()

	case timeoutMsg:
		m.timedOut = msg.timedOut

	case linkErrorMsg:
		m.failed = true
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("TRACKBOT - SENSOR MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | q=quit", m.connInfo)))
	s.WriteString("\n\n")

	switch {
	case m.failed:
		s.WriteString(errorStyle.Render("Link failed"))
	case m.timedOut:
		s.WriteString(warningStyle.Render("Link timed out, resending..."))
	case m.version == "":
		s.WriteString(warningStyle.Render("Waiting for robot version..."))
	default:
		s.WriteString(statsValueStyle.Render("Connected: " + m.version))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(sensorPanel(m.power, m.sensor)))
	s.WriteString("\n\n")

	s.WriteString(m.log.render("Reports", m.height-14, m.width-4))
	return s.String()
}
