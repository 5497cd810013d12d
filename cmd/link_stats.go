// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

var (
	showAll       bool
	statsInterval int
	noTUI         bool
)

var linkStatsCmd = &cobra.Command{
	Use:   "link_stats",
	Short: "Track link traffic, NAKs, overflows and timeouts",
	Long: `Poll the robot and keep running link statistics.

The robot is queried for its power and sensor state at the configured poll
interval. Every response is classified and counted, together with:
  - ACK and NAK bytes
  - Input overflows (frames longer than the input buffer)
  - Unrecognized frames
  - Link timeouts and recoveries
  - Frame and error rates

By default, only problems are logged. Use --show-all to log every frame.

Runs as a terminal UI unless --no-tui is given, in which case a statistics
summary is printed at --stats-interval.`,
	RunE: runLinkStats,
}

func init() {
	rootCmd.AddCommand(linkStatsCmd)
	linkStatsCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	linkStatsCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	linkStatsCmd.Flags().BoolVar(&noTUI, "no-tui", false, "Print text instead of the terminal UI")
}

// statsTap sits between the link and the event decoder and counts inbound
// traffic
type statsTap struct {
	next trackbot.LinkListener
	link *trackbot.Link

	mu      sync.Mutex
	stats   *trackbot.Statistics
	onFrame func(f trackbot.Frame, kind trackbot.FrameKind)
}

// newStatsTap installs a tap on robot's link
func newStatsTap(robot *trackbot.Robot) *statsTap {
	t := &statsTap{
		next:  robot.Events(),
		link:  robot.Link(),
		stats: trackbot.NewStatistics(),
	}
	robot.Link().SetListener(t)
	return t
}

func (t *statsTap) MessageReceived(f trackbot.Frame) {
	t.mu.Lock()
	t.stats.Update(trackbot.Token{Kind: trackbot.TokenFrame, Frame: f})
	onFrame := t.onFrame
	t.mu.Unlock()
	if onFrame != nil {
		onFrame(f, trackbot.KindOf(f))
	}
	t.next.MessageReceived(f)
}

func (t *statsTap) TimeoutStatus(timedOut bool, timeout time.Duration) {
	t.mu.Lock()
	t.stats.UpdateTimeout(timedOut)
	t.mu.Unlock()
	t.next.TimeoutStatus(timedOut, timeout)
}

func (t *statsTap) InputError(err error)  { t.next.InputError(err) }
func (t *statsTap) OutputError(err error) { t.next.OutputError(err) }

// setOnFrame installs a hook for every inbound frame
func (t *statsTap) setOnFrame(fn func(f trackbot.Frame, kind trackbot.FrameKind)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onFrame = fn
}

// snapshot returns a copy of the statistics with the link's ACK, NAK and
// overflow counters folded in
func (t *statsTap) snapshot() trackbot.Statistics {
	c := t.link.Counters()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := *t.stats
	s.Acks = c.Acks
	s.Naks = c.Naks
	s.Overflows = c.Overflows
	s.CalculateRates()
	return s
}

func runLinkStats(cmd *cobra.Command, args []string) error {
	robot, connInfo, err := ConnectRobot(0)
	if err != nil {
		return err
	}
	defer robot.Close()

	tap := newStatsTap(robot)
	if noTUI {
		return runTextMode(robot, tap, connInfo)
	}
	return runTUIMode(robot, tap, connInfo)
}

// runTUIMode runs link statistics in TUI mode
func runTUIMode(robot *trackbot.Robot, tap *statsTap, connInfo string) error {
	m := initialModel(connInfo, tap, showAll)
	p := tea.NewProgram(m, tea.WithAltScreen())

	tap.setOnFrame(func(f trackbot.Frame, kind trackbot.FrameKind) {
		if kind == trackbot.FrameUnknown {
			p.Send(frameMsg{text: fmt.Sprintf("UNKNOWN %q", f.String()), isError: true})
		} else if showAll {
			p.Send(frameMsg{text: fmt.Sprintf("%s %q", kind, f.String())})
		}
	})
	robot.Events().AddListener(programListener{p: p})
	requery(robot)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode prints statistics at a fixed interval until interrupted or the
// link fails
func runTextMode(robot *trackbot.Robot, tap *statsTap, connInfo string) error {
	fmt.Printf("TrackBot - Link Statistics\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	tap.setOnFrame(func(f trackbot.Frame, kind trackbot.FrameKind) {
		if kind == trackbot.FrameUnknown {
			fmt.Printf("[%s] \033[1;33mUNKNOWN FRAME:\033[0m %q\n", time.Now().Format("15:04:05.000"), f.String())
		} else if showAll {
			fmt.Print(trackbot.FormatFrame(f, time.Now()))
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-statsTicker.C:
			s := tap.snapshot()
			fmt.Println()
			fmt.Print(s.String())
			fmt.Println()

		case <-robot.Link().Done():
			s := tap.snapshot()
			fmt.Print(s.String())
			return fmt.Errorf("link stopped: %w", robot.Link().Err())

		case <-sigs:
			s := tap.snapshot()
			fmt.Println()
			fmt.Print(s.String())
			return nil
		}
	}
}
