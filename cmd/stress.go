// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/internal/log"
	"github.com/Thermoquad/trackbot/pkg/behavior"
)

var (
	stressDuration time.Duration
	stressInterval time.Duration
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Poll the robot continuously and log link counters",
	Long: `Poll the power and sensor nodes while the monitor logs every change,
and log the ACK, NAK and input overflow counters every interval.

The run ends after --duration, on Ctrl+C, or when the link stops.
A duration of 0 runs until interrupted.

Exit codes:
  0 - Run completed
  1 - Link stopped
  2 - Connection error`,
	RunE: runStress,
}

func init() {
	rootCmd.AddCommand(stressCmd)
	stressCmd.Flags().DurationVar(&stressDuration, "duration", time.Minute, "How long to run (0 = until interrupted)")
	stressCmd.Flags().DurationVar(&stressInterval, "interval", 2*time.Second, "Counter logging interval")
}

func runStress(cmd *cobra.Command, args []string) error {
	robot, connInfo, err := ConnectRobot(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer robot.Close()

	logger := log.L()
	monitor := behavior.NewMonitor(robot, logger)
	robot.Events().AddListener(monitor)
	requery(robot)
	defer monitor.Stop()

	logger.Info("stress test started", "connection", connInfo, "duration", stressDuration, "interval", stressInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var deadline <-chan time.Time
	if stressDuration > 0 {
		timer := time.NewTimer(stressDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(stressInterval)
	defer ticker.Stop()

	link := robot.Link()
	report := func() {
		c := link.Counters()
		logger.Info("link counters",
			"acks", c.Acks,
			"naks", c.Naks,
			"input_overflows", c.Overflows,
			"timeouts", c.Timeouts,
			"queued", link.QueueLen())
	}

	for {
		select {
		case <-ticker.C:
			report()
		case <-deadline:
			report()
			logger.Info("stress test complete")
			return nil
		case <-sigChan:
			report()
			logger.Info("stress test interrupted")
			return nil
		case <-link.Done():
			report()
			logger.Error("link stopped", "error", link.Err())
			robot.Close()
			os.Exit(1)
		}
	}
}
