// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by querying the robot version",
	Long: `Queue a version query and wait for its ACK and the version frame.

Connecting always brakes both tracks first, so the robot sees "!MA*00"
followed by "?V". The probe succeeds when the version frame arrives.

Exit codes:
  0 - Version received before timeout
  1 - Timeout reached without a version frame
  2 - Connection error

Useful for testing connectivity to a robot or a serial bridge.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for the version")
}

// versionWaiter delivers the first version event
type versionWaiter struct {
	trackbot.BaseListener
	version chan versionMsg
	serial  chan string
	failed  chan error
}

func newVersionWaiter() *versionWaiter {
	return &versionWaiter{
		version: make(chan versionMsg, 1),
		serial:  make(chan string, 1),
		failed:  make(chan error, 1),
	}
}

func (w *versionWaiter) RobotVersion(v trackbot.VersionInfo, supported bool) {
	select {
	case w.version <- versionMsg{version: v, supported: supported}:
	default:
	}
}

func (w *versionWaiter) RobotSerialNumber(serial string) {
	select {
	case w.serial <- serial:
	default:
	}
}

func (w *versionWaiter) RobotLinkError(err error) {
	select {
	case w.failed <- err:
	default:
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	w := newVersionWaiter()
	robot, connInfo, err := ConnectRobot(-1, w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer robot.Close()

	fmt.Printf("TrackBot - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for version frame...\n\n")

	start := time.Now()
	select {
	case v := <-w.version:
		link := robot.Link()
		fmt.Printf("SUCCESS: Received version\n")
		fmt.Printf("  Version: %s\n", v.version)
		fmt.Printf("  Hardware: %d\n", v.version.Hardware)
		fmt.Printf("  Firmware: %d\n", v.version.Firmware)
		fmt.Printf("  Supported: %v\n", v.supported)
		fmt.Printf("  Round trip: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  ACKs: %d NAKs: %d\n", link.AckCount(), link.NakCount())
		robot.Close()
		os.Exit(0)

	case err := <-w.failed:
		fmt.Fprintf(os.Stderr, "Link error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No version received within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
