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

var identifyTimeout int

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Show the robot version, features and serial number",
	Long: `Query the robot version and list the firmware features it implies.

This command performs the identification handshake:
  1. Brake both tracks and query the version ("?V")
  2. Decode hardware and firmware revisions and check support
  3. Query the serial number ("?CS") when the firmware has one

Exit codes:
  0 - Identification successful
  1 - Identification failed (no version or unsupported robot)
  2 - Connection error`,
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)
	identifyCmd.Flags().IntVar(&identifyTimeout, "timeout", 5, "Timeout in seconds for each answer")
}

func features(v trackbot.VersionInfo) []struct {
	name string
	ok   bool
} {
	return []struct {
		name string
		ok   bool
	}{
		{"Beeper", v.BeeperSupported()},
		{"Alarm", v.AlarmSupported()},
		{"Nav lights", v.NavLightsSupported()},
		{"Test points", v.TestPointsSupported()},
		{"Tagging memory", v.TaggingMemorySupported()},
		{"Serial number", v.SerialNumberSupported()},
		{"Sensor ranging", v.RangingSupported()},
		{"IR enable", v.IREnableSupported()},
		{"IR ping interval", v.IRPingIntervalSupported()},
		{"Motor jump bell", v.MotorJumpBellSupported()},
	}
}

func runIdentify(cmd *cobra.Command, args []string) error {
	w := newVersionWaiter()
	robot, connInfo, err := ConnectRobot(-1, w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer robot.Close()

	fmt.Printf("TrackBot - Identify\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", identifyTimeout)

	timeout := time.Duration(identifyTimeout) * time.Second
	var v versionMsg
	select {
	case v = <-w.version:
	case err := <-w.failed:
		fmt.Printf("READ FAILED: %v\n", err)
		os.Exit(2)
	case <-time.After(timeout):
		fmt.Printf("TIMEOUT: No version received in %ds\n", identifyTimeout)
		robot.Close()
		os.Exit(1)
	}

	fmt.Printf("Robot found:\n")
	fmt.Printf("  Version: %s\n", v.version)
	fmt.Printf("  Hardware: %d\n", v.version.Hardware)
	fmt.Printf("  Firmware: %d\n", v.version.Firmware)
	fmt.Printf("  Supported: %v\n", v.supported)
	fmt.Printf("\nFeatures:\n")
	for _, f := range features(v.version) {
		mark := "-"
		if f.ok {
			mark = "*"
		}
		fmt.Printf("  [%s] %s\n", mark, f.name)
	}

	if v.version.SerialNumberSupported() {
		if err := robot.SendSerialNumberQuery(); err != nil {
			fmt.Printf("\nSerial number query failed: %v\n", err)
		} else {
			select {
			case serial := <-w.serial:
				fmt.Printf("\nSerial number: %s\n", serial)
			case <-time.After(timeout):
				fmt.Printf("\nTIMEOUT: No serial number received in %ds\n", identifyTimeout)
			}
		}
	}

	if !v.supported {
		fmt.Printf("\nThis robot is not supported (hardware 2.21 or later and firmware other than 5 required)\n")
		robot.Close()
		os.Exit(1)
	}
	return nil
}
