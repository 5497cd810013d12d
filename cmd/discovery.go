// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "List serial ports a robot radio may be attached to",
	Long: `List the serial ports on this host.

USB ports are shown with their vendor and product IDs and serial number when
the platform reports them. Pass a port to the other commands with --port.

Examples:
  trackbot discovery
  trackbot probe --port /dev/ttyUSB0`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	fmt.Printf("TrackBot - Serial Port Discovery\n\n")

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Fall back to plain names when USB details are unavailable
		names, err := serial.GetPortsList()
		if err != nil {
			return fmt.Errorf("failed to list serial ports: %w", err)
		}
		for _, name := range names {
			fmt.Printf("  %s\n", name)
		}
		fmt.Printf("\nPorts found: %d\n", len(names))
		return nil
	}

	for _, port := range details {
		if port.IsUSB {
			fmt.Printf("  %s  USB %s:%s", port.Name, port.VID, port.PID)
			if port.SerialNumber != "" {
				fmt.Printf("  serial %s", port.SerialNumber)
			}
			if port.Product != "" {
				fmt.Printf("  %s", port.Product)
			}
			fmt.Println()
		} else {
			fmt.Printf("  %s\n", port.Name)
		}
	}
	fmt.Printf("\nPorts found: %d\n", len(details))
	return nil
}
