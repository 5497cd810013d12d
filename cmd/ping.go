// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure version query round trips",
	Long: `Send version queries to the robot and time each version frame.

Each query goes through the link engine, so it is ACKed before the version
frame comes back. This is useful for verifying:
  - The serial port or WebSocket bridge carries traffic both ways
  - The robot firmware answers queries
  - Round trip times stay low over a lossy radio link

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	w := newVersionWaiter()
	robot, connInfo, err := ConnectRobot(-1, w)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer robot.Close()

	fmt.Printf("TrackBot - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	// Connecting already queued one version query
	select {
	case <-w.version:
	case <-time.After(time.Duration(pingTimeout) * time.Second):
	}

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := robot.SendVersionQuery(); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case v := <-w.version:
			rtt := time.Since(startTime)
			total += rtt
			fmt.Printf("version=%s, rtt=%v\n", v.version, rtt.Round(time.Millisecond))
			successCount++

		case err := <-w.failed:
			fmt.Printf("LINK FAILED: %v\n", err)
			failCount += pingCount - i + 1
			i = pingCount

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v, NAKs=%d\n", (total / time.Duration(successCount)).Round(time.Millisecond), robot.Link().NakCount())
	}

	if failCount > 0 {
		robot.Close()
		os.Exit(1)
	}
	return nil
}
