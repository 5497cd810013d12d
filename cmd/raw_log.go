// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/internal/log"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

var rawLogPoll time.Duration

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display TrackBot frames as they arrive.

Every inbound frame is printed with a timestamp, its kind and decoded sensor
fields. ACK and NAK bytes and input overflows are shown on their own lines.

The robot only speaks when spoken to. With --poll the command alternates
?P and ?S queries at the given interval; without it the log is passive,
which is useful when another host drives the robot through a shared bridge.

Supports serial, WebSocket and simulator connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogPoll, "poll", 0, "Query interval for power and sensor state (0 = passive)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("TrackBot - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogPoll > 0 {
		go pollRaw(conn, rawLogPoll)
	}

	decoder := trackbot.NewDecoder(trackbot.AllStatesFrameLen)
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A closed transport is the normal way out
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Info("connection closed")
				return nil
			}
			log.Warn("read error", "error", err)
			continue
		}

		for i := 0; i < n; i++ {
			tok := decoder.DecodeByte(buf[i])
			ts := time.Now().Format("15:04:05.000")
			switch tok.Kind {
			case trackbot.TokenAck:
				fmt.Printf("[%s] ACK\n", ts)
			case trackbot.TokenNak:
				fmt.Printf("[%s] NAK\n", ts)
			case trackbot.TokenOverflow:
				fmt.Printf("[%s] [ERROR] input overflow, frame dropped\n", ts)
			case trackbot.TokenFrame:
				fmt.Print(trackbot.FormatFrame(tok.Frame, time.Now()))
			}
		}
	}
}

// pollRaw writes power and sensor queries until the connection fails
func pollRaw(w io.Writer, interval time.Duration) {
	queries := [][]byte{[]byte("?P\r"), []byte("?S\r")}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		<-ticker.C
		if _, err := w.Write(queries[i%len(queries)]); err != nil {
			log.Debug("poll write failed", "error", err)
			return
		}
	}
}
