// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/internal/config"
	"github.com/Thermoquad/trackbot/internal/log"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	useSim     bool
	configPath string
	logLevel   string

	// cfg is the merged configuration: defaults, file, environment, flags
	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "trackbot",
	Short: "TrackBot control and diagnostics",
	Long: `TrackBot - A CLI tool for driving and diagnosing TrackBot robots.

Talks to the robot firmware over its ASCII serial protocol: one frame in
flight at a time, each answered by an ACK or NAK byte. Provides raw frame
logging, link tests, a sensor monitor, manual driving and the autonomous
behaviors.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 19200]
  WebSocket: --url ws://host/path [--username user]
  Simulator: --sim

Settings can also come from a YAML file (--config) and TRACKBOT_* environment
variables. Flags win over both.

For WebSocket authentication, the password is read from the TRACKBOT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 19200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "admin", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Connect to a simulated robot")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

// loadConfig merges the config file, environment and explicitly set flags
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Connection.Port = portName
	}
	if flags.Changed("baud") {
		c.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		c.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		c.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Connection.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("sim") {
		c.Connection.Sim = useSim
	}
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if err := c.Validate(); err != nil {
		return err
	}

	cfg = c
	log.Init(cfg.Log.Level)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
