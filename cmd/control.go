// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/trackbot/internal/log"
	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving a TrackBot",
	Long: `Drive a TrackBot from an interactive terminal UI.

Features:
  - Arrow keys drive forward, backward and spin left or right
  - Veers with shift+left/right (forward) and z/x (backward)
  - Digits 1-9 set a fixed track speed, 0 returns to the default speeds
  - Space stops both tracks
  - Live corner, cliff and side sensors
  - Automatic reconnection on link loss

The tracks are braked on every connect, so a robot never resumes a motion
commanded before a reconnect.

Supports serial, WebSocket and simulated connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// connectionManager handles robot lifecycle and reconnection
type connectionManager struct {
	robot    *trackbot.Robot
	driver   *behavior.Driver
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
}

func (cm *connectionManager) getDriver() *behavior.Driver {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.driver
}

func (cm *connectionManager) getRobot() *trackbot.Robot {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.robot
}

func (cm *connectionManager) setRobot(robot *trackbot.Robot, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.robot = robot
	cm.driver = behavior.NewDriver(robot.Motors(), log.L())
	cm.connInfo = connInfo
}

// attach forwards the robot events of the current robot into the TUI
func (cm *connectionManager) attach() {
	robot := cm.getRobot()
	robot.Events().AddListener(programListener{p: cm.p})
	requery(robot)
}

func runControl(cmd *cobra.Command, args []string) error {
	robot, connInfo, err := ConnectRobot(0)
	if err != nil {
		return err
	}

	cm := &connectionManager{done: make(chan struct{})}
	cm.setRobot(robot, connInfo)

	m := initialControlModel(cm, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p
	cm.attach()

	go cm.watchLoop()

	_, err = p.Run()
	close(cm.done) // Signal goroutines to stop
	cm.mu.RLock()
	if cm.driver != nil {
		cm.driver.Go(behavior.Stop)
	}
	if cm.robot != nil {
		cm.robot.Close()
	}
	cm.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// watchLoop reconnects whenever the current link stops
func (cm *connectionManager) watchLoop() {
	for {
		robot := cm.getRobot()
		select {
		case <-cm.done:
			return
		case <-robot.Link().Done():
		}

		select {
		case <-cm.done:
			return
		default:
		}

		cm.p.Send(connectionLostMsg{err: robot.Link().Err()})
		if !cm.reconnect() {
			return // Shutdown requested during reconnect
		}
	}
}

// reconnect attempts to reconnect with exponential backoff
// Returns false if shutdown was requested during reconnection
func (cm *connectionManager) reconnect() bool {
	cm.getRobot().Close()

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		robot, connInfo, err := ConnectRobot(0)
		if err == nil {
			select {
			case <-cm.done:
				robot.Close()
				return false
			default:
			}
			cm.setRobot(robot, connInfo)
			cm.attach()
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}
		log.Debug("reconnect failed", "error", err, "backoff", backoff)

		// Exponential backoff
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
