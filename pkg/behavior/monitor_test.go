// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor() (*Monitor, *recRobot, func() []string) {
	robot := &recRobot{}
	m := NewMonitor(robot, nil)
	var mu sync.Mutex
	var lines []string
	m.OnLine(func(s string) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, s)
	})
	take := func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := lines
		lines = nil
		return out
	}
	return m, robot, take
}

// ============================================================
// Monitor Report Tests
// ============================================================

func TestMonitor_PowerNodeState(t *testing.T) {
	m, _, take := newTestMonitor()

	m.PowerNodeState(0x8000)
	assert.Equal(t, []string{"Fwd P/S: */- Aft P/S: -/- Gain: 0"}, take())

	m.PowerNodeState(0x8000)
	assert.Empty(t, take())

	m.PowerNodeState(0x8200)
	assert.Equal(t, []string{"Gain: 2"}, take())

	m.PowerNodeState(0x5300)
	assert.Equal(t, []string{"Fwd P/S: -/* Aft P/S: -/* Gain: 3"}, take())
}

func TestMonitor_SensorNodeState(t *testing.T) {
	m, _, take := newTestMonitor()

	m.SensorNodeState(0xf000)
	assert.Equal(t, []string{"P/S fwd: -/- P/S aft: -/- Ambient: 0"}, take())

	// Fore port floor gone and a wall on the port fore side
	m.SensorNodeState(0x7812)
	assert.Equal(t, []string{
		"CLIFF: Fwd P/S: */- Aft P/S: -/-",
		"P/S fwd: */- P/S aft: -/- Ambient: 18",
	}, take())

	m.SensorNodeState(0x7820)
	assert.Equal(t, []string{"Ambient: 32"}, take())

	m.SensorNodeState(0xf320)
	assert.Equal(t, []string{
		"CLIFF: Fwd P/S: -/- Aft P/S: -/-",
		"P/S fwd: -/- P/S aft: */* Ambient: 32",
	}, take())
}

func TestMonitor_AllStates(t *testing.T) {
	m, _, take := newTestMonitor()
	m.AllStates(0x1000, 0xf000, nil, 3)
	assert.Equal(t, []string{
		"Fwd P/S: -/- Aft P/S: -/* Gain: 0",
		"P/S fwd: -/- P/S aft: -/- Ambient: 0",
	}, take())
}

func TestMonitor_OtherEvents(t *testing.T) {
	m, _, take := newTestMonitor()

	m.TestPointValue(2, true)
	m.TestPointValue(1, false)
	m.TransducerStation('F', 12, 34, true)
	m.TaggingMemory([]byte{0x01, 0xab})
	m.RobotSerialNumber("0012AB")
	m.RobotLinkError(errors.New("device unplugged"))

	assert.Equal(t, []string{
		"Test point 2: high",
		"Test point 1: low",
		"Station 'F': left=12 right=34 PIR=true",
		"Tagging memory: 01 ab",
		"Serial number: 0012AB",
		"Link failed: device unplugged",
	}, take())
}

// ============================================================
// Monitor Setup Tests
// ============================================================

var shortRangeSetup = []string{
	"corner enable true true true true",
	"side enable true true true true",
	"cliff enable true true true true",
	"corner range 1",
	"side range 1",
	"cliff range 1",
}

func TestMonitor_ConfiguresOncePerConnection(t *testing.T) {
	m, robot, take := newTestMonitor()

	// Nothing is configured before the version is known
	m.PowerNodeState(0)
	assert.Empty(t, robot.Calls())

	m.RobotVersion(trackbot.ParseVersion("H02.21F00.06"), true)
	assert.Equal(t, append([]string{"serial"}, shortRangeSetup...), robot.Calls())
	assert.Contains(t, take(), "Version: H02.21F00.06")

	robot.reset()
	m.PowerNodeState(0x8000)
	m.SensorNodeState(0xf000)
	assert.Empty(t, robot.Calls())
	take()

	// A timeout forces setup again on the next state
	m.RobotTimeout(true, 2*time.Second)
	assert.Equal(t, []string{"Timed out after 2s"}, take())
	m.RobotTimeout(false, 2*time.Second)
	assert.Equal(t, []string{"Link resumed"}, take())
	assert.Equal(t, []string{"version"}, robot.Calls())

	robot.reset()
	m.PowerNodeState(0x4000)
	assert.Equal(t, shortRangeSetup, robot.Calls())
}

func TestMonitor_UnsupportedVersion(t *testing.T) {
	m, robot, take := newTestMonitor()
	m.RobotVersion(trackbot.ParseVersion("H02.21F00.05"), false)
	m.PowerNodeState(0)

	assert.Empty(t, robot.Calls())
	assert.Contains(t, take(), "Version: H02.21F00.05")
}

// ============================================================
// Station Poller Tests
// ============================================================

func TestMonitor_StationPoller(t *testing.T) {
	m, robot, _ := newTestMonitor()
	m.StartStationPoller(5 * time.Millisecond)
	m.StartStationPoller(5 * time.Millisecond)

	require.Eventually(t, func() bool {
		return len(robot.Calls()) >= 8
	}, time.Second, 5*time.Millisecond)
	m.Stop()
	m.Stop()

	calls := robot.Calls()
	assert.Equal(t, []string{"station F", "station A", "station P", "station S"}, calls[:4])

	// Nothing is sent after Stop returns
	n := len(calls)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, robot.Calls(), n)
}

func TestMonitor_StopWithoutPoller(t *testing.T) {
	m, _, _ := newTestMonitor()
	m.Stop()
}
