// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// frameLog records queued motor frames without the terminator
type frameLog struct {
	mu     sync.Mutex
	frames []string
}

func (l *frameLog) QueueFrame(f trackbot.Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, strings.TrimSuffix(string(f), "\r"))
	return nil
}

// take returns and clears the recorded frames
func (l *frameLog) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.frames
	l.frames = nil
	return out
}

func newTestDriver() (*Driver, *frameLog) {
	log := &frameLog{}
	return NewDriver(trackbot.NewMotors(log), nil), log
}

// recMover records moves as "go <dir>" or "speed <dir> <n>"
type recMover struct {
	last  Direction
	calls []string
}

func (m *recMover) Go(dir Direction) {
	m.calls = append(m.calls, "go "+dir.String())
	m.last = dir
}

func (m *recMover) GoSpeed(dir Direction, speed int) {
	m.calls = append(m.calls, fmt.Sprintf("speed %s %d", dir, speed))
	m.last = dir
}

func (m *recMover) LastDirection() Direction { return m.last }

// recRobot records sensor setup calls
type recRobot struct {
	mu    sync.Mutex
	calls []string
}

func (r *recRobot) add(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

func (r *recRobot) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recRobot) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recRobot) SendVersionQuery() error      { return r.add("version") }
func (r *recRobot) SendSerialNumberQuery() error { return r.add("serial") }
func (r *recRobot) EnableCornerSensors(a, b, c, d bool) error {
	return r.add("corner enable %t %t %t %t", a, b, c, d)
}
func (r *recRobot) EnableSideSensors(a, b, c, d bool) error {
	return r.add("side enable %t %t %t %t", a, b, c, d)
}
func (r *recRobot) EnableCliffSensors(a, b, c, d bool) error {
	return r.add("cliff enable %t %t %t %t", a, b, c, d)
}
func (r *recRobot) SetCornerSensorRange(rng int) error    { return r.add("corner range %d", rng) }
func (r *recRobot) SetSideSensorRange(rng int) error      { return r.add("side range %d", rng) }
func (r *recRobot) SetCliffSensorRange(rng int) error     { return r.add("cliff range %d", rng) }
func (r *recRobot) SetCornerSensorPingInterval(ms int) error {
	return r.add("corner ping %d", ms)
}
func (r *recRobot) SetSideAndCliffSensorPingInterval(ms int) error {
	return r.add("side ping %d", ms)
}
func (r *recRobot) SendTransducerStationQuery(site byte) error {
	return r.add("station %c", site)
}

func testRng() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

// clearSnap is a snapshot with every cliff sensor on the floor and nothing seen
func clearSnap() Snapshot {
	return Snapshot{Power: 0, Sensor: trackbot.SensorCliffs}
}

func snap(power, sensor int) Snapshot {
	return Snapshot{Power: power, Sensor: sensor}
}

// beaconSnap builds a snapshot for robot id with beacon cells set by fn
func beaconSnap(id, power, sensor int, fn func(m *trackbot.BeaconMatrix)) Snapshot {
	var m trackbot.BeaconMatrix
	if fn != nil {
		fn(&m)
	}
	return Snapshot{Power: power, Sensor: sensor, Beacons: &m, ID: id}
}

func requireValid(t *testing.T, d Direction) {
	t.Helper()
	if !d.Valid() {
		t.Fatalf("direction %v is not valid", d)
	}
}

// keySnap builds a snapshot whose combined key is key, with the floor present
func keySnap(key int) Snapshot {
	return snap((key&0x0f)<<12, trackbot.SensorCliffs|(key&0xf0)<<4)
}
