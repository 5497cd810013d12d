// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// DefaultStationPollInterval is how often the monitor queries the transducer
// stations
const DefaultStationPollInterval = 250 * time.Millisecond

// MonitorRobot is the part of *trackbot.Robot the monitor uses
type MonitorRobot interface {
	SensorConfigurer
	SendTransducerStationQuery(site byte) error
}

// Monitor reports sensor changes without driving. It configures every sensor
// at short range once per connection and polls the transducer stations.
type Monitor struct {
	trackbot.BaseListener

	robot MonitorRobot
	log   *slog.Logger

	mu         sync.Mutex
	onLine     func(string)
	version    trackbot.VersionInfo
	hasVersion bool
	configured bool
	power      int
	sensor     int

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewMonitor creates a monitor for robot
func NewMonitor(robot MonitorRobot, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		robot:  robot,
		log:    logger.With("component", "monitor"),
		power:  -1,
		sensor: -1,
	}
}

// OnLine sets a hook that receives every report line
func (m *Monitor) OnLine(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLine = fn
}

// StartStationPoller queries the four transducer stations every interval
// until Stop
func (m *Monitor) StartStationPoller(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.pollStations(interval, m.stop, m.done)
}

func (m *Monitor) pollStations(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, site := range []byte{trackbot.SiteFore, trackbot.SiteAft, trackbot.SitePort, trackbot.SiteStarboard} {
				if err := m.robot.SendTransducerStationQuery(site); err != nil {
					m.log.Debug("station query not queued", "site", string(site), "error", err)
				}
			}
		}
	}
}

// Stop ends station polling
func (m *Monitor) Stop() {
	m.once.Do(func() {
		m.mu.Lock()
		stop, done := m.stop, m.done
		m.mu.Unlock()
		if stop != nil {
			close(stop)
			<-done
		}
	})
}

func (m *Monitor) emit(line string) {
	m.log.Info(line)
	if m.onLine != nil {
		m.onLine(line)
	}
}

// mark renders one bit as '*' when set and '-' when clear
func mark(state, bit int) byte {
	if state&(1<<bit) == 0 {
		return '-'
	}
	return '*'
}

func pair(label string, state, portBit, starBit int) string {
	return fmt.Sprintf("%s P/S: %c/%c", label, mark(state, portBit), mark(state, starBit))
}

// AllStates reports the node states carried by a simulator update
func (m *Monitor) AllStates(power, sensor int, _ *trackbot.BeaconMatrix, _ int) {
	m.PowerNodeState(power)
	m.SensorNodeState(sensor)
}

// PowerNodeState reports changed corner sensors and gain
func (m *Monitor) PowerNodeState(state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureLocked()
	if state == m.power {
		return
	}
	old := m.power
	m.power = state

	gain := fmt.Sprintf("Gain: %d", (state>>8)&0x03)
	if old&0xf000 != state&0xf000 {
		m.emit(pair("Fwd", state, 15, 14) + " " + pair("Aft", state, 13, 12) + " " + gain)
		return
	}
	m.emit(gain)
}

// SensorNodeState reports changed cliff and side sensors and ambient light
func (m *Monitor) SensorNodeState(state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureLocked()
	if state == m.sensor {
		return
	}
	old := m.sensor
	m.sensor = state

	if old&0xf000 != state&0xf000 {
		// Cliff bits read 1 when the floor is there
		m.emit("CLIFF: " + pair("Fwd", ^state, 15, 14) + " " + pair("Aft", ^state, 13, 12))
	}
	ambient := fmt.Sprintf("Ambient: %d", state&0xff)
	if old&0x0f00 != state&0x0f00 {
		var b strings.Builder
		b.WriteString(fmt.Sprintf("P/S fwd: %c/%c", mark(state, 11), mark(state, 10)))
		b.WriteString(fmt.Sprintf(" P/S aft: %c/%c", mark(state, 9), mark(state, 8)))
		b.WriteString(" " + ambient)
		m.emit(b.String())
		return
	}
	m.emit(ambient)
}

// TestPointValue reports a test point reading
func (m *Monitor) TestPointValue(testPoint int, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level := "low"
	if high {
		level = "high"
	}
	m.emit(fmt.Sprintf("Test point %d: %s", testPoint, level))
}

// TransducerStation reports a transducer station reading
func (m *Monitor) TransducerStation(site byte, left, right int, pir bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit(fmt.Sprintf("Station '%c': left=%d right=%d PIR=%t", site, left, right, pir))
}

// TaggingMemory reports tagging memory contents
func (m *Monitor) TaggingMemory(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit(fmt.Sprintf("Tagging memory: % x", data))
}

// RobotSerialNumber reports the serial number
func (m *Monitor) RobotSerialNumber(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit("Serial number: " + serial)
}

// RobotVersion queries the serial number and configures the sensors
func (m *Monitor) RobotVersion(v trackbot.VersionInfo, supported bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit("Version: " + v.String())
	if !supported {
		m.log.Error("robot version is unsupported", "version", v.String())
		return
	}
	if v.SerialNumberSupported() {
		if err := m.robot.SendSerialNumberQuery(); err != nil {
			m.log.Warn("serial number query not queued", "error", err)
		}
	}
	m.version, m.hasVersion = v, true
	m.configureLocked()
}

// configureLocked sets up the sensors once per connection. m.mu is held.
func (m *Monitor) configureLocked() {
	if !m.hasVersion || m.configured {
		return
	}
	// The serial number was already queried by RobotVersion
	configureSensors(noSerial{m.robot}, m.version, m.log, sensorProfile{corner: 1, side: 1, cliff: 1})
	m.configured = true
}

// RobotTimeout forces reconfiguration after a timeout and re-queries the
// version on resume
func (m *Monitor) RobotTimeout(timedOut bool, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timedOut {
		m.configured = false
		m.emit(fmt.Sprintf("Timed out after %s", timeout))
		return
	}
	m.emit("Link resumed")
	if err := m.robot.SendVersionQuery(); err != nil {
		m.log.Warn("version query not queued", "error", err)
	}
}

// RobotLinkError reports the fatal link error
func (m *Monitor) RobotLinkError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit("Link failed: " + err.Error())
}

// noSerial drops the serial number query from sensor setup
type noSerial struct {
	MonitorRobot
}

func (noSerial) SendSerialNumberQuery() error { return nil }
