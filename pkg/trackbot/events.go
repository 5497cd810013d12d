// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BeaconMatrix is the cross-robot beacon grid. Row is the other robot's ID,
// column is one of this robot's IR sensors, and each cell is the OR of the
// other robot's emitter bits seen by that sensor.
type BeaconMatrix [MaxTrackBots][BeaconSensors]uint8

// Row reports whether any sensor saw robot id
func (m *BeaconMatrix) Row(id int) bool {
	if m == nil || id < 0 || id >= MaxTrackBots {
		return false
	}
	for _, cell := range m[id] {
		if cell != 0 {
			return true
		}
	}
	return false
}

// EventListener receives decoded robot events
type EventListener interface {
	PowerNodeState(state int)
	SensorNodeState(state int)
	// AllStates carries a combined simulation update. beacons is owned by the
	// caller for the duration of the call.
	AllStates(power, sensor int, beacons *BeaconMatrix, id int)
	TestPointValue(testPoint int, high bool)
	TransducerStation(site byte, left, right int, pir bool)
	TaggingMemory(data []byte)
	RobotVersion(version VersionInfo, supported bool)
	RobotSerialNumber(serial string)
	RobotTimeout(timedOut bool, timeout time.Duration)
	RobotLinkError(err error)
}

// BaseListener implements EventListener with no-ops. Embed it to handle only
// the events you need.
type BaseListener struct{}

func (BaseListener) PowerNodeState(int) {}
func (BaseListener) SensorNodeState(int) {}
func (BaseListener) AllStates(int, int, *BeaconMatrix, int) {}
func (BaseListener) TestPointValue(int, bool) {}
func (BaseListener) TransducerStation(byte, int, int, bool) {}
func (BaseListener) TaggingMemory([]byte) {}
func (BaseListener) RobotVersion(VersionInfo, bool) {}
func (BaseListener) RobotSerialNumber(string) {}
func (BaseListener) RobotTimeout(bool, time.Duration) {}
func (BaseListener) RobotLinkError(error) {}

// Events decodes inbound frames into robot events and fans them out. It is the
// link's listener.
type Events struct {
	log    *slog.Logger
	poller *SensorPoller

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]EventListener]

	mu          sync.Mutex
	powerState  int
	sensorState int
	version     VersionInfo
	cliffMask   int
	powerWait   chan struct{}
	sensorWait  chan struct{}
	unhandled   atomic.Uint64
}

// NewEvents creates the event decoder and installs it as the link listener. A
// non-negative pollInterval starts a sensor poller.
func NewEvents(link *Link, pollInterval time.Duration, logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Events{
		log:         logger.With("component", "events"),
		powerState:  -1,
		sensorState: -1,
		version:     VersionInfo{Hardware: -1, Firmware: -1},
		cliffMask:   SensorCliffs,
		powerWait:   make(chan struct{}),
		sensorWait:  make(chan struct{}),
	}
	empty := []EventListener{}
	e.listeners.Store(&empty)
	link.SetListener(e)
	if pollInterval >= 0 {
		e.poller = NewSensorPoller(link, pollInterval)
		e.poller.Start()
	}
	return e
}

// AddListener registers l. Listeners are notified last-registered first.
func (e *Events) AddListener(l EventListener) {
	if l == nil {
		panic("trackbot: nil EventListener")
	}
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	old := *e.listeners.Load()
	next := make([]EventListener, len(old), len(old)+1)
	copy(next, old)
	next = append(next, l)
	e.listeners.Store(&next)
}

// RemoveListener unregisters l
func (e *Events) RemoveListener(l EventListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	old := *e.listeners.Load()
	next := make([]EventListener, 0, len(old))
	for _, x := range old {
		if x != l {
			next = append(next, x)
		}
	}
	e.listeners.Store(&next)
}

func (e *Events) each(fn func(EventListener)) {
	ls := *e.listeners.Load()
	for i := len(ls) - 1; i >= 0; i-- {
		fn(ls[i])
	}
}

// StopPolling stops the sensor poller, if any
func (e *Events) StopPolling() {
	if e.poller != nil {
		e.poller.Stop()
	}
}

// Poller returns the sensor poller, or nil when polling is disabled
func (e *Events) Poller() *SensorPoller {
	return e.poller
}

// PowerNodeState returns the last power node state, or -1
func (e *Events) PowerNodeState() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.powerState
}

// SensorNodeState returns the last raw sensor node state, or -1
func (e *Events) SensorNodeState() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sensorState
}

// VersionInfo returns the last version, or false if none has arrived
func (e *Events) VersionInfo() (VersionInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version, e.version.Known()
}

// CliffMask returns the cliff bits still believed absent
func (e *Events) CliffMask() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cliffMask
}

// UnhandledCount returns the number of frames that matched no event
func (e *Events) UnhandledCount() uint64 {
	return e.unhandled.Load()
}

// WaitForPowerNodeEvent blocks until the next power node event
func (e *Events) WaitForPowerNodeEvent(ctx context.Context) (int, error) {
	e.mu.Lock()
	ch := e.powerWait
	e.mu.Unlock()
	select {
	case <-ch:
		return e.PowerNodeState(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// WaitForSensorNodeEvent blocks until the next sensor node event
func (e *Events) WaitForSensorNodeEvent(ctx context.Context) (int, error) {
	e.mu.Lock()
	ch := e.sensorWait
	e.mu.Unlock()
	select {
	case <-ch:
		return e.SensorNodeState(), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// adjustCliffSensors forces cliff bits that have never reported "no floor" to
// read as floor present. Must be called with e.mu held.
func (e *Events) adjustCliffSensors(state int) int {
	if e.cliffMask == 0 {
		return state
	}
	before := e.cliffMask
	e.cliffMask &= ^state & SensorCliffs
	if found := before ^ e.cliffMask; found != 0 {
		e.log.Debug("detected cliff sensors", "sensors", cliffNames(found))
	}
	return state | e.cliffMask
}

func cliffNames(bits int) string {
	var names []string
	if bits&CliffForePort != 0 {
		names = append(names, "fore port")
	}
	if bits&CliffForeStarboard != 0 {
		names = append(names, "fore starboard")
	}
	if bits&CliffAftPort != 0 {
		names = append(names, "aft port")
	}
	if bits&CliffAftStarboard != 0 {
		names = append(names, "aft starboard")
	}
	return strings.Join(names, ", ")
}

// MessageReceived implements LinkListener
func (e *Events) MessageReceived(f Frame) {
	if !e.decode(f) {
		e.unhandled.Add(1)
	}
}

// decode dispatches one frame; it reports whether the frame was recognized
func (e *Events) decode(f Frame) bool {
	if len(f) < 2 {
		return false
	}

	switch f[0] {
	case QueryByte:
		switch f[1] {
		case 'A':
			return e.decodeAllStates(f)
		case 'P':
			if len(f) != nodeStateFrameLen {
				return false
			}
			state, ok := parseHex(f[2:6])
			if !ok {
				return false
			}
			e.firePowerNodeState(state)
			return true
		case 'S':
			if len(f) != nodeStateFrameLen {
				return false
			}
			state, ok := parseHex(f[2:6])
			if !ok {
				return false
			}
			e.fireSensorNodeState(state)
			return true
		case 'V':
			if len(f) != versionFrameLen {
				return false
			}
			e.fireVersion(string(f[2:14]))
			return true
		case 'T':
			return e.decodeTestPointOrTransducer(f)
		case 'C':
			if len(f) == serialNumberLen && f[2] == 'S' {
				serial := string(f[3:7])
				e.each(func(l EventListener) { l.RobotSerialNumber(serial) })
				return true
			}
		}
	case CommandByte:
		if f[1] == 'C' && len(f) >= 3 && f[2] == 'M' {
			data := make([]byte, len(f)-3)
			copy(data, f[3:])
			e.each(func(l EventListener) { l.TaggingMemory(data) })
			return true
		}
	}
	return false
}

func (e *Events) decodeAllStates(f Frame) bool {
	if len(f) != allStatesFrameLen {
		return false
	}
	p, ok1 := parseHex(f[2:6])
	s, ok2 := parseHex(f[6:10])
	if !ok1 || !ok2 {
		return false
	}
	id := int(f[10])
	var beacons BeaconMatrix
	for i := 0; i < MaxTrackBots; i++ {
		copy(beacons[i][:], f[11+i*BeaconSensors:11+(i+1)*BeaconSensors])
	}

	e.mu.Lock()
	e.powerState = p
	e.sensorState = s
	adjusted := e.adjustCliffSensors(s)
	e.mu.Unlock()

	e.each(func(l EventListener) { l.AllStates(p, adjusted, &beacons, id) })
	return true
}

func (e *Events) decodeTestPointOrTransducer(f Frame) bool {
	switch len(f) {
	case testPointFrameLen:
		d1, d2, d3 := int(f[2])-'0', int(f[3])-'0', int(f[4])-'0'
		if d1 < 0 || d1 > 9 || d2 < 0 || d2 > 9 || d3 < 0 || d3 > 9 {
			return false
		}
		tp := d1*100 + d2*10 + d3
		switch f[5] {
		case 'H':
			e.each(func(l EventListener) { l.TestPointValue(tp, true) })
		case 'L':
			e.each(func(l EventListener) { l.TestPointValue(tp, false) })
		default:
			return false
		}
		return true
	case transducerLen:
		site := f[2]
		switch site {
		case SiteFore, SiteAft, SitePort, SiteStarboard:
		default:
			return false
		}
		right, left, pir := hexDigit(f[3]), hexDigit(f[4]), hexDigit(f[5])
		if right < 0 || left < 0 || pir < 0 || hexDigit(f[6]) < 0 {
			return false
		}
		e.each(func(l EventListener) { l.TransducerStation(site, left, right, pir&0x8 == 0) })
		return true
	}
	return false
}

func (e *Events) firePowerNodeState(state int) {
	e.mu.Lock()
	e.powerState = state
	close(e.powerWait)
	e.powerWait = make(chan struct{})
	e.mu.Unlock()

	e.each(func(l EventListener) { l.PowerNodeState(state) })
}

func (e *Events) fireSensorNodeState(state int) {
	e.mu.Lock()
	e.sensorState = state
	adjusted := e.adjustCliffSensors(state)
	close(e.sensorWait)
	e.sensorWait = make(chan struct{})
	e.mu.Unlock()

	e.each(func(l EventListener) { l.SensorNodeState(adjusted) })
}

func (e *Events) fireVersion(s string) {
	v := ParseVersion(s)
	supported := v.Supported()

	e.mu.Lock()
	e.version = v
	e.mu.Unlock()

	e.log.Debug("robot version", "version", s, "supported", supported)
	e.each(func(l EventListener) { l.RobotVersion(v, supported) })
}

// TimeoutStatus implements LinkListener
func (e *Events) TimeoutStatus(timedOut bool, timeout time.Duration) {
	if timedOut {
		// The robot may have been swapped while silent
		e.mu.Lock()
		e.cliffMask = SensorCliffs
		e.mu.Unlock()
		if e.poller != nil {
			e.poller.Suspend()
		}
	} else if e.poller != nil {
		e.poller.Resume()
	}
	e.each(func(l EventListener) { l.RobotTimeout(timedOut, timeout) })
}

// InputError implements LinkListener
func (e *Events) InputError(err error) {
	e.log.Warn("link input error", "error", err)
	e.StopPolling()
	e.each(func(l EventListener) { l.RobotLinkError(err) })
}

// OutputError implements LinkListener
func (e *Events) OutputError(err error) {
	e.log.Warn("link output error", "error", err)
	e.StopPolling()
	e.each(func(l EventListener) { l.RobotLinkError(err) })
}

// SensorPoller queues power and sensor node queries at a fixed interval
type SensorPoller struct {
	link     *Link
	interval time.Duration

	suspended atomic.Bool
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
}

var (
	queryPowerNode  = MustNewFrame(QueryByte, "P")
	querySensorNode = MustNewFrame(QueryByte, "S")
)

// NewSensorPoller creates a stopped poller
func NewSensorPoller(link *Link, interval time.Duration) *SensorPoller {
	if interval <= 0 {
		interval = DefaultSensorPollInterval
	}
	return &SensorPoller{
		link:     link,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling
func (p *SensorPoller) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Suspend skips polls until Resume
func (p *SensorPoller) Suspend() { p.suspended.Store(true) }

// Resume restarts polling after Suspend
func (p *SensorPoller) Resume() { p.suspended.Store(false) }

// Suspended reports whether polling is suspended
func (p *SensorPoller) Suspended() bool { return p.suspended.Load() }

// Stop ends polling and waits for the poller to exit
func (p *SensorPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

func (p *SensorPoller) run() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.link.Done():
			return
		case <-ticker.C:
			if !p.suspended.Load() {
				p.link.Queue(queryPowerNode)
				p.link.Queue(querySensorNode)
			}
		}
	}
}
