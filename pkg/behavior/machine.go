// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// State is a behavior state. Each layer numbers its own states on top of the
// layer it wraps.
type State int

// States shared by every behavior
const (
	StateStopped State = 0
	StateRunaway State = 1
)

// Behavior is one state machine
type Behavior interface {
	// Name identifies the behavior in logs
	Name() string
	// State returns the current state
	State() State
	// StateName returns a display name for s
	StateName(s State) string
	// ChooseNextState moves to the next state for snap and returns it. It
	// never commands the motors.
	ChooseNextState(snap Snapshot) State
	// RunState commands the motors for the current state
	RunState(snap Snapshot, m Mover)
}

func stateName(names []string, s State) string {
	if s < 0 || int(s) >= len(names) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return names[s]
}

// Observer receives state changes and motor commands from a Runner
type Observer interface {
	Transition(name string, from, to State, snap Snapshot)
	Command(dir Direction, speed int)
}

// Observers fans out to several observers
type Observers []Observer

func (o Observers) Transition(name string, from, to State, snap Snapshot) {
	for _, x := range o {
		x.Transition(name, from, to, snap)
	}
}

func (o Observers) Command(dir Direction, speed int) {
	for _, x := range o {
		x.Command(dir, speed)
	}
}

// SensorConfigurer is the part of *trackbot.Robot used to set up the sensors
// when a robot identifies itself
type SensorConfigurer interface {
	SendVersionQuery() error
	SendSerialNumberQuery() error
	EnableCornerSensors(aftStarboard, aftPort, foreStarboard, forePort bool) error
	EnableSideSensors(starboardAft, portAft, starboardFore, portFore bool) error
	EnableCliffSensors(aftStarboard, aftPort, foreStarboard, forePort bool) error
	SetCornerSensorRange(rng int) error
	SetSideSensorRange(rng int) error
	SetCliffSensorRange(rng int) error
	SetCornerSensorPingInterval(ms int) error
	SetSideAndCliffSensorPingInterval(ms int) error
}

// Runner drives a Behavior from robot events. Register it with
// Events.AddListener. Ticks never overlap.
type Runner struct {
	trackbot.BaseListener

	behavior Behavior
	robot    SensorConfigurer
	driver   *Driver
	log      *slog.Logger

	mu       sync.Mutex
	observer Observer
	power    int
	sensor   int
	beacons  trackbot.BeaconMatrix
	id       int
	ticks    uint64
}

// NewRobotRunner wires b to a connected robot
func NewRobotRunner(b Behavior, robot *trackbot.Robot, logger *slog.Logger) *Runner {
	return NewRunner(b, robot, robot.Motors(), logger)
}

// NewRunner creates a runner that commands motors and configures sensors
// through robot
func NewRunner(b Behavior, robot SensorConfigurer, motors MotorController, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		behavior: b,
		robot:    robot,
		driver:   NewDriver(motors, logger),
		log:      logger.With("component", "behavior", "behavior", b.Name()),
		power:    -1,
		sensor:   -1,
	}
	r.driver.OnCommand(r.command)
	return r
}

// SetObserver installs o. Pass nil to remove it.
func (r *Runner) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Behavior returns the behavior being run
func (r *Runner) Behavior() Behavior { return r.behavior }

// Driver returns the motor driver
func (r *Runner) Driver() *Driver { return r.driver }

// Ticks returns how many ticks have run
func (r *Runner) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Snapshot returns the latest sensor state
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Runner) snapshot() Snapshot {
	return Snapshot{Power: r.power, Sensor: r.sensor, Beacons: &r.beacons, ID: r.id}
}

// PowerNodeState ticks when the corner state changed
func (r *Runner) PowerNodeState(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == r.power {
		return
	}
	r.power = state
	r.tick()
}

// SensorNodeState ticks when the side or cliff state changed
func (r *Runner) SensorNodeState(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == r.sensor {
		return
	}
	r.sensor = state
	r.tick()
}

// AllStates always ticks
func (r *Runner) AllStates(power, sensor int, beacons *trackbot.BeaconMatrix, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power = power
	r.sensor = sensor
	if beacons != nil {
		r.beacons = *beacons
	} else {
		r.beacons = trackbot.BeaconMatrix{}
	}
	r.id = id
	r.tick()
}

// tick runs one step. Ticks wait until both node states are known. r.mu is
// held.
func (r *Runner) tick() {
	if r.power < 0 || r.sensor < 0 {
		return
	}
	snap := r.snapshot()
	from := r.behavior.State()
	to := r.behavior.ChooseNextState(snap)
	if to != from {
		r.log.Debug("state change",
			"from", r.behavior.StateName(from),
			"to", r.behavior.StateName(to),
			"snapshot", snap.String())
		if r.observer != nil {
			r.observer.Transition(r.behavior.Name(), from, to, snap)
		}
	}
	r.behavior.RunState(snap, r.driver)
	r.ticks++
}

// command forwards driver commands to the observer. It runs inside tick.
func (r *Runner) command(dir Direction, speed int) {
	if r.observer != nil {
		r.observer.Command(dir, speed)
	}
}

// RobotVersion configures the sensors for the robot that answered
func (r *Runner) RobotVersion(v trackbot.VersionInfo, supported bool) {
	r.log.Info("robot version", "version", v.String())
	if !supported {
		r.log.Error("robot version is unsupported", "version", v.String())
		return
	}
	configureSensors(r.robot, v, r.log, sensorProfile{corner: 2, side: 3, cliff: 1, ping: 25})
}

// RobotTimeout re-queries the version on resume since the robot may have been
// swapped
func (r *Runner) RobotTimeout(timedOut bool, timeout time.Duration) {
	if timedOut {
		r.log.Warn("robot timed out", "timeout", timeout)
		return
	}
	r.log.Info("robot link resumed")
	if err := r.robot.SendVersionQuery(); err != nil {
		r.log.Warn("version query not queued", "error", err)
	}
}

// RobotLinkError logs the fatal link error
func (r *Runner) RobotLinkError(err error) {
	r.log.Error("robot link failed", "error", err)
}

// sensorProfile holds the ranges and ping interval set on connect. A zero
// ping leaves the interval alone.
type sensorProfile struct {
	corner, side, cliff int
	ping                int
}

func configureSensors(robot SensorConfigurer, v trackbot.VersionInfo, log *slog.Logger, p sensorProfile) {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if v.SerialNumberSupported() {
		add(robot.SendSerialNumberQuery())
	}
	if v.IREnableSupported() {
		add(robot.EnableCornerSensors(true, true, true, true))
		add(robot.EnableSideSensors(true, true, true, true))
		add(robot.EnableCliffSensors(true, true, true, true))
	}
	if v.RangingSupported() {
		add(robot.SetCornerSensorRange(p.corner))
		add(robot.SetSideSensorRange(p.side))
		add(robot.SetCliffSensorRange(p.cliff))
	}
	if p.ping > 0 && v.IRPingIntervalSupported() {
		add(robot.SetCornerSensorPingInterval(p.ping))
		add(robot.SetSideAndCliffSensorPingInterval(p.ping))
	}
	for _, err := range errs {
		log.Warn("sensor setup command not queued", "error", err)
	}
}

// Halt brakes both tracks outside of a tick
func (r *Runner) Halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.driver.Go(Stop)
}
