// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"log/slog"
	"sync"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// MotorController is the part of *trackbot.Motors a Driver uses
type MotorController interface {
	GoForward(motor byte, speed int) error
	GoReverse(motor byte, speed int) error
	Brake(motor byte) error
	LastSpeed(motor byte) int
	LastDirection(motor byte) int
}

// Mover turns whole-robot directions into track commands
type Mover interface {
	// Go moves at the default speeds for dir. Veers drive the tracks at
	// different speeds.
	Go(dir Direction)
	// GoSpeed moves with both tracks at speed. Veers become straight runs.
	GoSpeed(dir Direction, speed int)
	// LastDirection returns the last direction commanded
	LastDirection() Direction
}

// Driver is the Mover over a MotorController. It skips commands that would
// not change a track and brakes a track before reversing or slowing it.
type Driver struct {
	motors MotorController
	log    *slog.Logger

	mu        sync.Mutex
	last      Direction
	onCommand func(dir Direction, speed int)
}

// NewDriver creates a driver for motors
func NewDriver(motors MotorController, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{motors: motors, log: logger.With("component", "driver")}
}

// OnCommand sets a hook called after every direction change request
func (d *Driver) OnCommand(fn func(dir Direction, speed int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCommand = fn
}

// LastDirection returns the last direction commanded
func (d *Driver) LastDirection() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Go moves in dir at the default speeds
func (d *Driver) Go(dir Direction) {
	speed := trackbot.SpeedMedium
	switch dir {
	case Stop:
		speed = 0
		d.brake(trackbot.MotorAll)
	case Forward:
		d.forward(trackbot.MotorAll, trackbot.SpeedMedium)
	case Backward:
		d.reverse(trackbot.MotorAll, trackbot.SpeedMedium)
	case VeerForwardLeft:
		d.forward(trackbot.MotorPort, trackbot.SpeedSlow)
		d.forward(trackbot.MotorStarboard, trackbot.SpeedMedium)
	case VeerForwardRight:
		d.forward(trackbot.MotorPort, trackbot.SpeedMedium)
		d.forward(trackbot.MotorStarboard, trackbot.SpeedSlow)
	case VeerBackwardLeft:
		d.reverse(trackbot.MotorPort, trackbot.SpeedSlow)
		d.reverse(trackbot.MotorStarboard, trackbot.SpeedMedium)
	case VeerBackwardRight:
		d.reverse(trackbot.MotorPort, trackbot.SpeedMedium)
		d.reverse(trackbot.MotorStarboard, trackbot.SpeedSlow)
	case TurnLeft:
		speed = TurnSpeed
		d.reverse(trackbot.MotorPort, TurnSpeed)
		d.forward(trackbot.MotorStarboard, TurnSpeed)
	case TurnRight:
		speed = TurnSpeed
		d.forward(trackbot.MotorPort, TurnSpeed)
		d.reverse(trackbot.MotorStarboard, TurnSpeed)
	}
	d.done(dir, speed)
}

// GoSpeed moves in dir with both tracks at speed
func (d *Driver) GoSpeed(dir Direction, speed int) {
	switch dir {
	case Stop:
		d.brake(trackbot.MotorAll)
	case Forward:
		d.forward(trackbot.MotorAll, speed)
	case Backward:
		d.reverse(trackbot.MotorAll, speed)
	case VeerForwardLeft, VeerForwardRight:
		d.forward(trackbot.MotorPort, speed)
		d.forward(trackbot.MotorStarboard, speed)
	case VeerBackwardLeft, VeerBackwardRight:
		d.reverse(trackbot.MotorPort, speed)
		d.reverse(trackbot.MotorStarboard, speed)
	case TurnLeft:
		d.reverse(trackbot.MotorPort, speed)
		d.forward(trackbot.MotorStarboard, speed)
	case TurnRight:
		d.forward(trackbot.MotorPort, speed)
		d.reverse(trackbot.MotorStarboard, speed)
	}
	d.done(dir, speed)
}

func (d *Driver) done(dir Direction, speed int) {
	d.mu.Lock()
	d.last = dir
	fn := d.onCommand
	d.mu.Unlock()
	if fn != nil {
		fn(dir, speed)
	}
}

// forward brakes first when reversing or slowing, and sends only on change
func (d *Driver) forward(motor byte, speed int) {
	lastDir := d.motors.LastDirection(motor)
	lastSpeed := d.motors.LastSpeed(motor)
	if lastDir == trackbot.DirReverse || lastDir == trackbot.DirForward && speed < lastSpeed {
		d.brake(motor)
	}
	if lastDir != trackbot.DirForward || speed != lastSpeed {
		d.check(d.motors.GoForward(motor, speed))
	}
}

func (d *Driver) reverse(motor byte, speed int) {
	lastDir := d.motors.LastDirection(motor)
	lastSpeed := d.motors.LastSpeed(motor)
	if lastDir == trackbot.DirForward || lastDir == trackbot.DirReverse && speed < lastSpeed {
		d.brake(motor)
	}
	if lastDir != trackbot.DirReverse || speed != lastSpeed {
		d.check(d.motors.GoReverse(motor, speed))
	}
}

func (d *Driver) brake(motor byte) {
	d.check(d.motors.Brake(motor))
}

func (d *Driver) check(err error) {
	if err != nil {
		d.log.Debug("motor command not queued", "error", err)
	}
}

// fastMover runs every default-speed move at SpeedFast
type fastMover struct {
	Mover
}

func (f fastMover) Go(dir Direction) { f.Mover.GoSpeed(dir, trackbot.SpeedFast) }

// Fast returns a Mover whose Go drives both tracks at SpeedFast
func Fast(m Mover) Mover {
	if f, ok := m.(fastMover); ok {
		return f
	}
	return fastMover{m}
}
