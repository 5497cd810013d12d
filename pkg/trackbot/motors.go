// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import "sync"

// FrameQueuer accepts outbound frames. *Link implements it.
type FrameQueuer interface {
	QueueFrame(f Frame) error
}

// Motors formats motor commands and remembers the last speed and direction
// sent to each track
type Motors struct {
	q FrameQueuer

	mu            sync.Mutex
	lastPortSpeed int
	lastStarSpeed int
	lastPortDir   int
	lastStarDir   int
}

// NewMotors creates a motor controller that queues through q
func NewMotors(q FrameQueuer) *Motors {
	return &Motors{q: q, lastPortSpeed: -1, lastStarSpeed: -1}
}

func checkMotor(motor byte) error {
	switch motor {
	case MotorPort, MotorStarboard, MotorAll:
		return nil
	}
	return invalidf("Motors", "checkMotor", "invalid motor: %q", motor)
}

// GoForward drives motor forward at speed (0-10)
func (m *Motors) GoForward(motor byte, speed int) error {
	return m.move(motor, speed, DirForward, false)
}

// GoForwardJump is GoForward with the jump-bell suffix for an abrupt start
func (m *Motors) GoForwardJump(motor byte, speed int) error {
	return m.move(motor, speed, DirForward, true)
}

// GoReverse drives motor backward at speed (0-10)
func (m *Motors) GoReverse(motor byte, speed int) error {
	return m.move(motor, speed, DirReverse, false)
}

// GoReverseJump is GoReverse with the jump-bell suffix
func (m *Motors) GoReverseJump(motor byte, speed int) error {
	return m.move(motor, speed, DirReverse, true)
}

// Brake stops motor
func (m *Motors) Brake(motor byte) error {
	if err := checkMotor(motor); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f := Frame{CommandByte, 'M', motor, DirBrake, '0', '0', FrameEnd}
	err := m.q.QueueFrame(f)
	m.remember(motor, 0, DirBrake)
	return err
}

func (m *Motors) move(motor byte, speed int, dir byte, jumpBell bool) error {
	if speed < 0 || speed > SpeedMax {
		return invalidf("Motors", "move", "invalid speed: %d", speed)
	}
	if err := checkMotor(motor); err != nil {
		return err
	}

	tens := byte('0')
	if speed == SpeedMax {
		tens = '1'
	}
	f := Frame{CommandByte, 'M', motor, dir, tens, byte(speed%10) + '0'}
	if jumpBell {
		f = append(f, 'J')
	}
	f = append(f, FrameEnd)

	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.q.QueueFrame(f)
	m.remember(motor, speed, dir)
	return err
}

func (m *Motors) remember(motor byte, speed int, dir byte) {
	if motor == MotorPort || motor == MotorAll {
		m.lastPortSpeed = speed
		m.lastPortDir = int(dir)
	}
	if motor == MotorStarboard || motor == MotorAll {
		m.lastStarSpeed = speed
		m.lastStarDir = int(dir)
	}
}

// LastSpeed returns the last speed sent to motor, or -1 if unknown or the
// two tracks differ for MotorAll
func (m *Motors) LastSpeed(motor byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch motor {
	case MotorPort:
		return m.lastPortSpeed
	case MotorStarboard:
		return m.lastStarSpeed
	case MotorAll:
		if m.lastPortSpeed == m.lastStarSpeed {
			return m.lastPortSpeed
		}
	}
	return -1
}

// LastDirection returns the last direction byte sent to motor, 0 if none, or
// -1 if the two tracks differ for MotorAll
func (m *Motors) LastDirection(motor byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch motor {
	case MotorPort:
		return m.lastPortDir
	case MotorStarboard:
		return m.lastStarDir
	case MotorAll:
		if m.lastPortDir == m.lastStarDir {
			return m.lastPortDir
		}
	}
	return -1
}
