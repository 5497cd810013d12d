// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package behavior implements the TrackBot behavior state machines.
//
// Every behavior is a small state machine ticked once per sensor update. A tick
// first chooses the next state from a sensor Snapshot and then runs that state,
// which may only emit motor commands through a Mover and update its own
// direction memory. Layers are composed by delegation: Wander wraps Avoid,
// WallFollower wraps Wander, and the beacon followers wrap Wander.
package behavior

import (
	"fmt"
	"math/rand"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Direction is a whole-robot motion
type Direction int

// Directions
const (
	Stop Direction = iota
	VeerForwardLeft
	VeerForwardRight
	VeerBackwardLeft
	VeerBackwardRight
	Forward
	Backward
	TurnLeft
	TurnRight
)

// Unresolved is returned by decisions that could not pick a direction
const Unresolved Direction = -1

// TurnSpeed is the track speed used for spins
const TurnSpeed = trackbot.SpeedSlow

var directionNames = [...]string{
	"Stop",
	"Veer forward left",
	"Veer forward right",
	"Veer backward left",
	"Veer backward right",
	"Forward",
	"Backward",
	"Turn left",
	"Turn right",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// Valid reports whether d is one of the nine directions
func (d Direction) Valid() bool {
	return d >= Stop && d <= TurnRight
}

// continueTurn keeps spinning the same way as last, or picks a random spin
func continueTurn(last Direction, rng *rand.Rand) Direction {
	switch last {
	case TurnLeft, TurnRight:
		return last
	}
	return randomTurn(rng)
}

func randomTurn(rng *rand.Rand) Direction {
	if rng.Intn(2) == 0 {
		return TurnLeft
	}
	return TurnRight
}

func randomVeer(rng *rand.Rand) Direction {
	if rng.Intn(2) == 0 {
		return VeerForwardLeft
	}
	return VeerForwardRight
}
