// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import "math/rand"

// StateWander drives forward, nudging away from contacts
const StateWander State = 2

var wanderStateNames = []string{"Stopped", "Runaway", "Wander"}

// Wander roams forward while the front and the floor are clear and falls
// back to Avoid's runaway otherwise
type Wander struct {
	avoid *Avoid
	state State
}

// NewWander creates a Wander behavior
func NewWander(rng *rand.Rand) *Wander {
	return &Wander{avoid: NewAvoid(rng)}
}

func (w *Wander) Name() string             { return "wander" }
func (w *Wander) State() State             { return w.state }
func (w *Wander) StateName(s State) string { return stateName(wanderStateNames, s) }

func (w *Wander) ChooseNextState(snap Snapshot) State {
	w.state = wanderNext(w.state, snap)
	return w.state
}

// wanderNext is the Stopped, Runaway and Wander transition function
func wanderNext(s State, snap Snapshot) State {
	switch s {
	case StateStopped, StateRunaway:
		if !snap.frontCorner() && !snap.cliff() {
			return StateWander
		}
		return StateRunaway
	case StateWander:
		if snap.rearCorner() && snap.frontCorner() || snap.cliff() {
			return StateRunaway
		}
	}
	return s
}

func (w *Wander) RunState(snap Snapshot, m Mover) {
	w.run(w.state, snap, m)
}

// run executes s for any layer built on Wander
func (w *Wander) run(s State, snap Snapshot, m Mover) {
	switch s {
	case StateWander:
		w.wander(snap, m)
	case StateRunaway:
		w.avoid.runaway(snap, m)
	default:
		m.Go(Stop)
	}
}

func (w *Wander) wander(snap Snapshot, m Mover) {
	last := m.LastDirection()
	m.Go(w.wanderDirection(snap, last))
}

func (w *Wander) wanderDirection(snap Snapshot, last Direction) Direction {
	dir := Forward

	// Keep turning away the same way we already are
	awayFromFront := func(otherwise Direction) Direction {
		switch last {
		case TurnRight, VeerBackwardLeft:
			return TurnRight
		case TurnLeft, VeerBackwardRight:
			return TurnLeft
		}
		return otherwise
	}

	switch snap.Corners() {
	case 4:
		dir = awayFromFront(TurnLeft)
	case 8:
		dir = awayFromFront(TurnRight)
	case 12:
		dir = awayFromFront(randomTurn(w.avoid.rng))
	}

	switch snap.Sides() {
	case 1, 8, 9, 10, 11:
		if dir == Forward {
			if last == VeerBackwardLeft || last == VeerBackwardRight {
				dir = last
			} else {
				dir = VeerForwardRight
			}
		}
	case 2, 4, 5, 6, 7:
		if dir == Forward {
			if last == VeerBackwardLeft || last == VeerBackwardRight {
				dir = last
			} else {
				dir = VeerForwardLeft
			}
		}
	case 3, 12:
		switch dir {
		case TurnLeft:
			dir = VeerBackwardRight
		case TurnRight:
			dir = VeerBackwardLeft
		}
	case 13:
		if dir == TurnLeft || dir == TurnRight {
			dir = VeerBackwardLeft
		}
	case 14:
		if dir == TurnLeft || dir == TurnRight {
			dir = VeerBackwardRight
		}
	}
	return dir
}
