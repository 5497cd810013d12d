// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import "math/rand"

// StateFollowWall veers along a wall seen by the side sensors
const StateFollowWall State = 3

var wallStateNames = []string{"Stopped", "Runaway", "Wander", "Follow wall"}

// WallFollower wanders until a side sensor sees a wall and then runs along it
type WallFollower struct {
	wander *Wander
	state  State
}

// NewWallFollower creates a WallFollower behavior
func NewWallFollower(rng *rand.Rand) *WallFollower {
	return &WallFollower{wander: NewWander(rng)}
}

func (f *WallFollower) Name() string             { return "wallfollow" }
func (f *WallFollower) State() State             { return f.state }
func (f *WallFollower) StateName(s State) string { return stateName(wallStateNames, s) }

func (f *WallFollower) ChooseNextState(snap Snapshot) State {
	switch f.state {
	case StateWander, StateFollowWall:
		f.state = wanderNext(StateWander, snap)
		if f.state == StateWander && snap.Sides() != 0 {
			f.state = StateFollowWall
		}
	default:
		f.state = wanderNext(f.state, snap)
	}
	return f.state
}

func (f *WallFollower) RunState(snap Snapshot, m Mover) {
	if f.state != StateFollowWall {
		f.wander.run(f.state, snap, m)
		return
	}

	last := m.LastDirection()
	dir := Forward
	switch snap.Sides() {
	case 1:
		dir = VeerForwardRight
	case 2:
		dir = VeerForwardLeft
	case 3:
		if last == VeerForwardRight || last == VeerForwardLeft {
			dir = last
		} else {
			dir = randomVeer(f.wander.avoid.rng)
		}
	}
	m.Go(dir)
}
