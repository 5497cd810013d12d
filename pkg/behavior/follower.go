// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"math/rand"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Follower states
const (
	StateFollow          State = 3
	StateCatchUp         State = 4
	StateAvoidAndCatchUp State = 5
)

// maxCatchUps is how many catch-up ticks run before giving up
const maxCatchUps = 3

var followStateNames = []string{"Stopped", "Runaway", "Wander", "Follow", "Catch up", "Avoid and catch up"}

// Follower trails the first robot whose aft emitters it sees. Robot 0 is the
// leader and just wanders.
type Follower struct {
	wander   *Wander
	state    State
	followee int
	lastDir  Direction
	catchUps int
}

// NewFollower creates a Follower behavior
func NewFollower(rng *rand.Rand) *Follower {
	return &Follower{wander: NewWander(rng), followee: NoFollowee}
}

func (f *Follower) Name() string             { return "follow" }
func (f *Follower) State() State             { return f.state }
func (f *Follower) StateName(s State) string { return stateName(followStateNames, s) }

// Followee returns the robot being followed, or NoFollowee
func (f *Follower) Followee() int { return f.followee }

func (f *Follower) ChooseNextState(snap Snapshot) State {
	if snap.ID == 0 {
		f.state = leaderNext(f.state, snap)
		return f.state
	}

	res := NewResolver(snap.Beacons)
	ready := func() bool {
		id, ok := res.ReadyToFollow()
		if ok {
			f.followee = id
		}
		return ok
	}

	switch f.state {
	case StateStopped, StateRunaway, StateWander:
		if ready() {
			f.state = StateFollow
		} else {
			f.state = StateStopped
		}
	case StateFollow:
		if !ready() {
			if snap.NoSensorObstacles() {
				f.state = StateCatchUp
				f.catchUps = 0
			} else {
				f.state = StateAvoidAndCatchUp
			}
		}
	case StateCatchUp:
		if ready() {
			f.state = StateFollow
			break
		}
		if !snap.NoSensorObstacles() {
			f.state = StateAvoidAndCatchUp
		}
		if f.countCatchUp() {
			f.state = StateStopped
		}
	case StateAvoidAndCatchUp:
		if ready() {
			f.state = StateFollow
		}
	default:
		f.state = wanderNext(f.state, snap)
	}
	return f.state
}

// countCatchUp counts one catch-up tick and reports whether the limit was
// already passed
func (f *Follower) countCatchUp() bool {
	over := f.catchUps > maxCatchUps
	f.catchUps++
	return over
}

func (f *Follower) RunState(snap Snapshot, m Mover) {
	switch f.state {
	case StateFollow:
		f.follow(snap, m)
	case StateCatchUp:
		catchUp(f.lastDir, m)
	case StateAvoidAndCatchUp:
		f.lastDir = followerAvoid(snap.Key(), f.lastDir, m)
	default:
		f.wander.run(f.state, snap, m)
	}
}

func (f *Follower) follow(snap Snapshot, m Mover) {
	res := NewResolver(snap.Beacons)
	id, ready := res.ReadyToFollow()
	if ready {
		f.followee = id
	}

	dir, speed := Stop, -1
	switch snap.Key() {
	case keyFS:
		dir = pickReady(ready, Stop, TurnLeft)
	case keyFP:
		dir = pickReady(ready, Stop, TurnRight)
	case keyFS + keyFP:
		// The followee is right in front
		dir = Stop
	case keyFP + keyPF:
		dir = pickReady(ready, TurnRight, VeerBackwardRight)
	case keyFS + keySF:
		dir = pickReady(ready, TurnLeft, VeerBackwardLeft)
	case keyFS + keyFP + keySF,
		keyFS + keyFP + keySF + keySA,
		keyFS + keyFP + keySF + keySA + keyAP,
		keyFS + keyFP + keySF + keySA + keyAP + keyAS:
		dir = TurnLeft
	case keyFS + keyFP + keyPF,
		keyFS + keyFP + keyPF + keyPA,
		keyFS + keyFP + keyPF + keyPA + keyAS,
		keyFS + keyFP + keyPF + keyPA + keyAS + keyAP:
		dir = TurnRight
	default:
		dir, speed = f.swing(res)
	}

	move(m, dir, speed)
	f.lastDir = dir
}

// swing lines up behind the followee, speeding up when straightening out
// after a turn or veer
func (f *Follower) swing(res Resolver) (Direction, int) {
	dir := res.SwingAround(f.followee, f.lastDir)
	if dir == Unresolved {
		return Forward, -1
	}
	if dir == Forward && turning(f.lastDir) {
		return dir, trackbot.SpeedFast
	}
	return dir, -1
}

// followerAvoid steers around obstacles while chasing the lost followee and
// returns the direction taken
func followerAvoid(key int, last Direction, m Mover) Direction {
	dir := Stop
	switch key {
	case keyFS:
		dir = TurnLeft
	case keyFP:
		dir = TurnRight
	case keyFS + keyFP:
		switch last {
		case TurnLeft, VeerForwardLeft:
			dir = TurnLeft
		case TurnRight, VeerForwardRight:
			dir = TurnRight
		}
	case keyFP + keyPF,
		keyFP + keyPF + keyPA,
		keyFP + keyPF + keyPA + keyAP:
		dir = TurnRight
	case keyFS + keySF,
		keyFS + keySF + keySA,
		keyFS + keySF + keySA + keyAS:
		dir = TurnLeft
	case keyPF:
		if last == TurnLeft {
			dir = VeerForwardRight
		} else {
			dir = TurnRight
		}
	case keyPA:
		dir = TurnLeft
	case keySF:
		if last == TurnRight {
			dir = VeerForwardLeft
		} else {
			dir = TurnLeft
		}
	case keySA:
		dir = TurnRight
	case keyFP + keyAP:
		dir = TurnRight
	case keySF + keySA,
		keySF + keySA + keyAS,
		keyPF + keyPA,
		keyPF + keyPA + keyAP:
		dir = Forward
	case keyNone:
		dir = Forward
	}

	if dir == Forward {
		m.GoSpeed(dir, trackbot.SpeedFast)
	} else {
		m.Go(dir)
	}
	return dir
}

// catchUp repeats the last heading at full speed. It leaves the direction
// memory alone.
func catchUp(last Direction, m Mover) {
	switch last {
	case Forward, VeerBackwardRight, VeerBackwardLeft:
		m.GoSpeed(Forward, trackbot.SpeedFast)
	case TurnLeft, VeerForwardLeft:
		m.GoSpeed(TurnLeft, trackbot.SpeedFast)
		m.GoSpeed(Forward, trackbot.SpeedFast)
	case TurnRight, VeerForwardRight:
		m.GoSpeed(TurnRight, trackbot.SpeedFast)
		m.GoSpeed(Forward, trackbot.SpeedFast)
	default:
		m.Go(Stop)
	}
}

// leaderNext keeps robot 0 wandering. Follow states left over from a
// previous ID restart from Stopped.
func leaderNext(s State, snap Snapshot) State {
	if s > StateWander {
		s = StateStopped
	}
	return wanderNext(s, snap)
}

func pickReady(ready bool, yes, no Direction) Direction {
	if ready {
		return yes
	}
	return no
}

func turning(d Direction) bool {
	switch d {
	case VeerForwardLeft, VeerForwardRight, TurnLeft, TurnRight:
		return true
	}
	return false
}

// move uses the default speeds when speed is negative
func move(m Mover, dir Direction, speed int) {
	if speed < 0 {
		m.Go(dir)
		return
	}
	m.GoSpeed(dir, speed)
}
