// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"math/rand"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// StateTwoSide is TwoTrackBotFollower's flank state
const StateTwoSide State = 6

var twoTrackBotStateNames = []string{"Stopped", "Runaway", "Wander", "Follow", "Catch up", "Avoid and catch up", "Side"}

// TwoTrackBotFollower is the follower for a pair of robots. Robot 0 leads by
// wandering; the other robot follows it, squares up when it sees the leader
// side-on and chases it for a few ticks when it loses sight.
type TwoTrackBotFollower struct {
	wander   *Wander
	state    State
	followee int
	lastDir  Direction
	catchUps int
}

// NewTwoTrackBotFollower creates a TwoTrackBotFollower behavior
func NewTwoTrackBotFollower(rng *rand.Rand) *TwoTrackBotFollower {
	return &TwoTrackBotFollower{wander: NewWander(rng), followee: NoFollowee}
}

func (f *TwoTrackBotFollower) Name() string { return "two-trackbot-follow" }
func (f *TwoTrackBotFollower) State() State { return f.state }
func (f *TwoTrackBotFollower) StateName(s State) string {
	return stateName(twoTrackBotStateNames, s)
}

// Followee returns the robot being followed, or NoFollowee
func (f *TwoTrackBotFollower) Followee() int { return f.followee }

func (f *TwoTrackBotFollower) ChooseNextState(snap Snapshot) State {
	if snap.ID == 0 {
		f.state = leaderNext(f.state, snap)
		return f.state
	}

	res := NewResolver(snap.Beacons)
	readyFollowee := func() bool { return res.ReadyToFollowID(f.followee) }

	switch f.state {
	case StateStopped, StateRunaway, StateWander:
		switch {
		case f.followee == NoFollowee:
			if id, ok := res.ReadyToFollow(); ok {
				f.followee = id
				f.state = StateFollow
			} else {
				f.state = StateStopped
			}
		case readyFollowee():
			f.state = StateFollow
		case res.OnSide():
			f.state = StateTwoSide
		default:
			f.state = StateStopped
		}
	case StateFollow:
		if readyFollowee() {
			break
		}
		if res.OnSide() {
			f.state = StateTwoSide
			break
		}
		f.catchUps = 0
		if snap.NoSensorObstacles() {
			f.state = StateCatchUp
		} else {
			f.state = StateAvoidAndCatchUp
		}
	case StateTwoSide:
		if readyFollowee() {
			f.state = StateFollow
		}
	case StateCatchUp:
		if readyFollowee() {
			f.state = StateFollow
			break
		}
		if res.OnSide() {
			f.state = StateTwoSide
			break
		}
		if !snap.NoSensorObstacles() {
			f.catchUps = 0
			f.state = StateAvoidAndCatchUp
		}
		over := f.catchUps > maxCatchUps
		f.catchUps++
		if over {
			f.state = StateStopped
		}
	case StateAvoidAndCatchUp:
		if readyFollowee() {
			f.state = StateFollow
		} else if res.OnSide() {
			f.state = StateTwoSide
		}
	default:
		f.state = wanderNext(f.state, snap)
	}
	return f.state
}

func (f *TwoTrackBotFollower) RunState(snap Snapshot, m Mover) {
	switch f.state {
	case StateFollow:
		dir, speed, followee := trackBotFollow(snap, f.followee, f.lastDir)
		f.followee = followee
		move(m, dir, speed)
		f.lastDir = dir
	case StateTwoSide:
		f.side(snap, m)
	case StateCatchUp:
		catchUp(f.lastDir, m)
	case StateAvoidAndCatchUp:
		f.lastDir = twoTrackBotAvoid(snap.Key(), f.lastDir, m)
	default:
		f.wander.run(f.state, snap, m)
	}
}

// side turns toward a followee seen side-on by a fore sensor, or stops
func (f *TwoTrackBotFollower) side(snap Snapshot, m Mover) {
	res := NewResolver(snap.Beacons)
	dir := Stop
	if res.Cell(f.followee, MyForeStar)&otherSides != 0 {
		dir = TurnRight
	}
	if res.Cell(f.followee, MyForePort)&otherSides != 0 {
		dir = TurnLeft
	}
	m.Go(dir)
}

// twoTrackBotAvoid is the two-robot avoidance table. It returns the direction
// taken.
func twoTrackBotAvoid(key int, last Direction, m Mover) Direction {
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
		default:
			dir = VeerBackwardRight
		}
	case keyFP + keyAP,
		keyFP + keyPF,
		keyFP + keyPF + keyPA,
		keyFP + keyPF + keyPA + keyAP:
		dir = TurnRight
	case keyFS + keyAS,
		keyFS + keySF,
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
	case keyAP:
		dir = VeerForwardLeft
	case keyAS:
		dir = VeerForwardRight
	case keySF:
		if last == TurnRight {
			dir = VeerForwardLeft
		} else {
			dir = TurnLeft
		}
	case keySA:
		dir = TurnRight
	case keySF + keySA,
		keySF + keySA + keyAS,
		keyPF + keyPA,
		keyPF + keyPA + keyAP:
		dir = Forward
	case keyAP + keyPA,
		keyAS + keyAP + keyPA,
		keyAS + keyAP + keyPF,
		keyAS + keyAP + keyPA + keyPF:
		dir = VeerForwardRight
	case keyFP + keyFS + keySF,
		keyFP + keyFS + keySA,
		keyFP + keyFS + keySF + keySA,
		keyFP + keyFS + keySF + keySA + keyAS,
		keyFS + keyFP + keyAS,
		keyFS + keyFP + keyAS + keySF,
		keyFS + keyFP + keyAS + keyAP + keySF + keySA,
		keyFS + keyFP + keyAS + keyAP + keySA:
		dir = TurnLeft
	case keyFS + keyFP + keyAP,
		keyFS + keyFP + keyAP + keyPF,
		keyFS + keyFP + keyAP + keyPF + keyPA,
		keyFS + keyFP + keyAP + keyAS + keyPF + keyPA,
		keyFS + keyFP + keyAP + keyAS + keyPA,
		keyFP + keyFS + keyPF,
		keyFP + keyFS + keyPA,
		keyFP + keyFS + keyPF + keyPA,
		keyFP + keyFS + keyPA + keyAP:
		dir = TurnRight
	case keyFS + keySA + keyAP + keyAS,
		keyFS + keySF + keySA + keyAP + keyAS:
		dir = VeerForwardLeft
	case keyFP + keyPA + keyAP + keyAS,
		keyFP + keyPF + keyPA + keyAP + keyAS:
		dir = VeerForwardRight
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
