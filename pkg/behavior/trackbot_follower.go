// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"math/rand"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// StateSide re-aligns on a robot beaconing at this robot's flank
const StateSide State = 4

var trackBotStateNames = []string{"Stopped", "Runaway", "Wander", "Follow", "Side"}

// TrackBotFollower wanders until it sees another robot's aft emitters and then
// follows it. When it loses the followee it turns toward where it was last
// seen and wanders at full speed until it finds a robot again.
type TrackBotFollower struct {
	wander   *Wander
	state    State
	followee int
	lastDir  Direction
	catchUp  bool
	prepDir  Direction
	lastSeen trackbot.BeaconMatrix
}

// NewTrackBotFollower creates a TrackBotFollower behavior
func NewTrackBotFollower(rng *rand.Rand) *TrackBotFollower {
	return &TrackBotFollower{wander: NewWander(rng), followee: NoFollowee, prepDir: Unresolved}
}

func (f *TrackBotFollower) Name() string             { return "trackbot-follow" }
func (f *TrackBotFollower) State() State             { return f.state }
func (f *TrackBotFollower) StateName(s State) string { return stateName(trackBotStateNames, s) }

// Followee returns the robot being followed, or NoFollowee
func (f *TrackBotFollower) Followee() int { return f.followee }

// CatchingUp reports whether the follower is chasing a lost followee
func (f *TrackBotFollower) CatchingUp() bool { return f.catchUp }

func (f *TrackBotFollower) ChooseNextState(snap Snapshot) State {
	res := NewResolver(snap.Beacons)
	f.prepDir = Unresolved
	ready := func() bool {
		id, ok := res.ReadyToFollow()
		if ok {
			f.followee = id
		}
		return ok
	}
	startFollowing := func() {
		f.state = StateFollow
		if snap.Beacons != nil {
			f.lastSeen = *snap.Beacons
		} else {
			f.lastSeen = trackbot.BeaconMatrix{}
		}
		f.catchUp = false
	}

	switch f.state {
	case StateStopped, StateRunaway:
		f.state = wanderNext(f.state, snap)
		ready()
	case StateWander:
		if next := wanderNext(StateWander, snap); next != StateWander {
			f.state = next
			break
		}
		if f.followee != NoFollowee && res.ReadyToFollowID(f.followee) {
			startFollowing()
			break
		}
		if ready() {
			startFollowing()
			break
		}
		if res.BeingFollowed() {
			// Someone is behind us; stop racing
			f.catchUp = false
		}
	case StateFollow:
		if !res.ReadyToFollowID(f.followee) {
			f.prepDir = f.prepWander()
			f.state = StateWander
			f.catchUp = true
		}
	case StateSide:
		if ready() {
			f.state = StateFollow
		} else if !res.OnSide() {
			f.state = StateWander
		}
	default:
		f.state = wanderNext(f.state, snap)
	}
	return f.state
}

// prepWander turns toward the side the followee was last seen on
func (f *TrackBotFollower) prepWander() Direction {
	last := NewResolver(&f.lastSeen)
	if last.Cell(f.followee, MyForePort)&OtherAftPort != 0 {
		return TurnLeft
	}
	if last.Cell(f.followee, MyForeStar)&OtherAftStar != 0 {
		return TurnRight
	}
	return Unresolved
}

func (f *TrackBotFollower) RunState(snap Snapshot, m Mover) {
	// The turn chosen on losing the followee runs before catch-up speed
	// applies
	if f.prepDir != Unresolved {
		m.Go(f.prepDir)
		f.prepDir = Unresolved
	}
	if f.catchUp {
		m = Fast(m)
	}

	switch f.state {
	case StateFollow:
		f.follow(snap, m)
	case StateSide:
		f.side(snap, m)
	default:
		f.wander.run(f.state, snap, m)
	}
}

func (f *TrackBotFollower) follow(snap Snapshot, m Mover) {
	dir, speed, followee := trackBotFollow(snap, f.followee, f.lastDir)
	f.followee = followee
	if !turningInPlace(f.lastDir) && turningInPlace(dir) {
		// Usually the followee crossing in front at a steep angle
		speed = trackbot.SpeedFast
	}
	move(m, dir, speed)
	f.lastDir = dir
}

// side turns toward a followee seen side-on by a fore sensor
func (f *TrackBotFollower) side(snap Snapshot, m Mover) {
	res := NewResolver(snap.Beacons)
	dir := Unresolved
	if res.Cell(f.followee, MyForeStar)&otherSides != 0 {
		dir = TurnRight
	}
	if res.Cell(f.followee, MyForePort)&otherSides != 0 {
		dir = TurnLeft
	}
	if dir != Unresolved {
		m.GoSpeed(dir, trackbot.SpeedFast)
	}
}

// trackBotFollow is the follow table shared by the robot-to-robot followers.
// It stops when both fore corners are blocked or the followee is out of range.
// The returned followee is the lowest robot it is now ready to follow, or the
// one passed in when there is none.
func trackBotFollow(snap Snapshot, followee int, last Direction) (Direction, int, int) {
	res := NewResolver(snap.Beacons)
	if snap.Corners()&0xc == 0xc || !res.InRange(followee) {
		return Stop, -1, followee
	}
	id, ready := res.ReadyToFollow()
	if ready {
		followee = id
	}

	switch snap.Key() {
	case keyFS:
		return pickReady(ready, Stop, TurnLeft), -1, followee
	case keyFP:
		return pickReady(ready, Stop, TurnRight), -1, followee
	case keyAll:
		return Stop, -1, followee
	case keyFP + keyPF:
		return pickReady(ready, TurnRight, VeerBackwardRight), -1, followee
	case keyFS + keySF:
		return pickReady(ready, TurnLeft, VeerBackwardLeft), -1, followee
	case keyFS + keyFP + keySF,
		keyFS + keyFP + keySF + keySA,
		keyFS + keyFP + keySF + keySA + keyAP,
		keyFS + keyFP + keySF + keySA + keyAS,
		keyFS + keyFP + keySF + keySA + keyAP + keyAS,
		keyFS + keySF + keyAS + keyAP,
		keyFS + keySA + keyAS:
		return TurnLeft, -1, followee
	case keyFS + keyFP + keyPF,
		keyFS + keyFP + keyPF + keyPA,
		keyFS + keyFP + keyPF + keyPA + keyAS,
		keyFS + keyFP + keyPF + keyPA + keyAP,
		keyFS + keyFP + keyPF + keyPA + keyAS + keyAP,
		keyFP + keyPF + keyAS + keyAP,
		keyFP + keyPA + keyAP:
		return TurnRight, -1, followee
	case keyFS + keyFP + keyPF + keyPA + keySF,
		keyFS + keyFP + keyPF + keyPA + keySF + keySA + keyAP:
		return VeerBackwardRight, -1, followee
	case keyFS + keyFP + keyPF + keyPA + keySF + keySA + keyAS:
		return VeerBackwardLeft, -1, followee
	case keyFS + keyFP + keyPF + keyPA + keySF + keySA:
		return Backward, -1, followee
	case keyFP + keyAP + keyAS:
		return VeerForwardRight, -1, followee
	case keyFS + keyAP + keyAS:
		return VeerForwardLeft, -1, followee
	}

	dir := res.SwingAround(followee, last)
	if dir == Unresolved {
		return Forward, -1, followee
	}
	if dir == Forward && turning(last) {
		return dir, trackbot.SpeedFast, followee
	}
	return dir, -1, followee
}

func turningInPlace(d Direction) bool {
	return d == TurnLeft || d == TurnRight
}
