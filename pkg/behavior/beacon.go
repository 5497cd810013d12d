// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import "github.com/Thermoquad/trackbot/pkg/trackbot"

// Beacon matrix columns: which of this robot's sensors saw the beam
const (
	MyAftStar = iota
	MyAftPort
	MyForeStar
	MyForePort
	MyStarAft
	MyPortAft
	MyStarFore
	MyPortFore
)

// Beacon cell bits: which of the other robot's emitters was seen
const (
	OtherAftStar  = 0x01
	OtherAftPort  = 0x02
	OtherForeStar = 0x04
	OtherForePort = 0x08
	OtherStarAft  = 0x10
	OtherPortAft  = 0x20
	OtherStarFore = 0x40
	OtherPortFore = 0x80

	otherAft     = OtherAftStar | OtherAftPort
	otherFore    = OtherForeStar | OtherForePort
	otherCorners = 0x0f
	otherSides   = 0xf0
)

// NoFollowee marks a follower that has not latched onto a robot
const NoFollowee = -1

// Resolver answers geometry questions about other robots from one beacon
// matrix. The row for this robot's own ID is treated like any other row; the
// simulator leaves it empty.
type Resolver struct {
	m *trackbot.BeaconMatrix
}

// NewResolver creates a resolver over m. A nil matrix sees nothing.
func NewResolver(m *trackbot.BeaconMatrix) Resolver {
	return Resolver{m: m}
}

// Cell returns what sensor col saw of robot id
func (r Resolver) Cell(id, col int) int {
	if r.m == nil || id < 0 || id >= trackbot.MaxTrackBots || col < 0 || col >= trackbot.BeaconSensors {
		return 0
	}
	return int(r.m[id][col])
}

// InRange reports whether any sensor sees robot id
func (r Resolver) InRange(id int) bool {
	return r.m.Row(id)
}

// Visible returns the IDs of every robot in range
func (r Resolver) Visible() []int {
	var ids []int
	for id := 0; id < trackbot.MaxTrackBots; id++ {
		if r.InRange(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// ReadyToFollowID reports whether either fore sensor sees an aft emitter of
// robot id
func (r Resolver) ReadyToFollowID(id int) bool {
	if !r.InRange(id) {
		return false
	}
	return r.Cell(id, MyForeStar)&otherAft != 0 || r.Cell(id, MyForePort)&otherAft != 0
}

// ReadyToFollow returns the lowest robot ID this robot could follow
func (r Resolver) ReadyToFollow() (int, bool) {
	for id := 0; id < trackbot.MaxTrackBots; id++ {
		if r.ReadyToFollowID(id) {
			return id, true
		}
	}
	return NoFollowee, false
}

// BeingFollowed reports whether an aft sensor sees a fore emitter of any robot
func (r Resolver) BeingFollowed() bool {
	for id := 0; id < trackbot.MaxTrackBots; id++ {
		if !r.InRange(id) {
			continue
		}
		if r.Cell(id, MyAftStar)&otherFore != 0 || r.Cell(id, MyAftPort)&otherFore != 0 {
			return true
		}
	}
	return false
}

// OnSide reports whether any sensor sees a corner emitter of any robot
func (r Resolver) OnSide() bool {
	for id := 0; id < trackbot.MaxTrackBots; id++ {
		if !r.InRange(id) {
			continue
		}
		for col := 0; col < trackbot.BeaconSensors; col++ {
			if r.Cell(id, col)&otherCorners != 0 {
				return true
			}
		}
	}
	return false
}

// SwingAround picks the direction that lines this robot up behind robot id.
// It assumes the followee's body is out of range. The rules are tried in
// order and the first match wins. last is the follower's previous direction.
func (r Resolver) SwingAround(id int, last Direction) Direction {
	has := func(col, bit int) bool { return r.Cell(id, col)&bit != 0 }

	fsP, fsS := has(MyForeStar, OtherAftPort), has(MyForeStar, OtherAftStar)
	fpP, fpS := has(MyForePort, OtherAftPort), has(MyForePort, OtherAftStar)
	sfP, sfS := has(MyStarFore, OtherAftPort), has(MyStarFore, OtherAftStar)
	saP, saS := has(MyStarAft, OtherAftPort), has(MyStarAft, OtherAftStar)

	switch {
	// Star fore and fore star both see the aft star emitter only
	case !sfP && sfS && !saP && !saS && !fsP && fsS && !fpP && !fpS:
		return TurnRight

	// Fore star bias
	case fsP && fsS && fpP && !fpS:
		return VeerForwardRight
	case fsP && fsS && !fpP && !fpS:
		return TurnRight
	case fsP && !fsS && !fpP && !fpS && !sfP:
		return TurnRight
	case !fsP && fsS && !fpP && !fpS && !sfP:
		if last == VeerForwardLeft || last == Forward {
			return Forward
		}
		return TurnRight

	// Fore port bias
	case !fsP && fsS && fpP && fpS:
		return VeerForwardLeft
	case !fsP && !fsS && fpP && fpS:
		return VeerForwardLeft
	case !fsP && !fsS && !fpP && fpS:
		return TurnLeft
	case !fsP && !fsS && fpP && !fpS:
		return Forward

	// Each fore sensor sees the emitter on its own side
	case fsS && fpP:
		return Forward
	}
	return Unresolved
}
