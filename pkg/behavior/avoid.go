// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"math/rand"
	"time"
)

var avoidStateNames = []string{"Stopped", "Runaway"}

// Avoid sits still until a sensor fires and then runs away from it
type Avoid struct {
	state State
	rng   *rand.Rand
}

// NewAvoid creates an Avoid behavior. A nil rng is seeded from the clock.
func NewAvoid(rng *rand.Rand) *Avoid {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Avoid{rng: rng}
}

func (a *Avoid) Name() string             { return "avoid" }
func (a *Avoid) State() State             { return a.state }
func (a *Avoid) StateName(s State) string { return stateName(avoidStateNames, s) }

// ChooseNextState runs away while any corner, side or cliff sensor is active
func (a *Avoid) ChooseNextState(snap Snapshot) State {
	switch a.state {
	case StateStopped:
		if snap.Obstacle() {
			a.state = StateRunaway
		}
	case StateRunaway:
		if !snap.Obstacle() {
			a.state = StateStopped
		}
	}
	return a.state
}

// RunState brakes when stopped and escapes when running away. Unknown states
// brake.
func (a *Avoid) RunState(snap Snapshot, m Mover) {
	switch a.state {
	case StateRunaway:
		a.runaway(snap, m)
	default:
		m.Go(Stop)
	}
}

func (a *Avoid) runaway(snap Snapshot, m Mover) {
	m.Go(a.escape(snap, m.LastDirection()))
}

// escape picks the runaway direction from the corner, side and cliff
// sensors, in that order of precedence
func (a *Avoid) escape(snap Snapshot, last Direction) Direction {
	dir := Stop
	noCorners := false
	useSides := true

	switch snap.Corners() {
	case 0:
		noCorners = true
		dir = Stop
		useSides = false
	case 15:
		dir = Stop
	case 1:
		dir = VeerForwardRight
	case 9, 11, 10, 13:
		if last == TurnLeft {
			dir = TurnLeft
		} else {
			dir = TurnRight
		}
	case 5, 7, 6, 14:
		if last == TurnRight {
			dir = TurnRight
		} else {
			dir = TurnLeft
		}
	case 2:
		dir = VeerForwardLeft
	case 3:
		dir = Forward
	case 4:
		dir = VeerBackwardRight
	case 8:
		dir = VeerBackwardLeft
	case 12:
		dir = Backward
	}

	if useSides {
		dir = a.refineBySides(snap.Sides(), dir, noCorners, last)
	}
	return cliffOverride(snap.Cliffs(), dir, noCorners)
}

// refineBySides adjusts the corner decision for side contacts. The noCorners
// branches only matter if side refinement is enabled without corner contact.
func (a *Avoid) refineBySides(sides int, dir Direction, noCorners bool, last Direction) Direction {
	pick := func(ifNoCorners, otherwise Direction) Direction {
		if noCorners {
			return ifNoCorners
		}
		return otherwise
	}

	switch sides {
	case 0:
		if dir == Stop && !noCorners {
			dir = continueTurn(last, a.rng)
		}
	case 1:
		switch dir {
		case Stop:
			dir = pick(VeerForwardRight, TurnRight)
		case VeerBackwardRight:
			dir = VeerBackwardLeft
		}
	case 2:
		switch dir {
		case Stop:
			dir = pick(VeerForwardLeft, TurnLeft)
		case VeerBackwardLeft:
			dir = VeerBackwardRight
		}
	case 3:
		switch dir {
		case Stop:
			if noCorners {
				dir = Forward
			} else {
				dir = continueTurn(last, a.rng)
			}
		case VeerBackwardLeft, VeerBackwardRight:
			dir = Backward
		}
	case 4:
		switch dir {
		case Stop:
			dir = pick(VeerBackwardRight, TurnLeft)
		case VeerForwardRight:
			dir = VeerForwardLeft
		}
	case 5:
		switch dir {
		case Stop:
			dir = pick(VeerForwardLeft, TurnLeft)
		case VeerForwardRight:
			dir = VeerForwardLeft
		case VeerBackwardRight:
			dir = VeerBackwardLeft
		}
	case 6:
		switch dir {
		case Stop:
			dir = pick(Forward, TurnLeft)
		case VeerForwardRight:
			dir = VeerForwardLeft
		case VeerBackwardLeft:
			dir = VeerBackwardRight
		}
	case 7:
		switch dir {
		case Stop:
			dir = pick(VeerForwardLeft, TurnLeft)
		case VeerForwardRight:
			dir = VeerForwardLeft
		case VeerBackwardLeft, VeerBackwardRight:
			dir = Backward
		}
	case 8:
		switch dir {
		case Stop:
			dir = pick(VeerBackwardLeft, TurnRight)
		case VeerForwardLeft:
			dir = VeerForwardRight
		}
	case 9:
		switch dir {
		case Stop:
			dir = pick(Forward, TurnRight)
		case VeerForwardLeft:
			dir = VeerForwardRight
		case VeerBackwardRight:
			dir = VeerBackwardLeft
		}
	case 10:
		switch dir {
		case Stop:
			dir = pick(VeerForwardRight, TurnRight)
		case VeerForwardLeft:
			dir = VeerForwardRight
		case VeerBackwardLeft:
			dir = VeerBackwardRight
		}
	case 11:
		switch dir {
		case Stop:
			dir = pick(VeerForwardRight, TurnRight)
		case VeerForwardLeft:
			dir = VeerForwardRight
		case VeerBackwardLeft, VeerBackwardRight:
			dir = Backward
		}
	case 12:
		switch dir {
		case Stop:
			if noCorners {
				dir = Backward
			} else {
				dir = continueTurn(last, a.rng)
			}
		case VeerForwardLeft, VeerForwardRight:
			dir = Forward
		}
	case 13:
		switch dir {
		case Stop:
			dir = pick(VeerBackwardLeft, TurnRight)
		case VeerForwardLeft, VeerForwardRight:
			dir = Forward
		case VeerBackwardRight:
			dir = VeerBackwardLeft
		}
	case 14:
		switch dir {
		case Stop:
			dir = pick(VeerBackwardRight, TurnLeft)
		case VeerForwardLeft, VeerForwardRight:
			dir = Forward
		case VeerBackwardLeft:
			dir = VeerBackwardRight
		}
	case 15:
		switch dir {
		case Stop:
			if noCorners {
				dir = Forward
			}
		case VeerForwardLeft, VeerForwardRight:
			dir = Forward
		case VeerBackwardLeft, VeerBackwardRight:
			dir = Backward
		}
	}
	return dir
}

// cliffOverride stops for any missing floor. With no corner contact a single
// missing end drives away from it.
func cliffOverride(cliffs int, dir Direction, noCorners bool) Direction {
	switch cliffs {
	case 0:
		return dir
	case 1, 2, 3:
		if dir == Stop && noCorners {
			return Forward
		}
		return Stop
	case 4, 8, 12:
		if dir == Stop && noCorners {
			return Backward
		}
		return Stop
	}
	return Stop
}
