// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ============================================================
// Driver Tests
// ============================================================

func TestDriver_Go(t *testing.T) {
	tests := []struct {
		name string
		dir  Direction
		want []string
	}{
		{"stop", Stop, []string{"!MA*00"}},
		{"forward", Forward, []string{"!MA+06"}},
		{"backward", Backward, []string{"!MA-06"}},
		{"veer forward left", VeerForwardLeft, []string{"!MP+03", "!MS+06"}},
		{"veer forward right", VeerForwardRight, []string{"!MP+06", "!MS+03"}},
		{"veer backward left", VeerBackwardLeft, []string{"!MP-03", "!MS-06"}},
		{"veer backward right", VeerBackwardRight, []string{"!MP-06", "!MS-03"}},
		{"turn left", TurnLeft, []string{"!MP-03", "!MS+03"}},
		{"turn right", TurnRight, []string{"!MP+03", "!MS-03"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, log := newTestDriver()
			d.Go(tt.dir)
			assert.Equal(t, tt.want, log.take())
			assert.Equal(t, tt.dir, d.LastDirection())
		})
	}
}

func TestDriver_GoSpeedStraightensVeers(t *testing.T) {
	d, log := newTestDriver()
	d.GoSpeed(VeerForwardLeft, 9)
	assert.Equal(t, []string{"!MP+09", "!MS+09"}, log.take())

	d, log = newTestDriver()
	d.GoSpeed(VeerBackwardRight, 9)
	assert.Equal(t, []string{"!MP-09", "!MS-09"}, log.take())
}

func TestDriver_SkipsUnchanged(t *testing.T) {
	d, log := newTestDriver()
	d.Go(Forward)
	log.take()

	d.Go(Forward)
	assert.Empty(t, log.take())
}

func TestDriver_BrakesOnReverse(t *testing.T) {
	d, log := newTestDriver()
	d.Go(Forward)
	log.take()

	d.Go(Backward)
	assert.Equal(t, []string{"!MA*00", "!MA-06"}, log.take())
}

func TestDriver_BrakesWhenSlowing(t *testing.T) {
	d, log := newTestDriver()
	d.GoSpeed(Forward, 9)
	log.take()

	d.Go(Forward)
	assert.Equal(t, []string{"!MA*00", "!MA+06"}, log.take())

	// Speeding up needs no brake
	d.GoSpeed(Forward, 9)
	assert.Equal(t, []string{"!MA+09"}, log.take())
}

func TestDriver_OnCommand(t *testing.T) {
	d, _ := newTestDriver()
	type cmd struct {
		dir   Direction
		speed int
	}
	var got []cmd
	d.OnCommand(func(dir Direction, speed int) { got = append(got, cmd{dir, speed}) })

	d.Go(TurnLeft)
	d.Go(Stop)
	d.GoSpeed(Forward, 9)
	d.Go(VeerForwardRight)

	assert.Equal(t, []cmd{{TurnLeft, TurnSpeed}, {Stop, 0}, {Forward, 9}, {VeerForwardRight, 6}}, got)
}

func TestFast(t *testing.T) {
	d, log := newTestDriver()
	f := Fast(d)
	f.Go(TurnRight)
	assert.Equal(t, []string{"!MP+09", "!MS-09"}, log.take())
	assert.Equal(t, TurnRight, f.LastDirection())

	// Explicit speeds pass through
	f.GoSpeed(TurnRight, 3)
	assert.Equal(t, []string{"!MP*00", "!MP+03", "!MS*00", "!MS-03"}, log.take())

	assert.Equal(t, f, Fast(f))
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "Veer backward right", VeerBackwardRight.String())
	assert.Equal(t, "Turn right", TurnRight.String())
	assert.Equal(t, "Direction(-1)", Unresolved.String())
	assert.False(t, Unresolved.Valid())
	assert.True(t, Stop.Valid())
}
