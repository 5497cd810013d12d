// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Avoid Transition Tests
// ============================================================

func TestAvoid_ChooseNextState(t *testing.T) {
	tests := []struct {
		name   string
		from   State
		power  int
		sensor int
		want   State
	}{
		{"stays stopped when clear", StateStopped, 0x0000, 0xf0ff, StateStopped},
		{"corner starts runaway", StateStopped, 0x2000, 0xf000, StateRunaway},
		{"side starts runaway", StateStopped, 0x0000, 0xf800, StateRunaway},
		{"cliff starts runaway", StateStopped, 0x0000, 0x7000, StateRunaway},
		{"gain bits are ignored", StateStopped, 0x0300, 0xf0ff, StateStopped},
		{"runaway keeps running", StateRunaway, 0x8000, 0xf000, StateRunaway},
		{"runaway stops when clear", StateRunaway, 0x0000, 0xf000, StateStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAvoid(testRng())
			a.state = tt.from
			if got := a.ChooseNextState(snap(tt.power, tt.sensor)); got != tt.want {
				t.Errorf("ChooseNextState() = %v, want %v", a.StateName(got), a.StateName(tt.want))
			}
		})
	}
}

func TestAvoid_UnknownStateBrakes(t *testing.T) {
	a := NewAvoid(testRng())
	a.state = State(9)
	assert.Equal(t, State(9), a.ChooseNextState(snap(0xf000, 0x0000)))

	m := &recMover{}
	a.RunState(snap(0xf000, 0x0000), m)
	assert.Equal(t, []string{"go Stop"}, m.calls)
	assert.Equal(t, State(9), a.State())
}

// ============================================================
// Runaway Decision Tests
// ============================================================

func TestAvoid_CornerTable(t *testing.T) {
	// No sides and every cliff sensor on the floor
	const sensor = 0xf000

	tests := []struct {
		corners int
		last    Direction
		want    Direction
	}{
		{0, Stop, Stop},
		{1, Stop, VeerForwardRight},
		{2, Stop, VeerForwardLeft},
		{3, Stop, Forward},
		{4, Stop, VeerBackwardRight},
		{5, Stop, TurnLeft},
		{5, TurnRight, TurnRight},
		{6, Stop, TurnLeft},
		{7, Stop, TurnLeft},
		{7, TurnRight, TurnRight},
		{8, Stop, VeerBackwardLeft},
		{9, Stop, TurnRight},
		{9, TurnLeft, TurnLeft},
		{10, Stop, TurnRight},
		{11, Stop, TurnRight},
		{11, TurnLeft, TurnLeft},
		{12, Stop, Backward},
		{13, Stop, TurnRight},
		{14, Stop, TurnLeft},
		{14, TurnRight, TurnRight},
		{15, TurnLeft, TurnLeft},
		{15, TurnRight, TurnRight},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("corners %d after %v", tt.corners, tt.last), func(t *testing.T) {
			a := NewAvoid(testRng())
			got := a.escape(snap(tt.corners<<12, sensor), tt.last)
			if got != tt.want {
				t.Errorf("escape(corners=%d, last=%v) = %v, want %v", tt.corners, tt.last, got, tt.want)
			}
		})
	}
}

func TestAvoid_EveryCornerValueIsDefined(t *testing.T) {
	a := NewAvoid(testRng())
	for corners := 0; corners < 16; corners++ {
		for last := Stop; last <= TurnRight; last++ {
			got := a.escape(snap(corners<<12, 0xf000), last)
			requireValid(t, got)
		}
	}
}

func TestAvoid_TieContinuesTurn(t *testing.T) {
	// All four corners with no side contact spins; it keeps an existing spin
	a := NewAvoid(testRng())
	for i := 0; i < 20; i++ {
		got := a.escape(snap(0xf000, 0xf000), Stop)
		assert.Contains(t, []Direction{TurnLeft, TurnRight}, got)
		assert.Equal(t, TurnLeft, a.escape(snap(0xf000, 0xf000), TurnLeft))
	}
}

func TestAvoid_SideRefinement(t *testing.T) {
	tests := []struct {
		name   string
		power  int
		sensor int
		last   Direction
		want   Direction
	}{
		{"aft star corner only", 0x1000, 0xf0ff, Stop, VeerForwardRight},
		{"fore star corner and star aft side", 0x4000, 0xf100, Stop, VeerBackwardLeft},
		{"fore port corner and port aft side", 0x8000, 0xf200, Stop, VeerBackwardRight},
		{"aft star corner and star fore side", 0x1000, 0xf400, Stop, VeerForwardLeft},
		{"aft port corner and port fore side", 0x2000, 0xf800, Stop, VeerForwardRight},
		{"fore corner and both aft sides", 0x4000, 0xf300, Stop, Backward},
		{"aft corner and both fore sides", 0x1000, 0xfc00, Stop, Forward},
		{"both fore corners and both fore sides", 0xc000, 0xfc00, Stop, Backward},
		{"all corners and star aft side", 0xf000, 0xf100, Stop, TurnRight},
		{"all corners and port aft side", 0xf000, 0xf200, Stop, TurnLeft},
		{"all corners and star fore side", 0xf000, 0xf400, Stop, TurnLeft},
		{"all corners and port fore side", 0xf000, 0xf800, Stop, TurnRight},
		{"all corners and every side", 0xf000, 0xff00, Stop, Stop},
		{"all corners and both fore sides", 0xf000, 0xfc00, TurnRight, TurnRight},
		{"no corners ignores sides", 0x0000, 0xff00, Stop, Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAvoid(testRng())
			if got := a.escape(snap(tt.power, tt.sensor), tt.last); got != tt.want {
				t.Errorf("escape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAvoid_CliffOverride(t *testing.T) {
	tests := []struct {
		name   string
		power  int
		sensor int
		want   Direction
	}{
		{"aft cliffs while backing up", 0xc000, 0xc000, Stop},
		{"aft star cliff while veering", 0x4000, 0xe000, Stop},
		{"fore cliffs while driving forward", 0x3000, 0x3000, Stop},
		{"aft cliffs with no corners drive forward", 0x0000, 0xc000, Forward},
		{"fore cliffs with no corners back up", 0x0000, 0x3000, Backward},
		{"one fore and one aft cliff", 0x0000, 0x5000, Stop},
		{"no floor at all", 0x0000, 0x0000, Stop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAvoid(testRng())
			if got := a.escape(snap(tt.power, tt.sensor), Stop); got != tt.want {
				t.Errorf("escape() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCliffOverride_Table(t *testing.T) {
	for cliffs := 0; cliffs < 16; cliffs++ {
		for dir := Stop; dir <= TurnRight; dir++ {
			got := cliffOverride(cliffs, dir, false)
			if cliffs == 0 {
				require.Equal(t, dir, got)
				continue
			}
			require.Equal(t, Stop, got, "cliffs=%d dir=%v", cliffs, dir)
		}
	}
}

func TestAvoid_RunStateDrives(t *testing.T) {
	a := NewAvoid(testRng())
	m := &recMover{}
	s := snap(0x1000, 0xf0ff)

	require.Equal(t, StateRunaway, a.ChooseNextState(s))
	a.RunState(s, m)
	assert.Equal(t, []string{"go Veer forward right"}, m.calls)
}
