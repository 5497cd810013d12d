// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package behavior

import (
	"fmt"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Snapshot is the sensor input of one tick. Beacons and ID are only set by
// all-state updates from a simulator.
type Snapshot struct {
	Power   int
	Sensor  int
	Beacons *trackbot.BeaconMatrix
	ID      int
}

// Corners returns the corner nibble: fore-port 8, fore-star 4, aft-port 2,
// aft-star 1
func (s Snapshot) Corners() int { return (s.Power >> 12) & 0xf }

// Sides returns the side nibble: port-fore 8, star-fore 4, port-aft 2,
// star-aft 1
func (s Snapshot) Sides() int { return (s.Sensor >> 8) & 0xf }

// Cliffs returns the inverted cliff nibble. A set bit means no floor.
func (s Snapshot) Cliffs() int { return (^s.Sensor >> 12) & 0xf }

// Key returns the combined corner and side key used by the follow tables
func (s Snapshot) Key() int {
	return (s.Power>>12)&0xf | (s.Sensor>>4)&0xf0
}

// Obstacle reports whether any corner, side or cliff sensor is active
func (s Snapshot) Obstacle() bool {
	return s.Power&trackbot.PowerCorners != 0 ||
		s.Sensor&trackbot.SensorSides != 0 ||
		s.cliff()
}

// NoSensorObstacles reports whether no corner or side sensor is active
func (s Snapshot) NoSensorObstacles() bool { return s.Key() == keyNone }

func (s Snapshot) cliff() bool {
	return s.Sensor&trackbot.SensorCliffs != trackbot.SensorCliffs
}

func (s Snapshot) frontCorner() bool {
	return s.Power&(trackbot.PowerForePort|trackbot.PowerForeStarboard) != 0
}

func (s Snapshot) rearCorner() bool {
	return s.Power&(trackbot.PowerAftPort|trackbot.PowerAftStarboard) != 0
}

func (s Snapshot) String() string {
	return fmt.Sprintf("power=%04x sensor=%04x key=%02x id=%d", s.Power&0xffff, s.Sensor&0xffff, s.Key(), s.ID)
}

// Combined key bits
const (
	keyAS   = 0x01 // aft-star corner
	keyAP   = 0x02 // aft-port corner
	keyFS   = 0x04 // fore-star corner
	keyFP   = 0x08 // fore-port corner
	keySA   = 0x10 // star-aft side
	keyPA   = 0x20 // port-aft side
	keySF   = 0x40 // star-fore side
	keyPF   = 0x80 // port-fore side
	keyNone = 0x00
	keyAll  = 0xff
)
