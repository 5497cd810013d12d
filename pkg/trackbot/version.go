// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import "strconv"

// VersionInfo holds the parsed robot version string, "Hhh.hhFff.ff"
type VersionInfo struct {
	Version  string
	Hardware int
	Firmware int
}

// ParseVersion parses a 12 character version body. A string with the wrong
// shape leaves both numbers at -1; a well formed string with bad digits gives 0.
func ParseVersion(s string) VersionInfo {
	v := VersionInfo{Version: s, Hardware: -1, Firmware: -1}
	if len(s) != 12 || s[0] != 'H' || s[3] != '.' || s[6] != 'F' || s[9] != '.' {
		return v
	}
	hw, err1 := strconv.Atoi(s[1:3] + s[4:6])
	fw, err2 := strconv.Atoi(s[7:9] + s[10:12])
	if err1 != nil || err2 != nil {
		v.Hardware, v.Firmware = 0, 0
		return v
	}
	v.Hardware, v.Firmware = hw, fw
	return v
}

// Known reports whether a version string has been received
func (v VersionInfo) Known() bool {
	return v.Version != ""
}

// Supported reports whether this core can drive the robot
func (v VersionInfo) Supported() bool {
	return v.Hardware >= minHardwareVersion && v.Firmware != 5
}

func (v VersionInfo) atLeast(fw int) bool {
	return v.Hardware >= minHardwareVersion && v.Firmware >= fw
}

// BeeperSupported reports support for !CB
func (v VersionInfo) BeeperSupported() bool { return v.atLeast(4) }

// AlarmSupported reports support for !CA
func (v VersionInfo) AlarmSupported() bool { return v.atLeast(5) }

// NavLightsSupported reports support for !CN
func (v VersionInfo) NavLightsSupported() bool { return v.atLeast(4) }

// TestPointsSupported reports support for ?CT and !CT
func (v VersionInfo) TestPointsSupported() bool { return v.atLeast(4) }

// TaggingMemorySupported reports support for !CM
func (v VersionInfo) TaggingMemorySupported() bool { return v.atLeast(5) }

// SerialNumberSupported reports support for ?CS
func (v VersionInfo) SerialNumberSupported() bool { return v.atLeast(5) }

// RangingSupported reports support for !PPR and !SPR
func (v VersionInfo) RangingSupported() bool { return v.atLeast(4) }

// IREnableSupported reports support for !PPE and !SPE
func (v VersionInfo) IREnableSupported() bool { return v.atLeast(4) }

// IRPingIntervalSupported reports support for !PPO and !SPO
func (v VersionInfo) IRPingIntervalSupported() bool { return v.atLeast(5) }

// MotorJumpBellSupported reports support for the J motor suffix
func (v VersionInfo) MotorJumpBellSupported() bool { return v.atLeast(5) }

// String returns the raw version string
func (v VersionInfo) String() string {
	return v.Version
}
