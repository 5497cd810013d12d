// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"fmt"
	"strings"
	"time"
)

// FrameKind identifies an inbound or outbound frame by its leading bytes
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FramePowerState
	FrameSensorState
	FrameAllStates
	FrameVersion
	FrameSerialNumber
	FrameTestPoint
	FrameTransducer
	FrameTaggingMemory
	FrameMotor
	FramePowerConfig
	FrameSensorConfig
	FrameControl
)

// KindOf classifies a frame. It looks only at the identifier bytes.
func KindOf(f Frame) FrameKind {
	if len(f) < 2 {
		return FrameUnknown
	}
	switch f[0] {
	case QueryByte:
		switch f[1] {
		case 'P':
			return FramePowerState
		case 'S':
			return FrameSensorState
		case 'A':
			return FrameAllStates
		case 'V':
			return FrameVersion
		case 'T':
			if len(f) == testPointFrameLen {
				return FrameTestPoint
			}
			return FrameTransducer
		case 'C':
			if len(f) >= 3 && f[2] == 'S' {
				return FrameSerialNumber
			}
			if len(f) >= 3 && f[2] == 'T' {
				return FrameTestPoint
			}
		}
	case CommandByte:
		switch f[1] {
		case 'M':
			return FrameMotor
		case 'P':
			return FramePowerConfig
		case 'S':
			return FrameSensorConfig
		case 'C':
			if len(f) >= 3 && f[2] == 'M' {
				return FrameTaggingMemory
			}
			return FrameControl
		}
	}
	return FrameUnknown
}

// String returns the frame kind name
func (k FrameKind) String() string {
	switch k {
	case FramePowerState:
		return "POWER_STATE"
	case FrameSensorState:
		return "SENSOR_STATE"
	case FrameAllStates:
		return "ALL_STATES"
	case FrameVersion:
		return "VERSION"
	case FrameSerialNumber:
		return "SERIAL_NUMBER"
	case FrameTestPoint:
		return "TEST_POINT"
	case FrameTransducer:
		return "TRANSDUCER"
	case FrameTaggingMemory:
		return "TAGGING_MEMORY"
	case FrameMotor:
		return "MOTOR"
	case FramePowerConfig:
		return "POWER_CONFIG"
	case FrameSensorConfig:
		return "SENSOR_CONFIG"
	case FrameControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

func mark(state, bit int) byte {
	if state&bit != 0 {
		return '*'
	}
	return '-'
}

// FormatPowerState renders corner sensors and gain
func FormatPowerState(state int) string {
	return fmt.Sprintf("Fwd P/S: %c/%c Aft P/S: %c/%c Gain: %d",
		mark(state, PowerForePort), mark(state, PowerForeStarboard),
		mark(state, PowerAftPort), mark(state, PowerAftStarboard),
		(state>>8)&0x03)
}

// FormatCliffs renders cliff detections; '*' means no floor
func FormatCliffs(state int) string {
	inv := ^state
	return fmt.Sprintf("CLIFF: Fwd P/S: %c/%c Aft P/S: %c/%c",
		mark(inv, CliffForePort), mark(inv, CliffForeStarboard),
		mark(inv, CliffAftPort), mark(inv, CliffAftStarboard))
}

// FormatSides renders side sensors and ambient light
func FormatSides(state int) string {
	return fmt.Sprintf("P/S fwd: %c/%c P/S aft: %c/%c Ambient: %d",
		mark(state, SidePortFore), mark(state, SideStarboardFore),
		mark(state, SidePortAft), mark(state, SideStarboardAft),
		state&SensorAmbient)
}

// FormatFrame formats a frame into a human-readable line plus details
func FormatFrame(f Frame, ts time.Time) string {
	kind := KindOf(f)
	result := fmt.Sprintf("[%s] %s %q len=%d\n", ts.Format("15:04:05.000"), kind, f.String(), len(f))

	switch kind {
	case FramePowerState:
		if len(f) == nodeStateFrameLen {
			if v, ok := parseHex(f[2:6]); ok {
				result += "  " + FormatPowerState(v) + "\n"
			}
		}
	case FrameSensorState:
		if len(f) == nodeStateFrameLen {
			if v, ok := parseHex(f[2:6]); ok {
				result += "  " + FormatCliffs(v) + "\n  " + FormatSides(v) + "\n"
			}
		}
	case FrameVersion:
		if len(f) == versionFrameLen {
			v := ParseVersion(string(f[2:]))
			result += fmt.Sprintf("  Hardware: %d Firmware: %d Supported: %v\n", v.Hardware, v.Firmware, v.Supported())
		}
	case FrameAllStates:
		if len(f) == allStatesFrameLen {
			p, _ := parseHex(f[2:6])
			s, _ := parseHex(f[6:10])
			result += fmt.Sprintf("  TrackBot ID: %d\n  %s\n  %s\n  %s\n", f[10], FormatPowerState(p), FormatCliffs(s), FormatSides(s))
			seen := []string{}
			for id := 0; id < MaxTrackBots; id++ {
				row := f[11+id*BeaconSensors : 11+(id+1)*BeaconSensors]
				for _, c := range row {
					if c != 0 {
						seen = append(seen, fmt.Sprintf("%d", id))
						break
					}
				}
			}
			if len(seen) > 0 {
				result += "  Beacons from: " + strings.Join(seen, " ") + "\n"
			}
		}
	}
	return result
}
