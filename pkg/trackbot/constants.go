// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package trackbot provides a Go implementation of the TrackBot serial protocol.
//
// TrackBot firmware speaks an ASCII protocol over a half-duplex serial link. Every
// frame starts with a class byte ('?' query, '!' command) and ends with a carriage
// return. The robot answers each received frame with a single '+' (ACK) or '-' (NAK)
// byte. This package provides the frame codec, the link engine that keeps exactly one
// frame in flight, the event decoder that turns responses into sensor events, and the
// command facade used by behaviors.
package trackbot

import "time"

// Frame class and terminator bytes
const (
	QueryByte   = '?'
	CommandByte = '!'
	FrameEnd    = '\r'
	AckByte     = '+'
	NakByte     = '-'
)

// MaxFrameSize is the largest outbound frame the firmware accepts.
const MaxFrameSize = 16

// Link defaults
const (
	DefaultBaudRate            = 19200
	DefaultTimeout             = 1000 * time.Millisecond
	DefaultTimeoutPollInterval = 100 * time.Millisecond
	DefaultBufferSize          = 64
	DefaultSensorPollInterval  = 100 * time.Millisecond
)

// Inbound frame lengths, class byte included, terminator excluded
const (
	allStatesFrameLen = 523
	nodeStateFrameLen = 6
	versionFrameLen   = 14
	testPointFrameLen = 6
	transducerLen     = 7
	serialNumberLen   = 7
)

// AllStatesFrameLen is the length of a ?A frame without its CR. A link that
// receives all-state updates needs an input buffer at least this large.
const AllStatesFrameLen = allStatesFrameLen

// Beacon matrix dimensions
const (
	MaxTrackBots    = 64
	BeaconSensors   = 8
	beaconMatrixLen = MaxTrackBots * BeaconSensors
)

// Motor selectors
const (
	MotorPort      = 'P'
	MotorStarboard = 'S'
	MotorAll       = 'A'
)

// Motor directions as sent on the wire
const (
	DirForward = '+'
	DirReverse = '-'
	DirBrake   = '*'
)

// Motor speeds
const (
	SpeedCoast   = 0
	SpeedSlowest = 1
	SpeedSlow    = 3
	SpeedMedium  = 6
	SpeedFast    = 9
	SpeedMax     = 10
)

// Power node bits (corner sensors)
const (
	PowerForePort      = 0x8000
	PowerForeStarboard = 0x4000
	PowerAftPort       = 0x2000
	PowerAftStarboard  = 0x1000
	PowerCorners       = 0xf000
	PowerGainMask      = 0x0300
)

// Sensor node bits. Cliff bits read 1 when the floor is present.
const (
	CliffForePort      = 0x8000
	CliffForeStarboard = 0x4000
	CliffAftPort       = 0x2000
	CliffAftStarboard  = 0x1000
	SensorCliffs       = 0xf000

	SidePortFore      = 0x0800
	SideStarboardFore = 0x0400
	SidePortAft       = 0x0200
	SideStarboardAft  = 0x0100
	SensorSides       = 0x0f00

	SensorAmbient = 0x00ff
)

// Transducer station sites
const (
	SiteFore      = 'F'
	SiteAft       = 'A'
	SitePort      = 'P'
	SiteStarboard = 'S'
)

// Command facade limits
const (
	maxTaggingAddress = 8191
	maxTaggingCount   = 17
	maxTaggingWrite   = 32
	maxAlarmMillis    = 249
	maxBlinkMillis    = 255
	maxShortMillis    = 65535
)

// Minimum hardware revision the core supports
const minHardwareVersion = 221
