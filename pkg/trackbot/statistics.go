// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"fmt"
	"time"
)

// Statistics tracks inbound link traffic and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames   uint64
	PowerFrames   uint64
	SensorFrames  uint64
	AllStates     uint64
	VersionFrames uint64
	OtherFrames   uint64
	UnknownFrames uint64
	Acks          uint64
	Naks          uint64
	Overflows     uint64
	Timeouts      uint64
	Resumes       uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one decoder token
func (s *Statistics) Update(tok Token) {
	switch tok.Kind {
	case TokenAck:
		s.Acks++
	case TokenNak:
		s.Naks++
	case TokenOverflow:
		s.Overflows++
	case TokenFrame:
		s.TotalFrames++
		switch KindOf(tok.Frame) {
		case FramePowerState:
			s.PowerFrames++
		case FrameSensorState:
			s.SensorFrames++
		case FrameAllStates:
			s.AllStates++
		case FrameVersion:
			s.VersionFrames++
		case FrameUnknown:
			s.UnknownFrames++
		default:
			s.OtherFrames++
		}
	default:
		return
	}
	s.LastUpdateTime = time.Now()
}

// UpdateTimeout counts a timeout transition
func (s *Statistics) UpdateTimeout(timedOut bool) {
	if timedOut {
		s.Timeouts++
	} else {
		s.Resumes++
	}
}

func (s *Statistics) errors() uint64 {
	return s.Naks + s.Overflows + s.UnknownFrames + s.Timeouts
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var nakPercent float64
	if acked := s.Acks + s.Naks; acked > 0 {
		nakPercent = float64(s.Naks) * 100.0 / float64(acked)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("  Power State:   %8d\n", s.PowerFrames)
	result += fmt.Sprintf("  Sensor State:  %8d\n", s.SensorFrames)
	if s.AllStates > 0 {
		result += fmt.Sprintf("  All States:    %8d\n", s.AllStates)
	}
	if s.VersionFrames > 0 {
		result += fmt.Sprintf("  Version:       %8d\n", s.VersionFrames)
	}
	if s.OtherFrames > 0 {
		result += fmt.Sprintf("  Other:         %8d\n", s.OtherFrames)
	}
	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("  Unknown:       %8d\n", s.UnknownFrames)
	}
	result += fmt.Sprintf("ACKs:            %8d\n", s.Acks)
	if s.Naks > 0 {
		result += fmt.Sprintf("NAKs:            %8d (%.1f%%)\n", s.Naks, nakPercent)
	}
	if s.Overflows > 0 {
		result += fmt.Sprintf("Input Overflows: %8d\n", s.Overflows)
	}
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d (resumed %d)\n", s.Timeouts, s.Resumes)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
