// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import "time"

// Session is one connection to a robot running one behavior
type Session struct {
	ID        string `gorm:"primaryKey;size:36"`
	Behavior  string `gorm:"size:32"`
	Version   string `gorm:"size:16"`
	Serial    string `gorm:"size:8"`
	StartedAt time.Time
	EndedAt   *time.Time
}

// SensorSample is the pair of node state words after a sensor update. A word
// that has not been received yet is -1.
type SensorSample struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;size:36"`
	At        time.Time
	Power     int
	Sensor    int
}

// Transition is one behavior state change with the sensors that caused it
type Transition struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;size:36"`
	At        time.Time
	Behavior  string `gorm:"size:32"`
	From      int
	To        int
	Power     int
	Sensor    int
}
