// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store records sensor samples and behavior transitions to SQLite.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// DefaultQueueSize is the number of records buffered ahead of the writer
const DefaultQueueSize = 256

// DB wraps the GORM database
type DB struct {
	db *gorm.DB
}

// Open opens or creates the database at path and migrates the schema
func Open(path string, log *slog.Logger) (*DB, error) {
	var gormLog logger.Interface
	if log != nil {
		gormLog = logger.New(
			slog.NewLogLogger(log.Handler(), slog.LevelWarn),
			logger.Config{
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	} else {
		gormLog = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Session{}, &SensorSample{}, &Transition{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database
func (d *DB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sessions returns every session, oldest first
func (d *DB) Sessions() ([]Session, error) {
	var out []Session
	err := d.db.Order("started_at").Find(&out).Error
	return out, err
}

// Samples returns the sensor samples of a session in arrival order
func (d *DB) Samples(sessionID string) ([]SensorSample, error) {
	var out []SensorSample
	err := d.db.Where("session_id = ?", sessionID).Order("id").Find(&out).Error
	return out, err
}

// Transitions returns the behavior transitions of a session in order
func (d *DB) Transitions(sessionID string) ([]Transition, error) {
	var out []Transition
	err := d.db.Where("session_id = ?", sessionID).Order("id").Find(&out).Error
	return out, err
}

// Recorder writes one session. It is a trackbot.EventListener for sensor
// samples and robot identity, and a behavior.Observer for transitions.
// Records are written by a single goroutine so event callbacks never wait on
// the disk; when the queue is full records are dropped and counted.
type Recorder struct {
	trackbot.BaseListener

	db      *DB
	log     *slog.Logger
	session Session

	mu      sync.Mutex
	power   int
	sensor  int
	closed  bool
	dropped uint64

	records chan any
	done    chan struct{}
}

// NewRecorder starts a session for the named behavior
func NewRecorder(db *DB, behaviorName string, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	s := Session{
		ID:        uuid.NewString(),
		Behavior:  behaviorName,
		StartedAt: time.Now(),
	}
	if err := db.db.Create(&s).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	r := &Recorder{
		db:      db,
		log:     log.With("component", "store", "session", s.ID),
		session: s,
		power:   -1,
		sensor:  -1,
		records: make(chan any, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go r.write()
	return r, nil
}

// SessionID returns the id of the recorded session
func (r *Recorder) SessionID() string { return r.session.ID }

// Dropped returns the number of records lost to a full queue
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// enqueue hands rec to the writer. r.mu is held.
func (r *Recorder) enqueue(rec any) {
	if r.closed {
		return
	}
	select {
	case r.records <- rec:
	default:
		r.dropped++
	}
}

func (r *Recorder) write() {
	defer close(r.done)
	for rec := range r.records {
		var err error
		switch v := rec.(type) {
		case *SensorSample:
			err = r.db.db.Create(v).Error
		case *Transition:
			err = r.db.db.Create(v).Error
		case sessionUpdate:
			err = r.db.db.Model(&Session{}).Where("id = ?", r.session.ID).Updates(map[string]any(v)).Error
		}
		if err != nil {
			r.log.Warn("record not written", "error", err)
		}
	}
}

type sessionUpdate map[string]any

func (r *Recorder) sample() {
	r.enqueue(&SensorSample{
		SessionID: r.session.ID,
		At:        time.Now(),
		Power:     r.power,
		Sensor:    r.sensor,
	})
}

// PowerNodeState records a sample with the new power word
func (r *Recorder) PowerNodeState(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power = state
	r.sample()
}

// SensorNodeState records a sample with the new sensor word
func (r *Recorder) SensorNodeState(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensor = state
	r.sample()
}

// AllStates records one sample for a simulator update
func (r *Recorder) AllStates(power, sensor int, _ *trackbot.BeaconMatrix, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power, r.sensor = power, sensor
	r.sample()
}

// RobotVersion stores the firmware version on the session
func (r *Recorder) RobotVersion(v trackbot.VersionInfo, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(sessionUpdate{"version": v.String()})
}

// RobotSerialNumber stores the serial number on the session
func (r *Recorder) RobotSerialNumber(serial string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(sessionUpdate{"serial": serial})
}

// Transition records a behavior state change
func (r *Recorder) Transition(name string, from, to behavior.State, snap behavior.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueue(&Transition{
		SessionID: r.session.ID,
		At:        time.Now(),
		Behavior:  name,
		From:      int(from),
		To:        int(to),
		Power:     snap.Power,
		Sensor:    snap.Sensor,
	})
}

// Command is not recorded
func (r *Recorder) Command(behavior.Direction, int) {}

// Close flushes pending records and ends the session. The database stays
// open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.records)
	r.mu.Unlock()

	<-r.done
	if n := r.Dropped(); n > 0 {
		r.log.Warn("records dropped", "count", n)
	}
	return r.db.db.Model(&Session{}).Where("id = ?", r.session.ID).Update("ended_at", time.Now()).Error
}
