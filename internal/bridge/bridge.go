// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge publishes robot and behavior events to NATS as CBOR.
//
// Every event goes to <subject>.<kind>, for example trackbot.events.transition.
package bridge

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// Event kinds
const (
	KindPower      = "power"
	KindSensor     = "sensor"
	KindTimeout    = "timeout"
	KindVersion    = "version"
	KindLinkError  = "link_error"
	KindTransition = "transition"
	KindCommand    = "command"
)

// Event is the message body. Fields that do not apply to a kind are left at
// their zero values.
type Event struct {
	ID       string `cbor:"id"`
	Session  string `cbor:"session"`
	Kind     string `cbor:"kind"`
	At       int64  `cbor:"at"` // Unix milliseconds
	Power    int    `cbor:"power"`
	Sensor   int    `cbor:"sensor"`
	Behavior string `cbor:"behavior,omitempty"`
	From     int    `cbor:"from"`
	To       int    `cbor:"to"`
	Dir      string `cbor:"dir,omitempty"`
	Speed    int    `cbor:"speed"`
	TimedOut bool   `cbor:"timed_out"`
	Text     string `cbor:"text,omitempty"`
}

// Decode parses a CBOR event body
func Decode(data []byte) (Event, error) {
	var e Event
	if err := cbor.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

// Publisher is the part of *nats.Conn the bridge uses
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Bridge publishes events. It is a trackbot.EventListener and a
// behavior.Observer.
type Bridge struct {
	trackbot.BaseListener

	pub     Publisher
	subject string
	session string
	log     *slog.Logger
	now     func() time.Time

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a bridge publishing under subject
func New(pub Publisher, subject string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		pub:     pub,
		subject: subject,
		session: uuid.NewString(),
		log:     logger.With("component", "bridge"),
		now:     time.Now,
	}
}

// Session returns the id shared by every event of this bridge
func (b *Bridge) Session() string { return b.session }

// Published returns the number of events handed to the publisher
func (b *Bridge) Published() uint64 { return b.published.Load() }

// Failed returns the number of events the publisher rejected
func (b *Bridge) Failed() uint64 { return b.failed.Load() }

func (b *Bridge) publish(e Event) {
	e.ID = uuid.NewString()
	e.Session = b.session
	e.At = b.now().UnixMilli()

	data, err := cbor.Marshal(e)
	if err != nil {
		b.failed.Add(1)
		b.log.Warn("event not encoded", "kind", e.Kind, "error", err)
		return
	}
	if err := b.pub.Publish(b.subject+"."+e.Kind, data); err != nil {
		b.failed.Add(1)
		b.log.Debug("event not published", "kind", e.Kind, "error", err)
		return
	}
	b.published.Add(1)
}

func (b *Bridge) PowerNodeState(state int) {
	b.publish(Event{Kind: KindPower, Power: state})
}

func (b *Bridge) SensorNodeState(state int) {
	b.publish(Event{Kind: KindSensor, Sensor: state})
}

// AllStates publishes the node states of a simulator update
func (b *Bridge) AllStates(power, sensor int, _ *trackbot.BeaconMatrix, _ int) {
	b.publish(Event{Kind: KindPower, Power: power})
	b.publish(Event{Kind: KindSensor, Sensor: sensor})
}

func (b *Bridge) RobotTimeout(timedOut bool, _ time.Duration) {
	b.publish(Event{Kind: KindTimeout, TimedOut: timedOut})
}

func (b *Bridge) RobotVersion(v trackbot.VersionInfo, _ bool) {
	b.publish(Event{Kind: KindVersion, Text: v.String()})
}

func (b *Bridge) RobotLinkError(err error) {
	b.publish(Event{Kind: KindLinkError, Text: err.Error()})
}

// Transition publishes a behavior state change with its sensor words
func (b *Bridge) Transition(name string, from, to behavior.State, snap behavior.Snapshot) {
	b.publish(Event{
		Kind:     KindTransition,
		Behavior: name,
		From:     int(from),
		To:       int(to),
		Power:    snap.Power,
		Sensor:   snap.Sensor,
	})
}

// Command publishes a motor command
func (b *Bridge) Command(dir behavior.Direction, speed int) {
	b.publish(Event{Kind: KindCommand, Dir: dir.String(), Speed: speed})
}

// Connect dials a NATS server for the bridge
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "bridge")
	conn, err := nats.Connect(url,
		nats.Name("trackbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return conn, nil
}
