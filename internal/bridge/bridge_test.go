// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

type message struct {
	subject string
	data    []byte
}

// fakePublisher records published messages
type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject, data})
	return nil
}

func (p *fakePublisher) events(t *testing.T) []Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.msgs))
	for _, m := range p.msgs {
		e, err := Decode(m.data)
		require.NoError(t, err)
		assert.Equal(t, "trackbot.events."+e.Kind, m.subject)
		out = append(out, e)
	}
	return out
}

func newTestBridge() (*Bridge, *fakePublisher) {
	pub := &fakePublisher{}
	b := New(pub, "trackbot.events", nil)
	b.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return b, pub
}

// ============================================================
// Publish Tests
// ============================================================

func TestBridge_RobotEvents(t *testing.T) {
	b, pub := newTestBridge()
	var _ trackbot.EventListener = b

	b.PowerNodeState(0x8100)
	b.SensorNodeState(0xf000)
	b.RobotTimeout(true, time.Second)
	b.RobotVersion(trackbot.ParseVersion("H02.21F00.06"), true)
	b.RobotLinkError(errors.New("unplugged"))
	b.AllStates(0x1000, 0x7000, nil, 2)

	got := pub.events(t)
	require.Len(t, got, 7)

	tests := []struct {
		kind   string
		check  func(Event) bool
		detail string
	}{
		{KindPower, func(e Event) bool { return e.Power == 0x8100 }, "power word"},
		{KindSensor, func(e Event) bool { return e.Sensor == 0xf000 }, "sensor word"},
		{KindTimeout, func(e Event) bool { return e.TimedOut }, "timed out"},
		{KindVersion, func(e Event) bool { return e.Text == "H02.21F00.06" }, "version text"},
		{KindLinkError, func(e Event) bool { return e.Text == "unplugged" }, "error text"},
		{KindPower, func(e Event) bool { return e.Power == 0x1000 }, "all-states power"},
		{KindSensor, func(e Event) bool { return e.Sensor == 0x7000 }, "all-states sensor"},
	}
	for i, tt := range tests {
		t.Run(tt.detail, func(t *testing.T) {
			assert.Equal(t, tt.kind, got[i].Kind)
			assert.True(t, tt.check(got[i]), "event %d: %+v", i, got[i])
			assert.Equal(t, b.Session(), got[i].Session)
			assert.Equal(t, int64(1700000000123), got[i].At)
		})
	}
	assert.Equal(t, uint64(7), b.Published())
}

func TestBridge_Observer(t *testing.T) {
	b, pub := newTestBridge()
	var _ behavior.Observer = b

	b.Transition("wander", 2, 0, behavior.Snapshot{Power: 0x4000, Sensor: 0xf400})
	b.Command(behavior.VeerForwardLeft, 6)

	got := pub.events(t)
	require.Len(t, got, 2)

	assert.Equal(t, KindTransition, got[0].Kind)
	assert.Equal(t, "wander", got[0].Behavior)
	assert.Equal(t, 2, got[0].From)
	assert.Equal(t, 0, got[0].To)
	assert.Equal(t, 0x4000, got[0].Power)
	assert.Equal(t, 0xf400, got[0].Sensor)

	assert.Equal(t, KindCommand, got[1].Kind)
	assert.Equal(t, "Veer forward left", got[1].Dir)
	assert.Equal(t, 6, got[1].Speed)
}

func TestBridge_UniqueIDs(t *testing.T) {
	b, pub := newTestBridge()
	for i := 0; i < 50; i++ {
		b.PowerNodeState(i)
	}

	seen := make(map[string]bool)
	for _, e := range pub.events(t) {
		assert.Len(t, e.ID, 36)
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
	}
	assert.Len(t, seen, 50)
}

func TestBridge_PublishFailure(t *testing.T) {
	b, pub := newTestBridge()
	pub.err = errors.New("nats: connection closed")

	b.Command(behavior.Stop, 0)
	b.PowerNodeState(0)

	assert.Equal(t, uint64(0), b.Published())
	assert.Equal(t, uint64(2), b.Failed())
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestConnect_NoServer(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1", nil)
	assert.Error(t, err)
}
