// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// hostListener records robot events
type hostListener struct {
	trackbot.BaseListener

	mu       sync.Mutex
	allID    int
	beacons  trackbot.BeaconMatrix
	station  string
	points   map[int]bool
	memory   string
	timeouts []bool
}

func (l *hostListener) AllStates(_, _ int, m *trackbot.BeaconMatrix, id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allID = id
	l.beacons = *m
}

func (l *hostListener) TransducerStation(site byte, left, right int, pir bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.station = string(site) + " " + string(rune('0'+left)) + " " + string(rune('0'+right))
	if pir {
		l.station += " pir"
	}
}

func (l *hostListener) TestPointValue(tp int, high bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points[tp] = high
}

func (l *hostListener) TaggingMemory(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.memory = string(data)
}

func (l *hostListener) RobotTimeout(timedOut bool, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeouts = append(l.timeouts, timedOut)
}

func (l *hostListener) get(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

type rig struct {
	fw       *Robot
	host     *trackbot.Robot
	listener *hostListener
}

// newRig connects a host robot facade to a simulated robot over a channel
func newRig(t *testing.T) *rig {
	t.Helper()
	ch := NewChannel()
	fw := NewRobot(ch.Join("com1"), DefaultRobotConfig())
	fw.Start()

	cfg := trackbot.DefaultLinkConfig()
	cfg.InputBufferSize = trackbot.AllStatesFrameLen
	cfg.Timeout = 100 * time.Millisecond
	cfg.TimeoutPollInterval = 10 * time.Millisecond
	link, err := trackbot.NewLink(ch.Join("com1"), cfg)
	require.NoError(t, err)

	host := trackbot.NewRobot(link, trackbot.RobotConfig{PollInterval: -1})
	l := &hostListener{points: make(map[int]bool)}
	host.Events().AddListener(l)
	require.NoError(t, link.Start())

	t.Cleanup(func() {
		host.Close()
		_ = fw.Close()
		<-fw.Done()
	})
	return &rig{fw: fw, host: host, listener: l}
}

// ============================================================
// Simulated Robot Tests
// ============================================================

func TestRobot_AnswersVersionAndBrakes(t *testing.T) {
	r := newRig(t)

	require.Eventually(t, func() bool {
		_, ok := r.host.Events().VersionInfo()
		return ok
	}, waitFor, tick)

	v, _ := r.host.Events().VersionInfo()
	assert.Equal(t, 221, v.Hardware)
	assert.Equal(t, 6, v.Firmware)
	assert.Equal(t, "*00", r.fw.Motor(trackbot.MotorPort))
	assert.Equal(t, "*00", r.fw.Motor(trackbot.MotorStarboard))
	assert.Equal(t, []string{"!MA*00", "?V"}, r.fw.Frames()[:2])
}

func TestRobot_MotorCommands(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.host.Motors().GoForward(trackbot.MotorPort, 6))
	require.NoError(t, r.host.Motors().GoReverse(trackbot.MotorStarboard, 3))

	require.Eventually(t, func() bool {
		return r.fw.Motor(trackbot.MotorStarboard) == "-03"
	}, waitFor, tick)
	assert.Equal(t, "+06", r.fw.Motor(trackbot.MotorPort))
}

func TestRobot_NodeStates(t *testing.T) {
	r := newRig(t)
	r.fw.SetPower(0x8100)
	r.fw.SetSensor(0x7400)

	link := r.host.Link()
	require.NoError(t, link.QueueFrame(trackbot.MustNewFrame(trackbot.QueryByte, "P")))
	require.NoError(t, link.QueueFrame(trackbot.MustNewFrame(trackbot.QueryByte, "S")))

	require.Eventually(t, func() bool {
		return r.host.Events().SensorNodeState() == 0x7400
	}, waitFor, tick)
	assert.Equal(t, 0x8100, r.host.Events().PowerNodeState())
}

func TestRobot_Queries(t *testing.T) {
	r := newRig(t)
	r.fw.SetStation(trackbot.SiteFore, 3, 5, true)
	r.fw.SetTestPoint(9, true)

	require.NoError(t, r.host.SendTransducerStationQuery(trackbot.SiteFore))
	require.NoError(t, r.host.SendTestPointQuery(9))
	require.NoError(t, r.host.SendTestPointQuery(10))
	require.NoError(t, r.host.WriteTaggingMemory(10, []byte("abc")))
	require.NoError(t, r.host.SendTaggingMemoryQuery(10, 3))

	require.Eventually(t, func() bool {
		var done bool
		r.listener.get(func() { done = r.listener.memory != "" })
		return done
	}, waitFor, tick)

	r.listener.get(func() {
		assert.Equal(t, "F 3 5 pir", r.listener.station)
		assert.Equal(t, map[int]bool{9: true, 10: false}, r.listener.points)
		assert.Equal(t, "abc", r.listener.memory)
	})
}

func TestRobot_BroadcastAllStates(t *testing.T) {
	r := newRig(t)
	r.fw.SetPower(0x4000)

	var m trackbot.BeaconMatrix
	m[1][3] = 0x04
	m[63][7] = 0xff
	require.NoError(t, r.fw.BroadcastAllStates(2, &m))

	require.Eventually(t, func() bool {
		var id int
		r.listener.get(func() { id = r.listener.allID })
		return id == 2
	}, waitFor, tick)

	r.listener.get(func() {
		assert.Equal(t, m, r.listener.beacons)
	})
	assert.Equal(t, 0x4000, r.host.Events().PowerNodeState())
}

func TestRobot_BroadcastAllStatesRejects(t *testing.T) {
	fw := NewRobot(NewChannel().Join("p"), DefaultRobotConfig())

	assert.Error(t, fw.BroadcastAllStates(trackbot.MaxTrackBots, nil))
	assert.Error(t, fw.BroadcastAllStates(-1, nil))
	assert.Error(t, fw.BroadcastAllStates(trackbot.FrameEnd, nil))

	var m trackbot.BeaconMatrix
	m[0][0] = trackbot.FrameEnd
	assert.Error(t, fw.BroadcastAllStates(1, &m))
	assert.NoError(t, fw.BroadcastAllStates(1, nil))
}

func TestRobot_SilentAndNak(t *testing.T) {
	r := newRig(t)
	link := r.host.Link()
	require.Eventually(t, func() bool {
		_, ok := r.host.Events().VersionInfo()
		return ok
	}, waitFor, tick)

	r.fw.SetNak(true)
	require.NoError(t, r.host.SendVersionQuery())
	require.Eventually(t, func() bool { return link.NakCount() > 0 }, waitFor, tick)
	r.fw.SetNak(false)

	// A silent robot times the link out; answering again resumes it
	r.fw.SetSilent(true)
	require.NoError(t, r.host.SendSerialNumberQuery())
	require.Eventually(t, link.TimedOut, waitFor, tick)
	r.fw.SetSilent(false)
	require.Eventually(t, func() bool { return !link.TimedOut() }, waitFor, tick)

	r.listener.get(func() {
		require.GreaterOrEqual(t, len(r.listener.timeouts), 2)
		assert.Equal(t, []bool{true, false}, r.listener.timeouts[:2])
	})
}
