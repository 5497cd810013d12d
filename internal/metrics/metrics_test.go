// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/sim"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// ============================================================
// Sensor Tests
// ============================================================

func TestMetrics_SensorGauges(t *testing.T) {
	m := New()

	m.PowerNodeState(0x8100)
	assert.Equal(t, float64(0x8100), testutil.ToFloat64(m.PowerState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Corners.WithLabelValues("fore_port")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Corners.WithLabelValues("aft_starboard")))

	// Fore-port cliff missing, port-aft side obstacle
	m.SensorNodeState(0x7200)
	assert.Equal(t, float64(0x7200), testutil.ToFloat64(m.SensorState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cliffs.WithLabelValues("fore_port")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Cliffs.WithLabelValues("aft_port")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sides.WithLabelValues("port_aft")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Sides.WithLabelValues("port_fore")))

	m.AllStates(0x1000, 0xf000, nil, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Corners.WithLabelValues("aft_starboard")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Corners.WithLabelValues("fore_port")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Cliffs.WithLabelValues("fore_port")))
}

func TestMetrics_LinkState(t *testing.T) {
	m := New()

	m.RobotTimeout(true, time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TimedOut))
	m.RobotTimeout(false, time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TimedOut))

	m.RobotLinkError(errors.New("unplugged"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinkFailures))
}

// ============================================================
// Behavior Observer Tests
// ============================================================

func TestMetrics_Observer(t *testing.T) {
	m := New()
	var _ behavior.Observer = m

	m.Transition("avoid", 0, 3, behavior.Snapshot{})
	m.Transition("avoid", 3, 1, behavior.Snapshot{})
	m.Command(behavior.Forward, 6)
	m.Command(behavior.Forward, 9)
	m.Command(behavior.TurnLeft, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BehaviorState.WithLabelValues("avoid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("avoid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("Forward")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("Turn left")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Speed))
}

// ============================================================
// Link Collector Tests
// ============================================================

func TestMetrics_LinkCounters(t *testing.T) {
	m := New()
	assert.NotContains(t, scrape(t, m), "trackbot_link_acks_total")

	ch := sim.NewChannel()
	fw := sim.NewRobot(ch.Join("com1"), sim.DefaultRobotConfig())
	fw.Start()
	link, err := trackbot.NewLink(ch.Join("com1"), trackbot.DefaultLinkConfig())
	require.NoError(t, err)
	host := trackbot.NewRobot(link, trackbot.RobotConfig{PollInterval: -1})
	require.NoError(t, link.Start())
	t.Cleanup(func() {
		host.Close()
		_ = fw.Close()
		<-fw.Done()
	})

	m.WatchLink(link)
	// Construction queues a brake and a version query
	require.Eventually(t, func() bool { return link.AckCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, "trackbot_link_frames_sent_total 2")
	assert.Contains(t, body, "trackbot_link_acks_total 2")
	assert.Contains(t, body, "trackbot_link_naks_total 0")
	assert.Contains(t, body, "trackbot_link_timeouts_total 0")
	assert.Contains(t, body, "trackbot_link_queue_frames 0")
}

// ============================================================
// Server Tests
// ============================================================

func TestMetrics_Health(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetrics_ServeStopsWithContext(t *testing.T) {
	m := New()
	m.Command(behavior.Backward, 6)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.serve(ctx, ln, nil) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && len(body) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestMetrics_ServeBadAddress(t *testing.T) {
	err := New().Serve(context.Background(), "bad-address", nil)
	assert.Error(t, err)
}
