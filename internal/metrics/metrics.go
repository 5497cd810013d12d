// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports link, sensor and behavior telemetry to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thermoquad/trackbot/pkg/behavior"
	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

const namespace = "trackbot"

// Metrics holds every trackbot collector. It is a trackbot.EventListener for
// the sensor gauges and a behavior.Observer for the behavior series.
type Metrics struct {
	trackbot.BaseListener

	registry *prometheus.Registry
	link     *linkCollector

	// Sensors
	PowerState   prometheus.Gauge
	SensorState  prometheus.Gauge
	Corners      *prometheus.GaugeVec
	Sides        *prometheus.GaugeVec
	Cliffs       *prometheus.GaugeVec
	TimedOut     prometheus.Gauge
	LinkFailures prometheus.Counter

	// Behavior
	BehaviorState *prometheus.GaugeVec
	Transitions   *prometheus.CounterVec
	Commands      *prometheus.CounterVec
	Speed         prometheus.Gauge
}

// New creates the collectors and registers them on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		link:     &linkCollector{},

		PowerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "power_state",
			Help:      "Last power node state word",
		}),
		SensorState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "sensor_state",
			Help:      "Last sensor node state word after cliff masking",
		}),
		Corners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "corner_obstacle",
			Help:      "Corner sensor sees an obstacle (0=clear, 1=obstacle)",
		}, []string{"corner"}),
		Sides: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "side_obstacle",
			Help:      "Side sensor sees an obstacle (0=clear, 1=obstacle)",
		}, []string{"side"}),
		Cliffs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensor",
			Name:      "cliff",
			Help:      "Cliff sensor misses the floor (0=floor, 1=cliff)",
		}, []string{"corner"}),
		TimedOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "timed_out",
			Help:      "Link timeout state (0=ok, 1=timed out)",
		}),
		LinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "failures_total",
			Help:      "Fatal link errors",
		}),

		BehaviorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "state",
			Help:      "Current behavior state number",
		}, []string{"behavior"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "transitions_total",
			Help:      "Behavior state changes",
		}, []string{"behavior"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "commands_total",
			Help:      "Motor direction commands sent",
		}, []string{"direction"}),
		Speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "speed",
			Help:      "Speed of the last motor command",
		}),
	}

	m.registry.MustRegister(
		m.link,
		m.PowerState, m.SensorState, m.Corners, m.Sides, m.Cliffs,
		m.TimedOut, m.LinkFailures,
		m.BehaviorState, m.Transitions, m.Commands, m.Speed,
	)
	return m
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WatchLink exports the counters of l. A later call replaces the link.
func (m *Metrics) WatchLink(l *trackbot.Link) {
	m.link.set(l)
}

var (
	cornerLabels = [4]string{"aft_starboard", "aft_port", "fore_starboard", "fore_port"}
	sideLabels   = [4]string{"starboard_aft", "port_aft", "starboard_fore", "port_fore"}
)

func setBits(v *prometheus.GaugeVec, labels [4]string, bits int) {
	for i, label := range labels {
		v.WithLabelValues(label).Set(float64((bits >> i) & 1))
	}
}

// PowerNodeState updates the power word and corner gauges
func (m *Metrics) PowerNodeState(state int) {
	m.PowerState.Set(float64(state))
	setBits(m.Corners, cornerLabels, (state>>12)&0xf)
}

// SensorNodeState updates the sensor word, side and cliff gauges
func (m *Metrics) SensorNodeState(state int) {
	m.SensorState.Set(float64(state))
	setBits(m.Sides, sideLabels, (state>>8)&0xf)
	setBits(m.Cliffs, cornerLabels, (^state>>12)&0xf)
}

// AllStates updates the sensor gauges from a simulator update
func (m *Metrics) AllStates(power, sensor int, _ *trackbot.BeaconMatrix, _ int) {
	m.PowerNodeState(power)
	m.SensorNodeState(sensor)
}

// RobotTimeout tracks the link timeout state
func (m *Metrics) RobotTimeout(timedOut bool, _ time.Duration) {
	if timedOut {
		m.TimedOut.Set(1)
	} else {
		m.TimedOut.Set(0)
	}
}

// RobotLinkError counts fatal link errors
func (m *Metrics) RobotLinkError(error) {
	m.LinkFailures.Inc()
}

// Transition records a behavior state change
func (m *Metrics) Transition(name string, _, to behavior.State, _ behavior.Snapshot) {
	m.BehaviorState.WithLabelValues(name).Set(float64(to))
	m.Transitions.WithLabelValues(name).Inc()
}

// Command records a motor command
func (m *Metrics) Command(dir behavior.Direction, speed int) {
	m.Commands.WithLabelValues(dir.String()).Inc()
	m.Speed.Set(float64(speed))
}

// linkCollector reads the counters of the current link on every scrape
type linkCollector struct {
	mu   sync.Mutex
	link *trackbot.Link
}

var (
	linkSentDesc      = linkDesc("frames_sent_total", "Frames written to the transport")
	linkAcksDesc      = linkDesc("acks_total", "ACK bytes received")
	linkNaksDesc      = linkDesc("naks_total", "NAK bytes received")
	linkOverflowsDesc = linkDesc("input_overflows_total", "Inbound frames dropped for size")
	linkTimeoutsDesc  = linkDesc("timeouts_total", "Entries into the timeout state")
	linkResumesDesc   = linkDesc("resumes_total", "Recoveries from the timeout state")
	linkQueueDesc     = linkDesc("queue_frames", "Frames waiting in the send queue")
)

func linkDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, nil, nil)
}

func (c *linkCollector) set(l *trackbot.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = l
}

func (c *linkCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		linkSentDesc, linkAcksDesc, linkNaksDesc, linkOverflowsDesc,
		linkTimeoutsDesc, linkResumesDesc, linkQueueDesc,
	} {
		ch <- d
	}
}

func (c *linkCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return
	}

	counters := l.Counters()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	counter(linkSentDesc, counters.Sent)
	counter(linkAcksDesc, counters.Acks)
	counter(linkNaksDesc, counters.Naks)
	counter(linkOverflowsDesc, counters.Overflows)
	counter(linkTimeoutsDesc, counters.Timeouts)
	counter(linkResumesDesc, counters.Resumes)
	ch <- prometheus.MustNewConstMetric(linkQueueDesc, prometheus.GaugeValue, float64(l.QueueLen()))
}
