// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"log/slog"
	"sync"
	"time"
)

// RobotConfig configures a Robot
type RobotConfig struct {
	// PollInterval for ?P/?S queries. Negative disables polling.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DefaultRobotConfig returns the default robot configuration
func DefaultRobotConfig() RobotConfig {
	return RobotConfig{PollInterval: DefaultSensorPollInterval}
}

// Robot is the command facade. Each method formats one command and queues it on
// the link. A nil error means the frame was queued.
type Robot struct {
	link   *Link
	events *Events
	motors *Motors
	log    *slog.Logger

	mu           sync.Mutex
	sensorEnable int
	sensorRange  int
}

// NewRobot wires the event decoder and motors onto link, brakes both tracks and
// queues a version query. The link may be started before or after.
func NewRobot(link *Link, cfg RobotConfig) *Robot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Robot{
		link:        link,
		events:      NewEvents(link, cfg.PollInterval, logger),
		motors:      NewMotors(link),
		log:         logger.With("component", "robot"),
		sensorRange: 0x33, // side and cliff at long range
	}
	if err := r.motors.Brake(MotorAll); err != nil {
		r.log.Warn("initial brake not queued", "error", err)
	}
	if err := r.SendVersionQuery(); err != nil {
		r.log.Warn("version query not queued", "error", err)
	}
	return r
}

// Events returns the event decoder
func (r *Robot) Events() *Events { return r.events }

// Motors returns the motor controller
func (r *Robot) Motors() *Motors { return r.motors }

// Link returns the link engine
func (r *Robot) Link() *Link { return r.link }

// Close stops polling and the link
func (r *Robot) Close() {
	r.events.StopPolling()
	r.link.Stop()
}

func (r *Robot) send(op string, class byte, body []byte) error {
	f, err := NewFrame(class, string(body))
	if err != nil {
		return classify(ErrorInvalid, err, "Robot", op)
	}
	if err := r.link.QueueFrame(f); err != nil {
		return classify(Classify(err), err, "Robot", op)
	}
	return nil
}

func (r *Robot) firmware() int {
	v, ok := r.events.VersionInfo()
	if !ok {
		return -1
	}
	return v.Firmware
}

// SendVersionQuery queues ?V
func (r *Robot) SendVersionQuery() error {
	return r.send("SendVersionQuery", QueryByte, []byte("V"))
}

// SendSerialNumberQuery queues ?CS
func (r *Robot) SendSerialNumberQuery() error {
	return r.send("SendSerialNumberQuery", QueryByte, []byte("CS"))
}

func checkTestPoint(op string, tp int) error {
	if tp != 1 && tp != 2 && !(9 <= tp && tp <= 20) {
		return invalidf("Robot", op, "invalid test point: %d", tp)
	}
	return nil
}

// SendTestPointQuery queues ?CT<n> for test points 1, 2 and 9-20
func (r *Robot) SendTestPointQuery(testPoint int) error {
	if err := checkTestPoint("SendTestPointQuery", testPoint); err != nil {
		return err
	}
	return r.send("SendTestPointQuery", QueryByte, appendDecimal([]byte("CT"), testPoint))
}

// SetTestPoint queues !CT<H|L><n>
func (r *Robot) SetTestPoint(testPoint int, high bool) error {
	if err := checkTestPoint("SetTestPoint", testPoint); err != nil {
		return err
	}
	level := byte('L')
	if high {
		level = 'H'
	}
	return r.send("SetTestPoint", CommandByte, appendDecimal([]byte{'C', 'T', level}, testPoint))
}

// SendTransducerStationQuery queues ?T<site> for F, A, P or S
func (r *Robot) SendTransducerStationQuery(site byte) error {
	switch site {
	case SiteFore, SiteAft, SitePort, SiteStarboard:
	default:
		return invalidf("Robot", "SendTransducerStationQuery", "bad transducer station place: 0x%02x", site)
	}
	return r.send("SendTransducerStationQuery", QueryByte, []byte{'T', site})
}

// SendTaggingMemoryQuery queues !CM<address>R[<count>]
func (r *Robot) SendTaggingMemoryQuery(address, count int) error {
	if address < 0 || address > maxTaggingAddress {
		return invalidf("Robot", "SendTaggingMemoryQuery", "address out of range: %d", address)
	}
	if count < 1 || count > maxTaggingCount {
		return invalidf("Robot", "SendTaggingMemoryQuery", "count out of range: %d", count)
	}
	body := appendDecimal([]byte("CM"), address)
	body = append(body, 'R')
	if count > 1 {
		body = appendDecimal(body, count)
	}
	return r.send("SendTaggingMemoryQuery", CommandByte, body)
}

// WriteTaggingMemory queues !CM<address>W<data>. An empty write is a no-op.
func (r *Robot) WriteTaggingMemory(address int, data []byte) error {
	if address < 0 || address > maxTaggingAddress {
		return invalidf("Robot", "WriteTaggingMemory", "address out of range: %d", address)
	}
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxTaggingWrite {
		return invalidf("Robot", "WriteTaggingMemory", "length out of range: %d", len(data))
	}
	body := appendDecimal([]byte("CM"), address)
	if n := len(body) + len(data) + 3; n > MaxFrameSize {
		return invalidf("Robot", "WriteTaggingMemory",
			"message too large; max length for this address is %d", MaxFrameSize-(n-len(data)))
	}
	body = append(body, 'W')
	body = append(body, data...)
	return r.send("WriteTaggingMemory", CommandByte, body)
}

// BeepOnce queues !CB<ms>
func (r *Robot) BeepOnce(ms int) error {
	if ms < 0 || ms > maxShortMillis {
		return invalidf("Robot", "BeepOnce", "beeper time out of range: %d", ms)
	}
	return r.send("BeepOnce", CommandByte, appendDecimal([]byte("CB"), ms))
}

// BeepAlarm queues !CA<ms>
func (r *Robot) BeepAlarm(ms int) error {
	if ms < 0 || ms > maxAlarmMillis {
		return invalidf("Robot", "BeepAlarm", "alarm time out of range: %d", ms)
	}
	return r.send("BeepAlarm", CommandByte, appendDecimal([]byte("CA"), ms))
}

// SetNavLightsBlinkTime queues !CNB<ms>
func (r *Robot) SetNavLightsBlinkTime(ms int) error {
	if ms < 0 || ms > maxBlinkMillis {
		return invalidf("Robot", "SetNavLightsBlinkTime", "blink time out of range: %d", ms)
	}
	return r.send("SetNavLightsBlinkTime", CommandByte, appendDecimal([]byte("CNB"), ms))
}

// SetNavLightsPeriod queues !CNP<ms>
func (r *Robot) SetNavLightsPeriod(ms int) error {
	if ms < 0 || ms > maxShortMillis {
		return invalidf("Robot", "SetNavLightsPeriod", "period out of range: %d", ms)
	}
	return r.send("SetNavLightsPeriod", CommandByte, appendDecimal([]byte("CNP"), ms))
}

// SetNavLightsColor queues !CN<F|A><P|S><O|R?G?B?>. Firmware 4 cannot mix
// colors, so multi-color requests are dropped for it.
func (r *Robot) SetNavLightsColor(aft, starboard, red, green, blue bool) error {
	body := []byte{'C', 'N', 'F', 'P'}
	if aft {
		body[2] = 'A'
	}
	if starboard {
		body[3] = 'S'
	}

	if !red && !green && !blue {
		body = append(body, 'O')
	} else {
		colors := 0
		if red {
			body = append(body, 'R')
			colors++
		}
		if green {
			body = append(body, 'G')
			colors++
		}
		if blue {
			body = append(body, 'B')
			colors++
		}
		if colors > 1 && r.firmware() == 4 {
			return nil
		}
	}
	return r.send("SetNavLightsColor", CommandByte, body)
}

// SetCornerSensorPingInterval queues !PPO<ms>
func (r *Robot) SetCornerSensorPingInterval(ms int) error {
	if ms < 0 || ms > maxShortMillis {
		return invalidf("Robot", "SetCornerSensorPingInterval", "interval out of range: %d", ms)
	}
	return r.send("SetCornerSensorPingInterval", CommandByte, appendDecimal([]byte("PPO"), ms))
}

// SetSideAndCliffSensorPingInterval queues !SPO<ms>
func (r *Robot) SetSideAndCliffSensorPingInterval(ms int) error {
	if ms < 0 || ms > maxShortMillis {
		return invalidf("Robot", "SetSideAndCliffSensorPingInterval", "interval out of range: %d", ms)
	}
	return r.send("SetSideAndCliffSensorPingInterval", CommandByte, appendDecimal([]byte("SPO"), ms))
}

func checkRange(op string, rng int) error {
	if rng < 1 || rng > 3 {
		return invalidf("Robot", op, "range value out of range: %d", rng)
	}
	return nil
}

// SetCornerSensorRange queues !PPR<1-3>. Firmware 4 has ranges 1 and 2 swapped.
func (r *Robot) SetCornerSensorRange(rng int) error {
	if err := checkRange("SetCornerSensorRange", rng); err != nil {
		return err
	}
	if r.firmware() == 4 {
		switch rng {
		case 1:
			rng = 2
		case 2:
			rng = 1
		}
	}
	return r.send("SetCornerSensorRange", CommandByte, []byte{'P', 'P', 'R', byte('0' + rng)})
}

// SetSideSensorRange sets the side half of the sensor node range
func (r *Robot) SetSideSensorRange(rng int) error {
	if err := checkRange("SetSideSensorRange", rng); err != nil {
		return err
	}
	if r.firmware() == 4 {
		return r.sendSensorNodeRange("SetSideSensorRange", []byte{byte('0' + rng)})
	}
	r.mu.Lock()
	r.sensorRange = rng<<4 | r.sensorRange&0x0f
	packed := r.sensorRange
	r.mu.Unlock()
	return r.sendSensorNodeRange("SetSideSensorRange", packedRange(packed))
}

// SetCliffSensorRange sets the cliff half of the sensor node range
func (r *Robot) SetCliffSensorRange(rng int) error {
	if err := checkRange("SetCliffSensorRange", rng); err != nil {
		return err
	}
	if r.firmware() == 4 {
		return r.sendSensorNodeRange("SetCliffSensorRange", []byte{byte('0' + rng)})
	}
	r.mu.Lock()
	r.sensorRange = r.sensorRange&0xf0 | rng
	packed := r.sensorRange
	r.mu.Unlock()
	return r.sendSensorNodeRange("SetCliffSensorRange", packedRange(packed))
}

// packedRange renders the side and cliff nibbles as two digits
func packedRange(v int) []byte {
	return []byte{byte('0' + v>>4&0x0f), byte('0' + v&0x0f)}
}

func (r *Robot) sendSensorNodeRange(op string, digits []byte) error {
	return r.send(op, CommandByte, append([]byte("SPR"), digits...))
}

func weights(aftStar, aftPort, foreStar, forePort bool, base int) int {
	v := 0
	if aftStar {
		v |= base
	}
	if aftPort {
		v |= base << 1
	}
	if foreStar {
		v |= base << 2
	}
	if forePort {
		v |= base << 3
	}
	return v
}

// EnableCornerSensors queues !PPE<3-digit> (weights 16/32/64/128)
func (r *Robot) EnableCornerSensors(aftStarboard, aftPort, foreStarboard, forePort bool) error {
	v := weights(aftStarboard, aftPort, foreStarboard, forePort, 16)
	return r.send("EnableCornerSensors", CommandByte, appendDigits3([]byte("PPE"), v))
}

// EnableSideSensors updates the side half of the sensor node enable state
func (r *Robot) EnableSideSensors(starboardAft, portAft, starboardFore, portFore bool) error {
	v := weights(starboardAft, portAft, starboardFore, portFore, 16)
	r.mu.Lock()
	r.sensorEnable = v | r.sensorEnable&0x0f
	state := r.sensorEnable
	r.mu.Unlock()
	return r.send("EnableSideSensors", CommandByte, appendDigits3([]byte("SPE"), state))
}

// EnableCliffSensors updates the cliff half of the sensor node enable state
func (r *Robot) EnableCliffSensors(aftStarboard, aftPort, foreStarboard, forePort bool) error {
	v := weights(aftStarboard, aftPort, foreStarboard, forePort, 1)
	r.mu.Lock()
	r.sensorEnable = r.sensorEnable&0xf0 | v
	state := r.sensorEnable
	r.mu.Unlock()
	return r.send("EnableCliffSensors", CommandByte, appendDigits3([]byte("SPE"), state))
}
