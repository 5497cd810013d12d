// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/Thermoquad/trackbot/pkg/trackbot"
)

// DefaultVersion is the version string a simulated robot reports
const DefaultVersion = "H02.21F00.06"

// RobotConfig configures a simulated robot
type RobotConfig struct {
	Version string
	Serial  string
	// Power and Sensor are the initial node states
	Power  int
	Sensor int
	Logger *slog.Logger
}

// DefaultRobotConfig returns a current-firmware robot on a clear floor
func DefaultRobotConfig() RobotConfig {
	return RobotConfig{
		Version: DefaultVersion,
		Serial:  "0001",
		Power:   0,
		Sensor:  trackbot.SensorCliffs,
	}
}

type station struct {
	left, right int
	pir         bool
}

// Robot is a simulated TrackBot firmware. It ACKs every frame and answers
// queries from its own state.
type Robot struct {
	conn io.ReadWriteCloser
	log  *slog.Logger

	mu         sync.Mutex
	version    string
	serial     string
	power      int
	sensor     int
	silent     bool
	nak        bool
	frames     []string
	motors     map[byte]string
	testPoints map[int]bool
	stations   map[byte]station
	memory     [8192]byte

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// NewRobot creates a robot answering on conn. Call Start to begin serving.
func NewRobot(conn io.ReadWriteCloser, cfg RobotConfig) *Robot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	return &Robot{
		conn:       conn,
		log:        logger.With("component", "sim-robot"),
		version:    cfg.Version,
		serial:     cfg.Serial,
		power:      cfg.Power,
		sensor:     cfg.Sensor,
		motors:     make(map[byte]string),
		testPoints: make(map[int]bool),
		stations:   make(map[byte]station),
		done:       make(chan struct{}),
	}
}

// Start serves frames until the connection closes
func (r *Robot) Start() {
	go r.serve()
}

// Close closes the connection. The serve loop exits once it has drained what
// was already delivered.
func (r *Robot) Close() error {
	var err error
	r.once.Do(func() {
		err = r.conn.Close()
	})
	return err
}

// Done is closed when the serve loop exits
func (r *Robot) Done() <-chan struct{} { return r.done }

// SetPower sets the power node state reported to ?P
func (r *Robot) SetPower(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.power = state
}

// SetSensor sets the sensor node state reported to ?S
func (r *Robot) SetSensor(state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensor = state
}

// SetSilent makes the robot drop every frame without answering
func (r *Robot) SetSilent(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = silent
}

// SetNak makes the robot NAK every frame
func (r *Robot) SetNak(nak bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nak = nak
}

// SetTestPoint sets the level reported for a test point
func (r *Robot) SetTestPoint(testPoint int, high bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.testPoints[testPoint] = high
}

// SetStation sets a transducer station reading
func (r *Robot) SetStation(site byte, left, right int, pir bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stations[site] = station{left: left, right: right, pir: pir}
}

// Frames returns every frame received so far, without terminators
func (r *Robot) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

// Motor returns the last direction and speed commanded for a track, such as
// "+06", or "" if none
func (r *Robot) Motor(motor byte) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.motors[motor]
}

// BroadcastAllStates sends a ?A frame carrying both node states, the
// robot's ID and its beacon matrix. A nil matrix sends an empty one.
func (r *Robot) BroadcastAllStates(id int, m *trackbot.BeaconMatrix) error {
	if id < 0 || id >= trackbot.MaxTrackBots {
		return fmt.Errorf("sim: robot id %d out of range", id)
	}
	r.mu.Lock()
	power, sensor := r.power, r.sensor
	r.mu.Unlock()

	var b bytes.Buffer
	b.Grow(trackbot.AllStatesFrameLen + 1)
	fmt.Fprintf(&b, "?A%04X%04X", power&0xffff, sensor&0xffff)
	b.WriteByte(byte(id))
	for row := 0; row < trackbot.MaxTrackBots; row++ {
		for col := 0; col < trackbot.BeaconSensors; col++ {
			var cell uint8
			if m != nil {
				cell = m[row][col]
			}
			b.WriteByte(cell)
		}
	}
	// The frame is raw bytes, so a CR in the payload would end it early
	if bytes.IndexByte(b.Bytes()[2:], trackbot.FrameEnd) >= 0 {
		return errors.New("sim: all-states payload contains the frame terminator")
	}
	b.WriteByte(trackbot.FrameEnd)
	return r.write(b.Bytes())
}

func (r *Robot) write(p []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_, err := r.conn.Write(p)
	return err
}

func (r *Robot) serve() {
	defer close(r.done)
	d := trackbot.NewDecoder(trackbot.DefaultBufferSize)
	buf := make([]byte, trackbot.DefaultBufferSize)
	for {
		n, err := r.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) {
				r.log.Debug("read failed", "error", err)
			}
			return
		}
		for _, c := range buf[:n] {
			tok := d.DecodeByte(c)
			if tok.Kind != trackbot.TokenFrame {
				continue
			}
			reply := r.handle(string(tok.Frame))
			if reply == nil {
				continue
			}
			if err := r.write(reply); err != nil {
				r.log.Debug("write failed", "error", err)
				return
			}
		}
	}
}

// handle records one frame and returns the ACK or NAK plus any response
func (r *Robot) handle(frame string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
	if r.silent {
		return nil
	}
	if r.nak {
		return []byte{trackbot.NakByte}
	}

	out := []byte{trackbot.AckByte}
	respond := func(format string, args ...any) {
		out = append(out, fmt.Sprintf(format, args...)...)
		out = append(out, trackbot.FrameEnd)
	}

	switch {
	case frame == "?V":
		respond("?V%s", r.version)
	case frame == "?CS":
		respond("?CS%s", r.serial)
	case frame == "?P":
		respond("?P%04X", r.power&0xffff)
	case frame == "?S":
		respond("?S%04X", r.sensor&0xffff)
	case strings.HasPrefix(frame, "?CT"):
		var tp int
		if _, err := fmt.Sscanf(frame[3:], "%d", &tp); err == nil {
			level := 'L'
			if r.testPoints[tp] {
				level = 'H'
			}
			respond("?T%03d%c", tp, level)
		}
	case len(frame) == 3 && strings.HasPrefix(frame, "?T"):
		st := r.stations[frame[2]]
		pir := 0x8
		if st.pir {
			pir = 0
		}
		respond("?T%c%X%X%X0", frame[2], st.right&0xf, st.left&0xf, pir)
	case strings.HasPrefix(frame, "!CT") && len(frame) >= 5:
		var tp int
		if _, err := fmt.Sscanf(frame[4:], "%d", &tp); err == nil {
			r.testPoints[tp] = frame[3] == 'H'
		}
	case strings.HasPrefix(frame, "!CM"):
		if data, ok := r.tagging(frame[3:]); ok {
			respond("!CM%s", data)
		}
	case strings.HasPrefix(frame, "!M") && len(frame) >= 6:
		r.motor(frame[2], frame[3:6])
	}
	return out
}

// tagging runs a tagging memory read or write. Reads return the bytes to send
// back. r.mu is held.
func (r *Robot) tagging(body string) ([]byte, bool) {
	i := strings.IndexAny(body, "RW")
	if i <= 0 {
		return nil, false
	}
	addr, err := strconv.Atoi(body[:i])
	if err != nil || addr < 0 || addr >= len(r.memory) {
		return nil, false
	}
	rest := body[i+1:]
	if body[i] == 'W' {
		copy(r.memory[addr:], rest)
		return nil, false
	}
	count := 1
	if rest != "" {
		if count, err = strconv.Atoi(rest); err != nil || count < 1 {
			return nil, false
		}
	}
	end := min(addr+count, len(r.memory))
	return append([]byte(nil), r.memory[addr:end]...), true
}

// motor records a motor command. r.mu is held.
func (r *Robot) motor(which byte, cmd string) {
	switch which {
	case trackbot.MotorAll:
		r.motors[trackbot.MotorPort] = cmd
		r.motors[trackbot.MotorStarboard] = cmd
	case trackbot.MotorPort, trackbot.MotorStarboard:
		r.motors[which] = cmd
	}
}
