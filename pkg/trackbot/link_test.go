// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================
// Test Transport
// ============================================================

// testConn is a duplex transport: the test injects robot bytes through
// inject and observes every frame the link writes on writes.
type testConn struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	writes chan []byte

	mu       sync.Mutex
	closed   bool
	writeErr error
}

func newTestConn() *testConn {
	r, w := io.Pipe()
	return &testConn{r: r, w: w, writes: make(chan []byte, 256)}
}

func (c *testConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *testConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (c *testConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.r.Close()
}

func (c *testConn) inject(s string) {
	go func() { _, _ = c.w.Write([]byte(s)) }()
}

func (c *testConn) nextWrite(t *testing.T, within time.Duration) []byte {
	t.Helper()
	select {
	case b := <-c.writes:
		return b
	case <-time.After(within):
		t.Fatalf("no write within %v", within)
		return nil
	}
}

// recordingListener captures link callbacks
type recordingListener struct {
	mu       sync.Mutex
	frames   []string
	timeouts []bool
	windows  []time.Duration
	inErrs   []error
	outErrs  []error
	changed  chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{changed: make(chan struct{}, 64)}
}

func (r *recordingListener) poke() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *recordingListener) MessageReceived(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, string(f))
	r.mu.Unlock()
	r.poke()
}

func (r *recordingListener) TimeoutStatus(timedOut bool, timeout time.Duration) {
	r.mu.Lock()
	r.timeouts = append(r.timeouts, timedOut)
	r.windows = append(r.windows, timeout)
	r.mu.Unlock()
	r.poke()
}

func (r *recordingListener) InputError(err error) {
	r.mu.Lock()
	r.inErrs = append(r.inErrs, err)
	r.mu.Unlock()
	r.poke()
}

func (r *recordingListener) OutputError(err error) {
	r.mu.Lock()
	r.outErrs = append(r.outErrs, err)
	r.mu.Unlock()
	r.poke()
}

func (r *recordingListener) timeoutLog() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.timeouts...)
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}

func testLinkConfig() LinkConfig {
	cfg := DefaultLinkConfig()
	cfg.Timeout = 50 * time.Millisecond
	cfg.TimeoutPollInterval = 5 * time.Millisecond
	return cfg
}

func newTestLink(t *testing.T, cfg LinkConfig) (*Link, *testConn) {
	t.Helper()
	conn := newTestConn()
	l, err := NewLink(conn, cfg)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	t.Cleanup(l.Stop)
	return l, conn
}

// ============================================================
// Queue Tests (no goroutines)
// ============================================================

func TestNewLink_InvalidConfig(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.OutputBufferSize = 0
	if _, err := NewLink(newTestConn(), cfg); !IsInvalid(err) {
		t.Errorf("NewLink() error = %v, want invalid", err)
	}
	if _, err := NewLink(nil, DefaultLinkConfig()); !IsInvalid(err) {
		t.Errorf("NewLink(nil) error = %v, want invalid", err)
	}
}

func TestQueue_CompactsOnAck(t *testing.T) {
	l, _ := newTestLink(t, DefaultLinkConfig())

	frames := []string{"!MA+09\r", "?P\r", "?S\r", "?V\r"}
	for _, f := range frames {
		if !l.Queue([]byte(f)) {
			t.Fatalf("Queue(%q) = false", f)
		}
	}

	for i := range frames {
		want := ""
		for _, f := range frames[i:] {
			want += f
		}
		if got := string(l.QueuedBytes()); got != want {
			t.Fatalf("after %d acks arena = %q, want %q", i, got, want)
		}
		if got := l.QueueLen(); got != len(frames)-i {
			t.Errorf("QueueLen() = %d, want %d", got, len(frames)-i)
		}
		l.acknowledge(AckReceived)
	}
	if l.QueueLen() != 0 || len(l.QueuedBytes()) != 0 {
		t.Errorf("queue not empty after all acks: %q", l.QueuedBytes())
	}
}

func TestQueue_NakAlsoPops(t *testing.T) {
	l, _ := newTestLink(t, DefaultLinkConfig())
	l.Queue([]byte("?P\r"))
	l.Queue([]byte("?S\r"))
	l.acknowledge(NakReceived)
	if got := string(l.QueuedBytes()); got != "?S\r" {
		t.Errorf("arena = %q, want %q", got, "?S\r")
	}
	if l.LastAck() != NakReceived {
		t.Errorf("LastAck() = %v, want NAK", l.LastAck())
	}
}

func TestQueue_TimeoutCollapse(t *testing.T) {
	l, _ := newTestLink(t, DefaultLinkConfig())
	for _, f := range []string{"!MA+09\r", "?P\r", "?S\r", "?V\r"} {
		l.Queue([]byte(f))
	}
	l.acknowledge(AckTimeout)

	if got := l.QueueLen(); got != 1 {
		t.Errorf("QueueLen() after timeout = %d, want 1", got)
	}
	if got := string(l.QueuedBytes()); got != "!MA+09\r" {
		t.Errorf("arena after timeout = %q, want head only", got)
	}

	// Collapsed queue keeps working
	l.Queue([]byte("?V\r"))
	l.acknowledge(AckReceived)
	if got := string(l.QueuedBytes()); got != "?V\r" {
		t.Errorf("arena = %q, want %q", got, "?V\r")
	}
}

func TestQueue_AckOnEmptyIsNoop(t *testing.T) {
	l, _ := newTestLink(t, DefaultLinkConfig())
	l.acknowledge(AckReceived)
	l.acknowledge(AckTimeout)
	if l.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", l.QueueLen())
	}
}

func TestQueue_Full(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.OutputBufferSize = 8
	l, _ := newTestLink(t, cfg)

	if !l.Queue([]byte("!MA+09\r")) {
		t.Fatal("first Queue() = false")
	}
	if l.Queue([]byte("?V\r")) {
		t.Error("Queue() past capacity = true, want false")
	}
	if err := l.QueueFrame(Frame("?V\r")); !IsTransient(err) || !errors.Is(err, ErrQueueFull) {
		t.Errorf("QueueFrame() error = %v, want ErrQueueFull", err)
	}
	if !l.Queue([]byte("+")) {
		t.Error("Queue() of exactly remaining space = false")
	}
}

func TestQueue_EmptyFrameIsAccepted(t *testing.T) {
	l, _ := newTestLink(t, DefaultLinkConfig())
	if !l.Queue(nil) {
		t.Error("Queue(nil) = false, want true")
	}
	if l.QueueLen() != 0 {
		t.Error("empty frame was queued")
	}
}

func TestQueue_WrapsQueueInfo(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.OutputBufferSize = 4
	l, _ := newTestLink(t, cfg)

	// One-byte frames wrap the length ring many times
	for i := 0; i < 20; i++ {
		for j := 0; j < 4; j++ {
			if !l.Queue([]byte{byte('a' + j)}) {
				t.Fatalf("round %d: Queue(%d) = false", i, j)
			}
		}
		if l.QueueLen() != 4 {
			t.Fatalf("round %d: QueueLen() = %d, want 4", i, l.QueueLen())
		}
		for j := 0; j < 4; j++ {
			if got := l.QueuedBytes(); got[0] != byte('a'+j) {
				t.Fatalf("round %d: head = %q, want %q", i, got[0], 'a'+j)
			}
			l.acknowledge(AckReceived)
		}
	}
}

// ============================================================
// Engine Tests
// ============================================================

func TestLink_AckRoundTrip(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	l.SetListener(newRecordingListener())
	if err := l.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !l.Queue([]byte("!MA+09\r")) {
		t.Fatal("Queue() = false")
	}
	if got := conn.nextWrite(t, time.Second); string(got) != "!MA+09\r" {
		t.Fatalf("wrote %q, want %q", got, "!MA+09\r")
	}
	conn.inject("+")

	waitFor(t, time.Second, func() bool { return l.QueueLen() == 0 })
	if l.SentCount() != 1 {
		t.Errorf("SentCount() = %d, want 1", l.SentCount())
	}
	if l.AckCount() != 1 {
		t.Errorf("AckCount() = %d, want 1", l.AckCount())
	}
}

func TestLink_OneFrameInFlight(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	l.SetListener(newRecordingListener())
	l.Queue([]byte("?P\r"))
	l.Queue([]byte("?S\r"))
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	if got := conn.nextWrite(t, time.Second); string(got) != "?P\r" {
		t.Fatalf("first write = %q", got)
	}
	select {
	case b := <-conn.writes:
		t.Fatalf("second frame %q sent before ACK", b)
	case <-time.After(20 * time.Millisecond):
	}

	conn.inject("+")
	if got := conn.nextWrite(t, time.Second); string(got) != "?S\r" {
		t.Errorf("second write = %q, want ?S\\r", got)
	}
}

func TestLink_DeliversFrames(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	rec := newRecordingListener()
	l.SetListener(rec)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	conn.inject("junk?PF000\r?S0f00\r")
	waitFor(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) == 2
	})
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.frames[0] != "?PF000" || rec.frames[1] != "?S0f00" {
		t.Errorf("frames = %q", rec.frames)
	}
}

func TestLink_InputOverflowCounted(t *testing.T) {
	cfg := testLinkConfig()
	cfg.InputBufferSize = 4
	l, conn := newTestLink(t, cfg)
	rec := newRecordingListener()
	l.SetListener(rec)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	conn.inject("?AAAAAAAA\r?P1\r")
	waitFor(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) == 1
	})
	if l.InputOverflowCount() != 1 {
		t.Errorf("InputOverflowCount() = %d, want 1", l.InputOverflowCount())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.frames[0] != "?P1" {
		t.Errorf("frame = %q, want ?P1", rec.frames[0])
	}
}

func TestLink_TimeoutThenResume(t *testing.T) {
	cfg := testLinkConfig()
	l, conn := newTestLink(t, cfg)
	rec := newRecordingListener()
	l.SetListener(rec)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	l.Queue([]byte("!MA+09\r"))
	l.Queue([]byte("?P\r"))
	l.Queue([]byte("?S\r"))
	conn.nextWrite(t, time.Second)

	waitFor(t, time.Second, func() bool { return len(rec.timeoutLog()) == 1 })
	if got := rec.timeoutLog(); !got[0] {
		t.Fatalf("first timeout event = %v, want true", got[0])
	}
	rec.mu.Lock()
	window := rec.windows[0]
	rec.mu.Unlock()
	if window != cfg.Timeout {
		t.Errorf("timeout window = %v, want %v", window, cfg.Timeout)
	}
	if !l.TimedOut() {
		t.Error("TimedOut() = false, want true")
	}
	// Only the in-flight frame survives
	if got := string(l.QueuedBytes()); got != "!MA+09\r" {
		t.Errorf("queue after timeout = %q, want head only", got)
	}

	conn.inject("?P0000\r")
	waitFor(t, time.Second, func() bool { return len(rec.timeoutLog()) == 2 })
	if got := rec.timeoutLog(); got[1] {
		t.Errorf("second timeout event = %v, want false", got[1])
	}
	if l.TimedOut() {
		t.Error("TimedOut() = true after resume")
	}

	conn.inject("+")
	waitFor(t, time.Second, func() bool { return l.QueueLen() == 0 })
	c := l.Counters()
	if c.Timeouts != 1 || c.Resumes != 1 {
		t.Errorf("timeouts/resumes = %d/%d, want 1/1", c.Timeouts, c.Resumes)
	}
}

func TestLink_NoTimeoutWhenDisabled(t *testing.T) {
	cfg := testLinkConfig()
	cfg.Timeout = -1
	l, conn := newTestLink(t, cfg)
	rec := newRecordingListener()
	l.SetListener(rec)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Queue([]byte("?V\r"))
	conn.nextWrite(t, time.Second)
	time.Sleep(30 * time.Millisecond)
	if len(rec.timeoutLog()) != 0 {
		t.Errorf("timeout events with watchdog disabled: %v", rec.timeoutLog())
	}
}

func TestLink_InputErrorStops(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	rec := newRecordingListener()
	l.SetListener(rec)
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("cable pulled")
	_ = conn.w.CloseWithError(boom)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not stop on read error")
	}
	waitFor(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.inErrs) == 1
	})
	if !errors.Is(l.Err(), boom) {
		t.Errorf("Err() = %v, want %v", l.Err(), boom)
	}
	if l.Queue([]byte("?V\r")) {
		t.Error("Queue() after stop = true, want false")
	}
	if err := l.QueueFrame(Frame("?V\r")); !errors.Is(err, ErrStopped) {
		t.Errorf("QueueFrame() after stop = %v, want ErrStopped", err)
	}
}

func TestLink_OutputErrorStops(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	rec := newRecordingListener()
	l.SetListener(rec)
	conn.writeErr = errors.New("write failed")
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Queue([]byte("?V\r"))

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("link did not stop on write error")
	}
	waitFor(t, time.Second, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.outErrs) == 1
	})
	rec.mu.Lock()
	if len(rec.inErrs) != 0 {
		t.Errorf("input errors = %v, want none", rec.inErrs)
	}
	rec.mu.Unlock()
}

func TestLink_StopIdempotent(t *testing.T) {
	l, _ := newTestLink(t, testLinkConfig())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Stop()
	l.Stop()
	if !l.Stopped() {
		t.Error("Stopped() = false")
	}
	if l.Err() != nil {
		t.Errorf("Err() after Stop = %v, want nil", l.Err())
	}
	if err := l.Start(); !IsFatal(err) {
		t.Errorf("Start() after Stop = %v, want fatal", err)
	}
}

func TestLink_StartTwice(t *testing.T) {
	l, _ := newTestLink(t, testLinkConfig())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(); err == nil {
		t.Error("second Start() = nil, want error")
	}
}

func TestLink_WatchdogParkedWithoutListener(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Queue([]byte("?V\r"))
	conn.nextWrite(t, time.Second)
	time.Sleep(80 * time.Millisecond)
	if l.TimedOut() {
		t.Fatal("watchdog ran with no listener")
	}

	rec := newRecordingListener()
	l.SetListener(rec)
	waitFor(t, time.Second, func() bool { return len(rec.timeoutLog()) == 1 })
}

func TestLink_ResendsHeadAfterTimeout(t *testing.T) {
	l, conn := newTestLink(t, testLinkConfig())
	l.SetListener(newRecordingListener())
	if err := l.Start(); err != nil {
		t.Fatal(err)
	}
	l.Queue([]byte("?V\r"))
	first := conn.nextWrite(t, time.Second)
	second := conn.nextWrite(t, time.Second)
	if !bytes.Equal(first, second) {
		t.Errorf("resent %q, want %q", second, first)
	}
}

// ============================================================
// Idle Read Tests
// ============================================================

// idleConn hands the link one scripted read at a time. An empty read returns
// (0, nil) the way a transport reports an idle poll.
type idleConn struct {
	reads     chan []byte
	writes    chan []byte
	readCalls atomic.Int32
	done      chan struct{}
	closeOnce sync.Once
}

func newIdleConn() *idleConn {
	return &idleConn{
		reads:  make(chan []byte),
		writes: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *idleConn) Read(p []byte) (int, error) {
	c.readCalls.Add(1)
	select {
	case b := <-c.reads:
		return copy(p, b), nil
	case <-c.done:
		return 0, io.EOF
	}
}

func (c *idleConn) Write(p []byte) (int, error) {
	c.writes <- append([]byte(nil), p...)
	return len(p), nil
}

func (c *idleConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// feed hands b to the reader and waits until the link asks for more
func (c *idleConn) feed(t *testing.T, b string) {
	t.Helper()
	calls := c.readCalls.Load()
	select {
	case c.reads <- []byte(b):
	case <-time.After(time.Second):
		t.Fatal("link did not read")
	}
	waitFor(t, time.Second, func() bool { return c.readCalls.Load() > calls })
}

func startIdleLink(t *testing.T) (*Link, *idleConn) {
	t.Helper()
	conn := newIdleConn()
	cfg := DefaultLinkConfig()
	cfg.Timeout = 10 * time.Second
	l, err := NewLink(conn, cfg)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	t.Cleanup(l.Stop)
	l.SetListener(newRecordingListener())
	if err := l.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !l.Queue([]byte("!MA+05\r")) {
		t.Fatal("Queue() = false")
	}
	select {
	case b := <-conn.writes:
		if string(b) != "!MA+05\r" {
			t.Fatalf("wrote %q, want %q", b, "!MA+05\r")
		}
	case <-time.After(time.Second):
		t.Fatal("no write")
	}
	return l, conn
}

func TestLink_IdleReadMidFrameKeepsWaiting(t *testing.T) {
	l, conn := startIdleLink(t)

	conn.feed(t, "?P")
	conn.feed(t, "")

	select {
	case b := <-conn.writes:
		t.Fatalf("resent %q while a reply was arriving", b)
	case <-time.After(50 * time.Millisecond):
	}
	if l.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1", l.QueueLen())
	}
	if l.LastAck() == AckTimeout {
		t.Error("LastAck() = AckTimeout after a mid-frame idle read")
	}
}

func TestLink_IdleReadBetweenFramesResends(t *testing.T) {
	_, conn := startIdleLink(t)

	conn.feed(t, "")

	select {
	case b := <-conn.writes:
		if string(b) != "!MA+05\r" {
			t.Errorf("resent %q, want %q", b, "!MA+05\r")
		}
	case <-time.After(time.Second):
		t.Fatal("head frame not resent after an idle read")
	}
}

func TestNewLink_ZeroTimeoutUsesDefault(t *testing.T) {
	cfg := DefaultLinkConfig()
	cfg.Timeout = 0
	l, err := NewLink(newTestConn(), cfg)
	if err != nil {
		t.Fatalf("NewLink() error = %v", err)
	}
	if l.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", l.Timeout(), DefaultTimeout)
	}
}
