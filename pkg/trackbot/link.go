// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package trackbot

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LinkListener receives everything the link engine surfaces. Callbacks run on
// the engine goroutines and must not block for long.
type LinkListener interface {
	// MessageReceived delivers one inbound frame without its CR. The slice is
	// only valid for the duration of the call.
	MessageReceived(frame Frame)
	// TimeoutStatus reports entering (true) or leaving (false) the timeout state
	TimeoutStatus(timedOut bool, timeout time.Duration)
	// InputError reports the read fault that stopped the link
	InputError(err error)
	// OutputError reports the write fault that stopped the link
	OutputError(err error)
}

// AckKind is the outcome of the in-flight frame
type AckKind int

const (
	AckNone AckKind = iota
	AckReceived
	NakReceived
	AckTimeout
)

// String returns the ack kind name
func (k AckKind) String() string {
	switch k {
	case AckNone:
		return "NONE"
	case AckReceived:
		return "ACK"
	case NakReceived:
		return "NAK"
	case AckTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// LinkConfig configures a Link
type LinkConfig struct {
	InputBufferSize  int
	OutputBufferSize int
	// Timeout is the ACK window. Zero selects DefaultTimeout and a negative
	// value disables the watchdog.
	Timeout             time.Duration
	TimeoutPollInterval time.Duration
	Logger              *slog.Logger
}

// DefaultLinkConfig returns the firmware defaults
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		InputBufferSize:     DefaultBufferSize,
		OutputBufferSize:    DefaultBufferSize,
		Timeout:             DefaultTimeout,
		TimeoutPollInterval: DefaultTimeoutPollInterval,
	}
}

// LinkCounters is a snapshot of the link counters
type LinkCounters struct {
	Sent      uint64
	Acks      uint64
	Naks      uint64
	Overflows uint64
	Timeouts  uint64
	Resumes   uint64
}

type listenerBox struct {
	l LinkListener
}

// Link is the TrackBot link engine. It owns the send queue, keeps exactly one
// frame in flight, waits for its ACK or a timeout, and watches for a silent robot.
type Link struct {
	conn    io.ReadWriter
	cfg     LinkConfig
	log     *slog.Logger
	decoder *Decoder

	// Send queue. queueInfo is a circular list of frame lengths; outBuf holds
	// the queued frames back to back starting at offset 0.
	queueMu    sync.Mutex
	queueCond  *sync.Cond
	queueInfo  []int
	queueStart int
	queueEnd   int // exclusive
	queueEmpty bool
	outBuf     []byte
	outBufLen  int
	lastAck    AckKind
	ackLatch   chan struct{}

	// Timing state shared with the watchdog
	mu       sync.Mutex
	txTime   time.Time
	rxTime   time.Time
	timedOut bool
	err      error

	listener        atomic.Pointer[listenerBox]
	listenerChanged chan struct{}

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	sent      atomic.Uint64
	acks      atomic.Uint64
	naks      atomic.Uint64
	overflows atomic.Uint64
	timeouts  atomic.Uint64
	resumes   atomic.Uint64
}

// NewLink creates a link engine over conn. Call Start to begin I/O.
func NewLink(conn io.ReadWriter, cfg LinkConfig) (*Link, error) {
	if conn == nil {
		return nil, classify(ErrorInvalid, errors.New("nil transport"), "Link", "NewLink")
	}
	if cfg.InputBufferSize <= 0 || cfg.OutputBufferSize <= 0 {
		return nil, invalidf("Link", "NewLink", "input and output buffer sizes must be positive")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TimeoutPollInterval <= 0 {
		cfg.TimeoutPollInterval = DefaultTimeoutPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &Link{
		conn:            conn,
		cfg:             cfg,
		log:             logger.With("component", "link"),
		decoder:         NewDecoder(cfg.InputBufferSize),
		queueInfo:       make([]int, cfg.OutputBufferSize),
		queueEmpty:      true,
		outBuf:          make([]byte, cfg.OutputBufferSize),
		ackLatch:        make(chan struct{}, 1),
		listenerChanged: make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	l.queueCond = sync.NewCond(&l.queueMu)
	return l, nil
}

// Start launches the reader, transmitter and watchdog goroutines
func (l *Link) Start() error {
	if l.stopped.Load() {
		return classify(ErrorFatal, ErrStopped, "Link", "Start")
	}
	if !l.started.CompareAndSwap(false, true) {
		return classify(ErrorInvalid, errors.New("already started"), "Link", "Start")
	}

	l.wg.Add(2)
	go l.inputLoop()
	go l.outputLoop()
	if l.cfg.Timeout >= 0 {
		l.wg.Add(1)
		go l.watchdog()
	}
	return nil
}

// Stop shuts the link down. It closes the transport when it is an io.Closer so a
// blocked read returns. Stop is idempotent and waits for the goroutines to exit.
func (l *Link) Stop() {
	l.shutdown(nil)
	l.wg.Wait()
}

// Done is closed once the link has stopped
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err returns the transport fault that stopped the link, if any
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stopped reports whether the link has stopped
func (l *Link) Stopped() bool {
	return l.stopped.Load()
}

// Timeout returns the configured ACK window
func (l *Link) Timeout() time.Duration {
	return l.cfg.Timeout
}

// SetListener installs the listener. A nil listener parks the watchdog.
func (l *Link) SetListener(listener LinkListener) {
	if listener == nil {
		l.listener.Store(nil)
	} else {
		l.listener.Store(&listenerBox{l: listener})
	}
	select {
	case l.listenerChanged <- struct{}{}:
	default:
	}
}

func (l *Link) currentListener() LinkListener {
	if box := l.listener.Load(); box != nil {
		return box.l
	}
	return nil
}

// Queue appends a frame to the send queue. It returns false when the link is
// stopped or the output buffer has no room; it never blocks on the transport.
func (l *Link) Queue(frame []byte) bool {
	if l.stopped.Load() {
		return false
	}
	if len(frame) == 0 {
		return true
	}

	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	if l.stopped.Load() {
		return false
	}
	if l.outBufLen+len(frame) > len(l.outBuf) {
		l.log.Debug("QUEUE FULL", "frame", EscapeBytes(frame), "queue", EscapeBytes(l.outBuf[:l.outBufLen]))
		return false
	}

	copy(l.outBuf[l.outBufLen:], frame)
	l.outBufLen += len(frame)
	l.queueInfo[l.queueEnd] = len(frame)
	l.queueEnd++
	if l.queueEnd >= len(l.queueInfo) {
		l.queueEnd = 0
	}
	l.queueEmpty = false
	l.queueCond.Signal()
	return true
}

// QueueFrame queues f and maps a full queue to ErrQueueFull
func (l *Link) QueueFrame(f Frame) error {
	if l.stopped.Load() {
		return classify(ErrorFatal, ErrStopped, "Link", "QueueFrame")
	}
	if !l.Queue(f) {
		if l.stopped.Load() {
			return classify(ErrorFatal, ErrStopped, "Link", "QueueFrame")
		}
		return classify(ErrorTransient, ErrQueueFull, "Link", "QueueFrame")
	}
	return nil
}

// QueueLen returns the number of queued frames, the in-flight one included
func (l *Link) QueueLen() int {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if l.queueEmpty {
		return 0
	}
	if l.queueEnd > l.queueStart {
		return l.queueEnd - l.queueStart
	}
	return len(l.queueInfo) - l.queueStart + l.queueEnd
}

// QueuedBytes returns a copy of the queued frame bytes in send order
func (l *Link) QueuedBytes() []byte {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	out := make([]byte, l.outBufLen)
	copy(out, l.outBuf[:l.outBufLen])
	return out
}

// LastAck returns the most recent acknowledgement outcome
func (l *Link) LastAck() AckKind {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return l.lastAck
}

// TimedOut reports whether the link is in the timeout state
func (l *Link) TimedOut() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.timedOut
}

// Counters returns a snapshot of the link counters
func (l *Link) Counters() LinkCounters {
	return LinkCounters{
		Sent:      l.sent.Load(),
		Acks:      l.acks.Load(),
		Naks:      l.naks.Load(),
		Overflows: l.overflows.Load(),
		Timeouts:  l.timeouts.Load(),
		Resumes:   l.resumes.Load(),
	}
}

// SentCount returns the number of frames written to the transport
func (l *Link) SentCount() uint64 { return l.sent.Load() }

// AckCount returns the number of ACK bytes received
func (l *Link) AckCount() uint64 { return l.acks.Load() }

// NakCount returns the number of NAK bytes received
func (l *Link) NakCount() uint64 { return l.naks.Load() }

// InputOverflowCount returns the number of inbound frames dropped for size
func (l *Link) InputOverflowCount() uint64 { return l.overflows.Load() }

// acknowledge settles the in-flight frame. ACK and NAK pop the head frame and
// compact the arena. A timeout drops everything queued behind the head so the
// head is resent and stale commands are not.
func (l *Link) acknowledge(kind AckKind) {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()

	if l.queueEmpty {
		return
	}

	if kind != AckTimeout {
		n := l.queueInfo[l.queueStart]
		copy(l.outBuf, l.outBuf[n:l.outBufLen])
		l.outBufLen -= n
		l.queueStart++
		if l.queueStart >= len(l.queueInfo) {
			l.queueStart = 0
		}
		if l.queueStart == l.queueEnd {
			l.queueEmpty = true
		}
	} else {
		l.queueEnd = l.queueStart + 1
		if l.queueEnd >= len(l.queueInfo) {
			l.queueEnd = 0
		}
		l.outBufLen = l.queueInfo[l.queueStart]
	}
	l.lastAck = kind

	select {
	case l.ackLatch <- struct{}{}:
	default:
	}
}

// commReceived records inbound traffic and leaves the timeout state
func (l *Link) commReceived() {
	if l.cfg.Timeout < 0 {
		return
	}
	l.mu.Lock()
	l.rxTime = time.Now()
	resumed := l.timedOut
	l.timedOut = false
	l.mu.Unlock()

	if resumed {
		l.resumes.Add(1)
		l.log.Debug("link resumed")
		if listener := l.currentListener(); listener != nil {
			listener.TimeoutStatus(false, l.cfg.Timeout)
		}
	}
}

// checkTimeout runs once per watchdog interval
func (l *Link) checkTimeout() {
	listener := l.currentListener()
	if listener == nil {
		return
	}

	l.mu.Lock()
	if l.txTime.IsZero() {
		l.mu.Unlock()
		return
	}
	if l.rxTime.IsZero() {
		l.rxTime = l.txTime
	}
	rx, tx := l.rxTime, l.txTime
	entered := false
	if !rx.After(tx) && (tx.Sub(rx) >= l.cfg.Timeout || time.Since(tx) >= l.cfg.Timeout) {
		if !l.timedOut {
			l.timedOut = true
			entered = true
		}
	}
	l.mu.Unlock()

	if entered {
		l.timeouts.Add(1)
		l.log.Debug("link timeout", "timeout", l.cfg.Timeout)
		listener.TimeoutStatus(true, l.cfg.Timeout)
		l.acknowledge(AckTimeout)
	}
}

// shutdown stops the link once. It reports whether this call did the stopping.
func (l *Link) shutdown(cause error) bool {
	first := false
	l.stopOnce.Do(func() {
		first = true
		l.stopped.Store(true)

		l.mu.Lock()
		l.err = cause
		l.mu.Unlock()

		close(l.done)

		// Close first so a write blocked under queueMu returns
		if c, ok := l.conn.(io.Closer); ok {
			_ = c.Close()
		}

		l.queueMu.Lock()
		l.queueEmpty = true
		l.outBufLen = 0
		l.queueCond.Broadcast()
		l.queueMu.Unlock()
	})
	return first
}

// fail stops the link on a transport fault and reports it once
func (l *Link) fail(err error, input bool) {
	listener := l.currentListener()
	if !l.shutdown(err) {
		return
	}
	l.listener.Store(nil)
	if input {
		l.log.Debug("I/O error during read", "error", err)
		if listener != nil {
			listener.InputError(err)
		}
	} else {
		l.log.Debug("I/O error during write", "error", err)
		if listener != nil {
			listener.OutputError(err)
		}
	}
}

func (l *Link) inputLoop() {
	defer l.wg.Done()

	buf := make([]byte, l.cfg.InputBufferSize)
	for !l.stopped.Load() {
		n, err := l.conn.Read(buf)
		if l.stopped.Load() {
			return
		}
		if err != nil {
			l.fail(fmt.Errorf("read: %w", err), true)
			return
		}
		if n == 0 {
			// Idle read between frames: treat like a missing ACK so the head
			// frame is resent. A reply still arriving keeps its ACK window.
			if !l.decoder.InFrame() {
				l.acknowledge(AckTimeout)
			}
			continue
		}
		for _, b := range buf[:n] {
			l.handleByte(b)
		}
	}
}

func (l *Link) handleByte(b byte) {
	tok := l.decoder.DecodeByte(b)
	switch tok.Kind {
	case TokenAck:
		l.acks.Add(1)
		l.log.Debug("RCV: + (ACK)", "for", l.peek())
		l.acknowledge(AckReceived)
		l.commReceived()
	case TokenNak:
		l.naks.Add(1)
		l.log.Debug("RCV: - (NAK)", "for", l.peek())
		l.acknowledge(NakReceived)
		l.commReceived()
	case TokenFrameStart:
		l.commReceived()
	case TokenOverflow:
		l.overflows.Add(1)
	case TokenFrame:
		if l.stopped.Load() {
			return
		}
		l.log.Debug("RCV", "frame", tok.Frame.String(), "len", len(tok.Frame))
		if listener := l.currentListener(); listener != nil {
			listener.MessageReceived(tok.Frame)
		}
	}
}

// peek renders the head frame for logging
func (l *Link) peek() string {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	if l.queueEmpty {
		return ""
	}
	return EscapeBytes(l.outBuf[:l.queueInfo[l.queueStart]])
}

func (l *Link) outputLoop() {
	defer l.wg.Done()

	for !l.stopped.Load() {
		l.queueMu.Lock()
		for l.queueEmpty && !l.stopped.Load() {
			l.queueCond.Wait()
		}
		if l.stopped.Load() {
			l.queueMu.Unlock()
			return
		}

		n := l.queueInfo[l.queueStart]
		select {
		case <-l.ackLatch:
		default:
		}
		l.lastAck = AckNone

		if _, err := l.conn.Write(l.outBuf[:n]); err != nil {
			l.queueMu.Unlock()
			l.fail(fmt.Errorf("write: %w", err), false)
			return
		}
		l.sent.Add(1)

		l.mu.Lock()
		l.txTime = time.Now()
		timedOut := l.timedOut
		l.mu.Unlock()

		l.log.Debug("SND", "frame", EscapeBytes(l.outBuf[:n]), "len", n)
		l.queueMu.Unlock()

		if !timedOut {
			select {
			case <-l.ackLatch:
			case <-l.done:
				return
			}
		} else {
			t := time.NewTimer(l.cfg.TimeoutPollInterval)
			select {
			case <-t.C:
			case <-l.done:
				t.Stop()
				return
			}
		}
	}
}

// watchdog polls the timeout condition. It parks while no listener is set and
// resumes with whatever was left of the interval when it parked.
func (l *Link) watchdog() {
	defer l.wg.Done()

	interval := l.cfg.TimeoutPollInterval
	next := time.Now().Add(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if l.currentListener() == nil {
			remaining := time.Until(next)
			timer.Stop()
			select {
			case <-l.listenerChanged:
			case <-l.done:
				return
			}
			if remaining < 0 {
				remaining = 0
			}
			next = time.Now().Add(remaining)
			timer.Reset(remaining)
			continue
		}

		select {
		case <-l.done:
			return
		case <-l.listenerChanged:
		case <-timer.C:
			l.checkTimeout()
			next = next.Add(interval)
			if now := time.Now(); next.Before(now) {
				next = now.Add(interval)
			}
			timer.Reset(time.Until(next))
		}
	}
}
