// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sim provides an in-process stand-in for the TrackBot radio link and
// robot firmware.
//
// A Channel is a virtual radio. Endpoints join a named port, and every message
// written by one endpoint is delivered to every other endpoint on that port.
// Endpoints are io.ReadWriteClosers, so a trackbot.Link runs over them unchanged.
// Robot answers frames the way the firmware does.
package sim

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by operations on a closed endpoint
var ErrClosed = errors.New("sim: endpoint closed")

// Channel is a port-keyed broadcast hub
type Channel struct {
	mu    sync.Mutex
	ports map[string]map[*Endpoint]struct{}
}

// NewChannel creates an empty channel
func NewChannel() *Channel {
	return &Channel{ports: make(map[string]map[*Endpoint]struct{})}
}

// Join subscribes a new endpoint to port
func (c *Channel) Join(port string) *Endpoint {
	e := &Endpoint{ch: c, port: port}
	e.cond = sync.NewCond(&e.mu)

	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.ports[port]
	if subs == nil {
		subs = make(map[*Endpoint]struct{})
		c.ports[port] = subs
	}
	subs[e] = struct{}{}
	return e
}

// Subscribers returns the number of endpoints on port
func (c *Channel) Subscribers(port string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ports[port])
}

// broadcast delivers msg to every endpoint on port except from
func (c *Channel) broadcast(port string, from *Endpoint, msg []byte) {
	c.mu.Lock()
	targets := make([]*Endpoint, 0, len(c.ports[port]))
	for e := range c.ports[port] {
		if e != from {
			targets = append(targets, e)
		}
	}
	c.mu.Unlock()

	for _, e := range targets {
		e.deliver(msg)
	}
}

func (c *Channel) leave(e *Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.ports[e.port]
	delete(subs, e)
	if len(subs) == 0 {
		delete(c.ports, e.port)
	}
}

// Endpoint is one subscriber on a channel port
type Endpoint struct {
	ch   *Channel
	port string

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	partial []byte
	closed  bool
}

// Port returns the port the endpoint joined
func (e *Endpoint) Port() string { return e.port }

func (e *Endpoint) deliver(msg []byte) {
	cp := make([]byte, len(msg))
	copy(cp, msg)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.pending = append(e.pending, cp)
	e.cond.Broadcast()
}

// Send broadcasts msg to the other endpoints on the port
func (e *Endpoint) Send(msg []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	e.ch.broadcast(e.port, e, msg)
	return nil
}

// Receive blocks until a whole message arrives. It returns io.EOF once the
// endpoint is closed and drained.
func (e *Endpoint) Receive() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.partial) > 0 {
		msg := e.partial
		e.partial = nil
		return msg, nil
	}
	for len(e.pending) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.pending) == 0 {
		return nil, io.EOF
	}
	msg := e.pending[0]
	e.pending = e.pending[1:]
	return msg, nil
}

// Write implements io.Writer. Each call is one message.
func (e *Endpoint) Write(p []byte) (int, error) {
	if err := e.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read implements io.Reader. It blocks until data arrives and may return part
// of a message; the rest is returned by the next call.
func (e *Endpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for len(e.partial) == 0 && len(e.pending) == 0 && !e.closed {
		e.cond.Wait()
	}
	if len(e.partial) == 0 {
		if len(e.pending) == 0 {
			return 0, io.EOF
		}
		e.partial = e.pending[0]
		e.pending = e.pending[1:]
	}
	n := copy(p, e.partial)
	e.partial = e.partial[n:]
	return n, nil
}

// Close unsubscribes the endpoint and wakes blocked readers. Messages already
// delivered can still be read.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()

	e.ch.leave(e)
	return nil
}
