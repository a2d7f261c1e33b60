// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"context"
	"sync"
)

// Pipe is an in-process transport with a scriptable far end. The
// protocol layer uses it like any other transport; tests and the CLI
// loopback drive the radio side through Inject and Sent.
type Pipe struct {
	frames chan []byte
	sent   chan []byte
	stateNotifier

	mu     sync.Mutex
	closed bool
}

// NewPipe creates a pipe in the Ready state.
func NewPipe() *Pipe {
	p := &Pipe{
		frames:        make(chan []byte, 64),
		sent:          make(chan []byte, 64),
		stateNotifier: newStateNotifier(),
	}
	p.set(Ready)
	return p
}

// WriteFrame implements Transport; the frame lands on Sent.
func (sf *Pipe) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return ErrFrameTooBig
	}
	sf.mu.Lock()
	closed := sf.closed
	sf.mu.Unlock()
	if closed || sf.get() != Ready {
		return ErrNotConnected
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case sf.sent <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames implements Transport.
func (sf *Pipe) Frames() <-chan []byte { return sf.frames }

// State implements Transport.
func (sf *Pipe) State() State { return sf.get() }

// StateChanges implements Transport.
func (sf *Pipe) StateChanges() <-chan State { return sf.changes }

// Close implements Transport.
func (sf *Pipe) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return nil
	}
	sf.closed = true
	close(sf.frames)
	sf.set(Disconnected)
	return nil
}

// Inject delivers a frame as if the radio had sent it.
func (sf *Pipe) Inject(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return
	}
	sf.frames <- cp
}

// Sent exposes the frames the protocol layer wrote, in write order.
func (sf *Pipe) Sent() <-chan []byte { return sf.sent }

// SetState drives the observable connection state, for reconnection
// tests.
func (sf *Pipe) SetState(s State) { sf.set(s) }
