// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// duplex is a fake byte-stream link: reads come from the script, writes
// collect in a buffer.
type duplex struct {
	r io.Reader

	mu     sync.Mutex
	wrote  bytes.Buffer
	closed bool
}

func (sf *duplex) Read(p []byte) (int, error) { return sf.r.Read(p) }

func (sf *duplex) Write(p []byte) (int, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.wrote.Write(p)
}

func (sf *duplex) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.closed = true
	return nil
}

func (sf *duplex) written() []byte {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return append([]byte(nil), sf.wrote.Bytes()...)
}

func inboundFrame(frame []byte) []byte {
	out := []byte{startInFrame, byte(len(frame)), byte(len(frame) >> 8)}
	return append(out, frame...)
}

func TestSerialWriteFraming(t *testing.T) {
	link := &duplex{r: bytes.NewReader(nil)}
	s := NewSerial(link)
	s.Start()
	defer s.Close()

	require.NoError(t, s.WriteFrame(context.Background(), []byte{0x16, 0x03}))
	assert.Equal(t, []byte{startOutFrame, 0x02, 0x00, 0x16, 0x03}, link.written())
}

func TestSerialWriteRejectsOversize(t *testing.T) {
	link := &duplex{r: bytes.NewReader(nil)}
	s := NewSerial(link)
	s.Start()
	defer s.Close()

	assert.ErrorIs(t, s.WriteFrame(context.Background(), make([]byte, MaxFrameSize+1)), ErrFrameTooBig)
	assert.ErrorIs(t, s.WriteFrame(context.Background(), nil), ErrFrameTooBig)
}

func TestSerialReadResync(t *testing.T) {
	var script bytes.Buffer
	script.Write([]byte{0x00, 0xFF, 0x42})          // line noise
	script.Write(inboundFrame([]byte{0x06, 0x01}))  // a real frame
	script.Write([]byte{startInFrame, 0xFF, 0xFF})  // bogus length, dropped
	script.Write(inboundFrame([]byte{0x0A}))        // recovered frame
	link := &duplex{r: &script}

	s := NewSerial(link)
	s.Start()
	defer s.Close()

	select {
	case frame := <-s.Frames():
		assert.Equal(t, []byte{0x06, 0x01}, frame)
	case <-time.After(time.Second):
		t.Fatal("first frame not delivered")
	}
	select {
	case frame := <-s.Frames():
		assert.Equal(t, []byte{0x0A}, frame)
	case <-time.After(time.Second):
		t.Fatal("frame after resync not delivered")
	}
}

func TestSerialDisconnectOnEOF(t *testing.T) {
	link := &duplex{r: bytes.NewReader(nil)}
	s := NewSerial(link)
	s.Start()

	// the empty script hits EOF immediately
	deadline := time.After(time.Second)
	for s.State() != Disconnected {
		select {
		case <-deadline:
			t.Fatal("never disconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}
	assert.ErrorIs(t, s.WriteFrame(context.Background(), []byte{0x01}), ErrNotConnected)
}

func TestPipeStates(t *testing.T) {
	p := NewPipe()
	assert.Equal(t, Ready, p.State())
	p.SetState(Connecting)
	assert.Equal(t, Connecting, p.State())
	assert.ErrorIs(t, p.WriteFrame(context.Background(), []byte{1}), ErrNotConnected)
	p.SetState(Ready)
	require.NoError(t, p.WriteFrame(context.Background(), []byte{1}))
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.WriteFrame(context.Background(), []byte{1}), ErrNotConnected)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "ready", Ready.String())
}
