// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/Avi0n/pocketmesh/clog"
)

// Serial frame format over a byte stream link:
//
//	| start | frame length | frame (code + payload) |
//
// bytes |   1   |   2 (LE)     |      <= 250            |
//
// Outbound frames open with '>' (0x3E), inbound with '<' (0x3C). The
// reader resynchronizes on the inbound start character so a corrupted
// length cannot wedge the stream permanently.
const (
	startOutFrame byte = 0x3E // client to radio start character
	startInFrame  byte = 0x3C // radio to client start character

	serialHeaderSize = 3
)

// Serial adapts a byte-stream link (serial port, PTY, TCP bridge) into
// a frame transport. The caller opens the port; Serial owns it from
// Start to Close.
type Serial struct {
	rw     io.ReadWriteCloser
	frames chan []byte
	stateNotifier

	wmu    sync.Mutex
	closed chan struct{}
	once   sync.Once

	clog.Clog
}

// NewSerial wraps an open byte-stream link. Call Start to begin
// reading.
func NewSerial(rw io.ReadWriteCloser) *Serial {
	return &Serial{
		rw:            rw,
		frames:        make(chan []byte, 16),
		stateNotifier: newStateNotifier(),
		closed:        make(chan struct{}),
		Clog:          clog.NewLogger("serial => "),
	}
}

// Start launches the read loop and marks the link Ready.
func (sf *Serial) Start() {
	sf.set(Connected)
	go sf.readLoop()
	sf.set(Ready)
}

// WriteFrame frames and writes one protocol frame. Writes are
// serialized so concurrent callers cannot interleave headers.
func (sf *Serial) WriteFrame(ctx context.Context, frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return ErrFrameTooBig
	}
	select {
	case <-sf.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buf := make([]byte, serialHeaderSize+len(frame))
	buf[0] = startOutFrame
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(frame)))
	copy(buf[serialHeaderSize:], frame)

	sf.wmu.Lock()
	defer sf.wmu.Unlock()
	if _, err := sf.rw.Write(buf); err != nil {
		sf.Error("write failed: %v", err)
		sf.down()
		return err
	}
	return nil
}

// Frames implements Transport.
func (sf *Serial) Frames() <-chan []byte { return sf.frames }

// State implements Transport.
func (sf *Serial) State() State { return sf.get() }

// StateChanges implements Transport.
func (sf *Serial) StateChanges() <-chan State { return sf.changes }

// Close tears the link down.
func (sf *Serial) Close() error {
	sf.down()
	return nil
}

func (sf *Serial) down() {
	sf.once.Do(func() {
		close(sf.closed)
		sf.rw.Close()
		sf.set(Disconnected)
	})
}

func (sf *Serial) readLoop() {
	defer close(sf.frames)
	r := &resyncReader{r: sf.rw}
	for {
		frame, err := r.next()
		if err != nil {
			select {
			case <-sf.closed:
			default:
				sf.Error("read failed: %v", err)
			}
			sf.down()
			return
		}
		select {
		case sf.frames <- frame:
		case <-sf.closed:
			return
		}
	}
}

// resyncReader scans the byte stream for inbound frames, skipping
// garbage until a start character with a sane length follows.
type resyncReader struct {
	r io.Reader
}

func (sf *resyncReader) next() ([]byte, error) {
	var hdr [serialHeaderSize]byte
	for {
		if err := sf.readFull(hdr[:1]); err != nil {
			return nil, err
		}
		if hdr[0] != startInFrame {
			continue
		}
		if err := sf.readFull(hdr[1:]); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(hdr[1:3]))
		if n == 0 || n > MaxFrameSize {
			// bogus length, resync on the next start character
			continue
		}
		frame := make([]byte, n)
		if err := sf.readFull(frame); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

func (sf *resyncReader) readFull(b []byte) error {
	_, err := io.ReadFull(sf.r, b)
	return err
}
