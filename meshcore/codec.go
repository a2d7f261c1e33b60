// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"encoding/binary"
)

// Frame is a protocol frame cursor. Encoders build the payload with the
// Append* methods, decoders consume it with the Decode* methods. All
// multi-octet integers are little-endian. Decode faults stick in err so
// a chain of Decode* calls never panics; callers check Err once.
type Frame struct {
	code    uint8
	payload []byte
	err     error
}

// NewFrame starts an outbound frame for the given raw code.
func NewFrame(code uint8) *Frame {
	return &Frame{code: code, payload: make([]byte, 0, 64)}
}

// ParseFrame splits a complete inbound frame into code and payload
// cursor. Empty frames are rejected.
func ParseFrame(raw []byte) (*Frame, error) {
	if len(raw) == 0 {
		return nil, newFrameError("empty frame")
	}
	if len(raw) > MaxFrameSize {
		return nil, newFrameError("frame exceeds %d octets", MaxFrameSize)
	}
	return &Frame{code: raw[0], payload: raw[1:]}, nil
}

// Code returns the raw frame code octet.
func (sf *Frame) Code() uint8 { return sf.code }

// Err returns the first decode fault, if any.
func (sf *Frame) Err() error { return sf.err }

// Remaining returns the unconsumed payload length.
func (sf *Frame) Remaining() int { return len(sf.payload) }

// Bytes serializes code plus payload for the transport.
func (sf *Frame) Bytes() ([]byte, error) {
	if sf.err != nil {
		return nil, sf.err
	}
	if len(sf.payload)+1 > MaxFrameSize {
		return nil, newArgError("frame exceeds %d octets", MaxFrameSize)
	}
	b := make([]byte, 0, len(sf.payload)+1)
	b = append(b, sf.code)
	return append(b, sf.payload...), nil
}

func (sf *Frame) fail() bool { return sf.err != nil }

func (sf *Frame) need(n int) bool {
	if sf.err != nil {
		return false
	}
	if len(sf.payload) < n {
		sf.err = newFrameError("frame %#02x truncated, need %d more octets", sf.code, n-len(sf.payload))
		return false
	}
	return true
}

func (sf *Frame) AppendBytes(b ...byte) *Frame {
	sf.payload = append(sf.payload, b...)
	return sf
}

func (sf *Frame) AppendUint16(v uint16) *Frame {
	sf.payload = append(sf.payload, byte(v), byte(v>>8))
	return sf
}

func (sf *Frame) AppendUint32(v uint32) *Frame {
	sf.payload = append(sf.payload, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	return sf
}

func (sf *Frame) AppendInt8(v int8) *Frame {
	sf.payload = append(sf.payload, byte(v))
	return sf
}

func (sf *Frame) AppendInt32(v int32) *Frame {
	return sf.AppendUint32(uint32(v))
}

func (sf *Frame) AppendTimestamp(t Timestamp) *Frame {
	return sf.AppendUint32(uint32(t))
}

func (sf *Frame) AppendDegE6(d DegE6) *Frame {
	return sf.AppendInt32(int32(d))
}

// AppendPaddedString writes s NUL-padded to width octets. Longer input
// is an encode fault surfaced by Bytes via the sticky error.
func (sf *Frame) AppendPaddedString(s string, width int) *Frame {
	if len(s) > width {
		if sf.err == nil {
			sf.err = newArgError("string %q exceeds %d octet field", s, width)
		}
		return sf
	}
	sf.payload = append(sf.payload, s...)
	for i := len(s); i < width; i++ {
		sf.payload = append(sf.payload, 0)
	}
	return sf
}

// AppendKeyPrefix writes the compact 6-octet node identifier.
func (sf *Frame) AppendKeyPrefix(p KeyPrefix) *Frame {
	return sf.AppendBytes(p[:]...)
}

// AppendPublicKey writes the full 32-octet key.
func (sf *Frame) AppendPublicKey(k PublicKey) *Frame {
	return sf.AppendBytes(k[:]...)
}

// AppendPath writes the int8 logical length followed by the fixed
// 64-octet route buffer. A nil path encodes length -1.
func (sf *Frame) AppendPath(p Path) *Frame {
	if !p.Valid() {
		if sf.err == nil {
			sf.err = newArgError("path exceeds %d hops", MaxPathSize)
		}
		return sf
	}
	if p == nil {
		sf.AppendInt8(-1)
	} else {
		sf.AppendInt8(int8(len(p)))
	}
	sf.payload = append(sf.payload, p...)
	for i := len(p); i < MaxPathSize; i++ {
		sf.payload = append(sf.payload, 0)
	}
	return sf
}

func (sf *Frame) DecodeByte() byte {
	if !sf.need(1) {
		return 0
	}
	v := sf.payload[0]
	sf.payload = sf.payload[1:]
	return v
}

func (sf *Frame) DecodeUint16() uint16 {
	if !sf.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(sf.payload)
	sf.payload = sf.payload[2:]
	return v
}

func (sf *Frame) DecodeUint32() uint32 {
	if !sf.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(sf.payload)
	sf.payload = sf.payload[4:]
	return v
}

func (sf *Frame) DecodeInt8() int8 { return int8(sf.DecodeByte()) }

func (sf *Frame) DecodeInt16() int16 { return int16(sf.DecodeUint16()) }

func (sf *Frame) DecodeInt32() int32 { return int32(sf.DecodeUint32()) }

func (sf *Frame) DecodeTimestamp() Timestamp { return Timestamp(sf.DecodeUint32()) }

func (sf *Frame) DecodeDegE6() DegE6 { return DegE6(sf.DecodeInt32()) }

// DecodeBytes consumes exactly n octets.
func (sf *Frame) DecodeBytes(n int) []byte {
	if n < 0 || !sf.need(n) {
		return nil
	}
	v := sf.payload[:n:n]
	sf.payload = sf.payload[n:]
	return v
}

// DecodePaddedString consumes a fixed-width block and strips trailing
// NUL and other control padding.
func (sf *Frame) DecodePaddedString(width int) string {
	b := sf.DecodeBytes(width)
	return trimTrailingControl(b)
}

// DecodeRemainingString consumes the rest of the payload as UTF-8 text.
func (sf *Frame) DecodeRemainingString() string {
	if sf.fail() {
		return ""
	}
	v := sf.payload
	sf.payload = nil
	return trimTrailingControl(v)
}

// DecodeKeyPrefix consumes the compact 6-octet node identifier.
func (sf *Frame) DecodeKeyPrefix() KeyPrefix {
	var p KeyPrefix
	b := sf.DecodeBytes(KeyPrefixSize)
	copy(p[:], b)
	return p
}

// DecodePublicKey consumes a full 32-octet key.
func (sf *Frame) DecodePublicKey() PublicKey {
	var k PublicKey
	b := sf.DecodeBytes(PublicKeySize)
	copy(k[:], b)
	return k
}

// DecodePath consumes the int8 logical length plus the fixed 64-octet
// buffer, honoring the declared length. Length -1 yields a nil path.
func (sf *Frame) DecodePath() Path {
	n := sf.DecodeInt8()
	buf := sf.DecodeBytes(MaxPathSize)
	if sf.fail() || n < 0 {
		return nil
	}
	if int(n) > MaxPathSize {
		sf.err = newFrameError("declared path length %d exceeds buffer", n)
		return nil
	}
	p := make(Path, n)
	copy(p, buf[:n])
	return p
}

func trimTrailingControl(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] < 0x20 {
		end--
	}
	return string(b[:end])
}
