// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameIntegerRoundTrip(t *testing.T) {
	f := NewFrame(0x01).
		AppendUint16(0xBEEF).
		AppendUint32(0xDEADBEEF).
		AppendInt8(-5).
		AppendInt32(-123456).
		AppendTimestamp(1700000000).
		AppendDegE6(DegreesE6(-33.865143))

	raw, err := f.Bytes()
	require.NoError(t, err)

	g, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), g.Code())
	assert.Equal(t, uint16(0xBEEF), g.DecodeUint16())
	assert.Equal(t, uint32(0xDEADBEEF), g.DecodeUint32())
	assert.Equal(t, int8(-5), g.DecodeInt8())
	assert.Equal(t, int32(-123456), g.DecodeInt32())
	assert.Equal(t, Timestamp(1700000000), g.DecodeTimestamp())
	assert.Equal(t, DegE6(-33865143), g.DecodeDegE6())
	require.NoError(t, g.Err())
	assert.Equal(t, 0, g.Remaining())
}

func TestFrameLittleEndianLayout(t *testing.T) {
	raw, err := NewFrame(0x10).AppendUint32(0x12345678).Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x78, 0x56, 0x34, 0x12}, raw)
}

func TestPaddedStringRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		width int
	}{
		{"short", "Alice", 32},
		{"exact", "0123456789ab", 12},
		{"empty", "", 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := NewFrame(0x01).AppendPaddedString(tt.s, tt.width).Bytes()
			require.NoError(t, err)
			require.Len(t, raw, 1+tt.width)

			g, err := ParseFrame(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.s, g.DecodePaddedString(tt.width))
			require.NoError(t, g.Err())
		})
	}
}

func TestPaddedStringOverflow(t *testing.T) {
	_, err := NewFrame(0x01).AppendPaddedString("this name is far too long", 8).Bytes()
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestPathRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		path Path
	}{
		{"no path", nil},
		{"one hop", Path{0xAB}},
		{"three hops", Path{0x01, 0x02, 0x03}},
		{"full", make(Path, MaxPathSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := NewFrame(0x01).AppendPath(tt.path).Bytes()
			require.NoError(t, err)
			require.Len(t, raw, 1+1+MaxPathSize)

			g, err := ParseFrame(raw)
			require.NoError(t, err)
			got := g.DecodePath()
			require.NoError(t, g.Err())
			assert.Equal(t, tt.path, got)
		})
	}
}

func TestPathNoRouteEncodesMinusOne(t *testing.T) {
	raw, err := NewFrame(0x01).AppendPath(nil).Bytes()
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), raw[1])
}

func TestKeyPrefixTruncatesFullKey(t *testing.T) {
	key := PublicKey{}
	for i := range key {
		key[i] = byte(i + 1)
	}
	p, err := ParseKeyPrefix(key[:])
	require.NoError(t, err)
	assert.Equal(t, KeyPrefix{1, 2, 3, 4, 5, 6}, p)
	assert.Equal(t, p, key.Prefix())
}

func TestParsePublicKeyLength(t *testing.T) {
	_, err := ParsePublicKey(make([]byte, 31))
	assert.ErrorIs(t, err, ErrIllegalArgument)
	_, err = ParsePublicKey(make([]byte, 33))
	assert.ErrorIs(t, err, ErrIllegalArgument)
	_, err = ParsePublicKey(make([]byte, 32))
	assert.NoError(t, err)
}

func TestParseFrameRejectsEmptyAndOversize(t *testing.T) {
	_, err := ParseFrame(nil)
	assert.ErrorIs(t, err, ErrInvalidFrame)
	_, err = ParseFrame(make([]byte, MaxFrameSize+1))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestDecodeUnderrunSticks(t *testing.T) {
	g, err := ParseFrame([]byte{0x05, 0x01})
	require.NoError(t, err)
	g.DecodeUint32()
	assert.ErrorIs(t, g.Err(), ErrInvalidFrame)
	// subsequent decodes stay safe and keep the first fault
	g.DecodePublicKey()
	g.DecodePath()
	assert.ErrorIs(t, g.Err(), ErrInvalidFrame)
}

// decodeAny exercises every decoder against an arbitrary frame; none
// may panic regardless of content.
func decodeAny(raw []byte) {
	parsers := []func(*Frame){
		func(f *Frame) { ParseDeviceInfo(f) },
		func(f *Frame) { ParseSelfInfo(f) },
		func(f *Frame) { ParseContactFrame(f) },
		func(f *Frame) { ParseSentInfo(f) },
		func(f *Frame) { ParseDirectMessage(f) },
		func(f *Frame) { ParseChannelMessage(f) },
		func(f *Frame) { ParseBatteryAndStorage(f) },
		func(f *Frame) { ParseChannelInfo(f) },
		func(f *Frame) { ParseCurrTime(f) },
		func(f *Frame) { ParseContactsStart(f) },
		func(f *Frame) { ParseErrResponse(f) },
		func(f *Frame) { ParsePrivateKey(f) },
		func(f *Frame) { ParseSignature(f) },
		func(f *Frame) { ParseCustomVars(f) },
		func(f *Frame) { ParseSendConfirmed(f) },
		func(f *Frame) { ParseLoginSuccess(f) },
		func(f *Frame) { ParseLoginFail(f) },
		func(f *Frame) { ParsePathUpdated(f) },
		func(f *Frame) { ParseTraceData(f) },
		func(f *Frame) { ParseTelemetryResponse(f) },
		func(f *Frame) { ParseBinaryResponse(f) },
		func(f *Frame) { ParseRawData(f) },
		func(f *Frame) { ParseStatusResponse(f) },
	}
	for _, parse := range parsers {
		f, err := ParseFrame(raw)
		if err != nil {
			return
		}
		parse(f)
	}
	if len(raw) > 1 {
		ParseRemoteNodeStatus(raw[1:])
		ParseNeighbours(raw[1:], 6)
		DecodeLPP(raw[1:])
	}
}

func TestDecodeTotalOnArbitraryInput(t *testing.T) {
	rng := rand.New(rand.NewSource(0x5EED))
	for i := 0; i < 2000; i++ {
		n := rng.Intn(MaxFrameSize + 1)
		raw := make([]byte, n)
		rng.Read(raw)
		decodeAny(raw)
	}
	// every frame code with every short length
	for code := 0; code <= 0xFF; code++ {
		for n := 0; n < 8; n++ {
			raw := append([]byte{byte(code)}, make([]byte, n)...)
			decodeAny(raw)
		}
	}
}
