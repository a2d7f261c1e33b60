// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

// Decoders for unsolicited frames (radio to client, code >= 0x80).

// SendConfirmed is the PushSendConfirmed delivery confirmation.
type SendConfirmed struct {
	AckCode AckCode
	RttMs   uint32
}

// ParseSendConfirmed decodes a PushSendConfirmed frame.
func ParseSendConfirmed(f *Frame) (SendConfirmed, error) {
	var c SendConfirmed
	if PushCode(f.Code()) != PushSendConfirmed {
		return c, newFrameError("want %v, got code %#02x", PushSendConfirmed, f.Code())
	}
	c.AckCode = AckCode(f.DecodeUint32())
	c.RttMs = f.DecodeUint32()
	return c, f.Err()
}

// LoginInfo is the PushLoginSuccess record from a room server.
type LoginInfo struct {
	IsAdmin      bool
	Prefix       KeyPrefix
	ServerTime   Timestamp
	ACL          uint8
	FirmwareLvl  uint8
}

// ParseLoginSuccess decodes a PushLoginSuccess frame.
func ParseLoginSuccess(f *Frame) (LoginInfo, error) {
	var l LoginInfo
	if PushCode(f.Code()) != PushLoginSuccess {
		return l, newFrameError("want %v, got code %#02x", PushLoginSuccess, f.Code())
	}
	l.IsAdmin = f.DecodeByte() != 0
	l.Prefix = f.DecodeKeyPrefix()
	l.ServerTime = f.DecodeTimestamp()
	l.ACL = f.DecodeByte()
	l.FirmwareLvl = f.DecodeByte()
	return l, f.Err()
}

// ParseLoginFail decodes the sender prefix of a PushLoginFail frame.
func ParseLoginFail(f *Frame) (KeyPrefix, error) {
	if PushCode(f.Code()) != PushLoginFail {
		return KeyPrefix{}, newFrameError("want %v, got code %#02x", PushLoginFail, f.Code())
	}
	p := f.DecodeKeyPrefix()
	return p, f.Err()
}

// ParsePathUpdated decodes the contact prefix of a PushPathUpdated
// frame.
func ParsePathUpdated(f *Frame) (KeyPrefix, error) {
	if PushCode(f.Code()) != PushPathUpdated {
		return KeyPrefix{}, newFrameError("want %v, got code %#02x", PushPathUpdated, f.Code())
	}
	p := f.DecodeKeyPrefix()
	return p, f.Err()
}

// TraceHop is one hop of a path trace result.
type TraceHop struct {
	Hash byte
	SNR  float64 // dB
}

// TraceInfo is the PushTraceData record correlated by Tag.
type TraceInfo struct {
	Flags    uint8
	Tag      uint32
	Auth     uint32
	Hops     []TraceHop
	FinalSNR float64 // dB, measured at the final receiver
}

// ParseTraceData decodes a PushTraceData frame. SNR octets are wire
// quarter-dB.
func ParseTraceData(f *Frame) (TraceInfo, error) {
	var t TraceInfo
	if PushCode(f.Code()) != PushTraceData {
		return t, newFrameError("want %v, got code %#02x", PushTraceData, f.Code())
	}
	f.DecodeByte() // reserved
	pathLen := int(f.DecodeByte())
	t.Flags = f.DecodeByte()
	t.Tag = f.DecodeUint32()
	t.Auth = f.DecodeUint32()
	hashes := f.DecodeBytes(pathLen)
	snrs := f.DecodeBytes(pathLen)
	t.FinalSNR = float64(f.DecodeInt8()) / 4
	if err := f.Err(); err != nil {
		return t, err
	}
	t.Hops = make([]TraceHop, pathLen)
	for i := range t.Hops {
		t.Hops[i] = TraceHop{Hash: hashes[i], SNR: float64(int8(snrs[i])) / 4}
	}
	return t, nil
}

// TelemetryData is the PushTelemetryResponse record: the sender prefix
// plus its raw LPP payload.
type TelemetryData struct {
	Prefix KeyPrefix
	LPP    []byte
}

// ParseTelemetryResponse decodes a PushTelemetryResponse frame. The LPP
// payload is kept raw; DecodeLPP turns it into data points.
func ParseTelemetryResponse(f *Frame) (TelemetryData, error) {
	var t TelemetryData
	if PushCode(f.Code()) != PushTelemetryResponse {
		return t, newFrameError("want %v, got code %#02x", PushTelemetryResponse, f.Code())
	}
	t.Prefix = f.DecodeKeyPrefix()
	t.LPP = f.DecodeBytes(f.Remaining())
	return t, f.Err()
}

// BinaryData is the PushBinaryResponse record correlated by Tag. The
// payload is interpreted by the caller according to the request type it
// sent (status record, neighbour page, ACL, MMA archive).
type BinaryData struct {
	Tag     uint32
	Payload []byte
}

// ParseBinaryResponse decodes a PushBinaryResponse frame.
func ParseBinaryResponse(f *Frame) (BinaryData, error) {
	var b BinaryData
	if PushCode(f.Code()) != PushBinaryResponse {
		return b, newFrameError("want %v, got code %#02x", PushBinaryResponse, f.Code())
	}
	b.Tag = f.DecodeUint32()
	b.Payload = f.DecodeBytes(f.Remaining())
	return b, f.Err()
}

// RawDataPush is the PushRawData record.
type RawDataPush struct {
	SNR     float64
	Prefix  KeyPrefix
	Payload []byte
}

// ParseRawData decodes a PushRawData frame.
func ParseRawData(f *Frame) (RawDataPush, error) {
	var r RawDataPush
	if PushCode(f.Code()) != PushRawData {
		return r, newFrameError("want %v, got code %#02x", PushRawData, f.Code())
	}
	r.SNR = float64(f.DecodeInt8()) / 4
	f.DecodeBytes(2) // reserved
	r.Prefix = f.DecodeKeyPrefix()
	r.Payload = f.DecodeBytes(f.Remaining())
	return r, f.Err()
}

// Push match key extraction. Asynchronous pushes are correlated to a
// waiting request by one of three keys depending on the code: the
// echoed u32 tag, the 6-octet sender key prefix, or the ack code.

// ExtractPushTag returns the correlation tag of a tag-correlated push.
func ExtractPushTag(code PushCode, payload []byte) (uint32, bool) {
	f := &Frame{code: uint8(code), payload: payload}
	switch code {
	case PushTraceData:
		t, err := ParseTraceData(f)
		if err != nil {
			return 0, false
		}
		return t.Tag, true
	case PushBinaryResponse:
		b, err := ParseBinaryResponse(f)
		if err != nil {
			return 0, false
		}
		return b.Tag, true
	}
	return 0, false
}

// ExtractPushPrefix returns the sender key prefix of a
// prefix-correlated push.
func ExtractPushPrefix(code PushCode, payload []byte) (KeyPrefix, bool) {
	f := &Frame{code: uint8(code), payload: payload}
	switch code {
	case PushLoginSuccess:
		l, err := ParseLoginSuccess(f)
		if err != nil {
			return KeyPrefix{}, false
		}
		return l.Prefix, true
	case PushLoginFail, PushPathUpdated, PushStatusResponse, PushTelemetryResponse:
		p := f.DecodeKeyPrefix()
		return p, f.Err() == nil
	case PushRawData:
		// the sender prefix sits behind the snr and reserved octets
		r, err := ParseRawData(f)
		if err != nil {
			return KeyPrefix{}, false
		}
		return r.Prefix, true
	case PushNewAdvert:
		c, err := ParseContactFrame(f)
		if err != nil {
			return KeyPrefix{}, false
		}
		return c.PublicKey.Prefix(), true
	}
	return KeyPrefix{}, false
}

// ExtractPushAck returns the ack code of a PushSendConfirmed payload.
func ExtractPushAck(code PushCode, payload []byte) (AckCode, bool) {
	if code != PushSendConfirmed || len(payload) < 4 {
		return 0, false
	}
	f := &Frame{code: uint8(code), payload: payload}
	return AckCode(f.DecodeUint32()), true
}
