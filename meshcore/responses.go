// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import "strings"

// Decoders for frames in the monitor direction (radio to client,
// solicited). Every decoder checks the opcode, consumes the documented
// fields and surfaces truncation as KindInvalidFrame via Frame.Err.

// DeviceInfo is the RespDeviceInfo record answering a device query.
type DeviceInfo struct {
	FirmwareVer  uint8
	MaxContacts  uint8
	MaxChannels  uint8
	BlePin       uint32
	BuildDate    string // 12-octet block
	Manufacturer string // 40-octet block
	FirmwareStr  string // 20-octet block
}

// ParseDeviceInfo decodes a RespDeviceInfo frame.
func ParseDeviceInfo(f *Frame) (DeviceInfo, error) {
	var d DeviceInfo
	if ResponseCode(f.Code()) != RespDeviceInfo {
		return d, newFrameError("want %v, got code %#02x", RespDeviceInfo, f.Code())
	}
	d.FirmwareVer = f.DecodeByte()
	d.MaxContacts = f.DecodeByte()
	d.MaxChannels = f.DecodeByte()
	d.BlePin = f.DecodeUint32()
	d.BuildDate = f.DecodePaddedString(12)
	d.Manufacturer = f.DecodePaddedString(40)
	d.FirmwareStr = f.DecodePaddedString(20)
	return d, f.Err()
}

// SelfInfo is the RespSelfInfo record describing the paired radio.
type SelfInfo struct {
	NodeType        uint8
	TxPower         uint8
	MaxTxPower      uint8
	PublicKey       PublicKey
	Lat             DegE6
	Lon             DegE6
	MultiAcks       uint8
	AdvertLocPolicy AdvertLocationPolicy
	TelemetryModes  uint8
	ManualAdd       bool
	FreqKhz         uint32
	BandwidthKhz    uint32
	SpreadingFactor uint8
	CodingRate      uint8
	NodeName        string
}

// ParseSelfInfo decodes a RespSelfInfo frame.
func ParseSelfInfo(f *Frame) (SelfInfo, error) {
	var s SelfInfo
	if ResponseCode(f.Code()) != RespSelfInfo {
		return s, newFrameError("want %v, got code %#02x", RespSelfInfo, f.Code())
	}
	s.NodeType = f.DecodeByte()
	s.TxPower = f.DecodeByte()
	s.MaxTxPower = f.DecodeByte()
	s.PublicKey = f.DecodePublicKey()
	s.Lat = f.DecodeDegE6()
	s.Lon = f.DecodeDegE6()
	s.MultiAcks = f.DecodeByte()
	s.AdvertLocPolicy = AdvertLocationPolicy(f.DecodeByte())
	s.TelemetryModes = f.DecodeByte()
	s.ManualAdd = f.DecodeByte() != 0
	s.FreqKhz = f.DecodeUint32()
	s.BandwidthKhz = f.DecodeUint32()
	s.SpreadingFactor = f.DecodeByte()
	s.CodingRate = f.DecodeByte()
	s.NodeName = f.DecodeRemainingString()
	return s, f.Err()
}

// ContactFrame is the serialized contact record carried by RespContact
// and PushNewAdvert.
type ContactFrame struct {
	PublicKey    PublicKey
	Type         ContactType
	Flags        uint8
	OutPath      Path // nil when no route is known
	Name         string
	LastAdvert   Timestamp
	Lat          DegE6
	Lon          DegE6
	LastModified Timestamp
}

// ParseContactFrame decodes the 147-octet contact record payload from a
// RespContact or PushNewAdvert frame.
func ParseContactFrame(f *Frame) (ContactFrame, error) {
	var c ContactFrame
	code := f.Code()
	if ResponseCode(code) != RespContact && PushCode(code) != PushNewAdvert {
		return c, newFrameError("frame %#02x carries no contact record", code)
	}
	c.PublicKey = f.DecodePublicKey()
	c.Type = ContactType(f.DecodeByte())
	c.Flags = f.DecodeByte()
	c.OutPath = f.DecodePath()
	c.Name = f.DecodePaddedString(MaxNameLen)
	c.LastAdvert = f.DecodeTimestamp()
	c.Lat = f.DecodeDegE6()
	c.Lon = f.DecodeDegE6()
	c.LastModified = f.DecodeTimestamp()
	return c, f.Err()
}

// AppendContactFrame re-serializes a contact record, the exact inverse
// of ParseContactFrame.
func AppendContactFrame(f *Frame, c ContactFrame) *Frame {
	return f.AppendPublicKey(c.PublicKey).
		AppendBytes(uint8(c.Type), c.Flags).
		AppendPath(c.OutPath).
		AppendPaddedString(c.Name, MaxNameLen).
		AppendTimestamp(c.LastAdvert).
		AppendDegE6(c.Lat).
		AppendDegE6(c.Lon).
		AppendTimestamp(c.LastModified)
}

// SentInfo is the RespSent record for an accepted transmit slot.
type SentInfo struct {
	IsFlood      bool
	AckCode      AckCode
	EstTimeoutMs uint32
}

// ParseSentInfo decodes a RespSent frame.
func ParseSentInfo(f *Frame) (SentInfo, error) {
	var s SentInfo
	if ResponseCode(f.Code()) != RespSent {
		return s, newFrameError("want %v, got code %#02x", RespSent, f.Code())
	}
	s.IsFlood = f.DecodeByte() != 0
	s.AckCode = AckCode(f.DecodeUint32())
	s.EstTimeoutMs = f.DecodeUint32()
	return s, f.Err()
}

// DirectMessage is an inbound direct text message (v2 or v3).
type DirectMessage struct {
	SenderPrefix KeyPrefix
	TextType     TextType
	SentAt       Timestamp
	Text         string
	SNR          float64 // dB; zero for v2 frames
	PathLen      uint8
}

// ParseDirectMessage decodes RespContactMsgRecv or RespContactMsgRecvV3.
func ParseDirectMessage(f *Frame) (DirectMessage, error) {
	var m DirectMessage
	switch ResponseCode(f.Code()) {
	case RespContactMsgRecvV3:
		m.SNR = float64(f.DecodeInt8()) / 4
		f.DecodeBytes(2) // reserved
		m.SenderPrefix = f.DecodeKeyPrefix()
		m.PathLen = f.DecodeByte()
		m.TextType = TextType(f.DecodeByte())
		m.SentAt = f.DecodeTimestamp()
	case RespContactMsgRecv:
		m.SenderPrefix = f.DecodeKeyPrefix()
		m.PathLen = f.DecodeByte()
		m.TextType = TextType(f.DecodeByte())
		m.SentAt = f.DecodeTimestamp()
	default:
		return m, newFrameError("frame %#02x carries no direct message", f.Code())
	}
	m.Text = f.DecodeRemainingString()
	return m, f.Err()
}

// ChannelMessage is an inbound channel broadcast (v2 or v3). When the
// text carries the conventional "Sender: body" prefix the codec splits
// it; otherwise SenderName is empty and Text holds everything.
type ChannelMessage struct {
	ChannelIdx uint8
	TextType   TextType
	SentAt     Timestamp
	SenderName string
	Text       string
	SNR        float64
	PathLen    uint8
}

// ParseChannelMessage decodes RespChannelMsgRecv or RespChannelMsgRecvV3.
func ParseChannelMessage(f *Frame) (ChannelMessage, error) {
	var m ChannelMessage
	switch ResponseCode(f.Code()) {
	case RespChannelMsgRecvV3:
		m.SNR = float64(f.DecodeInt8()) / 4
		f.DecodeBytes(2) // reserved
		m.ChannelIdx = f.DecodeByte()
		m.PathLen = f.DecodeByte()
		m.TextType = TextType(f.DecodeByte())
		m.SentAt = f.DecodeTimestamp()
	case RespChannelMsgRecv:
		m.ChannelIdx = f.DecodeByte()
		m.PathLen = f.DecodeByte()
		m.TextType = TextType(f.DecodeByte())
		m.SentAt = f.DecodeTimestamp()
	default:
		return m, newFrameError("frame %#02x carries no channel message", f.Code())
	}
	raw := f.DecodeRemainingString()
	if err := f.Err(); err != nil {
		return m, err
	}
	if m.ChannelIdx >= MaxChannels {
		return m, newFrameError("channel index %d not in [0,%d)", m.ChannelIdx, MaxChannels)
	}
	m.SenderName, m.Text = splitSenderPrefix(raw)
	return m, nil
}

// splitSenderPrefix splits "Sender: body" on the first ": " when the
// sender part is a plausible node name (1..32 octets).
func splitSenderPrefix(raw string) (sender, text string) {
	if i := strings.Index(raw, ": "); i >= 1 && i <= MaxNameLen {
		return raw[:i], raw[i+2:]
	}
	return "", raw
}

// BatteryAndStorage is the RespBatteryAndStorage record.
type BatteryAndStorage struct {
	BatteryMv   uint16
	UsedKb      uint32
	TotalKb     uint32
}

// ParseBatteryAndStorage decodes a RespBatteryAndStorage frame.
func ParseBatteryAndStorage(f *Frame) (BatteryAndStorage, error) {
	var b BatteryAndStorage
	if ResponseCode(f.Code()) != RespBatteryAndStorage {
		return b, newFrameError("want %v, got code %#02x", RespBatteryAndStorage, f.Code())
	}
	b.BatteryMv = f.DecodeUint16()
	b.UsedKb = f.DecodeUint32()
	b.TotalKb = f.DecodeUint32()
	return b, f.Err()
}

// ChannelInfo is the channel slot record of RespChannelInfo and the
// argument of SetChannelCmd.
type ChannelInfo struct {
	Index  uint8
	Name   string
	Secret [ChannelSecretLen]byte
}

// Active reports whether the slot has a secret, that is whether
// reception on it is authenticated at all.
func (sf ChannelInfo) Active() bool {
	return sf.Secret != [ChannelSecretLen]byte{}
}

// ParseChannelInfo decodes a RespChannelInfo frame.
func ParseChannelInfo(f *Frame) (ChannelInfo, error) {
	var c ChannelInfo
	if ResponseCode(f.Code()) != RespChannelInfo {
		return c, newFrameError("want %v, got code %#02x", RespChannelInfo, f.Code())
	}
	c.Index = f.DecodeByte()
	c.Name = f.DecodePaddedString(MaxNameLen)
	copy(c.Secret[:], f.DecodeBytes(ChannelSecretLen))
	if err := f.Err(); err != nil {
		return c, err
	}
	if c.Index >= MaxChannels {
		return c, newFrameError("channel index %d not in [0,%d)", c.Index, MaxChannels)
	}
	return c, nil
}

// ParseCurrTime decodes a RespCurrTime frame.
func ParseCurrTime(f *Frame) (Timestamp, error) {
	if ResponseCode(f.Code()) != RespCurrTime {
		return 0, newFrameError("want %v, got code %#02x", RespCurrTime, f.Code())
	}
	t := f.DecodeTimestamp()
	return t, f.Err()
}

// ParseContactsStart decodes the contact count announced by a
// RespContactsStart frame.
func ParseContactsStart(f *Frame) (uint32, error) {
	if ResponseCode(f.Code()) != RespContactsStart {
		return 0, newFrameError("want %v, got code %#02x", RespContactsStart, f.Code())
	}
	n := f.DecodeUint32()
	return n, f.Err()
}

// ParseErrResponse decodes the firmware error byte of a RespErr frame.
// A bare RespErr with no payload counts as UnsupportedCmd per firmware
// convention.
func ParseErrResponse(f *Frame) *ProtoError {
	if ResponseCode(f.Code()) != RespErr {
		return newFrameError("want %v, got code %#02x", RespErr, f.Code())
	}
	if f.Remaining() == 0 {
		return NewDeviceError(ErrCodeUnsupportedCmd)
	}
	return NewDeviceError(ErrorCode(f.DecodeByte()))
}

// ParsePrivateKey decodes the 64-octet identity key of a
// RespPrivateKey frame.
func ParsePrivateKey(f *Frame) ([]byte, error) {
	if ResponseCode(f.Code()) != RespPrivateKey {
		return nil, newFrameError("want %v, got code %#02x", RespPrivateKey, f.Code())
	}
	k := f.DecodeBytes(64)
	return k, f.Err()
}

// ParseSignature decodes the detached signature of a RespSignature
// frame.
func ParseSignature(f *Frame) ([]byte, error) {
	if ResponseCode(f.Code()) != RespSignature {
		return nil, newFrameError("want %v, got code %#02x", RespSignature, f.Code())
	}
	sig := f.DecodeBytes(64)
	return sig, f.Err()
}

// ParseCustomVars decodes the "name=value" pairs of a RespCustomVars
// frame.
func ParseCustomVars(f *Frame) (map[string]string, error) {
	if ResponseCode(f.Code()) != RespCustomVars {
		return nil, newFrameError("want %v, got code %#02x", RespCustomVars, f.Code())
	}
	raw := f.DecodeRemainingString()
	if err := f.Err(); err != nil {
		return nil, err
	}
	vars := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		vars[name] = value
	}
	return vars, nil
}
