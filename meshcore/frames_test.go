// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() PublicKey {
	var k PublicKey
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestDeviceQueryCmdBytes(t *testing.T) {
	raw, err := DeviceQueryCmd(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x16, 0x03}, raw)
}

func TestParseDeviceInfo(t *testing.T) {
	payload := []byte{8, 100, 8, 0x40, 0xE2, 0x01, 0x00}
	payload = append(payload, pad("06 Dec 2025", 12)...)
	payload = append(payload, pad("TestMfg", 40)...)
	payload = append(payload, pad("v1.11.0", 20)...)
	raw := append([]byte{byte(RespDeviceInfo)}, payload...)
	require.Len(t, raw, 80)

	f, err := ParseFrame(raw)
	require.NoError(t, err)
	di, err := ParseDeviceInfo(f)
	require.NoError(t, err)
	assert.Equal(t, DeviceInfo{
		FirmwareVer:  8,
		MaxContacts:  100,
		MaxChannels:  8,
		BlePin:       123456,
		BuildDate:    "06 Dec 2025",
		Manufacturer: "TestMfg",
		FirmwareStr:  "v1.11.0",
	}, di)
}

func pad(s string, width int) []byte {
	b := make([]byte, width)
	copy(b, s)
	return b
}

func TestSendTextMsgCmdLayout(t *testing.T) {
	key := testKey()
	raw, err := SendTextMsgCmd(TextTypePlain, 0, 1700000000, key.Prefix(), "Hello")
	require.NoError(t, err)
	want := []byte{
		0x02,                   // command code
		0x00,                   // text type
		0x00,                   // attempt
		0x00, 0xF1, 0x53, 0x65, // timestamp LE
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, // recipient prefix
		'H', 'e', 'l', 'l', 'o',
	}
	assert.Equal(t, want, raw)
}

func TestSendTextMsgCmdLimits(t *testing.T) {
	key := testKey()
	long := make([]byte, MaxDirectMsgLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := SendTextMsgCmd(TextTypePlain, 0, 0, key.Prefix(), string(long))
	assert.ErrorIs(t, err, ErrIllegalArgument)
	_, err = SendTextMsgCmd(TextTypePlain, 0, 0, key.Prefix(), "")
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestSendChannelTextMsgCmd(t *testing.T) {
	raw, err := SendChannelTextMsgCmd(TextTypePlain, 2, 1700000000, "hi all")
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), raw[0])
	assert.Equal(t, byte(0x00), raw[1])
	assert.Equal(t, byte(2), raw[2])

	_, err = SendChannelTextMsgCmd(TextTypePlain, MaxChannels, 0, "hi")
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestGetContactsCmdWatermark(t *testing.T) {
	since := Timestamp(2000)
	raw, err := GetContactsCmd(&since)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0xD0, 0x07, 0x00, 0x00}, raw)

	raw, err = GetContactsCmd(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, raw)
}

func TestParseSentInfo(t *testing.T) {
	raw := []byte{byte(RespSent), 0x00, 0x78, 0x56, 0x34, 0x12, 0xE8, 0x03, 0x00, 0x00}
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	s, err := ParseSentInfo(f)
	require.NoError(t, err)
	assert.Equal(t, SentInfo{IsFlood: false, AckCode: 0x12345678, EstTimeoutMs: 1000}, s)
}

func TestParseSendConfirmed(t *testing.T) {
	raw := []byte{byte(PushSendConfirmed), 0x78, 0x56, 0x34, 0x12, 0xFA, 0x00, 0x00, 0x00}
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	c, err := ParseSendConfirmed(f)
	require.NoError(t, err)
	assert.Equal(t, SendConfirmed{AckCode: 0x12345678, RttMs: 250}, c)
}

func TestContactFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		contact ContactFrame
	}{
		{
			"repeater with route",
			ContactFrame{
				PublicKey:    testKey(),
				Type:         ContactTypeRepeater,
				Flags:        0x01,
				OutPath:      Path{0x11, 0x22},
				Name:         "Hilltop",
				LastAdvert:   1699999000,
				Lat:          DegreesE6(51.507351),
				Lon:          DegreesE6(-0.127758),
				LastModified: 1700000001,
			},
		},
		{
			"chat without route",
			ContactFrame{
				PublicKey:    testKey(),
				Type:         ContactTypeChat,
				Name:         "Alice",
				LastModified: 3000,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := AppendContactFrame(NewFrame(uint8(RespContact)), tt.contact).Bytes()
			require.NoError(t, err)
			require.Len(t, raw, 1+ContactFrameSize)

			f, err := ParseFrame(raw)
			require.NoError(t, err)
			got, err := ParseContactFrame(f)
			require.NoError(t, err)
			assert.Equal(t, tt.contact, got)
		})
	}
}

func TestParseDirectMessageV3(t *testing.T) {
	f := NewFrame(uint8(RespContactMsgRecvV3)).
		AppendInt8(-8). // -2 dB
		AppendBytes(0, 0).
		AppendKeyPrefix(KeyPrefix{1, 2, 3, 4, 5, 6}).
		AppendBytes(2, uint8(TextTypePlain)).
		AppendTimestamp(1700000000).
		AppendBytes([]byte("hello there")...)
	raw, err := f.Bytes()
	require.NoError(t, err)

	g, err := ParseFrame(raw)
	require.NoError(t, err)
	m, err := ParseDirectMessage(g)
	require.NoError(t, err)
	assert.Equal(t, KeyPrefix{1, 2, 3, 4, 5, 6}, m.SenderPrefix)
	assert.Equal(t, -2.0, m.SNR)
	assert.Equal(t, uint8(2), m.PathLen)
	assert.Equal(t, Timestamp(1700000000), m.SentAt)
	assert.Equal(t, "hello there", m.Text)
}

func TestParseChannelMessageSenderSplit(t *testing.T) {
	build := func(text string) *Frame {
		f := NewFrame(uint8(RespChannelMsgRecvV3)).
			AppendInt8(4).
			AppendBytes(0, 0).
			AppendBytes(0, 1, uint8(TextTypePlain)).
			AppendTimestamp(1700000000).
			AppendBytes([]byte(text)...)
		raw, err := f.Bytes()
		require.NoError(t, err)
		g, err := ParseFrame(raw)
		require.NoError(t, err)
		return g
	}

	m, err := ParseChannelMessage(build("Alice: hi"))
	require.NoError(t, err)
	assert.Equal(t, "Alice", m.SenderName)
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, 1.0, m.SNR)

	// no separator: everything is text
	m, err = ParseChannelMessage(build("just a note"))
	require.NoError(t, err)
	assert.Equal(t, "", m.SenderName)
	assert.Equal(t, "just a note", m.Text)

	// sender longer than a node name: not a sender prefix
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	m, err = ParseChannelMessage(build(string(long) + ": hi"))
	require.NoError(t, err)
	assert.Equal(t, "", m.SenderName)
}

func TestParseChannelMessageRejectsBadSlot(t *testing.T) {
	f := NewFrame(uint8(RespChannelMsgRecvV3)).
		AppendInt8(0).
		AppendBytes(0, 0).
		AppendBytes(MaxChannels, 0, 0).
		AppendTimestamp(0).
		AppendBytes('x')
	raw, err := f.Bytes()
	require.NoError(t, err)
	g, err := ParseFrame(raw)
	require.NoError(t, err)
	_, err = ParseChannelMessage(g)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestSelfInfoRoundTrip(t *testing.T) {
	want := SelfInfo{
		NodeType:        1,
		TxPower:         20,
		MaxTxPower:      30,
		PublicKey:       testKey(),
		Lat:             DegreesE6(48.8566),
		Lon:             DegreesE6(2.3522),
		MultiAcks:       1,
		AdvertLocPolicy: AdvertLocationShare,
		TelemetryModes:  0x05,
		ManualAdd:       true,
		FreqKhz:         869525,
		BandwidthKhz:    250,
		SpreadingFactor: 11,
		CodingRate:      5,
		NodeName:        "basecamp",
	}
	f := NewFrame(uint8(RespSelfInfo)).
		AppendBytes(want.NodeType, want.TxPower, want.MaxTxPower).
		AppendPublicKey(want.PublicKey).
		AppendDegE6(want.Lat).
		AppendDegE6(want.Lon).
		AppendBytes(want.MultiAcks, uint8(want.AdvertLocPolicy), want.TelemetryModes, 1).
		AppendUint32(want.FreqKhz).
		AppendUint32(want.BandwidthKhz).
		AppendBytes(want.SpreadingFactor, want.CodingRate).
		AppendBytes([]byte(want.NodeName)...)
	raw, err := f.Bytes()
	require.NoError(t, err)

	g, err := ParseFrame(raw)
	require.NoError(t, err)
	got, err := ParseSelfInfo(g)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChannelInfoRoundTrip(t *testing.T) {
	want := ChannelInfo{Index: 3, Name: "#backcountry"}
	want.Secret = DeriveChannelSecret(want.Name)
	raw, err := NewFrame(uint8(RespChannelInfo)).
		AppendBytes(want.Index).
		AppendPaddedString(want.Name, MaxNameLen).
		AppendBytes(want.Secret[:]...).
		Bytes()
	require.NoError(t, err)

	f, err := ParseFrame(raw)
	require.NoError(t, err)
	got, err := ParseChannelInfo(f)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, got.Active())
}

func TestChannelInfoInactivePublic(t *testing.T) {
	var ch ChannelInfo
	ch.Name = "Public"
	assert.False(t, ch.Active())
}

func TestBatteryAndStorage(t *testing.T) {
	raw, err := NewFrame(uint8(RespBatteryAndStorage)).
		AppendUint16(3862).
		AppendUint32(120).
		AppendUint32(1024).
		Bytes()
	require.NoError(t, err)
	f, err := ParseFrame(raw)
	require.NoError(t, err)
	b, err := ParseBatteryAndStorage(f)
	require.NoError(t, err)
	assert.Equal(t, BatteryAndStorage{BatteryMv: 3862, UsedKb: 120, TotalKb: 1024}, b)
}

func TestRemoteNodeStatusRoleViews(t *testing.T) {
	payload := make([]byte, RemoteNodeStatusSize)
	payload[0] = 2 // tx queue
	payload[2] = 0x4E
	payload[3] = 0x0F // battery 3918 mV
	// posts=7, push=9 as the room view; the same octets are one u32
	// of rx airtime for a repeater
	payload[48] = 7
	payload[50] = 9

	s, err := ParseRemoteNodeStatus(payload)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), s.TxQueueLen)
	assert.Equal(t, uint16(3918), s.BatteryMv)

	room := s.AsRoomServer()
	assert.Equal(t, uint16(7), room.PostsCount)
	assert.Equal(t, uint16(9), room.PushCount)

	rep := s.AsRepeater()
	assert.Equal(t, uint32(7|9<<16), rep.RxAirtimeSecs)
}

func TestParseTraceData(t *testing.T) {
	f := NewFrame(uint8(PushTraceData)).
		AppendBytes(0).       // reserved
		AppendBytes(2).       // path len
		AppendBytes(0x01).    // flags
		AppendUint32(0xCAFE). // tag
		AppendUint32(0x1234). // auth
		AppendBytes(0xAA, 0xBB).
		AppendBytes(byte(8), byte(0xFC)).
		AppendInt8(16)
	raw, err := f.Bytes()
	require.NoError(t, err)

	g, err := ParseFrame(raw)
	require.NoError(t, err)
	ti, err := ParseTraceData(g)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), ti.Tag)
	assert.Equal(t, uint32(0x1234), ti.Auth)
	require.Len(t, ti.Hops, 2)
	assert.Equal(t, TraceHop{Hash: 0xAA, SNR: 2}, ti.Hops[0])
	assert.Equal(t, TraceHop{Hash: 0xBB, SNR: -1}, ti.Hops[1])
	assert.Equal(t, 4.0, ti.FinalSNR)
}

func TestParseNeighbours(t *testing.T) {
	payload := NewFrame(0)
	payload.AppendUint16(5) // total (i16)
	payload.AppendUint16(2) // returned
	payload.AppendBytes(1, 2, 3, 4, 5, 6).AppendInt32(30).AppendInt8(10)
	payload.AppendBytes(9, 8, 7, 6, 5, 4).AppendInt32(600).AppendInt8(-2)
	raw, err := payload.Bytes()
	require.NoError(t, err)

	page, err := ParseNeighbours(raw[1:], 6)
	require.NoError(t, err)
	assert.Equal(t, int16(5), page.Total)
	require.Len(t, page.Neighbours, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, page.Neighbours[0].Prefix)
	assert.Equal(t, int32(30), page.Neighbours[0].SecondsAgo)
	assert.Equal(t, 2.5, page.Neighbours[0].SNR)
	assert.Equal(t, -0.5, page.Neighbours[1].SNR)
}

func TestParseLoginSuccess(t *testing.T) {
	f := NewFrame(uint8(PushLoginSuccess)).
		AppendBytes(1).
		AppendKeyPrefix(KeyPrefix{1, 2, 3, 4, 5, 6}).
		AppendTimestamp(1700000000).
		AppendBytes(0x02, 0x03)
	raw, err := f.Bytes()
	require.NoError(t, err)

	g, err := ParseFrame(raw)
	require.NoError(t, err)
	li, err := ParseLoginSuccess(g)
	require.NoError(t, err)
	assert.True(t, li.IsAdmin)
	assert.Equal(t, KeyPrefix{1, 2, 3, 4, 5, 6}, li.Prefix)
	assert.Equal(t, Timestamp(1700000000), li.ServerTime)
	assert.Equal(t, uint8(0x02), li.ACL)
	assert.Equal(t, uint8(0x03), li.FirmwareLvl)
}

func TestErrResponseMapping(t *testing.T) {
	f, err := ParseFrame([]byte{byte(RespErr), byte(ErrCodeTableFull)})
	require.NoError(t, err)
	perr := ParseErrResponse(f)
	assert.Equal(t, KindDeviceError, perr.Kind)
	assert.Equal(t, ErrCodeTableFull, perr.Code)

	f, err = ParseFrame([]byte{byte(RespErr), byte(ErrCodeUnsupportedCmd)})
	require.NoError(t, err)
	assert.ErrorIs(t, ParseErrResponse(f), ErrUnsupportedCmd)

	// bare error frame counts as unsupported
	f, err = ParseFrame([]byte{byte(RespErr)})
	require.NoError(t, err)
	assert.ErrorIs(t, ParseErrResponse(f), ErrUnsupportedCmd)
}

func TestFloodScope(t *testing.T) {
	var zero [ChannelSecretLen]byte
	assert.Equal(t, zero, FloodScope(""))
	assert.Equal(t, zero, FloodScope("0"))
	assert.Equal(t, zero, FloodScope("None"))

	global := FloodScope("*")
	for _, b := range global {
		assert.Equal(t, byte(0xFF), b)
	}

	hashed := FloodScope("#summit")
	assert.Equal(t, DeriveChannelSecret("#summit"), hashed)
	assert.NotEqual(t, zero, hashed)
}

func TestPushMatchExtraction(t *testing.T) {
	ack, ok := ExtractPushAck(PushSendConfirmed, []byte{0x78, 0x56, 0x34, 0x12, 0, 0, 0, 0})
	require.True(t, ok)
	assert.Equal(t, AckCode(0x12345678), ack)

	_, ok = ExtractPushAck(PushSendConfirmed, []byte{0x01})
	assert.False(t, ok)

	trace := NewFrame(uint8(PushTraceData)).
		AppendBytes(0, 0, 0).
		AppendUint32(0xBEEF).
		AppendUint32(0).
		AppendInt8(0)
	raw, err := trace.Bytes()
	require.NoError(t, err)
	tag, ok := ExtractPushTag(PushTraceData, raw[1:])
	require.True(t, ok)
	assert.Equal(t, uint32(0xBEEF), tag)

	login := NewFrame(uint8(PushLoginSuccess)).
		AppendBytes(0).
		AppendKeyPrefix(KeyPrefix{9, 9, 9, 9, 9, 9}).
		AppendTimestamp(0).
		AppendBytes(0, 0)
	raw, err = login.Bytes()
	require.NoError(t, err)
	prefix, ok := ExtractPushPrefix(PushLoginSuccess, raw[1:])
	require.True(t, ok)
	assert.Equal(t, KeyPrefix{9, 9, 9, 9, 9, 9}, prefix)
}

func TestCodeStrings(t *testing.T) {
	assert.Equal(t, "CMD<DeviceQuery>", CmdDeviceQuery.String())
	assert.Equal(t, "RSP<Sent>", RespSent.String())
	assert.Equal(t, "PSH<SendConfirmed>", PushSendConfirmed.String())
	assert.Equal(t, "ERR<TableFull>", ErrCodeTableFull.String())
	assert.Equal(t, "CMD<200>", CommandCode(200).String())
	assert.Equal(t, "RSP<99>", ResponseCode(99).String())
}
