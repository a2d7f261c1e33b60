// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

// RemoteNodeStatus is the 52-octet status record a repeater or room
// server returns inside a binary response (and in PushStatusResponse).
// The last four octets are role-dependent: call AsRoomServer or
// AsRepeater according to the contact's type, the frame itself does not
// say.
type RemoteNodeStatus struct {
	TxQueueLen  uint16
	BatteryMv   uint16
	NoiseFloor  int16
	LastRSSI    int16
	RecvPackets uint32
	SentPackets uint32
	AirtimeSecs uint32
	UptimeSecs  uint32
	SentFlood   uint32
	SentDirect  uint32
	RecvFlood   uint32
	RecvDirect  uint32
	FullEvents  uint16
	LastSNR     float64 // dB, wire quarter-dB
	DirectDups  uint16
	FloodDups   uint16

	roleTail uint32 // octets 48..51, role-dependent
}

// RemoteNodeStatusSize is the serialized size of RemoteNodeStatus.
const RemoteNodeStatusSize = 52

// RoomServerStatus is the role view of the status tail for a room
// server contact.
type RoomServerStatus struct {
	PostsCount uint16
	PushCount  uint16
}

// RepeaterStatus is the role view of the status tail for a repeater
// contact.
type RepeaterStatus struct {
	RxAirtimeSecs uint32
}

// AsRoomServer interprets the tail for a ContactTypeRoom peer.
func (sf RemoteNodeStatus) AsRoomServer() RoomServerStatus {
	return RoomServerStatus{
		PostsCount: uint16(sf.roleTail),
		PushCount:  uint16(sf.roleTail >> 16),
	}
}

// AsRepeater interprets the tail for a ContactTypeRepeater peer.
func (sf RemoteNodeStatus) AsRepeater() RepeaterStatus {
	return RepeaterStatus{RxAirtimeSecs: sf.roleTail}
}

// ParseRemoteNodeStatus decodes the 52-octet status record from a
// binary response payload.
func ParseRemoteNodeStatus(payload []byte) (RemoteNodeStatus, error) {
	var s RemoteNodeStatus
	if len(payload) < RemoteNodeStatusSize {
		return s, newFrameError("status record needs %d octets, got %d", RemoteNodeStatusSize, len(payload))
	}
	f := &Frame{payload: payload}
	s.TxQueueLen = f.DecodeUint16()
	s.BatteryMv = f.DecodeUint16()
	s.NoiseFloor = f.DecodeInt16()
	s.LastRSSI = f.DecodeInt16()
	s.RecvPackets = f.DecodeUint32()
	s.SentPackets = f.DecodeUint32()
	s.AirtimeSecs = f.DecodeUint32()
	s.UptimeSecs = f.DecodeUint32()
	s.SentFlood = f.DecodeUint32()
	s.SentDirect = f.DecodeUint32()
	s.RecvFlood = f.DecodeUint32()
	s.RecvDirect = f.DecodeUint32()
	s.FullEvents = f.DecodeUint16()
	s.LastSNR = float64(f.DecodeInt16()) / 4
	s.DirectDups = f.DecodeUint16()
	s.FloodDups = f.DecodeUint16()
	s.roleTail = f.DecodeUint32()
	return s, f.Err()
}

// ParseStatusResponse decodes a PushStatusResponse frame: the sender
// prefix followed by its status record.
func ParseStatusResponse(f *Frame) (KeyPrefix, RemoteNodeStatus, error) {
	if PushCode(f.Code()) != PushStatusResponse {
		return KeyPrefix{}, RemoteNodeStatus{}, newFrameError("want %v, got code %#02x", PushStatusResponse, f.Code())
	}
	prefix := f.DecodeKeyPrefix()
	raw := f.DecodeBytes(f.Remaining())
	if err := f.Err(); err != nil {
		return prefix, RemoteNodeStatus{}, err
	}
	status, err := ParseRemoteNodeStatus(raw)
	return prefix, status, err
}

// Neighbour is one entry of a neighbour table page.
type Neighbour struct {
	Prefix     []byte // prefixLen octets of the neighbour's key
	SecondsAgo int32
	SNR        float64 // dB, wire quarter-dB
}

// NeighboursPage is the neighbour table page inside a binary response.
type NeighboursPage struct {
	Total      int16
	Neighbours []Neighbour
}

// ParseNeighbours decodes a neighbour table page. prefixLen is the
// per-entry key prefix width the request asked for.
func ParseNeighbours(payload []byte, prefixLen int) (NeighboursPage, error) {
	var page NeighboursPage
	if prefixLen <= 0 || prefixLen > PublicKeySize {
		return page, newArgError("prefix length %d not in [1,%d]", prefixLen, PublicKeySize)
	}
	f := &Frame{payload: payload}
	page.Total = f.DecodeInt16()
	returned := int(f.DecodeInt16())
	if err := f.Err(); err != nil {
		return page, err
	}
	if returned < 0 {
		return page, newFrameError("negative neighbour count %d", returned)
	}
	page.Neighbours = make([]Neighbour, 0, returned)
	for i := 0; i < returned; i++ {
		var n Neighbour
		n.Prefix = f.DecodeBytes(prefixLen)
		n.SecondsAgo = f.DecodeInt32()
		n.SNR = float64(f.DecodeInt8()) / 4
		if err := f.Err(); err != nil {
			return page, err
		}
		page.Neighbours = append(page.Neighbours, n)
	}
	return page, nil
}
