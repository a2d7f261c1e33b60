// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"encoding/hex"
	"time"
)

// about wire value types shared by commands, responses and pushes.

// PublicKey is a 32-octet node identity key.
type PublicKey [PublicKeySize]byte

// ParsePublicKey copies a full-length key slice. Shorter or longer input
// is a usage error.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var k PublicKey
	if len(b) != PublicKeySize {
		return k, newArgError("public key must be 32 octets")
	}
	copy(k[:], b)
	return k, nil
}

// Prefix returns the compact 6-octet identifier of the key.
func (sf PublicKey) Prefix() KeyPrefix {
	var p KeyPrefix
	copy(p[:], sf[:KeyPrefixSize])
	return p
}

func (sf PublicKey) String() string { return hex.EncodeToString(sf[:]) }

// KeyPrefix is the first 6 octets of a public key, the compact node
// identifier used by most push frames.
type KeyPrefix [KeyPrefixSize]byte

// ParseKeyPrefix copies a 6-octet prefix. A full 32-octet key is
// truncated; anything shorter than 6 octets is a usage error.
func ParseKeyPrefix(b []byte) (KeyPrefix, error) {
	var p KeyPrefix
	if len(b) < KeyPrefixSize {
		return p, newArgError("key prefix needs at least 6 octets")
	}
	copy(p[:], b[:KeyPrefixSize])
	return p, nil
}

func (sf KeyPrefix) String() string { return hex.EncodeToString(sf[:]) }

// AckCode tags one transmit slot. Returned in RespSent, echoed in
// PushSendConfirmed on delivery. Zero for channel messages.
type AckCode uint32

// Timestamp is seconds since the Unix epoch as the radio counts them.
type Timestamp uint32

// Now is the current time as a wire timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

// Time converts to the host clock representation.
func (sf Timestamp) Time() time.Time { return time.Unix(int64(sf), 0) }

// DegE6 is a coordinate in degrees scaled by 10^6, two's-complement on
// the wire.
type DegE6 int32

// DegreesE6 converts floating degrees to the wire fixed point.
func DegreesE6(deg float64) DegE6 { return DegE6(deg * 1e6) }

// Degrees returns the coordinate in floating degrees.
func (sf DegE6) Degrees() float64 { return float64(sf) / 1e6 }

// Path is an ordered sequence of 1-octet node hashes describing a
// multi-hop route. A nil path means no known route (wire length -1).
type Path []byte

// Valid reports whether the path fits the wire buffer.
func (sf Path) Valid() bool { return len(sf) <= MaxPathSize }

// ContactType is the role of a peer node.
type ContactType uint8

// contact roles
const (
	ContactTypeChat     ContactType = iota + 1 // 1: companion/chat node
	ContactTypeRepeater                        // 2: repeater
	ContactTypeRoom                            // 3: room server
)

func (sf ContactType) String() string {
	switch sf {
	case ContactTypeChat:
		return "Chat"
	case ContactTypeRepeater:
		return "Repeater"
	case ContactTypeRoom:
		return "Room"
	}
	return "ContactType?"
}

// TextType qualifies the payload of a text frame.
type TextType uint8

// text payload kinds
const (
	TextTypePlain       TextType = iota // 0: plain UTF-8 chat text
	TextTypeCliData                     // 1: CLI command/response data
	TextTypeSignedPlain                 // 2: plain text with signature prefix
)

// StatsType selects a legacy status request flavor.
type StatsType uint8

// stats request flavors
const (
	StatsTypeCurrent StatsType = iota // 0: current counters
	StatsTypeTotals                   // 1: lifetime counters
)

// TelemetryMode is a bit pair in the telemetry policy byte.
type TelemetryMode uint8

// telemetry sharing policy
const (
	TelemetryModeAlways  TelemetryMode = iota // 0: answer everyone
	TelemetryModeDevice                       // 1: answer paired device only
	TelemetryModeNever                        // 2: never answer
)

// AdvertLocationPolicy controls whether adverts carry coordinates.
type AdvertLocationPolicy uint8

// advert location policy
const (
	AdvertLocationNone  AdvertLocationPolicy = iota // 0: never advertise location
	AdvertLocationShare                             // 1: include lat/lon in adverts
)

// BinaryRequestType selects the payload of CmdSendBinaryReq.
type BinaryRequestType uint8

// binary request kinds
const (
	BinaryReqStatus     BinaryRequestType = iota + 1 // 1: remote node status record
	BinaryReqKeepalive                               // 2: session keepalive
	BinaryReqTelemetry                               // 3: LPP telemetry
	BinaryReqMMA                                     // 4: min/max/avg telemetry archive
	BinaryReqACL                                     // 5: access control list
	BinaryReqNeighbours                              // 6: neighbour table page
)

// ControlDataType selects the payload of CmdSendControlData.
type ControlDataType uint8

// control datagram kinds
const (
	ControlDataNodeIdentity ControlDataType = iota // 0: identity exchange
	ControlDataPing                                // 1: ping
)

// ConnInfo is the sender metadata attached to inbound v3 text frames.
type ConnInfo struct {
	SNR     float64 // dB, quarter-dB resolution on the wire
	PathLen uint8
}
