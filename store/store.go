// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package store defines the persistence contract of the protocol core.
// Every operation is one atomic call; the core never holds a store
// reference across a suspension point.
package store

import (
	"errors"

	"github.com/Avi0n/pocketmesh/meshcore"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("store: not found")

// MessageStatus is the delivery state of a message record.
type MessageStatus uint8

// message status lifecycle:
//
//	pending -> sending -> sent -> delivered
//	           sending -> failed
const (
	StatusPending   MessageStatus = iota // queued locally, transport down
	StatusSending                        // radio accepted, ack code known
	StatusSent                           // transmit slot complete, may retry
	StatusDelivered                      // confirmation with matching ack arrived
	StatusFailed                         // all retry and flood attempts exhausted
)

func (sf MessageStatus) String() string {
	switch sf {
	case StatusPending:
		return "pending"
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusFailed:
		return "failed"
	}
	return "status?"
}

// CanTransition reports whether the lifecycle permits moving to next.
func (sf MessageStatus) CanTransition(next MessageStatus) bool {
	switch sf {
	case StatusPending:
		return next == StatusSending || next == StatusFailed
	case StatusSending:
		return next == StatusSent || next == StatusDelivered || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusSending || next == StatusFailed
	}
	return false
}

// DeviceRecord is one radio identity paired by the host.
type DeviceRecord struct {
	ID              string
	PublicKey       meshcore.PublicKey
	Name            string
	FirmwareVer     uint8
	FirmwareStr     string
	Manufacturer    string
	BuildDate       string
	FreqKhz         uint32
	BandwidthKhz    uint32
	SpreadingFactor uint8
	CodingRate      uint8
	TxPower         uint8
	MaxTxPower      uint8
	Lat             meshcore.DegE6
	Lon             meshcore.DegE6
	TelemetryModes  uint8
	AdvertLocPolicy meshcore.AdvertLocationPolicy
	BlePin          uint32
	Active          bool

	// ContactsWatermark is the newest contact last-modified seen by a
	// completed sync; the next sync fetches only what changed after it.
	ContactsWatermark meshcore.Timestamp
}

// ContactRecord is one known peer of a device.
type ContactRecord struct {
	ID           string
	DeviceID     string
	PublicKey    meshcore.PublicKey
	Name         string
	Type         meshcore.ContactType
	Flags        uint8
	OutPath      meshcore.Path
	LastAdvert   meshcore.Timestamp
	Lat          meshcore.DegE6
	Lon          meshcore.DegE6
	LastModified meshcore.Timestamp
	UnreadCount  int
	LastMessage  meshcore.Timestamp
}

// MessageRecord is one unit of text traffic. Exactly one of ContactID
// or a non-negative ChannelIdx is set.
type MessageRecord struct {
	ID         string
	DeviceID   string
	ContactID  string // empty for channel messages
	ChannelIdx int    // -1 for direct messages
	Outgoing   bool
	SenderName string // channel messages only
	Text       string
	CreatedAt  meshcore.Timestamp
	AckCode    meshcore.AckCode // 0 for channel messages
	Status     MessageStatus
	Attempts   uint8
	EstTimeout uint32 // milliseconds, from the sent response
	Flood      bool
	RttMs      uint32  // set on delivery confirmation
	SNR        float64 // inbound only
	PathLen    uint8   // inbound only
	RetryAt    meshcore.Timestamp
}

// ChannelRecord is one broadcast slot of a device.
type ChannelRecord struct {
	ID       string
	DeviceID string
	Index    uint8
	Name     string
	Secret   [meshcore.ChannelSecretLen]byte
}

// Store is the typed persistence surface the protocol core consumes.
// Implementations must make each call atomic and honor the unique
// indices: device public key, (device, contact key), (device, channel
// index). Deleting a device cascades to its contacts, channels and
// messages; deleting a contact cascades to its messages.
type Store interface {
	UpsertDevice(d *DeviceRecord) error
	GetDevice(id string) (*DeviceRecord, error)
	GetDeviceByKey(key meshcore.PublicKey) (*DeviceRecord, error)
	ListDevices() ([]*DeviceRecord, error)
	// SetActiveDevice marks one device active and clears the flag on
	// every other device.
	SetActiveDevice(id string) error
	DeleteDevice(id string) error

	UpsertContact(deviceID string, c meshcore.ContactFrame) (*ContactRecord, error)
	GetContact(id string) (*ContactRecord, error)
	GetContactByKey(deviceID string, key meshcore.PublicKey) (*ContactRecord, error)
	GetContactByPrefix(deviceID string, prefix meshcore.KeyPrefix) (*ContactRecord, error)
	ListContacts(deviceID string) ([]*ContactRecord, error)
	UpdateContactLastMessage(contactID string, at meshcore.Timestamp) error
	IncrementUnread(contactID string) error
	ClearUnread(contactID string) error
	DeleteContact(contactID string) error

	SaveMessage(m *MessageRecord) error
	GetMessage(id string) (*MessageRecord, error)
	UpdateMessageStatus(id string, status MessageStatus) error
	// UpdateMessageByAck resolves the oldest message of the device in
	// StatusSending or StatusSent carrying the ack code, applying status
	// and rtt.
	UpdateMessageByAck(deviceID string, ack meshcore.AckCode, status MessageStatus, rttMs uint32) (*MessageRecord, error)
	CountPending(deviceID string) (int, error)
	ListPendingMessages(deviceID string) ([]*MessageRecord, error)
	ListMessages(contactID string, limit, offset int) ([]*MessageRecord, error)
	ListChannelMessages(deviceID string, channelIdx uint8) ([]*MessageRecord, error)

	UpsertChannel(deviceID string, ch meshcore.ChannelInfo) (*ChannelRecord, error)
	GetChannel(deviceID string, idx uint8) (*ChannelRecord, error)
	ListChannels(deviceID string) ([]*ChannelRecord, error)
}
