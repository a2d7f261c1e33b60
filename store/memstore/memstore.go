// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package memstore is the in-memory Store used by tests and as the
// default backing of the development CLI.
package memstore

import (
	"sort"
	"sync"

	"github.com/rs/xid"

	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
)

// Memstore implements store.Store with plain maps under one lock.
type Memstore struct {
	mu       sync.RWMutex
	devices  map[string]*store.DeviceRecord
	contacts map[string]*store.ContactRecord
	messages map[string]*store.MessageRecord
	channels map[string]*store.ChannelRecord
	seq      uint64 // message arrival order tiebreaker
	order    map[string]uint64
}

var _ store.Store = (*Memstore)(nil)

// New creates an empty store.
func New() *Memstore {
	return &Memstore{
		devices:  make(map[string]*store.DeviceRecord),
		contacts: make(map[string]*store.ContactRecord),
		messages: make(map[string]*store.MessageRecord),
		channels: make(map[string]*store.ChannelRecord),
		order:    make(map[string]uint64),
	}
}

func (sf *Memstore) UpsertDevice(d *store.DeviceRecord) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if d.ID == "" {
		for _, have := range sf.devices {
			if have.PublicKey == d.PublicKey {
				d.ID = have.ID
				break
			}
		}
	}
	if d.ID == "" {
		d.ID = xid.New().String()
	}
	cp := *d
	sf.devices[d.ID] = &cp
	return nil
}

func (sf *Memstore) GetDevice(id string) (*store.DeviceRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	d, ok := sf.devices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (sf *Memstore) GetDeviceByKey(key meshcore.PublicKey) (*store.DeviceRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	for _, d := range sf.devices {
		if d.PublicKey == key {
			cp := *d
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (sf *Memstore) ListDevices() ([]*store.DeviceRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	out := make([]*store.DeviceRecord, 0, len(sf.devices))
	for _, d := range sf.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (sf *Memstore) SetActiveDevice(id string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.devices[id]; !ok {
		return store.ErrNotFound
	}
	for _, d := range sf.devices {
		d.Active = d.ID == id
	}
	return nil
}

func (sf *Memstore) DeleteDevice(id string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(sf.devices, id)
	for cid, c := range sf.contacts {
		if c.DeviceID == id {
			delete(sf.contacts, cid)
		}
	}
	for chid, ch := range sf.channels {
		if ch.DeviceID == id {
			delete(sf.channels, chid)
		}
	}
	for mid, m := range sf.messages {
		if m.DeviceID == id {
			delete(sf.messages, mid)
			delete(sf.order, mid)
		}
	}
	return nil
}

func (sf *Memstore) UpsertContact(deviceID string, c meshcore.ContactFrame) (*store.ContactRecord, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.devices[deviceID]; !ok {
		return nil, store.ErrNotFound
	}
	rec := sf.findContactByKey(deviceID, c.PublicKey)
	if rec == nil {
		rec = &store.ContactRecord{ID: xid.New().String(), DeviceID: deviceID, PublicKey: c.PublicKey}
		sf.contacts[rec.ID] = rec
	}
	rec.Name = c.Name
	rec.Type = c.Type
	rec.Flags = c.Flags
	rec.OutPath = append(meshcore.Path(nil), c.OutPath...)
	rec.LastAdvert = c.LastAdvert
	rec.Lat = c.Lat
	rec.Lon = c.Lon
	rec.LastModified = c.LastModified
	cp := *rec
	return &cp, nil
}

func (sf *Memstore) findContactByKey(deviceID string, key meshcore.PublicKey) *store.ContactRecord {
	for _, c := range sf.contacts {
		if c.DeviceID == deviceID && c.PublicKey == key {
			return c
		}
	}
	return nil
}

func (sf *Memstore) GetContact(id string) (*store.ContactRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	c, ok := sf.contacts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (sf *Memstore) GetContactByKey(deviceID string, key meshcore.PublicKey) (*store.ContactRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	if c := sf.findContactByKey(deviceID, key); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (sf *Memstore) GetContactByPrefix(deviceID string, prefix meshcore.KeyPrefix) (*store.ContactRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	for _, c := range sf.contacts {
		if c.DeviceID == deviceID && c.PublicKey.Prefix() == prefix {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (sf *Memstore) ListContacts(deviceID string) ([]*store.ContactRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	var out []*store.ContactRecord
	for _, c := range sf.contacts {
		if c.DeviceID == deviceID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (sf *Memstore) UpdateContactLastMessage(contactID string, at meshcore.Timestamp) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	c, ok := sf.contacts[contactID]
	if !ok {
		return store.ErrNotFound
	}
	if at > c.LastMessage {
		c.LastMessage = at
	}
	return nil
}

func (sf *Memstore) IncrementUnread(contactID string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	c, ok := sf.contacts[contactID]
	if !ok {
		return store.ErrNotFound
	}
	c.UnreadCount++
	return nil
}

func (sf *Memstore) ClearUnread(contactID string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	c, ok := sf.contacts[contactID]
	if !ok {
		return store.ErrNotFound
	}
	c.UnreadCount = 0
	return nil
}

func (sf *Memstore) DeleteContact(contactID string) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.contacts[contactID]; !ok {
		return store.ErrNotFound
	}
	delete(sf.contacts, contactID)
	for mid, m := range sf.messages {
		if m.ContactID == contactID {
			delete(sf.messages, mid)
			delete(sf.order, mid)
		}
	}
	return nil
}

func (sf *Memstore) SaveMessage(m *store.MessageRecord) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if m.ID == "" {
		m.ID = xid.New().String()
	}
	if _, ok := sf.order[m.ID]; !ok {
		sf.seq++
		sf.order[m.ID] = sf.seq
	}
	cp := *m
	sf.messages[m.ID] = &cp
	return nil
}

func (sf *Memstore) GetMessage(id string) (*store.MessageRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	m, ok := sf.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (sf *Memstore) UpdateMessageStatus(id string, status store.MessageStatus) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	m, ok := sf.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	return nil
}

func (sf *Memstore) UpdateMessageByAck(deviceID string, ack meshcore.AckCode, status store.MessageStatus, rttMs uint32) (*store.MessageRecord, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	var oldest *store.MessageRecord
	for _, m := range sf.messages {
		if m.DeviceID != deviceID || m.AckCode != ack {
			continue
		}
		if m.Status != store.StatusSending && m.Status != store.StatusSent {
			continue
		}
		if oldest == nil || sf.order[m.ID] < sf.order[oldest.ID] {
			oldest = m
		}
	}
	if oldest == nil {
		return nil, store.ErrNotFound
	}
	oldest.Status = status
	oldest.RttMs = rttMs
	cp := *oldest
	return &cp, nil
}

func (sf *Memstore) CountPending(deviceID string) (int, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	n := 0
	for _, m := range sf.messages {
		if m.DeviceID == deviceID && m.Status == store.StatusPending {
			n++
		}
	}
	return n, nil
}

func (sf *Memstore) ListPendingMessages(deviceID string) ([]*store.MessageRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	var out []*store.MessageRecord
	for _, m := range sf.messages {
		if m.DeviceID == deviceID && m.Status == store.StatusPending {
			cp := *m
			out = append(out, &cp)
		}
	}
	sf.sortByArrival(out)
	return out, nil
}

func (sf *Memstore) ListMessages(contactID string, limit, offset int) ([]*store.MessageRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	var out []*store.MessageRecord
	for _, m := range sf.messages {
		if m.ContactID == contactID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sf.sortByArrival(out)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (sf *Memstore) ListChannelMessages(deviceID string, channelIdx uint8) ([]*store.MessageRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	var out []*store.MessageRecord
	for _, m := range sf.messages {
		if m.DeviceID == deviceID && m.ContactID == "" && m.ChannelIdx == int(channelIdx) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sf.sortByArrival(out)
	return out, nil
}

func (sf *Memstore) sortByArrival(ms []*store.MessageRecord) {
	sort.Slice(ms, func(i, j int) bool { return sf.order[ms[i].ID] < sf.order[ms[j].ID] })
}

func (sf *Memstore) UpsertChannel(deviceID string, ch meshcore.ChannelInfo) (*store.ChannelRecord, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, ok := sf.devices[deviceID]; !ok {
		return nil, store.ErrNotFound
	}
	var rec *store.ChannelRecord
	for _, have := range sf.channels {
		if have.DeviceID == deviceID && have.Index == ch.Index {
			rec = have
			break
		}
	}
	if rec == nil {
		rec = &store.ChannelRecord{ID: xid.New().String(), DeviceID: deviceID, Index: ch.Index}
		sf.channels[rec.ID] = rec
	}
	rec.Name = ch.Name
	rec.Secret = ch.Secret
	cp := *rec
	return &cp, nil
}

func (sf *Memstore) GetChannel(deviceID string, idx uint8) (*store.ChannelRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	for _, ch := range sf.channels {
		if ch.DeviceID == deviceID && ch.Index == idx {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (sf *Memstore) ListChannels(deviceID string) ([]*store.ChannelRecord, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	var out []*store.ChannelRecord
	for _, ch := range sf.channels {
		if ch.DeviceID == deviceID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
