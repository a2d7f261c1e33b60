// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package boltstore persists the protocol records in a bbolt file, one
// bucket per table. Record ids are xid strings, so lexicographic key
// order is arrival order.
package boltstore

import (
	"encoding/json"
	"sort"

	"github.com/rs/xid"
	bolt "go.etcd.io/bbolt"

	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
)

var (
	bucketDevices  = []byte("devices")
	bucketContacts = []byte("contacts")
	bucketMessages = []byte("messages")
	bucketChannels = []byte("channels")
)

// Boltstore implements store.Store over a bbolt database.
type Boltstore struct {
	db *bolt.DB
}

var _ store.Store = (*Boltstore)(nil)

// Open creates or opens the database file and ensures the buckets
// exist.
func Open(path string) (*Boltstore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDevices, bucketContacts, bucketMessages, bucketChannels} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Boltstore{db: db}, nil
}

// Close releases the database file.
func (sf *Boltstore) Close() error { return sf.db.Close() }

func put(b *bolt.Bucket, id string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(id), raw)
}

func get(b *bolt.Bucket, id string, v interface{}) error {
	raw := b.Get([]byte(id))
	if raw == nil {
		return store.ErrNotFound
	}
	return json.Unmarshal(raw, v)
}

func (sf *Boltstore) UpsertDevice(d *store.DeviceRecord) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if d.ID == "" {
			// reuse the id of an existing record with the same key
			c := b.Cursor()
			for k, raw := c.First(); k != nil; k, raw = c.Next() {
				var have store.DeviceRecord
				if json.Unmarshal(raw, &have) == nil && have.PublicKey == d.PublicKey {
					d.ID = have.ID
					break
				}
			}
		}
		if d.ID == "" {
			d.ID = xid.New().String()
		}
		return put(b, d.ID, d)
	})
}

func (sf *Boltstore) GetDevice(id string) (*store.DeviceRecord, error) {
	var d store.DeviceRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketDevices), id, &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (sf *Boltstore) GetDeviceByKey(key meshcore.PublicKey) (*store.DeviceRecord, error) {
	var found *store.DeviceRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, raw []byte) error {
			var d store.DeviceRecord
			if json.Unmarshal(raw, &d) == nil && d.PublicKey == key {
				found = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (sf *Boltstore) ListDevices() ([]*store.DeviceRecord, error) {
	var out []*store.DeviceRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, raw []byte) error {
			var d store.DeviceRecord
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	return out, err
}

func (sf *Boltstore) SetActiveDevice(id string) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var d store.DeviceRecord
			if err := json.Unmarshal(raw, &d); err != nil {
				return err
			}
			d.Active = d.ID == id
			if err := put(b, d.ID, &d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (sf *Boltstore) DeleteDevice(id string) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		devices := tx.Bucket(bucketDevices)
		if devices.Get([]byte(id)) == nil {
			return store.ErrNotFound
		}
		if err := devices.Delete([]byte(id)); err != nil {
			return err
		}
		if err := deleteWhere(tx.Bucket(bucketContacts), func(raw []byte) bool {
			var c store.ContactRecord
			return json.Unmarshal(raw, &c) == nil && c.DeviceID == id
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx.Bucket(bucketChannels), func(raw []byte) bool {
			var ch store.ChannelRecord
			return json.Unmarshal(raw, &ch) == nil && ch.DeviceID == id
		}); err != nil {
			return err
		}
		return deleteWhere(tx.Bucket(bucketMessages), func(raw []byte) bool {
			var m store.MessageRecord
			return json.Unmarshal(raw, &m) == nil && m.DeviceID == id
		})
	})
}

func deleteWhere(b *bolt.Bucket, match func(raw []byte) bool) error {
	var doomed [][]byte
	c := b.Cursor()
	for k, raw := c.First(); k != nil; k, raw = c.Next() {
		if match(raw) {
			doomed = append(doomed, append([]byte(nil), k...))
		}
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (sf *Boltstore) UpsertContact(deviceID string, cf meshcore.ContactFrame) (*store.ContactRecord, error) {
	var rec store.ContactRecord
	err := sf.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices).Get([]byte(deviceID)) == nil {
			return store.ErrNotFound
		}
		b := tx.Bucket(bucketContacts)
		found := false
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var have store.ContactRecord
			if json.Unmarshal(raw, &have) == nil && have.DeviceID == deviceID && have.PublicKey == cf.PublicKey {
				rec = have
				found = true
				break
			}
		}
		if !found {
			rec = store.ContactRecord{ID: xid.New().String(), DeviceID: deviceID, PublicKey: cf.PublicKey}
		}
		rec.Name = cf.Name
		rec.Type = cf.Type
		rec.Flags = cf.Flags
		rec.OutPath = append(meshcore.Path(nil), cf.OutPath...)
		rec.LastAdvert = cf.LastAdvert
		rec.Lat = cf.Lat
		rec.Lon = cf.Lon
		rec.LastModified = cf.LastModified
		return put(b, rec.ID, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (sf *Boltstore) GetContact(id string) (*store.ContactRecord, error) {
	var c store.ContactRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketContacts), id, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (sf *Boltstore) GetContactByKey(deviceID string, key meshcore.PublicKey) (*store.ContactRecord, error) {
	return sf.findContact(func(c *store.ContactRecord) bool {
		return c.DeviceID == deviceID && c.PublicKey == key
	})
}

func (sf *Boltstore) GetContactByPrefix(deviceID string, prefix meshcore.KeyPrefix) (*store.ContactRecord, error) {
	return sf.findContact(func(c *store.ContactRecord) bool {
		return c.DeviceID == deviceID && c.PublicKey.Prefix() == prefix
	})
}

func (sf *Boltstore) findContact(match func(*store.ContactRecord) bool) (*store.ContactRecord, error) {
	var found *store.ContactRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContacts).ForEach(func(_, raw []byte) error {
			var c store.ContactRecord
			if json.Unmarshal(raw, &c) == nil && found == nil && match(&c) {
				found = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (sf *Boltstore) ListContacts(deviceID string) ([]*store.ContactRecord, error) {
	var out []*store.ContactRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketContacts).ForEach(func(_, raw []byte) error {
			var c store.ContactRecord
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			if c.DeviceID == deviceID {
				out = append(out, &c)
			}
			return nil
		})
	})
	return out, err
}

func (sf *Boltstore) updateContact(id string, mutate func(*store.ContactRecord)) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)
		var c store.ContactRecord
		if err := get(b, id, &c); err != nil {
			return err
		}
		mutate(&c)
		return put(b, id, &c)
	})
}

func (sf *Boltstore) UpdateContactLastMessage(contactID string, at meshcore.Timestamp) error {
	return sf.updateContact(contactID, func(c *store.ContactRecord) {
		if at > c.LastMessage {
			c.LastMessage = at
		}
	})
}

func (sf *Boltstore) IncrementUnread(contactID string) error {
	return sf.updateContact(contactID, func(c *store.ContactRecord) { c.UnreadCount++ })
}

func (sf *Boltstore) ClearUnread(contactID string) error {
	return sf.updateContact(contactID, func(c *store.ContactRecord) { c.UnreadCount = 0 })
}

func (sf *Boltstore) DeleteContact(contactID string) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketContacts)
		if b.Get([]byte(contactID)) == nil {
			return store.ErrNotFound
		}
		if err := b.Delete([]byte(contactID)); err != nil {
			return err
		}
		return deleteWhere(tx.Bucket(bucketMessages), func(raw []byte) bool {
			var m store.MessageRecord
			return json.Unmarshal(raw, &m) == nil && m.ContactID == contactID
		})
	})
}

func (sf *Boltstore) SaveMessage(m *store.MessageRecord) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		if m.ID == "" {
			m.ID = xid.New().String()
		}
		return put(tx.Bucket(bucketMessages), m.ID, m)
	})
}

func (sf *Boltstore) GetMessage(id string) (*store.MessageRecord, error) {
	var m store.MessageRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketMessages), id, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (sf *Boltstore) UpdateMessageStatus(id string, status store.MessageStatus) error {
	return sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		var m store.MessageRecord
		if err := get(b, id, &m); err != nil {
			return err
		}
		m.Status = status
		return put(b, id, &m)
	})
}

func (sf *Boltstore) UpdateMessageByAck(deviceID string, ack meshcore.AckCode, status store.MessageStatus, rttMs uint32) (*store.MessageRecord, error) {
	var found *store.MessageRecord
	err := sf.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		// ids sort by creation time, so the first match is the oldest
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var m store.MessageRecord
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			if m.DeviceID != deviceID || m.AckCode != ack {
				continue
			}
			if m.Status != store.StatusSending && m.Status != store.StatusSent {
				continue
			}
			m.Status = status
			m.RttMs = rttMs
			found = &m
			return put(b, m.ID, &m)
		}
		return store.ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (sf *Boltstore) CountPending(deviceID string) (int, error) {
	n := 0
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, raw []byte) error {
			var m store.MessageRecord
			if json.Unmarshal(raw, &m) == nil && m.DeviceID == deviceID && m.Status == store.StatusPending {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (sf *Boltstore) ListPendingMessages(deviceID string) ([]*store.MessageRecord, error) {
	return sf.listMessages(func(m *store.MessageRecord) bool {
		return m.DeviceID == deviceID && m.Status == store.StatusPending
	}, 0, 0)
}

func (sf *Boltstore) ListMessages(contactID string, limit, offset int) ([]*store.MessageRecord, error) {
	return sf.listMessages(func(m *store.MessageRecord) bool {
		return m.ContactID == contactID
	}, limit, offset)
}

func (sf *Boltstore) ListChannelMessages(deviceID string, channelIdx uint8) ([]*store.MessageRecord, error) {
	return sf.listMessages(func(m *store.MessageRecord) bool {
		return m.DeviceID == deviceID && m.ContactID == "" && m.ChannelIdx == int(channelIdx)
	}, 0, 0)
}

func (sf *Boltstore) listMessages(match func(*store.MessageRecord) bool, limit, offset int) ([]*store.MessageRecord, error) {
	var out []*store.MessageRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, raw []byte) error {
			var m store.MessageRecord
			if err := json.Unmarshal(raw, &m); err != nil {
				return err
			}
			if match(&m) {
				out = append(out, &m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (sf *Boltstore) UpsertChannel(deviceID string, ch meshcore.ChannelInfo) (*store.ChannelRecord, error) {
	var rec store.ChannelRecord
	err := sf.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketDevices).Get([]byte(deviceID)) == nil {
			return store.ErrNotFound
		}
		b := tx.Bucket(bucketChannels)
		found := false
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			var have store.ChannelRecord
			if json.Unmarshal(raw, &have) == nil && have.DeviceID == deviceID && have.Index == ch.Index {
				rec = have
				found = true
				break
			}
		}
		if !found {
			rec = store.ChannelRecord{ID: xid.New().String(), DeviceID: deviceID, Index: ch.Index}
		}
		rec.Name = ch.Name
		rec.Secret = ch.Secret
		return put(b, rec.ID, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (sf *Boltstore) GetChannel(deviceID string, idx uint8) (*store.ChannelRecord, error) {
	var found *store.ChannelRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(_, raw []byte) error {
			var ch store.ChannelRecord
			if json.Unmarshal(raw, &ch) == nil && ch.DeviceID == deviceID && ch.Index == idx {
				found = &ch
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (sf *Boltstore) ListChannels(deviceID string) ([]*store.ChannelRecord, error) {
	var out []*store.ChannelRecord
	err := sf.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChannels).ForEach(func(_, raw []byte) error {
			var ch store.ChannelRecord
			if err := json.Unmarshal(raw, &ch); err != nil {
				return err
			}
			if ch.DeviceID == deviceID {
				out = append(out, &ch)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
