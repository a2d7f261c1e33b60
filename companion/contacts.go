// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"context"
	"errors"

	"github.com/Avi0n/pocketmesh/clog"
	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
)

// GetContacts runs the multi-frame contact exchange: ContactsStart,
// any number of Contact records, EndOfContacts. The stream is tagged
// with a request id so concurrent syncs cannot steal each other's
// frames. A non-nil since watermark restricts the stream to records
// modified after it. Records are returned in emission order.
func (sf *Client) GetContacts(ctx context.Context, since *meshcore.Timestamp) ([]meshcore.ContactFrame, error) {
	frame, err := meshcore.GetContactsCmd(since)
	if err != nil {
		return nil, err
	}
	stream, err := sf.OpenStream(ctx, frame)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	first, err := stream.Next(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := meshcore.ParseContactsStart(first); err != nil {
		return nil, err
	}

	contacts := make([]meshcore.ContactFrame, 0, 8)
	// the cap protects against a stuck firmware stream
	for i := 0; i < sf.cfg.ContactSyncLimit; i++ {
		next, err := stream.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch meshcore.ResponseCode(next.Code()) {
		case meshcore.RespEndOfContacts:
			return contacts, nil
		case meshcore.RespContact:
			c, err := meshcore.ParseContactFrame(next)
			if err != nil {
				return nil, err
			}
			contacts = append(contacts, c)
		default:
			return nil, meshcore.ErrInvalidFrame
		}
	}
	return contacts, meshcore.ErrTimeout
}

// ContactSyncer performs incremental watermarked contact sync against
// the store.
type ContactSyncer struct {
	c  *Client
	st store.Store

	clog.Clog
}

// NewContactSyncer creates a syncer over the actor and store.
func NewContactSyncer(c *Client, st store.Store) *ContactSyncer {
	return &ContactSyncer{c: c, st: st, Clog: clog.NewLogger("contacts => ")}
}

// Sync fetches the contacts modified since the device's watermark,
// upserts them keyed on public key, and advances the watermark to the
// newest last-modified received. Wire order of records carries no
// meaning.
func (sf *ContactSyncer) Sync(ctx context.Context, dev *store.DeviceRecord) ([]*store.ContactRecord, error) {
	var since *meshcore.Timestamp
	if dev.ContactsWatermark > 0 {
		s := dev.ContactsWatermark
		since = &s
	}
	frames, err := sf.c.GetContacts(ctx, since)
	if err != nil {
		return nil, err
	}

	records := make([]*store.ContactRecord, 0, len(frames))
	watermark := dev.ContactsWatermark
	for _, cf := range frames {
		rec, err := sf.st.UpsertContact(dev.ID, cf)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		if cf.LastModified > watermark {
			watermark = cf.LastModified
		}
	}
	if watermark != dev.ContactsWatermark {
		dev.ContactsWatermark = watermark
		if err := sf.st.UpsertDevice(dev); err != nil {
			return records, err
		}
	}
	sf.Debug("synced %d contacts, watermark %d", len(records), watermark)
	return records, nil
}

// SyncChannels reads every channel slot off the radio and mirrors it
// into the store. Slots the firmware reports as absent are skipped.
func (sf *ContactSyncer) SyncChannels(ctx context.Context, dev *store.DeviceRecord) ([]*store.ChannelRecord, error) {
	var out []*store.ChannelRecord
	for idx := uint8(0); idx < meshcore.MaxChannels; idx++ {
		ch, err := sf.c.GetChannel(ctx, idx)
		if err != nil {
			var perr *meshcore.ProtoError
			if errors.As(err, &perr) && perr.Code == meshcore.ErrCodeNotFound {
				continue
			}
			return out, err
		}
		rec, err := sf.st.UpsertChannel(dev.ID, ch)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
