// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
	"github.com/Avi0n/pocketmesh/store/memstore"
	"github.com/Avi0n/pocketmesh/transport"
)

func contactFrame(id uint32, c meshcore.ContactFrame) []byte {
	raw, _ := meshcore.AppendContactFrame(meshcore.NewFrame(uint8(meshcore.RespContact)), c).Bytes()
	return append(tagged(meshcore.RespContact, id), raw[1:]...)
}

func keyWithFirstByte(b byte) meshcore.PublicKey {
	var k meshcore.PublicKey
	k[0] = b
	for i := 1; i < len(k); i++ {
		k[i] = byte(i)
	}
	return k
}

func TestSyncContactsWatermark(t *testing.T) {
	c, pipe := newTestClient(t)
	st := memstore.New()
	dev := &store.DeviceRecord{Name: "self", ContactsWatermark: 2000}
	require.NoError(t, st.UpsertDevice(dev))

	// pre-seed an old contact that the radio will not re-send
	_, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{
		PublicKey:    keyWithFirstByte(0x01),
		Type:         meshcore.ContactTypeChat,
		Name:         "old",
		LastModified: 1000,
	})
	require.NoError(t, err)

	go func() {
		raw := radioRecv(t, pipe)
		code, id, body := splitTag(t, raw)
		assert.Equal(t, byte(meshcore.CmdGetContacts), code)
		// the watermark rides behind the request id
		require.Len(t, body, 4)
		assert.Equal(t, uint32(2000), binary.LittleEndian.Uint32(body))

		pipe.Inject(tagged(meshcore.RespContactsStart, id, 1, 0, 0, 0))
		pipe.Inject(contactFrame(id, meshcore.ContactFrame{
			PublicKey:    keyWithFirstByte(0x02),
			Type:         meshcore.ContactTypeChat,
			Name:         "new",
			LastModified: 3000,
		}))
		pipe.Inject(tagged(meshcore.RespEndOfContacts, id))
	}()

	syncer := NewContactSyncer(c, st)
	records, err := syncer.Sync(context.Background(), dev)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Name)

	// watermark advanced and persisted
	assert.Equal(t, meshcore.Timestamp(3000), dev.ContactsWatermark)
	fresh, err := st.GetDevice(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, meshcore.Timestamp(3000), fresh.ContactsWatermark)

	contacts, err := st.ListContacts(dev.ID)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)
}

func TestSyncContactsUpsertsByKey(t *testing.T) {
	c, pipe := newTestClient(t)
	st := memstore.New()
	dev := &store.DeviceRecord{Name: "self"}
	require.NoError(t, st.UpsertDevice(dev))

	key := keyWithFirstByte(0x05)
	seeded, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{
		PublicKey: key, Type: meshcore.ContactTypeChat, Name: "before", LastModified: 10,
	})
	require.NoError(t, err)

	go func() {
		raw := radioRecv(t, pipe)
		_, id, body := splitTag(t, raw)
		assert.Empty(t, body)
		pipe.Inject(tagged(meshcore.RespContactsStart, id, 1, 0, 0, 0))
		pipe.Inject(contactFrame(id, meshcore.ContactFrame{
			PublicKey: key, Type: meshcore.ContactTypeChat, Name: "after", LastModified: 20,
		}))
		pipe.Inject(tagged(meshcore.RespEndOfContacts, id))
	}()

	syncer := NewContactSyncer(c, st)
	records, err := syncer.Sync(context.Background(), dev)
	require.NoError(t, err)
	require.Len(t, records, 1)
	// same row updated, not a duplicate
	assert.Equal(t, seeded.ID, records[0].ID)
	assert.Equal(t, "after", records[0].Name)

	contacts, err := st.ListContacts(dev.ID)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestConcurrentContactStreams(t *testing.T) {
	c, pipe := newTestClient(t)

	type result struct {
		contacts []meshcore.ContactFrame
		err      error
	}
	results := make(chan result, 2)
	sync := func() {
		contacts, err := c.GetContacts(context.Background(), nil)
		results <- result{contacts, err}
	}
	go sync()
	first := radioRecv(t, pipe)
	go sync()
	second := radioRecv(t, pipe)

	_, id1, _ := splitTag(t, first)
	_, id2, _ := splitTag(t, second)
	require.NotEqual(t, id1, id2)

	// interleave the two streams on the wire
	pipe.Inject(tagged(meshcore.RespContactsStart, id1, 1, 0, 0, 0))
	pipe.Inject(tagged(meshcore.RespContactsStart, id2, 1, 0, 0, 0))
	pipe.Inject(contactFrame(id2, meshcore.ContactFrame{
		PublicKey: keyWithFirstByte(0x22), Type: meshcore.ContactTypeChat, Name: "two", LastModified: 2,
	}))
	pipe.Inject(contactFrame(id1, meshcore.ContactFrame{
		PublicKey: keyWithFirstByte(0x11), Type: meshcore.ContactTypeChat, Name: "one", LastModified: 1,
	}))
	pipe.Inject(tagged(meshcore.RespEndOfContacts, id2))
	pipe.Inject(tagged(meshcore.RespEndOfContacts, id1))

	names := map[string]int{}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		require.Len(t, r.contacts, 1)
		names[r.contacts[0].Name]++
	}
	assert.Equal(t, map[string]int{"one": 1, "two": 1}, names)
}

func TestGetContactsStreamCap(t *testing.T) {
	pipe := transport.NewPipe()
	cfg := testConfig()
	cfg.ContactSyncLimit = 3
	c, err := NewClient(pipe, WithConfig(cfg))
	require.NoError(t, err)
	defer c.Close()
	defer pipe.Close()

	go func() {
		raw := radioRecv(t, pipe)
		_, id, _ := splitTag(t, raw)
		pipe.Inject(tagged(meshcore.RespContactsStart, id, 9, 0, 0, 0))
		// a stuck stream never terminates; the cap must abort it
		for i := 0; i < 10; i++ {
			pipe.Inject(contactFrame(id, meshcore.ContactFrame{
				PublicKey: keyWithFirstByte(byte(i + 1)), Type: meshcore.ContactTypeChat, Name: "x", LastModified: 1,
			}))
		}
	}()

	_, err = c.GetContacts(context.Background(), nil)
	assert.ErrorIs(t, err, meshcore.ErrTimeout)
}

func TestSyncChannels(t *testing.T) {
	c, pipe := newTestClient(t)
	st := memstore.New()
	dev := &store.DeviceRecord{Name: "self"}
	require.NoError(t, st.UpsertDevice(dev))

	go func() {
		for raw := range pipe.Sent() {
			if raw[0] != byte(meshcore.CmdGetChannel) {
				continue
			}
			idx := raw[1]
			if idx > 1 {
				// slots beyond the first two are absent
				pipe.Inject([]byte{byte(meshcore.RespErr), byte(meshcore.ErrCodeNotFound)})
				continue
			}
			name := "Public"
			var secret [meshcore.ChannelSecretLen]byte
			if idx == 1 {
				name = "#backcountry"
				secret = meshcore.DeriveChannelSecret(name)
			}
			resp, _ := meshcore.NewFrame(uint8(meshcore.RespChannelInfo)).
				AppendBytes(idx).
				AppendPaddedString(name, meshcore.MaxNameLen).
				AppendBytes(secret[:]...).
				Bytes()
			pipe.Inject(resp)
		}
	}()

	syncer := NewContactSyncer(c, st)
	channels, err := syncer.SyncChannels(context.Background(), dev)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "Public", channels[0].Name)
	assert.Equal(t, uint8(1), channels[1].Index)

	stored, err := st.ListChannels(dev.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}
