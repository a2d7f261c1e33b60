// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package memstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
)

func key(b byte) meshcore.PublicKey {
	var k meshcore.PublicKey
	k[0] = b
	return k
}

func seedDevice(t *testing.T, st *Memstore, b byte) *store.DeviceRecord {
	t.Helper()
	dev := &store.DeviceRecord{PublicKey: key(b), Name: "dev"}
	require.NoError(t, st.UpsertDevice(dev))
	return dev
}

func TestActiveDeviceIsExclusive(t *testing.T) {
	st := New()
	a := seedDevice(t, st, 1)
	b := seedDevice(t, st, 2)

	require.NoError(t, st.SetActiveDevice(a.ID))
	require.NoError(t, st.SetActiveDevice(b.ID))

	devices, err := st.ListDevices()
	require.NoError(t, err)
	active := 0
	for _, d := range devices {
		if d.Active {
			active++
			assert.Equal(t, b.ID, d.ID)
		}
	}
	assert.Equal(t, 1, active)
}

func TestUpsertDeviceReusesIDByKey(t *testing.T) {
	st := New()
	a := seedDevice(t, st, 1)

	again := &store.DeviceRecord{PublicKey: key(1), Name: "renamed"}
	require.NoError(t, st.UpsertDevice(again))
	assert.Equal(t, a.ID, again.ID)

	devices, err := st.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "renamed", devices[0].Name)
}

func TestDeleteDeviceCascades(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)
	other := seedDevice(t, st, 2)

	contact, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{PublicKey: key(3), Type: meshcore.ContactTypeChat, Name: "c"})
	require.NoError(t, err)
	keep, err := st.UpsertContact(other.ID, meshcore.ContactFrame{PublicKey: key(4), Type: meshcore.ContactTypeChat, Name: "k"})
	require.NoError(t, err)

	_, err = st.UpsertChannel(dev.ID, meshcore.ChannelInfo{Index: 0, Name: "Public"})
	require.NoError(t, err)

	msg := &store.MessageRecord{DeviceID: dev.ID, ContactID: contact.ID, ChannelIdx: -1, Text: "x"}
	require.NoError(t, st.SaveMessage(msg))
	keepMsg := &store.MessageRecord{DeviceID: other.ID, ContactID: keep.ID, ChannelIdx: -1, Text: "y"}
	require.NoError(t, st.SaveMessage(keepMsg))

	require.NoError(t, st.DeleteDevice(dev.ID))

	_, err = st.GetDevice(dev.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetContact(contact.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetMessage(msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	channels, err := st.ListChannels(dev.ID)
	require.NoError(t, err)
	assert.Empty(t, channels)

	// the other device is untouched
	_, err = st.GetContact(keep.ID)
	assert.NoError(t, err)
	_, err = st.GetMessage(keepMsg.ID)
	assert.NoError(t, err)
}

func TestDeleteContactCascadesMessages(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)
	contact, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{PublicKey: key(3), Type: meshcore.ContactTypeChat, Name: "c"})
	require.NoError(t, err)

	msg := &store.MessageRecord{DeviceID: dev.ID, ContactID: contact.ID, ChannelIdx: -1, Text: "x"}
	require.NoError(t, st.SaveMessage(msg))

	require.NoError(t, st.DeleteContact(contact.ID))
	_, err = st.GetMessage(msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateMessageByAckResolvesOldest(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)

	older := &store.MessageRecord{DeviceID: dev.ID, ChannelIdx: -1, AckCode: 0xAA, Status: store.StatusSending, Text: "first"}
	require.NoError(t, st.SaveMessage(older))
	newer := &store.MessageRecord{DeviceID: dev.ID, ChannelIdx: -1, AckCode: 0xAA, Status: store.StatusSending, Text: "second"}
	require.NoError(t, st.SaveMessage(newer))

	got, err := st.UpdateMessageByAck(dev.ID, 0xAA, store.StatusDelivered, 123)
	require.NoError(t, err)
	assert.Equal(t, older.ID, got.ID)
	assert.Equal(t, uint32(123), got.RttMs)

	// the newer message is untouched
	rec, err := st.GetMessage(newer.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSending, rec.Status)

	// next resolution picks the remaining one
	got, err = st.UpdateMessageByAck(dev.ID, 0xAA, store.StatusDelivered, 456)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)

	_, err = st.UpdateMessageByAck(dev.ID, 0xAA, store.StatusDelivered, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateMessageByAckSkipsOtherStatuses(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)

	done := &store.MessageRecord{DeviceID: dev.ID, ChannelIdx: -1, AckCode: 0xCC, Status: store.StatusDelivered}
	require.NoError(t, st.SaveMessage(done))
	pending := &store.MessageRecord{DeviceID: dev.ID, ChannelIdx: -1, AckCode: 0xCC, Status: store.StatusPending}
	require.NoError(t, st.SaveMessage(pending))

	_, err := st.UpdateMessageByAck(dev.ID, 0xCC, store.StatusDelivered, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountAndListPending(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)

	for i, status := range []store.MessageStatus{store.StatusPending, store.StatusPending, store.StatusSent} {
		m := &store.MessageRecord{DeviceID: dev.ID, ChannelIdx: -1, Status: status, Text: string(rune('a' + i))}
		require.NoError(t, st.SaveMessage(m))
	}
	n, err := st.CountPending(dev.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := st.ListPendingMessages(dev.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].Text)
	assert.Equal(t, "b", pending[1].Text)
}

func TestListMessagesPagination(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)
	contact, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{PublicKey: key(3), Type: meshcore.ContactTypeChat, Name: "c"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		m := &store.MessageRecord{DeviceID: dev.ID, ContactID: contact.ID, ChannelIdx: -1, Text: string(rune('0' + i))}
		require.NoError(t, st.SaveMessage(m))
	}
	page, err := st.ListMessages(contact.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "1", page[0].Text)
	assert.Equal(t, "2", page[1].Text)

	empty, err := st.ListMessages(contact.ID, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestUnreadCounters(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)
	contact, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{PublicKey: key(3), Type: meshcore.ContactTypeChat, Name: "c"})
	require.NoError(t, err)

	require.NoError(t, st.IncrementUnread(contact.ID))
	require.NoError(t, st.IncrementUnread(contact.ID))
	require.NoError(t, st.UpdateContactLastMessage(contact.ID, 500))
	require.NoError(t, st.UpdateContactLastMessage(contact.ID, 400)) // older, ignored

	got, err := st.GetContact(contact.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)
	assert.Equal(t, meshcore.Timestamp(500), got.LastMessage)

	require.NoError(t, st.ClearUnread(contact.ID))
	got, err = st.GetContact(contact.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestChannelSlotUnique(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)

	first, err := st.UpsertChannel(dev.ID, meshcore.ChannelInfo{Index: 2, Name: "alpha"})
	require.NoError(t, err)
	second, err := st.UpsertChannel(dev.ID, meshcore.ChannelInfo{Index: 2, Name: "beta"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	channels, err := st.ListChannels(dev.ID)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "beta", channels[0].Name)
}

func TestGetContactByPrefix(t *testing.T) {
	st := New()
	dev := seedDevice(t, st, 1)
	k := key(9)
	_, err := st.UpsertContact(dev.ID, meshcore.ContactFrame{PublicKey: k, Type: meshcore.ContactTypeChat, Name: "c"})
	require.NoError(t, err)

	got, err := st.GetContactByPrefix(dev.ID, k.Prefix())
	require.NoError(t, err)
	assert.Equal(t, k, got.PublicKey)

	_, err = st.GetContactByPrefix(dev.ID, meshcore.KeyPrefix{9, 9, 9, 9, 9, 9})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatusLifecycle(t *testing.T) {
	assert.True(t, store.StatusPending.CanTransition(store.StatusSending))
	assert.True(t, store.StatusSending.CanTransition(store.StatusSent))
	assert.True(t, store.StatusSending.CanTransition(store.StatusFailed))
	assert.True(t, store.StatusSent.CanTransition(store.StatusDelivered))
	assert.False(t, store.StatusDelivered.CanTransition(store.StatusSending))
	assert.False(t, store.StatusFailed.CanTransition(store.StatusSent))
}
