// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Avi0n/pocketmesh/meshcore"
)

func TestCorrelatorExactlyOnce(t *testing.T) {
	corr := newCorrelator()

	// resolve wins: a later cancel must not resume again
	w := corr.register(false, byCode(meshcore.RespOk))
	require.True(t, corr.deliverCode(meshcore.RespOk, nil))
	assert.False(t, corr.cancel(w, meshcore.ErrTimeout))
	d := <-w.ch
	assert.NoError(t, d.err)
	select {
	case <-w.ch:
		t.Fatal("waiter resumed twice")
	default:
	}

	// cancel wins: a later frame finds no waiter
	w = corr.register(false, byCode(meshcore.RespOk))
	require.True(t, corr.cancel(w, meshcore.ErrTimeout))
	assert.False(t, corr.deliverCode(meshcore.RespOk, nil))
	d = <-w.ch
	assert.ErrorIs(t, d.err, meshcore.ErrTimeout)
}

func TestCorrelatorCodeQueueIsFIFO(t *testing.T) {
	corr := newCorrelator()
	w1 := corr.register(false, byCode(meshcore.RespSent))
	w2 := corr.register(false, byCode(meshcore.RespSent))

	require.True(t, corr.deliverCode(meshcore.RespSent, []byte{1}))
	require.True(t, corr.deliverCode(meshcore.RespSent, []byte{2}))

	d1 := <-w1.ch
	d2 := <-w2.ch
	assert.Equal(t, []byte{1}, d1.payload)
	assert.Equal(t, []byte{2}, d2.payload)
}

func TestCorrelatorMultiCodeCleanup(t *testing.T) {
	corr := newCorrelator()
	w := corr.register(false, byCode(meshcore.RespContact), byCode(meshcore.RespEndOfContacts))

	require.True(t, corr.deliverCode(meshcore.RespEndOfContacts, nil))
	d := <-w.ch
	assert.Equal(t, uint8(meshcore.RespEndOfContacts), d.code)

	// the registration under the losing code is gone
	assert.False(t, corr.deliverCode(meshcore.RespContact, nil))
}

func TestCorrelatorPushMatchKeys(t *testing.T) {
	corr := newCorrelator()
	w := corr.register(false, byPush(meshcore.PushSendConfirmed, AckKey(0x42)))

	// mismatched ack leaves the waiter pending
	wrong := append([]byte{0x41, 0, 0, 0}, 0, 0, 0, 0)
	assert.False(t, corr.deliverPush(meshcore.PushSendConfirmed, wrong))

	right := append([]byte{0x42, 0, 0, 0}, 0xFA, 0, 0, 0)
	assert.True(t, corr.deliverPush(meshcore.PushSendConfirmed, right))
	d := <-w.ch
	assert.Equal(t, right, d.payload)
}

func TestCorrelatorStreamingKeepsRegistration(t *testing.T) {
	corr := newCorrelator()
	w := corr.register(true, byReqID(7))

	require.True(t, corr.deliverReqID(7, uint8(meshcore.RespContactsStart), nil))
	require.True(t, corr.deliverReqID(7, uint8(meshcore.RespContact), nil))
	require.True(t, corr.deliverReqID(7, uint8(meshcore.RespEndOfContacts), nil))

	for _, want := range []meshcore.ResponseCode{
		meshcore.RespContactsStart, meshcore.RespContact, meshcore.RespEndOfContacts,
	} {
		d := <-w.ch
		assert.Equal(t, uint8(want), d.code)
	}

	corr.cancel(w, meshcore.ErrTimeout)
	corr.forget(w)
	assert.False(t, corr.deliverReqID(7, uint8(meshcore.RespContact), nil))
}

func TestCorrelatorFailAll(t *testing.T) {
	corr := newCorrelator()
	w1 := corr.register(false, byCode(meshcore.RespOk))
	w2 := corr.register(false, byReqID(3))
	w3 := corr.register(false, byPush(meshcore.PushSendConfirmed, AckKey(1)))

	corr.failAll(meshcore.ErrTransportLost)
	for _, w := range []*waiter{w1, w2, w3} {
		d := <-w.ch
		assert.ErrorIs(t, d.err, meshcore.ErrTransportLost)
	}
	assert.False(t, corr.deliverCode(meshcore.RespOk, nil))
	assert.False(t, corr.deliverReqID(3, 0, nil))
}
