// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Avi0n/pocketmesh/clog"
	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/store"
	"github.com/Avi0n/pocketmesh/transport"
)

// placeholderName names a contact record auto-created for an unknown
// sender prefix.
const placeholderName = "Unknown"

// IncomingMessage is one received message delivered on the engine's
// channel. Contact is nil for channel broadcasts.
type IncomingMessage struct {
	Record  *store.MessageRecord
	Contact *store.ContactRecord
}

// Messenger is the reliable messaging engine: it persists outgoing
// messages, runs the attempt protocol with ack tracking, exponential
// backoff and the direct-to-flood fallback, and drains the radio's
// inbound queue into the store.
type Messenger struct {
	c   *Client
	st  store.Store
	dev *store.DeviceRecord
	cfg Config

	incoming chan IncomingMessage
	wake     chan struct{}
	unsub    func()

	mu       sync.Mutex
	inflight map[string]struct{}

	done chan struct{}
	once sync.Once

	clog.Clog
}

// NewMessenger creates the engine for one paired device.
func NewMessenger(c *Client, st store.Store, dev *store.DeviceRecord) *Messenger {
	m := &Messenger{
		c:        c,
		st:       st,
		dev:      dev,
		cfg:      c.Config(),
		incoming: make(chan IncomingMessage, 32),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
		done:     make(chan struct{}),
		Clog:     clog.NewLogger("messenger => "),
	}
	m.unsub = c.Subscribe(m.onPush)
	return m
}

// Incoming is the stream of received messages.
func (sf *Messenger) Incoming() <-chan IncomingMessage { return sf.incoming }

// Close stops the engine.
func (sf *Messenger) Close() error {
	sf.once.Do(func() {
		sf.unsub()
		close(sf.done)
	})
	return nil
}

// onPush runs on the actor's dispatch goroutine; it only signals.
func (sf *Messenger) onPush(code meshcore.PushCode, payload []byte) {
	switch code {
	case meshcore.PushMsgWaiting:
		select {
		case sf.wake <- struct{}{}:
		default:
		}
	case meshcore.PushSendConfirmed:
		// catch confirmations whose attempt waiter already gave up
		ack, ok := meshcore.ExtractPushAck(code, payload)
		if !ok {
			return
		}
		rtt := uint32(0)
		if len(payload) >= 8 {
			rtt = uint32(payload[4]) | uint32(payload[5])<<8 | uint32(payload[6])<<16 | uint32(payload[7])<<24
		}
		go func() {
			if _, err := sf.st.UpdateMessageByAck(sf.dev.ID, ack, store.StatusDelivered, rtt); err != nil && !errors.Is(err, store.ErrNotFound) {
				sf.Error("late delivery update failed: %v", err)
			}
		}()
	}
}

// Run drives the receive loop: it drains the inbound queue on
// PushMsgWaiting and on the poll interval, and resumes pending
// outbound messages whenever the transport is ready. It returns when
// ctx ends or the engine closes.
func (sf *Messenger) Run(ctx context.Context) error {
	ticker := time.NewTicker(sf.cfg.SyncPollInterval)
	defer ticker.Stop()
	for {
		if sf.c.Transport().State() == transport.Ready {
			sf.resumePending(ctx)
			sf.drainInbound(ctx)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sf.done:
			return nil
		case <-sf.wake:
		case <-ticker.C:
		}
	}
}

// SendDirect queues a direct text message to the contact with the
// given key and returns the message record id. Delivery proceeds in
// the background when the transport is ready.
func (sf *Messenger) SendDirect(ctx context.Context, key meshcore.PublicKey, text string) (string, error) {
	if len(text) == 0 || len(text) > meshcore.MaxDirectMsgLen {
		return "", meshcore.ErrIllegalArgument
	}
	rec := &store.MessageRecord{
		DeviceID:   sf.dev.ID,
		ChannelIdx: -1,
		Outgoing:   true,
		Text:       text,
		CreatedAt:  meshcore.Now(),
		Status:     store.StatusPending,
	}
	if contact, err := sf.st.GetContactByKey(sf.dev.ID, key); err == nil {
		rec.ContactID = contact.ID
	}
	if err := sf.st.SaveMessage(rec); err != nil {
		return "", err
	}
	if sf.c.Transport().State() == transport.Ready {
		sf.spawnDeliver(rec.ID, key)
	}
	return rec.ID, nil
}

// spawnDeliver starts the attempt protocol for a message unless one is
// already running for it.
func (sf *Messenger) spawnDeliver(msgID string, key meshcore.PublicKey) {
	sf.mu.Lock()
	if _, busy := sf.inflight[msgID]; busy {
		sf.mu.Unlock()
		return
	}
	sf.inflight[msgID] = struct{}{}
	sf.mu.Unlock()
	go func() {
		defer func() {
			sf.mu.Lock()
			delete(sf.inflight, msgID)
			sf.mu.Unlock()
		}()
		sf.deliver(msgID, key)
	}()
}

// deliver runs the attempt protocol: DirectAttempts transmits along
// the known route with doubling backoff, then one path reset plus a
// global flood scope, then FloodAttempts flood transmits. Exhaustion
// fails the message.
func (sf *Messenger) deliver(msgID string, key meshcore.PublicKey) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sf.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sf.cfg.RetryBackoffInitial
	bo.Multiplier = 2
	bo.MaxInterval = sf.cfg.RetryBackoffMax
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	total := sf.cfg.DirectAttempts + sf.cfg.FloodAttempts
	for attempt := 0; attempt < total; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
		}
		if attempt == sf.cfg.DirectAttempts {
			// direct routing exhausted: drop the stale route and open
			// the scope before the flood attempts
			if err := sf.c.ResetPath(ctx, key); err != nil {
				sf.Warn("reset path: %v", err)
			}
			if err := sf.c.SetFloodScope(ctx, "*"); err != nil {
				sf.Warn("set flood scope: %v", err)
			}
		}
		delivered, fatal := sf.attempt(ctx, msgID, key, uint8(attempt))
		if delivered {
			return
		}
		if fatal {
			// transport lost: the message stays pending and resumes
			// on Run's next pass while the transport is ready (a
			// PushMsgWaiting wake or a poll tick); the ready
			// transition by itself does not start a pass
			if err := sf.st.UpdateMessageStatus(msgID, store.StatusPending); err != nil {
				sf.Error("requeue %s: %v", msgID, err)
			}
			return
		}
	}
	if err := sf.st.UpdateMessageStatus(msgID, store.StatusFailed); err != nil {
		sf.Error("fail %s: %v", msgID, err)
	}
}

// attempt performs one transmit slot: send the frame, persist the ack
// code from the sent response, and wait for the delivery confirmation
// within the radio's estimated timeout plus the safety margin.
func (sf *Messenger) attempt(ctx context.Context, msgID string, key meshcore.PublicKey, attempt uint8) (delivered, fatal bool) {
	msg, err := sf.st.GetMessage(msgID)
	if err != nil {
		return false, true
	}
	frame, err := meshcore.SendTextMsgCmd(meshcore.TextTypePlain, attempt, meshcore.Now(), key.Prefix(), msg.Text)
	if err != nil {
		sf.Error("encode %s: %v", msgID, err)
		return false, true
	}
	resp, err := sf.c.Request(ctx, frame, meshcore.RespSent)
	if err != nil {
		if errors.Is(err, meshcore.ErrTransportLost) || ctx.Err() != nil {
			return false, true
		}
		sf.Warn("attempt %d of %s got no sent response: %v", attempt, msgID, err)
		return false, false
	}
	sent, err := meshcore.ParseSentInfo(resp)
	if err != nil {
		sf.Error("attempt %d of %s: %v", attempt, msgID, err)
		return false, false
	}

	msg.Status = store.StatusSending
	msg.AckCode = sent.AckCode
	msg.EstTimeout = sent.EstTimeoutMs
	msg.Flood = sent.IsFlood
	msg.Attempts = attempt + 1
	wait := time.Duration(sent.EstTimeoutMs)*time.Millisecond + sf.cfg.AckSafetyMargin
	msg.RetryAt = meshcore.Timestamp(time.Now().Add(wait).Unix())
	if err := sf.st.SaveMessage(msg); err != nil {
		sf.Error("persist %s: %v", msgID, err)
	}

	push, err := sf.c.AwaitPush(ctx, meshcore.PushSendConfirmed, AckKey(sent.AckCode), wait)
	if err != nil {
		if errors.Is(err, meshcore.ErrTransportLost) || ctx.Err() != nil {
			return false, true
		}
		// the transmit slot is complete; the next attempt re-sends
		if err := sf.st.UpdateMessageStatus(msgID, store.StatusSent); err != nil {
			sf.Error("mark sent %s: %v", msgID, err)
		}
		return false, false
	}
	conf, err := meshcore.ParseSendConfirmed(push)
	if err != nil {
		sf.Error("confirmation for %s: %v", msgID, err)
		return false, false
	}
	if _, err := sf.st.UpdateMessageByAck(sf.dev.ID, conf.AckCode, store.StatusDelivered, conf.RttMs); err != nil && !errors.Is(err, store.ErrNotFound) {
		sf.Error("deliver %s: %v", msgID, err)
	}
	return true, false
}

// resumePending restarts delivery of every message left pending by a
// transport outage.
func (sf *Messenger) resumePending(ctx context.Context) {
	pending, err := sf.st.ListPendingMessages(sf.dev.ID)
	if err != nil {
		sf.Error("list pending: %v", err)
		return
	}
	for _, msg := range pending {
		if msg.ContactID == "" {
			continue
		}
		contact, err := sf.st.GetContact(msg.ContactID)
		if err != nil {
			continue
		}
		sf.spawnDeliver(msg.ID, contact.PublicKey)
	}
}

// SendChannel broadcasts a channel text message. Channel traffic is
// fire-and-forget: no ack code exists and no delivery confirmation
// ever arrives.
func (sf *Messenger) SendChannel(ctx context.Context, channelIdx uint8, text string) (string, error) {
	frame, err := meshcore.SendChannelTextMsgCmd(meshcore.TextTypePlain, channelIdx, meshcore.Now(), text)
	if err != nil {
		return "", err
	}
	rec := &store.MessageRecord{
		DeviceID:   sf.dev.ID,
		ChannelIdx: int(channelIdx),
		Outgoing:   true,
		Text:       text,
		CreatedAt:  meshcore.Now(),
		Status:     store.StatusPending,
	}
	if err := sf.st.SaveMessage(rec); err != nil {
		return "", err
	}
	if _, err := sf.c.Request(ctx, frame, meshcore.RespOk); err != nil {
		if uerr := sf.st.UpdateMessageStatus(rec.ID, store.StatusFailed); uerr != nil {
			sf.Error("fail %s: %v", rec.ID, uerr)
		}
		return rec.ID, err
	}
	if err := sf.st.UpdateMessageStatus(rec.ID, store.StatusSent); err != nil {
		sf.Error("mark sent %s: %v", rec.ID, err)
	}
	return rec.ID, nil
}

// drainInbound pulls queued messages off the radio until it reports
// the queue empty.
func (sf *Messenger) drainInbound(ctx context.Context) {
	frame, err := meshcore.SyncNextMessageCmd()
	if err != nil {
		return
	}
	for i := 0; i < sf.cfg.ContactSyncLimit; i++ {
		resp, err := sf.c.Request(ctx, frame,
			meshcore.RespContactMsgRecv, meshcore.RespContactMsgRecvV3,
			meshcore.RespChannelMsgRecv, meshcore.RespChannelMsgRecvV3,
			meshcore.RespNoMoreMessages)
		if err != nil {
			if !errors.Is(err, meshcore.ErrTimeout) {
				sf.Warn("inbound sync: %v", err)
			}
			return
		}
		switch meshcore.ResponseCode(resp.Code()) {
		case meshcore.RespNoMoreMessages:
			return
		case meshcore.RespContactMsgRecv, meshcore.RespContactMsgRecvV3:
			dm, err := meshcore.ParseDirectMessage(resp)
			if err != nil {
				sf.Warn("bad direct message frame: %v", err)
				continue
			}
			sf.storeDirect(ctx, dm)
		case meshcore.RespChannelMsgRecv, meshcore.RespChannelMsgRecvV3:
			cm, err := meshcore.ParseChannelMessage(resp)
			if err != nil {
				sf.Warn("bad channel message frame: %v", err)
				continue
			}
			sf.storeChannel(ctx, cm)
		}
	}
}

// storeDirect persists one inbound direct message, creating a
// placeholder contact when the sender prefix is unknown.
func (sf *Messenger) storeDirect(ctx context.Context, dm meshcore.DirectMessage) {
	contact, err := sf.st.GetContactByPrefix(sf.dev.ID, dm.SenderPrefix)
	if errors.Is(err, store.ErrNotFound) {
		var key meshcore.PublicKey
		copy(key[:meshcore.KeyPrefixSize], dm.SenderPrefix[:])
		contact, err = sf.st.UpsertContact(sf.dev.ID, meshcore.ContactFrame{
			PublicKey:    key,
			Type:         meshcore.ContactTypeChat,
			Name:         placeholderName,
			LastModified: meshcore.Now(),
		})
	}
	if err != nil {
		sf.Error("resolve sender %v: %v", dm.SenderPrefix, err)
		return
	}
	rec := &store.MessageRecord{
		DeviceID:   sf.dev.ID,
		ContactID:  contact.ID,
		ChannelIdx: -1,
		Text:       dm.Text,
		CreatedAt:  dm.SentAt,
		Status:     store.StatusDelivered,
		SNR:        dm.SNR,
		PathLen:    dm.PathLen,
	}
	if err := sf.st.SaveMessage(rec); err != nil {
		sf.Error("save inbound: %v", err)
		return
	}
	if err := sf.st.IncrementUnread(contact.ID); err != nil {
		sf.Error("unread %s: %v", contact.ID, err)
	}
	if err := sf.st.UpdateContactLastMessage(contact.ID, dm.SentAt); err != nil {
		sf.Error("last message %s: %v", contact.ID, err)
	}
	sf.emit(ctx, IncomingMessage{Record: rec, Contact: contact})
}

// storeChannel persists one inbound channel broadcast.
func (sf *Messenger) storeChannel(ctx context.Context, cm meshcore.ChannelMessage) {
	rec := &store.MessageRecord{
		DeviceID:   sf.dev.ID,
		ChannelIdx: int(cm.ChannelIdx),
		SenderName: cm.SenderName,
		Text:       cm.Text,
		CreatedAt:  cm.SentAt,
		Status:     store.StatusDelivered,
		SNR:        cm.SNR,
		PathLen:    cm.PathLen,
	}
	if err := sf.st.SaveMessage(rec); err != nil {
		sf.Error("save inbound: %v", err)
		return
	}
	sf.emit(ctx, IncomingMessage{Record: rec})
}

func (sf *Messenger) emit(ctx context.Context, im IncomingMessage) {
	select {
	case sf.incoming <- im:
	case <-ctx.Done():
	case <-sf.done:
	}
}

// MarkRead clears a contact's unread counter.
func (sf *Messenger) MarkRead(contactID string) error {
	return sf.st.ClearUnread(contactID)
}
