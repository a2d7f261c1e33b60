// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"sync"

	"github.com/Avi0n/pocketmesh/meshcore"
)

// The correlation table maps inbound frames to waiting continuations.
// Three key spaces coexist: the expected response code (FIFO per code),
// the echoed request id, and push codes qualified by a match key (tag,
// key prefix or ack code). A waiter may be registered under several
// keys at once; the first delivery wins and removes every registration.

// matchKind discriminates MatchKey.
type matchKind uint8

const (
	matchAny matchKind = iota
	matchTag
	matchPrefix
	matchAck
)

// MatchKey qualifies a push waiter. The zero value matches the first
// push of the code regardless of content.
type MatchKey struct {
	kind   matchKind
	tag    uint32
	prefix meshcore.KeyPrefix
	ack    meshcore.AckCode
}

// TagKey matches a push echoing the correlation tag.
func TagKey(tag uint32) MatchKey { return MatchKey{kind: matchTag, tag: tag} }

// PrefixKey matches a push from the node with the key prefix.
func PrefixKey(p meshcore.KeyPrefix) MatchKey { return MatchKey{kind: matchPrefix, prefix: p} }

// AckKey matches a delivery confirmation carrying the ack code.
func AckKey(a meshcore.AckCode) MatchKey { return MatchKey{kind: matchAck, ack: a} }

// waitKeyKind discriminates waitKey.
type waitKeyKind uint8

const (
	waitByCode waitKeyKind = iota
	waitByReqID
	waitByPush
)

// waitKey is one registration of a waiter in the table.
type waitKey struct {
	kind  waitKeyKind
	code  meshcore.ResponseCode
	reqID uint32
	push  meshcore.PushCode
	match MatchKey
}

func byCode(c meshcore.ResponseCode) waitKey { return waitKey{kind: waitByCode, code: c} }

func byReqID(id uint32) waitKey { return waitKey{kind: waitByReqID, reqID: id} }

func byPush(c meshcore.PushCode, m MatchKey) waitKey {
	return waitKey{kind: waitByPush, push: c, match: m}
}

// delivery is what a resolved waiter receives.
type delivery struct {
	code    uint8
	payload []byte
	err     error
}

// waiter is one pending continuation. The channel is buffered so the
// resolving side never blocks; streaming waiters get a deeper buffer
// and stay registered across deliveries.
type waiter struct {
	id        uint64
	keys      []waitKey
	ch        chan delivery
	streaming bool
}

// correlator owns the three waiter indices plus the resumed set that
// makes the timeout/resolve race exactly-once.
type correlator struct {
	mu      sync.Mutex
	nextID  uint64
	codes   map[meshcore.ResponseCode][]*waiter
	reqIDs  map[uint32]*waiter
	pushes  map[meshcore.PushCode][]*waiter
	resumed map[uint64]struct{}
}

func newCorrelator() *correlator {
	return &correlator{
		codes:   make(map[meshcore.ResponseCode][]*waiter),
		reqIDs:  make(map[uint32]*waiter),
		pushes:  make(map[meshcore.PushCode][]*waiter),
		resumed: make(map[uint64]struct{}),
	}
}

// register files a waiter under every given key. streaming keeps the
// registrations alive across deliveries (multi-frame responses).
func (sf *correlator) register(streaming bool, keys ...waitKey) *waiter {
	buf := 1
	if streaming {
		buf = 128
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.nextID++
	w := &waiter{id: sf.nextID, keys: keys, ch: make(chan delivery, buf), streaming: streaming}
	for _, k := range keys {
		switch k.kind {
		case waitByCode:
			sf.codes[k.code] = append(sf.codes[k.code], w)
		case waitByReqID:
			sf.reqIDs[k.reqID] = w
		case waitByPush:
			sf.pushes[k.push] = append(sf.pushes[k.push], w)
		}
	}
	return w
}

// cancel removes the waiter and resumes it with err. It reports false
// when the waiter had already been resolved, in which case nothing
// changes: the resolve/timeout race is settled by the resumed set.
func (sf *correlator) cancel(w *waiter, err error) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if _, done := sf.resumed[w.id]; done && !w.streaming {
		return false
	}
	sf.resumed[w.id] = struct{}{}
	sf.unregister(w)
	select {
	case w.ch <- delivery{err: err}:
	default:
	}
	return true
}

// unregister removes every index entry of w. Caller holds mu.
func (sf *correlator) unregister(w *waiter) {
	for _, k := range w.keys {
		switch k.kind {
		case waitByCode:
			sf.codes[k.code] = removeWaiter(sf.codes[k.code], w)
			if len(sf.codes[k.code]) == 0 {
				delete(sf.codes, k.code)
			}
		case waitByReqID:
			if sf.reqIDs[k.reqID] == w {
				delete(sf.reqIDs, k.reqID)
			}
		case waitByPush:
			sf.pushes[k.push] = removeWaiter(sf.pushes[k.push], w)
			if len(sf.pushes[k.push]) == 0 {
				delete(sf.pushes, k.push)
			}
		}
	}
}

func removeWaiter(ws []*waiter, w *waiter) []*waiter {
	for i, have := range ws {
		if have == w {
			return append(ws[:i], ws[i+1:]...)
		}
	}
	return ws
}

// resolve resumes w with one delivery. One-shot waiters leave every
// index; streaming waiters stay registered. Caller holds mu.
func (sf *correlator) resolve(w *waiter, d delivery) {
	if !w.streaming {
		if _, done := sf.resumed[w.id]; done {
			return
		}
		sf.resumed[w.id] = struct{}{}
		sf.unregister(w)
	}
	select {
	case w.ch <- d:
	default:
		// streaming buffer overrun; the sync cap aborts the caller
	}
}

// deliverReqID hands a request-id-matched frame (id already stripped)
// to its waiter.
func (sf *correlator) deliverReqID(id uint32, code uint8, payload []byte) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	w, ok := sf.reqIDs[id]
	if !ok {
		return false
	}
	sf.resolve(w, delivery{code: code, payload: payload})
	return true
}

// deliverCode hands a frame to the first waiter expecting its response
// code.
func (sf *correlator) deliverCode(code meshcore.ResponseCode, payload []byte) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	q := sf.codes[code]
	if len(q) == 0 {
		return false
	}
	sf.resolve(q[0], delivery{code: uint8(code), payload: payload})
	return true
}

// deliverPush hands a push frame to the first waiter whose match key
// agrees with the frame content.
func (sf *correlator) deliverPush(code meshcore.PushCode, payload []byte) bool {
	tag, hasTag := meshcore.ExtractPushTag(code, payload)
	prefix, hasPrefix := meshcore.ExtractPushPrefix(code, payload)
	ack, hasAck := meshcore.ExtractPushAck(code, payload)

	sf.mu.Lock()
	defer sf.mu.Unlock()
	for _, w := range sf.pushes[code] {
		if !pushMatches(waiterMatch(w, code), tag, hasTag, prefix, hasPrefix, ack, hasAck) {
			continue
		}
		sf.resolve(w, delivery{code: uint8(code), payload: payload})
		return true
	}
	return false
}

func waiterMatch(w *waiter, code meshcore.PushCode) MatchKey {
	for _, k := range w.keys {
		if k.kind == waitByPush && k.push == code {
			return k.match
		}
	}
	return MatchKey{}
}

func pushMatches(m MatchKey, tag uint32, hasTag bool, prefix meshcore.KeyPrefix, hasPrefix bool, ack meshcore.AckCode, hasAck bool) bool {
	switch m.kind {
	case matchAny:
		return true
	case matchTag:
		return hasTag && m.tag == tag
	case matchPrefix:
		return hasPrefix && m.prefix == prefix
	case matchAck:
		return hasAck && m.ack == ack
	}
	return false
}

// failAll resumes every pending waiter with err; used when the
// transport drops.
func (sf *correlator) failAll(err error) {
	sf.mu.Lock()
	var all []*waiter
	seen := make(map[uint64]struct{})
	collect := func(w *waiter) {
		if _, ok := seen[w.id]; !ok {
			seen[w.id] = struct{}{}
			all = append(all, w)
		}
	}
	for _, q := range sf.codes {
		for _, w := range q {
			collect(w)
		}
	}
	for _, w := range sf.reqIDs {
		collect(w)
	}
	for _, q := range sf.pushes {
		for _, w := range q {
			collect(w)
		}
	}
	for _, w := range all {
		sf.resumed[w.id] = struct{}{}
		sf.unregister(w)
		select {
		case w.ch <- delivery{err: err}:
		default:
		}
	}
	sf.mu.Unlock()
}

// forget drops the bookkeeping of a finished waiter so the resumed set
// does not grow without bound.
func (sf *correlator) forget(w *waiter) {
	sf.mu.Lock()
	sf.unregister(w)
	delete(sf.resumed, w.id)
	sf.mu.Unlock()
}
