// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package companion implements the client side of the MeshCore
// Companion Radio Protocol: the request/response actor, the reliable
// messaging engine and the contact synchronizer.
package companion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Avi0n/pocketmesh/clog"
	"github.com/Avi0n/pocketmesh/meshcore"
	"github.com/Avi0n/pocketmesh/transport"
)

// safeLateCodes are response codes that may be accepted by a waiter
// registered after the original request timed out and was retried. Any
// other late frame is dropped as unsolicited.
var safeLateCodes = map[meshcore.ResponseCode]struct{}{
	meshcore.RespOk:                {},
	meshcore.RespErr:               {},
	meshcore.RespSelfInfo:          {},
	meshcore.RespSent:              {},
	meshcore.RespDeviceInfo:        {},
	meshcore.RespBatteryAndStorage: {},
	meshcore.RespPrivateKey:        {},
	meshcore.RespDisabled:          {},
	meshcore.RespCurrTime:          {},
	meshcore.RespNoMoreMessages:    {},
	meshcore.RespChannelInfo:       {},
	meshcore.RespContactsStart:     {},
	meshcore.RespContact:           {},
	meshcore.RespEndOfContacts:     {},
}

// Metrics are the actor's protocol counters.
type Metrics struct {
	FramesRx    prometheus.Counter
	FramesTx    prometheus.Counter
	Unsolicited prometheus.Counter
	Timeouts    prometheus.Counter
	Pushes      prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesRx: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcore_frames_rx_total", Help: "Inbound frames received from the radio.",
		}),
		FramesTx: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcore_frames_tx_total", Help: "Outbound frames written to the radio.",
		}),
		Unsolicited: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcore_unsolicited_total", Help: "Frames that matched no waiter.",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcore_timeouts_total", Help: "Waiters that elapsed their deadline.",
		}),
		Pushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshcore_pushes_total", Help: "Push frames dispatched to subscribers.",
		}),
	}
}

// subscriber is one registered push observer.
type subscriber struct {
	id uint64
	fn func(code meshcore.PushCode, payload []byte)
}

// Client is the protocol actor. All protocol traffic flows through it:
// outbound writes are strictly serialized, inbound frames are
// dispatched in arrival order by a single goroutine, and every wait is
// correlated through one table with exactly-once resolution.
type Client struct {
	cfg  Config
	tr   transport.Transport
	corr *correlator

	writeMu sync.Mutex
	reqID   uint32

	subMu  sync.Mutex
	subSeq uint64
	subs   []subscriber

	metrics *Metrics
	done    chan struct{}
	once    sync.Once

	clog.Clog
}

// Option configures a Client.
type Option func(*Client)

// WithConfig overrides the default protocol configuration. The config
// is validated with defaults applied.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithMetrics registers the protocol counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = newMetrics(reg) }
}

// NewClient creates the actor over an established transport and starts
// its dispatch goroutine.
func NewClient(tr transport.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		cfg:  DefaultConfig(),
		tr:   tr,
		corr: newCorrelator(),
		done: make(chan struct{}),
		Clog: clog.NewLogger("companion => "),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Valid(); err != nil {
		return nil, err
	}
	if c.metrics == nil {
		c.metrics = newMetrics(nil)
	}
	go c.run()
	return c, nil
}

// Config returns the validated protocol configuration.
func (sf *Client) Config() Config { return sf.cfg }

// Transport returns the underlying link.
func (sf *Client) Transport() transport.Transport { return sf.tr }

// Close stops the dispatch goroutine and fails every pending waiter.
func (sf *Client) Close() error {
	sf.once.Do(func() {
		close(sf.done)
		sf.corr.failAll(meshcore.ErrTransportLost)
	})
	return nil
}

// run is the single dispatch goroutine owning all inbound traffic.
func (sf *Client) run() {
	frames := sf.tr.Frames()
	states := sf.tr.StateChanges()
	for {
		select {
		case <-sf.done:
			return
		case s := <-states:
			// a queued Disconnected that the link has since recovered
			// from must not fail waiters registered after the recovery
			if s == transport.Disconnected && sf.tr.State() != transport.Ready {
				sf.Warn("transport lost, failing pending waiters")
				sf.corr.failAll(meshcore.ErrTransportLost)
			}
		case raw, ok := <-frames:
			if !ok {
				sf.corr.failAll(meshcore.ErrTransportLost)
				return
			}
			sf.dispatch(raw)
		}
	}
}

// dispatch routes one inbound frame. A malformed frame is logged and
// skipped; the actor stays usable.
func (sf *Client) dispatch(raw []byte) {
	sf.metrics.FramesRx.Inc()
	if len(raw) == 0 || len(raw) > meshcore.MaxFrameSize {
		sf.Warn("dropping malformed frame of %d octets", len(raw))
		return
	}
	code := raw[0]
	payload := raw[1:]

	// request-id correlation first: the echoed id disambiguates
	// concurrent requests expecting the same response code
	if len(payload) >= 4 {
		id := uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24
		if sf.corr.deliverReqID(id, code, payload[4:]) {
			return
		}
	}

	if !meshcore.IsPush(code) {
		if sf.corr.deliverCode(meshcore.ResponseCode(code), payload) {
			return
		}
		// a tagged response may straggle in after its waiter timed
		// out and the caller re-registered; accept it with the stale
		// id stripped, but only for codes safe to late-match
		if _, safe := safeLateCodes[meshcore.ResponseCode(code)]; safe && len(payload) >= 4 {
			if sf.corr.deliverCode(meshcore.ResponseCode(code), payload[4:]) {
				return
			}
		}
		sf.metrics.Unsolicited.Inc()
		sf.Debug("unsolicited response %v", meshcore.ResponseCode(code))
		return
	}

	pcode := meshcore.PushCode(code)
	sf.corr.deliverPush(pcode, payload)
	sf.fanout(pcode, payload)
}

// fanout invokes the push subscribers sequentially in registration
// order.
func (sf *Client) fanout(code meshcore.PushCode, payload []byte) {
	sf.metrics.Pushes.Inc()
	sf.subMu.Lock()
	subs := make([]subscriber, len(sf.subs))
	copy(subs, sf.subs)
	sf.subMu.Unlock()
	for _, s := range subs {
		s.fn(code, payload)
	}
}

// Subscribe registers a push observer and returns its unsubscribe
// function. Observers run on the dispatch goroutine and must not
// block.
func (sf *Client) Subscribe(fn func(code meshcore.PushCode, payload []byte)) func() {
	sf.subMu.Lock()
	sf.subSeq++
	id := sf.subSeq
	sf.subs = append(sf.subs, subscriber{id: id, fn: fn})
	sf.subMu.Unlock()
	return func() {
		sf.subMu.Lock()
		defer sf.subMu.Unlock()
		for i, s := range sf.subs {
			if s.id == id {
				sf.subs = append(sf.subs[:i], sf.subs[i+1:]...)
				return
			}
		}
	}
}

// NextRequestID returns a fresh correlation id for tagged submissions
// and trace/binary tags.
func (sf *Client) NextRequestID() uint32 {
	return atomic.AddUint32(&sf.reqID, 1)
}

// writeFrame serializes writes on the transport: at most one write is
// in flight, and a request begins only after the previous write was
// accepted.
func (sf *Client) writeFrame(ctx context.Context, frame []byte) error {
	sf.writeMu.Lock()
	defer sf.writeMu.Unlock()
	if err := sf.tr.WriteFrame(ctx, frame); err != nil {
		if err == transport.ErrNotConnected {
			return meshcore.ErrTransportLost
		}
		return err
	}
	sf.metrics.FramesTx.Inc()
	return nil
}

// Send writes a frame without registering any waiter.
func (sf *Client) Send(ctx context.Context, frame []byte) error {
	return sf.writeFrame(ctx, frame)
}

// tagFrame inserts the 4-octet little-endian request id between the
// command code and its payload.
func tagFrame(frame []byte, id uint32) []byte {
	tagged := make([]byte, 0, len(frame)+4)
	tagged = append(tagged, frame[0])
	tagged = append(tagged, byte(id), byte(id>>8), byte(id>>16), byte(id>>24))
	return append(tagged, frame[1:]...)
}

// frameOf rebuilds a decode cursor from a delivery.
func frameOf(d delivery) (*meshcore.Frame, error) {
	raw := make([]byte, 0, len(d.payload)+1)
	raw = append(raw, d.code)
	return meshcore.ParseFrame(append(raw, d.payload...))
}

// wait blocks for the waiter's delivery, its deadline, or ctx. The
// timeout branch and the resolution branch race through the resumed
// set; exactly one side wins.
func (sf *Client) wait(ctx context.Context, w *waiter, timeout time.Duration) (*meshcore.Frame, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case d := <-w.ch:
		if !w.streaming {
			sf.corr.forget(w)
		}
		if d.err != nil {
			return nil, d.err
		}
		return frameOf(d)
	case <-t.C:
		if sf.corr.cancel(w, meshcore.ErrTimeout) {
			sf.metrics.Timeouts.Inc()
			sf.corr.forget(w)
			return nil, meshcore.ErrTimeout
		}
		// resolution won the race; the delivery is already buffered
		d := <-w.ch
		sf.corr.forget(w)
		if d.err != nil {
			return nil, d.err
		}
		return frameOf(d)
	case <-ctx.Done():
		if sf.corr.cancel(w, ctx.Err()) {
			sf.corr.forget(w)
			return nil, ctx.Err()
		}
		d := <-w.ch
		sf.corr.forget(w)
		if d.err != nil {
			return nil, d.err
		}
		return frameOf(d)
	}
}

// checkErrFrame translates a RespErr delivery into the structured
// device error.
func checkErrFrame(f *meshcore.Frame) (*meshcore.Frame, error) {
	if meshcore.ResponseCode(f.Code()) == meshcore.RespErr {
		return nil, meshcore.ParseErrResponse(f)
	}
	return f, nil
}

// Request writes a legacy (untagged) command frame and waits for the
// first frame carrying one of the expected response codes. RespErr is
// always accepted and surfaced as a device error.
func (sf *Client) Request(ctx context.Context, frame []byte, expect ...meshcore.ResponseCode) (*meshcore.Frame, error) {
	keys := make([]waitKey, 0, len(expect)+1)
	seenErr := false
	for _, code := range expect {
		keys = append(keys, byCode(code))
		seenErr = seenErr || code == meshcore.RespErr
	}
	if !seenErr {
		keys = append(keys, byCode(meshcore.RespErr))
	}
	w := sf.corr.register(false, keys...)
	if err := sf.writeFrame(ctx, frame); err != nil {
		sf.corr.cancel(w, err)
		sf.corr.forget(w)
		return nil, err
	}
	f, err := sf.wait(ctx, w, sf.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	return checkErrFrame(f)
}

// RequestTagged writes a command frame carrying a fresh request id and
// waits for the response echoing it, with the id already stripped.
// Multiple tagged requests expecting the same response code may be in
// flight concurrently.
func (sf *Client) RequestTagged(ctx context.Context, frame []byte) (*meshcore.Frame, error) {
	id := sf.NextRequestID()
	w := sf.corr.register(false, byReqID(id))
	if err := sf.writeFrame(ctx, tagFrame(frame, id)); err != nil {
		sf.corr.cancel(w, err)
		sf.corr.forget(w)
		return nil, err
	}
	f, err := sf.wait(ctx, w, sf.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	return checkErrFrame(f)
}

// Stream is a multi-frame tagged exchange: every frame echoing the
// request id is queued in wire order until Close.
type Stream struct {
	c *Client
	w *waiter
}

// OpenStream writes a tagged command whose response spans several
// frames (contact sync) and returns the stream of matching frames.
func (sf *Client) OpenStream(ctx context.Context, frame []byte) (*Stream, error) {
	id := sf.NextRequestID()
	w := sf.corr.register(true, byReqID(id))
	if err := sf.writeFrame(ctx, tagFrame(frame, id)); err != nil {
		sf.corr.cancel(w, err)
		sf.corr.forget(w)
		return nil, err
	}
	return &Stream{c: sf, w: w}, nil
}

// Next returns the next frame of the stream, id stripped. RespErr is
// surfaced as a device error and ends the stream.
func (sf *Stream) Next(ctx context.Context) (*meshcore.Frame, error) {
	f, err := sf.c.wait(ctx, sf.w, sf.c.cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	return checkErrFrame(f)
}

// Close deregisters the stream waiter.
func (sf *Stream) Close() {
	sf.c.corr.cancel(sf.w, meshcore.ErrTimeout)
	sf.c.corr.forget(sf.w)
}

// WaitForOneOf registers a waiter for several response codes at once
// and resolves on whichever arrives first; the registrations under the
// losing codes are removed. Used by legacy multi-frame exchanges.
func (sf *Client) WaitForOneOf(ctx context.Context, timeout time.Duration, codes ...meshcore.ResponseCode) (*meshcore.Frame, error) {
	keys := make([]waitKey, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, byCode(code))
	}
	w := sf.corr.register(false, keys...)
	return sf.wait(ctx, w, timeout)
}

// AwaitPush registers a push waiter qualified by match and blocks
// until the matching push, the deadline, or ctx.
func (sf *Client) AwaitPush(ctx context.Context, code meshcore.PushCode, match MatchKey, timeout time.Duration) (*meshcore.Frame, error) {
	w := sf.corr.register(false, byPush(code, match))
	return sf.wait(ctx, w, timeout)
}

// AwaitAnyPush registers waiters on several push codes under one
// match key; the first arrival wins (login success/fail).
func (sf *Client) AwaitAnyPush(ctx context.Context, match MatchKey, timeout time.Duration, codes ...meshcore.PushCode) (*meshcore.Frame, error) {
	keys := make([]waitKey, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, byPush(code, match))
	}
	w := sf.corr.register(false, keys...)
	return sf.wait(ctx, w, timeout)
}
