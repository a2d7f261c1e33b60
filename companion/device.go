// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package companion

import (
	"context"

	"github.com/Avi0n/pocketmesh/meshcore"
)

// Device management operations. Each wraps one command/response
// exchange through the actor; asynchronous outcomes (login, status,
// telemetry, trace) wait on their correlated push.

// protocol version this client speaks
const ProtocolVersion = 3

// Start performs the connection handshake: device query followed by
// app start, returning the radio's capability record and identity.
func (sf *Client) Start(ctx context.Context, appName string) (meshcore.DeviceInfo, meshcore.SelfInfo, error) {
	var (
		di meshcore.DeviceInfo
		si meshcore.SelfInfo
	)
	frame, err := meshcore.DeviceQueryCmd(ProtocolVersion)
	if err != nil {
		return di, si, err
	}
	// device query and app start predate request ids; their layout is
	// fixed by firmware
	resp, err := sf.Request(ctx, frame, meshcore.RespDeviceInfo)
	if err != nil {
		return di, si, err
	}
	if di, err = meshcore.ParseDeviceInfo(resp); err != nil {
		return di, si, err
	}
	if frame, err = meshcore.AppStartCmd(1, appName); err != nil {
		return di, si, err
	}
	if resp, err = sf.Request(ctx, frame, meshcore.RespSelfInfo); err != nil {
		return di, si, err
	}
	si, err = meshcore.ParseSelfInfo(resp)
	return di, si, err
}

// requestOk runs a command whose only success response is RespOk.
func (sf *Client) requestOk(ctx context.Context, frame []byte, err error) error {
	if err != nil {
		return err
	}
	_, err = sf.Request(ctx, frame, meshcore.RespOk)
	return err
}

// DeviceTime reads the radio clock.
func (sf *Client) DeviceTime(ctx context.Context) (meshcore.Timestamp, error) {
	frame, err := meshcore.GetDeviceTimeCmd()
	if err != nil {
		return 0, err
	}
	resp, err := sf.Request(ctx, frame, meshcore.RespCurrTime)
	if err != nil {
		return 0, err
	}
	return meshcore.ParseCurrTime(resp)
}

// SetDeviceTime sets the radio clock.
func (sf *Client) SetDeviceTime(ctx context.Context, ts meshcore.Timestamp) error {
	frame, err := meshcore.SetDeviceTimeCmd(ts)
	return sf.requestOk(ctx, frame, err)
}

// SetAdvertName sets the advertised node name.
func (sf *Client) SetAdvertName(ctx context.Context, name string) error {
	frame, err := meshcore.SetAdvertNameCmd(name)
	return sf.requestOk(ctx, frame, err)
}

// SetAdvertLatLon sets the advertised location.
func (sf *Client) SetAdvertLatLon(ctx context.Context, lat, lon meshcore.DegE6) error {
	frame, err := meshcore.SetAdvertLatLonCmd(lat, lon)
	return sf.requestOk(ctx, frame, err)
}

// SendSelfAdvert broadcasts the radio's own advert.
func (sf *Client) SendSelfAdvert(ctx context.Context, flood bool) error {
	frame, err := meshcore.SendSelfAdvertCmd(flood)
	return sf.requestOk(ctx, frame, err)
}

// SetRadioParams sets the LoRa modulation parameters.
func (sf *Client) SetRadioParams(ctx context.Context, freqKhz, bandwidthKhz uint32, spreadingFactor, codingRate uint8) error {
	frame, err := meshcore.SetRadioParamsCmd(freqKhz, bandwidthKhz, spreadingFactor, codingRate)
	return sf.requestOk(ctx, frame, err)
}

// SetTxPower sets the transmit power.
func (sf *Client) SetTxPower(ctx context.Context, dbm uint8) error {
	frame, err := meshcore.SetRadioTxPowerCmd(dbm)
	return sf.requestOk(ctx, frame, err)
}

// SetTuningParams sets the receive tuning parameters.
func (sf *Client) SetTuningParams(ctx context.Context, rxDelayBase, airtimeFactor uint32) error {
	frame, err := meshcore.SetTuningParamsCmd(rxDelayBase, airtimeFactor)
	return sf.requestOk(ctx, frame, err)
}

// SetDevicePin sets the BLE pairing pin.
func (sf *Client) SetDevicePin(ctx context.Context, pin uint32) error {
	frame, err := meshcore.SetDevicePinCmd(pin)
	return sf.requestOk(ctx, frame, err)
}

// SetOtherParams sets the manual-add, telemetry and advert location
// policies.
func (sf *Client) SetOtherParams(ctx context.Context, manualAdd bool, telemetry meshcore.TelemetryMode, advertLoc meshcore.AdvertLocationPolicy) error {
	frame, err := meshcore.SetOtherParamsCmd(manualAdd, telemetry, advertLoc)
	return sf.requestOk(ctx, frame, err)
}

// SetFloodScope sets the flood propagation scope from its textual
// spec.
func (sf *Client) SetFloodScope(ctx context.Context, scope string) error {
	frame, err := meshcore.SetFloodScopeCmd(scope)
	return sf.requestOk(ctx, frame, err)
}

// BatteryAndStorage reads battery and filesystem usage.
func (sf *Client) BatteryAndStorage(ctx context.Context) (meshcore.BatteryAndStorage, error) {
	frame, err := meshcore.GetBatteryAndStorageCmd()
	if err != nil {
		return meshcore.BatteryAndStorage{}, err
	}
	resp, err := sf.Request(ctx, frame, meshcore.RespBatteryAndStorage)
	if err != nil {
		return meshcore.BatteryAndStorage{}, err
	}
	return meshcore.ParseBatteryAndStorage(resp)
}

// ExportPrivateKey exports the radio identity key. Firmware may have
// the feature disabled.
func (sf *Client) ExportPrivateKey(ctx context.Context) ([]byte, error) {
	frame, err := meshcore.ExportPrivateKeyCmd()
	if err != nil {
		return nil, err
	}
	resp, err := sf.Request(ctx, frame, meshcore.RespPrivateKey, meshcore.RespDisabled)
	if err != nil {
		return nil, err
	}
	if meshcore.ResponseCode(resp.Code()) == meshcore.RespDisabled {
		return nil, meshcore.ErrKeyExportDisabled
	}
	return meshcore.ParsePrivateKey(resp)
}

// ImportPrivateKey replaces the radio identity key.
func (sf *Client) ImportPrivateKey(ctx context.Context, key []byte) error {
	frame, err := meshcore.ImportPrivateKeyCmd(key)
	return sf.requestOk(ctx, frame, err)
}

// Reboot restarts the firmware. No response is awaited; the link will
// drop.
func (sf *Client) Reboot(ctx context.Context) error {
	frame, err := meshcore.RebootCmd()
	if err != nil {
		return err
	}
	return sf.Send(ctx, frame)
}

// AddUpdateContact upserts a contact record on the radio.
func (sf *Client) AddUpdateContact(ctx context.Context, c meshcore.ContactFrame) error {
	frame, err := meshcore.AddUpdateContactCmd(c)
	return sf.requestOk(ctx, frame, err)
}

// RemoveContact deletes a contact record from the radio.
func (sf *Client) RemoveContact(ctx context.Context, key meshcore.PublicKey) error {
	frame, err := meshcore.RemoveContactCmd(key)
	return sf.requestOk(ctx, frame, err)
}

// ResetPath forgets the stored direct route to the contact.
func (sf *Client) ResetPath(ctx context.Context, key meshcore.PublicKey) error {
	frame, err := meshcore.ResetPathCmd(key)
	return sf.requestOk(ctx, frame, err)
}

// ShareContact broadcasts a contact as an advert.
func (sf *Client) ShareContact(ctx context.Context, key meshcore.PublicKey) error {
	frame, err := meshcore.ShareContactCmd(key)
	return sf.requestOk(ctx, frame, err)
}

// ExportContact exports a contact (or, with nil, the radio itself) as
// a shareable blob.
func (sf *Client) ExportContact(ctx context.Context, key *meshcore.PublicKey) ([]byte, error) {
	frame, err := meshcore.ExportContactCmd(key)
	if err != nil {
		return nil, err
	}
	resp, err := sf.Request(ctx, frame, meshcore.RespExportContact)
	if err != nil {
		return nil, err
	}
	blob := resp.DecodeBytes(resp.Remaining())
	return blob, resp.Err()
}

// ImportContact imports an exported contact blob.
func (sf *Client) ImportContact(ctx context.Context, blob []byte) error {
	frame, err := meshcore.ImportContactCmd(blob)
	return sf.requestOk(ctx, frame, err)
}

// GetChannel reads a channel slot.
func (sf *Client) GetChannel(ctx context.Context, idx uint8) (meshcore.ChannelInfo, error) {
	frame, err := meshcore.GetChannelCmd(idx)
	if err != nil {
		return meshcore.ChannelInfo{}, err
	}
	resp, err := sf.Request(ctx, frame, meshcore.RespChannelInfo)
	if err != nil {
		return meshcore.ChannelInfo{}, err
	}
	return meshcore.ParseChannelInfo(resp)
}

// SetChannel writes a channel slot. A "#name" channel with a zero
// secret gets the derived hash secret.
func (sf *Client) SetChannel(ctx context.Context, ch meshcore.ChannelInfo) error {
	if !ch.Active() && len(ch.Name) > 0 && ch.Name[0] == '#' {
		ch.Secret = meshcore.DeriveChannelSecret(ch.Name)
	}
	frame, err := meshcore.SetChannelCmd(ch)
	return sf.requestOk(ctx, frame, err)
}

// Login authenticates to a room server or repeater. The outcome
// arrives asynchronously correlated by the peer's key prefix.
func (sf *Client) Login(ctx context.Context, key meshcore.PublicKey, password string) (meshcore.LoginInfo, error) {
	var li meshcore.LoginInfo
	frame, err := meshcore.SendLoginCmd(key, password)
	if err != nil {
		return li, err
	}
	if _, err = sf.Request(ctx, frame, meshcore.RespSent, meshcore.RespOk); err != nil {
		return li, err
	}
	push, err := sf.AwaitAnyPush(ctx, PrefixKey(key.Prefix()), sf.cfg.ResponseTimeout+sf.cfg.AckSafetyMargin,
		meshcore.PushLoginSuccess, meshcore.PushLoginFail)
	if err != nil {
		return li, err
	}
	if meshcore.PushCode(push.Code()) == meshcore.PushLoginFail {
		return li, meshcore.ErrLoginFailed
	}
	return meshcore.ParseLoginSuccess(push)
}

// Logout ends a room server session.
func (sf *Client) Logout(ctx context.Context, key meshcore.PublicKey) error {
	frame, err := meshcore.LogoutCmd(key)
	return sf.requestOk(ctx, frame, err)
}

// StatusRequest queries a remote node's status record over a binary
// request. The contact's role decides how the caller reads the tail:
// AsRoomServer for rooms, AsRepeater for repeaters.
func (sf *Client) StatusRequest(ctx context.Context, key meshcore.PublicKey) (meshcore.RemoteNodeStatus, error) {
	var status meshcore.RemoteNodeStatus
	tag := sf.NextRequestID()
	frame, err := meshcore.SendBinaryReqCmd(tag, key, meshcore.BinaryReqStatus, nil)
	if err != nil {
		return status, err
	}
	if _, err = sf.Request(ctx, frame, meshcore.RespBinaryMatch, meshcore.RespOk, meshcore.RespSent); err != nil {
		return status, err
	}
	push, err := sf.AwaitPush(ctx, meshcore.PushBinaryResponse, TagKey(tag), sf.cfg.ResponseTimeout+sf.cfg.AckSafetyMargin)
	if err != nil {
		return status, err
	}
	bin, err := meshcore.ParseBinaryResponse(push)
	if err != nil {
		return status, err
	}
	return meshcore.ParseRemoteNodeStatus(bin.Payload)
}

// Neighbours queries a repeater's neighbour table page.
func (sf *Client) Neighbours(ctx context.Context, key meshcore.PublicKey, prefixLen uint8) (meshcore.NeighboursPage, error) {
	var page meshcore.NeighboursPage
	tag := sf.NextRequestID()
	frame, err := meshcore.SendBinaryReqCmd(tag, key, meshcore.BinaryReqNeighbours, []byte{prefixLen})
	if err != nil {
		return page, err
	}
	if _, err = sf.Request(ctx, frame, meshcore.RespBinaryMatch, meshcore.RespOk, meshcore.RespSent); err != nil {
		return page, err
	}
	push, err := sf.AwaitPush(ctx, meshcore.PushBinaryResponse, TagKey(tag), sf.cfg.ResponseTimeout+sf.cfg.AckSafetyMargin)
	if err != nil {
		return page, err
	}
	bin, err := meshcore.ParseBinaryResponse(push)
	if err != nil {
		return page, err
	}
	return meshcore.ParseNeighbours(bin.Payload, int(prefixLen))
}

// Telemetry requests a node's sensor data and decodes the LPP stream.
func (sf *Client) Telemetry(ctx context.Context, key meshcore.PublicKey) ([]meshcore.LPPDataPoint, error) {
	frame, err := meshcore.SendTelemetryReqCmd(key)
	if err != nil {
		return nil, err
	}
	if _, err = sf.Request(ctx, frame, meshcore.RespOk, meshcore.RespSent); err != nil {
		return nil, err
	}
	push, err := sf.AwaitPush(ctx, meshcore.PushTelemetryResponse, PrefixKey(key.Prefix()), sf.cfg.ResponseTimeout+sf.cfg.AckSafetyMargin)
	if err != nil {
		return nil, err
	}
	td, err := meshcore.ParseTelemetryResponse(push)
	if err != nil {
		return nil, err
	}
	return meshcore.DecodeLPP(td.LPP), nil
}

// TracePath runs a path trace. The result is correlated by the tag.
func (sf *Client) TracePath(ctx context.Context, auth uint32, flags uint8, path meshcore.Path) (meshcore.TraceInfo, error) {
	var ti meshcore.TraceInfo
	tag := sf.NextRequestID()
	frame, err := meshcore.SendTracePathCmd(tag, auth, flags, path)
	if err != nil {
		return ti, err
	}
	if _, err = sf.Request(ctx, frame, meshcore.RespOk, meshcore.RespSent); err != nil {
		return ti, err
	}
	push, err := sf.AwaitPush(ctx, meshcore.PushTraceData, TagKey(tag), sf.cfg.ResponseTimeout+sf.cfg.AckSafetyMargin)
	if err != nil {
		return ti, err
	}
	return meshcore.ParseTraceData(push)
}
