// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import (
	"crypto/sha256"
	"strings"
)

// Encoders for frames in the control direction (client to radio). One
// constructor per command; argument contracts are checked before any
// octet is written.

// DeviceQueryCmd encodes [CmdDeviceQuery]. The radio answers with
// RespDeviceInfo for any protocol version it can serve.
func DeviceQueryCmd(protocolVersion uint8) ([]byte, error) {
	return NewFrame(uint8(CmdDeviceQuery)).AppendBytes(protocolVersion).Bytes()
}

// AppStartCmd encodes [CmdAppStart]. The radio answers with
// RespSelfInfo. The six reserved octets are zero per firmware.
func AppStartCmd(appVersion uint8, appName string) ([]byte, error) {
	if len(appName) > MaxNameLen {
		return nil, newArgError("app name exceeds %d octets", MaxNameLen)
	}
	f := NewFrame(uint8(CmdAppStart)).AppendBytes(appVersion)
	f.AppendBytes(0, 0, 0, 0, 0, 0)
	return f.AppendBytes([]byte(appName)...).Bytes()
}

// SendTextMsgCmd encodes [CmdSendTextMsg]: a direct text message to the
// contact identified by the key prefix. The radio answers with RespSent
// carrying the ack code for this transmit slot.
func SendTextMsgCmd(textType TextType, attempt uint8, ts Timestamp, recipient KeyPrefix, text string) ([]byte, error) {
	if len(text) == 0 || len(text) > MaxDirectMsgLen {
		return nil, newArgError("direct text must be 1..%d octets", MaxDirectMsgLen)
	}
	return NewFrame(uint8(CmdSendTextMsg)).
		AppendBytes(uint8(textType), attempt).
		AppendTimestamp(ts).
		AppendKeyPrefix(recipient).
		AppendBytes([]byte(text)...).
		Bytes()
}

// SendChannelTextMsgCmd encodes [CmdSendChannelTextMsg]. Channel
// messages are fire-and-forget: the radio answers RespOk and no ack
// code ever exists.
func SendChannelTextMsgCmd(textType TextType, channelIdx uint8, ts Timestamp, text string) ([]byte, error) {
	if channelIdx >= MaxChannels {
		return nil, newArgError("channel index %d not in [0,%d)", channelIdx, MaxChannels)
	}
	if len(text) == 0 || len(text) > MaxChannelMsgLen {
		return nil, newArgError("channel text must be 1..%d octets", MaxChannelMsgLen)
	}
	return NewFrame(uint8(CmdSendChannelTextMsg)).
		AppendBytes(uint8(textType), channelIdx).
		AppendTimestamp(ts).
		AppendBytes([]byte(text)...).
		Bytes()
}

// GetContactsCmd encodes [CmdGetContacts]. A non-nil since watermark
// restricts the stream to records modified after it.
func GetContactsCmd(since *Timestamp) ([]byte, error) {
	f := NewFrame(uint8(CmdGetContacts))
	if since != nil {
		f.AppendTimestamp(*since)
	}
	return f.Bytes()
}

// GetDeviceTimeCmd encodes [CmdGetDeviceTime].
func GetDeviceTimeCmd() ([]byte, error) {
	return NewFrame(uint8(CmdGetDeviceTime)).Bytes()
}

// SetDeviceTimeCmd encodes [CmdSetDeviceTime].
func SetDeviceTimeCmd(ts Timestamp) ([]byte, error) {
	return NewFrame(uint8(CmdSetDeviceTime)).AppendTimestamp(ts).Bytes()
}

// SendSelfAdvertCmd encodes [CmdSendSelfAdvert]. flood selects
// network-wide propagation over zero-hop.
func SendSelfAdvertCmd(flood bool) ([]byte, error) {
	v := uint8(0)
	if flood {
		v = 1
	}
	return NewFrame(uint8(CmdSendSelfAdvert)).AppendBytes(v).Bytes()
}

// SetAdvertNameCmd encodes [CmdSetAdvertName]. The node name is at most
// 31 octets so it fits the NUL-terminated 32-octet advert block.
func SetAdvertNameCmd(name string) ([]byte, error) {
	if len(name) == 0 || len(name) > MaxNameLen-1 {
		return nil, newArgError("node name must be 1..%d octets", MaxNameLen-1)
	}
	return NewFrame(uint8(CmdSetAdvertName)).AppendBytes([]byte(name)...).Bytes()
}

// AddUpdateContactCmd encodes [CmdAddUpdateContact] from a contact
// record; the radio upserts by public key.
func AddUpdateContactCmd(c ContactFrame) ([]byte, error) {
	if len(c.Name) > MaxNameLen {
		return nil, newArgError("contact name exceeds %d octets", MaxNameLen)
	}
	return NewFrame(uint8(CmdAddUpdateContact)).
		AppendPublicKey(c.PublicKey).
		AppendBytes(uint8(c.Type), c.Flags).
		AppendPath(c.OutPath).
		AppendPaddedString(c.Name, MaxNameLen).
		AppendTimestamp(c.LastAdvert).
		AppendDegE6(c.Lat).
		AppendDegE6(c.Lon).
		Bytes()
}

// SyncNextMessageCmd encodes [CmdSyncNextMessage]. The radio answers
// with one inbound message frame or RespNoMoreMessages.
func SyncNextMessageCmd() ([]byte, error) {
	return NewFrame(uint8(CmdSyncNextMessage)).Bytes()
}

// SetRadioParamsCmd encodes [CmdSetRadioParams].
func SetRadioParamsCmd(freqKhz, bandwidthKhz uint32, spreadingFactor, codingRate uint8) ([]byte, error) {
	return NewFrame(uint8(CmdSetRadioParams)).
		AppendUint32(freqKhz).
		AppendUint32(bandwidthKhz).
		AppendBytes(spreadingFactor, codingRate).
		Bytes()
}

// SetRadioTxPowerCmd encodes [CmdSetRadioTxPower].
func SetRadioTxPowerCmd(dbm uint8) ([]byte, error) {
	return NewFrame(uint8(CmdSetRadioTxPower)).AppendBytes(dbm).Bytes()
}

// ResetPathCmd encodes [CmdResetPath]: forget the stored direct route
// to the contact so the next transmit floods.
func ResetPathCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdResetPath)).AppendPublicKey(key).Bytes()
}

// SetAdvertLatLonCmd encodes [CmdSetAdvertLatLon].
func SetAdvertLatLonCmd(lat, lon DegE6) ([]byte, error) {
	return NewFrame(uint8(CmdSetAdvertLatLon)).AppendDegE6(lat).AppendDegE6(lon).Bytes()
}

// RemoveContactCmd encodes [CmdRemoveContact].
func RemoveContactCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdRemoveContact)).AppendPublicKey(key).Bytes()
}

// ShareContactCmd encodes [CmdShareContact].
func ShareContactCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdShareContact)).AppendPublicKey(key).Bytes()
}

// ExportContactCmd encodes [CmdExportContact]. A nil key exports the
// radio's own identity.
func ExportContactCmd(key *PublicKey) ([]byte, error) {
	f := NewFrame(uint8(CmdExportContact))
	if key != nil {
		f.AppendPublicKey(*key)
	}
	return f.Bytes()
}

// ImportContactCmd encodes [CmdImportContact] from an exported blob.
func ImportContactCmd(blob []byte) ([]byte, error) {
	if len(blob) == 0 || len(blob) > MaxFrameSize-1 {
		return nil, newArgError("contact blob must be 1..%d octets", MaxFrameSize-1)
	}
	return NewFrame(uint8(CmdImportContact)).AppendBytes(blob...).Bytes()
}

// RebootCmd encodes [CmdReboot].
func RebootCmd() ([]byte, error) {
	return NewFrame(uint8(CmdReboot)).Bytes()
}

// GetBatteryAndStorageCmd encodes [CmdGetBatteryAndStorage].
func GetBatteryAndStorageCmd() ([]byte, error) {
	return NewFrame(uint8(CmdGetBatteryAndStorage)).Bytes()
}

// SetTuningParamsCmd encodes [CmdSetTuningParams].
func SetTuningParamsCmd(rxDelayBase, airtimeFactor uint32) ([]byte, error) {
	return NewFrame(uint8(CmdSetTuningParams)).
		AppendUint32(rxDelayBase).
		AppendUint32(airtimeFactor).
		Bytes()
}

// ExportPrivateKeyCmd encodes [CmdExportPrivateKey]. The radio answers
// RespPrivateKey, or RespDisabled when the firmware forbids export.
func ExportPrivateKeyCmd() ([]byte, error) {
	return NewFrame(uint8(CmdExportPrivateKey)).Bytes()
}

// ImportPrivateKeyCmd encodes [CmdImportPrivateKey].
func ImportPrivateKeyCmd(key []byte) ([]byte, error) {
	if len(key) != 64 {
		return nil, newArgError("private key must be 64 octets")
	}
	return NewFrame(uint8(CmdImportPrivateKey)).AppendBytes(key...).Bytes()
}

// SendRawDataCmd encodes [CmdSendRawData] along an explicit route.
func SendRawDataCmd(path Path, data []byte) ([]byte, error) {
	if !path.Valid() {
		return nil, newArgError("path exceeds %d hops", MaxPathSize)
	}
	f := NewFrame(uint8(CmdSendRawData)).AppendBytes(uint8(len(path)))
	f.AppendBytes(path...)
	return f.AppendBytes(data...).Bytes()
}

// SendLoginCmd encodes [CmdSendLogin] to a room server or repeater.
// Outcome arrives asynchronously as PushLoginSuccess or PushLoginFail
// matched by the key prefix.
func SendLoginCmd(key PublicKey, password string) ([]byte, error) {
	if len(password) > MaxNameLen {
		return nil, newArgError("password exceeds %d octets", MaxNameLen)
	}
	return NewFrame(uint8(CmdSendLogin)).AppendPublicKey(key).AppendBytes([]byte(password)...).Bytes()
}

// SendStatusReqCmd encodes the legacy [CmdSendStatusReq].
func SendStatusReqCmd(key PublicKey, st StatsType) ([]byte, error) {
	return NewFrame(uint8(CmdSendStatusReq)).AppendBytes(uint8(st)).AppendPublicKey(key).Bytes()
}

// HasConnectionCmd encodes [CmdHasConnection].
func HasConnectionCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdHasConnection)).AppendPublicKey(key).Bytes()
}

// LogoutCmd encodes [CmdLogout].
func LogoutCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdLogout)).AppendPublicKey(key).Bytes()
}

// GetContactByKeyCmd encodes [CmdGetContactByKey].
func GetContactByKeyCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdGetContactByKey)).AppendPublicKey(key).Bytes()
}

// GetChannelCmd encodes [CmdGetChannel].
func GetChannelCmd(idx uint8) ([]byte, error) {
	if idx >= MaxChannels {
		return nil, newArgError("channel index %d not in [0,%d)", idx, MaxChannels)
	}
	return NewFrame(uint8(CmdGetChannel)).AppendBytes(idx).Bytes()
}

// SetChannelCmd encodes [CmdSetChannel]. An all-zero secret leaves the
// slot inactive for reception.
func SetChannelCmd(ch ChannelInfo) ([]byte, error) {
	if ch.Index >= MaxChannels {
		return nil, newArgError("channel index %d not in [0,%d)", ch.Index, MaxChannels)
	}
	if len(ch.Name) > MaxNameLen {
		return nil, newArgError("channel name exceeds %d octets", MaxNameLen)
	}
	return NewFrame(uint8(CmdSetChannel)).
		AppendBytes(ch.Index).
		AppendPaddedString(ch.Name, MaxNameLen).
		AppendBytes(ch.Secret[:]...).
		Bytes()
}

// SignStartCmd encodes [CmdSignStart] announcing the total payload
// length of a detached signing session.
func SignStartCmd(totalLen uint32) ([]byte, error) {
	return NewFrame(uint8(CmdSignStart)).AppendUint32(totalLen).Bytes()
}

// SignDataCmd encodes one [CmdSignData] chunk.
func SignDataCmd(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 || len(chunk) > MaxFrameSize-1 {
		return nil, newArgError("sign chunk must be 1..%d octets", MaxFrameSize-1)
	}
	return NewFrame(uint8(CmdSignData)).AppendBytes(chunk...).Bytes()
}

// SignFinishCmd encodes [CmdSignFinish]; the radio answers with
// RespSignature.
func SignFinishCmd() ([]byte, error) {
	return NewFrame(uint8(CmdSignFinish)).Bytes()
}

// SendTracePathCmd encodes [CmdSendTracePath]. The tag is echoed back
// in the PushTraceData result.
func SendTracePathCmd(tag, auth uint32, flags uint8, path Path) ([]byte, error) {
	if !path.Valid() {
		return nil, newArgError("path exceeds %d hops", MaxPathSize)
	}
	f := NewFrame(uint8(CmdSendTracePath)).
		AppendUint32(tag).
		AppendUint32(auth).
		AppendBytes(flags)
	return f.AppendBytes(path...).Bytes()
}

// SetDevicePinCmd encodes [CmdSetDevicePin].
func SetDevicePinCmd(pin uint32) ([]byte, error) {
	return NewFrame(uint8(CmdSetDevicePin)).AppendUint32(pin).Bytes()
}

// SetOtherParamsCmd encodes [CmdSetOtherParams].
func SetOtherParamsCmd(manualAddContacts bool, telemetry TelemetryMode, advertLoc AdvertLocationPolicy) ([]byte, error) {
	manual := uint8(0)
	if manualAddContacts {
		manual = 1
	}
	return NewFrame(uint8(CmdSetOtherParams)).
		AppendBytes(manual, uint8(telemetry), uint8(advertLoc)).
		Bytes()
}

// SendTelemetryReqCmd encodes [CmdSendTelemetryReq]. The LPP result
// arrives as PushTelemetryResponse matched by key prefix.
func SendTelemetryReqCmd(key PublicKey) ([]byte, error) {
	return NewFrame(uint8(CmdSendTelemetryReq)).AppendPublicKey(key).Bytes()
}

// GetCustomVarsCmd encodes [CmdGetCustomVars].
func GetCustomVarsCmd() ([]byte, error) {
	return NewFrame(uint8(CmdGetCustomVars)).Bytes()
}

// SetCustomVarCmd encodes [CmdSetCustomVar] as "name=value".
func SetCustomVarCmd(name, value string) ([]byte, error) {
	if name == "" || strings.ContainsRune(name, '=') {
		return nil, newArgError("invalid custom var name %q", name)
	}
	return NewFrame(uint8(CmdSetCustomVar)).AppendBytes([]byte(name + "=" + value)...).Bytes()
}

// SetFloodScopeCmd encodes [CmdSetFloodScope] from a scope spec, see
// FloodScope.
func SetFloodScopeCmd(scope string) ([]byte, error) {
	secret := FloodScope(scope)
	return NewFrame(uint8(CmdSetFloodScope)).AppendBytes(secret[:]...).Bytes()
}

// FloodScope derives the 16-octet flood scope secret from its textual
// spec: "*" is the global scope, empty/"0"/"none" disables flooding,
// "#name" hashes the name, anything else is taken as a raw secret
// truncated or zero-padded to 16 octets.
func FloodScope(scope string) [ChannelSecretLen]byte {
	var secret [ChannelSecretLen]byte
	switch strings.ToLower(scope) {
	case "", "0", "none":
		return secret
	case "*":
		for i := range secret {
			secret[i] = 0xFF
		}
		return secret
	}
	if strings.HasPrefix(scope, "#") {
		sum := sha256.Sum256([]byte(scope))
		copy(secret[:], sum[:ChannelSecretLen])
		return secret
	}
	copy(secret[:], scope)
	return secret
}

// DeriveChannelSecret is the hashed secret of a "#name" channel: the
// first 16 octets of SHA-256 of the name.
func DeriveChannelSecret(name string) [ChannelSecretLen]byte {
	var secret [ChannelSecretLen]byte
	sum := sha256.Sum256([]byte(name))
	copy(secret[:], sum[:ChannelSecretLen])
	return secret
}

// SendBinaryReqCmd encodes [CmdSendBinaryReq]. The tag is echoed in
// the PushBinaryResponse result.
func SendBinaryReqCmd(tag uint32, key PublicKey, reqType BinaryRequestType, args []byte) ([]byte, error) {
	f := NewFrame(uint8(CmdSendBinaryReq)).
		AppendUint32(tag).
		AppendPublicKey(key).
		AppendBytes(uint8(reqType))
	return f.AppendBytes(args...).Bytes()
}

// SendControlDataCmd encodes [CmdSendControlData].
func SendControlDataCmd(ct ControlDataType, data []byte) ([]byte, error) {
	return NewFrame(uint8(CmdSendControlData)).AppendBytes(uint8(ct)).AppendBytes(data...).Bytes()
}
