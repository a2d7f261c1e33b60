// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import "strconv"

// about frame identification. Companion Radio Protocol frame = code(1) + payload.
// Commands travel client to radio in <0x01..0x7F>, responses radio to
// client in <0x00..0x7F>, pushes radio to client in <0x80..0xFF>.

// protocol limits
const (
	PublicKeySize    = 32  // node public key octets
	KeyPrefixSize    = 6   // compact key identifier octets
	MaxPathSize      = 64  // out-path buffer octets
	MaxFrameSize     = 250 // code + payload
	MaxNameLen       = 32  // node and channel name block
	MaxChannelMsgLen = 160 // channel text octets
	MaxDirectMsgLen  = 150 // direct text octets
	MaxChannels      = 8   // channel slots <0..7>
	ChannelSecretLen = 16  // channel/scope secret octets
	ContactFrameSize = 147 // serialized contact record payload
)

// CommandCode is the client to radio frame code.
type CommandCode uint8

// The command codes of the companion radio protocol.
const (
	_                      CommandCode = iota // 0: not defined
	CmdAppStart                               // 1: application start handshake
	CmdSendTextMsg                            // 2: send direct text message
	CmdSendChannelTextMsg                     // 3: send channel text message
	CmdGetContacts                            // 4: request contact records, optional watermark
	CmdGetDeviceTime                          // 5: read radio clock
	CmdSetDeviceTime                          // 6: set radio clock
	CmdSendSelfAdvert                         // 7: broadcast own advert
	CmdSetAdvertName                          // 8: set advertised node name
	CmdAddUpdateContact                       // 9: upsert a contact record on the radio
	CmdSyncNextMessage                        // 10: pull next queued inbound message
	CmdSetRadioParams                         // 11: set frequency/bandwidth/sf/cr
	CmdSetRadioTxPower                        // 12: set transmit power
	CmdResetPath                              // 13: forget the direct route to a contact
	CmdSetAdvertLatLon                        // 14: set advertised location
	CmdRemoveContact                          // 15: delete a contact record
	CmdShareContact                           // 16: broadcast a contact as advert
	CmdExportContact                          // 17: export contact URI blob
	CmdImportContact                          // 18: import contact URI blob
	CmdReboot                                 // 19: restart firmware
	CmdGetBatteryAndStorage                   // 20: battery millivolts and fs usage
	CmdSetTuningParams                        // 21: set rx/af tuning parameters
	CmdDeviceQuery                            // 22: protocol/firmware capability query
	CmdExportPrivateKey                       // 23: export identity private key
	CmdImportPrivateKey                       // 24: import identity private key
	CmdSendRawData                            // 25: raw packet to a path
	CmdSendLogin                              // 26: login to a room server
	CmdSendStatusReq                          // 27: legacy status request
	CmdHasConnection                          // 28: probe connection to a repeater
	CmdLogout                                 // 29: logout from a room server
	CmdGetContactByKey                        // 30: fetch one contact record
	CmdGetChannel                             // 31: read channel slot
	CmdSetChannel                             // 32: write channel slot
	CmdSignStart                              // 33: begin detached signing
	CmdSignData                               // 34: signing payload chunk
	CmdSignFinish                             // 35: finish detached signing
	CmdSendTracePath                          // 36: path trace with correlation tag
	CmdSetDevicePin                           // 37: set BLE pairing pin
	CmdSetOtherParams                         // 38: manual-add/telemetry/advert policies
	CmdSendTelemetryReq                       // 39: request LPP telemetry from a node
	CmdGetCustomVars                          // 40: read firmware custom variables
	CmdSetCustomVar                           // 41: write firmware custom variable
	_                                         // 42: reserved
	_                                         // 43: reserved
	_                                         // 44: reserved
	_                                         // 45: reserved
	_                                         // 46: reserved
	_                                         // 47: reserved
	_                                         // 48: reserved
	CmdSetFloodScope                          // 49: set flood propagation scope
	CmdSendBinaryReq                          // 50: typed binary request to a node
	CmdSendControlData                        // 51: typed control datagram
)

// ResponseCode is the radio to client solicited frame code.
type ResponseCode uint8

// The response codes of the companion radio protocol.
const (
	RespOk               ResponseCode = iota // 0: command accepted
	RespErr                                  // 1: command rejected, payload carries ErrorCode
	RespContactsStart                        // 2: begin contact stream, payload count
	RespContact                              // 3: one serialized contact record
	RespEndOfContacts                        // 4: end of contact stream
	RespSelfInfo                             // 5: own identity and radio parameters
	RespSent                                 // 6: transmit accepted, carries ack code and est timeout
	RespContactMsgRecv                       // 7: inbound direct message (v2)
	RespChannelMsgRecv                       // 8: inbound channel message (v2)
	RespCurrTime                             // 9: radio clock
	RespNoMoreMessages                       // 10: inbound queue drained
	RespExportContact                        // 11: exported contact URI blob
	RespBatteryAndStorage                    // 12: battery millivolts, fs used/total
	RespDeviceInfo                           // 13: firmware capability record
	RespPrivateKey                           // 14: exported private key
	RespDisabled                             // 15: feature disabled by firmware
	RespContactMsgRecvV3                     // 16: inbound direct message (v3, with SNR)
	RespChannelMsgRecvV3                     // 17: inbound channel message (v3, with SNR)
	RespChannelInfo                          // 18: channel slot record
	RespSignStart                            // 19: signing session accepted
	RespSignature                            // 20: detached signature
	RespCustomVars                           // 21: firmware custom variables
	RespBinaryMatch                          // 22: binary request accepted, echoes tag
)

// PushCode is the radio to client unsolicited frame code.
type PushCode uint8

// The push codes of the companion radio protocol.
const (
	PushAdvert            PushCode = iota + 0x80 // 0x80: own advert was broadcast
	PushPathUpdated                              // 0x81: route to a contact changed
	PushSendConfirmed                            // 0x82: delivery confirmation by ack code
	PushMsgWaiting                               // 0x83: inbound queue became non-empty
	PushRawData                                  // 0x84: raw packet received
	PushLoginSuccess                             // 0x85: room server login accepted
	PushLoginFail                                // 0x86: room server login rejected
	PushStatusResponse                           // 0x87: remote node status record
	PushLogRxData                                // 0x88: rx log entry
	PushTraceData                                // 0x89: path trace result by tag
	PushNewAdvert                                // 0x8A: advert from another node (contact record)
	PushTelemetryResponse                        // 0x8B: LPP telemetry by key prefix
	PushBinaryResponse                           // 0x8C: binary response by tag
)

// ErrorCode is the firmware error byte carried by RespErr.
type ErrorCode uint8

// firmware error codes
const (
	ErrCodeUnsupportedCmd ErrorCode = iota + 1 // 1: command unknown to this firmware
	ErrCodeNotFound                            // 2: referenced record does not exist
	ErrCodeTableFull                           // 3: firmware table exhausted
	ErrCodeBadState                            // 4: command illegal in current state
	ErrCodeFileIOError                         // 5: firmware filesystem failure
	ErrCodeIllegalArg                          // 6: malformed command payload
)

// IsPush reports whether a raw frame code is in the push range.
func IsPush(code uint8) bool { return code >= 0x80 }

var commandNames = map[CommandCode]string{
	CmdAppStart:             "AppStart",
	CmdSendTextMsg:          "SendTextMsg",
	CmdSendChannelTextMsg:   "SendChannelTextMsg",
	CmdGetContacts:          "GetContacts",
	CmdGetDeviceTime:        "GetDeviceTime",
	CmdSetDeviceTime:        "SetDeviceTime",
	CmdSendSelfAdvert:       "SendSelfAdvert",
	CmdSetAdvertName:        "SetAdvertName",
	CmdAddUpdateContact:     "AddUpdateContact",
	CmdSyncNextMessage:      "SyncNextMessage",
	CmdSetRadioParams:       "SetRadioParams",
	CmdSetRadioTxPower:      "SetRadioTxPower",
	CmdResetPath:            "ResetPath",
	CmdSetAdvertLatLon:      "SetAdvertLatLon",
	CmdRemoveContact:        "RemoveContact",
	CmdShareContact:         "ShareContact",
	CmdExportContact:        "ExportContact",
	CmdImportContact:        "ImportContact",
	CmdReboot:               "Reboot",
	CmdGetBatteryAndStorage: "GetBatteryAndStorage",
	CmdSetTuningParams:      "SetTuningParams",
	CmdDeviceQuery:          "DeviceQuery",
	CmdExportPrivateKey:     "ExportPrivateKey",
	CmdImportPrivateKey:     "ImportPrivateKey",
	CmdSendRawData:          "SendRawData",
	CmdSendLogin:            "SendLogin",
	CmdSendStatusReq:        "SendStatusReq",
	CmdHasConnection:        "HasConnection",
	CmdLogout:               "Logout",
	CmdGetContactByKey:      "GetContactByKey",
	CmdGetChannel:           "GetChannel",
	CmdSetChannel:           "SetChannel",
	CmdSignStart:            "SignStart",
	CmdSignData:             "SignData",
	CmdSignFinish:           "SignFinish",
	CmdSendTracePath:        "SendTracePath",
	CmdSetDevicePin:         "SetDevicePin",
	CmdSetOtherParams:       "SetOtherParams",
	CmdSendTelemetryReq:     "SendTelemetryReq",
	CmdGetCustomVars:        "GetCustomVars",
	CmdSetCustomVar:         "SetCustomVar",
	CmdSetFloodScope:        "SetFloodScope",
	CmdSendBinaryReq:        "SendBinaryReq",
	CmdSendControlData:      "SendControlData",
}

func (sf CommandCode) String() string {
	if s, ok := commandNames[sf]; ok {
		return "CMD<" + s + ">"
	}
	return "CMD<" + strconv.FormatUint(uint64(sf), 10) + ">"
}

var responseNames = map[ResponseCode]string{
	RespOk:                "Ok",
	RespErr:               "Err",
	RespContactsStart:     "ContactsStart",
	RespContact:           "Contact",
	RespEndOfContacts:     "EndOfContacts",
	RespSelfInfo:          "SelfInfo",
	RespSent:              "Sent",
	RespContactMsgRecv:    "ContactMsgRecv",
	RespChannelMsgRecv:    "ChannelMsgRecv",
	RespCurrTime:          "CurrTime",
	RespNoMoreMessages:    "NoMoreMessages",
	RespExportContact:     "ExportContact",
	RespBatteryAndStorage: "BatteryAndStorage",
	RespDeviceInfo:        "DeviceInfo",
	RespPrivateKey:        "PrivateKey",
	RespDisabled:          "Disabled",
	RespContactMsgRecvV3:  "ContactMsgRecvV3",
	RespChannelMsgRecvV3:  "ChannelMsgRecvV3",
	RespChannelInfo:       "ChannelInfo",
	RespSignStart:         "SignStart",
	RespSignature:         "Signature",
	RespCustomVars:        "CustomVars",
	RespBinaryMatch:       "BinaryMatch",
}

func (sf ResponseCode) String() string {
	if s, ok := responseNames[sf]; ok {
		return "RSP<" + s + ">"
	}
	return "RSP<" + strconv.FormatUint(uint64(sf), 10) + ">"
}

var pushNames = map[PushCode]string{
	PushAdvert:            "Advert",
	PushPathUpdated:       "PathUpdated",
	PushSendConfirmed:     "SendConfirmed",
	PushMsgWaiting:        "MsgWaiting",
	PushRawData:           "RawData",
	PushLoginSuccess:      "LoginSuccess",
	PushLoginFail:         "LoginFail",
	PushStatusResponse:    "StatusResponse",
	PushLogRxData:         "LogRxData",
	PushTraceData:         "TraceData",
	PushNewAdvert:         "NewAdvert",
	PushTelemetryResponse: "TelemetryResponse",
	PushBinaryResponse:    "BinaryResponse",
}

func (sf PushCode) String() string {
	if s, ok := pushNames[sf]; ok {
		return "PSH<" + s + ">"
	}
	return "PSH<" + strconv.FormatUint(uint64(sf), 10) + ">"
}

var errorCodeNames = map[ErrorCode]string{
	ErrCodeUnsupportedCmd: "UnsupportedCmd",
	ErrCodeNotFound:       "NotFound",
	ErrCodeTableFull:      "TableFull",
	ErrCodeBadState:       "BadState",
	ErrCodeFileIOError:    "FileIOError",
	ErrCodeIllegalArg:     "IllegalArg",
}

func (sf ErrorCode) String() string {
	if s, ok := errorCodeNames[sf]; ok {
		return "ERR<" + s + ">"
	}
	return "ERR<" + strconv.FormatUint(uint64(sf), 10) + ">"
}
