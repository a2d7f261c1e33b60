// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package meshcore

import "fmt"

// ErrorKind classifies every error the protocol layer can surface.
type ErrorKind uint8

// error kinds
const (
	KindInvalidFrame       ErrorKind = iota + 1 // decoder ran out of buffer or saw the wrong opcode
	KindIllegalArgument                         // encoder input violates a field contract
	KindUnsupportedCommand                      // firmware rejected the command as unknown
	KindDeviceError                             // firmware error with a raw code byte
	KindTimeout                                 // waiter deadline elapsed
	KindTransportLost                           // connection dropped mid-request
	KindNotAuthenticated                        // operation requires a login
	KindLoginFailed                             // room server rejected credentials
	KindKeyExportDisabled                       // private key export disabled by firmware
)

func (sf ErrorKind) String() string {
	switch sf {
	case KindInvalidFrame:
		return "InvalidFrame"
	case KindIllegalArgument:
		return "IllegalArgument"
	case KindUnsupportedCommand:
		return "UnsupportedCommand"
	case KindDeviceError:
		return "DeviceError"
	case KindTimeout:
		return "Timeout"
	case KindTransportLost:
		return "TransportLost"
	case KindNotAuthenticated:
		return "NotAuthenticated"
	case KindLoginFailed:
		return "LoginFailed"
	case KindKeyExportDisabled:
		return "PrivateKeyExportDisabled"
	}
	return "ErrorKind?"
}

// ProtoError is the structured protocol error. Code is meaningful only
// for KindDeviceError and KindUnsupportedCommand.
type ProtoError struct {
	Kind ErrorKind
	Code ErrorCode
	Msg  string
}

func (sf *ProtoError) Error() string {
	if sf.Msg == "" {
		return sf.Kind.String()
	}
	return sf.Kind.String() + ": " + sf.Msg
}

// Is matches against the kind sentinels below so errors.Is works across
// wrapping.
func (sf *ProtoError) Is(target error) bool {
	if t, ok := target.(*ProtoError); ok {
		return t.Kind == sf.Kind && (t.Code == 0 || t.Code == sf.Code)
	}
	return false
}

// kind sentinels for errors.Is
var (
	ErrInvalidFrame      = &ProtoError{Kind: KindInvalidFrame}
	ErrIllegalArgument   = &ProtoError{Kind: KindIllegalArgument}
	ErrUnsupportedCmd    = &ProtoError{Kind: KindUnsupportedCommand}
	ErrTimeout           = &ProtoError{Kind: KindTimeout}
	ErrTransportLost     = &ProtoError{Kind: KindTransportLost}
	ErrNotAuthenticated  = &ProtoError{Kind: KindNotAuthenticated}
	ErrLoginFailed       = &ProtoError{Kind: KindLoginFailed}
	ErrKeyExportDisabled = &ProtoError{Kind: KindKeyExportDisabled}
)

func newFrameError(format string, v ...interface{}) *ProtoError {
	return &ProtoError{Kind: KindInvalidFrame, Msg: fmt.Sprintf(format, v...)}
}

func newArgError(format string, v ...interface{}) *ProtoError {
	return &ProtoError{Kind: KindIllegalArgument, Msg: fmt.Sprintf(format, v...)}
}

// NewDeviceError wraps a raw firmware error byte. UnsupportedCmd gets
// its own kind so callers can distinguish stale firmware.
func NewDeviceError(code ErrorCode) *ProtoError {
	if code == ErrCodeUnsupportedCmd {
		return &ProtoError{Kind: KindUnsupportedCommand, Code: code}
	}
	return &ProtoError{Kind: KindDeviceError, Code: code, Msg: code.String()}
}
