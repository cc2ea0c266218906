package ble

import (
	"errors"
	"fmt"
)

// Local error codes. Host failures keep the code the host reported.
const (
	CodeDeviceNotFound = -1
	CodeNotFound       = 20000

	CodeConnectFailed         = 10001
	CodeServiceFailed         = 10002
	CodeCharacteristicsFailed = 10003
	CodeSubscribeFailed       = 10004

	// Same values the mini-program host uses for these conditions.
	CodeSystemError  = 10008
	CodeNotSupported = 10009
	CodeInvalidData  = 10013
)

// Error is the uniform failure record returned by every Session operation.
type Error struct {
	Code int
	Msg  string

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ble: %s (code %d)", e.Msg, e.Code)
}

// Unwrap returns the failure that caused a composite connect stage to fail.
func (e *Error) Unwrap() error { return e.cause }

// Sentinel failures. The not-found family shares CodeNotFound; compare with
// errors.Is to tell them apart.
var (
	ErrDeviceNotFound              = &Error{Code: CodeDeviceNotFound, Msg: "Name error,Device does not exist"}
	ErrAdapterUnavailable          = &Error{Code: CodeNotFound, Msg: "bluetooth adapter unavailable"}
	ErrServiceNotFound             = &Error{Code: CodeNotFound, Msg: "service not found"}
	ErrNoCharacteristics           = &Error{Code: CodeNotFound, Msg: "characteristics not found"}
	ErrReadCharacteristicNotFound  = &Error{Code: CodeNotFound, Msg: "read characteristic not found"}
	ErrWriteCharacteristicNotFound = &Error{Code: CodeNotFound, Msg: "write characteristic not found"}
	ErrNotSupported                = &Error{Code: CodeNotSupported, Msg: "operation not supported by host"}
	ErrInvalidHex                  = &Error{Code: CodeInvalidData, Msg: "invalid hex payload"}
)

// HostError is a failure reported by the host BLE API.
type HostError struct {
	Code int
	Msg  string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("host error %d: %s", e.Code, e.Msg)
}

// toError normalises any failure into an *Error. Host errors keep their
// code and message; anything else becomes a system error.
func toError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var he *HostError
	if errors.As(err, &he) {
		return &Error{Code: he.Code, Msg: he.Msg, cause: err}
	}
	return &Error{Code: CodeSystemError, Msg: err.Error(), cause: err}
}

// stageError wraps a failed composite connect step. The underlying code and
// message are embedded in the message text as "<stage>|<code>|<msg>".
func stageError(code int, stage string, err error) *Error {
	under := toError(err)
	return &Error{
		Code:  code,
		Msg:   fmt.Sprintf("%s|%d|%s", stage, under.Code, under.Msg),
		cause: under,
	}
}
