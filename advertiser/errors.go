package advertiser

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies every failure Start can report.
type Kind int

const (
	// RadioUnavailable: no adapter, or the adapter is powered off.
	RadioUnavailable Kind = iota + 1
	// AdvertisingUnsupported: the adapter cannot act as a BLE peripheral.
	AdvertisingUnsupported
	// PayloadTooLarge: the token does not fit the advertising data ceiling.
	PayloadTooLarge
	// PlatformError: the radio failed in a way the controller cannot classify.
	PlatformError
	// InvalidToken: the token is empty.
	InvalidToken
)

func (k Kind) String() string {
	switch k {
	case RadioUnavailable:
		return "RadioUnavailable"
	case AdvertisingUnsupported:
		return "AdvertisingUnsupported"
	case PayloadTooLarge:
		return "PayloadTooLarge"
	case PlatformError:
		return "PlatformError"
	case InvalidToken:
		return "InvalidToken"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Code is the stable identifier a host bridge hands to its UI layer.
func (k Kind) Code() string {
	switch k {
	case RadioUnavailable:
		return "BT_DISABLED"
	case AdvertisingUnsupported:
		return "BLE_NOT_SUPPORTED"
	case PayloadTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case InvalidToken:
		return "INVALID_TOKEN"
	default:
		return "ERROR"
	}
}

// Error is the only error type Start returns. The underlying radio error, if
// any, is kept as the cause but never rendered into the message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Cause implements the github.com/pkg/errors causer interface, for logging.
// Error has no Unwrap: errors.As never reaches a radio's error type through
// it, and KindOf is the way to classify a failure.
func (e *Error) Cause() error { return e.Err }

func newError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf reports the Kind of err. Errors not produced by this package are
// PlatformError; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PlatformError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
