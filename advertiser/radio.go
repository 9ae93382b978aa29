package advertiser

import (
	"fmt"
	"time"
)

// Capability is a point-in-time snapshot of what the radio can do.
type Capability struct {
	AdapterPresent      bool
	Powered             bool
	PeripheralSupported bool
	// MaxAdvertisingDataLen is the per-PDU ceiling; 0 means the legacy 31 bytes.
	MaxAdvertisingDataLen int
}

// CanAdvertise is the conjunction IsSupported reports.
func (c Capability) CanAdvertise() bool {
	return c.AdapterPresent && c.Powered && c.PeripheralSupported
}

// Status is the radio's asynchronous verdict on a begin-broadcast command.
// The failure values follow the Android AdvertiseCallback error codes.
type Status int

const (
	StatusSuccess            Status = 0
	StatusDataTooLarge       Status = 1
	StatusTooManyAdvertisers Status = 2
	StatusAlreadyStarted     Status = 3
	StatusInternalError      Status = 4
	StatusFeatureUnsupported Status = 5
	// StatusReleased: a broadcast that was on air was torn down by the radio
	// (adapter powered off, daemon restarted, advertisement released).
	StatusReleased Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDataTooLarge:
		return "data too large"
	case StatusTooManyAdvertisers:
		return "too many advertisers"
	case StatusAlreadyStarted:
		return "already started"
	case StatusInternalError:
		return "internal error"
	case StatusFeatureUnsupported:
		return "feature unsupported"
	case StatusReleased:
		return "released"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// StartNotifier receives the radio's start result. Radios may call it from
// any goroutine, once per Begin with the start result, and at most once more
// with StatusReleased if the broadcast is later dropped without End.
type StartNotifier func(status Status, detail string)

// Broadcast is a handle on one issued broadcast.
type Broadcast interface {
	// End stops the broadcast. Ending twice is not an error.
	End() error
}

// Radio is the platform capability the controller drives. Implementations
// live under radio/.
type Radio interface {
	Capability() (Capability, error)
	// Begin issues the broadcast and returns once the command is issued.
	// A non-nil error means nothing was issued and notify will not be called.
	Begin(p *Payload, notify StartNotifier) (Broadcast, error)
}

// Confirmation is the radio's asynchronous answer to a Start, matched to
// the session that issued it.
type Confirmation struct {
	Generation uint64
	Token      string
	Status     Status
	Detail     string
	At         time.Time
}

// OK reports whether the radio confirmed the broadcast on air.
func (c Confirmation) OK() bool {
	return c.Status == StatusSuccess
}
