//go:build !linux

// Package hci advertises by driving the local controller over a raw HCI
// socket. Only Linux exposes one; elsewhere the radio reports no adapter.
package hci

import (
	"github.com/pkg/errors"

	"github.com/user/attendease-beacon/advertiser"
)

// Radio is a stub outside Linux.
type Radio struct{}

// New returns the stub radio.
func New() *Radio { return &Radio{} }

// Capability implements advertiser.Radio.
func (r *Radio) Capability() (advertiser.Capability, error) {
	return advertiser.Capability{}, nil
}

// Begin implements advertiser.Radio.
func (r *Radio) Begin(*advertiser.Payload, advertiser.StartNotifier) (advertiser.Broadcast, error) {
	return nil, errors.New("hci: raw HCI sockets are only available on linux")
}
