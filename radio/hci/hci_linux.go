// Package hci advertises by driving the local controller over a raw HCI
// socket, bypassing bluetoothd. It needs CAP_NET_ADMIN and a controller
// that bluetoothd is not holding.
package hci

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	blehci "github.com/go-ble/ble/linux/hci"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/pkg/errors"

	"github.com/user/attendease-beacon/advertiser"
	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/wire/advertising"
)

// Advertising channel map: 37, 38 and 39.
const allChannels = 0x07

// Advertising_Type values of LE Set Advertising Parameters. They differ
// from the link layer PDU type codes.
const (
	advTypeInd        = 0x00
	advTypeScanInd    = 0x02
	advTypeNonconnInd = 0x03
)

// link is the slice of *blehci.HCI the radio drives. go-ble only programs
// advertising parameters at device init, so they are sent explicitly.
type link interface {
	Send(c blehci.Command, r blehci.CommandRP) error
	SetAdvertisement(ad []byte, sr []byte) error
	Advertise() error
	StopAdvertising() error
}

// Radio owns one HCI device. The device is opened on first use.
type Radio struct {
	mu     sync.Mutex
	link   link
	dial   func() (link, error)
	prefix string

	current *broadcast
}

// New returns a radio for the default HCI device.
func New() *Radio {
	return newRadio(openDevice)
}

func newRadio(dial func() (link, error)) *Radio {
	return &Radio{dial: dial, prefix: logger.Prefix("hci0", "HCI")}
}

func openDevice() (link, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, errors.Wrap(err, "hci: open device")
	}
	logger.Info(logger.Prefix("hci0", "HCI"), "🔧 HCI device open, address %s", dev.Address())
	return dev.HCI, nil
}

func (r *Radio) open() (link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.link != nil {
		return r.link, nil
	}
	l, err := r.dial()
	if err != nil {
		return nil, err
	}
	r.link = l
	return l, nil
}

// Capability implements advertiser.Radio. A device that opens is treated as
// powered and able to advertise; legacy advertising is mandatory for LE
// controllers.
func (r *Radio) Capability() (advertiser.Capability, error) {
	c := advertiser.Capability{MaxAdvertisingDataLen: advertising.MaxAdvertisingDataLen}
	if _, err := r.open(); err != nil {
		logger.Debug(r.prefix, "HCI device unavailable: %v", err)
		return c, nil
	}
	c.AdapterPresent = true
	c.Powered = true
	c.PeripheralSupported = true
	return c, nil
}

// Begin implements advertiser.Radio. The HCI commands run on their own
// goroutine and their outcome is reported through notify.
func (r *Radio) Begin(p *advertiser.Payload, notify advertiser.StartNotifier) (advertiser.Broadcast, error) {
	l, err := r.open()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.current != nil && !r.current.ended {
		r.mu.Unlock()
		// one legacy advertising set per controller
		go notify(advertiser.StatusTooManyAdvertisers, "controller is already advertising")
		return &broadcast{radio: r, ended: true}, nil
	}
	b := &broadcast{radio: r}
	r.current = b
	r.mu.Unlock()

	params := advParams(p)
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if b.ended {
			return
		}
		if err := l.Send(&params, nil); err != nil {
			b.ended = true
			notify(advertiser.StatusInternalError, err.Error())
			return
		}
		if err := l.SetAdvertisement(p.AdvData, p.ScanRspData); err != nil {
			b.ended = true
			status := advertiser.StatusInternalError
			if errors.Cause(err) == ble.ErrEIRPacketTooLong {
				status = advertiser.StatusDataTooLarge
			}
			notify(status, err.Error())
			return
		}
		if err := l.Advertise(); err != nil {
			b.ended = true
			notify(advertiser.StatusInternalError, err.Error())
			return
		}
		b.onAir = true
		logger.Debug(r.prefix, "📡 Advertising %s", p.Name)
		notify(advertiser.StatusSuccess, "")
	}()
	return b, nil
}

// advParams converts the payload settings into LE advertising parameters.
// Intervals are in 0.625ms units.
func advParams(p *advertiser.Payload) cmd.LESetAdvertisingParameters {
	interval := uint16(p.Settings.IntervalMillis() * 1000 / 625)
	return cmd.LESetAdvertisingParameters{
		AdvertisingIntervalMin:  interval,
		AdvertisingIntervalMax:  interval,
		AdvertisingType:         advType(p.PDUType()),
		OwnAddressType:          0x00,
		DirectAddressType:       0x00,
		AdvertisingChannelMap:   allChannels,
		AdvertisingFilterPolicy: 0x00,
	}
}

func advType(pdu byte) uint8 {
	switch pdu {
	case advertising.PDUTypeAdvInd:
		return advTypeInd
	case advertising.PDUTypeAdvScanInd:
		return advTypeScanInd
	default:
		return advTypeNonconnInd
	}
}

type broadcast struct {
	radio *Radio
	onAir bool
	ended bool
}

// End implements advertiser.Broadcast.
func (b *broadcast) End() error {
	r := b.radio
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ended {
		return nil
	}
	b.ended = true
	if !b.onAir {
		return nil
	}
	b.onAir = false
	if err := r.link.StopAdvertising(); err != nil {
		return errors.Wrap(err, "hci: stop advertising")
	}
	return nil
}
