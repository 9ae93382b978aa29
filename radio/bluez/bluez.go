// Package bluez drives BLE advertising through BlueZ's LEAdvertisingManager1
// D-Bus API.
package bluez

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/pkg/errors"

	"github.com/user/attendease-beacon/advertiser"
	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/wire/advertising"
)

// DefaultAdapter is the adapter used when none is named.
const DefaultAdapter = "hci0"

const (
	bluezService           = "org.bluez"
	adapterInterface       = "org.bluez.Adapter1"
	advManagerInterface    = "org.bluez.LEAdvertisingManager1"
	advertisementInterface = "org.bluez.LEAdvertisement1"
	propertiesInterface    = "org.freedesktop.DBus.Properties"
	errUnknownObject       = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownInterface    = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownProperty     = "org.freedesktop.DBus.Error.UnknownProperty"
	errInvalidArgs         = "org.freedesktop.DBus.Error.InvalidArgs"
	objectPathPrefix       = "/org/attendease/beacon/advertisement"
)

var advertisementID uint64

// Radio advertises through one BlueZ adapter.
type Radio struct {
	conn    *dbus.Conn
	adapter dbus.BusObject
	id      string
	prefix  string
}

// New connects to the system bus and binds to adapterID (e.g. "hci0").
func New(adapterID string) (*Radio, error) {
	if adapterID == "" {
		adapterID = DefaultAdapter
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "bluez: connect system bus")
	}
	return &Radio{
		conn:    conn,
		adapter: conn.Object(bluezService, dbus.ObjectPath("/org/bluez/"+adapterID)),
		id:      adapterID,
		prefix:  logger.Prefix(adapterID, "BlueZ"),
	}, nil
}

// Capability implements advertiser.Radio.
func (r *Radio) Capability() (advertiser.Capability, error) {
	c := advertiser.Capability{MaxAdvertisingDataLen: advertising.MaxAdvertisingDataLen}

	powered, err := r.adapter.GetProperty(adapterInterface + ".Powered")
	if err != nil {
		if isDBusError(err, errUnknownObject, errUnknownInterface) {
			// no such adapter
			return c, nil
		}
		return c, errors.Wrapf(err, "bluez: read %s power state", r.id)
	}
	c.AdapterPresent = true
	if err := powered.Store(&c.Powered); err != nil {
		return c, errors.Wrap(err, "bluez: decode Powered")
	}

	instances, err := r.adapter.GetProperty(advManagerInterface + ".SupportedInstances")
	if err != nil {
		if isDBusError(err, errUnknownInterface, errUnknownProperty, errInvalidArgs) {
			return c, nil
		}
		return c, errors.Wrap(err, "bluez: read advertising instances")
	}
	var n uint8
	if err := instances.Store(&n); err != nil {
		return c, errors.Wrap(err, "bluez: decode SupportedInstances")
	}
	c.PeripheralSupported = n > 0
	return c, nil
}

// Begin implements advertiser.Radio. The advertisement object is exported
// first; RegisterAdvertisement is sent without waiting and its reply is the
// start result.
func (r *Radio) Begin(p *advertiser.Payload, notify advertiser.StartNotifier) (advertiser.Broadcast, error) {
	path := dbus.ObjectPath(fmt.Sprintf("%s%d", objectPathPrefix, atomic.AddUint64(&advertisementID, 1)))

	b := &broadcast{bus: r, path: path, prefix: r.prefix, notify: notify}
	if err := r.conn.Export(releaser{b}, path, advertisementInterface); err != nil {
		return nil, errors.Wrap(err, "bluez: export advertisement")
	}
	props := map[string]map[string]*prop.Prop{
		advertisementInterface: advertisementProperties(p),
	}
	if _, err := prop.Export(r.conn, path, props); err != nil {
		r.conn.Export(nil, path, advertisementInterface)
		return nil, errors.Wrap(err, "bluez: export advertisement properties")
	}

	// Send failures also arrive on replies.
	replies := make(chan *dbus.Call, 1)
	r.adapter.Go(advManagerInterface+".RegisterAdvertisement", 0, replies, path, map[string]dbus.Variant{})
	logger.Debug(r.prefix, "📡 RegisterAdvertisement sent for %s", path)

	go func() {
		reply := <-replies
		b.handleReply(reply.Err)
	}()

	return b, nil
}

func (r *Radio) unregister(path dbus.ObjectPath) error {
	err := r.adapter.Call(advManagerInterface+".UnregisterAdvertisement", 0, path).Err
	if err != nil && !isDBusError(err, "org.bluez.Error.DoesNotExist") {
		return errors.Wrap(err, "bluez: UnregisterAdvertisement")
	}
	return nil
}

func (r *Radio) unexport(path dbus.ObjectPath) {
	r.conn.Export(nil, path, advertisementInterface)
	r.conn.Export(nil, path, propertiesInterface)
}

// bus is the part of Radio a broadcast calls back into.
type bus interface {
	unregister(path dbus.ObjectPath) error
	unexport(path dbus.ObjectPath)
}

const (
	statePending = iota
	stateRegistered
	stateDone
)

type broadcast struct {
	bus    bus
	path   dbus.ObjectPath
	prefix string
	notify advertiser.StartNotifier

	mu         sync.Mutex
	state      int
	endPending bool
}

// releaser is the object exported on the bus; it only carries Release so
// nothing else on broadcast is callable over D-Bus.
type releaser struct{ b *broadcast }

// Release is called by BlueZ when it drops the advertisement on its own.
func (r releaser) Release() *dbus.Error {
	r.b.release()
	return nil
}

// handleReply applies the RegisterAdvertisement reply and reports it.
func (b *broadcast) handleReply(err error) {
	if err != nil {
		b.failed()
		b.notify(statusFromError(err), err.Error())
		return
	}
	released := b.registered()
	b.notify(advertiser.StatusSuccess, "")
	if released {
		b.notify(advertiser.StatusReleased, "advertisement released by BlueZ")
	}
}

// registered reports whether BlueZ already released the advertisement
// before the reply arrived.
func (b *broadcast) registered() (released bool) {
	b.mu.Lock()
	if b.state != statePending {
		released = !b.endPending
		b.mu.Unlock()
		return released
	}
	end := b.endPending
	if end {
		b.state = stateDone
	} else {
		b.state = stateRegistered
	}
	b.mu.Unlock()
	if end {
		// End arrived before the reply; finish the job now.
		if err := b.bus.unregister(b.path); err != nil {
			logger.Warn(b.prefix, "⚠️  %v", err)
		}
		b.bus.unexport(b.path)
	}
	return false
}

func (b *broadcast) failed() {
	b.mu.Lock()
	b.state = stateDone
	b.mu.Unlock()
	b.bus.unexport(b.path)
}

func (b *broadcast) release() {
	b.mu.Lock()
	was := b.state
	b.state = stateDone
	b.mu.Unlock()
	if was == stateDone {
		return
	}

	logger.Info(b.prefix, "📡 BlueZ released %s", b.path)
	b.bus.unexport(b.path)
	if was == stateRegistered {
		b.notify(advertiser.StatusReleased, "advertisement released by BlueZ")
	}
}

// End implements advertiser.Broadcast.
func (b *broadcast) End() error {
	b.mu.Lock()
	state := b.state
	switch state {
	case statePending:
		b.endPending = true
	case stateRegistered:
		b.state = stateDone
	}
	b.mu.Unlock()

	if state != stateRegistered {
		return nil
	}
	err := b.bus.unregister(b.path)
	b.bus.unexport(b.path)
	return err
}

func isDBusError(err error, names ...string) bool {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return false
	}
	for _, name := range names {
		if dbusErr.Name == name {
			return true
		}
	}
	return false
}
