// Package sim is an in-process radio that behaves like an Android
// BluetoothLeAdvertiser: begin returns at once, the start result arrives
// later from another goroutine, and what is on air is published to
// advertising.json under the device's data dir.
package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/attendease-beacon/advertiser"
	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/util"
	"github.com/user/attendease-beacon/wire/advertising"
	"github.com/user/attendease-beacon/wire/debug"
)

// DefaultMaxAdvertisers matches what most Android controllers expose.
const DefaultMaxAdvertisers = 4

// Radio is a simulated BLE peripheral radio.
type Radio struct {
	deviceID  string
	prefix    string
	address   [advertising.BLEAddressLen]byte
	packetLog bool
	trace     *debug.DebugLogger

	mu             sync.Mutex
	capability     advertiser.Capability
	capabilityErr  error
	beginErr       error
	failStatus     advertiser.Status
	confirmDelay   time.Duration
	maxAdvertisers int
	publish        bool
	nextID         uint64
	live           map[uint64]*liveBroadcast
	begins         int
	last           *advertiser.Payload
}

// Option configures a Radio.
type Option func(*Radio)

// WithPublish controls whether broadcasts are written to advertising.json.
func WithPublish(publish bool) Option {
	return func(r *Radio) { r.publish = publish }
}

// WithConfirmDelay sets how long the radio waits before reporting a start result.
func WithConfirmDelay(d time.Duration) Option {
	return func(r *Radio) { r.confirmDelay = d }
}

// WithMaxAdvertisers caps concurrent broadcasts; beyond it starts fail
// asynchronously with StatusTooManyAdvertisers.
func WithMaxAdvertisers(n int) Option {
	return func(r *Radio) { r.maxAdvertisers = n }
}

// WithPacketLog writes every transmitted PDU and broadcast event as JSONL
// under the device's debug dir.
func WithPacketLog(enabled bool) Option {
	return func(r *Radio) { r.packetLog = enabled }
}

// New creates a powered, peripheral-capable simulated radio.
func New(deviceID string, opts ...Option) *Radio {
	r := &Radio{
		deviceID: deviceID,
		prefix:   logger.Prefix(deviceID, "SimRadio"),
		address:  deviceAddress(deviceID),
		capability: advertiser.Capability{
			AdapterPresent:        true,
			Powered:               true,
			PeripheralSupported:   true,
			MaxAdvertisingDataLen: advertising.MaxAdvertisingDataLen,
		},
		confirmDelay:   10 * time.Millisecond,
		maxAdvertisers: DefaultMaxAdvertisers,
		publish:        true,
		live:           make(map[uint64]*liveBroadcast),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.trace = debug.NewDebugLogger(deviceID, r.packetLog)
	return r
}

// deviceAddress derives a stable static random address from the device ID.
func deviceAddress(deviceID string) [advertising.BLEAddressLen]byte {
	sum := uuid.NewSHA1(uuid.NameSpaceOID, []byte(deviceID))
	var a [advertising.BLEAddressLen]byte
	copy(a[:], sum[:advertising.BLEAddressLen])
	// static random: two most significant bits set
	a[advertising.BLEAddressLen-1] |= 0xC0
	return a
}

// Address is the advertiser address the radio puts in AdvA.
func (r *Radio) Address() [advertising.BLEAddressLen]byte {
	return r.address
}

// liveBroadcast is a broadcast on air and the notifier that started it.
type liveBroadcast struct {
	payload *advertiser.Payload
	notify  advertiser.StartNotifier
}

// SetCapability replaces the capability snapshot the radio reports. Live
// broadcasts are released if the new snapshot cannot advertise.
func (r *Radio) SetCapability(c advertiser.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capability = c
	if !c.CanAdvertise() {
		r.releaseAllLocked("adapter can no longer advertise")
	}
}

// SetCapabilityError makes Capability fail until cleared with nil.
func (r *Radio) SetCapabilityError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilityErr = err
}

// SetPowered toggles the adapter power flag. Powering off releases every
// live broadcast.
func (r *Radio) SetPowered(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capability.Powered = on
	if !on {
		r.releaseAllLocked("adapter powered off")
	}
}

// releaseAllLocked drops every live broadcast and tells its owner. r.mu must be held.
func (r *Radio) releaseAllLocked(reason string) {
	if len(r.live) == 0 {
		return
	}
	for id, lb := range r.live {
		delete(r.live, id)
		logger.Warn(r.prefix, "📴 Broadcast %d released: %s", id, reason)
		r.trace.LogBroadcastEvent(id, "released", lb.payload.Token, reason)
		go lb.notify(advertiser.StatusReleased, reason)
	}
	if err := r.removeRecordLocked(); err != nil {
		logger.Warn(r.prefix, "⚠️  %v", err)
	}
}

// FailNextBegin makes the next Begin fail synchronously with err.
func (r *Radio) FailNextBegin(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginErr = err
}

// FailStarts makes every following start report status asynchronously.
// StatusSuccess restores normal behaviour.
func (r *Radio) FailStarts(status advertiser.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStatus = status
}

// LiveBroadcasts is the number of broadcasts begun and not yet ended.
func (r *Radio) LiveBroadcasts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Begins counts every Begin call that issued a broadcast.
func (r *Radio) Begins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begins
}

// LastPayload is the payload of the most recently issued broadcast.
func (r *Radio) LastPayload() *advertiser.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Capability implements advertiser.Radio.
func (r *Radio) Capability() (advertiser.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capabilityErr != nil {
		return advertiser.Capability{}, r.capabilityErr
	}
	return r.capability, nil
}

// Begin implements advertiser.Radio.
func (r *Radio) Begin(p *advertiser.Payload, notify advertiser.StartNotifier) (advertiser.Broadcast, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.beginErr != nil {
		err := r.beginErr
		r.beginErr = nil
		return nil, err
	}
	if !r.capability.Powered {
		return nil, errors.New("adapter is powered off")
	}

	status := r.failStatus
	limit := r.capability.MaxAdvertisingDataLen
	if limit <= 0 {
		limit = advertising.MaxAdvertisingDataLen
	}
	switch {
	case status != advertiser.StatusSuccess:
	case len(p.AdvData) > limit || len(p.ScanRspData) > limit:
		status = advertiser.StatusDataTooLarge
	case len(r.live) >= r.maxAdvertisers:
		status = advertiser.StatusTooManyAdvertisers
	}

	r.nextID++
	id := r.nextID
	r.begins++
	r.last = p
	b := &broadcast{radio: r, id: id}

	if status == advertiser.StatusSuccess {
		r.live[id] = &liveBroadcast{payload: p, notify: notify}
		if r.publish {
			if err := r.writeRecord(id, p); err != nil {
				delete(r.live, id)
				return nil, err
			}
		}
		logger.Info(r.prefix, "📡 Started Advertising (%s, %d+%d bytes)",
			advertising.PDUTypeName(p.PDUType()), len(p.AdvData), len(p.ScanRspData))
		r.trace.LogPDU("tx", id, &advertising.AdvertisingPDU{PDUType: p.PDUType(), AdvA: r.address, AdvData: p.AdvData})
		if len(p.ScanRspData) > 0 {
			r.trace.LogPDU("tx", id, &advertising.AdvertisingPDU{PDUType: advertising.PDUTypeScanRsp, AdvA: r.address, AdvData: p.ScanRspData})
		}
	}
	r.trace.LogBroadcastEvent(id, "begin", p.Token, "")

	delay := r.confirmDelay
	trace := r.trace
	go func() {
		// Small delay to match real Android async behavior
		time.Sleep(delay)
		trace.LogBroadcastEvent(id, "confirm", p.Token, status.String())
		if status == advertiser.StatusSuccess {
			notify(status, "")
			return
		}
		notify(status, fmt.Sprintf("simulated start failure: %s", status))
	}()

	return b, nil
}

type broadcast struct {
	radio *Radio
	id    uint64
	once  sync.Once
}

// End implements advertiser.Broadcast.
func (b *broadcast) End() error {
	var err error
	b.once.Do(func() {
		err = b.radio.end(b.id)
	})
	return err
}

func (r *Radio) end(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.live[id]; !ok {
		return nil
	}
	delete(r.live, id)
	logger.Info(r.prefix, "📡 Stopped Advertising")
	r.trace.LogBroadcastEvent(id, "end", "", "")

	return r.removeRecordLocked()
}

// removeRecordLocked deletes advertising.json once nothing is live.
func (r *Radio) removeRecordLocked() error {
	if !r.publish || len(r.live) > 0 {
		return nil
	}
	if err := os.Remove(util.GetAdvertisingPath(r.deviceID)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove advertising record")
	}
	return nil
}

func (r *Radio) writeRecord(id uint64, p *advertiser.Payload) error {
	record := p.Describe()
	record.Fields["broadcastId"] = structpb.NewNumberValue(float64(id))
	record.Fields["deviceId"] = structpb.NewStringValue(r.deviceID)
	record.Fields["startedAt"] = structpb.NewStringValue(time.Now().UTC().Format(time.RFC3339Nano))

	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "failed to marshal advertising record")
	}

	path := util.GetAdvertisingPath(r.deviceID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create device directory")
	}
	logger.TraceJSON(r.prefix, "📡 TX Advertising Data", record)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write advertising.json")
	}
	return nil
}

// ReadRecord loads what deviceID's simulated radio is currently broadcasting.
func ReadRecord(deviceID string) (*structpb.Struct, error) {
	data, err := os.ReadFile(util.GetAdvertisingPath(deviceID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read advertising.json")
	}
	record := &structpb.Struct{}
	if err := protojson.Unmarshal(data, record); err != nil {
		return nil, errors.Wrap(err, "failed to parse advertising.json")
	}
	return record, nil
}
