package advertiser

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/attendease-beacon/wire/advertising"
)

// ServiceUUID tags every attendance advertisement.
var ServiceUUID = uuid.MustParse("0000FFF0-0000-1000-8000-00805F9B34FB")

// NamePrefix is prepended to the token to form the broadcast identity.
const NamePrefix = "ATTENDEASE-"

// AdvertiseSettings mirrors the platform advertiser settings
type AdvertiseSettings struct {
	AdvertiseMode int  // AdvertiseModeLowPower, Balanced, LowLatency
	Connectable   bool // false for a beacon
	Timeout       int  // milliseconds, 0 = no timeout
	TxPowerLevel  int  // TxPowerUltraLow .. TxPowerHigh
}

// Advertise modes
const (
	AdvertiseModeLowPower   = 0 // 1000ms interval
	AdvertiseModeBalanced   = 1 // 250ms interval
	AdvertiseModeLowLatency = 2 // 100ms interval
)

// TX power tiers
const (
	TxPowerUltraLow = 0 // -21 dBm
	TxPowerLow      = 1 // -15 dBm
	TxPowerMedium   = 2 // -7 dBm
	TxPowerHigh     = 3 // 1 dBm
)

// IntervalMillis is the nominal advertising interval for the mode.
func (s AdvertiseSettings) IntervalMillis() int {
	switch s.AdvertiseMode {
	case AdvertiseModeLowLatency:
		return 100
	case AdvertiseModeBalanced:
		return 250
	default:
		return 1000
	}
}

// TxPowerDbm converts the TX power tier to dBm
func (s AdvertiseSettings) TxPowerDbm() int {
	switch s.TxPowerLevel {
	case TxPowerUltraLow:
		return -21
	case TxPowerLow:
		return -15
	case TxPowerHigh:
		return 1
	default:
		return -7
	}
}

// AdvertiseData is one PDU's worth of advertised fields.
type AdvertiseData struct {
	ServiceUUIDs        []uuid.UUID
	ServiceData         []advertising.ServiceData
	IncludeTxPowerLevel bool
	IncludeDeviceName   bool
}

// structures lays the fields out as AD structures. Flags are only emitted
// for a connectable primary PDU.
func (d *AdvertiseData) structures(settings AdvertiseSettings, deviceName string, withFlags bool) []advertising.ADStructure {
	var out []advertising.ADStructure
	if withFlags {
		out = append(out, advertising.NewFlagsAD(advertising.FlagLEGeneralDiscoverableMode|advertising.FlagBREDRNotSupported))
	}
	out = append(out, advertising.NewServiceUUIDsAD(d.ServiceUUIDs)...)
	for _, sd := range d.ServiceData {
		out = append(out, advertising.NewServiceDataAD(sd))
	}
	if d.IncludeTxPowerLevel {
		out = append(out, advertising.NewTxPowerLevelAD(int8(settings.TxPowerDbm())))
	}
	if d.IncludeDeviceName && deviceName != "" {
		out = append(out, advertising.NewCompleteLocalNameAD(deviceName))
	}
	return out
}

// Payload is everything handed to a radio for one broadcast.
type Payload struct {
	Token        string
	Name         string
	ServiceUUID  uuid.UUID
	Settings     AdvertiseSettings
	Data         AdvertiseData
	ScanResponse AdvertiseData

	// Filled by Encode.
	AdvData     []byte
	ScanRspData []byte
}

// BuildPayload derives the beacon payload for token.
func BuildPayload(serviceUUID uuid.UUID, token string) *Payload {
	return &Payload{
		Token:       token,
		Name:        NamePrefix + token,
		ServiceUUID: serviceUUID,
		Settings: AdvertiseSettings{
			AdvertiseMode: AdvertiseModeLowLatency,
			Connectable:   false,
			Timeout:       0,
			TxPowerLevel:  TxPowerHigh,
		},
		Data: AdvertiseData{
			ServiceUUIDs: []uuid.UUID{serviceUUID},
			ServiceData: []advertising.ServiceData{
				{UUID: serviceUUID, Data: []byte(token)},
			},
			IncludeTxPowerLevel: false,
			IncludeDeviceName:   false,
		},
		ScanResponse: AdvertiseData{
			ServiceUUIDs:      []uuid.UUID{serviceUUID},
			IncludeDeviceName: false,
		},
	}
}

// Encode renders both PDUs and checks each against limit.
// The returned error wraps advertising.ErrDataTooLarge on overflow.
func (p *Payload) Encode(limit int, deviceName string) error {
	if limit <= 0 {
		limit = advertising.MaxAdvertisingDataLen
	}

	adv, err := advertising.EncodeADStructuresLimit(p.Data.structures(p.Settings, deviceName, p.Settings.Connectable), limit)
	if err != nil {
		return errors.Wrap(err, "advertise data")
	}
	rsp, err := advertising.EncodeADStructuresLimit(p.ScanResponse.structures(p.Settings, deviceName, false), limit)
	if err != nil {
		return errors.Wrap(err, "scan response")
	}

	p.AdvData = adv
	p.ScanRspData = rsp
	return nil
}

// PDUType is the link layer PDU type the settings call for.
func (p *Payload) PDUType() byte {
	if p.Settings.Connectable {
		return advertising.PDUTypeAdvInd
	}
	if len(p.ScanRspData) > 0 {
		return advertising.PDUTypeAdvScanInd
	}
	return advertising.PDUTypeAdvNonconnInd
}

// Describe renders the payload for logs and for the simulated radio's
// on-disk broadcast record.
func (p *Payload) Describe() *structpb.Struct {
	s, err := structpb.NewStruct(map[string]interface{}{
		"token":        p.Token,
		"name":         p.Name,
		"serviceUuid":  p.ServiceUUID.String(),
		"intervalMs":   p.Settings.IntervalMillis(),
		"txPowerDbm":   p.Settings.TxPowerDbm(),
		"connectable":  p.Settings.Connectable,
		"timeoutMs":    p.Settings.Timeout,
		"pduType":      advertising.PDUTypeName(p.PDUType()),
		"advData":      hex.EncodeToString(p.AdvData),
		"scanResponse": hex.EncodeToString(p.ScanRspData),
	})
	if err != nil {
		// every value above is JSON-representable
		return &structpb.Struct{}
	}
	return s
}
