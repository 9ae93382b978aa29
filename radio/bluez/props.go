package bluez

import (
	"strings"

	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"

	"github.com/user/attendease-beacon/advertiser"
)

// BlueZ error names returned by RegisterAdvertisement.
const (
	errInvalidLength = "org.bluez.Error.InvalidLength"
	errAlreadyExists = "org.bluez.Error.AlreadyExists"
	errNotPermitted  = "org.bluez.Error.NotPermitted"
	errNotSupported  = "org.bluez.Error.NotSupported"
)

// advertisementProperties maps a payload onto the LEAdvertisement1
// properties BlueZ reads when the advertisement is registered.
func advertisementProperties(p *advertiser.Payload) map[string]*prop.Prop {
	kind := "broadcast"
	if p.Settings.Connectable {
		kind = "peripheral"
	}

	serviceData := make(map[string]interface{}, len(p.Data.ServiceData))
	for _, sd := range p.Data.ServiceData {
		serviceData[strings.ToLower(sd.UUID.String())] = sd.Data
	}

	includes := []string{}
	if p.Data.IncludeTxPowerLevel {
		includes = append(includes, "tx-power")
	}
	if p.Data.IncludeDeviceName || p.ScanResponse.IncludeDeviceName {
		includes = append(includes, "local-name")
	}

	interval := uint32(p.Settings.IntervalMillis())
	return map[string]*prop.Prop{
		"Type":                     constProp(kind),
		"ServiceUUIDs":             constProp(uuidStrings(p.Data.ServiceUUIDs)),
		"ServiceData":              constProp(serviceData),
		"ScanResponseServiceUUIDs": constProp(uuidStrings(p.ScanResponse.ServiceUUIDs)),
		"Includes":                 constProp(includes),
		"Timeout":                  constProp(uint16(p.Settings.Timeout / 1000)),
		"MinInterval":              constProp(interval),
		"MaxInterval":              constProp(interval),
		"TxPower":                  constProp(int16(p.Settings.TxPowerDbm())),
	}
}

func constProp(v interface{}) *prop.Prop {
	return &prop.Prop{Value: v, Writable: false, Emit: prop.EmitConst}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strings.ToLower(id.String()))
	}
	return out
}

// statusFromError translates a RegisterAdvertisement failure into the
// advertiser start status.
func statusFromError(err error) advertiser.Status {
	switch {
	case err == nil:
		return advertiser.StatusSuccess
	case isDBusError(err, errInvalidLength):
		return advertiser.StatusDataTooLarge
	case isDBusError(err, errAlreadyExists):
		return advertiser.StatusAlreadyStarted
	case isDBusError(err, errNotPermitted):
		return advertiser.StatusTooManyAdvertisers
	case isDBusError(err, errNotSupported):
		return advertiser.StatusFeatureUnsupported
	default:
		return advertiser.StatusInternalError
	}
}
