package advertising

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PDU Types for BLE advertising packets (Link Layer)
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected advertising
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected advertising
	PDUTypeScanRsp       = 0x04 // Scan response
	PDUTypeAdvScanInd    = 0x06 // Scannable undirected advertising
)

// AD Types (Advertising Data Types) - EIR/AD format
const (
	ADTypeFlags                        = 0x01 // Flags
	ADTypeIncomplete16BitServiceUUIDs  = 0x02 // Incomplete List of 16-bit Service UUIDs
	ADTypeComplete16BitServiceUUIDs    = 0x03 // Complete List of 16-bit Service UUIDs
	ADTypeIncomplete128BitServiceUUIDs = 0x06 // Incomplete List of 128-bit Service UUIDs
	ADTypeComplete128BitServiceUUIDs   = 0x07 // Complete List of 128-bit Service UUIDs
	ADTypeShortenedLocalName           = 0x08 // Shortened Local Name
	ADTypeCompleteLocalName            = 0x09 // Complete Local Name
	ADTypeTxPowerLevel                 = 0x0A // Tx Power Level
	ADTypeServiceData16Bit             = 0x16 // Service Data - 16-bit UUID
	ADTypeServiceData128Bit            = 0x21 // Service Data - 128-bit UUID
	ADTypeManufacturerSpecificData     = 0xFF // Manufacturer Specific Data
)

// Advertising Flags (used in ADTypeFlags)
const (
	FlagLELimitedDiscoverableMode = 0x01
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

const (
	MaxAdvertisingDataLen = 31 // BLE 4.x legacy advertising data limit
	BLEAddressLen         = 6
	FlagsFieldLen         = 3 // length + type + flags byte
)

// ErrDataTooLarge is returned when encoded advertising data does not fit the
// advertising data ceiling.
var ErrDataTooLarge = errors.New("advertising data too large")

// BaseUUID is the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805F9B34FB).
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805F9B34FB")

// AdvertisingPDU represents a legacy BLE advertising packet at the Link Layer
// Format: [PDU Type: 1 byte] [Length: 1 byte] [AdvA: 6 bytes] [AdvData: 0-31 bytes]
type AdvertisingPDU struct {
	PDUType byte
	AdvA    [6]byte
	AdvData []byte
}

// ADStructure represents a single TLV (Type-Length-Value) structure in advertising data
// Format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes]
// Note: Length includes the Type byte but not itself
type ADStructure struct {
	Type byte
	Data []byte
}

// EncodedLen is the number of bytes the structure occupies on air.
func (s ADStructure) EncodedLen() int {
	return 2 + len(s.Data)
}

// ServiceData is a service UUID with its attached payload.
type ServiceData struct {
	UUID uuid.UUID
	Data []byte
}

// Encode serializes the advertising PDU to binary format
func (pdu *AdvertisingPDU) Encode() ([]byte, error) {
	if len(pdu.AdvData) > MaxAdvertisingDataLen {
		return nil, errors.Wrapf(ErrDataTooLarge, "pdu carries %d bytes, max %d", len(pdu.AdvData), MaxAdvertisingDataLen)
	}

	buf := make([]byte, 2+BLEAddressLen+len(pdu.AdvData))
	buf[0] = pdu.PDUType
	buf[1] = byte(BLEAddressLen + len(pdu.AdvData))
	copy(buf[2:8], pdu.AdvA[:])
	copy(buf[8:], pdu.AdvData)

	return buf, nil
}

// DecodeAdvertisingPDU parses a binary advertising PDU
func DecodeAdvertisingPDU(data []byte) (*AdvertisingPDU, error) {
	if len(data) < 2+BLEAddressLen {
		return nil, errors.New("advertising PDU too short (minimum 8 bytes)")
	}

	pdu := &AdvertisingPDU{
		PDUType: data[0],
	}

	payloadLen := int(data[1])
	if payloadLen < BLEAddressLen {
		return nil, errors.New("invalid payload length (must be at least 6 for address)")
	}
	if len(data) < 2+payloadLen {
		return nil, errors.Errorf("advertising PDU truncated: expected %d bytes, got %d", 2+payloadLen, len(data))
	}

	copy(pdu.AdvA[:], data[2:8])
	advDataLen := payloadLen - BLEAddressLen
	if advDataLen > MaxAdvertisingDataLen {
		return nil, errors.Wrapf(ErrDataTooLarge, "pdu carries %d bytes, max %d", advDataLen, MaxAdvertisingDataLen)
	}
	if advDataLen > 0 {
		pdu.AdvData = make([]byte, advDataLen)
		copy(pdu.AdvData, data[8:8+advDataLen])
	}

	return pdu, nil
}

// EncodeADStructures encodes AD structures against the legacy 31 byte ceiling.
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	return EncodeADStructuresLimit(structures, MaxAdvertisingDataLen)
}

// EncodeADStructuresLimit encodes AD structures into a single advertising data
// payload that must not exceed limit bytes.
func EncodeADStructuresLimit(structures []ADStructure, limit int) ([]byte, error) {
	var buf []byte

	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, errors.Errorf("AD structure too long: %d bytes (max 255)", length)
		}

		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}

	if len(buf) > limit {
		return nil, errors.Wrapf(ErrDataTooLarge, "%d bytes encoded, max %d", len(buf), limit)
	}

	return buf, nil
}

// DecodeADStructures parses advertising data into individual AD structures
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0

	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			// Padding
			break
		}

		offset++
		if offset+length > len(data) {
			return nil, errors.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adType := data[offset]
		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		offset += length

		structures = append(structures, ADStructure{
			Type: adType,
			Data: adData,
		})
	}

	return structures, nil
}

// Short16 reports the 16-bit alias of u when u is derived from the Bluetooth base UUID.
func Short16(u uuid.UUID) (uint16, bool) {
	if u[0] != 0 || u[1] != 0 {
		return 0, false
	}
	for i := 4; i < 16; i++ {
		if u[i] != BaseUUID[i] {
			return 0, false
		}
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// FromShort16 expands a 16-bit alias into a full UUID.
func FromShort16(v uint16) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint16(u[2:4], v)
	return u
}

// littleEndian128 reverses a UUID into on-air byte order.
func littleEndian128(u uuid.UUID) []byte {
	b := make([]byte, 16)
	for i := 0; i < 16; i++ {
		b[i] = u[15-i]
	}
	return b
}

func fromLittleEndian128(b []byte) uuid.UUID {
	var u uuid.UUID
	for i := 0; i < 16; i++ {
		u[i] = b[15-i]
	}
	return u
}

// NewFlagsAD creates a flags AD structure
func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

// NewCompleteLocalNameAD creates a complete local name AD structure
func NewCompleteLocalNameAD(name string) ADStructure {
	return ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(name)}
}

// NewTxPowerLevelAD creates a Tx power level AD structure
func NewTxPowerLevelAD(powerLevel int8) ADStructure {
	return ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(powerLevel)}}
}

// NewServiceUUIDsAD builds complete service UUID lists, one per width.
// Base-derived UUIDs use the 16-bit list, everything else the 128-bit list.
func NewServiceUUIDsAD(uuids []uuid.UUID) []ADStructure {
	var short, long []byte
	for _, u := range uuids {
		if v, ok := Short16(u); ok {
			short = binary.LittleEndian.AppendUint16(short, v)
			continue
		}
		long = append(long, littleEndian128(u)...)
	}

	var out []ADStructure
	if len(short) > 0 {
		out = append(out, ADStructure{Type: ADTypeComplete16BitServiceUUIDs, Data: short})
	}
	if len(long) > 0 {
		out = append(out, ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: long})
	}
	return out
}

// NewServiceDataAD creates a service data AD structure, choosing the 16-bit
// form when the UUID allows it.
func NewServiceDataAD(sd ServiceData) ADStructure {
	if v, ok := Short16(sd.UUID); ok {
		payload := make([]byte, 2, 2+len(sd.Data))
		binary.LittleEndian.PutUint16(payload, v)
		return ADStructure{Type: ADTypeServiceData16Bit, Data: append(payload, sd.Data...)}
	}
	payload := append(littleEndian128(sd.UUID), sd.Data...)
	return ADStructure{Type: ADTypeServiceData128Bit, Data: payload}
}

// GetFlags extracts the flags from AD structures
func GetFlags(structures []ADStructure) (byte, bool) {
	for _, s := range structures {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// GetLocalName extracts the local name from AD structures (complete or shortened)
func GetLocalName(structures []ADStructure) string {
	for _, s := range structures {
		if s.Type == ADTypeCompleteLocalName || s.Type == ADTypeShortenedLocalName {
			return string(s.Data)
		}
	}
	return ""
}

// GetServiceUUIDs extracts every 16-bit and 128-bit service UUID, expanded to full UUIDs.
func GetServiceUUIDs(structures []ADStructure) []uuid.UUID {
	var uuids []uuid.UUID
	for _, s := range structures {
		switch s.Type {
		case ADTypeComplete16BitServiceUUIDs, ADTypeIncomplete16BitServiceUUIDs:
			if len(s.Data)%2 != 0 {
				continue
			}
			for i := 0; i < len(s.Data); i += 2 {
				uuids = append(uuids, FromShort16(binary.LittleEndian.Uint16(s.Data[i:i+2])))
			}
		case ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs:
			if len(s.Data)%16 != 0 {
				continue
			}
			for i := 0; i < len(s.Data); i += 16 {
				uuids = append(uuids, fromLittleEndian128(s.Data[i:i+16]))
			}
		}
	}
	return uuids
}

// GetServiceData extracts all service data entries.
func GetServiceData(structures []ADStructure) []ServiceData {
	var out []ServiceData
	for _, s := range structures {
		switch {
		case s.Type == ADTypeServiceData16Bit && len(s.Data) >= 2:
			out = append(out, ServiceData{
				UUID: FromShort16(binary.LittleEndian.Uint16(s.Data[0:2])),
				Data: s.Data[2:],
			})
		case s.Type == ADTypeServiceData128Bit && len(s.Data) >= 16:
			out = append(out, ServiceData{
				UUID: fromLittleEndian128(s.Data[0:16]),
				Data: s.Data[16:],
			})
		}
	}
	return out
}

// PDUTypeName returns a human-readable name for a PDU type
func PDUTypeName(pduType byte) string {
	switch pduType {
	case PDUTypeAdvInd:
		return "ADV_IND"
	case PDUTypeAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case PDUTypeScanRsp:
		return "SCAN_RSP"
	case PDUTypeAdvScanInd:
		return "ADV_SCAN_IND"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", pduType)
	}
}

// ADTypeName returns a human-readable name for an AD type
func ADTypeName(adType byte) string {
	switch adType {
	case ADTypeFlags:
		return "Flags"
	case ADTypeIncomplete16BitServiceUUIDs:
		return "Incomplete 16-bit Service UUIDs"
	case ADTypeComplete16BitServiceUUIDs:
		return "Complete 16-bit Service UUIDs"
	case ADTypeIncomplete128BitServiceUUIDs:
		return "Incomplete 128-bit Service UUIDs"
	case ADTypeComplete128BitServiceUUIDs:
		return "Complete 128-bit Service UUIDs"
	case ADTypeShortenedLocalName:
		return "Shortened Local Name"
	case ADTypeCompleteLocalName:
		return "Complete Local Name"
	case ADTypeTxPowerLevel:
		return "Tx Power Level"
	case ADTypeServiceData16Bit:
		return "Service Data (16-bit UUID)"
	case ADTypeServiceData128Bit:
		return "Service Data (128-bit UUID)"
	case ADTypeManufacturerSpecificData:
		return "Manufacturer Specific Data"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", adType)
	}
}
