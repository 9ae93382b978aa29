package advertising

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var attendanceUUID = uuid.MustParse("0000FFF0-0000-1000-8000-00805F9B34FB")

func TestAdvertisingPDUEncodeDecodeRoundTrip(t *testing.T) {
	originalPDU := &AdvertisingPDU{
		PDUType: PDUTypeAdvNonconnInd,
		AdvA:    [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		AdvData: []byte{0x03, 0x03, 0xF0, 0xFF},
	}

	encoded, err := originalPDU.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// [PDU Type: 1] [Length: 1] [AdvA: 6] [AdvData: 4]
	if len(encoded) != 2+6+4 {
		t.Errorf("Expected encoded length %d, got %d", 12, len(encoded))
	}

	decodedPDU, err := DecodeAdvertisingPDU(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedPDU.PDUType != originalPDU.PDUType {
		t.Errorf("PDU type mismatch: expected 0x%02X, got 0x%02X", originalPDU.PDUType, decodedPDU.PDUType)
	}
	if decodedPDU.AdvA != originalPDU.AdvA {
		t.Errorf("Address mismatch: expected %v, got %v", originalPDU.AdvA, decodedPDU.AdvA)
	}
	if !bytes.Equal(decodedPDU.AdvData, originalPDU.AdvData) {
		t.Errorf("AdvData mismatch: expected %v, got %v", originalPDU.AdvData, decodedPDU.AdvData)
	}
}

func TestAdvertisingPDUExceedsMaxLength(t *testing.T) {
	pdu := &AdvertisingPDU{
		PDUType: PDUTypeAdvNonconnInd,
		AdvData: make([]byte, MaxAdvertisingDataLen+1),
	}

	_, err := pdu.Encode()
	if errors.Cause(err) != ErrDataTooLarge {
		t.Fatalf("Expected ErrDataTooLarge, got %v", err)
	}
}

func TestDecodeAdvertisingPDUTruncated(t *testing.T) {
	if _, err := DecodeAdvertisingPDU([]byte{0x02, 0x0A, 0, 0, 0, 0, 0, 0}); err == nil {
		t.Fatal("Expected error for truncated PDU")
	}
	if _, err := DecodeAdvertisingPDU([]byte{0x02}); err == nil {
		t.Fatal("Expected error for short PDU")
	}
}

func TestADStructuresEncodeDecodeRoundTrip(t *testing.T) {
	structures := []ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode | FlagBREDRNotSupported),
		NewCompleteLocalNameAD("Beacon"),
		NewTxPowerLevelAD(-10),
	}
	structures = append(structures, NewServiceUUIDsAD([]uuid.UUID{attendanceUUID})...)

	encoded, err := EncodeADStructures(structures)
	if err != nil {
		t.Fatalf("EncodeADStructures failed: %v", err)
	}

	decoded, err := DecodeADStructures(encoded)
	if err != nil {
		t.Fatalf("DecodeADStructures failed: %v", err)
	}
	if len(decoded) != len(structures) {
		t.Fatalf("Expected %d structures, got %d", len(structures), len(decoded))
	}
	for i, expected := range structures {
		got := decoded[i]
		if got.Type != expected.Type {
			t.Errorf("Structure %d type mismatch: expected 0x%02X, got 0x%02X", i, expected.Type, got.Type)
		}
		if !bytes.Equal(got.Data, expected.Data) {
			t.Errorf("Structure %d data mismatch: expected %v, got %v", i, expected.Data, got.Data)
		}
	}
}

func TestEncodeADStructuresLimit(t *testing.T) {
	structures := []ADStructure{NewCompleteLocalNameAD("0123456789")} // 12 bytes on air

	if _, err := EncodeADStructuresLimit(structures, 12); err != nil {
		t.Fatalf("Expected 12 bytes to fit a 12 byte ceiling: %v", err)
	}
	_, err := EncodeADStructuresLimit(structures, 11)
	if errors.Cause(err) != ErrDataTooLarge {
		t.Fatalf("Expected ErrDataTooLarge, got %v", err)
	}
}

func TestADStructureSingleTooLong(t *testing.T) {
	structures := []ADStructure{
		{Type: ADTypeManufacturerSpecificData, Data: make([]byte, 255)},
	}

	if _, err := EncodeADStructuresLimit(structures, 1024); err == nil {
		t.Fatalf("Expected error when encoding single structure exceeding 255 bytes, got nil")
	}
}

func TestDecodeADStructuresStopsAtPadding(t *testing.T) {
	data := []byte{0x02, ADTypeFlags, 0x06, 0x00, 0x00, 0x00}

	decoded, err := DecodeADStructures(data)
	if err != nil {
		t.Fatalf("DecodeADStructures failed: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("Expected 1 structure before padding, got %d", len(decoded))
	}
}

func TestDecodeADStructuresOverrun(t *testing.T) {
	if _, err := DecodeADStructures([]byte{0x05, ADTypeCompleteLocalName, 'a'}); err == nil {
		t.Fatal("Expected error for overrunning AD structure")
	}
}

func TestShort16(t *testing.T) {
	v, ok := Short16(attendanceUUID)
	if !ok || v != 0xFFF0 {
		t.Fatalf("Expected 0xFFF0 alias, got 0x%04X ok=%v", v, ok)
	}
	if FromShort16(0xFFF0) != attendanceUUID {
		t.Errorf("FromShort16 did not expand back to %s", attendanceUUID)
	}

	custom := uuid.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	if _, ok := Short16(custom); ok {
		t.Errorf("Expected %s to have no 16-bit alias", custom)
	}
}

func TestNewServiceUUIDsADMixedWidths(t *testing.T) {
	custom := uuid.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	ads := NewServiceUUIDsAD([]uuid.UUID{attendanceUUID, custom})

	if len(ads) != 2 {
		t.Fatalf("Expected one list per width, got %d", len(ads))
	}
	if ads[0].Type != ADTypeComplete16BitServiceUUIDs || !bytes.Equal(ads[0].Data, []byte{0xF0, 0xFF}) {
		t.Errorf("Unexpected 16-bit list: type 0x%02X data %X", ads[0].Type, ads[0].Data)
	}
	if ads[1].Type != ADTypeComplete128BitServiceUUIDs || len(ads[1].Data) != 16 {
		t.Fatalf("Unexpected 128-bit list: type 0x%02X len %d", ads[1].Type, len(ads[1].Data))
	}
	// on-air order is little endian
	if ads[1].Data[0] != 0x9E || ads[1].Data[15] != 0x6E {
		t.Errorf("128-bit UUID not little endian: %X", ads[1].Data)
	}

	got := GetServiceUUIDs(ads)
	if len(got) != 2 || got[0] != attendanceUUID || got[1] != custom {
		t.Errorf("GetServiceUUIDs mismatch: %v", got)
	}
}

func TestServiceDataRoundTrip(t *testing.T) {
	custom := uuid.MustParse("6E400001-B5A3-F393-E0A9-E50E24DCCA9E")
	structures := []ADStructure{
		NewServiceDataAD(ServiceData{UUID: attendanceUUID, Data: []byte("ABC123")}),
		NewServiceDataAD(ServiceData{UUID: custom, Data: []byte{0x01}}),
	}

	if structures[0].Type != ADTypeServiceData16Bit {
		t.Errorf("Expected 16-bit service data, got 0x%02X", structures[0].Type)
	}
	if structures[1].Type != ADTypeServiceData128Bit {
		t.Errorf("Expected 128-bit service data, got 0x%02X", structures[1].Type)
	}

	sd := GetServiceData(structures)
	if len(sd) != 2 {
		t.Fatalf("Expected 2 service data entries, got %d", len(sd))
	}
	if sd[0].UUID != attendanceUUID || string(sd[0].Data) != "ABC123" {
		t.Errorf("Unexpected first entry: %s %q", sd[0].UUID, sd[0].Data)
	}
	if sd[1].UUID != custom || !bytes.Equal(sd[1].Data, []byte{0x01}) {
		t.Errorf("Unexpected second entry: %s %X", sd[1].UUID, sd[1].Data)
	}
}

func TestGetFlagsAndLocalName(t *testing.T) {
	structures := []ADStructure{
		NewFlagsAD(FlagLEGeneralDiscoverableMode),
		NewCompleteLocalNameAD("MyDevice"),
	}

	if name := GetLocalName(structures); name != "MyDevice" {
		t.Errorf("Expected name 'MyDevice', got %q", name)
	}
	if flags, ok := GetFlags(structures); !ok || flags != FlagLEGeneralDiscoverableMode {
		t.Errorf("Expected flags 0x%02X, got 0x%02X (found=%v)", FlagLEGeneralDiscoverableMode, flags, ok)
	}
	if _, ok := GetFlags(structures[1:]); ok {
		t.Errorf("Expected no flags")
	}
	if GetLocalName(structures[:1]) != "" {
		t.Errorf("Expected empty name")
	}
}

func TestTypeNames(t *testing.T) {
	if PDUTypeName(PDUTypeAdvNonconnInd) != "ADV_NONCONN_IND" {
		t.Errorf("Unexpected PDU name %q", PDUTypeName(PDUTypeAdvNonconnInd))
	}
	if ADTypeName(ADTypeServiceData16Bit) != "Service Data (16-bit UUID)" {
		t.Errorf("Unexpected AD name %q", ADTypeName(ADTypeServiceData16Bit))
	}
	if ADTypeName(0x42) != "Unknown(0x42)" {
		t.Errorf("Unexpected AD name %q", ADTypeName(0x42))
	}
}
