package debug

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/util"
	"github.com/user/attendease-beacon/wire/advertising"
)

// DebugLogger writes human-readable JSON logs of advertising PDUs
// These files are WRITE-ONLY and never read by production code
type DebugLogger struct {
	deviceID string
	debugDir string
	enabled  bool
	mu       sync.Mutex
}

// PDULog represents a logged advertising channel PDU
type PDULog struct {
	Timestamp   string       `json:"timestamp"`
	Direction   string       `json:"direction"` // "tx" or "rx"
	BroadcastID uint64       `json:"broadcast_id"`
	PDUType     string       `json:"pdu_type"`
	AdvA        string       `json:"adv_a"`
	PayloadLen  int          `json:"payload_len"`
	Structures  []ADFieldLog `json:"structures,omitempty"`
	RawHex      string       `json:"raw_hex"`
}

// ADFieldLog is one decoded AD structure
type ADFieldLog struct {
	Type    string `json:"type"`
	DataHex string `json:"data_hex"`
}

// BroadcastEventLog represents a lifecycle event of one broadcast
type BroadcastEventLog struct {
	Timestamp   string `json:"timestamp"`
	BroadcastID uint64 `json:"broadcast_id"`
	Event       string `json:"event"` // "begin", "confirm", "end"
	Token       string `json:"token,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// NewDebugLogger creates a new debug logger for a device
func NewDebugLogger(deviceID string, enabled bool) *DebugLogger {
	if !enabled {
		return &DebugLogger{enabled: false}
	}

	debugDir := filepath.Join(util.GetDeviceCacheDir(deviceID), "debug")
	if err := os.MkdirAll(debugDir, 0755); err != nil {
		logger.Warn(logger.Prefix(deviceID, "Debug"), "⚠️  Packet log disabled: %v", err)
		return &DebugLogger{enabled: false}
	}

	return &DebugLogger{
		deviceID: deviceID,
		debugDir: debugDir,
		enabled:  enabled,
	}
}

// Dir is where the JSONL files are written, empty when disabled.
func (d *DebugLogger) Dir() string {
	return d.debugDir
}

// LogPDU logs an advertising PDU to debug/advertising_pdus.jsonl
func (d *DebugLogger) LogPDU(direction string, broadcastID uint64, pdu *advertising.AdvertisingPDU) {
	if !d.enabled {
		return
	}

	raw, err := pdu.Encode()
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	log := PDULog{
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		Direction:   direction,
		BroadcastID: broadcastID,
		PDUType:     advertising.PDUTypeName(pdu.PDUType),
		AdvA:        formatAddress(pdu.AdvA),
		PayloadLen:  len(pdu.AdvData),
		RawHex:      hex.EncodeToString(raw),
	}
	if structures, err := advertising.DecodeADStructures(pdu.AdvData); err == nil {
		for _, s := range structures {
			log.Structures = append(log.Structures, ADFieldLog{
				Type:    advertising.ADTypeName(s.Type),
				DataHex: hex.EncodeToString(s.Data),
			})
		}
	}

	d.appendJSONL("advertising_pdus.jsonl", log)
}

// LogBroadcastEvent logs a broadcast lifecycle event to debug/broadcast_events.jsonl
func (d *DebugLogger) LogBroadcastEvent(broadcastID uint64, event, token, detail string) {
	if !d.enabled {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.appendJSONL("broadcast_events.jsonl", BroadcastEventLog{
		Timestamp:   time.Now().Format(time.RFC3339Nano),
		BroadcastID: broadcastID,
		Event:       event,
		Token:       token,
		Detail:      detail,
	})
}

// appendJSONL appends a JSON line to a file
func (d *DebugLogger) appendJSONL(filename string, data interface{}) {
	path := filepath.Join(d.debugDir, filename)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // Silently fail - debug logging is best-effort
	}
	defer f.Close()

	line, err := json.Marshal(data)
	if err != nil {
		return
	}

	f.Write(line)
	f.Write([]byte("\n"))
}

// formatAddress renders a little-endian AdvA in the usual MSB-first form
func formatAddress(a [advertising.BLEAddressLen]byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])
}
