package debug

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/attendease-beacon/logger"
	"github.com/user/attendease-beacon/wire/advertising"
)

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ATTENDEASE_BEACON_DIR", dir)

	d := NewDebugLogger("device-1", false)
	d.LogBroadcastEvent(1, "begin", "ABC123", "")
	if d.Dir() != "" {
		t.Errorf("Disabled logger should have no dir, got %s", d.Dir())
	}
	if _, err := os.Stat(filepath.Join(dir, "device-1")); !os.IsNotExist(err) {
		t.Errorf("Disabled logger created files, stat err=%v", err)
	}
}

func TestLogPDU(t *testing.T) {
	t.Setenv("ATTENDEASE_BEACON_DIR", t.TempDir())
	d := NewDebugLogger("device-1", true)

	data := []byte{0x03, 0x03, 0xF0, 0xFF, 0x05, 0x16, 0xF0, 0xFF, 'A', 'B'}
	d.LogPDU("tx", 7, &advertising.AdvertisingPDU{
		PDUType: advertising.PDUTypeAdvScanInd,
		AdvA:    [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0xC6},
		AdvData: data,
	})

	raw, err := os.ReadFile(filepath.Join(d.Dir(), "advertising_pdus.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var log PDULog
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &log); err != nil {
		t.Fatalf("Invalid JSONL: %v", err)
	}
	if log.PDUType != "ADV_SCAN_IND" || log.AdvA != "C6:05:04:03:02:01" || log.BroadcastID != 7 {
		t.Errorf("Unexpected log %+v", log)
	}
	if log.PayloadLen != len(data) || len(log.Structures) != 2 {
		t.Errorf("Expected 2 structures over %d bytes, got %+v", len(data), log)
	}
	if !strings.HasPrefix(log.RawHex, "0610") {
		t.Errorf("Raw PDU should start with type and length, got %s", log.RawHex)
	}
}

func TestUnwritableDirDisablesAndWarns(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATTENDEASE_BEACON_DIR", blocker)

	var out bytes.Buffer
	logger.SetOutput(&out)
	t.Cleanup(func() { logger.SetOutput(nil) })

	d := NewDebugLogger("device-1", true)
	if d.Dir() != "" {
		t.Errorf("Logger should be disabled when its dir cannot be created, got %s", d.Dir())
	}
	if !strings.Contains(out.String(), "WARN") || !strings.Contains(out.String(), "Packet log disabled") {
		t.Errorf("Expected a warning, got %q", out.String())
	}
	d.LogBroadcastEvent(1, "begin", "ABC123", "")
}
