package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDataDirFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ATTENDEASE_BEACON_DIR", dir)

	if got := GetDataDir(); got != dir {
		t.Errorf("Expected %s, got %s", dir, got)
	}
	want := filepath.Join(dir, "dev-1", "advertising.json")
	if got := GetAdvertisingPath("dev-1"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestLoadOrCreateDeviceID(t *testing.T) {
	t.Setenv("ATTENDEASE_BEACON_DIR", filepath.Join(t.TempDir(), "nested"))

	first, err := LoadOrCreateDeviceID()
	if err != nil {
		t.Fatalf("LoadOrCreateDeviceID failed: %v", err)
	}
	if len(first) != 36 {
		t.Errorf("Expected a UUID, got %q", first)
	}
	second, err := LoadOrCreateDeviceID()
	if err != nil {
		t.Fatalf("LoadOrCreateDeviceID failed: %v", err)
	}
	if first != second {
		t.Errorf("Device ID should persist, got %s then %s", first, second)
	}

	if err := os.WriteFile(GetDeviceIDPath(), []byte("  fixed-id \n"), 0644); err != nil {
		t.Fatal(err)
	}
	if id, _ := LoadOrCreateDeviceID(); id != "fixed-id" {
		t.Errorf("Expected stored id to be trimmed, got %q", id)
	}
}
