package util

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("ATTENDEASE_BEACON_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".attendease-beacon")
	}
	return filepath.Join(home, ".attendease-beacon")
}

// GetDeviceCacheDir returns the cache directory for a specific device
func GetDeviceCacheDir(deviceID string) string {
	return filepath.Join(GetDataDir(), deviceID)
}

// GetAdvertisingPath is where a simulated radio publishes what it is broadcasting.
func GetAdvertisingPath(deviceID string) string {
	return filepath.Join(GetDeviceCacheDir(deviceID), "advertising.json")
}

// GetDeviceIDPath is where the local device ID is kept between runs.
func GetDeviceIDPath() string {
	return filepath.Join(GetDataDir(), "device_id")
}

// LoadOrCreateDeviceID returns the persisted device ID, minting and saving
// a new UUID on first use.
func LoadOrCreateDeviceID() (string, error) {
	path := GetDeviceIDPath()
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrap(err, "read device id")
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "create data dir")
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
		return "", errors.Wrap(err, "write device id")
	}
	return id, nil
}
