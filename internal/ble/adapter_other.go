//go:build !darwin

package ble

import (
	"errors"
	"runtime"
)

// NewAdapter reports that no BLE backend is available on this platform.
func NewAdapter() (Adapter, error) {
	return nil, errors.New("ble: no Bluetooth backend for " + runtime.GOOS + "; run on macOS")
}
