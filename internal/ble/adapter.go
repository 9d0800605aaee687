// Package ble manages the Bluetooth Low Energy link to a Santa-Bot robot:
// discovery, the connect/disconnect/reconnect state machine, inbound
// notification routing and paced writes to the command characteristic.
package ble

import (
	"context"
	"strings"
)

// Santa-Bot GATT identifiers.
const (
	ServiceUUID     = "0d9be2a0-4757-43d9-83df-704ae274b8df"
	CommandCharUUID = "8116d8c0-d45d-4fdf-998e-33ab8c471d59"
	DeviceName      = "Santa-Bot"
)

// MaxWriteBytes is the largest payload written to the characteristic in one write.
const MaxWriteBytes = 200

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral. ID is the platform address:
// a MAC on Linux, a CoreBluetooth UUID on macOS.
type Device struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	RSSI int    `json:"rssi,omitempty"`
}

// ScanFilter narrows a scan. Empty fields match everything.
type ScanFilter struct {
	Name        string // exact advertised local name
	ServiceUUID string // advertised service
	Limit       int    // stop after this many matches; 0 scans until ctx is done
}

// MatchName reports whether an advertised name passes the filter.
func (f ScanFilter) MatchName(name string) bool {
	return f.Name == "" || name == f.Name
}

// MatchService reports whether an advertised service list passes the filter.
func (f ScanFilter) MatchService(has func(uuid string) bool) bool {
	return f.ServiceUUID == "" || has(strings.ToLower(f.ServiceUUID))
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
	// Connected reports whether the link is still up.
	Connected() bool
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers peripherals matching filter until ctx is done or the
	// filter's limit is reached.
	Scan(ctx context.Context, filter ScanFilter) ([]Device, error)
	// Connect establishes a connection to the device with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}
