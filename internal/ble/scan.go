package ble

import (
	"context"
	"fmt"
	"time"
)

// ScanForDevices enables the adapter and scans for Santa-Bot peripherals for
// up to timeout.
func ScanForDevices(ctx context.Context, adapter Adapter, filter ScanFilter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// SantaFilter matches peripherals by advertised name only. The robot does not
// necessarily advertise its service UUID.
func SantaFilter(opts Options) ScanFilter {
	opts = opts.withDefaults()
	return ScanFilter{Name: opts.DeviceName}
}
