package ble

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestScanFilterMatchName(t *testing.T) {
	f := ScanFilter{Name: DeviceName}
	if !f.MatchName("Santa-Bot") {
		t.Error("exact name should match")
	}
	if f.MatchName("santa-bot") || f.MatchName("Santa-Bot-2") {
		t.Error("name match must be exact")
	}
	if !(ScanFilter{}).MatchName("anything") {
		t.Error("empty filter should match every name")
	}
}

func TestScanFilterMatchService(t *testing.T) {
	var asked string
	has := func(uuid string) bool {
		asked = uuid
		return uuid == ServiceUUID
	}

	if !(ScanFilter{ServiceUUID: strings.ToUpper(ServiceUUID)}).MatchService(has) {
		t.Error("service lookup should be case-insensitive")
	}
	if asked != ServiceUUID {
		t.Errorf("lookup UUID = %q, want lower-case %q", asked, ServiceUUID)
	}
	if (ScanFilter{ServiceUUID: "0000180f-0000-1000-8000-00805f9b34fb"}).MatchService(has) {
		t.Error("unadvertised service should not match")
	}

	called := false
	never := func(string) bool {
		called = true
		return false
	}
	if !(ScanFilter{}).MatchService(never) {
		t.Error("empty service filter should match")
	}
	if called {
		t.Error("empty service filter should not consult the advertisement")
	}
}

func TestScanForDevicesByService(t *testing.T) {
	adapter := newMockAdapter([]Device{
		{Name: "Santa-Bot", ID: "a"},
		{Name: "Santa-Bot", ID: "b"},
	})
	adapter.services = map[string][]string{"b": {strings.ToUpper(ServiceUUID)}}

	devices, err := ScanForDevices(context.Background(), adapter,
		ScanFilter{Name: DeviceName, ServiceUUID: ServiceUUID}, time.Second)
	if err != nil {
		t.Fatalf("ScanForDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "b" {
		t.Errorf("devices = %v, want only the one advertising the service", devices)
	}
}
