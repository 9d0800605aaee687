package ble

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	callback func([]byte)
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// Writes returns a copy of everything written so far.
func (c *mockCharacteristic) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// mockConnection simulates a BLE connection.
type mockConnection struct {
	mu           sync.Mutex
	char         *mockCharacteristic
	disconnectCb func()
	disconnected bool
	discoverErr  error
}

func newMockConnection() *mockConnection {
	return &mockConnection{char: &mockCharacteristic{}}
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	if serviceUUID != ServiceUUID || charUUID != CommandCharUUID {
		return nil, fmt.Errorf("mock: unknown characteristic %s/%s", serviceUUID, charUUID)
	}
	return c.char, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *mockConnection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

// SimulateDisconnect marks the link down and triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	c.disconnected = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// SimulateSilentDrop marks the link down without firing the callback.
func (c *mockConnection) SimulateSilentDrop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

// mockAdapter simulates the BLE adapter.
type mockAdapter struct {
	mu          sync.Mutex
	devices     []Device
	services    map[string][]string // advertised service UUIDs by device ID
	connectErr  error
	enableErr   error
	discoverErr error
	scans       int
	connects    []string
	connection  *mockConnection // most recent connection for test assertions

	// connectGate, when set, blocks Connect until it is closed.
	connectGate chan struct{}
	// connectStarted is signalled when Connect begins.
	connectStarted chan struct{}
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{devices: devices}
}

func (a *mockAdapter) Enable() error { return a.enableErr }

func (a *mockAdapter) Scan(_ context.Context, filter ScanFilter) ([]Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scans++
	var out []Device
	for _, d := range a.devices {
		advertised := a.services[d.ID]
		hasService := func(uuid string) bool {
			return slices.ContainsFunc(advertised, func(s string) bool { return strings.EqualFold(s, uuid) })
		}
		if filter.MatchName(d.Name) && filter.MatchService(hasService) {
			out = append(out, d)
		}
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (a *mockAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	a.mu.Lock()
	a.connects = append(a.connects, id)
	gate, started, err, discoverErr := a.connectGate, a.connectStarted, a.connectErr, a.discoverErr
	a.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := newMockConnection()
	conn.discoverErr = discoverErr
	a.mu.Lock()
	a.connection = conn
	a.mu.Unlock()
	return conn, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.connects)
}

func (a *mockAdapter) scanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// recordingListener captures every event a Manager emits.
type recordingListener struct {
	mu      sync.Mutex
	states  []State
	tools   [][]tools.Descriptor
	cached  []bool
	texts   []string
	results []protocol.ToolResult
	notices []Notice
}

func (l *recordingListener) OnConnectionStateChanged(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) OnToolsUpdated(catalog []tools.Descriptor, cached bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tools = append(l.tools, catalog)
	l.cached = append(l.cached, cached)
}

func (l *recordingListener) OnTextResponse(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.texts = append(l.texts, text)
}

func (l *recordingListener) OnToolResult(r protocol.ToolResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, r)
}

func (l *recordingListener) OnNotice(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
}

func (l *recordingListener) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.texts...)
}

func (l *recordingListener) Results() []protocol.ToolResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ToolResult(nil), l.results...)
}

func (l *recordingListener) Notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Notice(nil), l.notices...)
}

func (l *recordingListener) States() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func (l *recordingListener) hasNotice(level NoticeLevel, msg string) bool {
	for _, n := range l.Notices() {
		if n.Level == level && n.Message == msg {
			return true
		}
	}
	return false
}

// countingHalter counts OnDisconnected calls.
type countingHalter struct {
	mu    sync.Mutex
	calls int
}

func (h *countingHalter) OnDisconnected() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
}

func (h *countingHalter) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

var errMockWrite = errors.New("mock: write failed")

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}

func TestRecordingListenerImplementsInterface(t *testing.T) {
	var _ Listener = (*recordingListener)(nil)
	var _ Listener = NopListener{}
}
