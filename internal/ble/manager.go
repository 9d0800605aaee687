package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/session"
	"github.com/chaz8081/santa-link/internal/tools"
	"github.com/chaz8081/santa-link/internal/tracing"
)

// Errors returned by Manager operations.
var (
	ErrNotConnected     = errors.New("ble: not connected")
	ErrPayloadTooLarge  = errors.New("ble: payload exceeds write limit")
	ErrEncode           = errors.New("ble: cannot encode envelope")
	ErrWriteCircuitOpen = errors.New("ble: writes suspended after repeated failures")
	ErrDeviceNotFound   = errors.New("ble: no matching device found")
	ErrConnectAborted   = errors.New("ble: connect aborted")
	ErrClosed           = errors.New("ble: manager closed")
)

// Options configures a Manager. Zero fields take the DefaultOptions value.
type Options struct {
	DeviceName         string
	ServiceUUID        string
	CharacteristicUUID string

	MaxWriteBytes    int  // per-write limit
	OutboundChunking bool // fragment oversize envelopes instead of refusing them

	ConnectTimeout       time.Duration // bounds scan + connect + discovery
	HealthInterval       time.Duration // link check period; negative disables
	ToolsRequestDelay    time.Duration // delay before tools/list after connecting; negative disables
	AutoReconnectWindow  time.Duration // max age of the last connection for a silent reconnect
	ReconnectPromptDelay time.Duration // delay before offering a reconnect after a drop; negative disables

	NotifyBuffer int // queued notifications awaiting the consumer

	WriteRate       float64 // writes per second; negative means unlimited
	WriteBurst      int
	BreakerFailures uint32 // consecutive write failures that open the breaker
	BreakerTimeout  time.Duration

	Reassembly protocol.ReassemblerOptions
}

// DefaultOptions returns the settings used with a Santa-Bot.
func DefaultOptions() Options {
	return Options{
		DeviceName:           DeviceName,
		ServiceUUID:          ServiceUUID,
		CharacteristicUUID:   CommandCharUUID,
		MaxWriteBytes:        MaxWriteBytes,
		ConnectTimeout:       30 * time.Second,
		HealthInterval:       30 * time.Second,
		ToolsRequestDelay:    time.Second,
		AutoReconnectWindow:  time.Hour,
		ReconnectPromptDelay: 3 * time.Second,
		NotifyBuffer:         64,
		WriteRate:            50,
		WriteBurst:           1,
		BreakerFailures:      3,
		BreakerTimeout:       defaultBreakerTimeout,
		Reassembly:           protocol.DefaultReassemblerOptions(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DeviceName == "" {
		o.DeviceName = d.DeviceName
	}
	if o.ServiceUUID == "" {
		o.ServiceUUID = d.ServiceUUID
	}
	if o.CharacteristicUUID == "" {
		o.CharacteristicUUID = d.CharacteristicUUID
	}
	if o.MaxWriteBytes <= 0 {
		o.MaxWriteBytes = d.MaxWriteBytes
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.HealthInterval == 0 {
		o.HealthInterval = d.HealthInterval
	}
	if o.ToolsRequestDelay == 0 {
		o.ToolsRequestDelay = d.ToolsRequestDelay
	}
	if o.AutoReconnectWindow <= 0 {
		o.AutoReconnectWindow = d.AutoReconnectWindow
	}
	if o.ReconnectPromptDelay == 0 {
		o.ReconnectPromptDelay = d.ReconnectPromptDelay
	}
	if o.NotifyBuffer <= 0 {
		o.NotifyBuffer = d.NotifyBuffer
	}
	if o.WriteRate == 0 {
		o.WriteRate = d.WriteRate
	}
	if o.WriteBurst <= 0 {
		o.WriteBurst = d.WriteBurst
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = d.BreakerFailures
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = d.BreakerTimeout
	}
	if o.Reassembly.MaxPending <= 0 {
		o.Reassembly.MaxPending = d.Reassembly.MaxPending
	}
	if o.Reassembly.TTL == 0 {
		o.Reassembly.TTL = d.Reassembly.TTL
	}
	return o
}

// Option customizes a Manager.
type Option func(*Manager)

// WithListener adds a listener. May be given more than once.
func WithListener(l Listener) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, l) }
}

// WithHalter adds an execution layer to stop on disconnect.
func WithHalter(h Halter) Option {
	return func(m *Manager) { m.halters = append(m.halters, h) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the link to one peripheral. Only one connect sequence runs at
// a time; calls made while connecting or connected are no-ops.
type Manager struct {
	adapter  Adapter
	registry *tools.Registry
	store    *session.Store
	opts     Options
	reasm    *protocol.Reassembler

	lmu       sync.RWMutex
	listeners []Listener
	halters   []Halter
	now       func() time.Time

	mu          sync.Mutex
	state       State
	gen         uint64 // bumped whenever a link is started or torn down
	conn        Connection
	writer      *guardedWriter
	device      Device
	lastConn    *time.Time
	toolsTimer  *time.Timer
	promptTimer *time.Timer
	closed      bool

	notify    chan []byte
	done      chan struct{}
	wg        sync.WaitGroup
	scheduler *cron.Cron
	closeOnce sync.Once
}

// NewManager creates a Manager and starts its notification consumer and
// health check. Call Close to stop them. The tool catalog of a saved session
// is restored into registry as cached.
func NewManager(adapter Adapter, registry *tools.Registry, store *session.Store, opts Options, options ...Option) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		adapter:  adapter,
		registry: registry,
		store:    store,
		opts:     opts,
		reasm:    protocol.NewReassembler(opts.Reassembly),
		now:      time.Now,
		notify:   make(chan []byte, opts.NotifyBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range options {
		o(m)
	}

	if rec, err := store.Load(); err != nil {
		slog.Warn("[BLE] could not load saved session", "error", err)
	} else if rec != nil {
		m.device = Device{Name: rec.DeviceName, ID: rec.DeviceID}
		m.lastConn = rec.LastConnectionTime
		if len(rec.Tools) > 0 {
			registry.Restore(rec.Tools)
			slog.Info("[BLE] restored cached tools", "count", len(rec.Tools))
		}
	}

	m.wg.Add(1)
	go m.consume()

	if opts.HealthInterval > 0 {
		m.scheduler = cron.New()
		spec := fmt.Sprintf("@every %s", opts.HealthInterval)
		if _, err := m.scheduler.AddFunc(spec, m.checkHealth); err != nil {
			slog.Error("[BLE] health check disabled", "spec", spec, "error", err)
		} else {
			m.scheduler.Start()
		}
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the current or most recently connected device.
func (m *Manager) Device() Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// AddListener registers l for events emitted from now on.
func (m *Manager) AddListener(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddHalter registers h to be stopped on every disconnect.
func (m *Manager) AddHalter(h Halter) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.halters = append(m.halters, h)
}

func (m *Manager) eachListener(fn func(Listener)) {
	m.lmu.RLock()
	ls := slices.Clone(m.listeners)
	m.lmu.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

// Registry returns the tool catalog the manager keeps up to date.
func (m *Manager) Registry() *tools.Registry {
	return m.registry
}

// PendingMessages returns the number of partially reassembled inbound messages.
func (m *Manager) PendingMessages() int {
	return m.reasm.Len()
}

type connectRequest struct {
	deviceID string // skip scanning and connect to this device
	auto     bool   // reconnect on behalf of the user
	silent   bool   // do not surface failures as notices
}

// Connect scans for the configured device name, connects, and subscribes to
// the command characteristic. autoReconnect only changes the wording of
// notices. On failure the state returns to Disconnected and the error is
// returned; nothing is retried.
func (m *Manager) Connect(ctx context.Context, autoReconnect bool) error {
	return m.connect(ctx, connectRequest{auto: autoReconnect})
}

// ConnectKnown reconnects to a previously seen device without scanning.
// Failures are logged but not surfaced as notices.
func (m *Manager) ConnectKnown(ctx context.Context, deviceID string) error {
	return m.connect(ctx, connectRequest{deviceID: deviceID, auto: true, silent: true})
}

func (m *Manager) connect(ctx context.Context, req connectRequest) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateDisconnected {
		state := m.state
		m.mu.Unlock()
		slog.Debug("[BLE] connect ignored", "state", state)
		return nil
	}
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	m.mu.Unlock()
	m.emitState(StateConnecting)

	if req.auto {
		slog.Info("[BLE] auto-reconnecting", "device", req.deviceID)
	} else {
		slog.Info("[BLE] requesting device", "name", m.opts.DeviceName)
	}

	ctx, span := tracing.StartSpan(ctx, "ble.connect", trace.WithAttributes(
		tracing.BoolAttr("ble.auto_reconnect", req.auto),
		tracing.BoolAttr("ble.known_device", req.deviceID != "")))
	defer span.End()

	conn, char, dev, err := m.establish(ctx, gen, req)
	if err == nil {
		err = m.commit(gen, conn, char, dev)
	}
	if err != nil {
		tracing.RecordError(span, err)
		m.failConnect(gen, req, err)
		return err
	}
	tracing.SetOK(span)

	m.saveSession()
	if catalog := m.registry.All(); len(catalog) > 0 {
		m.emitTools(catalog, m.registry.Cached())
	}
	msg := "Connected to Santa-Bot successfully!"
	if req.auto {
		msg = "Auto-reconnected to Santa-Bot!"
	}
	m.emitNotice(NoticeSuccess, msg)
	m.scheduleToolsRequest(gen)
	slog.Info("[BLE] connected", "device", dev.Name, "id", dev.ID)
	return nil
}

// establish runs the blocking part of a connect: enable, scan, connect,
// discover and subscribe.
func (m *Manager) establish(ctx context.Context, gen uint64, req connectRequest) (Connection, Characteristic, Device, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	if err := m.adapter.Enable(); err != nil {
		return nil, nil, Device{}, fmt.Errorf("ble: enable adapter: %w", err)
	}

	dev := Device{ID: req.deviceID, Name: m.opts.DeviceName}
	if dev.ID == "" {
		devices, err := m.adapter.Scan(ctx, ScanFilter{Name: m.opts.DeviceName, Limit: 1})
		if err != nil {
			return nil, nil, Device{}, fmt.Errorf("ble: scan: %w", err)
		}
		if len(devices) == 0 {
			return nil, nil, Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, m.opts.DeviceName)
		}
		dev = devices[0]
	}

	slog.Debug("[BLE] connecting to GATT server", "id", dev.ID)
	conn, err := m.adapter.Connect(ctx, dev.ID)
	if err != nil {
		return nil, nil, Device{}, fmt.Errorf("ble: connect to %s: %w", dev.ID, err)
	}

	char, err := conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.CharacteristicUUID)
	if err != nil {
		_ = conn.Disconnect()
		return nil, nil, Device{}, fmt.Errorf("ble: discover command characteristic: %w", err)
	}

	conn.OnDisconnect(func() { m.handleLinkLost(gen, "peripheral disconnected") })
	if err := char.Subscribe(m.enqueue); err != nil {
		_ = conn.Disconnect()
		return nil, nil, Device{}, fmt.Errorf("ble: subscribe to notifications: %w", err)
	}

	return conn, char, dev, nil
}

// commit moves a freshly established link into the Connected state unless
// the attempt was superseded while it was running.
func (m *Manager) commit(gen uint64, conn Connection, char Characteristic, dev Device) error {
	now := m.now()

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Disconnect()
		return ErrConnectAborted
	}
	m.conn = conn
	m.writer = newGuardedWriter(char, m.opts)
	m.device = dev
	m.lastConn = &now
	m.state = StateConnected
	m.mu.Unlock()

	m.emitState(StateConnected)
	return nil
}

func (m *Manager) failConnect(gen uint64, req connectRequest, err error) {
	m.mu.Lock()
	current := m.gen == gen && m.state == StateConnecting
	if current {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if errors.Is(err, ErrConnectAborted) {
		slog.Info("[BLE] connect superseded", "error", err)
		return
	}
	if current {
		m.emitState(StateDisconnected)
	}
	if req.silent {
		slog.Info("[BLE] silent reconnect failed", "error", err)
		return
	}
	slog.Error("[BLE] connection failed", "error", err)
	msg := "Failed to connect to Santa-Bot"
	if req.auto {
		msg = "Auto-reconnect failed"
	}
	m.emitNotice(NoticeError, msg)
}

// Disconnect closes the link if there is one and moves to Disconnected.
// The tool catalog is kept but marked cached, running programs are halted
// and the session is saved.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	conn := m.conn
	prev := m.state
	m.gen++
	m.clearLinkLocked()
	m.state = StateDisconnected
	m.mu.Unlock()

	var err error
	if conn != nil && conn.Connected() {
		if derr := conn.Disconnect(); derr != nil {
			err = fmt.Errorf("ble: disconnect: %w", derr)
		}
	}

	m.teardown(prev)
	slog.Info("[BLE] disconnected from device")
	m.emitNotice(NoticeInfo, "Disconnected from Santa-Bot")
	return err
}

// handleLinkLost runs the unexpected-disconnect path for link generation gen.
// Callbacks from a link that has already been replaced are ignored.
func (m *Manager) handleLinkLost(gen uint64, reason string) {
	m.mu.Lock()
	if m.gen != gen || m.state != StateConnected {
		m.mu.Unlock()
		slog.Debug("[BLE] ignoring stale link loss", "reason", reason)
		return
	}
	m.gen++
	m.clearLinkLocked()
	m.state = StateDisconnected
	m.schedulePromptLocked(m.gen)
	m.mu.Unlock()

	slog.Warn("[BLE] device disconnected unexpectedly", "reason", reason)
	m.teardown(StateConnected)
	m.emitNotice(NoticeWarning, "Santa-Bot disconnected unexpectedly")
}

// schedulePromptLocked offers a reconnect once ReconnectPromptDelay has
// passed, provided the link is still down (caller must hold mu).
func (m *Manager) schedulePromptLocked(gen uint64) {
	if m.opts.ReconnectPromptDelay < 0 {
		return
	}
	m.promptTimer = time.AfterFunc(m.opts.ReconnectPromptDelay, func() {
		m.mu.Lock()
		down := m.gen == gen && m.state == StateDisconnected && !m.closed
		m.mu.Unlock()
		if !down {
			return
		}
		m.emitNotice(NoticeInfo, reconnectAvailable)
	})
}

// teardown runs the shared tail of both disconnect paths.
func (m *Manager) teardown(prev State) {
	if n := m.reasm.Len(); n > 0 {
		slog.Info("[BLE] discarding partial messages", "count", n)
	}
	m.reasm.Reset()
	m.registry.MarkCached()
	if prev != StateDisconnected {
		m.emitState(StateDisconnected)
	}
	if catalog := m.registry.All(); len(catalog) > 0 {
		m.emitTools(catalog, true)
	}
	m.lmu.RLock()
	halters := slices.Clone(m.halters)
	m.lmu.RUnlock()
	for _, h := range halters {
		h.OnDisconnected()
	}
	m.saveSession()
}

// clearLinkLocked drops the current link (caller must hold mu).
func (m *Manager) clearLinkLocked() {
	m.conn = nil
	m.writer = nil
	if m.toolsTimer != nil {
		m.toolsTimer.Stop()
		m.toolsTimer = nil
	}
	if m.promptTimer != nil {
		m.promptTimer.Stop()
		m.promptTimer = nil
	}
}

// checkHealth treats a link that reports itself down as an unexpected
// disconnect. It is a no-op unless the manager believes it is connected.
func (m *Manager) checkHealth() {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()

	if conn.Connected() {
		return
	}
	slog.Warn("[BLE] connection lost detected by health check")
	m.handleLinkLost(gen, "health check")
}

// ResumeOutcome describes what Resume did.
type ResumeOutcome int

const (
	// ResumeNothing: no saved connection.
	ResumeNothing ResumeOutcome = iota
	// ResumeTooOld: the last connection is outside the reconnect window.
	ResumeTooOld
	// ResumeReconnected: a silent reconnect succeeded.
	ResumeReconnected
	// ResumeOffered: a recent connection exists but could not be restored
	// silently; the caller should offer a manual reconnect.
	ResumeOffered
	// ResumeInProgress: another connect was already running.
	ResumeInProgress
)

const reconnectAvailable = "Reconnect to Santa-Bot is available"


func (o ResumeOutcome) String() string {
	switch o {
	case ResumeNothing:
		return "nothing"
	case ResumeTooOld:
		return "too_old"
	case ResumeReconnected:
		return "reconnected"
	case ResumeOffered:
		return "offered"
	case ResumeInProgress:
		return "in_progress"
	default:
		return "unknown"
	}
}

// Resume is called once at start-up. When the saved session shows a
// connection within the reconnect window it tries a silent reconnect to the
// known device, and otherwise reports that a reconnect can be offered.
func (m *Manager) Resume(ctx context.Context) ResumeOutcome {
	m.mu.Lock()
	last, dev := m.lastConn, m.device
	m.mu.Unlock()

	if last == nil {
		slog.Info("[BLE] no previous connection to restore")
		return ResumeNothing
	}
	if m.now().Sub(*last) > m.opts.AutoReconnectWindow {
		slog.Info("[BLE] previous connection too old for auto-reconnect", "last", *last)
		return ResumeTooOld
	}

	if m.State() == StateConnecting {
		slog.Debug("[BLE] connect already in progress, not resuming")
		return ResumeInProgress
	}

	if dev.ID != "" {
		slog.Info("[BLE] previous connection found, trying silent reconnect", "id", dev.ID)
		_ = m.ConnectKnown(ctx, dev.ID)
	}
	switch m.State() {
	case StateConnected:
		return ResumeReconnected
	case StateConnecting:
		return ResumeInProgress
	}
	m.emitNotice(NoticeInfo, reconnectAvailable)
	return ResumeOffered
}

// SendEnvelope encodes env and writes it to the command characteristic.
// Payloads over the write limit are refused without writing anything unless
// outbound chunking is enabled.
func (m *Manager) SendEnvelope(ctx context.Context, env protocol.Envelope) error {
	ctx, span := tracing.StartSpan(ctx, "ble.send", trace.WithAttributes(
		tracing.StringAttr("envelope.type", string(env.Type))))
	defer span.End()

	err := m.send(ctx, env, span)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.SetOK(span)
	return nil
}

func (m *Manager) send(ctx context.Context, env protocol.Envelope, span trace.Span) error {
	m.mu.Lock()
	w := m.writer
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || w == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	span.SetAttributes(tracing.IntAttr("envelope.bytes", len(data)))

	frames := [][]byte{data}
	if len(data) > m.opts.MaxWriteBytes {
		if !m.opts.OutboundChunking {
			slog.Warn("[BLE] message too large, not sent", "bytes", len(data), "limit", m.opts.MaxWriteBytes)
			return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(data), m.opts.MaxWriteBytes)
		}
		frames, err = protocol.Fragment(ulid.Make().String(), string(data), m.opts.MaxWriteBytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		slog.Debug("[BLE] sending chunked message", "bytes", len(data), "chunks", len(frames))
	}

	if err := w.write(ctx, frames...); err != nil {
		return err
	}
	slog.Debug("[BLE] sent", "type", env.Type, "bytes", len(data))
	return nil
}

// requestTools sends a tools/list request.
func (m *Manager) requestTools(ctx context.Context) error {
	return m.SendEnvelope(ctx, protocol.NewToolListEnvelope())
}

func (m *Manager) scheduleToolsRequest(gen uint64) {
	if m.opts.ToolsRequestDelay < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if m.toolsTimer != nil {
		m.toolsTimer.Stop()
	}
	m.toolsTimer = time.AfterFunc(m.opts.ToolsRequestDelay, func() {
		m.mu.Lock()
		current := m.gen == gen && m.state == StateConnected
		m.mu.Unlock()
		if !current {
			return
		}
		if err := m.requestTools(context.Background()); err != nil {
			slog.Warn("[BLE] tools request failed", "error", err)
		}
	})
}

// enqueue is the characteristic callback. It only hands the bytes to the
// consumer goroutine.
func (m *Manager) enqueue(data []byte) {
	buf := append([]byte(nil), data...)
	select {
	case m.notify <- buf:
	case <-m.done:
	}
}

func (m *Manager) consume() {
	defer m.wg.Done()
	for {
		select {
		case data := <-m.notify:
			m.HandleNotification(data)
		case <-m.done:
			return
		}
	}
}

// HandleNotification processes one inbound notification to completion:
// chunk reassembly, decoding and routing to the registry or listeners.
// Malformed input is logged and dropped.
func (m *Manager) HandleNotification(data []byte) {
	slog.Debug("[BLE] raw notification", "bytes", len(data))

	in, err := protocol.DecodeInbound(data)
	if err != nil {
		slog.Debug("[BLE] plain text notification", "text", string(data), "error", err)
		return
	}

	if in.Chunk != nil {
		c := *in.Chunk
		msg, complete, err := m.reasm.Ingest(c)
		if err != nil {
			slog.Warn("[BLE] chunk rejected", "error", err)
			return
		}
		if !complete {
			slog.Debug("[BLE] chunk stored", "id", c.ID, "index", c.Index, "total", c.Total)
			return
		}
		slog.Debug("[BLE] chunked message complete", "id", c.ID, "bytes", len(msg))

		in, err = protocol.DecodeInbound([]byte(msg))
		if err != nil {
			slog.Warn("[BLE] reassembled message is not JSON", "id", c.ID, "error", err)
			return
		}
		if in.Chunk != nil {
			slog.Warn("[BLE] reassembled message is itself a chunk, dropping", "id", c.ID)
			return
		}
	}

	m.route(in)
}

func (m *Manager) route(in *protocol.Inbound) {
	switch in.Type {
	case protocol.TypeMCPResponse:
		if !in.HasPayload() {
			slog.Warn("[BLE] mcp_response has no payload")
			return
		}
		m.handleMCPResponse(in)
	case protocol.TypeResponse:
		if in.Text == "" {
			slog.Debug("[BLE] response without text, ignoring")
			return
		}
		slog.Info("[BLE] text response", "text", in.Text)
		m.eachListener(func(l Listener) { l.OnTextResponse(in.Text) })
	default:
		slog.Debug("[BLE] unhandled message", "type", in.Type)
	}
}

func (m *Manager) handleMCPResponse(in *protocol.Inbound) {
	resp, err := protocol.DecodeMCPResponse(in.Payload)
	if err != nil {
		slog.Warn("[BLE] bad mcp payload", "error", err)
		return
	}

	switch {
	case resp.HasResult():
		catalog, isList, err := tools.ParseListResult(resp.Result)
		if isList {
			if err != nil {
				slog.Warn("[BLE] bad tools list", "error", err)
				return
			}
			slog.Info("[BLE] found available tools", "count", len(catalog))
			m.registry.Update(catalog)
			m.saveSession()
			m.emitTools(m.registry.All(), false)
			return
		}
		result := protocol.ParseToolResult(resp.Result)
		slog.Info("[BLE] tool execution response", "content", result.Content, "is_error", result.IsError)
		m.eachListener(func(l Listener) { l.OnToolResult(result) })
	case resp.Error != nil:
		msg := resp.Error.Message
		if msg == "" {
			msg = "Unknown error"
		}
		slog.Error("[BLE] mcp error", "code", resp.Error.Code, "message", msg)
		m.eachListener(func(l Listener) { l.OnToolResult(protocol.ToolResult{Error: msg}) })
		m.emitNotice(NoticeError, "Tool execution failed: "+msg)
	default:
		slog.Info("[BLE] unknown mcp response format, ignoring", "payload", string(in.Payload))
	}
}

// saveSession writes the whole session record from current state.
func (m *Manager) saveSession() {
	m.mu.Lock()
	rec := session.Record{
		LastConnectionTime: m.lastConn,
		DeviceName:         m.device.Name,
		DeviceID:           m.device.ID,
	}
	m.mu.Unlock()
	rec.Tools = m.registry.All()

	if err := m.store.Save(rec); err != nil {
		slog.Warn("[BLE] failed to save session", "error", err)
	}
}

func (m *Manager) emitState(s State) {
	m.eachListener(func(l Listener) { l.OnConnectionStateChanged(s) })
}

func (m *Manager) emitTools(catalog []tools.Descriptor, cached bool) {
	m.eachListener(func(l Listener) { l.OnToolsUpdated(catalog, cached) })
}

func (m *Manager) emitNotice(level NoticeLevel, msg string) {
	n := Notice{Level: level, Message: msg}
	m.eachListener(func(l Listener) { l.OnNotice(n) })
}

// Close disconnects, stops the health check and the notification consumer.
// The manager cannot be reused.
func (m *Manager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		conn := m.conn
		m.closed = true
		m.gen++
		m.clearLinkLocked()
		m.state = StateDisconnected
		m.mu.Unlock()

		if conn != nil {
			err = conn.Disconnect()
		}
		if m.scheduler != nil {
			<-m.scheduler.Stop().Done()
		}
		close(m.done)
		m.wg.Wait()
	})
	return err
}
