// Package dispatch turns user intents into envelopes and hands them to the
// connection manager.
package dispatch

import (
	"context"
	"log/slog"
	"sort"

	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// EnvelopeSender is the part of ble.Manager the dispatcher needs.
type EnvelopeSender interface {
	SendEnvelope(ctx context.Context, env protocol.Envelope) error
}

// Dispatcher builds outbound envelopes and sends them. Argument checks
// against the tool catalog are advisory: problems are logged and the call is
// sent anyway.
type Dispatcher struct {
	sender   EnvelopeSender
	registry *tools.Registry
}

// NewDispatcher creates a Dispatcher. registry may be nil, which disables
// argument checks. Panics if sender is nil (programmer error).
func NewDispatcher(sender EnvelopeSender, registry *tools.Registry) *Dispatcher {
	if sender == nil {
		panic("dispatch: NewDispatcher called with nil sender")
	}
	return &Dispatcher{sender: sender, registry: registry}
}

// BuildTextEnvelope returns {"type":"text","text":text}.
func (d *Dispatcher) BuildTextEnvelope(text string) protocol.Envelope {
	return protocol.NewTextEnvelope(text)
}

// BuildToolCallEnvelope returns a tools/call request. nil args are sent as {}.
func (d *Dispatcher) BuildToolCallEnvelope(name string, args map[string]any) protocol.Envelope {
	return protocol.NewToolCallEnvelope(name, args)
}

// BuildToolListEnvelope returns a tools/list request.
func (d *Dispatcher) BuildToolListEnvelope() protocol.Envelope {
	return protocol.NewToolListEnvelope()
}

// Send hands env to the connection manager. A nil error means the envelope
// was written.
func (d *Dispatcher) Send(ctx context.Context, env protocol.Envelope) error {
	return d.sender.SendEnvelope(ctx, env)
}

// SendText sends a free-text message to the robot.
func (d *Dispatcher) SendText(ctx context.Context, text string) error {
	return d.Send(ctx, d.BuildTextEnvelope(text))
}

// CallTool sends a tools/call request for name. Missing parameters and
// schema violations are logged, never enforced.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	d.checkArguments(name, args)
	slog.Info("[BLE] calling tool", "tool", name, "args", args)
	return d.Send(ctx, d.BuildToolCallEnvelope(name, args))
}

// RequestTools asks the robot for its tool list. The answer arrives later
// through the manager's listeners.
func (d *Dispatcher) RequestTools(ctx context.Context) error {
	slog.Info("[BLE] requesting tool list")
	return d.Send(ctx, d.BuildToolListEnvelope())
}

func (d *Dispatcher) checkArguments(name string, args map[string]any) {
	if d.registry == nil {
		return
	}
	if _, ok := d.registry.Find(name); !ok {
		slog.Warn("[BLE] calling tool not in catalog", "tool", name)
		return
	}

	provided := make([]string, 0, len(args))
	for k := range args {
		provided = append(provided, k)
	}
	sort.Strings(provided)
	if missing := d.registry.MissingParameters(name, provided); len(missing) > 0 {
		slog.Warn("[BLE] tool call missing parameters", "tool", name, "missing", missing)
	}
	if issues := d.registry.ValidateArguments(name, args); len(issues) > 0 {
		slog.Warn("[BLE] tool arguments do not match schema", "tool", name, "issues", issues)
	}
}
