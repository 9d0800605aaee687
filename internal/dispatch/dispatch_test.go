package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// mockSender records envelopes in their encoded wire form.
type mockSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockSender) SendEnvelope(_ context.Context, env protocol.Envelope) error {
	if m.err != nil {
		return m.err
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, string(data))
	return nil
}

func (m *mockSender) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func catalog() *tools.Registry {
	r := tools.NewRegistry(nil)
	r.Update([]tools.Descriptor{{
		Name: "move_forward",
		InputSchema: tools.Schema{Properties: map[string]tools.Property{
			"distance": {Type: "number"},
		}},
	}})
	return r
}

func TestNewDispatcherPanicsOnNilSender(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewDispatcher(nil) should panic")
		}
	}()
	NewDispatcher(nil, nil)
}

func TestBuildEnvelopes(t *testing.T) {
	d := NewDispatcher(&mockSender{}, nil)

	tests := []struct {
		name string
		env  protocol.Envelope
		want string
	}{
		{"text", d.BuildTextEnvelope("Ho ho ho"), `{"type":"text","text":"Ho ho ho"}`},
		{"list", d.BuildToolListEnvelope(), `{"type":"mcp","payload":{"method":"tools/list","params":{}}}`},
		{
			"call",
			d.BuildToolCallEnvelope("move_forward", map[string]any{"distance": 10}),
			`{"type":"mcp","payload":{"method":"tools/call","params":{"name":"move_forward","arguments":{"distance":10}}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.Encode(tt.env)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSendText(t *testing.T) {
	s := &mockSender{}
	d := NewDispatcher(s, nil)

	if err := d.SendText(context.Background(), "hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if sent := s.Sent(); len(sent) != 1 || sent[0] != `{"type":"text","text":"hello"}` {
		t.Errorf("sent = %v", sent)
	}
}

func TestCallToolNilArgs(t *testing.T) {
	s := &mockSender{}
	d := NewDispatcher(s, catalog())

	if err := d.CallTool(context.Background(), "wave", nil); err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	want := `{"type":"mcp","payload":{"method":"tools/call","params":{"name":"wave","arguments":{}}}}`
	if sent := s.Sent(); len(sent) != 1 || sent[0] != want {
		t.Errorf("sent = %v, want %s", sent, want)
	}
}

func TestCallToolIsAdvisory(t *testing.T) {
	s := &mockSender{}
	d := NewDispatcher(s, catalog())

	// Missing and mistyped arguments are logged, the call still goes out.
	calls := []map[string]any{
		{},
		{"distance": "far"},
		{"distance": 5, "extra": true},
	}
	for _, args := range calls {
		if err := d.CallTool(context.Background(), "move_forward", args); err != nil {
			t.Errorf("CallTool(%v) error = %v", args, err)
		}
	}
	if n := len(s.Sent()); n != len(calls) {
		t.Errorf("sent %d envelopes, want %d", n, len(calls))
	}
}

func TestRequestTools(t *testing.T) {
	s := &mockSender{}
	d := NewDispatcher(s, nil)

	if err := d.RequestTools(context.Background()); err != nil {
		t.Fatalf("RequestTools() error = %v", err)
	}
	if sent := s.Sent(); len(sent) != 1 || sent[0] != `{"type":"mcp","payload":{"method":"tools/list","params":{}}}` {
		t.Errorf("sent = %v", sent)
	}
}

func TestSendPropagatesErrors(t *testing.T) {
	errOffline := errors.New("not connected")
	d := NewDispatcher(&mockSender{err: errOffline}, nil)

	if err := d.RequestTools(context.Background()); !errors.Is(err, errOffline) {
		t.Errorf("RequestTools() error = %v, want %v", err, errOffline)
	}
	if err := d.SendText(context.Background(), "hi"); !errors.Is(err, errOffline) {
		t.Errorf("SendText() error = %v, want %v", err, errOffline)
	}
}
