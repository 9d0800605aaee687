package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chaz8081/santa-link/internal/ble"
)

func decodeParams(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("bridge: invalid params: %w", err)
	}
	return nil
}

func (s *Server) statePayload() StatePayload {
	p := StatePayload{State: s.link.State().String()}
	if p.State == ble.StateConnected.String() {
		p.Device = s.link.Device().Name
	}
	return p
}

func (s *Server) handleConnect(ctx context.Context, payload json.RawMessage) (any, error) {
	var p ConnectParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, err
	}
	if err := s.link.Connect(ctx, p.AutoReconnect); err != nil {
		return nil, err
	}
	return s.statePayload(), nil
}

func (s *Server) handleDisconnect(_ context.Context, _ json.RawMessage) (any, error) {
	if err := s.link.Disconnect(); err != nil {
		return nil, err
	}
	return s.statePayload(), nil
}

func (s *Server) handleSendText(ctx context.Context, payload json.RawMessage) (any, error) {
	var p SendTextParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, err
	}
	if p.Text == "" {
		return nil, errors.New("bridge: send_text needs text")
	}
	return nil, s.commands.SendText(ctx, p.Text)
}

func (s *Server) handleCallTool(ctx context.Context, payload json.RawMessage) (any, error) {
	var p CallToolParams
	if err := decodeParams(payload, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, errors.New("bridge: call_tool needs name")
	}
	return nil, s.commands.CallTool(ctx, p.Name, p.Arguments)
}

// handleListTools asks the robot for a fresh list when connected and always
// answers with the catalog currently held.
func (s *Server) handleListTools(ctx context.Context, _ json.RawMessage) (any, error) {
	if s.link.State() == ble.StateConnected {
		if err := s.commands.RequestTools(ctx); err != nil {
			s.logger.Warn("bridge: tools refresh failed", "error", err)
		}
	}
	return ToolsPayload{Tools: nonNil(s.registry.All()), Cached: s.registry.Cached()}, nil
}

func (s *Server) handleState(_ context.Context, _ json.RawMessage) (any, error) {
	return s.statePayload(), nil
}
