// Package protocol implements the JSON envelope protocol spoken over the
// Santa-Bot command characteristic: outbound text and MCP requests, inbound
// responses, and the chunk framing used for messages too large for one
// BLE notification.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// EnvelopeType is the "type" discriminator of a top-level message.
type EnvelopeType string

const (
	TypeText        EnvelopeType = "text"
	TypeMCP         EnvelopeType = "mcp"
	TypeMCPResponse EnvelopeType = "mcp_response"
	TypeResponse    EnvelopeType = "response"
)

// Envelope is an outbound message written to the peripheral.
type Envelope struct {
	Type    EnvelopeType `json:"type"`
	Text    string       `json:"text,omitempty"`
	Payload *MCPRequest  `json:"payload,omitempty"`
}

// MCPRequest is the payload of an "mcp" envelope.
type MCPRequest struct {
	Method mcp.MCPMethod `json:"method"`
	Params any           `json:"params"`
}

// ToolCallParams are the params of a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// NewTextEnvelope builds {"type":"text","text":...}.
func NewTextEnvelope(text string) Envelope {
	return Envelope{Type: TypeText, Text: text}
}

// NewToolListEnvelope builds a tools/list request.
func NewToolListEnvelope() Envelope {
	return Envelope{
		Type: TypeMCP,
		Payload: &MCPRequest{
			Method: mcp.MethodToolsList,
			Params: struct{}{},
		},
	}
}

// NewToolCallEnvelope builds a tools/call request. Nil arguments are sent as {}.
func NewToolCallEnvelope(name string, args map[string]any) Envelope {
	if args == nil {
		args = map[string]any{}
	}
	return Envelope{
		Type: TypeMCP,
		Payload: &MCPRequest{
			Method: mcp.MethodToolsCall,
			Params: ToolCallParams{Name: name, Arguments: args},
		},
	}
}

// Encode serializes an envelope to the UTF-8 bytes written on the wire.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// Inbound is any message received from the peripheral. Exactly one of Chunk
// or Type is expected to be meaningful.
type Inbound struct {
	Type    EnvelopeType    `json:"type"`
	Text    string          `json:"text"`
	Payload json.RawMessage `json:"payload"`
	Chunk   *Chunk          `json:"chunk"`
}

// HasPayload reports whether the message carried a non-null payload.
func (in *Inbound) HasPayload() bool {
	return present(in.Payload)
}

// DecodeInbound parses one notification (or one reassembled message).
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	return &in, nil
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
