package bridge

import "encoding/json"

// FrameType identifies the kind of frame sent over the websocket.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the envelope exchanged between the editor and the bridge.
// Events carry their name in Method.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // RPC method or event name
	Payload json.RawMessage `json:"payload,omitempty"` // request params, response result or event body
	Error   string          `json:"error,omitempty"`   // error description (response only)
}

// Event names.
const (
	EventState      = "state"
	EventTools      = "tools"
	EventText       = "text"
	EventToolResult = "tool_result"
	EventNotice     = "notice"
)

// ConnectParams are the params of the connect method.
type ConnectParams struct {
	AutoReconnect bool `json:"auto_reconnect"`
}

// SendTextParams are the params of the send_text method.
type SendTextParams struct {
	Text string `json:"text"`
}

// CallToolParams are the params of the call_tool method.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StatePayload answers the state method and is the body of state events.
type StatePayload struct {
	State  string `json:"state"`
	Device string `json:"device,omitempty"`
}

// ToolsPayload answers list_tools and is the body of tools events.
type ToolsPayload struct {
	Tools  any  `json:"tools"`
	Cached bool `json:"cached"`
}

// TextPayload is the body of text events.
type TextPayload struct {
	Text string `json:"text"`
}

// ToolResultPayload is the body of tool_result events.
type ToolResultPayload struct {
	Content []string        `json:"content,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}
