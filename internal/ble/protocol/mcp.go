package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// MCPResponse is the payload of an "mcp_response" envelope.
type MCPResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *MCPError       `json:"error"`
}

// MCPError is a remote failure reported by the peripheral.
type MCPError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// HasResult reports whether the response carried a result member.
func (r *MCPResponse) HasResult() bool {
	return len(r.Result) > 0
}

// DecodeMCPResponse parses the payload of an mcp_response envelope.
func DecodeMCPResponse(payload json.RawMessage) (*MCPResponse, error) {
	var resp MCPResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("protocol: decode mcp payload: %w", err)
	}
	return &resp, nil
}

// ToolResult is the outcome of a tools/call request as surfaced to the UI.
type ToolResult struct {
	Content []string        // text parts of the result content
	IsError bool            // the tool ran but reported failure
	Error   string          // remote error message, if the call itself failed
	Raw     json.RawMessage // the result member as received
}

// ParseToolResult decodes a tools/call result. Results that do not follow the
// MCP CallToolResult shape are still returned with their raw JSON so they can
// be logged.
func ParseToolResult(raw json.RawMessage) ToolResult {
	res := ToolResult{Raw: raw}
	if !present(raw) {
		return res
	}
	parsed, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return res
	}
	res.IsError = parsed.IsError
	for _, c := range parsed.Content {
		switch tc := c.(type) {
		case mcp.TextContent:
			res.Content = append(res.Content, tc.Text)
		case *mcp.TextContent:
			res.Content = append(res.Content, tc.Text)
		}
	}
	return res
}
