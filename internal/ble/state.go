package ble

import (
	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// State is the connection state owned by Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// NoticeLevel grades a user-facing notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a message meant for the person operating the robot, as opposed
// to developer logs.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Listener receives events from a Manager. Callbacks run on the manager's
// goroutines and must not block for long.
type Listener interface {
	OnConnectionStateChanged(state State)
	OnToolsUpdated(catalog []tools.Descriptor, cached bool)
	OnTextResponse(text string)
	OnToolResult(result protocol.ToolResult)
	OnNotice(n Notice)
}

// NopListener implements Listener with no-ops. Embed it to handle only
// some events.
type NopListener struct{}

func (NopListener) OnConnectionStateChanged(State)          {}
func (NopListener) OnToolsUpdated([]tools.Descriptor, bool) {}
func (NopListener) OnTextResponse(string)                   {}
func (NopListener) OnToolResult(protocol.ToolResult)        {}
func (NopListener) OnNotice(Notice)                         {}

// Halter is the execution layer: it stops any running program when the
// link goes away.
type Halter interface {
	OnDisconnected()
}

// HalterFunc adapts a function to Halter.
type HalterFunc func()

func (f HalterFunc) OnDisconnected() { f() }
