package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chaz8081/santa-link/internal/ble"
	"github.com/chaz8081/santa-link/internal/ble/protocol"
	"github.com/chaz8081/santa-link/internal/tools"
)

// consoleListener prints manager events for a person at a terminal.
type consoleListener struct {
	mu  sync.Mutex
	out io.Writer
}

var _ ble.Listener = (*consoleListener)(nil)

func newConsoleListener(out io.Writer) *consoleListener {
	return &consoleListener{out: out}
}

func (c *consoleListener) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *consoleListener) OnConnectionStateChanged(state ble.State) {
	c.printf("[state] %s", state)
}

func (c *consoleListener) OnToolsUpdated(catalog []tools.Descriptor, cached bool) {
	suffix := ""
	if cached {
		suffix = " (cached)"
	}
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	c.printf("[tools] %d available%s: %s", len(catalog), suffix, strings.Join(names, ", "))
}

func (c *consoleListener) OnTextResponse(text string) {
	c.printf("[robot] %s", text)
}

func (c *consoleListener) OnToolResult(r protocol.ToolResult) {
	switch {
	case r.Error != "":
		c.printf("[tool] error: %s", r.Error)
	case r.IsError:
		c.printf("[tool] failed: %s", strings.Join(r.Content, " "))
	case len(r.Content) > 0:
		c.printf("[tool] %s", strings.Join(r.Content, " "))
	default:
		c.printf("[tool] %s", r.Raw)
	}
}

func (c *consoleListener) OnNotice(n ble.Notice) {
	c.printf("[%s] %s", n.Level, n.Message)
}

// describeTool renders one catalog entry with its parameters.
func describeTool(d tools.Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Description != "" {
		b.WriteString(" - " + d.Description)
	}
	for _, name := range d.InputSchema.ParameterNames() {
		p := d.InputSchema.Properties[name]
		fmt.Fprintf(&b, "\n    %s (%s)", name, p.ParamType())
		if len(p.Enum) > 0 {
			fmt.Fprintf(&b, " one of %v", p.Enum)
		}
		if p.HasDefault() {
			fmt.Fprintf(&b, " default %v", p.Default)
		}
		if p.Description != "" {
			b.WriteString(": " + p.Description)
		}
	}
	return b.String()
}
