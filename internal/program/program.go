// Package program runs short scripted sequences against the robot: say
// something, call a tool, wait, refresh the tool list. It is the execution
// layer the connection manager halts when the link drops.
package program

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Program is a named list of steps, loaded from YAML:
//
//	name: greet
//	steps:
//	  - say: Ho ho ho
//	  - call: {tool: move_forward, args: {distance: 10}}
//	  - wait: 500ms
//	  - reload_tools: true
type Program struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Say         string        `yaml:"say,omitempty"`
	Call        *Call         `yaml:"call,omitempty"`
	Wait        time.Duration `yaml:"wait,omitempty"`
	ReloadTools bool          `yaml:"reload_tools,omitempty"`
}

// Call is a tools/call step.
type Call struct {
	Tool string         `yaml:"tool"`
	Args map[string]any `yaml:"args,omitempty"`
}

// Kind names the action a step performs, or "" if it has none.
func (s Step) Kind() string {
	switch {
	case s.Say != "":
		return "say"
	case s.Call != nil:
		return "call"
	case s.Wait != 0:
		return "wait"
	case s.ReloadTools:
		return "reload_tools"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	if s.Say != "" {
		n++
	}
	if s.Call != nil {
		n++
	}
	if s.Wait != 0 {
		n++
	}
	if s.ReloadTools {
		n++
	}
	return n
}

// Validate checks that every step has exactly one well-formed action.
func (p *Program) Validate() error {
	if len(p.Steps) == 0 {
		return errors.New("program: no steps")
	}
	for i, s := range p.Steps {
		switch n := s.actions(); {
		case n == 0:
			return fmt.Errorf("program: step %d has no action", i+1)
		case n > 1:
			return fmt.Errorf("program: step %d has %d actions, want 1", i+1, n)
		}
		if s.Call != nil && s.Call.Tool == "" {
			return fmt.Errorf("program: step %d: call.tool must not be empty", i+1)
		}
		if s.Wait < 0 {
			return fmt.Errorf("program: step %d: wait must be > 0, got %s", i+1, s.Wait)
		}
	}
	return nil
}

// Parse decodes and validates a YAML program.
func Parse(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("program: parse: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a YAML program from path.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("program: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = path
	}
	return p, nil
}
