package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

// Registry holds the current tool catalog. The catalog is replaced wholesale
// on every update; it is never merged. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  []Descriptor
	byName map[string]int
	cached bool
	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]int),
		logger: logger,
	}
}

// Update replaces the entire catalog and marks it fresh.
func (r *Registry) Update(tools []Descriptor) {
	r.replace(tools, false)
}

// Restore replaces the catalog with tools loaded from a saved session.
// They are flagged as cached until the peripheral confirms them.
func (r *Registry) Restore(tools []Descriptor) {
	r.replace(tools, true)
}

func (r *Registry) replace(tools []Descriptor, cached bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools = slices.Clone(tools)
	r.byName = make(map[string]int, len(tools))
	for i, t := range r.tools {
		if _, dup := r.byName[t.Name]; dup {
			r.logger.Warn("duplicate tool name in catalog, keeping first", "tool", t.Name)
			continue
		}
		r.byName[t.Name] = i
	}
	r.cached = cached
}

// Find returns the tool with exactly the given name.
func (r *Registry) Find(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.tools[i], true
}

// All returns a copy of the catalog in the order the peripheral sent it.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tools)
}

// Len returns the number of tools in the catalog.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// MarkCached flags the catalog as stale, e.g. after the link dropped.
func (r *Registry) MarkCached() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = true
}

// Cached reports whether the catalog came from an earlier session rather
// than from the currently connected peripheral.
func (r *Registry) Cached() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cached
}

// MissingParameters returns the declared parameter names of tool that are not
// in provided, sorted by name. An unknown tool yields nil.
func (r *Registry) MissingParameters(tool string, provided []string) []string {
	d, ok := r.Find(tool)
	if !ok {
		return nil
	}
	have := make(map[string]bool, len(provided))
	for _, p := range provided {
		have[p] = true
	}
	var missing []string
	for _, name := range d.InputSchema.ParameterNames() {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// WithDefaults returns a copy of args with declared defaults filled in for
// parameters the caller did not supply.
func (r *Registry) WithDefaults(tool string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	d, ok := r.Find(tool)
	if !ok {
		return out
	}
	for name, p := range d.InputSchema.Properties {
		if _, set := out[name]; !set && p.HasDefault() {
			out[name] = p.Default
		}
	}
	return out
}

// ValidateArguments checks args against the tool's input schema and returns
// human-readable issues. The result is advisory: the peripheral is the
// authority on what it accepts. Missing parameters are reported by
// MissingParameters, not here.
func (r *Registry) ValidateArguments(tool string, args map[string]any) []string {
	d, ok := r.Find(tool)
	if !ok {
		return []string{fmt.Sprintf("unknown tool %q", tool)}
	}
	if len(d.InputSchema.Properties) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(d.InputSchema.validationSchema())
	if err != nil {
		return []string{fmt.Sprintf("encode schema: %v", err)}
	}
	compiled, err := jsonschema.NewCompiler().Compile(schemaBytes)
	if err != nil {
		r.logger.Debug("tool schema does not compile, skipping validation", "tool", tool, "error", err)
		return nil
	}

	// Round-trip through JSON so numeric types match what goes on the wire.
	var doc any
	raw, err := json.Marshal(args)
	if err != nil {
		return []string{fmt.Sprintf("encode arguments: %v", err)}
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []string{fmt.Sprintf("decode arguments: %v", err)}
	}
	if doc == nil {
		doc = map[string]any{}
	}

	result := compiled.Validate(doc)
	if result.IsValid() {
		return nil
	}
	return []string{fmt.Sprintf("%s", result.Error())}
}

// ParameterNames returns the declared parameter names in sorted order.
func (s Schema) ParameterNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validationSchema renders the schema as standard JSON Schema. The editor's
// pseudo type "enum" is expressed through the enum keyword alone.
func (s Schema) validationSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		prop := map[string]any{}
		if p.Type != "" && p.Type != TypeEnum {
			prop["type"] = p.Type
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}
