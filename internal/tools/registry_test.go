package tools

import (
	"encoding/json"
	"testing"
)

func santaTools() []Descriptor {
	return []Descriptor{
		{
			Name:        "move_forward",
			Description: "Move Santa forward",
			InputSchema: Schema{Properties: map[string]Property{
				"distance": {Type: TypeNumber, Description: "Distance to move"},
				"speed":    {Type: TypeString, Enum: []any{"slow", "medium", "fast"}},
			}},
		},
		{
			Name: "say_message",
			InputSchema: Schema{Properties: map[string]Property{
				"message": {Type: TypeString},
				"loud":    {Type: TypeBoolean, Default: false},
			}},
		},
	}
}

func TestRegistryUpdateReplaces(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())
	r.Update([]Descriptor{{Name: "wave"}})

	if _, ok := r.Find("move_forward"); ok {
		t.Error("Find(move_forward) should fail after replacing the catalog")
	}
	if _, ok := r.Find("wave"); !ok {
		t.Error("Find(wave) should succeed")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryFindCaseSensitive(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())
	if _, ok := r.Find("Move_Forward"); ok {
		t.Error("Find should be case-sensitive")
	}
	d, ok := r.Find("move_forward")
	if !ok || d.Description != "Move Santa forward" {
		t.Errorf("Find(move_forward) = %+v, %v", d, ok)
	}
}

func TestRegistryAllIsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())
	all := r.All()
	all[0].Name = "mutated"
	if _, ok := r.Find("move_forward"); !ok {
		t.Error("mutating All() result must not affect the registry")
	}
	if got := r.All()[0].Name; got != "move_forward" {
		t.Errorf("All()[0].Name = %q, want move_forward", got)
	}
}

func TestRegistryCachedFlag(t *testing.T) {
	r := NewRegistry(nil)
	r.Restore(santaTools())
	if !r.Cached() {
		t.Error("restored catalog should be cached")
	}
	r.Update(santaTools())
	if r.Cached() {
		t.Error("Update should mark the catalog fresh")
	}
	r.MarkCached()
	if !r.Cached() {
		t.Error("MarkCached should flag the catalog")
	}
	if r.Len() != 2 {
		t.Errorf("MarkCached must keep tools, Len() = %d", r.Len())
	}
}

func TestMissingParameters(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())

	got := r.MissingParameters("move_forward", []string{"speed"})
	if len(got) != 1 || got[0] != "distance" {
		t.Errorf("MissingParameters = %v, want [distance]", got)
	}
	if got := r.MissingParameters("move_forward", []string{"speed", "distance", "extra"}); len(got) != 0 {
		t.Errorf("MissingParameters = %v, want none", got)
	}
	if got := r.MissingParameters("unknown", nil); got != nil {
		t.Errorf("MissingParameters(unknown) = %v, want nil", got)
	}
	got = r.MissingParameters("say_message", nil)
	if len(got) != 2 || got[0] != "loud" || got[1] != "message" {
		t.Errorf("MissingParameters = %v, want [loud message]", got)
	}
}

func TestWithDefaults(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())

	args := map[string]any{"message": "hi"}
	got := r.WithDefaults("say_message", args)
	if got["loud"] != false {
		t.Errorf("loud = %v, want default false", got["loud"])
	}
	if _, ok := args["loud"]; ok {
		t.Error("WithDefaults must not mutate its input")
	}
	got = r.WithDefaults("say_message", map[string]any{"loud": true})
	if got["loud"] != true {
		t.Error("explicit value must win over the default")
	}
}

func TestValidateArguments(t *testing.T) {
	r := NewRegistry(nil)
	r.Update(santaTools())

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		wantIssue bool
	}{
		{"valid", "move_forward", map[string]any{"distance": 10, "speed": "fast"}, false},
		{"missing is not an issue", "move_forward", map[string]any{}, false},
		{"nil args", "move_forward", nil, false},
		{"wrong type", "move_forward", map[string]any{"distance": "far"}, true},
		{"not in enum", "move_forward", map[string]any{"speed": "warp"}, true},
		{"unknown tool", "fly", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := r.ValidateArguments(tt.tool, tt.args)
			if (len(issues) > 0) != tt.wantIssue {
				t.Errorf("ValidateArguments() = %v, wantIssue %v", issues, tt.wantIssue)
			}
		})
	}
}

func TestParamType(t *testing.T) {
	if got := (Property{Type: TypeString, Enum: []any{"a"}}).ParamType(); got != TypeEnum {
		t.Errorf("ParamType() = %q, want enum", got)
	}
	if got := (Property{}).ParamType(); got != TypeString {
		t.Errorf("ParamType() = %q, want string", got)
	}
	if got := (Property{Type: TypeInteger}).ParamType(); got != TypeInteger {
		t.Errorf("ParamType() = %q, want integer", got)
	}
}

func TestParseListResult(t *testing.T) {
	raw := json.RawMessage(`{"tools":[{"name":"move_forward","description":"Move","inputSchema":{"properties":{"distance":{"type":"number"}}}}]}`)
	got, ok, err := ParseListResult(raw)
	if err != nil || !ok {
		t.Fatalf("ParseListResult() = %v, %v", ok, err)
	}
	if len(got) != 1 || got[0].Name != "move_forward" {
		t.Fatalf("tools = %+v", got)
	}
	if got[0].InputSchema.Properties["distance"].Type != TypeNumber {
		t.Errorf("distance type = %q", got[0].InputSchema.Properties["distance"].Type)
	}
}

func TestParseListResultEmptyList(t *testing.T) {
	got, ok, err := ParseListResult(json.RawMessage(`{"tools":[]}`))
	if err != nil || !ok {
		t.Fatalf("ParseListResult() = %v, %v", ok, err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("tools = %#v, want empty non-nil slice", got)
	}
}

func TestParseListResultNotAList(t *testing.T) {
	_, ok, err := ParseListResult(json.RawMessage(`{"content":[{"type":"text","text":"ok"}]}`))
	if err != nil {
		t.Fatalf("ParseListResult() error = %v", err)
	}
	if ok {
		t.Error("ok = true for a result without tools")
	}
}
