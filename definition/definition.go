// Package definition describes how the client treats one tensor: handler
// settings, per-action overrides and pipelines, and step parameters.
//
// The JSON form is a single object. "handler" holds HandlerSettings; every
// action name holds ActionSettings; every other step name holds Params:
//
//	{
//	  "handler": {"chunks": {"index": 512}, "sorted_coords": {"index": true}},
//	  "store": {"data_methods": ["read_from_formula", ["fillna", {"value": 0}]]},
//	  "read_from_formula": {"formula": "`prices` * `weights`"}
//	}
//
// Unknown keys anywhere in the document fail decoding.
package definition

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hupe1980/tensordb/array"
	"github.com/hupe1980/tensordb/chunkstore"
	"github.com/hupe1980/tensordb/internal/reconcile"
	"github.com/hupe1980/tensordb/lock"
)

var (
	// ErrNotFound is returned when a definition id is not registered.
	ErrNotFound = errors.New("definition: not found")
	// ErrUnknownAction is returned for an action name outside the closed set.
	ErrUnknownAction = errors.New("definition: unknown action")
	// ErrUnknownStep is returned for a step name outside the closed set.
	ErrUnknownStep = errors.New("definition: unknown step")
	// ErrUnknownKey is returned for a key no field of a definition accepts.
	ErrUnknownKey = errors.New("definition: unknown key")
)

const handlerKey = "handler"

// StepRef names a pipeline step. Without Params the step takes its
// parameters from the definition; with Params they are used as given.
type StepRef struct {
	Step   Step
	Params *Params
}

// Ref builds a StepRef without explicit parameters.
func Ref(s Step) StepRef { return StepRef{Step: s} }

// RefWith builds a StepRef with explicit parameters.
func RefWith(s Step, p Params) StepRef { return StepRef{Step: s, Params: &p} }

// MarshalJSON encodes a bare name or a [name, params] pair.
func (r StepRef) MarshalJSON() ([]byte, error) {
	if r.Params == nil {
		return json.Marshal(string(r.Step))
	}

	return json.Marshal([]any{string(r.Step), r.Params})
}

// UnmarshalJSON decodes a bare name or a [name, params] pair.
func (r *StepRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}

		step, err := ParseStep(name)
		if err != nil {
			return err
		}

		*r = StepRef{Step: step}

		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("definition: step must be a name or [name, params]: %w", err)
	}

	if len(pair) != 2 {
		return fmt.Errorf("definition: step pair has %d elements, want 2", len(pair))
	}

	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return fmt.Errorf("definition: step name: %w", err)
	}

	step, err := ParseStep(name)
	if err != nil {
		return err
	}

	var p Params
	if err := strictUnmarshal(pair[1], &p); err != nil {
		return fmt.Errorf("definition: params of %s: %w", step, err)
	}

	*r = StepRef{Step: step, Params: &p}

	return nil
}

// ActionSettings customize one action. Override replaces the default action
// entirely; otherwise Pipeline runs before it. Params are pinned: they win
// over the caller's parameters.
type ActionSettings struct {
	Override Step      `json:"customized_method,omitempty"`
	Pipeline []StepRef `json:"data_methods,omitempty"`
	Params
}

// HandlerSettings configure the storage handler of a tensor.
type HandlerSettings struct {
	Chunks                 map[string]int  `json:"chunks,omitempty"`
	UniqueCoords           map[string]bool `json:"unique_coords,omitempty"`
	DefaultUniqueCoord     *bool           `json:"default_unique_coord,omitempty"`
	SortedCoords           map[string]bool `json:"sorted_coords,omitempty"`
	MaxUnsortDimsToRechunk *int            `json:"max_unsort_dims_to_rechunk,omitempty"`
	Synchronizer           *lock.Kind      `json:"synchronizer,omitempty"`
	Compression            string          `json:"compression,omitempty"`
}

// Policy returns the coordinate policy of the settings.
func (h HandlerSettings) Policy() reconcile.Policy {
	p := reconcile.DefaultPolicy()
	p.Unique = maps.Clone(h.UniqueCoords)

	if h.DefaultUniqueCoord != nil {
		p.DefaultUnique = *h.DefaultUniqueCoord
	}

	if h.MaxUnsortDimsToRechunk != nil {
		p.MaxUnsortDimsToRechunk = *h.MaxUnsortDimsToRechunk
	}

	if len(h.SortedCoords) > 0 {
		p.Sorted = make(map[string]array.Order, len(h.SortedCoords))
		for dim, asc := range h.SortedCoords {
			p.Sorted[dim] = array.Descending
			if asc {
				p.Sorted[dim] = array.Ascending
			}
		}
	}

	return p
}

// Validate checks the enumerated settings.
func (h HandlerSettings) Validate() error {
	if h.Synchronizer != nil {
		switch *h.Synchronizer {
		case lock.KindNone, lock.KindThread, lock.KindProcess, lock.KindDistributed:
		default:
			return fmt.Errorf("definition: unknown synchronizer %q", *h.Synchronizer)
		}
	}

	if _, err := chunkstore.ParseCompression(h.Compression); err != nil {
		return err
	}

	return nil
}

// Definition is the configuration of a tensor.
type Definition struct {
	Handler HandlerSettings
	Actions map[Action]ActionSettings
	Steps   map[Step]Params
}

// Settings returns the settings of action.
func (d *Definition) Settings(a Action) ActionSettings {
	if d == nil {
		return ActionSettings{}
	}

	return d.Actions[a]
}

// StepParams returns the parameters a bare pipeline reference to s uses.
// Internal steps share the settings block of their action.
func (d *Definition) StepParams(s Step) Params {
	if d == nil {
		return Params{}
	}

	if a, ok := s.Action(); ok {
		return d.Actions[a].Params
	}

	return d.Steps[s]
}

// Validate checks handler settings and every referenced step.
func (d *Definition) Validate() error {
	if err := d.Handler.Validate(); err != nil {
		return err
	}

	for a, s := range d.Actions {
		if _, err := ParseAction(string(a)); err != nil {
			return err
		}

		if s.Override != "" {
			if _, err := ParseStep(string(s.Override)); err != nil {
				return fmt.Errorf("%s: %w", a, err)
			}
		}

		for _, ref := range s.Pipeline {
			if _, err := ParseStep(string(ref.Step)); err != nil {
				return fmt.Errorf("%s: %w", a, err)
			}
		}
	}

	for s := range d.Steps {
		if s.Internal() {
			return fmt.Errorf("definition: step %q must be configured as an action", s)
		}

		if _, err := ParseStep(string(s)); err != nil {
			return err
		}
	}

	return nil
}

// MarshalJSON encodes the single-object form.
func (d Definition) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1+len(d.Actions)+len(d.Steps))
	out[handlerKey] = d.Handler

	for a, s := range d.Actions {
		out[string(a)] = s
	}

	for s, p := range d.Steps {
		out[string(s)] = p
	}

	return json.Marshal(out)
}

// UnmarshalJSON decodes the single-object form, rejecting unknown keys.
func (d *Definition) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	def := Definition{}

	keys := slices.Sorted(maps.Keys(raw))
	for _, key := range keys {
		value := raw[key]

		if key == handlerKey {
			if err := strictUnmarshal(value, &def.Handler); err != nil {
				return fmt.Errorf("definition: handler: %w", err)
			}

			continue
		}

		if a, err := ParseAction(key); err == nil {
			var s ActionSettings
			if err := strictUnmarshal(value, &s); err != nil {
				return fmt.Errorf("definition: %s: %w", key, err)
			}

			if def.Actions == nil {
				def.Actions = make(map[Action]ActionSettings)
			}

			def.Actions[a] = s

			continue
		}

		s, err := ParseStep(key)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}

		var p Params
		if err := strictUnmarshal(value, &p); err != nil {
			return fmt.Errorf("definition: %s: %w", key, err)
		}

		if def.Steps == nil {
			def.Steps = make(map[Step]Params)
		}

		def.Steps[s] = p
	}

	*d = def

	return d.Validate()
}

// Parse decodes a JSON definition.
func Parse(b []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}

	return &d, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		if isUnknownField(err) {
			return fmt.Errorf("%w: %w", ErrUnknownKey, err)
		}

		return err
	}

	return nil
}

func isUnknownField(err error) bool {
	return strings.Contains(err.Error(), "unknown field")
}
