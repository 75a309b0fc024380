package definition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/tensordb/codec"
	"github.com/hupe1980/tensordb/docstore"
)

const (
	definitionsPrefix = "_definitions/"
	creationsPrefix   = "_tensors/"
)

// Registry stores definitions by id and the creation document of every tensor.
type Registry struct {
	docs  docstore.Store
	codec codec.Codec
}

// NewRegistry creates a Registry over docs.
func NewRegistry(docs docstore.Store, c codec.Codec) *Registry {
	if c == nil {
		c = codec.Default
	}

	return &Registry{docs: docs, codec: c}
}

// Add registers d under id, replacing any previous definition.
func (r *Registry) Add(ctx context.Context, id string, d *Definition) error {
	if id == "" {
		return errors.New("definition: empty id")
	}

	if err := d.Validate(); err != nil {
		return err
	}

	return docstore.Save(ctx, r.docs, r.codec, definitionsPrefix+id, d)
}

// Get returns the definition registered under id.
func (r *Registry) Get(ctx context.Context, id string) (*Definition, error) {
	var d Definition
	if err := docstore.Load(ctx, r.docs, r.codec, definitionsPrefix+id, &d); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}

		return nil, err
	}

	return &d, nil
}

// List returns the registered ids.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	keys, err := r.docs.List(ctx, definitionsPrefix)
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, definitionsPrefix)
	}

	return keys, nil
}

// Remove unregisters id.
func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.docs.Delete(ctx, definitionsPrefix+id)
}

// DefinitionRef is either the id of a registered definition or an inline one.
type DefinitionRef struct {
	ID     string
	Inline *Definition
}

// MarshalJSON encodes the id as a string or the inline definition as an object.
func (d DefinitionRef) MarshalJSON() ([]byte, error) {
	if d.Inline != nil {
		return json.Marshal(d.Inline)
	}

	return json.Marshal(d.ID)
}

// UnmarshalJSON decodes an id or an inline definition.
func (d *DefinitionRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*d = DefinitionRef{}
		return json.Unmarshal(b, &d.ID)
	}

	var def Definition
	if err := json.Unmarshal(b, &def); err != nil {
		return err
	}

	*d = DefinitionRef{Inline: &def}

	return nil
}

// Creation is the document written when a tensor is created.
type Creation struct {
	Definition DefinitionRef  `json:"definition"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Create writes the creation document of path.
func (r *Registry) Create(ctx context.Context, path string, ref DefinitionRef, metadata map[string]any) error {
	if ref.Inline != nil {
		if err := ref.Inline.Validate(); err != nil {
			return err
		}
	}

	return docstore.Save(ctx, r.docs, r.codec, creationsPrefix+path, Creation{Definition: ref, Metadata: metadata})
}

// Creation returns the creation document of path.
func (r *Registry) Creation(ctx context.Context, path string) (*Creation, error) {
	var c Creation
	if err := docstore.Load(ctx, r.docs, r.codec, creationsPrefix+path, &c); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: tensor %q was never created", ErrNotFound, path)
		}

		return nil, err
	}

	return &c, nil
}

// Created reports whether path has a creation document.
func (r *Registry) Created(ctx context.Context, path string) (bool, error) {
	return r.docs.Exists(ctx, creationsPrefix+path)
}

// Forget removes the creation document of path.
func (r *Registry) Forget(ctx context.Context, path string) error {
	return r.docs.Delete(ctx, creationsPrefix+path)
}

// Resolve returns the definition of path. A reference id is followed
// exactly one level.
func (r *Registry) Resolve(ctx context.Context, path string) (*Definition, error) {
	c, err := r.Creation(ctx, path)
	if err != nil {
		return nil, err
	}

	if c.Definition.Inline != nil {
		return c.Definition.Inline, nil
	}

	return r.Get(ctx, c.Definition.ID)
}

// ParseYAML decodes a definition written in YAML. The document has the same
// shape as the JSON form.
func ParseYAML(b []byte) (*Definition, error) {
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("definition: yaml: %w", err)
	}

	if v == nil {
		v = map[string]any{}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("definition: yaml: %w", err)
	}

	return Parse(data)
}
