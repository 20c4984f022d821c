// Package schema is the catalog of result payload formats. A result names a
// schema id; the catalog maps that id to its field descriptors and a
// validator, so the oracle never hard-codes a payload shape.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"github.com/tolelom/gameoracle/core"
)

// ErrUnknownSchema is returned for schema ids the catalog does not know.
var ErrUnknownSchema = fmt.Errorf("schema %w", core.ErrNotFound)

// Kind is the scalar type of a payload field.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindUint   Kind = "uint"
	KindBool   Kind = "bool"
)

// Field describes one top-level payload field.
type Field struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
}

// Schema is a payload format. Payloads are JSON objects whose keys are the
// declared fields. Check, when set, applies rules beyond field typing.
type Schema struct {
	ID     string                               `json:"id"`
	Name   string                               `json:"name"`
	Fields []Field                              `json:"fields"`
	Check  func(fields map[string]string) error `json:"-"`
}

// Catalog resolves schema ids.
type Catalog interface {
	Lookup(id string) (*Schema, error)
	List() []*Schema
}

// Decode validates payload against s and returns every present field in its
// canonical scalar form: strings verbatim, numbers in base 10, bools as
// "true"/"false".
func (s *Schema) Decode(payload []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("schema %s: payload is not a JSON object: %v: %w", s.ID, err, core.ErrInvalidParams)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("schema %s: trailing data after payload: %w", s.ID, core.ErrInvalidParams)
	}

	known := make(map[string]Field, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Name] = f
	}
	out := make(map[string]string, len(raw))
	for name, v := range raw {
		f, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("schema %s: unknown field %q: %w", s.ID, name, core.ErrInvalidParams)
		}
		str, err := canonical(f, v)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.ID, err)
		}
		out[name] = str
	}
	for _, f := range s.Fields {
		if _, ok := out[f.Name]; f.Required && !ok {
			return nil, fmt.Errorf("schema %s: missing field %q: %w", s.ID, f.Name, core.ErrInvalidParams)
		}
	}
	if s.Check != nil {
		if err := s.Check(out); err != nil {
			return nil, fmt.Errorf("schema %s: %v: %w", s.ID, err, core.ErrInvalidParams)
		}
	}
	return out, nil
}

func canonical(f Field, v any) (string, error) {
	bad := fmt.Errorf("field %q must be %s: %w", f.Name, f.Kind, core.ErrInvalidParams)
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return "", bad
		}
		return s, nil
	case KindInt:
		n, ok := v.(json.Number)
		if !ok {
			return "", bad
		}
		i, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil {
			return "", bad
		}
		return strconv.FormatInt(i, 10), nil
	case KindUint:
		n, ok := v.(json.Number)
		if !ok {
			return "", bad
		}
		u, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return "", bad
		}
		return strconv.FormatUint(u, 10), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", bad
		}
		return strconv.FormatBool(b), nil
	default:
		return "", fmt.Errorf("field %q has unsupported kind %q", f.Name, f.Kind)
	}
}

// Registry is an in-memory Catalog.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds s. Ids are immutable once registered.
func (r *Registry) Register(s *Schema) error {
	if s.ID == "" || len(s.Fields) == 0 {
		return errors.New("schema needs an id and at least one field")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.ID]; ok {
		return fmt.Errorf("schema %q %w", s.ID, core.ErrAlreadyExists)
	}
	r.schemas[s.ID] = s
	return nil
}

func (r *Registry) Lookup(id string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownSchema)
	}
	return s, nil
}

func (r *Registry) List() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
