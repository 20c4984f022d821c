package vm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tolelom/gameoracle/core"
)

// Handler applies one transaction type. Returning an error reverts the
// whole transaction.
type Handler func(ctx *Context, payload json.RawMessage) error

type entry struct {
	h       Handler
	payable bool
}

// Registry maps transaction types to handlers and records which of them
// accept attached value.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]entry)}
}

// Register adds a handler that rejects attached value. A second handler
// for the same type panics.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.add(typ, entry{h: h})
}

// RegisterPayable associates typ with a handler that accepts tx Value.
func (r *Registry) RegisterPayable(typ core.TxType, h Handler) {
	r.add(typ, entry{h: h, payable: true})
}

func (r *Registry) add(typ core.TxType, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: duplicate handler for %q", typ))
	}
	r.handlers[typ] = e
}

func (r *Registry) lookup(typ core.TxType) (entry, error) {
	r.mu.RLock()
	e, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("unknown tx type %q: %w", typ, core.ErrInvalidParams)
	}
	return e, nil
}

// globalRegistry is filled by module init functions.
var globalRegistry = NewRegistry()

// Register adds h to the registry every Executor dispatches from.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// RegisterPayable adds a value-accepting handler to the global registry.
func RegisterPayable(typ core.TxType, h Handler) {
	globalRegistry.RegisterPayable(typ, h)
}

// Decode unmarshals a handler payload, naming the tx type on failure.
func Decode(payload json.RawMessage, v any, name string) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", name, err, core.ErrInvalidParams)
	}
	return nil
}
