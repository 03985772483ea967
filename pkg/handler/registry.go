package handler

import (
	"fmt"
	"sync"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/enginerrors"
)

// Registry is the process-global, read-only-after-startup mapping from
// node type to handler. Thread-safe registration and lookup.
type Registry struct {
	handlers map[diagram.NodeType]Handler
	schemas  map[diagram.NodeType]string
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[diagram.NodeType]Handler),
		schemas:  make(map[diagram.NodeType]string),
	}
}

// RegisterSchema attaches a JSON Schema (as a raw JSON document) that a
// node type's Config blob must satisfy. Optional per type; node types
// with no registered schema are not validated by pkg/validate.
func (r *Registry) RegisterSchema(nodeType diagram.NodeType, schemaJSON string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[nodeType] = schemaJSON
}

// Schema returns the JSON Schema registered for a node type, if any.
func (r *Registry) Schema(nodeType diagram.NodeType) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[nodeType]
	return s, ok
}

// Register adds a handler for a node type. Returns an error if a handler
// for that type is already registered.
func (r *Registry) Register(nodeType diagram.NodeType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[nodeType]; exists {
		return fmt.Errorf("handler already registered for type: %s", nodeType)
	}
	r.handlers[nodeType] = h
	return nil
}

// MustRegister registers a handler and panics on error. Intended for
// registry construction at startup.
func (r *Registry) MustRegister(nodeType diagram.NodeType, h Handler) {
	if err := r.Register(nodeType, h); err != nil {
		panic(err)
	}
}

// CreateHandler looks up the handler for a node type. An unknown type
// surfaces as a handler_not_found EngineError.
func (r *Registry) CreateHandler(nodeType diagram.NodeType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[nodeType]
	if !ok {
		return nil, &enginerrors.EngineError{
			Kind:  enginerrors.KindHandlerNotFound,
			Cause: fmt.Errorf("%w: %s", enginerrors.ErrHandlerNotFound, nodeType),
		}
	}
	return h, nil
}

// ListRegisteredTypes returns every node type with a registered handler.
func (r *Registry) ListRegisteredTypes() []diagram.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]diagram.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
