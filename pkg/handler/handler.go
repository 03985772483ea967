// Package handler defines the pluggable handler registry contract
// described in §6: node handlers (LLM adapters, HTTP clients, code
// runners, file ops) are external collaborators; this package specifies
// only the interface they implement and the registry that dispatches to
// them by node type.
package handler

import (
	"context"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

// ExecutionContext is the execution-scoped surface handlers may touch:
// process-wide variables and read access to other nodes' last output.
// Handlers must not reach the scheduler or token manager directly.
type ExecutionContext interface {
	Context() context.Context
	GetVariable(name string) (any, bool)
	SetVariable(name string, value any)
	Variables() map[string]any
	NodeOutput(nodeID string) (diagram.Envelope, bool)
}

// Request is everything a handler's Execute receives for one invocation.
type Request struct {
	Node        diagram.Node
	Context     ExecutionContext
	Inputs      map[string]diagram.Envelope
	Services    any // opaque service container injected by the host
	ExecutionID string
	Metadata    map[string]any
}

// Handler is the minimal contract every node handler implements:
// execute(request, inputs) -> envelope (or raise).
type Handler interface {
	Execute(req Request) (diagram.Envelope, error)
}

// InputResolver is an optional handler extension for custom input
// selection, overriding the engine's default resolver output.
type InputResolver interface {
	ResolveEnvelopeInputs(req Request) (map[string]diagram.Envelope, error)
}

// PreExecutor is an optional handler extension run before Execute; if it
// returns a non-nil envelope, Execute is skipped entirely (used by
// handlers that can short-circuit from cache or special-case inputs).
type PreExecutor interface {
	PreExecute(req Request) (*diagram.Envelope, error)
}

// PostExecutor is an optional handler extension run after Execute to
// adjust the final envelope (e.g. attach extra metadata).
type PostExecutor interface {
	PostExecute(req Request, out diagram.Envelope) diagram.Envelope
}

// Validator is an optional handler extension validating a node's config
// at registry/diagram-validation time.
type Validator interface {
	Validate(node diagram.Node) error
}
