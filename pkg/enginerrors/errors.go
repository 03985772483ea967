// Package enginerrors defines the engine-wide error taxonomy: a closed set
// of error kinds every component reports through, plus the sentinel errors
// that identify specific failure causes within each kind.
package enginerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the engine's error categories. Kinds describe how a
// caller should react, not which component raised the error.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindHandlerNotFound      Kind = "handler_not_found"
	KindInputResolution      Kind = "input_resolution_error"
	KindTransformation       Kind = "transformation_error"
	KindHandlerFailure       Kind = "handler_failure"
	KindMaxIterationExceeded Kind = "max_iteration_exceeded"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Sentinel causes. Group by the component that raises them.
var (
	// Diagram / boot-time validation
	ErrUnknownNodeType  = errors.New("unknown node type")
	ErrDanglingEdge     = errors.New("edge references unknown node")
	ErrSchemaValidation = errors.New("node config failed schema validation")

	// Handler registry
	ErrHandlerNotFound = errors.New("no handler registered for node type")

	// Input resolution
	ErrMissingRequiredInput = errors.New("missing required input with no default")

	// Transform / coercion
	ErrUnsupportedCoercion = errors.New("content type coercion not permitted in strict mode")
	ErrCoercionFailed      = errors.New("content type coercion failed")

	// Execution control
	ErrCancelled        = errors.New("execution cancelled")
	ErrMaxIterationHit  = errors.New("node reached its maximum iteration count")
	ErrInvariantViolate = errors.New("engine invariant violated")
)

// EngineError wraps a sentinel cause with its taxonomy Kind and optional
// node/edge context, so callers can match on both errors.Is(cause) and
// the Kind.
type EngineError struct {
	Kind   Kind
	Cause  error
	NodeID string
	EdgeID string
}

func (e *EngineError) Error() string {
	switch {
	case e.NodeID != "" && e.EdgeID != "":
		return fmt.Sprintf("%s: node=%s edge=%s: %v", e.Kind, e.NodeID, e.EdgeID, e.Cause)
	case e.NodeID != "":
		return fmt.Sprintf("%s: node=%s: %v", e.Kind, e.NodeID, e.Cause)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
}

func (e *EngineError) Unwrap() error { return e.Cause }

// New builds an EngineError for a node-scoped failure.
func New(kind Kind, nodeID string, cause error) *EngineError {
	return &EngineError{Kind: kind, Cause: cause, NodeID: nodeID}
}

// NewEdge builds an EngineError for an edge-scoped failure.
func NewEdge(kind Kind, nodeID, edgeID string, cause error) *EngineError {
	return &EngineError{Kind: kind, Cause: cause, NodeID: nodeID, EdgeID: edgeID}
}

// IsKind reports whether err is an *EngineError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind == kind
	}
	return false
}
