// Package logging provides structured logging capabilities for the workflow engine.
//
// # Overview
//
// The logging package wraps log/slog with workflow-specific context
// propagation: execution ID, node ID, node type, and arbitrary fields
// chain onto a Logger without mutating the original.
//
// # Features
//
//   - Structured logging: JSON (default) or pretty text output
//   - Log levels: debug, info, warn, error
//   - Context propagation: execution ID, workflow ID, node ID, node type
//   - Performance: minimal overhead for disabled log levels, via slog
//   - Thread-safe: safe for concurrent use
//   - Flexible output: write to any io.Writer
//
// # Basic Usage
//
//	logger := logging.New(logging.DefaultConfig())
//	logger.Info("execution started")
//
//	logger = logger.
//	    WithExecutionID(execID).
//	    WithNodeID(node.ID).
//	    WithNodeType(node.Type)
//	logger.Info("node started")
//
// # Context Integration
//
// A Logger can ride a context.Context so deeper call frames don't need
// it threaded through every signature:
//
//	ctx = logger.WithContext(ctx)
//	// ... later, in a different function ...
//	logging.FromContext(ctx).Info("resolved inputs")
//
// FromContext falls back to a default logger when none was attached.
//
// # Output Formats
//
// JSON (default, Pretty: false):
//
//	{"time":"2024-01-15T10:30:00Z","level":"INFO","msg":"node started","node_id":"n1"}
//
// Text (Pretty: true, for local development):
//
//	time=2024-01-15T10:30:00.000Z level=INFO msg="node started" node_id=n1
//
// # Thread Safety
//
// Logger values are immutable once constructed; each With* method returns
// a new Logger sharing the underlying slog handler, safe to use
// concurrently from multiple goroutines.
package logging
