// Package config centralizes configuration for the workflow engine.
//
// # Overview
//
// Config is a single plain struct covering the engine's own tunables:
// execution time limits, the default iteration cap, event pipeline
// sizing, scheduling defaults, and transform strictness. It deliberately
// excludes anything specific to a node handler implementation — HTTP
// timeouts, credential stores, security allow-lists — since the core
// engine has no opinion on how a handler does its work.
//
// # Basic Usage
//
//	cfg := config.Default()
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Named Profiles
//
// Default, Development, Production, and Testing each return a ready-to-use
// Config tuned for that setting:
//
//	Default:     5m execution / 30s per-node / 100 iterations
//	Development: 30m execution / 5m per-node, for local debugging
//	Production:  same as Default, with strict coercion enforced
//	Testing:     10s execution / 2s per-node / 10 iterations, fails fast
//
// # Thread Safety
//
// Config is an immutable value once constructed; callers that need to
// derive a variant should call Clone and mutate the copy.
package config
