// Package engine ties the scheduler, state tracker, token manager,
// resolver, handler registry, and event pipeline together into one
// runnable diagram execution.
//
// Build an Engine with New, optionally subscribe to its Events pipeline,
// then call Run with any initial variables. Run blocks until no node is
// ready, every endpoint node has reached a terminal state, or the
// supplied context is cancelled, and returns a Result describing how the
// execution ended.
//
//	eng := engine.New(dia, registry, engine.WithConfig(config.Production()))
//	unsubscribe := telemetry.NewSubscriber(provider).Attach(eng.Events())
//	defer unsubscribe()
//	result := eng.Run(ctx, map[string]any{"input": "hello"})
//
// One Engine runs exactly one execution; construct a fresh Engine (and a
// fresh state tracker/token manager, which New does for you) per run.
package engine
