package engine

import (
	"context"
	"sync"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
)

// execContext is the handler.ExecutionContext implementation backing every
// handler invocation: a shared, mutex-guarded variables map plus read-only
// access to other nodes' last output via the state tracker.
type execContext struct {
	ctx context.Context
	st  *statetracker.Tracker

	mu   *sync.RWMutex
	vars map[string]any
}

func (c *execContext) Context() context.Context { return c.ctx }

func (c *execContext) GetVariable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

func (c *execContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vars[name] = value
}

func (c *execContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		out[k] = v
	}
	return out
}

func (c *execContext) NodeOutput(nodeID string) (diagram.Envelope, bool) {
	return c.st.GetLastOutput(nodeID)
}
