// Package engine implements the execution engine main loop described in
// §4.8: it drives the scheduler's ready-node batches to completion, wires
// input resolution, handler dispatch, token emission, and the event
// pipeline together, and decides when a loop-forming token starts a fresh
// epoch.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowcraft-run/diagrunner/pkg/config"
	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/enginerrors"
	"github.com/flowcraft-run/diagrunner/pkg/events"
	"github.com/flowcraft-run/diagrunner/pkg/expression"
	"github.com/flowcraft-run/diagrunner/pkg/handler"
	"github.com/flowcraft-run/diagrunner/pkg/logging"
	"github.com/flowcraft-run/diagrunner/pkg/resolver"
	"github.com/flowcraft-run/diagrunner/pkg/scheduler"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
	"github.com/flowcraft-run/diagrunner/pkg/tokenmanager"
	"github.com/flowcraft-run/diagrunner/pkg/transform"
	"github.com/flowcraft-run/diagrunner/pkg/validate"
)

// Status is the terminal outcome of one Run call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Result is what Run returns once an execution reaches a terminal state.
type Result struct {
	ExecutionID string
	Status      Status
	Err         error
	NodeOutputs map[string]diagram.Envelope
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithConfig overrides the default configuration and sets the transform
// engine's coercion mode from cfg.StrictCoercion; a WithTransformMode
// option placed after it overrides that mode.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
		if cfg.StrictCoercion {
			e.xf.Mode = transform.Strict
		} else {
			e.xf.Mode = transform.Loose
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithEventPipeline supplies an externally constructed pipeline (so a
// caller can subscribe before Run starts emitting).
func WithEventPipeline(p *events.Pipeline) Option {
	return func(e *Engine) { e.events = p }
}

// WithTransformMode overrides the transform engine's coercion strictness.
func WithTransformMode(mode transform.Mode) Option {
	return func(e *Engine) { e.xf.Mode = mode }
}

// Engine composes the scheduler, state tracker, token manager, resolver,
// handler registry, and event pipeline into the §4.8 main loop. One
// Engine runs exactly one diagram execution; build a fresh Engine per
// run.
type Engine struct {
	dia      *diagram.Diagram
	registry *handler.Registry
	cfg      *config.Config
	logger   *logging.Logger
	events   *events.Pipeline

	st    *statetracker.Tracker
	tm    *tokenmanager.Manager
	sched *scheduler.Scheduler
	res   *resolver.Resolver
	xf    *transform.Engine

	epochMu sync.Mutex

	varsMu sync.RWMutex
	vars   map[string]any
}

// New builds an Engine over a diagram and a handler registry. Options
// override the default config, logger, event pipeline, and transform
// mode.
func New(dia *diagram.Diagram, registry *handler.Registry, opts ...Option) *Engine {
	cfg := config.Default()

	xf := transform.New(transform.Strict)
	xf.Eval = expression.EvalTemplate

	st := statetracker.New()
	tm := tokenmanager.New(dia)
	sched := scheduler.New(dia, tm, st)

	e := &Engine{
		dia:      dia,
		registry: registry,
		cfg:      cfg,
		logger:   logging.New(logging.DefaultConfig()),
		st:       st,
		tm:       tm,
		sched:    sched,
		res:      resolver.New(dia, st, xf),
		xf:       xf,
		vars:     make(map[string]any),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.events == nil {
		e.events = events.New(e.cfg.EventQueueDepth, e.logger.GetSlogLogger())
	}

	for _, n := range dia.Nodes {
		st.InitializeNode(n.ID)
	}

	return e
}

// Validate runs the boot-time node-config schema check (pkg/validate)
// against the diagram this Engine was built over. Callers should invoke
// it once before the first Run; Run itself does not call it, so a caller
// that has already validated elsewhere (or that intentionally runs
// unvalidated diagrams in a test) can skip the cost.
func (e *Engine) Validate() error {
	return validate.Diagram(e.dia, e.registry)
}

// newExecutionID mints a fresh execution id, falling back to a
// timestamp-based id on the vanishingly rare chance uuid generation
// fails.
func newExecutionID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("exec_%d", time.Now().UnixNano())
	}
	return id.String()
}

// Run drives the diagram to completion: execution_started, zero or more
// node events, then exactly one of execution_completed / execution_error.
// Run blocks until the execution reaches a terminal state or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, initialVariables map[string]any) *Result {
	executionID := newExecutionID()
	start := time.Now()

	e.varsMu.Lock()
	for k, v := range initialVariables {
		e.vars[k] = v
	}
	e.varsMu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.MaxExecutionTime)
	defer cancel()

	e.events.Publish(events.Event{
		Type: events.TypeExecutionStarted, Timestamp: start, ExecutionID: executionID,
	})

	result := e.runLoop(runCtx, executionID)

	if result.Status == StatusCompleted {
		e.events.Publish(events.Event{
			Type: events.TypeExecutionCompleted, Timestamp: time.Now(), ExecutionID: executionID,
			Duration: time.Since(start),
		})
	} else {
		e.events.Publish(events.Event{
			Type: events.TypeExecutionError, Timestamp: time.Now(), ExecutionID: executionID,
			Duration: time.Since(start), Err: result.Err,
		})
	}

	return result
}

// runLoop implements §4.8's scheduler-driven dispatch loop: one batch of
// ready nodes at a time, run concurrently within a batch, then
// re-evaluate readiness. The loop terminates when no node is ready (§4.8
// termination condition i) or every endpoint node has reached a terminal
// state (condition ii), whichever comes first; it aborts early on
// handler_not_found/internal errors or context cancellation.
func (e *Engine) runLoop(ctx context.Context, executionID string) *Result {
	for {
		if ctx.Err() != nil {
			return e.abortedResult(executionID, enginerrors.New(enginerrors.KindCancelled, "", enginerrors.ErrCancelled))
		}

		epoch := e.tm.CurrentEpoch()
		ready := e.sched.GetReadyNodes(epoch)

		// §4.8 termination: no node ready and none running (condition i),
		// or every endpoint node has reached a terminal state (condition
		// ii). Batches are awaited in full, so nothing is running here.
		if len(ready) == 0 || e.AllEndpointsReached() {
			return e.completedResult(executionID)
		}

		var wg sync.WaitGroup
		var abortMu sync.Mutex
		var abortErr error

		for _, node := range ready {
			e.sched.MarkNodeRunning(node.ID, epoch)
			wg.Add(1)
			go func(n diagram.Node) {
				defer wg.Done()
				if err := e.executeNode(ctx, n, executionID, epoch); err != nil {
					if enginerrors.IsKind(err, enginerrors.KindHandlerNotFound) || enginerrors.IsKind(err, enginerrors.KindInternal) {
						abortMu.Lock()
						if abortErr == nil {
							abortErr = err
						}
						abortMu.Unlock()
					}
				}
				e.sched.MarkNodeComplete(n.ID, epoch)
			}(node)
		}
		wg.Wait()

		if abortErr != nil {
			return e.failedResult(executionID, abortErr)
		}
	}
}

// executeNode runs the §4.8 per-node steps (a)-(g) for one ready node.
// The returned error is only non-nil for execution-aborting failures
// (handler_not_found, internal); node-scoped failures are recorded via
// TransitionToFailed and a node_error event, and otherwise do not stop
// the loop.
func (e *Engine) executeNode(ctx context.Context, node diagram.Node, executionID string, epoch int) error {
	startedAt := time.Now()

	// step (b): max-iteration short-circuit, checked against the same
	// pre-increment iteration count the scheduler used to admit this node
	// into the ready batch. Checking this before transition_to_running
	// keeps the node's final permitted iteration from being mistaken for
	// an over-budget one: transition_to_running increments the counter,
	// so checking afterward would off-by-one every node's last legal run.
	if isIterable(node) && !e.st.CanExecuteInLoop(node.ID, epoch, node.EffectiveMaxIteration()) {
		e.events.Publish(events.Event{
			Type: events.TypeNodeStarted, Timestamp: startedAt, ExecutionID: executionID,
			NodeID: node.ID, NodeType: node.Type, ExecCount: e.st.GetIterationsInEpoch(node.ID, epoch),
		})

		env := diagram.NewEnvelope(nil, node.ID, map[string]any{"reason": "max_iteration_reached"})
		e.st.TransitionToMaxIter(node.ID, &env)

		outputs := e.branchOutputs(node, env)
		publishEpoch := e.resolvePublishEpoch(node, outputs, epoch)
		e.tm.EmitOutputs(node.ID, outputs, publishEpoch)
		for _, edge := range e.dia.OutgoingEdges(node.ID) {
			e.sched.OnTokenPublished(edge, publishEpoch)
		}

		e.events.Publish(events.Event{
			Type: events.TypeNodeCompleted, Timestamp: time.Now(), ExecutionID: executionID,
			NodeID: node.ID, NodeType: node.Type, Duration: time.Since(startedAt), Envelope: &env,
		})
		return nil
	}

	iter := e.st.TransitionToRunning(node.ID, epoch)

	e.events.Publish(events.Event{
		Type: events.TypeNodeStarted, Timestamp: startedAt, ExecutionID: executionID,
		NodeID: node.ID, NodeType: node.Type, ExecCount: iter,
	})

	// step (c): input resolution.
	vars := e.Variables()
	inputs, err := e.res.Resolve(node, epoch, vars)
	if err != nil {
		e.st.TransitionToFailed(node.ID, err.Error())
		e.events.Publish(events.Event{
			Type: events.TypeNodeError, Timestamp: time.Now(), ExecutionID: executionID,
			NodeID: node.ID, NodeType: node.Type, Duration: time.Since(startedAt), Err: err,
		})
		return nil
	}

	// step (d): handler dispatch.
	h, err := e.registry.CreateHandler(node.Type)
	if err != nil {
		e.st.TransitionToFailed(node.ID, err.Error())
		e.events.Publish(events.Event{
			Type: events.TypeNodeError, Timestamp: time.Now(), ExecutionID: executionID,
			NodeID: node.ID, NodeType: node.Type, Duration: time.Since(startedAt), Err: err,
		})
		return err
	}

	nodeTimeout := e.cfg.MaxNodeExecutionTime
	if nodeTimeout <= 0 {
		nodeTimeout = config.Default().MaxNodeExecutionTime
	}
	nodeRunCtx, cancelNode := context.WithTimeout(ctx, nodeTimeout)
	defer cancelNode()

	nodeCtx := &execContext{ctx: nodeRunCtx, st: e.st, mu: &e.varsMu, vars: e.vars}
	req := handler.Request{
		Node: node, Context: nodeCtx, Inputs: inputs, ExecutionID: executionID,
		Metadata: map[string]any{"epoch": epoch, "iteration": iter},
	}

	if resolverHook, ok := h.(handler.InputResolver); ok {
		custom, err := resolverHook.ResolveEnvelopeInputs(req)
		if err != nil {
			e.st.TransitionToFailed(node.ID, err.Error())
			e.events.Publish(events.Event{
				Type: events.TypeNodeError, Timestamp: time.Now(), ExecutionID: executionID,
				NodeID: node.ID, NodeType: node.Type, Duration: time.Since(startedAt), Err: err,
			})
			return nil
		}
		req.Inputs = custom
	}

	out, err := e.invokeHandler(h, req)
	if err != nil {
		wrapped := enginerrors.New(enginerrors.KindHandlerFailure, node.ID, err)
		e.st.TransitionToFailed(node.ID, wrapped.Error())
		e.events.Publish(events.Event{
			Type: events.TypeNodeError, Timestamp: time.Now(), ExecutionID: executionID,
			NodeID: node.ID, NodeType: node.Type, Duration: time.Since(startedAt), Err: wrapped,
		})
		return nil
	}

	// step (e): stamp duration, emit tokens.
	duration := time.Since(startedAt)
	if out.Meta == nil {
		out.Meta = map[string]any{}
	}
	out.Meta["execution_time_ms"] = duration.Milliseconds()

	outputs := e.branchOutputs(node, out)
	publishEpoch := e.resolvePublishEpoch(node, outputs, epoch)
	e.tm.EmitOutputs(node.ID, outputs, publishEpoch)
	for _, edge := range e.dia.OutgoingEdges(node.ID) {
		e.sched.OnTokenPublished(edge, publishEpoch)
	}

	// step (f)/(g): transition and emit the terminal node event.
	e.st.TransitionToCompleted(node.ID, out, nil)

	// Condition nodes exporting a loop index mirror it into the
	// process-wide variables map so downstream expressions can read
	// "<node_id>.iteration" without threading it through an edge.
	if idx, ok := out.Meta["iteration"]; ok {
		e.varsMu.Lock()
		e.vars[node.ID+".iteration"] = idx
		e.varsMu.Unlock()
	}

	e.events.Publish(events.Event{
		Type: events.TypeNodeCompleted, Timestamp: time.Now(), ExecutionID: executionID,
		NodeID: node.ID, NodeType: node.Type, Duration: duration, Envelope: &out,
	})
	return nil
}

// invokeHandler runs a handler's optional PreExecute/PostExecute hooks
// around its required Execute call.
func (e *Engine) invokeHandler(h handler.Handler, req handler.Request) (diagram.Envelope, error) {
	if pre, ok := h.(handler.PreExecutor); ok {
		if env, err := pre.PreExecute(req); err != nil {
			return diagram.Envelope{}, err
		} else if env != nil {
			return *env, nil
		}
	}

	out, err := h.Execute(req)
	if err != nil {
		return diagram.Envelope{}, err
	}

	if post, ok := h.(handler.PostExecutor); ok {
		out = post.PostExecute(req, out)
	}
	return out, nil
}

// branchOutputs maps a handler's single returned envelope onto the
// outgoing-port keys EmitOutputs expects: condition nodes publish on
// exactly one of condtrue/condfalse (read from the envelope's "branch"
// metadata, defaulting to condfalse), every other node type fans the same
// envelope out to every outgoing port it has.
func (e *Engine) branchOutputs(node diagram.Node, out diagram.Envelope) map[string]diagram.Envelope {
	if node.Type != diagram.NodeTypeCondition {
		outputs := make(map[string]diagram.Envelope)
		for _, edge := range e.dia.OutgoingEdges(node.ID) {
			outputs[edge.SourceOutput] = out
		}
		return outputs
	}

	port := diagram.PortCondFalse
	if branch, ok := out.Meta["branch"].(string); ok && branch == diagram.PortCondTrue {
		port = diagram.PortCondTrue
	}
	return map[string]diagram.Envelope{port: out}
}

// resolvePublishEpoch implements the engine's loop-back policy (the §9
// open question on when to call begin_epoch): when a node's emitted
// token targets a node that already COMPLETED, that target is reset to
// PENDING so the scheduler reconsiders it, but the publish stays in the
// current epoch rather than bumping to a new one. Per-node iteration
// counters are keyed by epoch, so keeping a loop inside one epoch is what
// lets CanExecuteInLoop's count climb toward a node's max_iteration
// instead of resetting on every round trip; begin_epoch itself is left
// as an explicit, manually-invoked escape hatch (e.g. for a supervisory
// handler that wants to deliberately forgive a node's iteration budget)
// rather than something the core loop calls on its own.
//
// Only COMPLETED targets are re-armed this way. FAILED, SKIPPED and
// MAXITER_REACHED are left terminal: a node that has exhausted its loop
// budget must stay out of the ready set even if a downstream node keeps
// looping back to it, or it would never stop being re-armed.
func (e *Engine) resolvePublishEpoch(node diagram.Node, outputs map[string]diagram.Envelope, currentEpoch int) int {
	e.epochMu.Lock()
	defer e.epochMu.Unlock()

	for _, edge := range e.dia.OutgoingEdges(node.ID) {
		if _, ok := outputs[edge.SourceOutput]; !ok {
			continue
		}
		if e.st.GetNodeState(edge.TargetNodeID).Status == statetracker.StatusCompleted {
			e.st.ResetNode(edge.TargetNodeID)
		}
	}
	return currentEpoch
}

// isIterable mirrors the scheduler's own iterability rule: the engine
// needs it independently to decide whether to take the max-iteration
// short-circuit path for a ready node.
func isIterable(n diagram.Node) bool {
	return n.Type == diagram.NodeTypePersonJob || n.MaxIteration > 0
}

// AllEndpointsReached implements §4.8 termination condition (ii): every
// endpoint node has reached COMPLETED or MAXITER_REACHED. runLoop stops
// as soon as this holds; it is also exposed so callers can distinguish a
// diagram that finished every endpoint from one that stalled with unmet
// dependencies. A diagram with no endpoint node never satisfies it.
func (e *Engine) AllEndpointsReached() bool {
	found := false
	for _, n := range e.dia.Nodes {
		if n.Type != diagram.NodeTypeEndpoint {
			continue
		}
		found = true
		status := e.st.GetNodeState(n.ID).Status
		if status != statetracker.StatusCompleted && status != statetracker.StatusMaxIterReached {
			return false
		}
	}
	return found
}

func (e *Engine) completedResult(executionID string) *Result {
	return &Result{ExecutionID: executionID, Status: StatusCompleted, NodeOutputs: e.snapshotOutputs()}
}

func (e *Engine) failedResult(executionID string, err error) *Result {
	return &Result{ExecutionID: executionID, Status: StatusFailed, Err: err, NodeOutputs: e.snapshotOutputs()}
}

func (e *Engine) abortedResult(executionID string, err error) *Result {
	return &Result{ExecutionID: executionID, Status: StatusAborted, Err: err, NodeOutputs: e.snapshotOutputs()}
}

func (e *Engine) snapshotOutputs() map[string]diagram.Envelope {
	out := make(map[string]diagram.Envelope)
	for _, n := range e.dia.Nodes {
		if env, ok := e.st.GetLastOutput(n.ID); ok {
			out[n.ID] = env
		}
	}
	return out
}

// Variables returns a defensive copy of the process-wide variables map
// condition expressions and handlers read from and write to.
func (e *Engine) Variables() map[string]any {
	e.varsMu.RLock()
	defer e.varsMu.RUnlock()
	out := make(map[string]any, len(e.vars))
	for k, v := range e.vars {
		out[k] = v
	}
	return out
}

// Events exposes the engine's event pipeline so callers can subscribe
// before calling Run.
func (e *Engine) Events() *events.Pipeline { return e.events }

// StateTracker exposes the engine's state tracker for read-only progress
// queries (Snapshot, AllNodeStates) by callers outside the engine.
func (e *Engine) StateTracker() *statetracker.Tracker { return e.st }
