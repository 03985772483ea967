// Package scheduler assembles join and concurrency policies, seeds the
// ready queue from the dependency tracker's bootstrap set, and answers
// "which nodes are ready to run": §4.6 of the engine design.
package scheduler

import (
	"sort"

	"github.com/flowcraft-run/diagrunner/pkg/deptrack"
	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/readyqueue"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
	"github.com/flowcraft-run/diagrunner/pkg/tokenmanager"
)

// priorityRank implements the start(0) < condition(1) < person_job(2) <
// others(3) ordering used when sorting a ready batch.
func priorityRank(t diagram.NodeType) int {
	switch t {
	case diagram.NodeTypeStart:
		return 0
	case diagram.NodeTypeCondition:
		return 1
	case diagram.NodeTypePersonJob:
		return 2
	default:
		return 3
	}
}

// Scheduler assembles per-node join/concurrency policies at construction
// time and exposes the ready-node query the execution engine drives its
// main loop with.
type Scheduler struct {
	dia *diagram.Diagram
	tm  *tokenmanager.Manager
	st  *statetracker.Tracker
	dep *deptrack.Tracker
	rq  *readyqueue.Queue

	joinPolicies        map[string]tokenmanager.JoinPolicy
	concurrencyPolicies map[string]readyqueue.ConcurrencyPolicy
}

// New builds a Scheduler, assembling default join/concurrency policies
// for every node (condition -> join any, all others -> join all;
// concurrency defaults to singleton everywhere) and seeding the ready
// queue with the diagram's zero-indegree bootstrap nodes at epoch 0.
// A node's Config map may override the defaults via the
// "join_policy"/"join_k"/"concurrency_policy"/"concurrency_max" keys.
func New(dia *diagram.Diagram, tm *tokenmanager.Manager, st *statetracker.Tracker) *Scheduler {
	dep := deptrack.New(dia)
	rq := readyqueue.New(dia, tm, st)

	s := &Scheduler{
		dia:                 dia,
		tm:                  tm,
		st:                  st,
		dep:                 dep,
		rq:                  rq,
		joinPolicies:        make(map[string]tokenmanager.JoinPolicy),
		concurrencyPolicies: make(map[string]readyqueue.ConcurrencyPolicy),
	}

	for _, n := range dia.Nodes {
		jp := defaultJoinPolicy(n)
		cp := defaultConcurrencyPolicy(n)
		s.joinPolicies[n.ID] = jp
		s.concurrencyPolicies[n.ID] = cp
		rq.SetJoinPolicy(n.ID, jp)
		rq.SetConcurrencyPolicy(n.ID, cp)
	}

	for _, id := range dep.ZeroIndegreeNodes() {
		rq.AddInitialReadyNode(id, 0)
	}

	return s
}

func defaultJoinPolicy(n diagram.Node) tokenmanager.JoinPolicy {
	if raw, ok := n.Config["join_policy"]; ok {
		if kind, ok := raw.(string); ok {
			k := 0
			if kv, ok := n.Config["join_k"].(int); ok {
				k = kv
			}
			return tokenmanager.JoinPolicy{Kind: tokenmanager.JoinKind(kind), K: k}
		}
	}
	if n.Type == diagram.NodeTypeCondition {
		return tokenmanager.JoinPolicy{Kind: tokenmanager.JoinAny}
	}
	return tokenmanager.JoinPolicy{Kind: tokenmanager.JoinAll}
}

func defaultConcurrencyPolicy(n diagram.Node) readyqueue.ConcurrencyPolicy {
	if raw, ok := n.Config["concurrency_policy"]; ok {
		if kind, ok := raw.(string); ok {
			max := 0
			if mv, ok := n.Config["concurrency_max"].(int); ok {
				max = mv
			}
			return readyqueue.ConcurrencyPolicy{Kind: readyqueue.ConcurrencyKind(kind), Max: max}
		}
	}
	return readyqueue.ConcurrencyPolicy{Kind: readyqueue.Singleton}
}

// TokenManager returns the scheduler's token manager, for components
// (the execution engine) that need to publish/consume independently.
func (s *Scheduler) TokenManager() *tokenmanager.Manager { return s.tm }

// OnTokenPublished forwards to the ready queue so arming is recomputed
// for the edge's target.
func (s *Scheduler) OnTokenPublished(edge diagram.Edge, epoch int) {
	s.rq.OnTokenPublished(edge, epoch)
}

// MarkNodeRunning records that a node invocation started.
func (s *Scheduler) MarkNodeRunning(nodeID string, epoch int) {
	s.rq.MarkNodeRunning(nodeID, epoch)
}

// MarkNodeComplete records that a node invocation finished and lets the
// dependency tracker clear any priority-dependency soft constraints.
func (s *Scheduler) MarkNodeComplete(nodeID string, epoch int) {
	s.rq.MarkNodeComplete(nodeID, epoch)
	s.dep.MarkNodeCompleted(nodeID)
}

// isIterable reports whether a node type is subject to the per-epoch
// loop-iteration cap check. person_job nodes, the canonical loop-bodied
// node type, are always iterable; any other node (condition nodes
// included) is iterable only when it has an explicit MaxIteration.
func isIterable(n diagram.Node) bool {
	return n.Type == diagram.NodeTypePersonJob || n.MaxIteration > 0
}

func isTerminal(status statetracker.Status) bool {
	switch status {
	case statetracker.StatusCompleted, statetracker.StatusFailed,
		statetracker.StatusSkipped, statetracker.StatusMaxIterReached:
		return true
	default:
		return false
	}
}

// GetReadyNodes evaluates every node for readiness in the given epoch,
// running: (i) has_new_inputs per join policy, (ii) the loop-iteration
// cap for iterable node types, (iii) no pending higher-priority sibling.
// Start nodes with no incoming edges are a special case: ready iff their
// execution count is zero. The returned list is sorted by the
// start/condition/person_job/others priority rank, stably.
func (s *Scheduler) GetReadyNodes(epoch int) []diagram.Node {
	var ready []diagram.Node

	for _, n := range s.dia.Nodes {
		if isTerminal(s.st.GetNodeState(n.ID).Status) {
			continue
		}

		incoming := s.dia.IncomingEdges(n.ID)
		if len(incoming) == 0 && n.Type == diagram.NodeTypeStart {
			if s.st.GetExecutionCount(n.ID) == 0 {
				ready = append(ready, n)
			}
			continue
		}

		execCount := s.st.GetExecutionCount(n.ID)
		if !s.tm.HasNewInputs(n.ID, epoch, s.joinPolicies[n.ID], execCount) {
			continue
		}

		if isIterable(n) && !s.st.CanExecuteInLoop(n.ID, epoch, n.EffectiveMaxIteration()) {
			// Still "ready" in the sense that the engine must observe it and
			// drive it to MAXITER_REACHED (see §4.8 step b); the execution
			// engine distinguishes this case via CanExecuteInLoop itself.
			ready = append(ready, n)
			continue
		}

		if len(s.dep.PendingHigherPrioritySiblings(n.ID)) > 0 {
			continue
		}

		cp := s.concurrencyPolicies[n.ID]
		if !cp.Admits(s.rq.RunningCount(n.ID, epoch)) {
			continue
		}

		ready = append(ready, n)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return priorityRank(ready[i].Type) < priorityRank(ready[j].Type)
	})

	return ready
}
