// Package deptrack computes static, zero-indegree readiness for a
// diagram's bootstrap phase: §4.4 of the engine design. After bootstrap,
// readiness is entirely token-driven (see pkg/tokenmanager); this package
// is only consulted once, at engine start.
package deptrack

import (
	"sort"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

// Tracker computes initial zero-indegree nodes and the priority-dependency
// map described in §4.4: conditional edges never contribute to static
// indegree, and a lower-priority sibling edge target gains a soft
// dependency on its higher-priority sibling targets completing first.
type Tracker struct {
	dia *diagram.Diagram

	indegree map[string]int
	// priorityDeps[target] lists the sibling target ids that must complete
	// first because they share a source with a higher execution_priority.
	priorityDeps map[string][]string

	completed map[string]bool
}

// New builds a Tracker over a diagram, computing indegree (ignoring
// conditional edges) and the priority-dependency map up front.
func New(dia *diagram.Diagram) *Tracker {
	t := &Tracker{
		dia:          dia,
		indegree:     make(map[string]int, len(dia.Nodes)),
		priorityDeps: make(map[string][]string),
		completed:    make(map[string]bool),
	}
	for _, n := range dia.Nodes {
		t.indegree[n.ID] = 0
	}
	for _, e := range dia.Edges {
		if e.IsConditional() {
			continue
		}
		t.indegree[e.TargetNodeID]++
	}
	t.buildPriorityDeps()
	return t
}

func (t *Tracker) buildPriorityDeps() {
	bySource := make(map[string][]diagram.Edge)
	for _, e := range t.dia.Edges {
		bySource[e.SourceNodeID] = append(bySource[e.SourceNodeID], e)
	}
	for _, edges := range bySource {
		if len(edges) < 2 {
			continue
		}
		sorted := make([]diagram.Edge, len(edges))
		copy(sorted, edges)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].ExecutionPriority > sorted[j].ExecutionPriority
		})
		for i := 1; i < len(sorted); i++ {
			if sorted[i].ExecutionPriority == sorted[0].ExecutionPriority {
				continue
			}
			// Every lower-priority target depends on every strictly
			// higher-priority sibling target sharing this source.
			for j := 0; j < i; j++ {
				if sorted[j].ExecutionPriority > sorted[i].ExecutionPriority {
					t.priorityDeps[sorted[i].TargetNodeID] = append(t.priorityDeps[sorted[i].TargetNodeID], sorted[j].TargetNodeID)
				}
			}
		}
	}
}

// ZeroIndegreeNodes returns the node ids with zero static indegree,
// sorted for deterministic bootstrap ordering.
func (t *Tracker) ZeroIndegreeNodes() []string {
	var out []string
	for id, deg := range t.indegree {
		if deg == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// PendingHigherPrioritySiblings returns the sibling target node ids that
// must complete before nodeID may run, per the priority-dependency map,
// filtered to those not yet marked completed.
func (t *Tracker) PendingHigherPrioritySiblings(nodeID string) []string {
	var pending []string
	for _, sib := range t.priorityDeps[nodeID] {
		if !t.completed[sib] {
			pending = append(pending, sib)
		}
	}
	return pending
}

// MarkNodeCompleted records a node's completion and returns the set of
// sibling targets (by priority dependency) that have now had their soft
// constraint cleared. This only drives bootstrap-phase and
// priority-ordering bookkeeping; it is not consulted for edge readiness,
// which is the token manager's job.
func (t *Tracker) MarkNodeCompleted(nodeID string) []string {
	t.completed[nodeID] = true
	var newlyClear []string
	for target, deps := range t.priorityDeps {
		for _, d := range deps {
			if d == nodeID {
				if len(t.PendingHigherPrioritySiblings(target)) == 0 {
					newlyClear = append(newlyClear, target)
				}
			}
		}
	}
	sort.Strings(newlyClear)
	return newlyClear
}
