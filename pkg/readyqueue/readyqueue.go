// Package readyqueue tracks which nodes are armed to run in a given
// epoch and how many invocations of each node are currently in flight,
// gated by each node's concurrency policy: §4.5 of the engine design.
package readyqueue

import (
	"sync"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/tokenmanager"
)

// ConcurrencyKind is the closed set of concurrency policies a node may
// declare.
type ConcurrencyKind string

const (
	Singleton ConcurrencyKind = "singleton"
	PerToken  ConcurrencyKind = "per_token"
	Bounded   ConcurrencyKind = "bounded"
)

// ConcurrencyPolicy bounds how many in-flight invocations of a node are
// allowed at once.
type ConcurrencyPolicy struct {
	Kind ConcurrencyKind
	Max  int // only meaningful when Kind == Bounded
}

// Admits reports whether one more invocation may start given the current
// in-flight count.
func (p ConcurrencyPolicy) Admits(running int) bool {
	switch p.Kind {
	case PerToken:
		return true
	case Bounded:
		return running < p.Max
	default: // Singleton
		return running == 0
	}
}

type armedKey struct {
	nodeID string
	epoch  int
}

// ExecutionCounter reports a node's execution count, used by the token
// manager's readiness check (§4.3 step 2, start-node consumed-once rule).
type ExecutionCounter interface {
	GetExecutionCount(nodeID string) int
}

// Queue is the ready queue: armed/running bookkeeping plus an
// epoch-partitioned FIFO of armed node ids, gated by each node's
// concurrency policy.
type Queue struct {
	mu sync.Mutex

	tm      *tokenmanager.Manager
	counter ExecutionCounter
	dia     *diagram.Diagram

	concurrency map[string]ConcurrencyPolicy
	join        map[string]tokenmanager.JoinPolicy

	armed   map[armedKey]bool
	running map[armedKey]int
	fifo    map[int][]string
}

// New builds a ready queue bound to a token manager, a diagram, and a
// source of node execution counts (normally the state tracker).
func New(dia *diagram.Diagram, tm *tokenmanager.Manager, counter ExecutionCounter) *Queue {
	return &Queue{
		tm:          tm,
		counter:     counter,
		dia:         dia,
		concurrency: make(map[string]ConcurrencyPolicy),
		join:        make(map[string]tokenmanager.JoinPolicy),
		armed:       make(map[armedKey]bool),
		running:     make(map[armedKey]int),
		fifo:        make(map[int][]string),
	}
}

// SetConcurrencyPolicy assigns a node's concurrency policy.
func (q *Queue) SetConcurrencyPolicy(nodeID string, p ConcurrencyPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.concurrency[nodeID] = p
}

// SetJoinPolicy assigns a node's join policy, used when polling the token
// manager for readiness.
func (q *Queue) SetJoinPolicy(nodeID string, p tokenmanager.JoinPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.join[nodeID] = p
}

func (q *Queue) concurrencyFor(nodeID string) ConcurrencyPolicy {
	if p, ok := q.concurrency[nodeID]; ok {
		return p
	}
	return ConcurrencyPolicy{Kind: Singleton}
}

func (q *Queue) joinFor(nodeID string) tokenmanager.JoinPolicy {
	if p, ok := q.join[nodeID]; ok {
		return p
	}
	return tokenmanager.JoinPolicy{Kind: tokenmanager.JoinAll}
}

// AddInitialReadyNode arms a zero-indegree bootstrap node directly,
// bypassing the token-manager readiness check (it has no incoming
// tokens to poll yet).
func (q *Queue) AddInitialReadyNode(nodeID string, epoch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.armAndEnqueueLocked(nodeID, epoch)
}

// OnTokenPublished recomputes arming for a published edge's target node.
func (q *Queue) OnTokenPublished(edge diagram.Edge, epoch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maybeArmLocked(edge.TargetNodeID, epoch)
}

func (q *Queue) maybeArmLocked(nodeID string, epoch int) {
	if q.canArmLocked(nodeID, epoch) {
		q.armAndEnqueueLocked(nodeID, epoch)
	}
}

// canArmLocked implements the arming rule: not already armed, the token
// manager reports new inputs, and the concurrency policy admits another
// in-flight invocation.
func (q *Queue) canArmLocked(nodeID string, epoch int) bool {
	key := armedKey{nodeID, epoch}
	if q.armed[key] {
		return false
	}
	execCount := 0
	if q.counter != nil {
		execCount = q.counter.GetExecutionCount(nodeID)
	}
	if !q.tm.HasNewInputs(nodeID, epoch, q.joinFor(nodeID), execCount) {
		return false
	}
	return q.concurrencyFor(nodeID).Admits(q.running[key])
}

func (q *Queue) armAndEnqueueLocked(nodeID string, epoch int) {
	key := armedKey{nodeID, epoch}
	q.armed[key] = true
	q.fifo[epoch] = append(q.fifo[epoch], nodeID)
}

// MarkNodeRunning records that an invocation of nodeID has started in
// epoch.
func (q *Queue) MarkNodeRunning(nodeID string, epoch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := armedKey{nodeID, epoch}
	q.running[key]++
	if q.concurrencyFor(nodeID).Kind == Singleton {
		q.armed[key] = false
	}
}

// MarkNodeComplete records that an invocation of nodeID has finished in
// epoch, disarms it (so a future token republishes arming), and checks
// whether it may immediately rearm given fresh tokens and its
// concurrency policy.
func (q *Queue) MarkNodeComplete(nodeID string, epoch int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := armedKey{nodeID, epoch}
	if q.running[key] > 0 {
		q.running[key]--
	}
	q.armed[key] = false
	q.maybeArmLocked(nodeID, epoch)
}

// Dequeue pops the next armed node id for the given epoch, in FIFO order.
func (q *Queue) Dequeue(epoch int) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.fifo[epoch]
	if len(queue) == 0 {
		return "", false
	}
	head := queue[0]
	q.fifo[epoch] = queue[1:]
	return head, true
}

// GetQueueSize returns the total number of armed-but-undispatched nodes
// across all epochs.
func (q *Queue) GetQueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, fq := range q.fifo {
		total += len(fq)
	}
	return total
}

// GetEpochQueueSize returns the number of armed-but-undispatched nodes in
// a specific epoch.
func (q *Queue) GetEpochQueueSize(epoch int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo[epoch])
}

// IsArmed reports whether a node is currently armed for an epoch.
func (q *Queue) IsArmed(nodeID string, epoch int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.armed[armedKey{nodeID, epoch}]
}

// RunningCount returns how many invocations of nodeID are in flight in
// epoch.
func (q *Queue) RunningCount(nodeID string, epoch int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running[armedKey{nodeID, epoch}]
}
