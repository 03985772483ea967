// Package tokenmanager publishes and consumes tokens on diagram edges: the
// current epoch, conditional-branch filtering, and the join-policy
// readiness algorithm described in §4.3.
package tokenmanager

import (
	"sync"
	"time"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

// JoinKind is the closed set of ways a node combines its incoming edges'
// tokens.
type JoinKind string

const (
	JoinAll  JoinKind = "all"
	JoinAny  JoinKind = "any"
	JoinKOfN JoinKind = "k_of_n"
)

// JoinPolicy is a node's configured join behavior.
type JoinPolicy struct {
	Kind JoinKind
	K    int // only meaningful when Kind == JoinKOfN
}

type edgeEpochKey struct {
	edgeID string
	epoch  int
}

type edgeEpochSeqKey struct {
	edgeID string
	epoch  int
	seq    int
}

type nodeEdgeEpochKey struct {
	nodeID string
	edgeID string
	epoch  int
}

// Manager is the token manager: one per execution, shared by reference
// with the scheduler and the execution engine. All publish/consume
// operations happen under a single lock; readiness checks (HasNewInputs)
// are read-only and take the same lock for a consistent snapshot.
type Manager struct {
	mu  sync.Mutex
	dia *diagram.Diagram

	currentEpoch int

	edgeSeq         map[edgeEpochKey]int
	tokens          map[edgeEpochSeqKey]diagram.Envelope
	lastConsumed    map[nodeEdgeEpochKey]int
	branchDecisions map[string]string // nodeID -> diagram.PortCondTrue | PortCondFalse
}

// New builds a token manager bound to a diagram's edge topology.
func New(dia *diagram.Diagram) *Manager {
	return &Manager{
		dia:             dia,
		edgeSeq:         make(map[edgeEpochKey]int),
		tokens:          make(map[edgeEpochSeqKey]diagram.Envelope),
		lastConsumed:    make(map[nodeEdgeEpochKey]int),
		branchDecisions: make(map[string]string),
	}
}

// CurrentEpoch returns the execution's current epoch.
func (m *Manager) CurrentEpoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentEpoch
}

// BeginEpoch starts a fresh epoch and returns its number. Tokens from the
// prior epoch are never consumed under the new one.
func (m *Manager) BeginEpoch() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentEpoch++
	return m.currentEpoch
}

// PublishToken increments the (edge, epoch) sequence counter, stores the
// envelope, and returns the resulting token. No notification is pushed;
// readiness is polled by the scheduler via HasNewInputs.
func (m *Manager) PublishToken(edge diagram.Edge, env diagram.Envelope, epoch int) diagram.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := edgeEpochKey{edge.ID, epoch}
	m.edgeSeq[key]++
	seq := m.edgeSeq[key]
	tok := diagram.Token{Epoch: epoch, Seq: seq, Envelope: env, Ts: time.Now()}
	m.tokens[edgeEpochSeqKey{edge.ID, epoch, seq}] = env
	return tok
}

// EmitOutputs publishes one token per outgoing edge of node whose
// SourceOutput key is present in outputs; edges with no matching output
// are skipped. For condition nodes, the branch decision is recorded from
// whichever of condtrue/condfalse is present in outputs.
func (m *Manager) EmitOutputs(nodeID string, outputs map[string]diagram.Envelope, epoch int) []diagram.Token {
	edges := m.dia.OutgoingEdges(nodeID)

	if env, ok := outputs[diagram.PortCondTrue]; ok {
		m.recordBranchDecision(nodeID, diagram.PortCondTrue)
		_ = env
	} else if env, ok := outputs[diagram.PortCondFalse]; ok {
		m.recordBranchDecision(nodeID, diagram.PortCondFalse)
		_ = env
	}

	var published []diagram.Token
	for _, edge := range edges {
		env, ok := outputs[edge.SourceOutput]
		if !ok {
			continue
		}
		published = append(published, m.PublishToken(edge, env, epoch))
	}
	return published
}

func (m *Manager) recordBranchDecision(nodeID, port string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.branchDecisions[nodeID] = port
}

// GetBranchDecision returns the branch a condition node last chose, if
// any.
func (m *Manager) GetBranchDecision(nodeID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.branchDecisions[nodeID]
	return v, ok
}

// ConsumeInbound returns, for each incoming edge of node with an
// unconsumed token (seq > last_consumed), the envelope keyed by the
// edge's SourceOutput (or "default" if unset), and marks those tokens
// consumed.
func (m *Manager) ConsumeInbound(nodeID string, epoch int) map[string]diagram.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]diagram.Envelope)
	for _, edge := range m.dia.IncomingEdges(nodeID) {
		key := edgeEpochKey{edge.ID, epoch}
		latest := m.edgeSeq[key]
		ckey := nodeEdgeEpochKey{nodeID, edge.ID, epoch}
		last := m.lastConsumed[ckey]
		if latest <= last {
			continue
		}
		env, ok := m.tokens[edgeEpochSeqKey{edge.ID, epoch, latest}]
		if !ok {
			continue
		}
		m.lastConsumed[ckey] = latest
		port := edge.SourceOutput
		if port == "" {
			port = diagram.PortDefault
		}
		out[port] = env
	}
	return out
}

// nodeType and isSkippable are the two diagram lookups HasNewInputs
// needs about a source node, both read from the Manager's own diagram
// reference.
func (m *Manager) nodeType(nodeID string) (diagram.NodeType, bool) {
	n, ok := m.dia.GetNode(nodeID)
	if !ok {
		return "", false
	}
	return n.Type, true
}

func (m *Manager) isSkippable(nodeID string) bool {
	n, ok := m.dia.GetNode(nodeID)
	return ok && n.Skippable
}

// HasNewInputs implements the §4.3 readiness algorithm for node N with
// incoming edges E, current epoch e, and N's own execution count c
// (execCount), under the given join policy.
func (m *Manager) HasNewInputs(nodeID string, epoch int, policy JoinPolicy, execCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	edges := m.dia.IncomingEdges(nodeID)
	if len(edges) == 0 {
		// Source node; readiness is handled by the engine's initial-ready logic.
		return true
	}

	// Step 2: drop edges from start-typed sources once N has already run once.
	relevant := make([]diagram.Edge, 0, len(edges))
	for _, e := range edges {
		if t, ok := m.nodeType(e.SourceNodeID); ok && t == diagram.NodeTypeStart && execCount > 0 {
			continue
		}
		relevant = append(relevant, e)
	}
	if len(relevant) == 0 {
		return false
	}

	// Step 3: split into skippable vs active. An edge is skippable iff its
	// source is a skippable condition node AND N has more than one distinct
	// source among the relevant edges. A skippable-but-sole-source edge is
	// required.
	distinctSources := map[string]struct{}{}
	for _, e := range relevant {
		distinctSources[e.SourceNodeID] = struct{}{}
	}
	multiSource := len(distinctSources) > 1

	var skippable, active []diagram.Edge
	for _, e := range relevant {
		t, _ := m.nodeType(e.SourceNodeID)
		if t == diagram.NodeTypeCondition && m.isSkippable(e.SourceNodeID) && multiSource {
			skippable = append(skippable, e)
		} else {
			active = append(active, e)
		}
	}

	// Step 4: if every relevant edge is skippable and none are active,
	// promote skippable edges to active to avoid deadlock.
	if len(active) == 0 && len(skippable) > 0 {
		active = skippable
		skippable = nil
	}

	// Step 5: for active edges carrying a branch output, include only if the
	// source's recorded branch decision matches (or no decision yet).
	filtered := active[:0:0]
	for _, e := range active {
		if e.SourceOutput == diagram.PortCondTrue || e.SourceOutput == diagram.PortCondFalse {
			decision, has := m.branchDecisions[e.SourceNodeID]
			if has && decision != e.SourceOutput {
				continue
			}
		}
		filtered = append(filtered, e)
	}

	if len(filtered) == 0 {
		return false
	}

	// Step 6: apply join policy against unconsumed-token status per edge.
	hasUnconsumed := func(e diagram.Edge) bool {
		key := edgeEpochKey{e.ID, epoch}
		latest := m.edgeSeq[key]
		ckey := nodeEdgeEpochKey{nodeID, e.ID, epoch}
		return latest > m.lastConsumed[ckey]
	}

	switch policy.Kind {
	case JoinAny:
		for _, e := range filtered {
			if hasUnconsumed(e) {
				return true
			}
		}
		return false
	case JoinKOfN:
		count := 0
		for _, e := range filtered {
			if hasUnconsumed(e) {
				count++
			}
		}
		return count >= policy.K
	default: // JoinAll
		for _, e := range filtered {
			if !hasUnconsumed(e) {
				return false
			}
		}
		return true
	}
}
