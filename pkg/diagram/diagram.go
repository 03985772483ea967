// Package diagram provides the shared data model for the workflow engine.
// Node, Edge, Diagram, Envelope and Token are defined here to avoid
// circular dependencies between the engine's internal components.
package diagram

import "time"

// ============================================================================
// Node types
// ============================================================================

// NodeType is the closed tag set of node kinds the core engine understands
// structurally. Handler implementations are registered against these types;
// the engine itself only special-cases Start, Condition and Endpoint.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEndpoint  NodeType = "endpoint"
	NodeTypeCondition NodeType = "condition"
	NodeTypePersonJob NodeType = "person_job"
	NodeTypeCodeJob   NodeType = "code_job"
	NodeTypeAPIJob    NodeType = "api_job"
	NodeTypeHook      NodeType = "hook"
)

// Node is an immutable record describing one unit of computation in a
// diagram. Config carries type-specific parameters; MaxIteration and
// Skippable are the two fields the core engine reads directly.
type Node struct {
	ID     string
	Type   NodeType
	Config map[string]any

	// MaxIteration bounds how many times this node may run within a single
	// epoch. Zero means "use the default of 1".
	MaxIteration int

	// Skippable marks a condition node's outgoing edges as droppable from
	// a target's required inputs when that target has other sources (see
	// the token manager's HasNewInputs, which promotes them back to
	// required when they are all the target has).
	Skippable bool
}

// EffectiveMaxIteration returns the node's configured iteration cap, or 1
// if none was configured.
func (n Node) EffectiveMaxIteration() int {
	if n.MaxIteration <= 0 {
		return 1
	}
	return n.MaxIteration
}

// Canonical condition output ports.
const (
	PortCondTrue  = "condtrue"
	PortCondFalse = "condfalse"
	// PortDefault is the implicit port name for unlabeled edges.
	PortDefault = "default"
)

// ContentType guides coercion at an edge boundary. See the transform
// package for the coercion matrix between these types.
type ContentType string

const (
	ContentRawText      ContentType = "raw_text"
	ContentObject       ContentType = "object"
	ContentConversation ContentType = "conversation_state"
	ContentBinary       ContentType = "binary"
)

// TransformRuleKind is the closed set of transform rule kinds applied by
// the transform engine.
type TransformRuleKind string

const (
	RuleExtract   TransformRuleKind = "extract"
	RuleWrap      TransformRuleKind = "wrap"
	RuleMap       TransformRuleKind = "map"
	RuleTemplate  TransformRuleKind = "template"
	RuleParseJSON TransformRuleKind = "parse_json"
)

// TransformRule is one step of an ordered rule list applied to a value as
// it crosses an edge. Unknown kinds are a no-op; rules are pure.
type TransformRule struct {
	Kind TransformRuleKind

	// Field is used by RuleExtract: the dotted field path to pull out of an
	// object body.
	Field string

	// Key is used by RuleWrap: the object field name the whole value is
	// nested under.
	Key string

	// Mapping is used by RuleMap: a value->value lookup table applied to
	// scalar bodies.
	Mapping map[string]any

	// Format is used by RuleTemplate: an expr-lang interpolation template,
	// or (when it contains no {{ }} expression) a plain Sprintf verb.
	Format string

	// Locale is used by RuleTemplate when Format is a plain Sprintf verb:
	// a BCP 47 tag (e.g. "de", "en-IN") for locale-aware number/date
	// grouping. Ignored for {{ }} expression templates and when empty.
	Locale string
}

// Edge is an immutable record describing a directed channel from a source
// node's output port to a target node's input port.
type Edge struct {
	ID             string
	SourceNodeID   string
	SourceOutput   string
	TargetNodeID   string
	TargetInput    string
	ContentType    ContentType
	TransformRules []TransformRule

	// ExecutionPriority: higher runs first among siblings from the same
	// source.
	ExecutionPriority int
}

// IsConditional reports whether this edge originates from a condition
// node's branch output. Such edges are excluded from static indegree
// computation and are subject to branch-decision filtering.
func (e Edge) IsConditional() bool {
	return e.SourceOutput == PortCondTrue || e.SourceOutput == PortCondFalse
}

// Diagram is the compiled graph the engine consumes: nodes and edges plus
// precomputed incoming/outgoing indexes keyed by node id. The engine never
// mutates a Diagram after construction.
type Diagram struct {
	Nodes    []Node
	Edges    []Edge
	Metadata map[string]any

	nodesByID    map[string]*Node
	incomingByID map[string][]Edge
	outgoingByID map[string][]Edge
}

// New builds a Diagram and precomputes its node/edge indexes.
func New(nodes []Node, edges []Edge) *Diagram {
	d := &Diagram{
		Nodes:        nodes,
		Edges:        edges,
		nodesByID:    make(map[string]*Node, len(nodes)),
		incomingByID: make(map[string][]Edge),
		outgoingByID: make(map[string][]Edge),
	}
	for i := range nodes {
		n := &nodes[i]
		d.nodesByID[n.ID] = n
	}
	for _, e := range edges {
		d.incomingByID[e.TargetNodeID] = append(d.incomingByID[e.TargetNodeID], e)
		d.outgoingByID[e.SourceNodeID] = append(d.outgoingByID[e.SourceNodeID], e)
	}
	return d
}

// GetNode looks up a node by id.
func (d *Diagram) GetNode(id string) (*Node, bool) {
	n, ok := d.nodesByID[id]
	return n, ok
}

// IncomingEdges returns the edges targeting a node, in no particular
// order (callers that care about order sort by ExecutionPriority
// themselves).
func (d *Diagram) IncomingEdges(nodeID string) []Edge {
	return d.incomingByID[nodeID]
}

// OutgoingEdges returns the edges sourced from a node.
func (d *Diagram) OutgoingEdges(nodeID string) []Edge {
	return d.outgoingByID[nodeID]
}

// ============================================================================
// Envelope & Token
// ============================================================================

// Envelope is the only currency that flows across edges: a typed payload
// plus provenance metadata.
type Envelope struct {
	Body        any
	ContentType ContentType
	ProducedBy  string
	Meta        map[string]any
}

// NewEnvelope infers a content type from the body's kind: string ->
// raw_text, map/slice -> object, anything else -> raw_text via
// stringification.
func NewEnvelope(body any, producedBy string, meta map[string]any) Envelope {
	if meta == nil {
		meta = map[string]any{}
	}
	ct := ContentRawText
	switch body.(type) {
	case string:
		ct = ContentRawText
	case map[string]any, []any:
		ct = ContentObject
	default:
		ct = ContentRawText
	}
	return Envelope{Body: body, ContentType: ct, ProducedBy: producedBy, Meta: meta}
}

// Token is an envelope placed on an edge for a specific epoch with a
// sequence number.
type Token struct {
	Epoch    int
	Seq      int
	Envelope Envelope
	Ts       time.Time
}
