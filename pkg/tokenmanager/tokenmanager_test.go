package tokenmanager

import (
	"testing"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

func buildDiagram(nodes []diagram.Node, edges []diagram.Edge) *diagram.Diagram {
	return diagram.New(nodes, edges)
}

func TestSeqIsDenseAndIncreasing(t *testing.T) {
	dia := buildDiagram(
		[]diagram.Node{{ID: "a", Type: diagram.NodeTypeCodeJob}, {ID: "b", Type: diagram.NodeTypeCodeJob}},
		[]diagram.Edge{{ID: "e1", SourceNodeID: "a", TargetNodeID: "b"}},
	)
	m := New(dia)
	edge := dia.OutgoingEdges("a")[0]

	for i := 1; i <= 3; i++ {
		tok := m.PublishToken(edge, diagram.NewEnvelope("x", "a", nil), 0)
		if tok.Seq != i {
			t.Fatalf("expected seq %d, got %d", i, tok.Seq)
		}
	}
}

func TestConditionEmitsOnlyChosenBranch(t *testing.T) {
	dia := buildDiagram(
		[]diagram.Node{
			{ID: "cond", Type: diagram.NodeTypeCondition},
			{ID: "t", Type: diagram.NodeTypeCodeJob},
			{ID: "f", Type: diagram.NodeTypeCodeJob},
		},
		[]diagram.Edge{
			{ID: "e_t", SourceNodeID: "cond", SourceOutput: diagram.PortCondTrue, TargetNodeID: "t"},
			{ID: "e_f", SourceNodeID: "cond", SourceOutput: diagram.PortCondFalse, TargetNodeID: "f"},
		},
	)
	m := New(dia)
	toks := m.EmitOutputs("cond", map[string]diagram.Envelope{
		diagram.PortCondTrue: diagram.NewEnvelope("yes", "cond", nil),
	}, 0)

	if len(toks) != 1 {
		t.Fatalf("expected exactly one token published, got %d", len(toks))
	}
	decision, ok := m.GetBranchDecision("cond")
	if !ok || decision != diagram.PortCondTrue {
		t.Fatalf("expected condtrue branch decision, got %q ok=%v", decision, ok)
	}
}

func TestHasNewInputsJoinAllRequiresEveryEdge(t *testing.T) {
	dia := buildDiagram(
		[]diagram.Node{
			{ID: "a", Type: diagram.NodeTypeCodeJob},
			{ID: "b", Type: diagram.NodeTypeCodeJob},
			{ID: "j", Type: diagram.NodeTypeCodeJob},
		},
		[]diagram.Edge{
			{ID: "e_a", SourceNodeID: "a", TargetNodeID: "j"},
			{ID: "e_b", SourceNodeID: "b", TargetNodeID: "j"},
		},
	)
	m := New(dia)
	policy := JoinPolicy{Kind: JoinAll}

	if m.HasNewInputs("j", 0, policy, 0) {
		t.Fatal("expected not ready before any token published")
	}

	m.PublishToken(dia.OutgoingEdges("a")[0], diagram.NewEnvelope("a1", "a", nil), 0)
	if m.HasNewInputs("j", 0, policy, 0) {
		t.Fatal("expected not ready with only one of two edges fed")
	}

	m.PublishToken(dia.OutgoingEdges("b")[0], diagram.NewEnvelope("b1", "b", nil), 0)
	if !m.HasNewInputs("j", 0, policy, 0) {
		t.Fatal("expected ready once both edges fed")
	}

	m.ConsumeInbound("j", 0)
	if m.HasNewInputs("j", 0, policy, 0) {
		t.Fatal("expected not ready again after consumption with no new tokens")
	}
}

func TestSkippableEdgeDroppedWhenTargetHasOtherSource(t *testing.T) {
	dia := buildDiagram(
		[]diagram.Node{
			{ID: "cond", Type: diagram.NodeTypeCondition, Skippable: true},
			{ID: "y", Type: diagram.NodeTypeCodeJob},
			{ID: "x", Type: diagram.NodeTypeCodeJob},
		},
		[]diagram.Edge{
			{ID: "e_cond", SourceNodeID: "cond", SourceOutput: diagram.PortCondTrue, TargetNodeID: "x"},
			{ID: "e_y", SourceNodeID: "y", TargetNodeID: "x"},
		},
	)
	m := New(dia)
	policy := JoinPolicy{Kind: JoinAll}

	// cond picks condfalse: no token ever lands on e_cond.
	m.EmitOutputs("cond", map[string]diagram.Envelope{
		diagram.PortCondFalse: diagram.NewEnvelope("no", "cond", nil),
	}, 0)

	m.PublishToken(dia.OutgoingEdges("y")[0], diagram.NewEnvelope("hi", "y", nil), 0)

	if !m.HasNewInputs("x", 0, policy, 0) {
		t.Fatal("expected x ready once y's token arrives, with the skippable edge dropped")
	}
}
