package scheduler

import (
	"testing"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
	"github.com/flowcraft-run/diagrunner/pkg/tokenmanager"
)

func TestBootstrapReadyIncludesZeroIndegreeStart(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{{ID: "start", Type: diagram.NodeTypeStart}, {ID: "job", Type: diagram.NodeTypeCodeJob}},
		[]diagram.Edge{{ID: "e1", SourceNodeID: "start", TargetNodeID: "job"}},
	)
	tm := tokenmanager.New(dia)
	st := statetracker.New()
	sched := New(dia, tm, st)

	ready := sched.GetReadyNodes(0)
	if len(ready) != 1 || ready[0].ID != "start" {
		t.Fatalf("expected only start ready at bootstrap, got %v", ready)
	}
}

func TestPriorityOrderingStartBeforeConditionBeforePersonJobBeforeOthers(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{
			{ID: "other", Type: diagram.NodeTypeCodeJob},
			{ID: "pj", Type: diagram.NodeTypePersonJob},
			{ID: "cond", Type: diagram.NodeTypeCondition},
			{ID: "start", Type: diagram.NodeTypeStart},
		},
		nil,
	)
	tm := tokenmanager.New(dia)
	st := statetracker.New()
	sched := New(dia, tm, st)

	ready := sched.GetReadyNodes(0)
	if len(ready) != 4 {
		t.Fatalf("expected all 4 orphan nodes ready, got %d", len(ready))
	}
	order := []diagram.NodeType{ready[0].Type, ready[1].Type, ready[2].Type, ready[3].Type}
	want := []diagram.NodeType{diagram.NodeTypeStart, diagram.NodeTypeCondition, diagram.NodeTypePersonJob, diagram.NodeTypeCodeJob}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected priority order: %v", order)
		}
	}
}

func TestLowerPriorityEdgeSiblingWithheldUntilHigherNotPending(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{
			{ID: "s", Type: diagram.NodeTypeStart},
			{ID: "h", Type: diagram.NodeTypeCodeJob},
			{ID: "l", Type: diagram.NodeTypeCodeJob},
		},
		[]diagram.Edge{
			{ID: "e_h", SourceNodeID: "s", TargetNodeID: "h", ExecutionPriority: 10},
			{ID: "e_l", SourceNodeID: "s", TargetNodeID: "l", ExecutionPriority: 0},
		},
	)
	tm := tokenmanager.New(dia)
	st := statetracker.New()
	sched := New(dia, tm, st)

	tm.PublishToken(dia.OutgoingEdges("s")[0], diagram.NewEnvelope("x", "s", nil), 0)
	tm.PublishToken(dia.OutgoingEdges("s")[1], diagram.NewEnvelope("x", "s", nil), 0)

	ready := sched.GetReadyNodes(0)
	ids := map[string]bool{}
	for _, n := range ready {
		ids[n.ID] = true
	}
	if !ids["h"] {
		t.Fatal("expected higher-priority sibling h to be ready")
	}
	if ids["l"] {
		t.Fatal("expected lower-priority sibling l to be withheld while h is pending")
	}

	sched.MarkNodeRunning("h", 0)
	st.TransitionToRunning("h", 0)
	st.TransitionToCompleted("h", diagram.NewEnvelope("done", "h", nil), nil)
	sched.MarkNodeComplete("h", 0)

	ready = sched.GetReadyNodes(0)
	ids = map[string]bool{}
	for _, n := range ready {
		ids[n.ID] = true
	}
	if !ids["l"] {
		t.Fatal("expected l to become ready once h completed")
	}
}
