package resolver

import (
	"testing"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
	"github.com/flowcraft-run/diagrunner/pkg/transform"
)

func TestResolvePacksUnlabeledEdgeUnderDefault(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{
			{ID: "a", Type: diagram.NodeTypeCodeJob},
			{ID: "job", Type: diagram.NodeTypeCodeJob},
		},
		[]diagram.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "job", ContentType: diagram.ContentRawText},
		},
	)
	st := statetracker.New()
	st.TransitionToRunning("a", 0)
	st.TransitionToCompleted("a", diagram.NewEnvelope("hello", "a", nil), nil)

	r := New(dia, st, transform.New(transform.Strict))
	inputs, err := r.Resolve(*mustGetNode(dia, "job"), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env, ok := inputs[diagram.PortDefault]
	if !ok || env.Body != "hello" {
		t.Fatalf("expected default input 'hello', got %+v", inputs)
	}
}

func TestResolveMissingRequiredInputFails(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{{ID: "job", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
			"required_inputs": []string{"default"},
		}}},
		nil,
	)
	st := statetracker.New()
	r := New(dia, st, transform.New(transform.Strict))

	_, err := r.Resolve(*mustGetNode(dia, "job"), 0, nil)
	if err == nil {
		t.Fatal("expected input_resolution_error for missing required input")
	}
}

func TestResolveAppliesDefaultForMissingInput(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{{ID: "job", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
			"required_inputs": []string{"default"},
			"defaults":        map[string]any{"default": "fallback"},
		}}},
		nil,
	)
	st := statetracker.New()
	r := New(dia, st, transform.New(transform.Strict))

	inputs, err := r.Resolve(*mustGetNode(dia, "job"), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inputs["default"].Body != "fallback" {
		t.Fatalf("expected fallback default, got %+v", inputs)
	}
}

func TestPersonJobFirstInputOnlyOnFirstInvocation(t *testing.T) {
	dia := diagram.New(
		[]diagram.Node{
			{ID: "a", Type: diagram.NodeTypeCodeJob},
			{ID: "b", Type: diagram.NodeTypeCodeJob},
			{ID: "pj", Type: diagram.NodeTypePersonJob},
		},
		[]diagram.Edge{
			{ID: "e1", SourceNodeID: "a", TargetNodeID: "pj", TargetInput: "first"},
			{ID: "e2", SourceNodeID: "b", TargetNodeID: "pj", TargetInput: "default"},
		},
	)
	st := statetracker.New()
	st.TransitionToCompleted("a", diagram.NewEnvelope("a-out", "a", nil), nil)
	st.TransitionToCompleted("b", diagram.NewEnvelope("b-out", "b", nil), nil)
	r := New(dia, st, transform.New(transform.Strict))

	st.TransitionToRunning("pj", 0)
	inputs, err := r.Resolve(*mustGetNode(dia, "pj"), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := inputs["first"]; !ok {
		t.Fatal("expected 'first' input present on first invocation")
	}

	st.TransitionToRunning("pj", 0)
	inputs, err = r.Resolve(*mustGetNode(dia, "pj"), 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := inputs["first"]; ok {
		t.Fatal("expected 'first' input dropped on subsequent invocation")
	}
}

func mustGetNode(dia *diagram.Diagram, id string) *diagram.Node {
	n, ok := dia.GetNode(id)
	if !ok {
		panic("node not found: " + id)
	}
	return n
}
