// Package resolver implements the input resolution pipeline described in
// §4.7: edge selection, PersonJob's "first"-input rule, value fetch and
// coercion, transform-rule application, packing, special-input merge, and
// default substitution.
package resolver

import (
	"fmt"
	"strings"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/enginerrors"
	"github.com/flowcraft-run/diagrunner/pkg/statetracker"
	"github.com/flowcraft-run/diagrunner/pkg/transform"
)

// Resolver computes a node's input map for one invocation.
type Resolver struct {
	dia *diagram.Diagram
	st  *statetracker.Tracker
	xf  *transform.Engine
}

// New builds a Resolver over a diagram's edges, the shared state tracker,
// and a transform engine for coercion and rule application.
func New(dia *diagram.Diagram, st *statetracker.Tracker, xf *transform.Engine) *Resolver {
	return &Resolver{dia: dia, st: st, xf: xf}
}

func isUsableSource(status statetracker.Status) bool {
	return status == statetracker.StatusCompleted || status == statetracker.StatusMaxIterReached
}

// selectIncomingEdges implements the source-status part of §4.7 step 1:
// it drops edges whose source is not COMPLETED or MAXITER_REACHED. Edges
// are not filtered by iteration or branch_id metadata on the source
// envelope.
func (r *Resolver) selectIncomingEdges(node diagram.Node) []diagram.Edge {
	all := r.dia.IncomingEdges(node.ID)
	selected := make([]diagram.Edge, 0, len(all))
	for _, e := range all {
		if !isUsableSource(r.st.GetNodeState(e.SourceNodeID).Status) {
			continue
		}
		selected = append(selected, e)
	}
	return selected
}

// Branch filtering (condition nodes emitting on exactly one port) is
// already enforced upstream by the token manager's EmitOutputs/
// HasNewInputs: the scheduler never marks a node ready on the strength of
// an inactive branch. Input resolution therefore only runs against edges
// whose source has already produced usable output, so no separate
// iteration/branch re-check is needed here.

// hasFirstInput reports whether any edge targets the PersonJob "first"
// input (or a dotted sub-path of it).
func hasFirstInput(edges []diagram.Edge) bool {
	for _, e := range edges {
		if e.TargetInput == "first" || strings.HasPrefix(e.TargetInput, "first.") {
			return true
		}
	}
	return false
}

func isFirstInputEdge(e diagram.Edge) bool {
	return e.TargetInput == "first" || strings.HasPrefix(e.TargetInput, "first.")
}

// applyPersonJobFirstInputRule implements §4.7 step 2: when a PersonJob
// node's execution count is 1 (its first invocation, counted across all
// epochs), process only its "first" edges if any exist; on later
// invocations, drop them.
func (r *Resolver) applyPersonJobFirstInputRule(node diagram.Node, edges []diagram.Edge, execCount int) []diagram.Edge {
	if node.Type != diagram.NodeTypePersonJob || !hasFirstInput(edges) {
		return edges
	}
	out := make([]diagram.Edge, 0, len(edges))
	if execCount == 1 {
		for _, e := range edges {
			if isFirstInputEdge(e) {
				out = append(out, e)
			}
		}
		return out
	}
	for _, e := range edges {
		if !isFirstInputEdge(e) {
			out = append(out, e)
		}
	}
	return out
}

func packKey(e diagram.Edge) string {
	if e.TargetInput == "" {
		return diagram.PortDefault
	}
	return e.TargetInput
}

// Resolve runs the full input resolution pipeline for one invocation of
// node, merging in the process-wide variables map for special inputs.
func (r *Resolver) Resolve(node diagram.Node, epoch int, variables map[string]any) (map[string]diagram.Envelope, error) {
	if node.Type == diagram.NodeTypeStart {
		return map[string]diagram.Envelope{}, nil
	}

	execCount := r.st.GetExecutionCount(node.ID)
	edges := r.selectIncomingEdges(node)
	edges = r.applyPersonJobFirstInputRule(node, edges, execCount)

	inputs := make(map[string]diagram.Envelope, len(edges))
	for _, e := range edges {
		env, ok := r.st.GetLastOutput(e.SourceNodeID)
		if !ok {
			continue
		}

		coerced, err := r.xf.Coerce(env, e.ContentType)
		if err != nil {
			return nil, enginerrors.NewEdge(enginerrors.KindTransformation, node.ID, e.ID, err)
		}

		body := coerced.Body
		if len(e.TransformRules) > 0 {
			body, err = r.xf.Transform(body, e.TransformRules)
			if err != nil {
				return nil, enginerrors.NewEdge(enginerrors.KindTransformation, node.ID, e.ID, err)
			}
		}
		coerced.Body = body

		inputs[packKey(e)] = coerced
	}

	for k, v := range variables {
		if _, exists := inputs[k]; !exists {
			inputs[k] = diagram.NewEnvelope(v, "variables", nil)
		}
	}

	if err := r.applyDefaults(node, inputs); err != nil {
		return nil, err
	}

	return inputs, nil
}

// applyDefaults implements §4.7 step 7: substitute declared defaults for
// missing required inputs, or fail with input_resolution_error.
func (r *Resolver) applyDefaults(node diagram.Node, inputs map[string]diagram.Envelope) error {
	required, _ := node.Config["required_inputs"].([]string)
	defaults, _ := node.Config["defaults"].(map[string]any)

	for _, key := range required {
		if !isHandleRequired(node, key, inputs) {
			continue
		}
		if _, ok := inputs[key]; ok {
			continue
		}
		if def, ok := defaults[key]; ok {
			inputs[key] = diagram.NewEnvelope(def, "default", nil)
			continue
		}
		return enginerrors.New(enginerrors.KindInputResolution, node.ID,
			fmt.Errorf("%w: %q", enginerrors.ErrMissingRequiredInput, key))
	}
	return nil
}

// isHandleRequired implements the conditional-requirement carve-outs from
// §9: a PersonJob's "first" input is not required once a "default" input
// is already present, and condition nodes' condtrue/condfalse are output
// ports, never input requirements.
func isHandleRequired(node diagram.Node, key string, inputs map[string]diagram.Envelope) bool {
	if node.Type == diagram.NodeTypePersonJob && key == "first" {
		if _, ok := inputs[diagram.PortDefault]; ok {
			return false
		}
	}
	if node.Type == diagram.NodeTypeCondition && (key == diagram.PortCondTrue || key == diagram.PortCondFalse) {
		return false
	}
	return true
}
