// Package validate runs boot-time validation of a diagram's node config
// blobs against the JSON Schema a handler registers for its node type.
// Diagram loading and compilation are out of scope for this module (the
// engine assumes it is handed an already-compiled diagram); this package
// is the defense-in-depth check the engine still runs against what it can
// see, before its main loop starts.
package validate

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/enginerrors"
	"github.com/flowcraft-run/diagrunner/pkg/handler"
)

// Diagram validates every node's Config against the JSON Schema the
// registry has for its node type. Node types with no registered schema
// are skipped. Returns the first validation failure found, wrapped as a
// KindValidation EngineError carrying the offending node's id.
func Diagram(dia *diagram.Diagram, registry *handler.Registry) error {
	for _, n := range dia.Nodes {
		schema, ok := registry.Schema(n.Type)
		if !ok {
			continue
		}

		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewGoLoader(n.Config),
		)
		if err != nil {
			return enginerrors.New(enginerrors.KindValidation, n.ID, fmt.Errorf("loading schema for %s: %w", n.Type, err))
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			return enginerrors.New(enginerrors.KindValidation, n.ID,
				fmt.Errorf("node %q config invalid: %s", n.ID, strings.Join(msgs, "; ")))
		}
	}
	return nil
}
