// Package expression wraps expr-lang/expr for the transform engine's
// template rule: compiling a short expression against a flat variable
// map and returning its rendered value. Condition evaluation and the
// rest of the teacher's expression surface (node/context references, a
// custom lexer, Map/Reduce-node arithmetic) belong to handler
// implementations, which are out of scope here.
package expression

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var (
	cacheMu sync.Mutex
	cache   = make(map[string]*vm.Program)
)

// Eval compiles expr (reusing a cached compile when seen before) and runs
// it against vars plus a small set of string helpers.
func Eval(expr_ string, vars map[string]any) (any, error) {
	env := buildEnv(vars)

	cacheMu.Lock()
	program, ok := cache[expr_]
	cacheMu.Unlock()
	if !ok {
		compiled, err := expr.Compile(expr_, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("expression compilation failed: %w", err)
		}
		cacheMu.Lock()
		cache[expr_] = compiled
		cacheMu.Unlock()
		program = compiled
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("expression execution failed: %w", err)
	}
	return out, nil
}

// EvalTemplate evaluates expr against vars and renders the result as a
// string. It matches the signature pkg/transform's RuleTemplate
// expression mode expects.
func EvalTemplate(expr string, vars map[string]any) (string, error) {
	out, err := Eval(expr, vars)
	if err != nil {
		return "", err
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", out), nil
}

func buildEnv(vars map[string]any) map[string]any {
	env := make(map[string]any, len(vars)+6)
	for k, v := range vars {
		env[k] = v
	}
	env["contains"] = strings.Contains
	env["startsWith"] = strings.HasPrefix
	env["endsWith"] = strings.HasSuffix
	env["upper"] = strings.ToUpper
	env["lower"] = strings.ToLower
	env["trim"] = strings.TrimSpace
	return env
}
