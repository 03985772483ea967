// Package transform implements the envelope transform engine and the
// edge content-type coercion matrix: §4.1 of the engine design.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
	"github.com/flowcraft-run/diagrunner/pkg/enginerrors"
)

// Mode controls how the coercion matrix handles cells marked "error" in
// the spec: Strict raises, Loose passes the value through unchanged with
// a warning left to the caller to log.
type Mode int

const (
	Strict Mode = iota
	Loose
)

// Engine applies transform rules and coerces values across edge content
// type boundaries. It carries no mutable state; all operations are pure
// functions of their arguments plus the configured Mode.
type Engine struct {
	Mode Mode

	// Eval, if set, evaluates expr-lang-style template expressions for the
	// RuleTemplate rule kind. Nil means RuleTemplate falls back to a plain
	// fmt.Sprintf of the body.
	Eval func(expression string, vars map[string]any) (string, error)
}

// New builds a transform Engine in the given mode.
func New(mode Mode) *Engine {
	return &Engine{Mode: mode}
}

// CreateEnvelope infers a content type from the body's kind and wraps it.
// Equivalent to diagram.NewEnvelope; kept here so callers that only import
// the transform package don't need the diagram package too.
func (e *Engine) CreateEnvelope(body any, producedBy string, meta map[string]any) diagram.Envelope {
	return diagram.NewEnvelope(body, producedBy, meta)
}

// Transform applies an ordered rule list to a value. Rules are pure;
// unknown rule kinds are a no-op. An empty rule list returns the value
// unchanged.
func (e *Engine) Transform(value any, rules []diagram.TransformRule) (any, error) {
	out := value
	for _, r := range rules {
		var err error
		switch r.Kind {
		case diagram.RuleExtract:
			out, err = extractField(out, r.Field)
		case diagram.RuleWrap:
			out = map[string]any{r.Key: out}
		case diagram.RuleMap:
			out = applyMapping(out, r.Mapping)
		case diagram.RuleTemplate:
			out, err = e.applyTemplate(out, r)
		case diagram.RuleParseJSON:
			out, err = parseJSON(out)
		default:
			// Unknown rule kinds are a no-op per spec.
		}
		if err != nil {
			return nil, &enginerrors.EngineError{Kind: enginerrors.KindTransformation, Cause: err}
		}
	}
	return out, nil
}

func extractField(value any, field string) (any, error) {
	if field == "" {
		return value, nil
	}
	cur := value
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cannot extract field %q from non-object value", field)
		}
		v, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("field %q not present", field)
		}
		cur = v
	}
	return cur, nil
}

func applyMapping(value any, mapping map[string]any) any {
	if mapping == nil {
		return value
	}
	key := fmt.Sprintf("%v", value)
	if mapped, ok := mapping[key]; ok {
		return mapped
	}
	return value
}

// applyTemplate renders a RuleTemplate step. In a format containing
// {{ }} expressions, each expression between the delimiters is handed to
// Eval (expr-lang) against the body and its fields and replaced by its
// result; a plain Sprintf verb is rendered with a locale-aware printer
// when rule.Locale names a valid BCP 47 tag, falling back to plain
// fmt.Sprintf otherwise.
func (e *Engine) applyTemplate(value any, rule diagram.TransformRule) (string, error) {
	format := rule.Format
	if format == "" {
		return fmt.Sprintf("%v", value), nil
	}

	if strings.Contains(format, "{{") && e.Eval != nil {
		vars := map[string]any{"value": value}
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				vars[k] = v
			}
		}
		var b strings.Builder
		rest := format
		for {
			open := strings.Index(rest, "{{")
			closeAt := -1
			if open >= 0 {
				closeAt = strings.Index(rest[open+2:], "}}")
			}
			if open < 0 || closeAt < 0 {
				b.WriteString(rest)
				return b.String(), nil
			}
			b.WriteString(rest[:open])
			s, err := e.Eval(strings.TrimSpace(rest[open+2:open+2+closeAt]), vars)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
			rest = rest[open+2+closeAt+2:]
		}
	}

	if rule.Locale != "" {
		if tag, err := language.Parse(rule.Locale); err == nil {
			return message.NewPrinter(tag).Sprintf(format, value), nil
		}
	}
	return fmt.Sprintf(format, value), nil
}

func parseJSON(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("parse_json: %w", err)
	}
	return out, nil
}

// Coerce converts an envelope's body from its actual content type to the
// edge's declared target content type, per the coercion matrix in §4.1.
// An empty target (the edge declares no content type) leaves the envelope
// unchanged. In Loose mode, cells marked "error" in the matrix pass the
// value through unchanged instead of failing.
func (e *Engine) Coerce(env diagram.Envelope, target diagram.ContentType) (diagram.Envelope, error) {
	if target == "" || env.ContentType == target {
		return env, nil
	}
	body, err := e.coerceBody(env.Body, env.ContentType, target)
	if err != nil {
		if e.Mode == Loose {
			return env, nil
		}
		return diagram.Envelope{}, &enginerrors.EngineError{
			Kind:  enginerrors.KindTransformation,
			Cause: fmt.Errorf("%w: %s -> %s: %v", enginerrors.ErrUnsupportedCoercion, env.ContentType, target, err),
		}
	}
	return diagram.Envelope{Body: body, ContentType: target, ProducedBy: env.ProducedBy, Meta: env.Meta}, nil
}

func (e *Engine) coerceBody(body any, from, to diagram.ContentType) (any, error) {
	switch from {
	case diagram.ContentRawText:
		return coerceFromRawText(body, to)
	case diagram.ContentObject:
		return coerceFromObject(body, to)
	case diagram.ContentConversation:
		return coerceFromConversation(body, to)
	case diagram.ContentBinary:
		return coerceFromBinary(body, to)
	default:
		return nil, fmt.Errorf("unknown source content type %q", from)
	}
}

func coerceFromRawText(body any, to diagram.ContentType) (any, error) {
	switch to {
	case diagram.ContentRawText:
		return body, nil
	case diagram.ContentObject:
		text := fmt.Sprintf("%v", body)
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			return parsed, nil
		}
		return map[string]any{"text": body}, nil
	case diagram.ContentConversation:
		return map[string]any{
			"messages": []any{
				map[string]any{"role": "assistant", "content": body},
			},
			"context": map[string]any{},
		}, nil
	case diagram.ContentBinary:
		return nil, fmt.Errorf("raw_text cannot be coerced to binary")
	default:
		return nil, fmt.Errorf("unknown target content type %q", to)
	}
}

func coerceFromObject(body any, to diagram.ContentType) (any, error) {
	switch to {
	case diagram.ContentRawText:
		b, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case diagram.ContentObject:
		return body, nil
	case diagram.ContentConversation:
		if _, ok := body.(map[string]any); ok {
			return body, nil
		}
		return nil, fmt.Errorf("object cannot be coerced to conversation_state unless it is a map")
	case diagram.ContentBinary:
		return nil, fmt.Errorf("object cannot be coerced to binary")
	default:
		return nil, fmt.Errorf("unknown target content type %q", to)
	}
}

func coerceFromConversation(body any, to diagram.ContentType) (any, error) {
	switch to {
	case diagram.ContentRawText:
		return fmt.Sprintf("%v", body), nil
	case diagram.ContentObject:
		return body, nil
	case diagram.ContentConversation:
		return body, nil
	case diagram.ContentBinary:
		return nil, fmt.Errorf("conversation_state cannot be coerced to binary")
	default:
		return nil, fmt.Errorf("unknown target content type %q", to)
	}
}

func coerceFromBinary(body any, to diagram.ContentType) (any, error) {
	if to == diagram.ContentBinary {
		return body, nil
	}
	return nil, fmt.Errorf("binary cannot be coerced to %q", to)
}
