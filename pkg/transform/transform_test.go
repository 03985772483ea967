package transform

import (
	"fmt"
	"testing"

	"github.com/flowcraft-run/diagrunner/pkg/diagram"
)

func TestTransformEmptyRulesIsIdentity(t *testing.T) {
	e := New(Strict)
	out, err := e.Transform("hello", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello" {
		t.Fatalf("expected identity, got %v", out)
	}
}

func TestCoerceRawTextToRawTextIsIdentity(t *testing.T) {
	e := New(Strict)
	env := diagram.NewEnvelope("hello", "n1", nil)
	out, err := e.Coerce(env, diagram.ContentRawText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Body != "hello" {
		t.Fatalf("expected identity body, got %v", out.Body)
	}
}

func TestObjectToRawTextRoundTrip(t *testing.T) {
	e := New(Strict)
	obj := map[string]any{"a": float64(1), "b": "two"}
	env := diagram.Envelope{Body: obj, ContentType: diagram.ContentObject}

	asText, err := e.Coerce(env, diagram.ContentRawText)
	if err != nil {
		t.Fatalf("object->raw_text: %v", err)
	}

	backEnv := diagram.Envelope{Body: asText.Body, ContentType: diagram.ContentRawText}
	parsed, err := e.Transform(backEnv.Body, []diagram.TransformRule{{Kind: diagram.RuleParseJSON}})
	if err != nil {
		t.Fatalf("parse_json: %v", err)
	}

	m, ok := parsed.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", parsed)
	}
	if m["b"] != "two" {
		t.Fatalf("round trip mismatch: %v", m)
	}
}

func TestBinaryCoercionErrorsInStrictMode(t *testing.T) {
	e := New(Strict)
	env := diagram.Envelope{Body: []byte("x"), ContentType: diagram.ContentRawText}
	if _, err := e.Coerce(env, diagram.ContentBinary); err == nil {
		t.Fatal("expected error coercing raw_text to binary in strict mode")
	}
}

func TestBinaryCoercionPassesThroughInLooseMode(t *testing.T) {
	e := New(Loose)
	env := diagram.Envelope{Body: "x", ContentType: diagram.ContentRawText}
	out, err := e.Coerce(env, diagram.ContentBinary)
	if err != nil {
		t.Fatalf("loose mode should not error: %v", err)
	}
	if out.Body != "x" {
		t.Fatalf("expected pass-through body, got %v", out.Body)
	}
}

func TestExtractRule(t *testing.T) {
	e := New(Strict)
	rules := []diagram.TransformRule{{Kind: diagram.RuleExtract, Field: "user.name"}}
	value := map[string]any{"user": map[string]any{"name": "ada"}}
	out, err := e.Transform(value, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ada" {
		t.Fatalf("expected ada, got %v", out)
	}
}

func TestWrapRule(t *testing.T) {
	e := New(Strict)
	rules := []diagram.TransformRule{{Kind: diagram.RuleWrap, Key: "text"}}
	out, err := e.Transform("hi", rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["text"] != "hi" {
		t.Fatalf("expected wrapped map, got %v", out)
	}
}

func TestTemplateRuleLocaleGroupsThousands(t *testing.T) {
	e := New(Strict)
	rules := []diagram.TransformRule{{Kind: diagram.RuleTemplate, Format: "%d", Locale: "en"}}
	out, err := e.Transform(1234567, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1,234,567" {
		t.Fatalf("expected locale-grouped number, got %v", out)
	}
}

func TestTemplateRuleWithoutLocaleFallsBackToSprintf(t *testing.T) {
	e := New(Strict)
	rules := []diagram.TransformRule{{Kind: diagram.RuleTemplate, Format: "%d"}}
	out, err := e.Transform(1234567, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1234567" {
		t.Fatalf("expected plain sprintf, got %v", out)
	}
}

func TestTemplateRuleExpressionTakesPriorityOverLocale(t *testing.T) {
	e := New(Strict)
	e.Eval = func(expression string, vars map[string]any) (string, error) {
		return fmt.Sprintf("got:%v", vars["value"]), nil
	}
	rules := []diagram.TransformRule{{Kind: diagram.RuleTemplate, Format: "{{ value }}", Locale: "en"}}
	out, err := e.Transform(42, rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "got:42" {
		t.Fatalf("expected expr-lang path to run, got %v", out)
	}
}
