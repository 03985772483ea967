package expression

import "testing"

func TestEvalTemplateStringResult(t *testing.T) {
	out, err := EvalTemplate(`upper(name)`, map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ADA" {
		t.Fatalf("expected ADA, got %v", out)
	}
}

func TestEvalTemplateNonStringResultIsFormatted(t *testing.T) {
	out, err := EvalTemplate(`value * 2`, map[string]any{"value": 21})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42" {
		t.Fatalf("expected 42, got %v", out)
	}
}

func TestEvalTemplateCachesCompiledProgram(t *testing.T) {
	for i := 0; i < 2; i++ {
		out, err := EvalTemplate(`contains(text, "wo")`, map[string]any{"text": "world"})
		if err != nil {
			t.Fatalf("unexpected error on run %d: %v", i, err)
		}
		if out != "true" {
			t.Fatalf("expected true, got %v", out)
		}
	}
}

func TestEvalTemplateSyntaxError(t *testing.T) {
	if _, err := EvalTemplate(`(((`, nil); err == nil {
		t.Fatal("expected a compilation error")
	}
}
