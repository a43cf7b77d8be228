package delegation

import (
	"testing"
	"time"
)

func TestConstraintAllow(t *testing.T) {
	eval, err := NewConstraintEvaluator()
	if err != nil {
		t.Fatalf("NewConstraintEvaluator failed: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expr      string
		operation string
		resource  map[string]any
		want      bool
	}{
		{"operation match", `operation == "cycleProposals.get"`, "cycleProposals.get", nil, true},
		{"operation mismatch", `operation == "cycleProposals.get"`, "vault.withdraw", nil, false},
		{"operation prefix", `operation.startsWith("intents.")`, "intents.list", nil, true},
		{"resource field", `resource.partner_id == "partner-9"`, "cycleProposals.get",
			map[string]any{"partner_id": "partner-9"}, true},
		{"resource field mismatch", `resource.partner_id == "partner-9"`, "cycleProposals.get",
			map[string]any{"partner_id": "partner-3"}, false},
		{"time bound", `now < 1893456000`, "intents.list", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eval.Allow(tc.expr, tc.operation, tc.resource, now)
			if err != nil {
				t.Fatalf("Allow(%q) failed: %v", tc.expr, err)
			}
			if got != tc.want {
				t.Fatalf("Allow(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestConstraintCompileError(t *testing.T) {
	eval, err := NewConstraintEvaluator()
	if err != nil {
		t.Fatalf("NewConstraintEvaluator failed: %v", err)
	}
	if _, err := eval.Allow(`operation ==`, "intents.list", nil, time.Now()); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestConstraintNonBoolResult(t *testing.T) {
	eval, err := NewConstraintEvaluator()
	if err != nil {
		t.Fatalf("NewConstraintEvaluator failed: %v", err)
	}
	if _, err := eval.Allow(`operation + "x"`, "intents.list", nil, time.Now()); err == nil {
		t.Fatal("expected non-bool result error")
	}
}

func TestConstraintMissingResourceField(t *testing.T) {
	eval, err := NewConstraintEvaluator()
	if err != nil {
		t.Fatalf("NewConstraintEvaluator failed: %v", err)
	}
	// Referencing an absent field is an eval error, which callers treat
	// as a failed constraint.
	if _, err := eval.Allow(`resource.partner_id == "x"`, "intents.list", map[string]any{}, time.Now()); err == nil {
		t.Fatal("expected eval error for missing field")
	}
}

func TestConstraintProgramCache(t *testing.T) {
	eval, err := NewConstraintEvaluator()
	if err != nil {
		t.Fatalf("NewConstraintEvaluator failed: %v", err)
	}
	expr := `operation == "intents.list"`
	for i := 0; i < 3; i++ {
		if _, err := eval.Allow(expr, "intents.list", nil, time.Now()); err != nil {
			t.Fatalf("Allow round %d failed: %v", i, err)
		}
	}
	eval.mu.RLock()
	defer eval.mu.RUnlock()
	if len(eval.cache) != 1 {
		t.Fatalf("cache holds %d programs, want 1", len(eval.cache))
	}
}
