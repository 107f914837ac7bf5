package filter

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func requireJQ(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("jq"); err != nil {
		t.Skip("jq not installed")
	}
}

func TestEvaluateProduces(t *testing.T) {
	requireJQ(t)
	e := NewEngine("jq", 2*time.Second)

	out, dropped := e.Evaluate(context.Background(), `{branch: .ref}`, []byte(`{"ref":"refs/heads/main"}`))
	if dropped {
		t.Fatal("Expected output, got dropped")
	}
	if string(out) != `{"branch":"refs/heads/main"}` {
		t.Errorf("Unexpected output: %s", out)
	}
}

func TestEvaluateSelectDrops(t *testing.T) {
	requireJQ(t)
	e := NewEngine("jq", 2*time.Second)

	_, dropped := e.Evaluate(context.Background(), `select(.action == "opened")`, []byte(`{"action":"closed"}`))
	if !dropped {
		t.Error("Expected dropped for unmatched select")
	}

	out, dropped := e.Evaluate(context.Background(), `select(.action == "opened")`, []byte(`{"action":"opened"}`))
	if dropped {
		t.Error("Expected produced for matched select")
	}
	if len(out) == 0 {
		t.Error("Expected non-empty output")
	}
}

func TestEvaluateFalseAndNullDrop(t *testing.T) {
	requireJQ(t)
	e := NewEngine("jq", 2*time.Second)

	if _, dropped := e.Evaluate(context.Background(), `.action == "opened"`, []byte(`{"action":"closed"}`)); !dropped {
		t.Error("Expected literal false to drop")
	}
	if _, dropped := e.Evaluate(context.Background(), `.missing`, []byte(`{}`)); !dropped {
		t.Error("Expected literal null to drop")
	}
}

func TestEvaluateBadExpressionDrops(t *testing.T) {
	requireJQ(t)
	e := NewEngine("jq", 2*time.Second)

	if _, dropped := e.Evaluate(context.Background(), `((`, []byte(`{}`)); !dropped {
		t.Error("Expected compile failure to drop")
	}
}

func TestEvaluateMissingBinaryDrops(t *testing.T) {
	e := NewEngine("/nonexistent/jq", time.Second)

	if _, dropped := e.Evaluate(context.Background(), `.`, []byte(`{}`)); !dropped {
		t.Error("Expected missing binary to drop")
	}
}
