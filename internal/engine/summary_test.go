package engine_test

import (
	"testing"

	"checkline/internal/domain"
	"checkline/internal/engine"
)

func TestParseRunSummary(t *testing.T) {
	text := `verification report for T-1
base ref: origin/main
expectation expose-post-orders-endpoint-1: PASS
expectation persist-order-in-database-2: FAIL
result: FAIL
`
	got := engine.ParseRunSummary(text)
	if got == nil {
		t.Fatalf("expected parsed summary")
	}
	if got["expose-post-orders-endpoint-1"] != domain.ItemPassed {
		t.Fatalf("pass line parsed as %q", got["expose-post-orders-endpoint-1"])
	}
	if got["persist-order-in-database-2"] != domain.ItemFailed {
		t.Fatalf("fail line parsed as %q", got["persist-order-in-database-2"])
	}
	if len(got) != 2 {
		t.Fatalf("parsed %d items", len(got))
	}
}

func TestParseRunSummaryUnparseable(t *testing.T) {
	if got := engine.ParseRunSummary("jest exited with code 1"); got != nil {
		t.Fatalf("expected nil for free-form output, got %v", got)
	}
	if got := engine.ParseRunSummary(""); got != nil {
		t.Fatalf("expected nil for empty output")
	}
	// the marker must start the line, indented echoes do not count
	if got := engine.ParseRunSummary("  expectation key-1: PASS"); got != nil {
		t.Fatalf("expected nil for indented line, got %v", got)
	}
}

func TestParseRunTaskID(t *testing.T) {
	text := `spec .checkline/specs/T-1.json (task T-1)
expectation expose-post-orders-endpoint-1: PASS
result: PASS
`
	if got := engine.ParseRunTaskID(text); got != "T-1" {
		t.Fatalf("task id parsed as %q", got)
	}
	if got := engine.ParseRunTaskID("jest exited with code 1"); got != "" {
		t.Fatalf("expected empty id for free-form output, got %q", got)
	}
	if got := engine.ParseRunTaskID(""); got != "" {
		t.Fatalf("expected empty id for empty output, got %q", got)
	}
}
