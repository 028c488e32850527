package journal

import (
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSessionCreated(t *testing.T) {
	j := openTestJournal(t)
	if j.SessionID() == "" {
		t.Fatalf("expected non-empty session id")
	}
	var n int
	if err := j.DB().QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 session row, got %d", n)
	}
}

func TestLogOperation(t *testing.T) {
	j := openTestJournal(t)

	err := j.LogOperation(OperationEntry{
		Kind:           "move",
		Target:         "scale_ready",
		Decision:       DecisionOK,
		PositionBefore: "global_ready",
		PositionAfter:  "scale_ready",
	})
	if err != nil {
		t.Fatalf("log ok op: %v", err)
	}
	err = j.LogOperation(OperationEntry{
		Kind:           "action",
		Target:         "tamp_mold",
		Decision:       DecisionRejected,
		Reason:         "tool not engaged",
		PositionBefore: "scale_ready",
		PositionAfter:  "scale_ready",
	})
	if err != nil {
		t.Fatalf("log rejected op: %v", err)
	}

	n, err := j.OperationCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 operations, got %d", n)
	}

	var reason string
	err = j.DB().QueryRow(
		`SELECT reason FROM operations WHERE decision = ?`, DecisionRejected,
	).Scan(&reason)
	if err != nil {
		t.Fatalf("query reason: %v", err)
	}
	if reason != "tool not engaged" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestLogOperationMetadata(t *testing.T) {
	j := openTestJournal(t)

	err := j.LogOperation(OperationEntry{
		Kind:           "action",
		Target:         "trickler_dispense",
		Decision:       DecisionOK,
		PositionBefore: "scale_active",
		PositionAfter:  "scale_active",
		Metadata:       map[string]string{"target_grams": "0.5000", "batch": "7"},
	})
	if err != nil {
		t.Fatalf("log op: %v", err)
	}

	var meta string
	err = j.DB().QueryRow(
		`SELECT metadata FROM operations WHERE target = ?`, "trickler_dispense",
	).Scan(&meta)
	if err != nil {
		t.Fatalf("query metadata: %v", err)
	}
	if meta != "batch=7,target_grams=0.5000" {
		t.Fatalf("unexpected metadata %q", meta)
	}
}

func TestLogDispenseSample(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 3; i++ {
		err := j.LogDispenseSample(DispenseSample{
			Iteration:   i,
			Phase:       1,
			StepMM:      4.0,
			WeightGrams: float64(i) * 0.1,
			Stable:      true,
		})
		if err != nil {
			t.Fatalf("log sample %d: %v", i, err)
		}
	}

	var n int
	err := j.DB().QueryRow(
		`SELECT COUNT(*) FROM dispense_samples WHERE session_id = ?`, j.SessionID(),
	).Scan(&n)
	if err != nil {
		t.Fatalf("count samples: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
}

func TestNilJournalIsNoOp(t *testing.T) {
	var j *Journal
	if err := j.LogOperation(OperationEntry{Kind: "move", Target: "x"}); err != nil {
		t.Fatalf("nil LogOperation: %v", err)
	}
	if err := j.LogDispenseSample(DispenseSample{}); err != nil {
		t.Fatalf("nil LogDispenseSample: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
	if j.SessionID() != "" {
		t.Fatalf("nil SessionID should be empty")
	}
}
