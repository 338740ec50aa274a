package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	start := time.Now().Add(-time.Minute)

	if err := s.StartRun("run-1", "camera", "sony a7m4", start); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := s.RecordAttempt("run-1", AttemptRow{Attempt: 1, Account: "a.json", Outcome: "risk_control", Error: "risk control triggered: baxia"}); err != nil {
		t.Fatalf("RecordAttempt 1: %v", err)
	}
	if err := s.RecordAttempt("run-1", AttemptRow{Attempt: 2, Account: "b.json", Outcome: "succeeded"}); err != nil {
		t.Fatalf("RecordAttempt 2: %v", err)
	}
	if err := s.FinishRun("run-1", 2, 7, StatusSucceeded, "", time.Now()); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	runs, err := s.RecentRuns("camera", 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Status != StatusSucceeded || r.Processed != 7 || r.Attempts != 2 {
		t.Errorf("unexpected run summary: %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}

	attempts, err := s.Attempts("run-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 2 || attempts[0].Outcome != "risk_control" || attempts[1].Account != "b.json" {
		t.Errorf("unexpected attempts: %+v", attempts)
	}
}

func TestRecordAttemptIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.StartRun("run-1", "t", "k", time.Now()); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	row := AttemptRow{Attempt: 1, Outcome: "succeeded"}
	if err := s.RecordAttempt("run-1", row); err != nil {
		t.Fatalf("first RecordAttempt: %v", err)
	}
	if err := s.RecordAttempt("run-1", row); err != nil {
		t.Fatalf("second RecordAttempt (duplicate): %v", err)
	}
	attempts, err := s.Attempts("run-1")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.StartRun(id, "t", "k", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("StartRun %s: %v", id, err)
		}
	}
	runs, err := s.RecentRuns("t", 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "r3" || runs[1].RunID != "r2" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	if runs[0].Status != StatusRunning || runs[0].FinishedAt != nil {
		t.Errorf("expected unfinished running run, got %+v", runs[0])
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	if err := s.StartRun("old", "t", "k", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("StartRun old: %v", err)
	}
	if err := s.RecordAttempt("old", AttemptRow{Attempt: 1, Outcome: "failed"}); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := s.StartRun("new", "t", "k", time.Now()); err != nil {
		t.Fatalf("StartRun new: %v", err)
	}

	if err := s.Cleanup(24 * time.Hour); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	runs, err := s.RecentRuns("t", 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "new" {
		t.Fatalf("expected only the new run, got %+v", runs)
	}
	attempts, err := s.Attempts("old")
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Fatalf("expected old attempts removed, got %+v", attempts)
	}
}
