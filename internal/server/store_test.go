package server

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreRunLifecycle(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := RunMeta{
		RunID:       "run_test_1",
		Status:      "queued",
		Source:      "test",
		CreatorType: "admin",
		CreatedAt:   nowRFC3339(),
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	event, err := store.AppendRunEvent(meta.RunID, "queue", "queued", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent error: %v", err)
	}
	if event.Seq != 1 {
		t.Fatalf("expected first seq=1, got %d", event.Seq)
	}
	updated, err := store.UpdateRun(meta.RunID, func(item *RunMeta) {
		item.Status = "running"
	})
	if err != nil {
		t.Fatalf("UpdateRun error: %v", err)
	}
	if updated.Status != "running" {
		t.Fatalf("expected status running, got %s", updated.Status)
	}
}

func TestMemoryStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	meta := RunMeta{
		RunID:       "run_persist_1",
		Status:      "pass",
		CreatorType: "admin",
		CreatorSub:  "u1",
		Source:      "admin.manual",
		CreatedAt:   nowRFC3339(),
		Tally:       OutcomeTally{TotalServers: 15, Successful: 12, NotConfigured: 3},
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	if _, err := store.AppendRunEvent(meta.RunID, "completed", "run completed", map[string]any{"status": "pass"}); err != nil {
		t.Fatalf("AppendRunEvent error: %v", err)
	}

	reloaded, err := NewMemoryFileStore(path)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got, ok := reloaded.GetRun("run_persist_1")
	if !ok {
		t.Fatalf("run missing after reload")
	}
	if got.Tally.Successful != 12 {
		t.Fatalf("expected tally to survive reload, got %+v", got.Tally)
	}
	events := reloaded.ListRunEvents("run_persist_1", 0)
	if len(events) != 1 || events[0].Stage != "completed" {
		t.Fatalf("expected completed event after reload, got %v", events)
	}

	// seq continues after the reloaded maximum
	next, err := reloaded.AppendRunEvent("run_persist_1", "note", "post reload", nil)
	if err != nil {
		t.Fatalf("AppendRunEvent after reload: %v", err)
	}
	if next.Seq != 2 {
		t.Fatalf("expected seq=2 after reload, got %d", next.Seq)
	}
}

func TestMemoryStoreListRunsByCreator(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	runs := []RunMeta{
		{RunID: "run_a", Status: "pass", CreatorSub: "alice", CreatedAt: "2026-08-23T10:00:00Z"},
		{RunID: "run_b", Status: "fail", CreatorSub: "bob", CreatedAt: "2026-08-23T10:01:00Z"},
		{RunID: "run_c", Status: "pass", CreatorSub: "alice", CreatedAt: "2026-08-23T10:02:00Z"},
	}
	for _, meta := range runs {
		if err := store.CreateRun(meta); err != nil {
			t.Fatalf("CreateRun %s: %v", meta.RunID, err)
		}
	}
	mine := store.ListRunsByCreator("alice", 10)
	if len(mine) != 2 {
		t.Fatalf("expected 2 runs for alice, got %d", len(mine))
	}
	if mine[0].RunID != "run_c" {
		t.Fatalf("expected newest first, got %s", mine[0].RunID)
	}
}

func TestMemoryStoreEventCursor(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	if err := store.CreateRun(RunMeta{RunID: "run_ev", Status: "running", CreatedAt: nowRFC3339()}); err != nil {
		t.Fatalf("CreateRun error: %v", err)
	}
	for _, stage := range []string{"queue", "start", "probe_start"} {
		if _, err := store.AppendRunEvent("run_ev", stage, stage, nil); err != nil {
			t.Fatalf("AppendRunEvent %s: %v", stage, err)
		}
	}
	after := store.ListRunEvents("run_ev", 1)
	if len(after) != 2 {
		t.Fatalf("expected 2 events after seq 1, got %d", len(after))
	}
	if after[0].Stage != "start" || after[1].Stage != "probe_start" {
		t.Fatalf("unexpected event order: %v", after)
	}
}

func TestGetMetricsOverview(t *testing.T) {
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore error: %v", err)
	}
	runs := []RunMeta{
		{
			RunID: "run_1", Status: "pass", CreatedAt: "2026-08-23T10:00:00Z",
			StartedAt: "2026-08-23T10:00:00Z", FinishedAt: "2026-08-23T10:00:10Z",
			Tally: OutcomeTally{TotalServers: 15, Successful: 15},
		},
		{
			RunID: "run_2", Status: "fail", CreatedAt: "2026-08-23T10:01:00Z",
			StartedAt: "2026-08-23T10:01:00Z", FinishedAt: "2026-08-23T10:01:30Z",
			Tally: OutcomeTally{TotalServers: 15, Successful: 10, TotalErrors: 4, NotConfigured: 1},
		},
		{RunID: "run_3", Status: "queued", CreatedAt: "2026-08-23T10:02:00Z"},
	}
	for _, meta := range runs {
		if err := store.CreateRun(meta); err != nil {
			t.Fatalf("CreateRun %s: %v", meta.RunID, err)
		}
	}
	overview := store.GetMetricsOverview()
	if overview.TotalRuns != 3 || overview.PassRuns != 1 || overview.FailRuns != 1 || overview.RunningRuns != 1 {
		t.Fatalf("unexpected run counts: %+v", overview)
	}
	if overview.ProbesExecuted != 30 || overview.ProbesSucceeded != 25 || overview.ProbesErrored != 4 {
		t.Fatalf("unexpected probe counters: %+v", overview)
	}
	// (10s + 30s) / 2 finished runs
	if overview.AverageDuration != 20000 {
		t.Fatalf("expected average 20000ms, got %d", overview.AverageDuration)
	}
}
