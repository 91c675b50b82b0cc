package probe

import "testing"

func TestAnalyzeHistoryTracksFlips(t *testing.T) {
	first := reportOf("2026-08-01T10:00:00Z", map[string]Outcome{
		"fetch":  OutcomeSuccess,
		"github": OutcomeSuccess,
	}, "fetch", "github")
	second := reportOf("2026-08-02T10:00:00Z", map[string]Outcome{
		"fetch":  OutcomeSuccess,
		"github": OutcomeConnectionError,
	}, "fetch", "github")
	current := reportOf("2026-08-03T10:00:00Z", map[string]Outcome{
		"fetch":  OutcomeSuccess,
		"github": OutcomeSuccess,
	}, "fetch", "github")

	snapshot := AnalyzeHistory([]RunReport{first, second}, current)

	if snapshot.Reports != 3 {
		t.Fatalf("expected 3 reports, got %d", snapshot.Reports)
	}
	if len(snapshot.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(snapshot.Servers))
	}

	fetch := snapshot.Servers[0]
	if fetch.Server != "fetch" {
		t.Fatalf("expected fetch first, got %s", fetch.Server)
	}
	if fetch.Runs != 3 || fetch.Flips != 0 || fetch.SuccessRate != 1.0 {
		t.Fatalf("unexpected fetch trend: %+v", fetch)
	}

	github := snapshot.Servers[1]
	if github.Runs != 3 || github.Successes != 2 {
		t.Fatalf("unexpected github counts: %+v", github)
	}
	if github.Flips != 2 {
		t.Fatalf("expected 2 flips for github, got %d", github.Flips)
	}
	if github.LastOutcome != OutcomeSuccess {
		t.Fatalf("expected last outcome success, got %s", github.LastOutcome)
	}
}

func TestAnalyzeHistoryOrdersByTimestampNotLoadOrder(t *testing.T) {
	older := reportOf("2026-08-01T10:00:00Z", map[string]Outcome{"fetch": OutcomeConnectionError}, "fetch")
	newer := reportOf("2026-08-02T10:00:00Z", map[string]Outcome{"fetch": OutcomeSuccess}, "fetch")
	current := reportOf("2026-08-03T10:00:00Z", map[string]Outcome{"fetch": OutcomeSuccess}, "fetch")

	// History handed over newest first still replays oldest first.
	snapshot := AnalyzeHistory([]RunReport{newer, older}, current)

	fetch := snapshot.Servers[0]
	if fetch.Flips != 1 {
		t.Fatalf("expected a single flip, got %d", fetch.Flips)
	}
	if fetch.LastOutcome != OutcomeSuccess {
		t.Fatalf("expected last outcome success, got %s", fetch.LastOutcome)
	}
}

func TestAnalyzeHistoryCurrentRunOnly(t *testing.T) {
	current := reportOf("2026-08-03T10:00:00Z", map[string]Outcome{"fetch": OutcomeSuccess}, "fetch")

	snapshot := AnalyzeHistory(nil, current)
	if snapshot.Reports != 1 {
		t.Fatalf("expected 1 report, got %d", snapshot.Reports)
	}
	if len(snapshot.Servers) != 1 || snapshot.Servers[0].Runs != 1 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}
