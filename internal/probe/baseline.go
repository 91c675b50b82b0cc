package probe

import "sort"

// Outcome severity ranks, best first. Comparing ranks between two runs of
// the same server decides whether a change counts as a regression.
var outcomeRank = map[Outcome]int{
	OutcomeSuccess:         0,
	OutcomeNotConfigured:   1,
	OutcomeOAuthRequired:   2,
	OutcomeAuthError:       3,
	OutcomeConnectionError: 4,
	OutcomeGenericError:    5,
}

// OutcomeChange records one server whose outcome moved between two reports.
type OutcomeChange struct {
	Server string  `json:"server"`
	From   Outcome `json:"from"`
	To     Outcome `json:"to"`
}

// BaselineDiff summarizes per-server movement between a stored baseline
// report and the current run. Regressed and Improved follow the current
// report's ordering; Removed is sorted by name.
type BaselineDiff struct {
	BaselineTimestamp string          `json:"baseline_timestamp"`
	CurrentTimestamp  string          `json:"current_timestamp"`
	Regressed         []OutcomeChange `json:"regressed"`
	Improved          []OutcomeChange `json:"improved"`
	Added             []string        `json:"added"`
	Removed           []string        `json:"removed"`
	Unchanged         int             `json:"unchanged"`
}

func (d BaselineDiff) HasRegressions() bool {
	return len(d.Regressed) > 0
}

// CompareWithBaseline diffs the current report against an earlier one,
// matching servers by name. A server moving to a worse-ranked outcome is a
// regression; an outcome change between equal ranks is treated as a
// regression too, so unknown statuses never hide a shift.
func CompareWithBaseline(current, baseline RunReport) BaselineDiff {
	diff := BaselineDiff{
		BaselineTimestamp: baseline.Summary.Timestamp,
		CurrentTimestamp:  current.Summary.Timestamp,
	}

	before := make(map[string]Outcome, len(baseline.Results))
	for _, result := range baseline.Results {
		before[result.Server] = result.Outcome
	}

	seen := make(map[string]bool, len(current.Results))
	for _, result := range current.Results {
		seen[result.Server] = true
		prev, ok := before[result.Server]
		if !ok {
			diff.Added = append(diff.Added, result.Server)
			continue
		}
		change := OutcomeChange{Server: result.Server, From: prev, To: result.Outcome}
		switch {
		case result.Outcome == prev:
			diff.Unchanged++
		case rankOutcome(result.Outcome) < rankOutcome(prev):
			diff.Improved = append(diff.Improved, change)
		default:
			diff.Regressed = append(diff.Regressed, change)
		}
	}

	for server := range before {
		if !seen[server] {
			diff.Removed = append(diff.Removed, server)
		}
	}
	sort.Strings(diff.Removed)
	return diff
}

func rankOutcome(outcome Outcome) int {
	if rank, ok := outcomeRank[outcome]; ok {
		return rank
	}
	return len(outcomeRank)
}
