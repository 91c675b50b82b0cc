package probe

import (
	"sort"
	"strings"
	"time"
)

// ServerTrend aggregates one server's outcomes across a report history.
// Flips counts outcome changes between consecutive appearances, so a server
// toggling between success and connection_error stands out even when its
// overall success rate looks healthy.
type ServerTrend struct {
	Server      string  `json:"server"`
	Runs        int     `json:"runs"`
	Successes   int     `json:"successes"`
	SuccessRate float64 `json:"success_rate"`
	Flips       int     `json:"flips"`
	LastOutcome Outcome `json:"last_outcome"`
}

// HistorySnapshot is the per-server trend view over a set of run reports.
type HistorySnapshot struct {
	GeneratedAt string        `json:"generated_at"`
	Reports     int           `json:"reports"`
	Servers     []ServerTrend `json:"servers"`
}

// AnalyzeHistory folds stored reports plus the current one into per-server
// trends, ordered by first appearance. Reports are replayed in timestamp
// order so Flips and LastOutcome reflect the real sequence of runs, not the
// order files were loaded in.
func AnalyzeHistory(history []RunReport, current RunReport) HistorySnapshot {
	reports := make([]RunReport, 0, len(history)+1)
	reports = append(reports, history...)
	reports = append(reports, current)
	reports = sortReportsByTime(reports)

	order := []string{}
	trends := map[string]*ServerTrend{}

	for _, report := range reports {
		for _, result := range report.Results {
			trend, ok := trends[result.Server]
			if !ok {
				trend = &ServerTrend{Server: result.Server}
				trends[result.Server] = trend
				order = append(order, result.Server)
			}
			if trend.Runs > 0 && trend.LastOutcome != result.Outcome {
				trend.Flips++
			}
			trend.Runs++
			if result.Outcome == OutcomeSuccess {
				trend.Successes++
			}
			trend.LastOutcome = result.Outcome
		}
	}

	snapshot := HistorySnapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Reports:     len(reports),
		Servers:     make([]ServerTrend, 0, len(order)),
	}
	for _, server := range order {
		trend := trends[server]
		if trend.Runs > 0 {
			trend.SuccessRate = float64(trend.Successes) / float64(trend.Runs)
		}
		snapshot.Servers = append(snapshot.Servers, *trend)
	}
	return snapshot
}

func sortReportsByTime(reports []RunReport) []RunReport {
	out := make([]RunReport, len(reports))
	copy(out, reports)
	sort.SliceStable(out, func(i, j int) bool {
		ti := parseReportTime(out[i].Summary.Timestamp)
		tj := parseReportTime(out[j].Summary.Timestamp)
		return ti.Before(tj)
	})
	return out
}

func parseReportTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Unix(0, 0)
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Unix(0, 0)
	}
	return parsed
}
