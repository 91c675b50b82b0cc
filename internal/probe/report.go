package probe

// CountsByOutcome tallies results per outcome. Running it twice over the same
// slice yields the same map.
func CountsByOutcome(results []ProbeResult) map[Outcome]int {
	counts := make(map[Outcome]int, 6)
	for _, result := range results {
		counts[result.Outcome]++
	}
	return counts
}

// BuildReport derives the summary block from a result slice. TotalErrors
// counts everything that is neither success nor not_configured, so the four
// error counters always sum to it.
func BuildReport(results []ProbeResult) RunReport {
	counts := CountsByOutcome(results)
	summary := RunSummary{
		Timestamp:        nowISO(),
		TotalServers:     len(results),
		Successful:       counts[OutcomeSuccess],
		NotConfigured:    counts[OutcomeNotConfigured],
		AuthErrors:       counts[OutcomeAuthError],
		OAuthRequired:    counts[OutcomeOAuthRequired],
		ConnectionErrors: counts[OutcomeConnectionError],
		OtherErrors:      counts[OutcomeGenericError],
	}
	summary.TotalErrors = summary.AuthErrors + summary.OAuthRequired + summary.ConnectionErrors + summary.OtherErrors
	if results == nil {
		results = []ProbeResult{}
	}
	return RunReport{Summary: summary, Results: results}
}
