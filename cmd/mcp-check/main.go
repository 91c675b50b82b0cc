package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"
	"github.com/Haniehz1/mcp-server-test-script/internal/registry"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	ruleStyle    = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

func main() {
	gatewayURL := flag.String("gateway-url", envOr("MCP_GATEWAY_URL", "http://localhost:8811"), "MCP gateway base URL")
	gatewayToken := flag.String("gateway-token", envOr("MCP_GATEWAY_TOKEN", ""), "Bearer token for the gateway (optional)")
	timeout := flag.Duration("timeout", 15*time.Minute, "Overall deadline for the whole run")
	probeTimeout := flag.Duration("probe-timeout", 60*time.Second, "Deadline for each individual server probe")
	classes := flag.String("class", "all", "Comma-separated execution classes: independent,api_key,oauth,all")
	servers := flag.String("servers", "", "Comma-separated server names (default: every server in the selection)")
	catalogPath := flag.String("catalog", "", "YAML catalog file replacing the built-in server list")
	format := flag.String("format", "text", "Output format: text|json")
	outputPath := flag.String("out", "", "Write full report JSON to this file")
	resultsDir := flag.String("results-dir", "test_results", "Directory for timestamped report files (empty disables saving)")
	baselineInPath := flag.String("baseline-in", "", "Compare against a previous report JSON and show per-server drift")
	historyGlob := flag.String("history-glob", "", "Glob pattern of saved report JSON files for trend analysis")
	historyMax := flag.Int("history-max", 200, "Max historical reports loaded for trend analysis")
	historyOut := flag.String("history-out", "", "Write the trend snapshot JSON to this file")
	listOnly := flag.Bool("list", false, "Print the server catalog summary and exit without contacting the gateway")
	strict := flag.Bool("strict", false, "Exit non-zero on server errors or baseline regressions")
	flag.Parse()

	catalog := probe.DefaultCatalog()
	if strings.TrimSpace(*catalogPath) != "" {
		loaded, err := probe.LoadCatalogFile(*catalogPath)
		if err != nil {
			exitWith("failed to load catalog: " + err.Error())
		}
		catalog = loaded
	} else if err := probe.ValidateCatalog(catalog); err != nil {
		exitWith("built-in catalog is defective: " + err.Error())
	}

	selectedClasses, err := probe.ResolveClassSelection(*classes)
	if err != nil {
		exitWith(err.Error())
	}
	specs := probe.FilterClasses(catalog, selectedClasses...)
	specs = probe.FilterServers(specs, probe.ResolveServerSelection(*servers)...)
	if len(specs) == 0 {
		exitWith("selection matches no catalog servers")
	}

	if *listOnly {
		fmt.Println(probe.CatalogSummary(specs))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reg := registry.NewClient(registry.Config{
		BaseURL:   *gatewayURL,
		AuthToken: *gatewayToken,
		Timeout:   *probeTimeout,
	})
	runner := probe.NewRunner(reg)
	runner.ProbeTimeout = *probeTimeout

	orchestrator := &probe.Orchestrator{Registry: reg, Runner: runner}
	savedDir := strings.TrimSpace(*resultsDir)
	sinkFailed := false
	if savedDir != "" {
		orchestrator.Sink = probe.FileSink{Dir: savedDir}
		orchestrator.OnEvent = func(event probe.RunEvent) {
			if event.Stage == "sink_error" {
				sinkFailed = true
				fmt.Fprintln(os.Stderr, "warning: could not save report:", event.Message)
			}
		}
	}

	textMode := strings.ToLower(strings.TrimSpace(*format)) != "json"
	if textMode {
		printBanner("MCP SERVER TESTING FRAMEWORK")
		fmt.Println(probe.CatalogSummary(specs))
		printBanner("RUNNING COMPREHENSIVE SERVER TESTS")
	}

	report := orchestrator.Run(ctx, specs)

	var baselineDiff *probe.BaselineDiff
	if strings.TrimSpace(*baselineInPath) != "" {
		baseline, err := readReport(*baselineInPath)
		if err != nil {
			exitWith("failed to read baseline report: " + err.Error())
		}
		diff := probe.CompareWithBaseline(report, baseline)
		baselineDiff = &diff
	}

	var historySnapshot *probe.HistorySnapshot
	if strings.TrimSpace(*historyGlob) != "" || strings.TrimSpace(*historyOut) != "" {
		history := []probe.RunReport{}
		if strings.TrimSpace(*historyGlob) != "" {
			loaded, err := readReportsByGlob(*historyGlob, *historyMax)
			if err != nil {
				exitWith("failed to load history reports: " + err.Error())
			}
			history = loaded
		}
		snapshot := probe.AnalyzeHistory(history, report)
		historySnapshot = &snapshot
		if strings.TrimSpace(*historyOut) != "" {
			if err := writeJSON(*historyOut, snapshot); err != nil {
				exitWith("failed to write history snapshot: " + err.Error())
			}
		}
	}

	if textMode {
		printSummary(report.Summary)
		printResults(report.Results)
		if baselineDiff != nil {
			printBaselineDiff(*baselineDiff)
		}
		if historySnapshot != nil {
			printHistory(*historySnapshot)
		}
		if savedDir != "" && !sinkFailed {
			fmt.Println(detailStyle.Render("Test results saved to " + savedDir + string(os.PathSeparator)))
		}
	} else {
		printJSON(report)
	}

	if strings.TrimSpace(*outputPath) != "" {
		if err := writeReport(*outputPath, report); err != nil {
			exitWith("failed to write report: " + err.Error())
		}
	}

	if *strict && (report.Summary.TotalErrors > 0 || (baselineDiff != nil && baselineDiff.HasRegressions())) {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func printBanner(title string) {
	rule := ruleStyle.Render(strings.Repeat("=", 70))
	fmt.Println()
	fmt.Println(rule)
	fmt.Println(titleStyle.Render(title))
	fmt.Println(rule)
	fmt.Println()
}

func printSummary(summary probe.RunSummary) {
	rule := ruleStyle.Render(strings.Repeat("=", 70))
	fmt.Println()
	fmt.Println(rule)
	fmt.Println(titleStyle.Render("TEST RESULTS SUMMARY"))
	fmt.Println(rule)
	fmt.Printf("Total Servers: %d\n", summary.TotalServers)
	fmt.Println(successStyle.Render(fmt.Sprintf("✓ Successful: %d", summary.Successful)))
	fmt.Println(mutedStyle.Render(fmt.Sprintf("○ Not Configured: %d", summary.NotConfigured)))
	if summary.AuthErrors > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("🔐 Auth Errors: %d", summary.AuthErrors)))
	}
	if summary.OAuthRequired > 0 {
		fmt.Println(warnStyle.Render(fmt.Sprintf("🔑 OAuth Required: %d", summary.OAuthRequired)))
	}
	if summary.ConnectionErrors > 0 {
		fmt.Println(errorStyle.Render(fmt.Sprintf("🔌 Connection Errors: %d", summary.ConnectionErrors)))
	}
	if summary.OtherErrors > 0 {
		fmt.Println(errorStyle.Render(fmt.Sprintf("✗ Other Errors: %d", summary.OtherErrors)))
	}
	fmt.Println(rule)
	fmt.Println()
}

func printResults(results []probe.ProbeResult) {
	outcomeGlyph := map[probe.Outcome]string{
		probe.OutcomeSuccess:         "✓",
		probe.OutcomeNotConfigured:   "○",
		probe.OutcomeAuthError:       "🔐",
		probe.OutcomeOAuthRequired:   "🔑",
		probe.OutcomeConnectionError: "🔌",
		probe.OutcomeGenericError:    "✗",
	}
	outcomeStyle := map[probe.Outcome]lipgloss.Style{
		probe.OutcomeSuccess:         successStyle,
		probe.OutcomeNotConfigured:   mutedStyle,
		probe.OutcomeAuthError:       warnStyle,
		probe.OutcomeOAuthRequired:   warnStyle,
		probe.OutcomeConnectionError: errorStyle,
		probe.OutcomeGenericError:    errorStyle,
	}

	fmt.Println(titleStyle.Render("Individual Server Results:"))
	fmt.Println(ruleStyle.Render(strings.Repeat("-", 70)))
	for _, result := range results {
		glyph, ok := outcomeGlyph[result.Outcome]
		if !ok {
			glyph = "?"
		}
		style, ok := outcomeStyle[result.Outcome]
		if !ok {
			style = errorStyle
		}
		fmt.Printf("%s %-25s [%-15s] %s\n",
			style.Render(glyph),
			result.Server,
			result.Transport,
			style.Render(strings.ToUpper(string(result.Outcome))),
		)
		if result.Outcome == probe.OutcomeSuccess && result.Sample != "" {
			fmt.Printf("  ↳ Data: %s\n", detailStyle.Render(clip(result.Sample, 80)+"..."))
		}
		if result.Error != "" {
			fmt.Println(style.Render("  ✗ " + result.Error))
			if result.ErrorDetail != "" && result.ErrorDetail != result.Error {
				fmt.Println(detailStyle.Render("    Details: " + clip(result.ErrorDetail, 100)))
			}
		}
	}
	fmt.Println()
	fmt.Println(ruleStyle.Render(strings.Repeat("=", 70)))
}

func printBaselineDiff(diff probe.BaselineDiff) {
	fmt.Println(titleStyle.Render("Baseline Comparison:"))
	fmt.Println(ruleStyle.Render(strings.Repeat("-", 70)))
	for _, change := range diff.Regressed {
		fmt.Println(errorStyle.Render(fmt.Sprintf("↓ %-25s %s -> %s", change.Server, change.From, change.To)))
	}
	for _, change := range diff.Improved {
		fmt.Println(successStyle.Render(fmt.Sprintf("↑ %-25s %s -> %s", change.Server, change.From, change.To)))
	}
	for _, server := range diff.Added {
		fmt.Println(mutedStyle.Render("+ " + server + " (not in baseline)"))
	}
	for _, server := range diff.Removed {
		fmt.Println(mutedStyle.Render("- " + server + " (missing from this run)"))
	}
	fmt.Printf("Unchanged: %d\n", diff.Unchanged)
	fmt.Println()
}

func printHistory(snapshot probe.HistorySnapshot) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Server History (%d runs):", snapshot.Reports)))
	fmt.Println(ruleStyle.Render(strings.Repeat("-", 70)))
	for _, trend := range snapshot.Servers {
		line := fmt.Sprintf("%-25s %3d runs  %5.1f%% success  %2d flips  last %s",
			trend.Server, trend.Runs, trend.SuccessRate*100, trend.Flips, trend.LastOutcome)
		if trend.Flips > 0 {
			fmt.Println(warnStyle.Render(line))
		} else {
			fmt.Println(line)
		}
	}
	fmt.Println()
}

func printJSON(report probe.RunReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitWith("failed to encode report JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func writeReport(path string, report probe.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

func readReport(path string) (probe.RunReport, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return probe.RunReport{}, err
	}
	var report probe.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return probe.RunReport{}, err
	}
	return report, nil
}

func readReportsByGlob(pattern string, maxCount int) ([]probe.RunReport, error) {
	matches, err := filepath.Glob(filepath.Clean(pattern))
	if err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 200
	}
	reports := make([]probe.RunReport, 0, len(matches))
	for _, path := range matches {
		if len(reports) >= maxCount {
			break
		}
		report, readErr := readReport(path)
		if readErr != nil {
			continue
		}
		if len(report.Results) == 0 {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	cleanPath := filepath.Clean(path)
	return os.WriteFile(cleanPath, data, 0o644)
}

// clip truncates to a rune count so multibyte samples never split mid-rune.
func clip(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
