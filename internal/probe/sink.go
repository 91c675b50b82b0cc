package probe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ReportSink persists a finished run report. Persist failures are surfaced
// as run events, never as run failures.
type ReportSink interface {
	Persist(report RunReport, filename string) error
}

// FileSink writes reports as indented JSON under Dir, creating it on demand.
type FileSink struct {
	Dir string
}

func (s FileSink) Persist(report RunReport, filename string) error {
	dir := s.Dir
	if strings.TrimSpace(dir) == "" {
		dir = "test_results"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filepath.Clean(filename)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// DefaultReportName builds the timestamped report filename for a run.
func DefaultReportName(t time.Time) string {
	return "mcp_server_test_results_" + t.Format("20060102_150405") + ".json"
}
