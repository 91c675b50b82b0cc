package server

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store is the persistence surface the API and run manager share. The
// memory implementation backs single-node deployments, PgStore backs
// anything that needs to survive restarts or run more than one replica.
type Store interface {
	// Run lifecycle.
	CreateRun(meta RunMeta) error
	UpdateRun(runID string, mutate func(*RunMeta)) (RunMeta, error)
	GetRun(runID string) (RunMeta, bool)
	ListRuns(limit int) []RunMeta
	ListRunsByCreator(creatorSub string, limit int) []RunMeta

	// Ordered per-run event log, consumed by the SSE stream.
	AppendRunEvent(runID string, stage, message string, data map[string]any) (RunEvent, error)
	ListRunEvents(runID string, sinceSeq int64) []RunEvent

	// Audit trail and reporting rollups.
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) []AuditEvent
	GetMetricsOverview() MetricsOverview
}

// Audit entries older than the newest auditRetention get dropped.
const auditRetention = 5000

// storeSnapshot is the on-disk layout of the memory store. Runs are kept
// as a sorted slice so the snapshot file diffs cleanly between writes.
type storeSnapshot struct {
	Runs   []RunMeta             `json:"runs"`
	Events map[string][]RunEvent `json:"events"`
	Audit  []AuditEvent          `json:"audit"`
}

// MemoryFileStore keeps everything in maps under one RWMutex and, when a
// snapshot path is configured, mirrors each mutation to a JSON file.
type MemoryFileStore struct {
	mu           sync.RWMutex
	snapshotPath string
	runs         map[string]RunMeta
	events       map[string][]RunEvent
	audit        []AuditEvent
	nextSeq      map[string]int64
}

func NewMemoryFileStore(snapshotPath string) (*MemoryFileStore, error) {
	store := &MemoryFileStore{
		snapshotPath: strings.TrimSpace(snapshotPath),
		runs:         map[string]RunMeta{},
		events:       map[string][]RunEvent{},
		audit:        []AuditEvent{},
		nextSeq:      map[string]int64{},
	}
	if store.snapshotPath == "" {
		return store, nil
	}
	if err := store.restore(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MemoryFileStore) CreateRun(meta RunMeta) error {
	if strings.TrimSpace(meta.RunID) == "" {
		return errors.New("run id is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[meta.RunID]; exists {
		return fmt.Errorf("run %s already exists", meta.RunID)
	}
	s.runs[meta.RunID] = meta
	s.nextSeq[meta.RunID] = max(s.nextSeq[meta.RunID], 1)
	return s.saveLocked()
}

func (s *MemoryFileStore) UpdateRun(runID string, mutate func(*RunMeta)) (RunMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.runs[runID]
	if !ok {
		return RunMeta{}, fmt.Errorf("run not found: %s", runID)
	}
	if mutate == nil {
		return meta, nil
	}
	mutate(&meta)
	s.runs[runID] = meta
	if err := s.saveLocked(); err != nil {
		return RunMeta{}, err
	}
	return meta, nil
}

func (s *MemoryFileStore) GetRun(runID string) (RunMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.runs[runID]
	return meta, ok
}

func (s *MemoryFileStore) ListRuns(limit int) []RunMeta {
	return s.selectRuns(limit, func(RunMeta) bool { return true })
}

func (s *MemoryFileStore) ListRunsByCreator(creatorSub string, limit int) []RunMeta {
	return s.selectRuns(limit, func(meta RunMeta) bool {
		return meta.CreatorSub == creatorSub
	})
}

// selectRuns returns matching runs newest first.
func (s *MemoryFileStore) selectRuns(limit int, keep func(RunMeta) bool) []RunMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunMeta, 0, len(s.runs))
	for _, meta := range s.runs {
		if keep(meta) {
			out = append(out, meta)
		}
	}
	slices.SortFunc(out, func(a, b RunMeta) int {
		return strings.Compare(b.CreatedAt, a.CreatedAt)
	})
	return clampLen(out, limit)
}

func (s *MemoryFileStore) AppendRunEvent(runID string, stage, message string, data map[string]any) (RunEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return RunEvent{}, fmt.Errorf("run not found: %s", runID)
	}
	seq := max(s.nextSeq[runID], 1)
	s.nextSeq[runID] = seq + 1
	event := RunEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      maps.Clone(data),
	}
	s.events[runID] = append(s.events[runID], event)
	if err := s.saveLocked(); err != nil {
		return RunEvent{}, err
	}
	return event, nil
}

func (s *MemoryFileStore) ListRunEvents(runID string, sinceSeq int64) []RunEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[runID]
	// Events append in seq order, so the cursor is a binary search.
	idx, _ := slices.BinarySearchFunc(events, sinceSeq+1, func(e RunEvent, seq int64) int {
		return cmp.Compare(e.Seq, seq)
	})
	return slices.Clone(events[idx:])
}

func (s *MemoryFileStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	s.audit = append(s.audit, event)
	if excess := len(s.audit) - auditRetention; excess > 0 {
		s.audit = s.audit[excess:]
	}
	return s.saveLocked()
}

func (s *MemoryFileStore) ListAudit(limit int) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.audit)
	slices.SortFunc(out, func(a, b AuditEvent) int {
		return strings.Compare(b.Timestamp, a.Timestamp)
	})
	return clampLen(out, limit)
}

func (s *MemoryFileStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
	}
	var durationTotal int64
	finished := 0
	for _, run := range s.runs {
		overview.TotalRuns++
		switch strings.ToLower(strings.TrimSpace(run.Status)) {
		case "running", "queued":
			overview.RunningRuns++
		case "pass":
			overview.PassRuns++
		case "warn":
			overview.WarnRuns++
		case "fail":
			overview.FailRuns++
		}
		overview.ProbesExecuted += run.Tally.TotalServers
		overview.ProbesSucceeded += run.Tally.Successful
		overview.ProbesErrored += run.Tally.TotalErrors
		if ms, ok := runDurationMS(run); ok {
			durationTotal += ms
			finished++
		}
	}
	if finished > 0 {
		overview.AverageDuration = durationTotal / int64(finished)
	}
	return overview
}

func (s *MemoryFileStore) restore() error {
	data, err := os.ReadFile(filepath.Clean(s.snapshotPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store snapshot: %w", err)
	}
	var snapshot storeSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode store snapshot: %w", err)
	}
	for _, run := range snapshot.Runs {
		s.runs[run.RunID] = run
	}
	for runID, events := range snapshot.Events {
		s.events[runID] = events
		var maxSeq int64
		for _, event := range events {
			maxSeq = max(maxSeq, event.Seq)
		}
		s.nextSeq[runID] = maxSeq + 1
	}
	s.audit = snapshot.Audit
	return nil
}

// saveLocked writes the snapshot through a temp file plus rename so a
// crash mid-write never truncates the previous snapshot. Callers must
// hold the write lock.
func (s *MemoryFileStore) saveLocked() error {
	if s.snapshotPath == "" {
		return nil
	}
	snapshot := storeSnapshot{
		Runs:   make([]RunMeta, 0, len(s.runs)),
		Events: s.events,
		Audit:  s.audit,
	}
	for _, run := range s.runs {
		snapshot.Runs = append(snapshot.Runs, run)
	}
	slices.SortFunc(snapshot.Runs, func(a, b RunMeta) int {
		return strings.Compare(a.CreatedAt, b.CreatedAt)
	})
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmpPath := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write store temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.snapshotPath); err != nil {
		return fmt.Errorf("replace store snapshot: %w", err)
	}
	return nil
}

// clampLen caps a slice at limit entries. Zero or negative means no cap.
func clampLen[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func runDurationMS(run RunMeta) (int64, bool) {
	if run.StartedAt == "" || run.FinishedAt == "" {
		return 0, false
	}
	start, err := time.Parse(time.RFC3339, run.StartedAt)
	if err != nil {
		return 0, false
	}
	end, err := time.Parse(time.RFC3339, run.FinishedAt)
	if err != nil {
		return 0, false
	}
	if end.Before(start) {
		return 0, false
	}
	return end.Sub(start).Milliseconds(), true
}
