package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore persists runs, events, and audit entries in Postgres so the
// API can run with more than one replica. Read methods that back REST
// listings swallow query errors and return empty sets.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// runColumns is the shared scan order; keep it in sync with scanRunMeta.
const runColumns = `run_id, status, creator_type, creator_sub, creator_name, source, request,
	started_at, finished_at, created_at, error, report, tally`

func (s *PgStore) CreateRun(meta RunMeta) error {
	if strings.TrimSpace(meta.RunID) == "" {
		return errors.New("run id is empty")
	}
	reqJSON, _ := json.Marshal(meta.Request)
	tallyJSON, _ := json.Marshal(meta.Tally)
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO runs (run_id, status, creator_type, creator_sub, creator_name, source, request, created_at, tally)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		meta.RunID, meta.Status, meta.CreatorType, meta.CreatorSub, meta.CreatorName,
		meta.Source, reqJSON, meta.CreatedAt, tallyJSON)
	return err
}

// UpdateRun applies mutate under FOR UPDATE so concurrent workers and
// handlers never clobber each other's fields.
func (s *PgStore) UpdateRun(runID string, mutate func(*RunMeta)) (RunMeta, error) {
	ctx := context.Background()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RunMeta{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE run_id=$1 FOR UPDATE`, runID)
	meta, err := scanRunMeta(row)
	if err != nil {
		return RunMeta{}, fmt.Errorf("run not found: %s", runID)
	}
	if mutate != nil {
		mutate(&meta)
	}
	reqJSON, _ := json.Marshal(meta.Request)
	tallyJSON, _ := json.Marshal(meta.Tally)
	var reportJSON []byte
	if meta.Report != nil {
		reportJSON, _ = json.Marshal(meta.Report)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE runs SET status=$1, started_at=$2, finished_at=$3, error=$4, report=$5,
		 tally=$6, request=$7, creator_sub=$8, creator_name=$9 WHERE run_id=$10`,
		meta.Status, nullIfEmpty(meta.StartedAt), nullIfEmpty(meta.FinishedAt), meta.Error,
		reportJSON, tallyJSON, reqJSON, nullIfEmpty(meta.CreatorSub), nullIfEmpty(meta.CreatorName),
		runID); err != nil {
		return RunMeta{}, err
	}
	return meta, tx.Commit(ctx)
}

func (s *PgStore) GetRun(runID string) (RunMeta, bool) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+runColumns+` FROM runs WHERE run_id=$1`, runID)
	meta, err := scanRunMeta(row)
	return meta, err == nil
}

func (s *PgStore) ListRuns(limit int) []RunMeta {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRuns(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *PgStore) ListRunsByCreator(creatorSub string, limit int) []RunMeta {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRuns(
		`SELECT `+runColumns+` FROM runs WHERE creator_sub=$1 ORDER BY created_at DESC LIMIT $2`,
		creatorSub, limit)
}

func (s *PgStore) queryRuns(sql string, args ...any) []RunMeta {
	out := []RunMeta{}
	rows, err := s.pool.Query(context.Background(), sql, args...)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		meta, err := scanRunMeta(rows)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out
}

// AppendRunEvent assigns the next sequence inside the insert itself so
// concurrent writers on the same run never collide.
func (s *PgStore) AppendRunEvent(runID string, stage, message string, data map[string]any) (RunEvent, error) {
	var dataJSON []byte
	if data != nil {
		dataJSON, _ = json.Marshal(data)
	}
	event := RunEvent{Stage: stage, Message: message, Data: data}
	var ts time.Time
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO run_events (run_id, seq, stage, message, data)
		 VALUES ($1, COALESCE((SELECT MAX(seq) FROM run_events WHERE run_id=$1), 0)+1, $2, $3, $4)
		 RETURNING seq, timestamp`, runID, stage, message, dataJSON).Scan(&event.Seq, &ts)
	if err != nil {
		return RunEvent{}, err
	}
	event.Timestamp = ts.UTC().Format(time.RFC3339)
	return event, nil
}

func (s *PgStore) ListRunEvents(runID string, sinceSeq int64) []RunEvent {
	out := []RunEvent{}
	rows, err := s.pool.Query(context.Background(),
		`SELECT seq, timestamp, stage, message, data
		 FROM run_events WHERE run_id=$1 AND seq>$2 ORDER BY seq`, runID, sinceSeq)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var event RunEvent
		var ts time.Time
		var dataJSON []byte
		if rows.Scan(&event.Seq, &ts, &event.Stage, &event.Message, &dataJSON) != nil {
			continue
		}
		event.Timestamp = ts.UTC().Format(time.RFC3339)
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &event.Data)
		}
		out = append(out, event)
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO audit_events (timestamp, run_id, actor_type, actor_sub, action, result, ip_hash, ua_hash, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.Timestamp, nullIfEmpty(event.RunID), event.ActorType, nullIfEmpty(event.ActorSub),
		event.Action, event.Result, nullIfEmpty(event.IPHash), nullIfEmpty(event.UAHash),
		nullIfEmpty(event.Detail))
	return err
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	if limit <= 0 {
		limit = 200
	}
	out := []AuditEvent{}
	rows, err := s.pool.Query(context.Background(),
		`SELECT timestamp, run_id, actor_type, actor_sub, action, result, ip_hash, ua_hash, detail
		 FROM audit_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var entry AuditEvent
		var ts time.Time
		var runID, actorSub, ipHash, uaHash, detail *string
		if rows.Scan(&ts, &runID, &entry.ActorType, &actorSub, &entry.Action,
			&entry.Result, &ipHash, &uaHash, &detail) != nil {
			continue
		}
		entry.Timestamp = ts.UTC().Format(time.RFC3339)
		entry.RunID = orEmpty(runID)
		entry.ActorSub = orEmpty(actorSub)
		entry.IPHash = orEmpty(ipHash)
		entry.UAHash = orEmpty(uaHash)
		entry.Detail = orEmpty(detail)
		out = append(out, entry)
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	overview := MetricsOverview{GeneratedAt: nowRFC3339()}
	_ = s.pool.QueryRow(context.Background(),
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('running','queued')),
			COUNT(*) FILTER (WHERE status='pass'),
			COUNT(*) FILTER (WHERE status='warn'),
			COUNT(*) FILTER (WHERE status='fail'),
			COALESCE(SUM((tally->>'total_servers')::int),0),
			COALESCE(SUM((tally->>'successful')::int),0),
			COALESCE(SUM((tally->>'total_errors')::int),0)
		 FROM runs`).Scan(
		&overview.TotalRuns, &overview.RunningRuns, &overview.PassRuns,
		&overview.WarnRuns, &overview.FailRuns, &overview.ProbesExecuted,
		&overview.ProbesSucceeded, &overview.ProbesErrored)

	rows, _ := s.pool.Query(context.Background(),
		`SELECT started_at, finished_at FROM runs
		 WHERE started_at IS NOT NULL AND finished_at IS NOT NULL`)
	if rows != nil {
		defer rows.Close()
		var durationTotal int64
		finished := 0
		for rows.Next() {
			var startedAt, finishedAt string
			if rows.Scan(&startedAt, &finishedAt) != nil {
				continue
			}
			if ms, ok := runDurationMS(RunMeta{StartedAt: startedAt, FinishedAt: finishedAt}); ok {
				durationTotal += ms
				finished++
			}
		}
		if finished > 0 {
			overview.AverageDuration = durationTotal / int64(finished)
		}
	}
	return overview
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRunMeta(row scannable) (RunMeta, error) {
	var meta RunMeta
	var reqJSON, tallyJSON, reportJSON []byte
	var startedAt, finishedAt, creatorSub, creatorName, source, errText *string
	if err := row.Scan(&meta.RunID, &meta.Status, &meta.CreatorType, &creatorSub, &creatorName,
		&source, &reqJSON, &startedAt, &finishedAt, &meta.CreatedAt,
		&errText, &reportJSON, &tallyJSON); err != nil {
		return RunMeta{}, err
	}
	meta.CreatorSub = orEmpty(creatorSub)
	meta.CreatorName = orEmpty(creatorName)
	meta.Source = orEmpty(source)
	meta.StartedAt = orEmpty(startedAt)
	meta.FinishedAt = orEmpty(finishedAt)
	meta.Error = orEmpty(errText)
	_ = json.Unmarshal(reqJSON, &meta.Request)
	_ = json.Unmarshal(tallyJSON, &meta.Tally)
	if len(reportJSON) > 0 {
		var report probe.RunReport
		if json.Unmarshal(reportJSON, &report) == nil {
			meta.Report = &report
		}
	}
	return meta, nil
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func orEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

var _ Store = (*PgStore)(nil)
