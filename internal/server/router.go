package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Haniehz1/mcp-server-test-script/internal/probe"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// API glues the HTTP surface to auth, storage, and the run manager.
type API struct {
	auth   *Auth
	store  Store
	runner RunnerService
	obs    *Observability
}

func NewAPI(auth *Auth, store Store, runner RunnerService, obs *Observability) *API {
	return &API{auth: auth, store: store, runner: runner, obs: obs}
}

// Handler builds the route table. Admin routes sit behind RequireAdmin,
// quick-check creation is deliberately public with rate limiting as the
// guard, and the whole mux is wrapped in otel instrumentation plus CORS.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/v1/catalog", a.handleCatalog)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	admin := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, a.auth.RequireAdmin(h))
	}
	admin("POST /api/v1/admin/runs", a.handleAdminCreateRun)
	admin("GET /api/v1/admin/runs", a.handleAdminListRuns)
	admin("GET /api/v1/admin/runs/{id}", a.handleAdminGetRun)
	admin("GET /api/v1/admin/runs/{id}/events", a.handleAdminGetRunEventsSSE)
	admin("GET /api/v1/admin/metrics/overview", a.handleAdminOverview)
	admin("GET /api/v1/admin/audit", a.handleAdminAudit)

	mux.HandleFunc("POST /api/v1/user/quick-check", a.handleUserQuickCheck)
	mux.HandleFunc("GET /api/v1/user/quick-check/{id}", a.handleUserGetQuickCheck)
	mux.Handle("GET /api/v1/user/my-runs", a.auth.Require(http.HandlerFunc(a.handleUserMyRuns)))

	return withCORS(otelhttp.NewHandler(mux, "check-api-http"))
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	specs := a.runner.Catalog()
	servers := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		servers = append(servers, map[string]any{
			"name":          spec.Name,
			"class":         string(spec.Class),
			"transport":     string(spec.Transport),
			"tool":          spec.Tool,
			"description":   spec.Description,
			"auth_required": spec.Class.AuthRequired(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"total":   len(servers),
	})
}

func (a *API) handleAdminCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("check-api").Start(r.Context(), "admin.create_run")
	defer span.End()
	principal, _ := PrincipalFromContext(ctx)
	var req RunRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := a.runner.CreateAdminRun(req, principal, "admin.manual")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeQueued(w, meta)
}

// writeQueued is the accepted-response shape both run creation endpoints
// share.
func writeQueued(w http.ResponseWriter, meta RunMeta) {
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id": meta.RunID,
		"status": meta.Status,
	})
}

func (a *API) handleAdminGetRun(w http.ResponseWriter, r *http.Request) {
	meta, ok := a.runByID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// runByID resolves the {id} path segment to a stored run, writing the
// error response itself when the id is missing or unknown.
func (a *API) runByID(w http.ResponseWriter, r *http.Request) (RunMeta, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return RunMeta{}, false
	}
	meta, ok := a.store.GetRun(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return RunMeta{}, false
	}
	return meta, true
}

func (a *API) handleAdminListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"runs": a.store.ListRuns(100),
	})
}

// handleAdminGetRunEventsSSE replays stored events past the caller's
// cursor, then tails the run with a once-a-second poll. Quiet intervals
// send an SSE comment so proxies keep the connection open.
func (a *API) handleAdminGetRunEventsSSE(w http.ResponseWriter, r *http.Request) {
	meta, ok := a.runByID(w, r)
	if !ok {
		return
	}
	id := meta.RunID
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cursor := a.writeRunEvents(w, id, parseCursor(r))
	_ = rc.Flush()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if next := a.writeRunEvents(w, id, cursor); next > cursor {
				cursor = next
			} else {
				_, _ = io.WriteString(w, ": ping\n\n")
			}
			if rc.Flush() != nil {
				return
			}
		}
	}
}

// writeRunEvents emits every stored event past cursor and returns the
// highest sequence written.
func (a *API) writeRunEvents(w io.Writer, runID string, cursor int64) int64 {
	for _, event := range a.store.ListRunEvents(runID, cursor) {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: run_event\ndata: %s\n\n", payload)
		cursor = event.Seq
	}
	return cursor
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(200),
	})
}

func (a *API) handleUserQuickCheck(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("check-api").Start(r.Context(), "user.quick_check")
	defer span.End()
	var req QuickCheckRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	span.SetAttributes(
		attribute.String("actor.type", "user"),
		attribute.String("scenario.id", req.ScenarioID),
	)
	ipHash, uaHash := actorHashes(r)
	meta, err := a.runner.CreateQuickCheck(req, ipHash, uaHash)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	// Quick checks are anonymous, but a logged-in caller still gets the
	// run attached to their account for my-runs.
	if principal, authErr := a.auth.AuthenticateRequest(r); authErr == nil && principal.Subject != "" {
		_, _ = a.store.UpdateRun(meta.RunID, func(m *RunMeta) {
			m.CreatorSub = principal.Subject
			m.CreatorName = principal.Username
		})
	}
	writeQueued(w, meta)
}

func (a *API) handleUserMyRuns(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	runs := a.store.ListRunsByCreator(principal.Subject, 50)
	// Trimmed view: no raw report, no creator columns.
	out := make([]map[string]any, 0, len(runs))
	for _, m := range runs {
		out = append(out, map[string]any{
			"run_id":      m.RunID,
			"status":      m.Status,
			"gateway_url": m.Request.GatewayURL,
			"created_at":  m.CreatedAt,
			"tally": map[string]any{
				"successful":   m.Tally.Successful,
				"total_errors": m.Tally.TotalErrors,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (a *API) handleUserGetQuickCheck(w http.ResponseWriter, r *http.Request) {
	meta, ok := a.runByID(w, r)
	if !ok {
		return
	}
	view := map[string]any{
		"run_id":      meta.RunID,
		"status":      meta.Status,
		"created_at":  meta.CreatedAt,
		"started_at":  meta.StartedAt,
		"finished_at": meta.FinishedAt,
		"tally": map[string]any{
			"total_servers":  meta.Tally.TotalServers,
			"successful":     meta.Tally.Successful,
			"not_configured": meta.Tally.NotConfigured,
			"total_errors":   meta.Tally.TotalErrors,
		},
	}
	if meta.Report != nil {
		view["summary"] = summarizeReportForUser(*meta.Report)
	}
	writeJSON(w, http.StatusOK, view)
}

// summarizeReportForUser trims a full report down to counts plus the
// non-success results, so quick-check callers never see raw samples.
func summarizeReportForUser(report probe.RunReport) map[string]any {
	data := map[string]any{
		"total_servers":  report.Summary.TotalServers,
		"successful":     report.Summary.Successful,
		"not_configured": report.Summary.NotConfigured,
		"total_errors":   report.Summary.TotalErrors,
	}
	highlights := make([]map[string]any, 0, len(report.Results))
	for _, result := range report.Results {
		if result.Outcome == probe.OutcomeSuccess {
			continue
		}
		entry := map[string]any{
			"server": result.Server,
			"status": string(result.Outcome),
		}
		if result.Error != "" {
			entry["error"] = result.Error
		}
		highlights = append(highlights, entry)
	}
	data["highlights"] = highlights
	return data
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// actorHashes fingerprints the caller for audit rows without storing raw
// network identifiers.
func actorHashes(r *http.Request) (ipHash, uaHash string) {
	host := strings.TrimSpace(r.RemoteAddr)
	if ip, _, err := net.SplitHostPort(host); err == nil && ip != "" {
		host = ip
	}
	return hashString(host), hashString(r.UserAgent())
}
