package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"oai-compat/internal/probe"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type API struct {
	cfg    ServerConfig
	auth   *Auth
	store  Store
	runner CheckService
	obs    *Observability
}

func NewAPI(cfg ServerConfig, auth *Auth, store Store, runner CheckService, obs *Observability) *API {
	return &API{
		cfg:    cfg,
		auth:   auth,
		store:  store,
		runner: runner,
		obs:    obs,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)

	mux.HandleFunc("POST /api/v1/auth/login", a.auth.HandleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", a.auth.HandleLogout)
	mux.HandleFunc("GET /api/v1/auth/me", a.auth.HandleMe)

	mux.HandleFunc("POST /api/v1/checks", a.handlePublicCreateCheck)
	mux.HandleFunc("GET /api/v1/checks/{id}", a.handleGetCheck)
	mux.HandleFunc("GET /api/v1/checks/{id}/events", a.handleCheckEventsSSE)
	mux.HandleFunc("GET /api/v1/checks/{id}/ws", a.handleCheckWS)

	mux.Handle("POST /api/v1/admin/checks", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminCreateCheck)))
	mux.Handle("GET /api/v1/admin/checks", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminListChecks)))
	mux.Handle("GET /api/v1/admin/checks/{id}", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminGetCheck)))
	mux.Handle("GET /api/v1/admin/checks/{id}/drift", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminCheckDrift)))
	mux.Handle("GET /api/v1/admin/timeline", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminTimeline)))
	mux.Handle("GET /api/v1/admin/metrics/overview", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminOverview)))
	mux.Handle("GET /api/v1/admin/audit", a.auth.RequireAdmin(http.HandlerFunc(a.handleAdminAudit)))

	mux.Handle("GET /api/v1/user/my-checks", a.auth.Require(http.HandlerFunc(a.handleUserMyChecks)))

	wrapped := otelhttp.NewHandler(mux, "compat-api-http")
	return withCORS(wrapped)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": nowRFC3339(),
	})
}

func (a *API) handleAdminCreateCheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("compat-api").Start(r.Context(), "admin.create_check")
	defer span.End()
	principal, _ := PrincipalFromContext(ctx)
	var req CheckSubmission
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	meta, err := a.runner.CreateAdminCheck(req, principal, "admin.manual")
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"check_id": meta.CheckID,
		"status":   meta.Status,
	})
}

func (a *API) handleAdminGetCheck(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing check id")
		return
	}
	meta, ok := a.store.GetCheck(id)
	if !ok {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (a *API) handleAdminListChecks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"checks": a.store.ListChecks(parseLimit(r, 100)),
	})
}

// handleAdminCheckDrift compares a finished check against the most recent
// earlier check of the same base URL.
func (a *API) handleAdminCheckDrift(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing check id")
		return
	}
	meta, ok := a.store.GetCheck(id)
	if !ok {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	if meta.Report == nil {
		writeError(w, http.StatusConflict, "check has no report yet")
		return
	}
	baselineMeta, ok := a.findBaseline(meta)
	if !ok {
		writeError(w, http.StatusNotFound, "no earlier check for this base URL")
		return
	}
	drift := probe.CompareWithBaseline(*meta.Report, *baselineMeta.Report)
	writeJSON(w, http.StatusOK, map[string]any{
		"check_id":          meta.CheckID,
		"baseline_check_id": baselineMeta.CheckID,
		"drift":             drift,
	})
}

func (a *API) findBaseline(current CheckMeta) (CheckMeta, bool) {
	history := a.store.ListChecksByBaseURL(current.Request.BaseURL, a.cfg.Probe.HistoryLimit)
	for _, item := range history {
		if item.CheckID == current.CheckID || item.Report == nil {
			continue
		}
		if item.CreatedAt < current.CreatedAt {
			return item, true
		}
	}
	return CheckMeta{}, false
}

func (a *API) handleAdminTimeline(w http.ResponseWriter, r *http.Request) {
	baseURL := strings.TrimSpace(r.URL.Query().Get("base_url"))
	if baseURL == "" {
		writeError(w, http.StatusBadRequest, "base_url query parameter is required")
		return
	}
	checks := a.store.ListChecksByBaseURL(baseURL, a.cfg.Probe.HistoryLimit)
	reports := make([]probe.Report, 0, len(checks))
	for _, meta := range checks {
		if meta.Report != nil {
			reports = append(reports, *meta.Report)
		}
	}
	if len(reports) == 0 {
		writeError(w, http.StatusNotFound, "no completed checks for this base URL")
		return
	}
	// lists come back newest first
	current := reports[0]
	history := reports[1:]
	drift, snapshot := probe.AnalyzeTimeline(history, current)
	writeJSON(w, http.StatusOK, map[string]any{
		"base_url": baseURL,
		"drift":    drift,
		"timeline": snapshot,
	})
}

func (a *API) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.GetMetricsOverview())
}

func (a *API) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"audit": a.store.ListAudit(parseLimit(r, 200)),
	})
}

func (a *API) handlePublicCreateCheck(w http.ResponseWriter, r *http.Request) {
	_, span := otel.Tracer("compat-api").Start(r.Context(), "public.create_check")
	defer span.End()
	var req CheckSubmission
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ipHash, uaHash := actorHashes(r)
	// optional: attach user identity if logged in
	principal, _ := a.auth.AuthenticateRequest(r)
	span.SetAttributes(
		attribute.String("actor.type", "user"),
		attribute.String("check.base_url", req.BaseURL),
	)
	meta, err := a.runner.CreatePublicCheck(req, ipHash, uaHash)
	if err != nil {
		span.RecordError(err)
		if isQuotaError(err) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// link check to logged-in user
	if principal.Subject != "" {
		_, _ = a.store.UpdateCheck(meta.CheckID, func(m *CheckMeta) {
			m.CreatorSub = principal.Subject
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"check_id": meta.CheckID,
		"status":   meta.Status,
	})
}

func (a *API) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing check id")
		return
	}
	meta, ok := a.store.GetCheck(id)
	if !ok {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	writeJSON(w, http.StatusOK, publicCheckView(meta))
}

func (a *API) handleUserMyChecks(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	checks := a.store.ListChecksByCreator(principal.Subject, parseLimit(r, 50))
	out := make([]map[string]any, 0, len(checks))
	for _, m := range checks {
		out = append(out, map[string]any{
			"check_id":   m.CheckID,
			"status":     m.Status,
			"base_url":   m.Request.BaseURL,
			"model":      m.Request.Model,
			"score":      m.Score,
			"tier":       m.Tier,
			"created_at": m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"checks": out})
}

func (a *API) handleCheckEventsSSE(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing check id")
		return
	}
	if _, ok := a.store.GetCheck(id); !ok {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	cursor := parseCursor(r)
	send := func(events []CheckEvent) {
		for _, event := range events {
			payload, marshalErr := json.Marshal(event)
			if marshalErr != nil {
				continue
			}
			fmt.Fprintf(w, "event: check_event\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			cursor = event.Seq
		}
		flusher.Flush()
	}
	send(a.store.ListCheckEvents(id, cursor))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			events := a.store.ListCheckEvents(id, cursor)
			if len(events) > 0 {
				send(events)
			} else {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

// publicCheckView is what anonymous callers get back. Creator identity stays
// internal; the request block only ever carries key_provided.
func publicCheckView(meta CheckMeta) map[string]any {
	view := map[string]any{
		"check_id":    meta.CheckID,
		"status":      meta.Status,
		"created_at":  meta.CreatedAt,
		"started_at":  meta.StartedAt,
		"finished_at": meta.FinishedAt,
		"request":     meta.Request,
		"score":       meta.Score,
		"tier":        meta.Tier,
	}
	if meta.Error != "" {
		view["error"] = meta.Error
	}
	if meta.Report != nil {
		view["report"] = meta.Report
	}
	return view
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrDailyQuota)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorHashes(r *http.Request) (string, string) {
	ip, _, _ := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if ip == "" {
		ip = strings.TrimSpace(r.RemoteAddr)
	}
	return hashString(ip), hashString(r.UserAgent())
}
