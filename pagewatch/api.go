package pagewatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/kit"
	"github.com/hazyhaar/pagewatch/shield"
)

// Handler returns the operator HTTP surface: the JSON API, /metrics and,
// when srv is non-nil, the MCP streamable endpoint at /mcp.
func (e *Engine) Handler(srv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	for _, mw := range shield.DefaultStack("/mcp") {
		r.Use(mw)
	}
	e.RegisterHTTP(r)
	r.Method(http.MethodGet, "/metrics", e.metrics.Handler())
	if srv != nil {
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
		r.Handle("/mcp", h)
	}
	return r
}

// RegisterHTTP mounts the JSON API on r.
func (e *Engine) RegisterHTTP(r chi.Router) {
	r.Get("/api/status", e.handleStatus)
	r.Get("/api/tasks", e.handleTasks)
	r.Get("/api/tasks/{id}", e.handleTask)
	r.Post("/api/tasks/{id}/unblock", e.handleUnblock)
	r.Post("/api/tasks/{id}/check", e.handleCheck)
	r.Get("/api/changes", e.handleChanges)
	r.Get("/api/audit", e.handleAudit)
	r.Post("/api/external/refresh", e.handleRefresh)
	r.Post("/api/start", e.handleStart)
	r.Post("/api/stop", e.handleStop)
}

func (e *Engine) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (e *Engine) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.TaskStatuses())
}

func (e *Engine) handleTask(w http.ResponseWriter, r *http.Request) {
	st, err := e.TaskStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (e *Engine) handleUnblock(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, e.unblockEndpoint(), &taskRequest{ID: chi.URLParam(r, "id")}, http.StatusOK)
}

func (e *Engine) handleCheck(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, e.checkEndpoint(), &taskRequest{ID: chi.URLParam(r, "id")}, http.StatusAccepted)
}

func (e *Engine) handleChanges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.Changes(queryInt(r, "limit", 50)))
}

func (e *Engine) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := e.AuditTrail(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (e *Engine) handleRefresh(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, e.refreshEndpoint(), nil, http.StatusOK)
}

func (e *Engine) handleStart(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, e.startEndpoint(), nil, http.StatusOK)
}

func (e *Engine) handleStop(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, e.stopEndpoint(), nil, http.StatusOK)
}

// serve calls ep with the request's id and client address in context.
func (e *Engine) serve(w http.ResponseWriter, r *http.Request, ep kit.Endpoint, req any, code int) {
	ctx := kit.WithTransport(r.Context(), "http")
	ctx = kit.WithRemoteAddr(ctx, shield.ExtractIP(r))
	if id := middleware.GetReqID(ctx); id != "" {
		ctx = kit.WithRequestID(ctx, id)
	}
	resp, err := ep(ctx, req)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, code, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, ErrNotBlocked), errors.Is(err, ErrNotRunning), errors.Is(err, ErrNotSchedulable):
		return http.StatusConflict
	case errors.Is(err, ErrLegacyScript):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
