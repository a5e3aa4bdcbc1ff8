package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/randalmurphal/askdata/pkg/askdata"
)

// DefaultRunsLimit is the number of runs GET /v1/runs returns without a
// limit parameter.
const DefaultRunsLimit = 20

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// HTTPOptions configures NewHandler.
type HTTPOptions struct {
	Logger *slog.Logger

	// Metrics, when set, is served at GET /metrics.
	Metrics http.Handler
}

type api struct {
	svc    Service
	logger *slog.Logger
}

// NewHandler returns the JSON API:
//
//	POST   /v1/ask                {"question": "..."}
//	POST   /v1/runs/{id}/resume
//	GET    /v1/runs?limit=20
//	DELETE /v1/runs/{id}
//	GET    /v1/schema?refresh=true
//	GET    /healthz
//	GET    /metrics
func NewHandler(svc Service, opts HTTPOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{svc: svc, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)

	r.Get("/healthz", a.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ask", a.ask)
		r.Get("/schema", a.schema)
		r.Get("/runs", a.listRuns)
		r.Delete("/runs/{id}", a.deleteRun)
		r.Post("/runs/{id}/resume", a.resume)
	})

	return r
}

type askRequest struct {
	Question string `json:"question"`
}

type errorResponse struct {
	Error string `json:"error"`
	RunID string `json:"run_id,omitempty"`
}

func (a *api) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	answer, err := a.svc.Ask(r.Context(), req.Question)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, answer)
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	answer, err := a.svc.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, answer)
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := a.svc.Runs(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *api) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteRun(chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) schema(w http.ResponseWriter, r *http.Request) {
	load := a.svc.Schema
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		load = a.svc.RefreshSchema
	}

	text, err := load(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"schema": text})
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	h := a.svc.Check(r.Context())
	status := http.StatusOK
	if !h.OK() {
		status = http.StatusServiceUnavailable
	}
	a.writeJSON(w, status, h)
}

// writeError maps service errors to status codes.
func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	var runErr *askdata.RunError
	if errors.As(err, &runErr) {
		resp.RunID = runErr.RunID
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, askdata.ErrEmptyQuestion):
		status = http.StatusBadRequest
	case errors.Is(err, askdata.ErrRunNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	a.writeJSON(w, status, resp)
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("write response", slog.String("error", err.Error()))
	}
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
