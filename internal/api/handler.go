package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/erickfmfg/Supercarros-Republisher/internal/domain"
	"github.com/erickfmfg/Supercarros-Republisher/internal/executor"
	"github.com/erickfmfg/Supercarros-Republisher/internal/history"
	"github.com/erickfmfg/Supercarros-Republisher/internal/schedules"
)

// Pagination defaults and limits for history queries.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// ScheduleService is the schedule CRUD surface the handler exposes.
type ScheduleService interface {
	Create(ctx context.Context, def schedules.Definition) (domain.Schedule, error)
	Update(ctx context.Context, id uuid.UUID, upd schedules.Update) (domain.Schedule, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	List(ctx context.Context) ([]domain.Schedule, error)
	Pause(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	Resume(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RunStarter starts runs and reports their live progress.
type RunStarter interface {
	Execute(ctx context.Context, target executor.Target) (executor.Handle, error)
	Progress(runID uuid.UUID) (executor.Progress, bool)
}

// RunHistory reads the run ledger.
type RunHistory interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Run, error)
	Query(ctx context.Context, f history.Filter) ([]domain.Run, error)
}

// BrandLister reads the brand catalog.
type BrandLister interface {
	ListBrands(ctx context.Context) ([]domain.Brand, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	schedules ScheduleService
	runs      RunStarter
	ledger    RunHistory
	brands    BrandLister
	db        HealthChecker
}

func NewHandler(scheds ScheduleService, runs RunStarter, ledger RunHistory, brands BrandLister) *Handler {
	return &Handler{schedules: scheds, runs: runs, ledger: ledger, brands: brands}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/brands" && r.Method == http.MethodGet:
		h.listBrands(w, r)

	case path == "/schedules" && r.Method == http.MethodPost:
		h.createSchedule(w, r)

	case path == "/schedules" && r.Method == http.MethodGet:
		h.listSchedules(w, r)

	case strings.HasPrefix(path, "/schedules/"):
		h.scheduleSubroutes(w, r)

	case path == "/republish/run" && r.Method == http.MethodPost:
		h.manualRun(w, r)

	case path == "/runs" && r.Method == http.MethodGet:
		h.listRuns(w, r)

	case strings.HasPrefix(path, "/runs/"):
		h.runSubroutes(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// scheduleSubroutes dispatches /schedules/{id} and /schedules/{id}/{action}.
func (h *Handler) scheduleSubroutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return
	}

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			h.getSchedule(w, r, id)
		case http.MethodPut:
			h.updateSchedule(w, r, id)
		case http.MethodDelete:
			h.deleteSchedule(w, r, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[2] {
	case "pause":
		h.pauseSchedule(w, r, id)
	case "resume":
		h.resumeSchedule(w, r, id)
	case "run":
		h.runSchedule(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// runSubroutes dispatches /runs/{id} and /runs/{id}/progress.
func (h *Handler) runSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || len(parts) > 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	switch {
	case len(parts) == 2:
		h.getRun(w, r, id)
	case parts[2] == "progress":
		h.runProgress(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) listBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.brands.ListBrands(r.Context())
	if err != nil {
		log.Printf("api: list brands error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list brands")
		return
	}

	resp := ListBrandsResponse{Brands: make([]BrandResponse, len(brands))}
	for i, b := range brands {
		resp.Brands[i] = BrandResponse{ID: b.ID.String(), Name: b.Name, Active: b.Active}
	}
	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	def, err := toDefinition(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched, err := h.schedules.Create(r.Context(), def)
	if err != nil {
		h.writeScheduleError(w, "create schedule", err)
		return
	}

	writeJSON(w, http.StatusCreated, scheduleResponse(sched))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := h.schedules.List(r.Context())
	if err != nil {
		log.Printf("api: list schedules error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}

	resp := ListSchedulesResponse{Schedules: make([]ScheduleResponse, len(scheds))}
	for i, s := range scheds {
		resp.Schedules[i] = scheduleResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sched, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		h.writeScheduleError(w, "get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched))
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req UpdateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	upd, err := toUpdate(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sched, err := h.schedules.Update(r.Context(), id, upd)
	if err != nil {
		h.writeScheduleError(w, "update schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched))
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.schedules.Delete(r.Context(), id); err != nil {
		h.writeScheduleError(w, "delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sched, err := h.schedules.Pause(r.Context(), id)
	if err != nil {
		h.writeScheduleError(w, "pause schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched))
}

func (h *Handler) resumeSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sched, err := h.schedules.Resume(r.Context(), id)
	if err != nil {
		h.writeScheduleError(w, "resume schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleResponse(sched))
}

// runSchedule starts a run-once for the schedule's brand set. It works on
// paused schedules; because ScheduleID is set, the completed run still goes
// through MarkRun and advances last_run_at/next_run_at.
func (h *Handler) runSchedule(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	sched, err := h.schedules.Get(r.Context(), id)
	if err != nil {
		h.writeScheduleError(w, "run schedule", err)
		return
	}

	scheduleID := sched.ID
	handle, err := h.runs.Execute(r.Context(), executor.Target{
		BrandIDs:   sched.BrandIDs,
		Trigger:    domain.TriggerManual,
		ScheduleID: &scheduleID,
	})
	if err != nil {
		h.writeRunError(w, "run schedule", err)
		return
	}

	writeJSON(w, http.StatusAccepted, RunStartedResponse{
		RunID:  handle.RunID.String(),
		Status: string(domain.RunStatusRunning),
	})
}

func (h *Handler) manualRun(w http.ResponseWriter, r *http.Request) {
	var req ManualRunRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if !req.AllBrands && len(req.BrandIDs) == 0 {
		writeError(w, http.StatusBadRequest, "all_brands or a non-empty brand_ids list is required")
		return
	}

	ids, err := parseBrandIDs(req.BrandIDs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	handle, err := h.runs.Execute(r.Context(), executor.Target{
		AllBrands: req.AllBrands,
		BrandIDs:  ids,
		Trigger:   domain.TriggerManual,
	})
	if err != nil {
		h.writeRunError(w, "manual run", err)
		return
	}

	writeJSON(w, http.StatusAccepted, RunStartedResponse{
		RunID:  handle.RunID.String(),
		Status: string(domain.RunStatusRunning),
	})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	f, err := parseRunFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.ledger.Query(r.Context(), f)
	if err != nil {
		log.Printf("api: list runs error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = runResponse(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	run, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: get run error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, runResponse(run))
}

// runProgress serves live progress from the executor and falls back to the
// ledger for runs already evicted from the in-memory tracker.
func (h *Handler) runProgress(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if p, ok := h.runs.Progress(id); ok {
		writeJSON(w, http.StatusOK, progressResponse(p))
		return
	}

	run, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		log.Printf("api: run progress error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get run progress")
		return
	}

	total := len(run.Brands)
	writeJSON(w, http.StatusOK, ProgressResponse{
		RunID:         run.ID.String(),
		Status:        string(run.Status),
		BrandsTotal:   total,
		BrandsDone:    total,
		Percent:       100,
		VehiclesCount: run.VehiclesCount,
		StartedAt:     formatTime(run.RunAt),
	})
}

// writeScheduleError maps schedule service errors to HTTP statuses.
func (h *Handler) writeScheduleError(w http.ResponseWriter, op string, err error) {
	var verr schedules.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, schedules.ErrUnknownBrand):
		writeError(w, http.StatusBadRequest, "unknown brand id")
	case errors.Is(err, schedules.ErrNotFound):
		writeError(w, http.StatusNotFound, "schedule not found")
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// writeRunError maps executor errors to HTTP statuses.
func (h *Handler) writeRunError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, executor.ErrConflict):
		writeError(w, http.StatusConflict, "overlapping run in progress")
	case errors.Is(err, executor.ErrUnknownBrand):
		writeError(w, http.StatusBadRequest, "unknown brand id")
	case errors.Is(err, executor.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to start run")
	}
}

// decodeBody decodes a size-limited JSON body into v. It writes the error
// response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// parseRunFilter extracts history filter parameters from the query string.
func parseRunFilter(r *http.Request) (history.Filter, error) {
	f := history.Filter{Limit: DefaultLimit}
	q := r.URL.Query()

	if s := q.Get("brand_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return history.Filter{}, errors.New("invalid brand_id")
		}
		f.BrandID = &id
	}
	if s := q.Get("schedule_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return history.Filter{}, errors.New("invalid schedule_id")
		}
		f.ScheduleID = &id
	}
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return history.Filter{}, errors.New("invalid since: expected RFC3339 timestamp")
		}
		f.Since = &t
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return history.Filter{}, errors.New("invalid limit")
		}
		if n > MaxLimit {
			return history.Filter{}, errors.New("limit exceeds maximum of " + strconv.Itoa(MaxLimit))
		}
		if n > 0 {
			f.Limit = n
		}
	}

	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
