package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/health"
	"github.com/vietddude/relay/internal/registry"
)

// JobRegistry is the part of the registry the API drives.
type JobRegistry interface {
	Create(ctx context.Context, spec domain.JobSpec) (string, error)
	RequestStop(id string) error
	Get(id string) (domain.JobView, error)
	List() []domain.JobView
	ClearCompleted() int
}

// EventReader reads back recent event log entries.
type EventReader interface {
	Recent(jobID string, n int) []domain.Event
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Targets        []string        `json:"targets"`
	Contents       []string        `json:"contents"`
	Credentials    []string        `json:"credentials"`
	DelaySeconds   int             `json:"delay_seconds"`
	DelayValues    []int           `json:"delay_values,omitempty"`
	Mention        *domain.Mention `json:"mention,omitempty"`
	CredentialKind string          `json:"credential_kind,omitempty"`
	TargetHint     string          `json:"target_hint,omitempty"`
}

// Spec converts the request into a job spec.
func (r CreateJobRequest) Spec() domain.JobSpec {
	return domain.JobSpec{
		Targets:        r.Targets,
		Contents:       r.Contents,
		Credentials:    r.Credentials,
		DelaySeconds:   r.DelaySeconds,
		DelayValues:    r.DelayValues,
		Mention:        r.Mention,
		CredentialKind: domain.CredentialKind(r.CredentialKind),
		TargetHint:     r.TargetHint,
	}
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// API serves the control surface.
type API struct {
	jobs    JobRegistry
	events  EventReader
	monitor *health.Monitor
	router  chi.Router
}

// NewAPI builds the router.
func NewAPI(jobs JobRegistry, events EventReader, monitor *health.Monitor) *API {
	a := &API{jobs: jobs, events: events, monitor: monitor, router: chi.NewRouter()}

	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Recoverer)

	a.router.Get("/health", a.handleHealth)
	a.router.Get("/health/detailed", a.handleDetailed)
	a.router.Handle("/metrics", promhttp.Handler())

	a.router.Route("/api", func(r chi.Router) {
		r.Get("/events", a.handleEvents)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", a.handleCreate)
			r.Get("/", a.handleList)
			r.Delete("/completed", a.handleClear)
			r.Get("/{id}", a.handleGet)
			r.Post("/{id}/stop", a.handleStop)
			r.Get("/{id}/events", a.handleEvents)
		})
	})

	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := a.jobs.Create(r.Context(), req.Spec())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": id})
}

func (a *API) handleList(w http.ResponseWriter, _ *http.Request) {
	jobs := a.jobs.List()
	if jobs == nil {
		jobs = []domain.JobView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.jobs.RequestStop(id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	view, err := a.jobs.Get(id)
	if err != nil {
		// cleared between the two calls
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": string(view.Status)})
}

func (a *API) handleClear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": a.jobs.ClearCompleted()})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	jobID := chi.URLParam(r, "id")
	if jobID != "" {
		if _, err := a.jobs.Get(jobID); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
	}

	events := a.events.Recent(jobID, limit)
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := a.monitor.CheckHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       report.SystemStatus,
		"running_jobs": report.RunningJobs,
	})
}

func (a *API) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.monitor.CheckHealth(r.Context()))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, registry.ErrEmptyTargets),
		errors.Is(err, registry.ErrEmptyContent),
		errors.Is(err, registry.ErrEmptyCredentials),
		errors.Is(err, registry.ErrDelayTooShort),
		errors.Is(err, registry.ErrInvalidKind),
		errors.Is(err, registry.ErrNoValidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrShuttingDown),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
