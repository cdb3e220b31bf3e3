package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/dkoval/showtracks/internal/auth"
	"github.com/dkoval/showtracks/internal/common"
	"github.com/dkoval/showtracks/internal/config"
	"github.com/dkoval/showtracks/internal/models"
	"github.com/dkoval/showtracks/internal/validation"
)

// JobStore is the persistence surface the API needs.
type JobStore interface {
	Create(ctx context.Context, params models.SearchParams, ownerID *uuid.UUID) (*models.Job, error)
	FindEquivalent(ctx context.Context, params models.SearchParams, staleAfter time.Duration) (*models.Job, error)
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Job, error)
}

// Pinger reports dependency liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Store  JobStore
	Config config.Config

	DBPinger    Pinger // nil skips the check
	RedisPinger Pinger // nil skips the check
}

func (h *Handlers) Routers(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/readyz", h.Ready)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalJWT(h.Config.JWTSecret, h.Config.JWTIssuer))

		// Submissions are cheap to serve but expensive downstream.
		r.With(httprate.LimitByIP(30, time.Minute)).Post("/v1/jobs", h.submitJob)
		r.Get("/v1/jobs", h.listJobs)
		r.Get("/v1/jobs/{id}", h.getJob)
	})
}

// submitJob creates a build job or reuses an equivalent live one. It returns
// immediately; clients poll getJob for progress.
func (h *Handlers) submitJob(w http.ResponseWriter, r *http.Request) {
	var req validation.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	params, errs := validation.ValidateSubmit(req)
	if len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	existing, err := h.Store.FindEquivalent(r.Context(), params, h.Config.StaleAfter)
	if err != nil {
		slog.Error("equivalent-job lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		slog.Info("reusing equivalent job", "job_id", existing.ID, "status", existing.Status)
		writeJSON(w, http.StatusOK, submitResponse(existing))
		return
	}

	var ownerID *uuid.UUID
	if owner, ok := auth.OwnerFromContext(r.Context()); ok {
		ownerID = &owner
	}

	job, err := h.Store.Create(r.Context(), params, ownerID)
	if err != nil {
		slog.Error("failed to create job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	slog.Info("job submitted", "job_id", job.ID, "location", params.LocationName, "date", params.Date)
	writeJSON(w, http.StatusAccepted, submitResponse(job))
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.Store.GetByID(r.Context(), id)
	if err != nil {
		if common.IsNotFound(err) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		slog.Error("failed to load job", "job_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// listJobs returns the authenticated caller's jobs, newest first.
func (h *Handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("owner") != "me" {
		http.Error(w, "only owner=me is supported", http.StatusBadRequest)
		return
	}

	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	jobs, err := h.Store.ListByOwner(r.Context(), owner)
	if err != nil {
		slog.Error("failed to list jobs", "owner_id", owner, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobResponse(&jobs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func submitResponse(job *models.Job) map[string]any {
	return map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	}
}

func jobResponse(job *models.Job) map[string]any {
	return map[string]any{
		"id":                job.ID,
		"status":            job.Status,
		"playlist_id":       job.PlaylistID,
		"error":             job.ErrorMessage,
		"log_history":       job.LogHistory,
		"processed_artists": job.ProcessedArtists,
		"total_artists":     job.TotalArtists,
		"events_data":       job.EventsData,
		"created_at":        job.CreatedAt,
		"updated_at":        job.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
