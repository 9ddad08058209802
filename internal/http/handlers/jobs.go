package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"forge/internal/domain"
	"forge/internal/middleware"
)

type jobSubmitRequest struct {
	ArtifactID    string          `json:"artifactId"`
	OperationType string          `json:"operationType"`
	Config        json.RawMessage `json:"config"`
}

type jobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (a *App) JobSubmit(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	userID := middleware.UserFromContext(r.Context())

	var req jobSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.ArtifactID == "" || req.OperationType == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "artifactId and operationType required")
		return
	}

	job, err := a.Orchestrator.Submit(r.Context(), tenantID, userID, req.ArtifactID, domain.OperationType(req.OperationType), req.Config)
	if err != nil {
		var rateErr *domain.RateLimitedError
		switch {
		case errors.As(err, &rateErr):
			w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds()))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateErr.Limit))
			a.json(w, http.StatusTooManyRequests, map[string]int{"retryAfterSeconds": rateErr.RetryAfterSeconds()})
		case errors.Is(err, domain.ErrInsufficientCredit):
			a.json(w, http.StatusPaymentRequired, map[string]string{})
		case errors.Is(err, domain.ErrArtifactNotReady):
			a.error(w, http.StatusConflict, "artifact_not_ready", "artifact is not verified")
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrBackendUnavailable):
			a.error(w, http.StatusServiceUnavailable, "unavailable", "admission backend unavailable, retry later")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
		}
		return
	}

	a.json(w, http.StatusCreated, jobResponse{JobID: job.ID, Status: string(job.Status)})
}

func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	job, err := a.loadJobForTenant(r, chi.URLParam(r, "job_id"), tenantID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	resp := map[string]any{
		"id":         job.ID,
		"status":     job.Status,
		"progress":   job.Progress,
		"operation":  job.Operation,
		"queued_at":  job.QueuedAt,
		"started_at": job.StartedAt,
	}
	if job.Status == domain.JobStatusSucceeded {
		resp["result"] = job.ResultRef
	}
	if job.Status == domain.JobStatusFailed {
		resp["error"] = map[string]string{
			"detail":   job.ErrorDetail,
			"category": string(job.ErrorCategory),
		}
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")
	if _, err := a.loadJobForTenant(r, jobID, tenantID); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}

	job, err := a.Orchestrator.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotCancellable) {
			a.error(w, http.StatusConflict, "not_cancellable", "job is no longer cancellable")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusOK, jobResponse{JobID: job.ID, Status: string(job.Status)})
}

func (a *App) loadJobForTenant(r *http.Request, jobID, tenantID string) (*domain.Job, error) {
	if jobID == "" {
		return nil, domain.ErrNotFound
	}
	job, err := a.Orchestrator.GetJob(r.Context(), jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}
