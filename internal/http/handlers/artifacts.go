package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"forge/internal/domain"
	"forge/internal/middleware"
)

type artifactAnnounceRequest struct {
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Checksum    string `json:"checksum"`
}

type artifactAnnounceResponse struct {
	ArtifactID       string `json:"artifactId"`
	UploadURL        string `json:"uploadUrl"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type artifactConfirmRequest struct {
	ActualSize     int64  `json:"actualSize"`
	ActualChecksum string `json:"actualChecksum"`
}

func (a *App) ArtifactAnnounce(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	var req artifactAnnounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Filename == "" || req.Size <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "filename and positive size required")
		return
	}

	artifact, grant, err := a.Registrar.Announce(r.Context(), tenantID, req.Filename, req.Size, req.ContentType, req.Checksum)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		case errors.Is(err, domain.ErrBackendUnavailable):
			a.error(w, http.StatusServiceUnavailable, "store_unavailable", "object store unavailable, retry later")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to announce artifact")
		}
		return
	}

	a.json(w, http.StatusCreated, artifactAnnounceResponse{
		ArtifactID:       artifact.ID,
		UploadURL:        grant.URL,
		ExpiresInSeconds: int(time.Until(grant.ExpiresAt) / time.Second),
	})
}

func (a *App) ArtifactConfirm(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	artifactID := chi.URLParam(r, "artifact_id")
	var req artifactConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	if _, err := a.loadArtifactForTenant(r, artifactID, tenantID); err != nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}

	artifact, err := a.Registrar.Confirm(r.Context(), artifactID, req.ActualSize, req.ActualChecksum)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrArtifactRejected):
			a.json(w, http.StatusOK, map[string]string{
				"status": string(domain.ArtifactStatusRejected),
				"reason": err.Error(),
			})
		case errors.Is(err, domain.ErrConflictingConfirmation):
			a.error(w, http.StatusConflict, "conflicting_confirmation", "artifact already confirmed with different parameters")
		case errors.Is(err, domain.ErrBackendUnavailable):
			a.error(w, http.StatusServiceUnavailable, "store_unavailable", "object store unavailable, retry later")
		default:
			a.error(w, http.StatusInternalServerError, "internal", "failed to confirm artifact")
		}
		return
	}

	a.json(w, http.StatusOK, map[string]string{"status": string(artifact.Status)})
}

func (a *App) ArtifactGet(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	artifact, err := a.loadArtifactForTenant(r, chi.URLParam(r, "artifact_id"), tenantID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":           artifact.ID,
		"filename":     artifact.Filename,
		"size":         artifact.ActualSize,
		"content_type": artifact.ContentType,
		"status":       artifact.Status,
		"created_at":   artifact.CreatedAt,
	})
}

func (a *App) ArtifactDownload(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantFromContext(r.Context())
	artifact, err := a.loadArtifactForTenant(r, chi.URLParam(r, "artifact_id"), tenantID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	if artifact.Status != domain.ArtifactStatusVerified {
		a.error(w, http.StatusConflict, "artifact_not_ready", "artifact is not verified")
		return
	}

	grant, err := a.Store.GrantDownload(r.Context(), artifact.StorageKey, a.DownloadTTL)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "store_unavailable", "object store unavailable, retry later")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"downloadUrl":      grant.URL,
		"expiresInSeconds": int(time.Until(grant.ExpiresAt) / time.Second),
	})
}

func (a *App) loadArtifactForTenant(r *http.Request, artifactID, tenantID string) (*domain.Artifact, error) {
	if artifactID == "" {
		return nil, domain.ErrNotFound
	}
	artifact, err := a.Registrar.Get(r.Context(), artifactID)
	if err != nil {
		return nil, err
	}
	if artifact.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return artifact, nil
}
