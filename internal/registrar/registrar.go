// Package registrar turns client-announced files into verified artifact
// records. The client uploads directly to storage with a presigned handle and
// then confirms; the registrar only trusts sizes it observes through the
// gateway.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"forge/internal/domain"
	"forge/internal/objectstore"
)

const (
	defaultStatAttempts = 3
	defaultStatBackoff  = 500 * time.Millisecond
)

// Registrar registers and verifies uploaded artifacts.
type Registrar struct {
	artifacts domain.ArtifactRepository
	store     objectstore.Gateway
	logger    zerolog.Logger

	statAttempts int
	statBackoff  time.Duration
}

// New creates a Registrar with default stat retry settings.
func New(artifacts domain.ArtifactRepository, store objectstore.Gateway, logger zerolog.Logger) *Registrar {
	return &Registrar{
		artifacts:    artifacts,
		store:        store,
		logger:       logger,
		statAttempts: defaultStatAttempts,
		statBackoff:  defaultStatBackoff,
	}
}

// Get returns the artifact record.
func (r *Registrar) Get(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	return r.artifacts.Get(ctx, artifactID)
}

// Announce registers intent to upload and returns the pending artifact along
// with a time-limited upload grant. The artifact leaves this call in
// UPLOADING: the grant is already on its way back to the client.
func (r *Registrar) Announce(ctx context.Context, tenantID, filename string, declaredSize int64, contentType, declaredChecksum string) (*domain.Artifact, *objectstore.UploadGrant, error) {
	grant, err := r.store.GrantUpload(ctx, tenantID, declaredSize, contentType)
	if err != nil {
		return nil, nil, err
	}

	artifact := &domain.Artifact{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Filename:     filename,
		DeclaredSize: declaredSize,
		ContentType:  contentType,
		Checksum:     declaredChecksum,
		Status:       domain.ArtifactStatusAnnounced,
		StorageKey:   grant.StorageKey,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.artifacts.Create(ctx, artifact); err != nil {
		return nil, nil, fmt.Errorf("create artifact: %w", err)
	}

	if _, err := r.artifacts.Transition(ctx, artifact.ID, domain.ArtifactStatusAnnounced, domain.ArtifactStatusUploading); err != nil {
		return nil, nil, fmt.Errorf("transition artifact: %w", err)
	}
	artifact.Status = domain.ArtifactStatusUploading

	r.logger.Info().
		Str("artifact_id", artifact.ID).
		Str("tenant_id", tenantID).
		Int64("declared_size", declaredSize).
		Msg("registrar: artifact announced")
	return artifact, grant, nil
}

// Confirm verifies the client's post-upload claim against the store and flips
// the artifact to VERIFIED or REJECTED. Confirming an already verified
// artifact with matching parameters is a no-op; any other repeat confirmation
// fails with ErrConflictingConfirmation.
func (r *Registrar) Confirm(ctx context.Context, artifactID string, actualSize int64, actualChecksum string) (*domain.Artifact, error) {
	artifact, err := r.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	switch artifact.Status {
	case domain.ArtifactStatusVerified:
		// The checksum stored at verification time is the one the winning
		// confirmation carried; a repeat must match it or omit it.
		if artifact.ActualSize == actualSize && (actualChecksum == "" || actualChecksum == artifact.Checksum) {
			return artifact, nil
		}
		return nil, domain.ErrConflictingConfirmation
	case domain.ArtifactStatusRejected:
		return nil, domain.ErrConflictingConfirmation
	}

	if _, err := r.artifacts.Transition(ctx, artifactID, artifact.Status, domain.ArtifactStatusPendingVerification); err != nil {
		return nil, fmt.Errorf("transition artifact: %w", err)
	}

	info, err := r.statWithRetry(ctx, artifact.StorageKey)
	if err != nil {
		return nil, err
	}

	if !info.Exists {
		return nil, r.reject(ctx, artifact, "object not found in store")
	}
	if info.Size != actualSize {
		return nil, r.reject(ctx, artifact, fmt.Sprintf("stored size %d does not match confirmed size %d", info.Size, actualSize))
	}
	if artifact.Checksum != "" && actualChecksum != "" && artifact.Checksum != actualChecksum {
		return nil, r.reject(ctx, artifact, "checksum mismatch")
	}

	if _, err := r.artifacts.MarkVerified(ctx, artifactID, info.Size, actualChecksum); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	artifact.Status = domain.ArtifactStatusVerified
	artifact.ActualSize = info.Size
	if actualChecksum != "" {
		artifact.Checksum = actualChecksum
	}

	r.logger.Info().
		Str("artifact_id", artifactID).
		Int64("actual_size", info.Size).
		Msg("registrar: artifact verified")
	return artifact, nil
}

// statWithRetry tolerates eventual-consistency stores: a just-finished upload
// may not be visible on the first stat.
func (r *Registrar) statWithRetry(ctx context.Context, storageKey string) (objectstore.ObjectInfo, error) {
	backoff := r.statBackoff
	var lastErr error
	for attempt := 0; attempt < r.statAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return objectstore.ObjectInfo{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		info, err := r.store.StatObject(ctx, storageKey)
		if err != nil {
			if errors.Is(err, domain.ErrBackendUnavailable) {
				lastErr = err
				continue
			}
			return objectstore.ObjectInfo{}, err
		}
		if info.Exists {
			return info, nil
		}
		lastErr = nil
	}
	if lastErr != nil {
		return objectstore.ObjectInfo{}, lastErr
	}
	return objectstore.ObjectInfo{Exists: false}, nil
}

func (r *Registrar) reject(ctx context.Context, artifact *domain.Artifact, reason string) error {
	if _, err := r.artifacts.Transition(ctx, artifact.ID, domain.ArtifactStatusPendingVerification, domain.ArtifactStatusRejected); err != nil {
		return fmt.Errorf("transition artifact: %w", err)
	}
	artifact.Status = domain.ArtifactStatusRejected
	r.logger.Warn().
		Str("artifact_id", artifact.ID).
		Str("reason", reason).
		Msg("registrar: artifact rejected")
	return fmt.Errorf("%w: %s", domain.ErrArtifactRejected, reason)
}
