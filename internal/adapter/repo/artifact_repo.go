package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"forge/internal/domain"
)

// ArtifactRepositoryPG implements domain.ArtifactRepository.
type ArtifactRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewArtifactRepository creates a new artifact repository backed by PostgreSQL.
func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepositoryPG {
	return &ArtifactRepositoryPG{pool: pool}
}

// Create inserts a new artifact record.
func (r *ArtifactRepositoryPG) Create(ctx context.Context, a *domain.Artifact) error {
	query := `
INSERT INTO artifacts (id, tenant_id, filename, declared_size, actual_size, content_type, checksum, status, storage_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err := r.pool.Exec(ctx, query,
		a.ID,
		a.TenantID,
		a.Filename,
		a.DeclaredSize,
		a.ActualSize,
		a.ContentType,
		a.Checksum,
		a.Status,
		a.StorageKey,
		a.CreatedAt,
	)
	return err
}

// Get fetches an artifact by its identifier.
func (r *ArtifactRepositoryPG) Get(ctx context.Context, id string) (*domain.Artifact, error) {
	query := `
SELECT id, tenant_id, filename, declared_size, actual_size, content_type, checksum, status, storage_key, created_at
FROM artifacts
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var a domain.Artifact
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Filename,
		&a.DeclaredSize,
		&a.ActualSize,
		&a.ContentType,
		&a.Checksum,
		&a.Status,
		&a.StorageKey,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Transition conditionally advances an artifact's status. The WHERE clause is
// the whole concurrency story: a lost race simply updates zero rows.
func (r *ArtifactRepositoryPG) Transition(ctx context.Context, id string, from, to domain.ArtifactStatus) (bool, error) {
	query := `
UPDATE artifacts
SET status = $3
WHERE id = $1 AND status = $2;
`
	tag, err := r.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVerified records the observed size and the confirmed checksum and flips
// the artifact to VERIFIED unless it already reached a terminal status.
func (r *ArtifactRepositoryPG) MarkVerified(ctx context.Context, id string, actualSize int64, checksum string) (bool, error) {
	query := `
UPDATE artifacts
SET status = 'VERIFIED', actual_size = $2,
    checksum = COALESCE(NULLIF($3, ''), checksum)
WHERE id = $1 AND status NOT IN ('VERIFIED', 'REJECTED');
`
	tag, err := r.pool.Exec(ctx, query, id, actualSize, checksum)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ domain.ArtifactRepository = (*ArtifactRepositoryPG)(nil)
