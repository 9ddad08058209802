package registrar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"forge/internal/adapter/repo"
	"forge/internal/domain"
	"forge/internal/objectstore"
)

func newTestRegistrar() (*Registrar, *repo.MemoryArtifactRepository, *objectstore.MemoryGateway) {
	artifacts := repo.NewMemoryArtifactRepository()
	store := objectstore.NewMemoryGateway(1024*1024, time.Minute)
	r := New(artifacts, store, zerolog.Nop())
	r.statBackoff = time.Millisecond
	return r, artifacts, store
}

func TestAnnounceIssuesGrantAndPendingArtifact(t *testing.T) {
	r, _, _ := newTestRegistrar()
	ctx := context.Background()

	artifact, grant, err := r.Announce(ctx, "tenant-a", "photo.png", 1000, "image/png", "")
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if artifact.Status != domain.ArtifactStatusUploading {
		t.Fatalf("Status = %s, want UPLOADING", artifact.Status)
	}
	if grant.StorageKey == "" || grant.URL == "" {
		t.Fatal("grant missing storage key or url")
	}
	if artifact.StorageKey != grant.StorageKey {
		t.Fatalf("artifact storage key %q != grant storage key %q", artifact.StorageKey, grant.StorageKey)
	}
	if artifact.StorageKey == "photo.png" {
		t.Fatal("storage key must not be derived from the declared filename")
	}
}

func TestAnnounceRejectsOversizedDeclaration(t *testing.T) {
	r, _, _ := newTestRegistrar()

	_, _, err := r.Announce(context.Background(), "tenant-a", "big.bin", 10*1024*1024, "application/octet-stream", "")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("Announce() error = %v, want ErrInvalidRequest", err)
	}
}

func TestConfirmVerifiesMatchingUpload(t *testing.T) {
	r, _, store := newTestRegistrar()
	ctx := context.Background()

	artifact, grant, err := r.Announce(ctx, "tenant-a", "photo.png", 1000, "image/png", "abc123")
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	store.Put(grant.StorageKey, 1000)

	confirmed, err := r.Confirm(ctx, artifact.ID, 1000, "abc123")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if confirmed.Status != domain.ArtifactStatusVerified {
		t.Fatalf("Status = %s, want VERIFIED", confirmed.Status)
	}
	if confirmed.ActualSize != 1000 {
		t.Fatalf("ActualSize = %d, want 1000", confirmed.ActualSize)
	}
}

func TestConfirmRejectsMismatches(t *testing.T) {
	tests := []struct {
		name             string
		storedSize       int64
		declaredChecksum string
		actualSize       int64
		actualChecksum   string
	}{
		{name: "size mismatch", storedSize: 999, actualSize: 1000},
		{name: "checksum mismatch", storedSize: 1000, declaredChecksum: "abc", actualSize: 1000, actualChecksum: "def"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, artifacts, store := newTestRegistrar()
			ctx := context.Background()

			artifact, grant, err := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", tc.declaredChecksum)
			if err != nil {
				t.Fatalf("Announce() error = %v", err)
			}
			store.Put(grant.StorageKey, tc.storedSize)

			if _, err := r.Confirm(ctx, artifact.ID, tc.actualSize, tc.actualChecksum); !errors.Is(err, domain.ErrArtifactRejected) {
				t.Fatalf("Confirm() error = %v, want ErrArtifactRejected", err)
			}

			stored, err := artifacts.Get(ctx, artifact.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if stored.Status != domain.ArtifactStatusRejected {
				t.Fatalf("Status = %s, want REJECTED", stored.Status)
			}
		})
	}
}

func TestConfirmRejectsMissingObject(t *testing.T) {
	r, artifacts, _ := newTestRegistrar()
	ctx := context.Background()

	artifact, _, err := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", "")
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}

	if _, err := r.Confirm(ctx, artifact.ID, 1000, ""); !errors.Is(err, domain.ErrArtifactRejected) {
		t.Fatalf("Confirm() error = %v, want ErrArtifactRejected", err)
	}
	stored, _ := artifacts.Get(ctx, artifact.ID)
	if stored.Status != domain.ArtifactStatusRejected {
		t.Fatalf("Status = %s, want REJECTED", stored.Status)
	}
}

func TestConfirmIsIdempotentWhenVerified(t *testing.T) {
	r, _, store := newTestRegistrar()
	ctx := context.Background()

	artifact, grant, _ := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", "")
	store.Put(grant.StorageKey, 1000)

	if _, err := r.Confirm(ctx, artifact.ID, 1000, ""); err != nil {
		t.Fatalf("first Confirm() error = %v", err)
	}
	if _, err := r.Confirm(ctx, artifact.ID, 1000, ""); err != nil {
		t.Fatalf("repeat Confirm() with matching params error = %v, want nil", err)
	}
	if _, err := r.Confirm(ctx, artifact.ID, 999, ""); !errors.Is(err, domain.ErrConflictingConfirmation) {
		t.Fatalf("repeat Confirm() with different size error = %v, want ErrConflictingConfirmation", err)
	}
}

func TestConfirmRecordsChecksumForRepeatMatching(t *testing.T) {
	r, artifacts, store := newTestRegistrar()
	ctx := context.Background()

	// No checksum declared at announce time; the first confirmation's
	// checksum becomes the one repeats are matched against.
	artifact, grant, _ := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", "")
	store.Put(grant.StorageKey, 1000)

	if _, err := r.Confirm(ctx, artifact.ID, 1000, "abc"); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	stored, err := artifacts.Get(ctx, artifact.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Checksum != "abc" {
		t.Fatalf("recorded checksum = %q, want %q", stored.Checksum, "abc")
	}

	if _, err := r.Confirm(ctx, artifact.ID, 1000, "abc"); err != nil {
		t.Fatalf("repeat Confirm() with same checksum error = %v", err)
	}
	if _, err := r.Confirm(ctx, artifact.ID, 1000, ""); err != nil {
		t.Fatalf("repeat Confirm() omitting checksum error = %v", err)
	}
	if _, err := r.Confirm(ctx, artifact.ID, 1000, "def"); !errors.Is(err, domain.ErrConflictingConfirmation) {
		t.Fatalf("repeat Confirm() with different checksum error = %v, want ErrConflictingConfirmation", err)
	}
}

func TestConfirmWithoutChecksumConflictsWithLaterChecksum(t *testing.T) {
	r, _, store := newTestRegistrar()
	ctx := context.Background()

	artifact, grant, _ := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", "")
	store.Put(grant.StorageKey, 1000)

	if _, err := r.Confirm(ctx, artifact.ID, 1000, ""); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	// The winning confirmation carried no checksum, so a repeat introducing
	// one is a different set of parameters.
	if _, err := r.Confirm(ctx, artifact.ID, 1000, "zzz"); !errors.Is(err, domain.ErrConflictingConfirmation) {
		t.Fatalf("repeat Confirm() error = %v, want ErrConflictingConfirmation", err)
	}
}

// slowGateway hides the object for a number of stats to mimic an
// eventually-consistent store.
type slowGateway struct {
	*objectstore.MemoryGateway
	hidden int
	stats  int
}

func (g *slowGateway) StatObject(ctx context.Context, storageKey string) (objectstore.ObjectInfo, error) {
	g.stats++
	if g.stats <= g.hidden {
		return objectstore.ObjectInfo{Exists: false}, nil
	}
	return g.MemoryGateway.StatObject(ctx, storageKey)
}

func TestConfirmRetriesStatBeforeRejecting(t *testing.T) {
	artifacts := repo.NewMemoryArtifactRepository()
	store := &slowGateway{MemoryGateway: objectstore.NewMemoryGateway(1024*1024, time.Minute), hidden: 2}
	r := New(artifacts, store, zerolog.Nop())
	r.statBackoff = time.Millisecond
	ctx := context.Background()

	artifact, grant, err := r.Announce(ctx, "tenant-a", "f.bin", 1000, "application/octet-stream", "")
	if err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	store.Put(grant.StorageKey, 1000)

	confirmed, err := r.Confirm(ctx, artifact.ID, 1000, "")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if confirmed.Status != domain.ArtifactStatusVerified {
		t.Fatalf("Status = %s, want VERIFIED after stat retries", confirmed.Status)
	}
	if store.stats != 3 {
		t.Fatalf("stat calls = %d, want 3", store.stats)
	}
}
