package domain

import "time"

// ArtifactStatus enumerates the upload lifecycle of a client-supplied binary.
// Status only moves forward; VERIFIED and REJECTED are terminal.
type ArtifactStatus string

const (
	ArtifactStatusAnnounced           ArtifactStatus = "ANNOUNCED"
	ArtifactStatusUploading           ArtifactStatus = "UPLOADING"
	ArtifactStatusPendingVerification ArtifactStatus = "PENDING_VERIFICATION"
	ArtifactStatusVerified            ArtifactStatus = "VERIFIED"
	ArtifactStatusRejected            ArtifactStatus = "REJECTED"
)

// Artifact is a registered binary upload. DeclaredSize and Checksum come from
// the client at announce time and are never trusted for billing; ActualSize is
// taken from the object store at verification and is authoritative.
type Artifact struct {
	ID           string
	TenantID     string
	Filename     string
	DeclaredSize int64
	ActualSize   int64
	ContentType  string
	Checksum     string
	Status       ArtifactStatus
	StorageKey   string
	CreatedAt    time.Time
}
