// Package objectstore issues time-limited upload/download grants against an
// S3-compatible binary store. The gateway only mints credentials and stats
// objects; artifact metadata lives with the registrar.
package objectstore

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"forge/internal/domain"
)

// UploadGrant lets a client PUT one object directly to storage until expiry.
type UploadGrant struct {
	URL        string
	StorageKey string
	ExpiresAt  time.Time
}

// DownloadGrant lets a client GET one object until expiry.
type DownloadGrant struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectInfo is the store's independent view of an object.
type ObjectInfo struct {
	Exists bool
	Size   int64
}

// Gateway is the contract the registrar depends on.
type Gateway interface {
	// GrantUpload picks a fresh storage key under the tenant's prefix and
	// returns a presigned upload handle. Declared sizes over the configured
	// ceiling fail with ErrInvalidRequest and are not retried.
	GrantUpload(ctx context.Context, tenantID string, declaredSize int64, contentType string) (*UploadGrant, error)
	GrantDownload(ctx context.Context, storageKey string, ttl time.Duration) (*DownloadGrant, error)
	StatObject(ctx context.Context, storageKey string) (ObjectInfo, error)
}

// Config holds the connection settings for the S3-compatible store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string

	MaxUploadBytes int64
	UploadTTL      time.Duration
}

// S3Gateway implements Gateway against any S3-compatible endpoint.
type S3Gateway struct {
	client *minio.Client
	cfg    Config
}

// NewS3Gateway constructs a gateway from the given configuration.
func NewS3Gateway(cfg Config) (*S3Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: init client: %w", err)
	}
	return &S3Gateway{client: client, cfg: cfg}, nil
}

func (g *S3Gateway) GrantUpload(ctx context.Context, tenantID string, declaredSize int64, contentType string) (*UploadGrant, error) {
	if declaredSize <= 0 {
		return nil, fmt.Errorf("%w: declared size must be positive", domain.ErrInvalidRequest)
	}
	if g.cfg.MaxUploadBytes > 0 && declaredSize > g.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: declared size %d exceeds maximum %d", domain.ErrInvalidRequest, declaredSize, g.cfg.MaxUploadBytes)
	}

	// The key is server-chosen so it can never be derived from the declared
	// filename.
	key := fmt.Sprintf("uploads/%s/%s", tenantID, uuid.NewString())
	presigned, err := g.client.PresignedPutObject(ctx, g.cfg.Bucket, key, g.cfg.UploadTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: presign upload: %v", domain.ErrBackendUnavailable, err)
	}
	return &UploadGrant{
		URL:        presigned.String(),
		StorageKey: key,
		ExpiresAt:  time.Now().Add(g.cfg.UploadTTL),
	}, nil
}

func (g *S3Gateway) GrantDownload(ctx context.Context, storageKey string, ttl time.Duration) (*DownloadGrant, error) {
	presigned, err := g.client.PresignedGetObject(ctx, g.cfg.Bucket, storageKey, ttl, url.Values{})
	if err != nil {
		return nil, fmt.Errorf("%w: presign download: %v", domain.ErrBackendUnavailable, err)
	}
	return &DownloadGrant{URL: presigned.String(), ExpiresAt: time.Now().Add(ttl)}, nil
}

func (g *S3Gateway) StatObject(ctx context.Context, storageKey string) (ObjectInfo, error) {
	info, err := g.client.StatObject(ctx, g.cfg.Bucket, storageKey, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return ObjectInfo{Exists: false}, nil
		}
		return ObjectInfo{}, fmt.Errorf("%w: stat object: %v", domain.ErrBackendUnavailable, err)
	}
	return ObjectInfo{Exists: true, Size: info.Size}, nil
}

var _ Gateway = (*S3Gateway)(nil)
