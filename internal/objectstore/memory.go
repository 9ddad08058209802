package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge/internal/domain"
)

// MemoryGateway implements Gateway without a real store. It is intended for
// development and test environments where an object storage service is not
// available; tests seed objects through Put.
type MemoryGateway struct {
	mu             sync.Mutex
	objects        map[string]int64
	MaxUploadBytes int64
	UploadTTL      time.Duration
}

// NewMemoryGateway constructs an empty in-memory gateway.
func NewMemoryGateway(maxUploadBytes int64, uploadTTL time.Duration) *MemoryGateway {
	return &MemoryGateway{
		objects:        make(map[string]int64),
		MaxUploadBytes: maxUploadBytes,
		UploadTTL:      uploadTTL,
	}
}

// Put records an object as present in the store with the given size.
func (g *MemoryGateway) Put(storageKey string, size int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[storageKey] = size
}

func (g *MemoryGateway) GrantUpload(ctx context.Context, tenantID string, declaredSize int64, contentType string) (*UploadGrant, error) {
	if declaredSize <= 0 {
		return nil, fmt.Errorf("%w: declared size must be positive", domain.ErrInvalidRequest)
	}
	if g.MaxUploadBytes > 0 && declaredSize > g.MaxUploadBytes {
		return nil, fmt.Errorf("%w: declared size %d exceeds maximum %d", domain.ErrInvalidRequest, declaredSize, g.MaxUploadBytes)
	}
	key := fmt.Sprintf("uploads/%s/%s", tenantID, uuid.NewString())
	return &UploadGrant{
		URL:        "memory://" + key,
		StorageKey: key,
		ExpiresAt:  time.Now().Add(g.UploadTTL),
	}, nil
}

func (g *MemoryGateway) GrantDownload(ctx context.Context, storageKey string, ttl time.Duration) (*DownloadGrant, error) {
	return &DownloadGrant{URL: "memory://" + storageKey, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (g *MemoryGateway) StatObject(ctx context.Context, storageKey string) (ObjectInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	size, ok := g.objects[storageKey]
	if !ok {
		return ObjectInfo{Exists: false}, nil
	}
	return ObjectInfo{Exists: true, Size: size}, nil
}

var _ Gateway = (*MemoryGateway)(nil)
