// Package gate holds the admission checks that run before a job is created:
// a sliding-window rate limiter keyed by (tenant, user, operation). The credit
// side of admission lives behind domain.CreditLedger.
package gate

import (
	"context"
	"fmt"
	"time"

	"forge/internal/domain"
)

// Decision is the outcome of one rate-limit check. RetryAfter is only set on
// rejection and tells the client when the oldest counted request leaves the
// window.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request for a key under a sliding window. The
// check and the recording of the new request are a single atomic operation.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Key builds the limiter key for a tenant/user/operation triple.
func Key(tenantID, userID string, op domain.OperationType) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, userID, op)
}
