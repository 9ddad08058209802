package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrArtifactNotReady        = errors.New("artifact not ready")
	ErrArtifactRejected        = errors.New("artifact rejected")
	ErrConflictingConfirmation = errors.New("conflicting confirmation")
	ErrInsufficientCredit      = errors.New("insufficient credit")
	ErrRateLimited             = errors.New("rate limited")
	ErrNoJobAvailable          = errors.New("no job available")
	ErrAlreadyTerminal         = errors.New("job already terminal")
	ErrNotCancellable          = errors.New("job not cancellable")
)

// RateLimitedError carries the back-off guidance returned by the rate gate.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfter time.Duration
	Limit      int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds the back-off up to whole seconds, never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
