package domain

import (
	"encoding/json"
	"time"
)

// OperationType enumerates supported generation job categories.
type OperationType string

const (
	OperationImage OperationType = "IMAGE_GEN"
	OperationCopy  OperationType = "COPY_GEN"
	OperationVideo OperationType = "VIDEO_GEN"
)

// KnownOperation reports whether op is one of the supported operation types.
func KnownOperation(op OperationType) bool {
	switch op {
	case OperationImage, OperationCopy, OperationVideo:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states. Permitted transitions are
// QUEUED→RUNNING→{SUCCEEDED,FAILED} and QUEUED→CANCELLED.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrorCategory classifies a failed job so clients can tell bad input from
// worker trouble without parsing the human-readable detail.
type ErrorCategory string

const (
	ErrorCategoryClient  ErrorCategory = "client_error"
	ErrorCategoryWorker  ErrorCategory = "worker_failure"
	ErrorCategoryTimeout ErrorCategory = "timeout"
)

// Job is one asynchronous unit of generation work tied to a verified artifact.
// Config is opaque at this layer; only the worker interprets it. Exactly one
// of ResultRef and ErrorDetail is populated once the job is terminal.
type Job struct {
	ID            string
	TenantID      string
	RequesterID   string
	ArtifactID    string
	Operation     OperationType
	Config        json.RawMessage
	Status        JobStatus
	Progress      int
	ResultRef     string
	ErrorDetail   string
	ErrorCategory ErrorCategory
	HoldID        string
	QueuedAt      time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}
