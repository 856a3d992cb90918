package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackStatus is the lifecycle state of an asynchronous webhook request.
// A request is created as processing and transitions exactly once to
// completed or failed.
type TrackStatus string

const (
	TrackStatusProcessing TrackStatus = "processing"
	TrackStatusCompleted  TrackStatus = "completed"
	TrackStatusFailed     TrackStatus = "failed"
)

// TrackedRequest is the caller-visible state of a webhook request.
type TrackedRequest struct {
	TrackID   uuid.UUID   `json:"track_id"`
	Status    TrackStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Response  string      `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
}
