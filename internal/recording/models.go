// Package recording buffers per-session video chunks, enforces the
// duration cap, and ships finalized artifacts to object storage.
package recording

import (
	"time"

	"vkyc/pkg/domain"
)

// Status is the recording lifecycle.
type Status string

const (
	// StatusBuffering means chunks are being accepted.
	StatusBuffering Status = "buffering"
	// StatusFinalizing means the cap was hit or the session ended; no more
	// chunks are accepted while compression and upload run.
	StatusFinalizing Status = "finalizing"
	// StatusDone means the artifact was stored.
	StatusDone Status = "done"
	// StatusFailed means the artifact could not be stored.
	StatusFailed Status = "failed"
)

// Recording is the per-session recording metadata.
type Recording struct {
	ID        domain.RecordingID
	SessionID domain.SessionID
	StartedAt time.Time
	Duration  time.Duration
	Chunks    int
	Bytes     int64
	Status    Status
	ObjectKey string
	Error     string
}
