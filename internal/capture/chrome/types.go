package chrome

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status represents the current state of a browser instance.
type Status int

const (
	// StatusIdle indicates the instance is ready for a capture.
	StatusIdle Status = iota
	// StatusCapturing indicates the instance is currently processing a capture.
	StatusCapturing
	// StatusRestarting indicates the instance is being restarted.
	StatusRestarting
	// StatusDead indicates the instance has crashed or been terminated.
	StatusDead
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusCapturing:
		return "capturing"
	case StatusRestarting:
		return "restarting"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Instance represents a single browser instance owned by a Pool.
type Instance struct {
	ID             int                // Immutable
	ctx            context.Context    // Set at creation, replaced by Restart
	cancel         context.CancelFunc // Set at creation, replaced by Restart
	allocatorCtx   context.Context    // Set at creation, replaced by Restart
	allocatorCancel context.CancelFunc // Set at creation, replaced by Restart
	createdAt      time.Time          // Set at creation, reset by Restart
	logger         *zap.Logger        // Immutable
	browserVersion string             // Set at creation, replaced by Restart (e.g., "Chrome/120.0.6099.109")

	// Mutable fields - status, capturesDone and lastUsedNano use atomic operations
	status        int32 // Status as int32
	capturesDone  int32
	lastUsedNano  int64  // Unix nanoseconds
	currentJobID  string // Set by Acquire, cleared by Release; plain field, not atomic
}

// PoolStats represents statistics about the browser pool.
type PoolStats struct {
	TotalInstances     int
	AvailableInstances int
	ActiveInstances    int
	QueueDepth         int
	TotalCaptures      int64
	TotalRestarts      int64
	Uptime             time.Duration
}
