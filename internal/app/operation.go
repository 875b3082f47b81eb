package app

import (
	"strings"
	"time"

	"datafs-go/internal/datafs"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes, so interleaved runs can be told apart in datafs.log.
type Operation struct {
	ID        string
	Name      string
	Status    string // "success" or "error"
	StartedAt time.Time
}

// NewOperation creates an operation that starts now with status "success".
// The ID is the UTC start time followed by a short random suffix.
func NewOperation(name string, clock datafs.Clock, idgen datafs.IDGenerator) *Operation {
	now := clock.Now().UTC()
	suffix := strings.ReplaceAll(idgen.New(), "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return &Operation{
		ID:        now.Format("20060102T150405Z") + "-" + suffix,
		Name:      name,
		Status:    "success",
		StartedAt: now,
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() { op.Status = "error" }

// Failed reports whether any step of the operation failed.
func (op *Operation) Failed() bool { return op.Status == "error" }

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(clock datafs.Clock) time.Duration {
	return clock.Now().Sub(op.StartedAt)
}
