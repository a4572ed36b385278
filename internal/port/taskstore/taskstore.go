// Package taskstore defines the task accounting port (interface).
package taskstore

import "context"

// Run is one recorded task execution.
type Run struct {
	StartTs    uint64
	TaskID     int64
	Address    string
	Status     string
	RowsSent   int64
	PrepareMs  int64
	DurationMs int64
	Error      string
}

// Store persists task run accounting. Implementations must tolerate
// being called from multiple goroutines.
type Store interface {
	// RecordDispatch inserts a row for a newly dispatched task.
	RecordDispatch(ctx context.Context, startTs uint64, taskID int64, address string) error

	// RecordFinish updates the row for a finished or cancelled task.
	RecordFinish(ctx context.Context, run Run) error
}

// Nop is a Store that discards everything. Used when no database is
// configured.
type Nop struct{}

func (Nop) RecordDispatch(ctx context.Context, startTs uint64, taskID int64, address string) error {
	return nil
}

func (Nop) RecordFinish(ctx context.Context, run Run) error { return nil }
