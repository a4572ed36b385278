// Package pipeline defines the execution pipeline port (interface).
// A pipeline produces result batches for one plan fragment.
package pipeline

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/domain/fragment"
)

// Batch is one chunk of result rows produced by a pipeline.
type Batch struct {
	Columns []string
	Rows    [][]string
}

// Profile carries execution details collected by a pipeline.
type Profile struct {
	RowsBeforeLimit int64
	HasLimit        bool
	TotalRows       int64
	TotalBatches    int64
}

// ProgressFunc is called with the number of rows produced since the
// previous call. Implementations must be safe for concurrent use.
type ProgressFunc func(rows int64)

// Pipeline is the port interface for a running plan fragment.
type Pipeline interface {
	// Next returns the next batch of rows. It returns (nil, nil) when
	// the pipeline is exhausted.
	Next(ctx context.Context) (*Batch, error)

	// Profile returns execution details once the pipeline is exhausted.
	// The second return is false when the pipeline does not collect a
	// profile or has not finished yet.
	Profile() (*Profile, bool)

	// Cancel aborts the pipeline. Pending and future Next calls return
	// an error. Cancel is safe to call from another goroutine.
	Cancel()

	// Close releases pipeline resources. It must be called exactly once
	// after the last Next call.
	Close() error
}

// BuildRequest carries everything a builder needs to construct a
// pipeline for one plan fragment.
type BuildRequest struct {
	Fragment      *fragment.Fragment
	Regions       []fragment.Region
	StartTs       uint64
	SchemaVersion int64

	// OnProgress, when non-nil, receives row counts as batches are
	// produced so callers can track liveness.
	OnProgress ProgressFunc
}

// Builder constructs pipelines from plan fragments.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) (Pipeline, error)
}
