// Package valuesexec implements the pipeline port for fragments whose
// plan is an inline values relation. It is the built-in executor used
// by tests and single-node deployments; a full operator engine plugs in
// behind the same port.
package valuesexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/QueryForge/internal/port/pipeline"
)

const defaultBatchSize = 256

// Builder builds pipelines for values fragments.
type Builder struct {
	batchSize int
	log       *slog.Logger
}

// NewBuilder creates a builder producing batches of the default size.
func NewBuilder(log *slog.Logger) *Builder {
	return &Builder{batchSize: defaultBatchSize, log: log}
}

// NewBuilderWithBatchSize creates a builder with an explicit batch size.
func NewBuilderWithBatchSize(batchSize int, log *slog.Logger) *Builder {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Builder{batchSize: batchSize, log: log}
}

// Build constructs a pipeline over the fragment's values relation.
func (b *Builder) Build(ctx context.Context, req pipeline.BuildRequest) (pipeline.Pipeline, error) {
	if req.Fragment == nil || req.Fragment.Values == nil {
		return nil, fmt.Errorf("fragment has no values relation")
	}

	v := req.Fragment.Values
	rows := v.Rows
	rowsBeforeLimit := int64(len(rows))
	hasLimit := v.Limit > 0
	if hasLimit && v.Limit < int64(len(rows)) {
		rows = rows[:v.Limit]
	}

	return &valuesPipeline{
		columns:    v.Columns,
		rows:       rows,
		batchSize:  b.batchSize,
		onProgress: req.OnProgress,
		profile: pipeline.Profile{
			RowsBeforeLimit: rowsBeforeLimit,
			HasLimit:        hasLimit,
		},
	}, nil
}

type valuesPipeline struct {
	mu         sync.Mutex
	columns    []string
	rows       [][]string
	pos        int
	batchSize  int
	onProgress pipeline.ProgressFunc

	cancelled bool
	closed    bool
	exhausted bool
	profile   pipeline.Profile
}

func (p *valuesPipeline) Next(ctx context.Context) (*pipeline.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return nil, fmt.Errorf("pipeline cancelled")
	}
	if p.closed {
		return nil, fmt.Errorf("pipeline closed")
	}
	if p.pos >= len(p.rows) {
		p.exhausted = true
		return nil, nil
	}

	end := p.pos + p.batchSize
	if end > len(p.rows) {
		end = len(p.rows)
	}
	batch := &pipeline.Batch{Columns: p.columns, Rows: p.rows[p.pos:end]}
	n := int64(end - p.pos)
	p.pos = end
	p.profile.TotalRows += n
	p.profile.TotalBatches++

	if p.onProgress != nil {
		p.onProgress(n)
	}
	return batch, nil
}

func (p *valuesPipeline) Profile() (*pipeline.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exhausted {
		return nil, false
	}
	prof := p.profile
	return &prof, true
}

func (p *valuesPipeline) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()
}

func (p *valuesPipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
