package mpp

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/atomic"

	"github.com/Strob0t/QueryForge/internal/domain/fragment"
	"github.com/Strob0t/QueryForge/internal/port/pipeline"
)

// PartitionWriter routes pipeline batches into a task's tunnels
// according to the fragment's exchange sender.
type PartitionWriter struct {
	set    *TunnelSet
	sender fragment.ExchangeSender
	rows   atomic.Int64
}

// NewPartitionWriter validates the sender against the tunnel set and
// returns a writer. A passthrough sender requires exactly one tunnel;
// hash partition key indexes are checked per batch since column counts
// vary by fragment.
func NewPartitionWriter(set *TunnelSet, sender fragment.ExchangeSender) (*PartitionWriter, error) {
	if set.Len() == 0 {
		return nil, fmt.Errorf("exchange sender with no tunnels")
	}
	if sender.Type == fragment.ExchangePassthrough && set.Len() != 1 {
		return nil, fmt.Errorf("passthrough exchange with %d tunnels", set.Len())
	}
	return &PartitionWriter{set: set, sender: sender}, nil
}

// RowsSent returns the total rows written across all tunnels.
func (w *PartitionWriter) RowsSent() int64 {
	return w.rows.Load()
}

// Write ships one batch downstream. Hash exchange splits the batch by
// the hash of the partition key columns, preserving per-partition row
// order; broadcast duplicates it to every tunnel.
func (w *PartitionWriter) Write(ctx context.Context, batch *pipeline.Batch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	switch w.sender.Type {
	case fragment.ExchangePassthrough:
		if err := w.set.At(0).Write(ctx, batch); err != nil {
			return err
		}
	case fragment.ExchangeBroadcast:
		for i := 0; i < w.set.Len(); i++ {
			if err := w.set.At(i).Write(ctx, batch); err != nil {
				return err
			}
		}
	case fragment.ExchangeHash:
		if err := w.writeHash(ctx, batch); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown exchange type %q", w.sender.Type)
	}

	w.rows.Add(int64(len(batch.Rows)))
	return nil
}

func (w *PartitionWriter) writeHash(ctx context.Context, batch *pipeline.Batch) error {
	n := w.set.Len()
	parts := make([][][]string, n)

	for _, row := range batch.Rows {
		h := xxhash.New()
		for _, k := range w.sender.PartitionKeys {
			if k >= len(row) {
				return fmt.Errorf("partition key index %d out of range for %d columns", k, len(row))
			}
			_, _ = h.WriteString(row[k])
			_, _ = h.Write([]byte{0})
		}
		p := int(h.Sum64() % uint64(n))
		parts[p] = append(parts[p], row)
	}

	for p, rows := range parts {
		if len(rows) == 0 {
			continue
		}
		sub := &pipeline.Batch{Columns: batch.Columns, Rows: rows}
		if err := w.set.At(p).Write(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}
