// Package fragment defines the wire model for dispatched plan fragments:
// the dispatch request/response, task metas, region descriptors, and the
// encoded fragment payload itself.
package fragment

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/QueryForge/internal/domain"
)

// TaskMeta identifies one task of a distributed query and where it runs.
// Two tasks with the same StartTs belong to the same query.
type TaskMeta struct {
	StartTs uint64 `json:"start_ts"`
	TaskID  int64  `json:"task_id"`
	Address string `json:"address,omitempty"`
}

// KeyRange is a half-open key interval [Start, End) of a region scan.
type KeyRange struct {
	Start []byte `json:"start"`
	End   []byte `json:"end"`
}

// Region describes one region the fragment scans, with its epoch for
// staleness checks.
type Region struct {
	ID           uint64     `json:"id"`
	EpochVersion uint64     `json:"epoch_version"`
	EpochConfVer uint64     `json:"epoch_conf_ver"`
	KeyRanges    []KeyRange `json:"key_ranges"`
}

// ExchangeType selects how the output writer routes rows to downstream
// consumers.
type ExchangeType string

const (
	// ExchangeHash partitions rows by the hash of the partition key columns.
	ExchangeHash ExchangeType = "hash"
	// ExchangePassthrough ships all rows to the single downstream consumer.
	// The root fragment of a query uses passthrough to reach the coordinator.
	ExchangePassthrough ExchangeType = "passthrough"
	// ExchangeBroadcast replicates every row to all downstream consumers.
	ExchangeBroadcast ExchangeType = "broadcast"
)

// ExchangeSender describes the fragment's output exchange.
type ExchangeSender struct {
	Type          ExchangeType `json:"type"`
	PartitionKeys []int        `json:"partition_keys,omitempty"`
}

// Values is an inline relation: literal rows embedded in the plan. It is the
// one operator the built-in pipeline builder executes; real deployments plug
// in a full operator pipeline behind the pipeline port.
type Values struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
	Limit   int64      `json:"limit,omitempty"` // 0 = no limit
}

// Fragment is the decoded plan fragment of one task.
type Fragment struct {
	Sender ExchangeSender `json:"exchange_sender"`
	Values *Values        `json:"values,omitempty"`
}

// IsRoot reports whether this fragment is the query's final aggregation
// point: a passthrough exchange shipping results to the coordinator rather
// than to another task.
func (f *Fragment) IsRoot() bool {
	return f.Sender.Type == ExchangePassthrough
}

// Decode parses and validates an encoded fragment payload.
// All failures are domain.ErrMalformedRequest.
func Decode(payload []byte) (*Fragment, error) {
	var f Fragment
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("%w: invalid encoded plan: %v", domain.ErrMalformedRequest, err)
	}

	switch f.Sender.Type {
	case ExchangeHash:
		if len(f.Sender.PartitionKeys) == 0 {
			return nil, fmt.Errorf("%w: hash exchange without partition keys", domain.ErrMalformedRequest)
		}
		for _, k := range f.Sender.PartitionKeys {
			if k < 0 {
				return nil, fmt.Errorf("%w: negative partition key index %d", domain.ErrMalformedRequest, k)
			}
		}
	case ExchangePassthrough, ExchangeBroadcast:
		// no partition keys required
	default:
		return nil, fmt.Errorf("%w: unknown exchange type %q", domain.ErrMalformedRequest, f.Sender.Type)
	}

	return &f, nil
}

// DecodeTaskMeta parses one encoded downstream task meta.
func DecodeTaskMeta(data []byte) (TaskMeta, error) {
	var m TaskMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return TaskMeta{}, fmt.Errorf("%w: invalid task meta: %v", domain.ErrMalformedRequest, err)
	}
	if m.StartTs == 0 {
		return TaskMeta{}, fmt.Errorf("%w: task meta without start_ts", domain.ErrMalformedRequest)
	}
	return m, nil
}
