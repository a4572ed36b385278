package fragment_test

import (
	"errors"
	"testing"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/fragment"
)

func TestDecodeHashFragment(t *testing.T) {
	payload := []byte(`{
		"exchange_sender": {"type": "hash", "partition_keys": [0, 2]},
		"values": {"columns": ["a", "b", "c"], "rows": [["1", "x", "y"]]}
	}`)

	f, err := fragment.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.Sender.Type != fragment.ExchangeHash {
		t.Fatalf("expected hash exchange, got %q", f.Sender.Type)
	}
	if len(f.Sender.PartitionKeys) != 2 {
		t.Fatalf("expected 2 partition keys, got %d", len(f.Sender.PartitionKeys))
	}
	if f.IsRoot() {
		t.Fatal("hash fragment must not be root")
	}
}

func TestDecodePassthroughIsRoot(t *testing.T) {
	f, err := fragment.Decode([]byte(`{"exchange_sender": {"type": "passthrough"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !f.IsRoot() {
		t.Fatal("passthrough fragment should be root")
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := fragment.Decode([]byte(`{not json`))
	if !errors.Is(err, domain.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestDecodeUnknownExchangeType(t *testing.T) {
	_, err := fragment.Decode([]byte(`{"exchange_sender": {"type": "shuffle"}}`))
	if !errors.Is(err, domain.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestDecodeHashWithoutKeys(t *testing.T) {
	_, err := fragment.Decode([]byte(`{"exchange_sender": {"type": "hash"}}`))
	if !errors.Is(err, domain.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestDecodeTaskMeta(t *testing.T) {
	m, err := fragment.DecodeTaskMeta([]byte(`{"start_ts": 42, "task_id": 3, "address": "node-2:8090"}`))
	if err != nil {
		t.Fatalf("DecodeTaskMeta: %v", err)
	}
	if m.StartTs != 42 || m.TaskID != 3 {
		t.Fatalf("unexpected meta: %+v", m)
	}
}

func TestDecodeTaskMetaMissingStartTs(t *testing.T) {
	_, err := fragment.DecodeTaskMeta([]byte(`{"task_id": 3}`))
	if !errors.Is(err, domain.ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestDispatchRequestReadTs(t *testing.T) {
	req := &fragment.DispatchRequest{Meta: fragment.TaskMeta{StartTs: 7}}
	if got := req.ReadTs(); got != 7 {
		t.Fatalf("expected fallback to meta start_ts, got %d", got)
	}
	req.StartTs = 9
	if got := req.ReadTs(); got != 9 {
		t.Fatalf("expected explicit start_ts, got %d", got)
	}
}
