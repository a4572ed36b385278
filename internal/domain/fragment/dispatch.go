package fragment

// DispatchRequest is the boundary payload delivering one task's plan
// fragment and metadata to the node that will execute it.
type DispatchRequest struct {
	Meta            TaskMeta `json:"meta"`
	PlanFragment    []byte   `json:"plan_fragment"`
	Regions         []Region `json:"regions,omitempty"`
	SchemaVersion   int64    `json:"schema_version"`
	StartTs         uint64   `json:"start_ts,omitempty"` // read timestamp; falls back to Meta.StartTs when zero
	TimeoutSeconds  int64    `json:"timeout_seconds"`
	DownstreamMetas [][]byte `json:"downstream_metas"` // encoded TaskMeta, one per consumer, in declaration order
}

// ReadTs returns the snapshot read timestamp for the request.
func (r *DispatchRequest) ReadTs() uint64 {
	if r.StartTs != 0 {
		return r.StartTs
	}
	return r.Meta.StartTs
}

// Error carries a dispatch failure message back to the caller.
type Error struct {
	Message string `json:"message"`
}

// DispatchResponse is the boundary reply to a dispatch request. Error is nil
// on success; the handler never fails out-of-band.
type DispatchResponse struct {
	Error *Error `json:"error,omitempty"`
}
