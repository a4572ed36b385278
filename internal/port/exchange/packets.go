package exchange

// ConnectPayload is the schema for mpp.conn.{tunnel} messages.
// A receiver sends it to signal that it is ready to consume data.
type ConnectPayload struct {
	TunnelID   string `json:"tunnel_id"`
	ReceiverID string `json:"receiver_id"`
}

// DataPacket is the schema for mpp.data.{tunnel} messages.
// A packet with Last set is terminal; Error, when non-empty, carries
// the failure that aborted the stream. Meta is set only on a clean
// terminal packet.
type DataPacket struct {
	TunnelID string      `json:"tunnel_id"`
	Seq      int64       `json:"seq"`
	Columns  []string    `json:"columns,omitempty"`
	Rows     [][]string  `json:"rows,omitempty"`
	Last     bool        `json:"last,omitempty"`
	Error    string      `json:"error,omitempty"`
	Meta     *ResultMeta `json:"meta,omitempty"`
}

// ResultMeta carries end-of-stream execution details for root tunnels.
type ResultMeta struct {
	RowsBeforeLimit int64 `json:"rows_before_limit"`
	HasLimit        bool  `json:"has_limit"`
	TotalRows       int64 `json:"total_rows"`
	TotalBatches    int64 `json:"total_batches"`
}
