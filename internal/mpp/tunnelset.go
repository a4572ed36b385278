package mpp

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/port/exchange"
)

// TunnelSet holds a task's tunnels in downstream declaration order, so
// partition index i always maps to the i-th declared consumer.
type TunnelSet struct {
	tunnels []*Tunnel
}

// NewTunnelSet returns an empty set.
func NewTunnelSet() *TunnelSet {
	return &TunnelSet{}
}

// Add appends a tunnel. Tunnels must be added in declaration order.
func (s *TunnelSet) Add(t *Tunnel) {
	s.tunnels = append(s.tunnels, t)
}

// Len returns the number of tunnels.
func (s *TunnelSet) Len() int { return len(s.tunnels) }

// At returns the tunnel for partition index i.
func (s *TunnelSet) At(i int) *Tunnel { return s.tunnels[i] }

// Finish completes all tunnels cleanly. It waits for every receiver's
// handshake so no terminal packet is published into the void, attaches
// the result meta, then closes each tunnel without an error.
func (s *TunnelSet) Finish(ctx context.Context, meta *exchange.ResultMeta) error {
	for _, t := range s.tunnels {
		if err := t.WaitConnected(ctx); err != nil {
			return err
		}
		t.SetResultMeta(meta)
		t.Close(ctx, "")
	}
	return nil
}

// CloseAll aborts every tunnel with the given reason. Unlike Finish it
// never waits for handshakes, so it is safe on cancellation paths.
func (s *TunnelSet) CloseAll(ctx context.Context, reason string) {
	for _, t := range s.tunnels {
		t.Close(ctx, reason)
	}
}
