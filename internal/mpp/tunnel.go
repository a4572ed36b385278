package mpp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/port/exchange"
	"github.com/Strob0t/QueryForge/internal/port/pipeline"
)

// Tunnel is one sender-side data channel to a downstream consumer. It
// is created in an unconnected state; writes block until the consumer
// announces itself on the tunnel's connect subject or the handshake
// timeout expires.
type Tunnel struct {
	id      string
	bus     exchange.Bus
	timeout time.Duration
	log     *slog.Logger

	connected   chan struct{}
	connectOnce sync.Once
	cancelSub   func()

	closed   atomic.Bool
	closedCh chan struct{}
	seq      atomic.Int64

	metaMu sync.Mutex
	meta   *exchange.ResultMeta
}

// TunnelID names the channel between a sender task and a receiver task.
func TunnelID(sender, receiver TaskID) string {
	return fmt.Sprintf("%d_%d.%d_%d", sender.StartTs, sender.ID, receiver.StartTs, receiver.ID)
}

// OpenTunnel registers the tunnel on the bus and starts listening for
// the receiver's handshake. The timeout bounds how long WaitConnected
// and Write wait for that handshake.
func OpenTunnel(ctx context.Context, bus exchange.Bus, id string, timeout time.Duration, log *slog.Logger) (*Tunnel, error) {
	t := &Tunnel{
		id:        id,
		bus:       bus,
		timeout:   timeout,
		log:       log,
		connected: make(chan struct{}),
		closedCh:  make(chan struct{}),
	}

	cancel, err := bus.Subscribe(ctx, exchange.ConnectSubject(id), t.onConnect)
	if err != nil {
		return nil, fmt.Errorf("tunnel %s subscribe: %w", id, err)
	}
	t.cancelSub = cancel
	return t, nil
}

// ID returns the tunnel identifier.
func (t *Tunnel) ID() string { return t.id }

// Connected reports whether the receiver has completed the handshake.
func (t *Tunnel) Connected() bool {
	select {
	case <-t.connected:
		return true
	default:
		return false
	}
}

func (t *Tunnel) onConnect(ctx context.Context, subject string, data []byte) error {
	if err := exchange.Validate(subject, data); err != nil {
		return err
	}
	t.connectOnce.Do(func() {
		t.log.Debug("tunnel connected", "tunnel", t.id)
		close(t.connected)
	})
	return nil
}

// WaitConnected blocks until the receiver handshakes, the tunnel is
// closed, the handshake timeout expires, or ctx is done. A close wins
// over a racing connect so cancellation unblocks waiters promptly.
func (t *Tunnel) WaitConnected(ctx context.Context) error {
	select {
	case <-t.closedCh:
		return fmt.Errorf("tunnel %s: %w", t.id, domain.ErrTunnelClosed)
	default:
	}
	select {
	case <-t.connected:
		return nil
	case <-t.closedCh:
		return fmt.Errorf("tunnel %s: %w", t.id, domain.ErrTunnelClosed)
	case <-time.After(t.timeout):
		return fmt.Errorf("tunnel %s: %w after %s", t.id, domain.ErrHandshakeTimeout, t.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write ships one batch to the receiver. It waits for the handshake
// first, so the first write pays the connect latency.
func (t *Tunnel) Write(ctx context.Context, batch *pipeline.Batch) error {
	if t.closed.Load() {
		return fmt.Errorf("tunnel %s: %w", t.id, domain.ErrTunnelClosed)
	}
	if err := t.WaitConnected(ctx); err != nil {
		return err
	}

	pkt := exchange.DataPacket{
		TunnelID: t.id,
		Seq:      t.seq.Inc() - 1,
		Columns:  batch.Columns,
		Rows:     batch.Rows,
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("tunnel %s marshal: %w", t.id, err)
	}
	if err := t.bus.Publish(ctx, exchange.DataSubject(t.id), data); err != nil {
		return fmt.Errorf("tunnel %s: %w", t.id, err)
	}
	return nil
}

// SetResultMeta attaches end-of-stream details to include in the clean
// terminal packet.
func (t *Tunnel) SetResultMeta(meta *exchange.ResultMeta) {
	t.metaMu.Lock()
	t.meta = meta
	t.metaMu.Unlock()
}

// Close publishes the terminal packet and tears the tunnel down. With
// an empty errMsg the packet is a clean end of stream carrying the
// result meta; otherwise it reports errMsg and omits the meta. Close
// never waits for the handshake and is safe to call more than once.
func (t *Tunnel) Close(ctx context.Context, errMsg string) {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	// Unblocks any Write parked in WaitConnected.
	close(t.closedCh)

	pkt := exchange.DataPacket{
		TunnelID: t.id,
		Seq:      t.seq.Inc() - 1,
		Last:     true,
		Error:    errMsg,
	}
	if errMsg == "" {
		t.metaMu.Lock()
		pkt.Meta = t.meta
		t.metaMu.Unlock()
	}

	data, err := json.Marshal(pkt)
	if err != nil {
		t.log.Error("tunnel terminal packet marshal failed", "tunnel", t.id, "error", err)
	} else if err := t.bus.Publish(ctx, exchange.DataSubject(t.id), data); err != nil {
		t.log.Error("tunnel terminal packet publish failed", "tunnel", t.id, "error", err)
	}

	if t.cancelSub != nil {
		t.cancelSub()
	}
}
