// Package exchange defines the data exchange port (interface) for
// moving result batches between MPP task fragments.
package exchange

import (
	"context"
	"fmt"
)

// Handler processes a packet received from the exchange bus.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Bus is the port interface for publishing and subscribing to exchange
// traffic. Tunnels publish data packets; receivers publish connect
// requests and subscribe to the data stream of their tunnel.
type Bus interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the exchange connection.
	Close() error
}

// Subject prefixes for exchange traffic.
const (
	SubjectConnectPrefix = "mpp.conn." // receiver handshake requests
	SubjectDataPrefix    = "mpp.data." // sender data packets
)

// ConnectSubject returns the handshake subject for the given tunnel.
func ConnectSubject(tunnelID string) string {
	return fmt.Sprintf("%s%s", SubjectConnectPrefix, tunnelID)
}

// DataSubject returns the data subject for the given tunnel.
func DataSubject(tunnelID string) string {
	return fmt.Sprintf("%s%s", SubjectDataPrefix, tunnelID)
}
