// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrMalformedRequest indicates a dispatch request that cannot be decoded
// (bad plan encoding, duplicate region ids, unparseable task metas).
var ErrMalformedRequest = errors.New("malformed request")

// ErrTaskRegistered indicates a dispatch for a task id that is already
// registered in the task manager.
var ErrTaskRegistered = errors.New("task already registered")

// ErrHandshakeTimeout indicates a tunnel whose consumer never connected
// within the configured timeout.
var ErrHandshakeTimeout = errors.New("tunnel handshake timed out")

// ErrTunnelClosed indicates a write to a tunnel that has already been closed.
var ErrTunnelClosed = errors.New("tunnel closed")
