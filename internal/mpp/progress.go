// Package mpp implements the task execution core of the QueryForge
// worker: dispatched tasks, their tunnels to downstream consumers, the
// per-node task registry, and the hang monitor that cancels stalled
// queries.
package mpp

import (
	"time"

	"go.uber.org/atomic"
)

// Progress tracks how many rows a task has produced and decides, on
// behalf of the hang monitor, whether the task has stalled.
//
// Add is safe to call from the task's pump goroutine while the monitor
// calls IsHanging; the bookkeeping fields below current are touched by
// the monitor only.
type Progress struct {
	current atomic.Int64

	// Monitor-side state. The monitor runs in a single goroutine, so
	// these need no synchronization of their own.
	progressOnLastCheck int64
	foundNoProgress     bool
	noProgressSince     time.Time

	now func() time.Time
}

// NewProgress returns a Progress with a real clock.
func NewProgress() *Progress {
	return &Progress{now: time.Now}
}

// Add records rows produced since the last call.
func (p *Progress) Add(rows int64) {
	p.current.Add(rows)
}

// Current returns the total rows produced so far.
func (p *Progress) Current() int64 {
	return p.current.Load()
}

// IsHanging reports whether the task has made no progress for longer
// than the applicable timeout. A task that has produced nothing at all
// is judged against waiting; one stalled mid-run against running. The
// first flat observation only arms the timer, so a hang verdict needs
// at least two consecutive checks with no movement.
func (p *Progress) IsHanging(waiting, running time.Duration) bool {
	hanging := false
	current := p.current.Load()
	if current != p.progressOnLastCheck {
		p.foundNoProgress = false
	} else if !p.foundNoProgress {
		p.foundNoProgress = true
		p.noProgressSince = p.now()
	} else {
		threshold := running
		if current == 0 {
			threshold = waiting
		}
		if p.now().Sub(p.noProgressSince) > threshold {
			hanging = true
		}
	}
	p.progressOnLastCheck = current
	return hanging
}
