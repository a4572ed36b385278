package mpp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/fragment"
)

// DispatchHandler turns dispatch requests into running tasks. All
// failures are reported inside the response; the handler itself never
// errors out-of-band.
type DispatchHandler struct {
	deps TaskDeps
	log  *slog.Logger
}

// NewDispatchHandler creates a handler around the shared task deps.
func NewDispatchHandler(deps TaskDeps) *DispatchHandler {
	return &DispatchHandler{deps: deps, log: deps.Log.With("component", "dispatch")}
}

// Dispatch validates, prepares and runs the task described by req. The
// caller blocks until the fragment finishes, fails or is cancelled;
// run-time failures never surface here, they travel through the task's
// tunnels instead. Each dispatch arrives on its own goroutine, so the
// calling goroutine is the task's execution context.
func (h *DispatchHandler) Dispatch(ctx context.Context, req *fragment.DispatchRequest) *fragment.DispatchResponse {
	start := time.Now()

	if req.Meta.StartTs == 0 {
		return errorResponse(fmt.Errorf("%w: meta without start_ts", domain.ErrMalformedRequest))
	}

	task := NewTask(req.Meta, h.deps)
	ctx, span := qfotel.StartDispatchSpan(ctx, task.ID().String(), req.Meta.Address)
	defer span.End()

	if err := task.Prepare(ctx, req); err != nil {
		h.log.Error("dispatch failed", "task", task.ID().String(), "error", err)
		task.Teardown(ctx, err.Error())
		return errorResponse(err)
	}

	if err := h.deps.Store.RecordDispatch(ctx, task.ID().StartTs, task.ID().ID, req.Meta.Address); err != nil {
		h.log.Error("dispatch accounting failed", "task", task.ID().String(), "error", err)
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.TasksDispatched.Add(ctx, 1)
	}

	// Cancellation flows through the manager, not the request context.
	task.Run(context.WithoutCancel(ctx))

	if h.deps.Metrics != nil {
		h.deps.Metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds())
	}

	h.log.Info("dispatch processed",
		"task", task.ID().String(),
		"root", task.IsRoot(),
		"regions", len(req.Regions),
		"duration", time.Since(start))

	return &fragment.DispatchResponse{}
}

func errorResponse(err error) *fragment.DispatchResponse {
	return &fragment.DispatchResponse{Error: &fragment.Error{Message: err.Error()}}
}
