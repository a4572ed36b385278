package mpp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/atomic"

	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/fragment"
	"github.com/Strob0t/QueryForge/internal/port/cache"
	"github.com/Strob0t/QueryForge/internal/port/exchange"
	"github.com/Strob0t/QueryForge/internal/port/pipeline"
	"github.com/Strob0t/QueryForge/internal/port/taskstore"
)

// TaskID identifies one task on this node. Tasks sharing StartTs belong
// to the same query.
type TaskID struct {
	StartTs uint64
	ID      int64
}

func (id TaskID) String() string {
	return fmt.Sprintf("%d_%d", id.StartTs, id.ID)
}

// Status is the task lifecycle state.
type Status int32

const (
	StatusInitializing Status = iota
	StatusRunning
	StatusFinished
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusFinished:
		return "finished"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Timeouts the dispatch request selects when it carries no positive
// timeout of its own. The short values keep hang scenarios fast enough
// for tests to drive end to end.
const (
	testTunnelTimeout  = 5 * time.Second
	testRunningTimeout = 10 * time.Second

	// A task is allowed this much stall beyond its own timeout before
	// the monitor judges it hanging.
	runningTimeoutSlack = 30 * time.Second

	planCacheTTL = 10 * time.Minute
)

// TaskDeps bundles the shared collaborators a task needs. The handler
// holds one and stamps it onto every task it creates.
type TaskDeps struct {
	Manager *Manager
	Bus     exchange.Bus
	Builder pipeline.Builder
	Store   taskstore.Store
	Plans   cache.Cache
	Metrics *qfotel.Metrics
	Monitor config.Monitor
	Log     *slog.Logger
}

// Task is one dispatched plan fragment executing on this node. It moves
// initializing -> running -> finished, or to cancelled from either of
// the first two states.
type Task struct {
	id   TaskID
	meta fragment.TaskMeta
	deps TaskDeps
	log  *slog.Logger

	status   atomic.Int32
	progress *Progress
	tunnels  *TunnelSet
	writer   *PartitionWriter

	pipeMu sync.Mutex
	pipe   pipeline.Pipeline

	frag       *fragment.Fragment
	prepareDur time.Duration

	tunnelTimeout  time.Duration
	waitingTimeout time.Duration
	runningTimeout time.Duration
}

// NewTask creates a task in the initializing state.
func NewTask(meta fragment.TaskMeta, deps TaskDeps) *Task {
	id := TaskID{StartTs: meta.StartTs, ID: meta.TaskID}
	return &Task{
		id:       id,
		meta:     meta,
		deps:     deps,
		log:      deps.Log.With("task", id.String()),
		progress: NewProgress(),
		tunnels:  NewTunnelSet(),
	}
}

// ID returns the task identifier.
func (t *Task) ID() TaskID { return t.id }

// Status returns the current lifecycle state.
func (t *Task) Status() Status { return Status(t.status.Load()) }

// IsRoot reports whether this task's fragment ships results to the
// coordinator. Valid only after Prepare succeeds.
func (t *Task) IsRoot() bool {
	return t.frag != nil && t.frag.IsRoot()
}

// Progress returns the total rows produced so far.
func (t *Task) Progress() int64 { return t.progress.Current() }

// Prepare decodes and validates the request, registers the task,
// builds its pipeline, and opens one tunnel per downstream consumer.
// On error the caller must call Teardown.
func (t *Task) Prepare(ctx context.Context, req *fragment.DispatchRequest) error {
	start := time.Now()

	frag, err := t.decodeFragment(ctx, req.PlanFragment)
	if err != nil {
		return err
	}

	seen := make(map[uint64]struct{}, len(req.Regions))
	for _, r := range req.Regions {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate region %d", domain.ErrMalformedRequest, r.ID)
		}
		seen[r.ID] = struct{}{}
	}

	if len(req.DownstreamMetas) == 0 {
		return fmt.Errorf("%w: fragment without downstream consumers", domain.ErrMalformedRequest)
	}
	downstream := make([]fragment.TaskMeta, 0, len(req.DownstreamMetas))
	for _, raw := range req.DownstreamMetas {
		m, err := fragment.DecodeTaskMeta(raw)
		if err != nil {
			return err
		}
		downstream = append(downstream, m)
	}

	t.applyTimeouts(req.TimeoutSeconds)

	// The fragment must be in place before registration publishes the
	// task: the manager snapshots IsRoot concurrently.
	t.frag = frag

	if !t.deps.Manager.RegisterTask(t) {
		return fmt.Errorf("%w: %s", domain.ErrTaskRegistered, t.id)
	}

	pipe, err := t.deps.Builder.Build(ctx, pipeline.BuildRequest{
		Fragment:      frag,
		Regions:       req.Regions,
		StartTs:       req.ReadTs(),
		SchemaVersion: req.SchemaVersion,
		OnProgress:    t.progress.Add,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	t.pipeMu.Lock()
	t.pipe = pipe
	t.pipeMu.Unlock()

	for _, m := range downstream {
		id := TunnelID(t.id, TaskID{StartTs: m.StartTs, ID: m.TaskID})
		tun, err := OpenTunnel(ctx, t.deps.Bus, id, t.tunnelTimeout, t.log)
		if err != nil {
			return err
		}
		t.tunnels.Add(tun)
	}

	writer, err := NewPartitionWriter(t.tunnels, frag.Sender)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	t.writer = writer
	t.prepareDur = time.Since(start)
	return nil
}

// applyTimeouts derives the tunnel handshake timeout and the hang
// thresholds from the request. A non-positive request timeout selects
// the short test-mode values.
func (t *Task) applyTimeouts(timeoutSeconds int64) {
	if timeoutSeconds <= 0 {
		t.tunnelTimeout = testTunnelTimeout
		t.waitingTimeout = testTunnelTimeout
		t.runningTimeout = testRunningTimeout
		return
	}
	d := time.Duration(timeoutSeconds) * time.Second
	t.tunnelTimeout = d
	t.waitingTimeout = t.deps.Monitor.WaitingTimeout
	t.runningTimeout = d + runningTimeoutSlack
}

func (t *Task) decodeFragment(ctx context.Context, payload []byte) (*fragment.Fragment, error) {
	if t.deps.Plans == nil {
		return fragment.Decode(payload)
	}

	key := fmt.Sprintf("plan:%x", xxhash.Sum64(payload))
	if data, ok, err := t.deps.Plans.Get(ctx, key); err == nil && ok {
		var f fragment.Fragment
		if err := json.Unmarshal(data, &f); err == nil {
			return &f, nil
		}
	}

	f, err := fragment.Decode(payload)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(f); err == nil {
		_ = t.deps.Plans.Set(ctx, key, data, planCacheTTL)
	}
	return f, nil
}

// Teardown aborts a task whose Prepare failed: every opened tunnel is
// closed with the failure reason, the pipeline, if one was built, is
// released, and the registration, if this task holds one, is dropped.
func (t *Task) Teardown(ctx context.Context, reason string) {
	t.tunnels.CloseAll(ctx, reason)
	t.closePipeline()
	t.deps.Manager.UnregisterTask(t)
}

// closePipeline releases the pipeline at most once, whichever of Run,
// Cancel, or Teardown gets there first.
func (t *Task) closePipeline() {
	t.pipeMu.Lock()
	pipe := t.pipe
	t.pipe = nil
	t.pipeMu.Unlock()
	if pipe == nil {
		return
	}
	if err := pipe.Close(); err != nil {
		t.log.Error("pipeline close failed", "error", err)
	}
}

// Run pumps the pipeline into the tunnels until it is exhausted or
// fails. It only runs a task still in the initializing state; calling
// it on any other state is a logged no-op, so a cancel that lands
// before Run wins.
func (t *Task) Run(ctx context.Context) {
	if !t.status.CompareAndSwap(int32(StatusInitializing), int32(StatusRunning)) {
		t.log.Warn("task run skipped", "status", t.Status().String())
		t.closePipeline()
		return
	}

	ctx, span := qfotel.StartTaskSpan(ctx, t.id.String(), t.IsRoot())
	defer span.End()

	t.log.Info("task running", "tunnels", t.tunnels.Len(), "prepare", t.prepareDur)
	start := time.Now()

	runErr := t.pump(ctx)
	if runErr != nil {
		t.log.Error("task failed", "error", runErr)
		t.tunnels.CloseAll(ctx, runErr.Error())
	}

	t.closePipeline()

	t.deps.Manager.UnregisterTask(t)
	t.status.CompareAndSwap(int32(StatusRunning), int32(StatusFinished))

	status := t.Status()
	duration := time.Since(start)
	rows := t.writer.RowsSent()

	if err := t.deps.Store.RecordFinish(ctx, taskstore.Run{
		StartTs:    t.id.StartTs,
		TaskID:     t.id.ID,
		Address:    t.meta.Address,
		Status:     status.String(),
		RowsSent:   rows,
		PrepareMs:  t.prepareDur.Milliseconds(),
		DurationMs: duration.Milliseconds(),
		Error:      errString(runErr),
	}); err != nil {
		t.log.Error("task accounting failed", "error", err)
	}

	if t.deps.Metrics != nil {
		attrs := metric.WithAttributes(attribute.String("status", status.String()))
		switch {
		case runErr != nil:
			t.deps.Metrics.TasksFailed.Add(ctx, 1, attrs)
		case status == StatusFinished:
			t.deps.Metrics.TasksCompleted.Add(ctx, 1, attrs)
		}
		t.deps.Metrics.TaskDuration.Record(ctx, duration.Seconds(), attrs)
		t.deps.Metrics.TaskRows.Record(ctx, rows, attrs)
	}

	t.log.Info("task done", "status", status.String(), "rows", rows, "duration", duration)
}

func (t *Task) pump(ctx context.Context) error {
	for {
		batch, err := t.pipe.Next(ctx)
		if err != nil {
			return err
		}
		if batch == nil {
			break
		}
		if err := t.writer.Write(ctx, batch); err != nil {
			return err
		}
	}

	meta := &exchange.ResultMeta{TotalRows: t.writer.RowsSent()}
	if prof, ok := t.pipe.Profile(); ok {
		meta.RowsBeforeLimit = prof.RowsBeforeLimit
		meta.HasLimit = prof.HasLimit
		meta.TotalBatches = prof.TotalBatches
	}
	return t.tunnels.Finish(ctx, meta)
}

// Cancel moves the task to cancelled unless it already finished or was
// cancelled before, aborts its pipeline, and closes all tunnels with
// the given reason. It reports whether this call performed the cancel.
func (t *Task) Cancel(ctx context.Context, reason string) bool {
	var prev Status
	for {
		cur := Status(t.status.Load())
		if cur == StatusFinished || cur == StatusCancelled {
			return false
		}
		if t.status.CompareAndSwap(int32(cur), int32(StatusCancelled)) {
			prev = cur
			break
		}
	}

	t.log.Warn("task cancelled", "reason", reason)

	t.pipeMu.Lock()
	if t.pipe != nil {
		t.pipe.Cancel()
	}
	t.pipeMu.Unlock()

	// A task caught before Run has no pump to release its pipeline.
	if prev == StatusInitializing {
		t.closePipeline()
	}

	t.tunnels.CloseAll(ctx, reason)
	t.deps.Manager.UnregisterTask(t)

	if t.deps.Metrics != nil {
		t.deps.Metrics.TasksCancelled.Add(ctx, 1)
	}
	return true
}

// IsHanging asks the progress tracker whether the task has stalled.
// Only a running task can hang; tasks still initializing are covered by
// the tunnel handshake timeout instead.
func (t *Task) IsHanging() bool {
	if t.Status() != StatusRunning {
		return false
	}
	return t.progress.IsHanging(t.waitingTimeout, t.runningTimeout)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
