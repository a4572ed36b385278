package mpp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	qfotel "github.com/Strob0t/QueryForge/internal/adapter/otel"
	"github.com/Strob0t/QueryForge/internal/config"
)

// HangCancelReason is the reason stamped on tunnels when the monitor
// cancels a stalled query.
const HangCancelReason = "task cancelled because it appears to hang"

// TaskInfo is a read-only snapshot of one registered task.
type TaskInfo struct {
	StartTs  uint64 `json:"start_ts"`
	TaskID   int64  `json:"task_id"`
	Address  string `json:"address,omitempty"`
	Status   string `json:"status"`
	Progress int64  `json:"progress"`
	Root     bool   `json:"root"`
}

// Manager is the per-node registry of live tasks. It owns the
// background monitor that cancels queries whose tasks stopped making
// progress.
type Manager struct {
	mu    sync.Mutex
	tasks map[TaskID]*Task

	cfg     config.Monitor
	metrics *qfotel.Metrics
	log     *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a manager and, when the check interval is
// positive, starts its hang monitor.
func NewManager(cfg config.Monitor, metrics *qfotel.Metrics, log *slog.Logger) *Manager {
	m := &Manager{
		tasks:   make(map[TaskID]*Task),
		cfg:     cfg,
		metrics: metrics,
		log:     log.With("component", "task-manager"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.CheckInterval > 0 {
		go m.monitor()
	} else {
		close(m.done)
	}
	return m
}

// RegisterTask adds the task to the registry. It returns false when a
// task with the same identifier is already registered.
func (m *Manager) RegisterTask(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID()]; exists {
		return false
	}
	m.tasks[t.ID()] = t
	m.log.Debug("task registered", "task", t.ID().String())
	return true
}

// UnregisterTask removes the task from the registry. It only removes
// the exact task given, so a duplicate that failed to register can
// never evict the original. Idempotent.
func (m *Manager) UnregisterTask(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tasks[t.ID()]; ok && cur == t {
		delete(m.tasks, t.ID())
		m.log.Debug("task unregistered", "task", t.ID().String())
	}
}

// FindTask returns the registered task with the given identifier.
func (m *Manager) FindTask(id TaskID) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Tasks returns a snapshot of all registered tasks.
func (m *Manager) Tasks() []TaskInfo {
	m.mu.Lock()
	snapshot := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	infos := make([]TaskInfo, 0, len(snapshot))
	for _, t := range snapshot {
		infos = append(infos, TaskInfo{
			StartTs:  t.ID().StartTs,
			TaskID:   t.ID().ID,
			Address:  t.meta.Address,
			Status:   t.Status().String(),
			Progress: t.Progress(),
			Root:     t.IsRoot(),
		})
	}
	return infos
}

// CancelQuery cancels every registered task of the query identified by
// startTs and returns how many tasks this call actually cancelled.
func (m *Manager) CancelQuery(ctx context.Context, startTs uint64, reason string) int {
	m.mu.Lock()
	victims := make([]*Task, 0)
	for id, t := range m.tasks {
		if id.StartTs == startTs {
			victims = append(victims, t)
		}
	}
	m.mu.Unlock()

	cancelled := 0
	for _, t := range victims {
		if t.Cancel(ctx, reason) {
			cancelled++
		}
	}
	if cancelled > 0 {
		m.log.Warn("query cancelled", "start_ts", startTs, "tasks", cancelled, "reason", reason)
		if m.metrics != nil {
			m.metrics.QueriesCancelled.Add(ctx, 1)
		}
	}
	return cancelled
}

// CheckHangingTasks runs one monitor sweep: it snapshots the registry,
// asks every task whether it hangs, and cancels each affected query as
// a whole. It returns the cancelled query start timestamps.
func (m *Manager) CheckHangingTasks(ctx context.Context) []uint64 {
	m.mu.Lock()
	snapshot := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snapshot = append(snapshot, t)
	}
	m.mu.Unlock()

	hanging := make(map[uint64]struct{})
	for _, t := range snapshot {
		if t.IsHanging() {
			m.log.Warn("hanging task detected", "task", t.ID().String(), "progress", t.Progress())
			hanging[t.ID().StartTs] = struct{}{}
		}
	}

	queries := make([]uint64, 0, len(hanging))
	for startTs := range hanging {
		m.CancelQuery(ctx, startTs, HangCancelReason)
		queries = append(queries, startTs)
	}
	return queries
}

func (m *Manager) monitor() {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	m.log.Info("hang monitor started",
		"interval", m.cfg.CheckInterval,
		"waiting_timeout", m.cfg.WaitingTimeout,
		"running_timeout", m.cfg.RunningTimeout)

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep isolates one monitor pass so a panicking task can never kill
// the monitor goroutine.
func (m *Manager) sweep() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("hang monitor sweep panicked", "panic", r)
		}
	}()
	m.CheckHangingTasks(context.Background())
}

// Close stops the hang monitor and waits for it to exit. Registered
// tasks are left untouched.
func (m *Manager) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	<-m.done
}
