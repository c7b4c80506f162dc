// Package executor serializes trade execution through a single-lane queue.
//
// The external trading terminal cannot absorb concurrent commands, so all
// approved orders flow through one bounded FIFO queue drained by a single
// worker goroutine. At most one task is ever processing.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ths-trader/internal/backend"
	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// Stats is a point-in-time snapshot of executor counters.
type Stats struct {
	Submitted  int64         `json:"submitted"`
	Completed  int64         `json:"completed"`
	Failed     int64         `json:"failed"`
	TimedOut   int64         `json:"timed_out"`
	Cancelled  int64         `json:"cancelled"`
	QueueDepth int           `json:"queue_depth"`
	Uptime     time.Duration `json:"uptime"`
}

// Executor is the single-lane asynchronous task queue.
type Executor struct {
	cfg     *config.ExecutorConfig
	backend backend.Backend
	logger  zerolog.Logger

	queue     chan string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	mu     sync.RWMutex
	tasks  map[string]*models.Task
	order  []string // task IDs in submission order, for listing
	closed bool
	stats  Stats
}

// New creates an executor. Call Start to launch the worker.
func New(cfg *config.ExecutorConfig, be backend.Backend, logger zerolog.Logger) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:     cfg,
		backend: be,
		logger:  logger.With().Str("component", "executor").Logger(),
		queue:   make(chan string, cfg.QueueCapacity),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]*models.Task),
	}
}

// Start launches the single worker goroutine that drains the queue.
func (e *Executor) Start() {
	e.mu.Lock()
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
}

// Close stops the worker. Queued tasks that have not started are left
// pending; no new submissions are accepted.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}

// Submit enqueues an order and returns its task ID without blocking.
// Submission past queue capacity fails with ErrQueueFull.
func (e *Executor) Submit(order models.Order) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", errs.ErrExecutorClosed
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		Order:     order,
		State:     models.TaskPending,
		CreatedAt: time.Now(),
	}

	select {
	case e.queue <- task.ID:
	default:
		return "", errs.ErrQueueFull
	}

	e.tasks[task.ID] = task
	e.order = append(e.order, task.ID)
	e.stats.Submitted++

	e.logger.Debug().
		Str("task_id", task.ID).
		Str("code", order.Code).
		Str("action", string(order.Action)).
		Msg("task queued")
	return task.ID, nil
}

// Status returns a point-in-time copy of the task. Polling is the only
// completion-notification mechanism.
func (e *Executor) Status(taskID string) (models.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return models.Task{}, errs.Wrapf(errs.ErrTaskNotFound, "task %s", taskID)
	}
	return *task, nil
}

// Cancel requests cancellation. It only takes effect while the task is
// still pending; a processing task's backend call is atomic and runs to
// completion. Cancelling a terminal or processing task is an accepted
// no-op.
func (e *Executor) Cancel(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return errs.Wrapf(errs.ErrTaskNotFound, "task %s", taskID)
	}
	if task.State != models.TaskPending {
		return nil
	}

	task.State = models.TaskCancelled
	task.CompletedAt = time.Now()
	e.stats.Cancelled++
	e.logger.Info().Str("task_id", taskID).Msg("task cancelled")
	return nil
}

// Tasks returns copies of the most recent tasks in submission order, newest
// last. limit <= 0 returns all.
func (e *Executor) Tasks(limit int) []models.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.order
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.tasks[id])
	}
	return out
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := e.stats
	s.QueueDepth = len(e.queue)
	if !e.startedAt.IsZero() {
		s.Uptime = time.Since(e.startedAt)
	}
	return s
}

// run is the drain loop: pop the head task, execute it, move on. A backend
// failure aborts only the current task. After each execution the loop waits
// the configured order interval before dequeuing the next task.
func (e *Executor) run() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case taskID := <-e.queue:
			if !e.begin(taskID) {
				continue // cancelled while pending
			}
			e.execute(taskID)

			if e.cfg.OrderInterval > 0 {
				select {
				case <-time.After(e.cfg.OrderInterval):
				case <-e.ctx.Done():
					return
				}
			}
		}
	}
}

// begin transitions the task pending -> processing. Returns false if the
// task was cancelled before it started.
func (e *Executor) begin(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok || task.State != models.TaskPending {
		return false
	}
	task.State = models.TaskProcessing
	task.StartedAt = time.Now()
	return true
}

// execute invokes the backend with the per-task timeout and records the
// terminal state. The backend call is atomic from the executor's point of
// view: on timeout the task is marked and the lane released, but the call
// is never retried (retrying a partially-executed trade order is unsafe).
func (e *Executor) execute(taskID string) {
	e.mu.RLock()
	order := e.tasks[taskID].Order
	e.mu.RUnlock()

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.TaskTimeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := e.backend.Execute(ctx, order)
		done <- outcome{result: result, err: err}
	}()

	var (
		state  models.TaskState
		result string
		errMsg string
	)

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			state, result = models.TaskCompleted, out.result
		case errs.Is(out.err, errs.ErrBackendTimeout) || errs.Is(out.err, context.DeadlineExceeded):
			state, errMsg = models.TaskTimeout, out.err.Error()
		default:
			state, errMsg = models.TaskFailed, out.err.Error()
		}
	case <-ctx.Done():
		if e.ctx.Err() != nil {
			// Shutting down; the backend call result is unknowable.
			state, errMsg = models.TaskFailed, "executor shut down during execution"
		} else {
			state, errMsg = models.TaskTimeout, errs.ErrBackendTimeout.Error()
		}
	}

	e.mu.Lock()
	task := e.tasks[taskID]
	task.State = state
	task.Result = result
	task.Error = errMsg
	task.CompletedAt = time.Now()
	switch state {
	case models.TaskCompleted:
		e.stats.Completed++
	case models.TaskTimeout:
		e.stats.TimedOut++
	default:
		e.stats.Failed++
	}
	duration := task.CompletedAt.Sub(task.StartedAt)
	e.mu.Unlock()

	event := e.logger.Info()
	if state != models.TaskCompleted {
		event = e.logger.Warn()
	}
	event.
		Str("task_id", taskID).
		Str("code", order.Code).
		Str("action", string(order.Action)).
		Str("state", string(state)).
		Dur("duration", duration).
		Str("error", errMsg).
		Msg("task finished")
}
