package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// instrumentedBackend records execution order and the number of concurrent
// entries into Execute, which must never exceed one.
type instrumentedBackend struct {
	mu            sync.Mutex
	executed      []string
	inFlight      int32
	maxConcurrent int32
	delay         time.Duration
	delays        map[string]time.Duration // per-code override
	failCodes     map[string]error
}

func (b *instrumentedBackend) Name() string { return "instrumented" }

func (b *instrumentedBackend) Execute(ctx context.Context, order models.Order) (string, error) {
	entered := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		max := atomic.LoadInt32(&b.maxConcurrent)
		if entered <= max || atomic.CompareAndSwapInt32(&b.maxConcurrent, max, entered) {
			break
		}
	}

	delay := b.delay
	if d, ok := b.delays[order.Code]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err, ok := b.failCodes[order.Code]; ok {
		return "", err
	}

	b.mu.Lock()
	b.executed = append(b.executed, order.Code)
	b.mu.Unlock()
	return "ok", nil
}

func (b *instrumentedBackend) executedCodes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.executed))
	copy(out, b.executed)
	return out
}

func testConfig(capacity int) *config.ExecutorConfig {
	return &config.ExecutorConfig{
		QueueCapacity: capacity,
		TaskTimeout:   2 * time.Second,
		OrderInterval: 0,
	}
}

func waitTerminal(t *testing.T, e *Executor, ids []string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for _, id := range ids {
		for {
			task, err := e.Status(id)
			require.NoError(t, err)
			if task.State.Terminal() {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("task %s stuck in state %s", id, task.State)
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

// Property: completion order equals submission order (FIFO), and no two
// tasks are ever processing simultaneously.
func TestProperty_FIFOCompletionAndSingleLane(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	countGen := gen.IntRange(1, 12)

	properties.Property("FIFO order with at most one in-flight execution", prop.ForAll(
		func(n int) bool {
			be := &instrumentedBackend{delay: time.Millisecond}
			e := New(testConfig(64), be, zerolog.Nop())
			e.Start()
			defer e.Close()

			var submitted []string
			var ids []string
			for i := 0; i < n; i++ {
				code := string(rune('A' + i))
				id, err := e.Submit(models.Order{Code: code, Action: models.ActionSell, Quantity: 100, Price: 10})
				if err != nil {
					t.Logf("submit failed: %v", err)
					return false
				}
				submitted = append(submitted, code)
				ids = append(ids, id)
			}

			waitTerminal(t, e, ids, 5*time.Second)

			executed := be.executedCodes()
			if len(executed) != len(submitted) {
				t.Logf("expected %d executions, got %d", len(submitted), len(executed))
				return false
			}
			for i := range submitted {
				if executed[i] != submitted[i] {
					t.Logf("order mismatch at %d: submitted %v, executed %v", i, submitted, executed)
					return false
				}
			}
			if atomic.LoadInt32(&be.maxConcurrent) > 1 {
				t.Logf("concurrent entries: %d", be.maxConcurrent)
				return false
			}
			return true
		},
		countGen,
	))

	properties.TestingRun(t)
}

func TestSubmit_QueueFull(t *testing.T) {
	be := &instrumentedBackend{delay: 200 * time.Millisecond}
	e := New(testConfig(2), be, zerolog.Nop())
	// Worker not started: everything stays queued.
	defer e.Close()

	order := models.Order{Code: "600000", Action: models.ActionSell, Quantity: 100, Price: 10}

	_, err := e.Submit(order)
	require.NoError(t, err)
	_, err = e.Submit(order)
	require.NoError(t, err)

	_, err = e.Submit(order)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrQueueFull))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Submitted, "rejected submissions are not counted")
	assert.Equal(t, 2, stats.QueueDepth)
}

func TestExecute_BackendFailureAbortsOnlyCurrentTask(t *testing.T) {
	be := &instrumentedBackend{
		failCodes: map[string]error{"BAD": errors.New("window not found")},
	}
	e := New(testConfig(8), be, zerolog.Nop())
	e.Start()
	defer e.Close()

	id1, err := e.Submit(models.Order{Code: "BAD", Action: models.ActionSell, Quantity: 100, Price: 10})
	require.NoError(t, err)
	id2, err := e.Submit(models.Order{Code: "OK", Action: models.ActionSell, Quantity: 100, Price: 10})
	require.NoError(t, err)

	waitTerminal(t, e, []string{id1, id2}, 3*time.Second)

	failed, _ := e.Status(id1)
	assert.Equal(t, models.TaskFailed, failed.State)
	assert.Contains(t, failed.Error, "window not found")

	ok, _ := e.Status(id2)
	assert.Equal(t, models.TaskCompleted, ok.State)
	assert.Equal(t, "ok", ok.Result)
}

func TestExecute_TimeoutReleasesLane(t *testing.T) {
	be := &instrumentedBackend{delays: map[string]time.Duration{"SLOW": time.Second}}
	cfg := testConfig(8)
	cfg.TaskTimeout = 20 * time.Millisecond
	e := New(cfg, be, zerolog.Nop())
	e.Start()
	defer e.Close()

	id1, err := e.Submit(models.Order{Code: "SLOW", Action: models.ActionSell, Quantity: 100, Price: 10})
	require.NoError(t, err)

	waitTerminal(t, e, []string{id1}, 3*time.Second)
	slow, _ := e.Status(id1)
	assert.Equal(t, models.TaskTimeout, slow.State)

	// The lane is free: a fast task still completes.
	id2, err := e.Submit(models.Order{Code: "FAST", Action: models.ActionSell, Quantity: 100, Price: 10})
	require.NoError(t, err)
	waitTerminal(t, e, []string{id2}, 3*time.Second)
	fast, _ := e.Status(id2)
	assert.Equal(t, models.TaskCompleted, fast.State)
}

func TestCancel_OnlyEffectiveWhilePending(t *testing.T) {
	be := &instrumentedBackend{}
	e := New(testConfig(8), be, zerolog.Nop())
	// Worker not started: tasks stay pending.

	id, err := e.Submit(models.Order{Code: "600000", Action: models.ActionSell, Quantity: 100, Price: 10})
	require.NoError(t, err)

	require.NoError(t, e.Cancel(id))
	task, _ := e.Status(id)
	assert.Equal(t, models.TaskCancelled, task.State)

	// Cancelled tasks are skipped by the drain loop.
	e.Start()
	defer e.Close()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, be.executedCodes())

	// Cancelling a terminal task is an accepted no-op.
	require.NoError(t, e.Cancel(id))
	task, _ = e.Status(id)
	assert.Equal(t, models.TaskCancelled, task.State)
}

func TestStatus_UnknownTask(t *testing.T) {
	e := New(testConfig(2), &instrumentedBackend{}, zerolog.Nop())
	defer e.Close()

	_, err := e.Status("nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrTaskNotFound))
}

func TestStats_Consistency(t *testing.T) {
	be := &instrumentedBackend{failCodes: map[string]error{"BAD": errors.New("boom")}}
	e := New(testConfig(16), be, zerolog.Nop())
	e.Start()
	defer e.Close()

	var ids []string
	for _, code := range []string{"A", "B", "BAD", "C"} {
		id, err := e.Submit(models.Order{Code: code, Action: models.ActionSell, Quantity: 100, Price: 10})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	waitTerminal(t, e, ids, 3*time.Second)

	stats := e.Stats()
	assert.Equal(t, int64(4), stats.Submitted)
	assert.Equal(t, stats.Submitted,
		stats.Completed+stats.Failed+stats.TimedOut+stats.Cancelled+int64(stats.QueueDepth))
	assert.Equal(t, int64(3), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
}
