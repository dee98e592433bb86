package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrQueueFull means the task was dropped without running.
	ErrQueueFull = errors.New("dispatcher queue is full")
)

// Task is a unit of out-of-band work. A returned error is logged and dropped.
type Task func(ctx context.Context) error

type job struct {
	name string
	task Task
}

// Dispatcher runs tasks on a fixed pool of workers fed by a bounded queue.
// Tasks never report back to whoever enqueued them.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewDispatcher(logger *slog.Logger, workers, queueSize int, timeout time.Duration) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	d := &Dispatcher{
		logger:  logger,
		timeout: timeout,
		jobs:    make(chan job, queueSize),
		group:   group,
		cancel:  cancel,
	}
	for range workers {
		group.Go(func() error {
			d.work(ctx)
			return nil
		})
	}
	return d
}

func (d *Dispatcher) work(ctx context.Context) {
	for j := range d.jobs {
		d.run(ctx, j)
	}
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification task panicked", "task", j.name, "panic", r)
		}
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := j.task(ctx); err != nil {
		d.logger.Error("notification task failed", "task", j.name, "error", err)
	}
}

// Enqueue schedules task without blocking. A full queue drops the task and returns ErrQueueFull.
func (d *Dispatcher) Enqueue(name string, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job{name: name, task: task}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	err := d.group.Wait()
	d.cancel()
	return err
}
