// Package engine schedules orders onto bots. It owns the live queue, the
// bot pool, the completion timers and the notifications that front-ends
// render.
package engine

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/domain"
)

// Engine is safe for concurrent use. At most one operation or timer
// callback mutates its state at a time.
type Engine struct {
	duration time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu           sync.Mutex
	jobs         jobQueue
	completed    []domain.Job
	done         map[int64]struct{}
	workers      []*domain.Worker
	nextJobID    int64
	nextWorkerID int64
	timers       *timerArena
	waiters      map[chan struct{}]struct{}

	notify *notifier

	wake      chan struct{}
	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Snapshot is a copy of the engine state. Mutating it has no effect on the
// engine.
type Snapshot struct {
	Pending   []domain.Job    `json:"pending" yaml:"pending"`
	Completed []domain.Job    `json:"completed" yaml:"completed"`
	Workers   []domain.Worker `json:"workers" yaml:"workers"`
}

// New creates an engine and starts its timer runner. Call Close to stop it.
func New(opts ...Option) *Engine {
	e := &Engine{
		duration: DefaultProcessDuration,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		done:     make(map[int64]struct{}),
		timers:   newTimerArena(),
		waiters:  make(map[chan struct{}]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.notify = newNotifier(e.logger)

	go e.runTimers()
	return e
}

// ProcessDuration reports the fixed time each job takes.
func (e *Engine) ProcessDuration() time.Duration { return e.duration }

// AddWorker adds an idle bot and immediately offers it pending work.
func (e *Engine) AddWorker() domain.Worker {
	e.mu.Lock()
	e.nextWorkerID++
	w := &domain.Worker{ID: e.nextWorkerID, State: domain.Idle}
	e.workers = append(e.workers, w)
	added := *w

	e.logger.Info("worker added", zap.Int64("worker_id", w.ID))
	e.emitLocked(WorkerAdded, nil, w)
	e.assignLocked()
	e.mu.Unlock()

	e.notify.flush()
	return added
}

// RemoveWorker removes the most recently added bot. A job it was processing
// goes back to PENDING and the queue is repartitioned. The returned worker
// is the bot as it was just before removal; ok is false when the pool is
// empty.
func (e *Engine) RemoveWorker() (removed domain.Worker, ok bool) {
	e.mu.Lock()
	if len(e.workers) == 0 {
		e.mu.Unlock()
		return domain.Worker{}, false
	}

	last := len(e.workers) - 1
	w := e.workers[last]
	removed = *w
	e.timers.cancel(w.ID)

	if w.State == domain.Busy && w.AssignedJobID != 0 {
		if j, rest := e.jobs.remove(w.AssignedJobID); j != nil {
			j.Status = domain.Pending
			e.jobs = rest.insert(j).reorder()
			e.logger.Info("job requeued",
				zap.Int64("job_id", j.ID),
				zap.String("class", string(j.Class)),
				zap.Int64("worker_id", w.ID),
			)
			e.emitLocked(JobRequeued, j, nil)
		}
	}

	e.workers[last] = nil
	e.workers = e.workers[:last]
	e.logger.Info("worker removed", zap.Int64("worker_id", removed.ID), zap.String("state", string(removed.State)))
	e.emitLocked(WorkerRemoved, nil, &removed)
	e.assignLocked()
	e.mu.Unlock()

	e.notify.flush()
	return removed, true
}

// AddJob enqueues a new order. Unknown classes are treated as NORMAL. The
// returned job reflects the order as it was created, before any bot
// picked it up.
func (e *Engine) AddJob(class domain.Class) domain.Job {
	e.mu.Lock()
	e.nextJobID++
	j := &domain.Job{
		ID:        e.nextJobID,
		Class:     class.Normalize(),
		Status:    domain.Pending,
		CreatedAt: e.clock.Now(),
	}
	e.jobs = e.jobs.insert(j)
	added := *j

	e.logger.Debug("job added", zap.Int64("job_id", j.ID), zap.String("class", string(j.Class)))
	e.emitLocked(JobAdded, j, nil)
	e.assignLocked()
	e.mu.Unlock()

	e.notify.flush()
	return added
}

// Snapshot copies the live queue, the completed jobs and the bot pool.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	workers := make([]domain.Worker, len(e.workers))
	for i, w := range e.workers {
		workers[i] = *w
	}
	return Snapshot{
		Pending:   e.jobs.values(),
		Completed: append([]domain.Job(nil), e.completed...),
		Workers:   workers,
	}
}

// Settled reports whether every job is complete and every bot is idle.
func (e *Engine) Settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settledLocked()
}

func (e *Engine) settledLocked() bool {
	for _, j := range e.jobs {
		if j.Status != domain.Complete {
			return false
		}
	}
	for _, w := range e.workers {
		if w.State == domain.Busy {
			return false
		}
	}
	return true
}

// Close stops the timer runner and drops every outstanding completion.
// Jobs still PROCESSING stay that way. It may be called from a listener.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		<-e.stopped

		e.mu.Lock()
		n := e.timers.len()
		e.timers.clear()
		e.mu.Unlock()
		e.logger.Info("engine closed", zap.Int("canceled_timers", n))
	})
}

func (e *Engine) workerByID(id int64) *domain.Worker {
	for _, w := range e.workers {
		if w.ID == id {
			return w
		}
	}
	return nil
}

// emitLocked queues a notification carrying copies of job and worker.
func (e *Engine) emitLocked(kind EventKind, j *domain.Job, w *domain.Worker) {
	evt := Event{Kind: kind, At: e.clock.Now()}
	if j != nil {
		jc := *j
		evt.Job = &jc
	}
	if w != nil {
		wc := *w
		evt.Worker = &wc
	}
	e.notify.enqueue(evt)
	if settleRelevant(kind) {
		e.wakeWaitersLocked()
	}
}
