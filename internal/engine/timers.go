package engine

import (
	"container/heap"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/domain"
)

type timerTask struct {
	workerID int64
	jobID    int64
	deadline time.Time
	seq      uint64
	index    int
}

// taskHeap orders tasks by deadline, then by start order.
type taskHeap []*timerTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerArena holds the pending completions, at most one per worker.
// It is guarded by the engine mutex.
type timerArena struct {
	byWorker map[int64]*timerTask
	tasks    taskHeap
	seq      uint64
}

func newTimerArena() *timerArena {
	return &timerArena{byWorker: make(map[int64]*timerTask)}
}

// schedule starts the completion of jobID on workerID, replacing any task
// the worker already had. It reports whether the new task is now due first.
func (a *timerArena) schedule(workerID, jobID int64, deadline time.Time) bool {
	a.cancel(workerID)
	a.seq++
	t := &timerTask{workerID: workerID, jobID: jobID, deadline: deadline, seq: a.seq}
	heap.Push(&a.tasks, t)
	a.byWorker[workerID] = t
	return a.tasks[0] == t
}

func (a *timerArena) cancel(workerID int64) bool {
	t, ok := a.byWorker[workerID]
	if !ok {
		return false
	}
	heap.Remove(&a.tasks, t.index)
	delete(a.byWorker, workerID)
	return true
}

func (a *timerArena) peek() *timerTask {
	if len(a.tasks) == 0 {
		return nil
	}
	return a.tasks[0]
}

func (a *timerArena) pop() *timerTask {
	t := heap.Pop(&a.tasks).(*timerTask)
	delete(a.byWorker, t.workerID)
	return t
}

func (a *timerArena) len() int { return len(a.tasks) }

func (a *timerArena) clear() {
	a.tasks = nil
	a.byWorker = make(map[int64]*timerTask)
}

func (e *Engine) signalTimers() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// runTimers fires due completions one at a time, earliest first. Tasks are
// popped under the engine mutex, so a canceled task can never fire. The
// notifications a completion raises are delivered from another goroutine,
// so a listener may block or call Close without stalling the runner.
func (e *Engine) runTimers() {
	defer close(e.stopped)

	for {
		e.mu.Lock()
		next := e.timers.peek()
		var wait time.Duration
		if next != nil {
			wait = next.deadline.Sub(e.clock.Now())
			if wait <= 0 {
				e.timers.pop()
				e.completeLocked(next)
				e.mu.Unlock()
				// Listeners never run on the runner goroutine.
				go e.notify.flush()
				continue
			}
		}
		e.mu.Unlock()

		var fire <-chan time.Time
		var stopTimer func() bool
		if next != nil {
			t := e.clock.NewTimer(wait)
			fire, stopTimer = t.Chan(), t.Stop
		}

		select {
		case <-e.stop:
			if stopTimer != nil {
				stopTimer()
			}
			return
		case <-e.wake:
		case <-fire:
		}
		if stopTimer != nil {
			stopTimer()
		}
	}
}

// completeLocked finishes the job held by a fired task and hands the freed
// worker new work.
func (e *Engine) completeLocked(t *timerTask) {
	j, rest := e.jobs.remove(t.jobID)
	if j == nil {
		e.logger.Warn("completion for job no longer live", zap.Int64("job_id", t.jobID), zap.Int64("worker_id", t.workerID))
		return
	}
	e.jobs = rest
	j.Status = domain.Complete
	if _, dup := e.done[j.ID]; !dup {
		e.done[j.ID] = struct{}{}
		e.completed = append(e.completed, *j)
	}

	w := e.workerByID(t.workerID)
	if w != nil && w.AssignedJobID == j.ID {
		w.State = domain.Idle
		w.AssignedJobID = 0
	}

	e.logger.Info("job completed", zap.Int64("job_id", j.ID), zap.String("class", string(j.Class)), zap.Int64("worker_id", t.workerID))
	e.emitLocked(JobCompleted, j, w)
	e.assignLocked()
}
