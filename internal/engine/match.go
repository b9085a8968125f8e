package engine

import (
	"go.uber.org/zap"

	"github.com/SirClappington/orderbots/internal/domain"
)

// assignLocked pairs idle bots with pending jobs until one side runs out.
// Assigning only ever turns an idle bot busy and a pending job processing,
// so both cursors move forward and the pass is a single scan.
func (e *Engine) assignLocked() {
	wi, ji := 0, 0
	for {
		for wi < len(e.workers) && !e.workers[wi].IsIdle() {
			wi++
		}
		for ji < len(e.jobs) && !e.jobs[ji].IsPending() {
			ji++
		}
		if wi == len(e.workers) || ji == len(e.jobs) {
			return
		}

		w, j := e.workers[wi], e.jobs[ji]
		w.State = domain.Busy
		w.AssignedJobID = j.ID
		j.Status = domain.Processing

		deadline := e.clock.Now().Add(e.duration)
		if e.timers.schedule(w.ID, j.ID, deadline) {
			e.signalTimers()
		}

		e.logger.Debug("job assigned",
			zap.Int64("job_id", j.ID),
			zap.String("class", string(j.Class)),
			zap.Int64("worker_id", w.ID),
			zap.Time("deadline", deadline),
		)
		e.emitLocked(JobStarted, j, w)
	}
}
