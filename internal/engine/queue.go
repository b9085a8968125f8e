package engine

import "github.com/SirClappington/orderbots/internal/domain"

// jobQueue is the live queue: every job that has not completed, in service
// order. Among pending jobs VIP always comes before NORMAL.
type jobQueue []*domain.Job

func (q jobQueue) indexOf(id int64) int {
	for i, j := range q {
		if j.ID == id {
			return i
		}
	}
	return -1
}

func (q jobQueue) firstPendingNormal() int {
	for i, j := range q {
		if j.Class == domain.Normal && j.IsPending() {
			return i
		}
	}
	return -1
}

// insert places VIP jobs right before the first pending NORMAL job and
// everything else at the tail.
func (q jobQueue) insert(j *domain.Job) jobQueue {
	if j.Class != domain.VIP {
		return append(q, j)
	}
	i := q.firstPendingNormal()
	if i < 0 {
		return append(q, j)
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = j
	return q
}

// remove detaches the job with the given id. It returns nil and the queue
// unchanged when the id is not live.
func (q jobQueue) remove(id int64) (*domain.Job, jobQueue) {
	i := q.indexOf(id)
	if i < 0 {
		return nil, q
	}
	j := q[i]
	copy(q[i:], q[i+1:])
	q[len(q)-1] = nil
	return j, q[:len(q)-1]
}

// reorder is a stable repartition into non-pending, pending VIP and pending
// NORMAL jobs, in that order.
func (q jobQueue) reorder() jobQueue {
	out := make(jobQueue, 0, len(q))
	var vip, normal jobQueue
	for _, j := range q {
		switch {
		case !j.IsPending():
			out = append(out, j)
		case j.Class == domain.VIP:
			vip = append(vip, j)
		default:
			normal = append(normal, j)
		}
	}
	out = append(out, vip...)
	return append(out, normal...)
}

func (q jobQueue) values() []domain.Job {
	out := make([]domain.Job, len(q))
	for i, j := range q {
		out[i] = *j
	}
	return out
}
