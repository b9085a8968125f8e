package domain

type WorkerState string

const (
	Idle WorkerState = "IDLE"
	Busy WorkerState = "BUSY"
)

// Worker is a bot. AssignedJobID is zero while the worker is idle.
type Worker struct {
	ID            int64       `json:"id" yaml:"id"`
	State         WorkerState `json:"state" yaml:"state"`
	AssignedJobID int64       `json:"assigned_job_id,omitempty" yaml:"assigned_job_id,omitempty"`
}

func (w Worker) IsIdle() bool { return w.State == Idle }
