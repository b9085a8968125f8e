package engine

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/orderbots/internal/domain"
)

const shortDuration = 30 * time.Millisecond

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(append([]Option{WithProcessDuration(shortDuration)}, opts...)...)
	t.Cleanup(e.Close)
	return e
}

// newFakeEngine returns an engine whose jobs never finish unless the test
// advances the clock.
func newFakeEngine(t *testing.T) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	return newTestEngine(t, WithClock(fc), WithProcessDuration(time.Second)), fc
}

func jobIDs(jobs []domain.Job) []int64 {
	out := make([]int64, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

// requireConsistent checks the invariants that hold between operations.
func requireConsistent(t *testing.T, s Snapshot) {
	t.Helper()

	live := make(map[int64]domain.Job, len(s.Pending))
	processing := 0
	for _, j := range s.Pending {
		require.NotEqual(t, domain.Complete, j.Status, "completed job %d still live", j.ID)
		live[j.ID] = j
		if j.Status == domain.Processing {
			processing++
		}
	}

	busy := 0
	idle := 0
	for _, w := range s.Workers {
		switch w.State {
		case domain.Busy:
			busy++
			j, ok := live[w.AssignedJobID]
			require.True(t, ok, "worker %d holds job %d which is not live", w.ID, w.AssignedJobID)
			require.Equal(t, domain.Processing, j.Status)
		case domain.Idle:
			idle++
			require.Zero(t, w.AssignedJobID)
		}
	}
	require.Equal(t, processing, busy, "busy workers vs processing jobs")

	seenNormal := false
	pending := 0
	for _, j := range s.Pending {
		if !j.IsPending() {
			continue
		}
		pending++
		if j.Class == domain.Normal {
			seenNormal = true
		} else {
			require.False(t, seenNormal, "pending VIP job %d queued behind a pending NORMAL job", j.ID)
		}
	}
	require.False(t, idle > 0 && pending > 0, "idle worker left while jobs are pending")

	for _, j := range s.Completed {
		require.Equal(t, domain.Complete, j.Status)
	}
}

func TestAddJob_VIPInsertedAheadOfNormal(t *testing.T) {
	e := newTestEngine(t)
	e.AddJob(domain.Normal)
	e.AddJob(domain.VIP)
	e.AddJob(domain.Normal)

	pending := e.Snapshot().Pending
	assert.Equal(t, []int64{2, 1, 3}, jobIDs(pending))
	for _, j := range pending {
		assert.Equal(t, domain.Pending, j.Status)
	}
}

func TestAddJob_VIPKeepsFIFOAmongVIPs(t *testing.T) {
	e := newTestEngine(t)
	e.AddJob(domain.Normal) // 1
	e.AddJob(domain.VIP)    // 2
	e.AddJob(domain.VIP)    // 3
	e.AddJob(domain.Normal) // 4
	e.AddJob(domain.VIP)    // 5

	assert.Equal(t, []int64{2, 3, 5, 1, 4}, jobIDs(e.Snapshot().Pending))
}

func TestAddJob_VIPWaitsBehindProcessing(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddWorker()
	e.AddJob(domain.Normal) // 1, processing
	e.AddJob(domain.VIP)    // 2

	s := e.Snapshot()
	assert.Equal(t, []int64{1, 2}, jobIDs(s.Pending))
	assert.Equal(t, domain.Processing, s.Pending[0].Status)
	assert.Equal(t, domain.Pending, s.Pending[1].Status)
}

func TestAddJob_IDsIncrease(t *testing.T) {
	e := newTestEngine(t)
	a := e.AddJob(domain.Normal)
	b := e.AddJob(domain.VIP)
	c := e.AddJob(domain.Normal)

	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, int64(3), c.ID)
}

func TestAddJob_UnknownClassIsNormal(t *testing.T) {
	e := newTestEngine(t)
	j := e.AddJob(domain.Class("PLATINUM"))

	assert.Equal(t, domain.Normal, j.Class)
	assert.Equal(t, domain.Pending, j.Status)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestWorker_ProcessesJobToCompletion(t *testing.T) {
	e := newTestEngine(t)
	e.AddWorker()
	e.AddJob(domain.Normal)

	require.NoError(t, e.WaitUntilSettled(context.Background(), time.Second))

	s := e.Snapshot()
	assert.Empty(t, s.Pending)
	require.Len(t, s.Completed, 1)
	assert.Equal(t, domain.Complete, s.Completed[0].Status)
	require.Len(t, s.Workers, 1)
	assert.Equal(t, domain.Idle, s.Workers[0].State)
	assert.Zero(t, s.Workers[0].AssignedJobID)
}

func TestWorker_DrainsQueueInPriorityOrder(t *testing.T) {
	e := newTestEngine(t)
	e.AddJob(domain.Normal) // 1
	e.AddJob(domain.Normal) // 2
	e.AddJob(domain.VIP)    // 3
	e.AddWorker()

	require.NoError(t, e.WaitUntilSettled(context.Background(), 2*time.Second))
	assert.Equal(t, []int64{3, 1, 2}, jobIDs(e.Snapshot().Completed))
}

func TestAddWorker_PicksUpPendingWork(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddJob(domain.Normal) // 1
	e.AddJob(domain.VIP)    // 2
	e.AddJob(domain.Normal) // 3

	w1 := e.AddWorker()
	w2 := e.AddWorker()
	assert.Equal(t, domain.Idle, w1.State, "returned worker is the bot as created")

	s := e.Snapshot()
	require.Len(t, s.Workers, 2)
	assert.Equal(t, w1.ID, s.Workers[0].ID)
	assert.Equal(t, int64(2), s.Workers[0].AssignedJobID)
	assert.Equal(t, w2.ID, s.Workers[1].ID)
	assert.Equal(t, int64(1), s.Workers[1].AssignedJobID)
	assert.Equal(t, []domain.Status{domain.Processing, domain.Processing, domain.Pending},
		[]domain.Status{s.Pending[0].Status, s.Pending[1].Status, s.Pending[2].Status})
	requireConsistent(t, s)
}

func TestRemoveWorker_Empty(t *testing.T) {
	e := newTestEngine(t)
	events := 0
	unsub := e.SubscribeAll(func(Event) { events++ })
	defer unsub()

	w, ok := e.RemoveWorker()
	assert.False(t, ok)
	assert.Equal(t, domain.Worker{}, w)
	assert.Zero(t, events)
}

func TestRemoveWorker_LIFO(t *testing.T) {
	e := newTestEngine(t)
	e.AddWorker()
	e.AddWorker()
	e.AddWorker()

	w, ok := e.RemoveWorker()
	require.True(t, ok)
	assert.Equal(t, int64(3), w.ID)

	next := e.AddWorker()
	assert.Equal(t, int64(4), next.ID, "worker ids are never reused")
}

func TestRemoveWorker_RequeuesBusyJob(t *testing.T) {
	e := newTestEngine(t, WithProcessDuration(200*time.Millisecond))
	e.AddWorker()
	job := e.AddJob(domain.VIP)

	removed, ok := e.RemoveWorker()
	require.True(t, ok)
	assert.Equal(t, domain.Busy, removed.State)
	assert.Equal(t, job.ID, removed.AssignedJobID)

	pending := e.Snapshot().Pending
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)
	assert.Equal(t, domain.Pending, pending[0].Status)

	e.AddWorker()
	require.NoError(t, e.WaitUntilSettled(context.Background(), time.Second))

	s := e.Snapshot()
	assert.Empty(t, s.Pending)
	require.Len(t, s.Completed, 1)
	assert.Equal(t, job.ID, s.Completed[0].ID)
	assert.Equal(t, domain.Idle, s.Workers[0].State)
}

func TestRemoveWorker_ReordersQueue(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddWorker()

	normal1 := e.AddJob(domain.Normal) // processing
	e.AddJob(domain.Normal)            // 2, pending
	e.AddJob(domain.VIP)               // 3, ahead of 2

	e.RemoveWorker()

	pending := e.Snapshot().Pending
	type row struct {
		ID     int64
		Class  domain.Class
		Status domain.Status
	}
	got := make([]row, len(pending))
	for i, j := range pending {
		got[i] = row{j.ID, j.Class, j.Status}
	}
	assert.Equal(t, []row{
		{3, domain.VIP, domain.Pending},
		{2, domain.Normal, domain.Pending},
		{normal1.ID, domain.Normal, domain.Pending},
	}, got)
}

func TestRemoveWorker_RepartitionsAroundProcessing(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddWorker()
	e.AddWorker()
	e.AddJob(domain.Normal) // 1 -> worker 1
	e.AddJob(domain.VIP)    // 2 -> worker 2
	e.AddJob(domain.Normal) // 3
	e.AddJob(domain.VIP)    // 4

	// worker 2 is last; its VIP job goes back ahead of the pending NORMAL.
	e.RemoveWorker()

	s := e.Snapshot()
	assert.Equal(t, []int64{1, 4, 2, 3}, jobIDs(s.Pending))
	assert.Equal(t, domain.Processing, s.Pending[0].Status)
	requireConsistent(t, s)
}

func TestRemoveWorker_CancelsTimer(t *testing.T) {
	e, fc := newFakeEngine(t)
	e.AddWorker()
	e.AddJob(domain.Normal)

	require.NoError(t, fc.BlockUntilContext(context.Background(), 1))
	e.RemoveWorker()
	fc.Advance(2 * time.Second)

	assert.Never(t, func() bool { return len(e.Snapshot().Completed) > 0 },
		100*time.Millisecond, 10*time.Millisecond)
	s := e.Snapshot()
	require.Len(t, s.Pending, 1)
	assert.Equal(t, domain.Pending, s.Pending[0].Status)
}

func TestCompletion_FiresInStartOrderForEqualDeadlines(t *testing.T) {
	e, fc := newFakeEngine(t)
	for range 3 {
		e.AddWorker()
	}

	type done struct{ job, worker int64 }
	completions := make(chan done, 3)
	unsub := e.Subscribe(JobCompleted, func(evt Event) {
		completions <- done{evt.Job.ID, evt.Worker.ID}
	})
	defer unsub()

	e.AddJob(domain.Normal)
	e.AddJob(domain.Normal)
	e.AddJob(domain.Normal)

	require.NoError(t, fc.BlockUntilContext(context.Background(), 1))
	fc.Advance(time.Second)

	var got []done
	for range 3 {
		select {
		case d := <-completions:
			got = append(got, d)
		case <-time.After(time.Second):
			t.Fatalf("only %d completions fired", len(got))
		}
	}
	assert.Equal(t, []done{{1, 1}, {2, 2}, {3, 3}}, got)
}

func TestCompletion_FiresInDeadlineOrder(t *testing.T) {
	e, fc := newFakeEngine(t)
	ctx := context.Background()

	var order []int64
	completed := make(chan struct{}, 2)
	unsub := e.Subscribe(JobCompleted, func(evt Event) {
		order = append(order, evt.Job.ID)
		completed <- struct{}{}
	})
	defer unsub()

	e.AddWorker()
	e.AddJob(domain.Normal) // due at +1s
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	fc.Advance(500 * time.Millisecond)
	e.AddWorker()
	e.AddJob(domain.Normal) // due at +1.5s

	fc.Advance(500 * time.Millisecond)
	<-completed
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(500 * time.Millisecond)
	<-completed

	assert.Equal(t, []int64{1, 2}, order)
	assert.True(t, e.Settled())
}

func TestCompletion_IsIdempotent(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddWorker()
	e.AddJob(domain.Normal)

	e.mu.Lock()
	task := e.timers.pop()
	e.completeLocked(task)
	e.completeLocked(task)
	e.mu.Unlock()
	e.notify.flush()

	s := e.Snapshot()
	assert.Empty(t, s.Pending)
	assert.Equal(t, []int64{1}, jobIDs(s.Completed))
	assert.Equal(t, domain.Idle, s.Workers[0].State)
}

func TestSnapshot_IsACopy(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.AddWorker()
	e.AddJob(domain.Normal)
	e.AddJob(domain.VIP)

	first := e.Snapshot()
	second := e.Snapshot()
	assert.Equal(t, first, second)

	first.Pending[0].Status = domain.Complete
	first.Pending = append(first.Pending, domain.Job{ID: 99})
	first.Workers[0].State = domain.Idle

	third := e.Snapshot()
	assert.Equal(t, second, third)
}

func TestRandomOperations_KeepInvariants(t *testing.T) {
	e, _ := newFakeEngine(t)
	rng := rand.New(rand.NewSource(7))

	var lastJob, lastWorker int64
	for i := 0; i < 500; i++ {
		switch rng.Intn(4) {
		case 0:
			j := e.AddJob(domain.VIP)
			require.Greater(t, j.ID, lastJob)
			lastJob = j.ID
		case 1:
			j := e.AddJob(domain.Normal)
			require.Greater(t, j.ID, lastJob)
			lastJob = j.ID
		case 2:
			w := e.AddWorker()
			require.Greater(t, w.ID, lastWorker)
			lastWorker = w.ID
		case 3:
			e.RemoveWorker()
		}
		requireConsistent(t, e.Snapshot())
	}
}

func TestClose_StopsCompletions(t *testing.T) {
	e := New(WithProcessDuration(shortDuration))
	e.AddWorker()
	e.AddJob(domain.Normal)
	e.Close()
	e.Close()

	time.Sleep(3 * shortDuration)
	s := e.Snapshot()
	assert.Empty(t, s.Completed)
	require.Len(t, s.Pending, 1)
	assert.Equal(t, domain.Processing, s.Pending[0].Status)
}

func TestClose_FromCompletionListener(t *testing.T) {
	e := New(WithProcessDuration(10 * time.Millisecond))

	closed := make(chan struct{})
	e.Subscribe(JobCompleted, func(Event) {
		e.Close()
		close(closed)
	})

	e.AddWorker()
	e.AddJob(domain.Normal)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close from a JobCompleted listener did not return")
	}
	assert.Len(t, e.Snapshot().Completed, 1)
}
