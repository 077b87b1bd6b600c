package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) BackoffPolicy {
	return BackoffPolicy{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: maxAttempts}
}

func waitForState(t *testing.T, q Queue, id string, state State) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		j, err := q.JobInfo(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestMemoryQueue_RunsJob(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(3), 2)
	defer q.Shutdown()

	var got []byte
	var seen *Job
	var mu sync.Mutex
	require.NoError(t, q.Start(func(_ context.Context, job *Job) error {
		mu.Lock()
		defer mu.Unlock()
		got = job.Payload
		seen = job
		return nil
	}))

	id, err := q.Enqueue(context.Background(), "job_1", []byte(`{"orderId":"ord_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "job_1", id)

	job := waitForState(t, q, id, StateCompleted)
	assert.Equal(t, 1, job.Attempt)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"orderId":"ord_1"}`, string(got))
	assert.Equal(t, 1, seen.Attempt)
	assert.Equal(t, 3, seen.MaxAttempts)
}

func TestMemoryQueue_DuplicateID(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(3), 1)
	defer q.Shutdown()

	_, err := q.Enqueue(context.Background(), "job_1", []byte(`{}`))
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), "job_1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestMemoryQueue_GeneratesID(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(3), 1)
	defer q.Shutdown()

	id, err := q.Enqueue(context.Background(), "", []byte(`{}`))
	require.NoError(t, err)
	assert.Regexp(t, "^job_", id)
}

func TestMemoryQueue_RetriesThenDeadLetters(t *testing.T) {
	var hookCalls int32
	hooked := make(chan *Job, 1)
	q := NewMemoryQueue(fastPolicy(3), 2, WithDeadLetterHook(func(job *Job, err error) {
		atomic.AddInt32(&hookCalls, 1)
		hooked <- job
	}))
	defer q.Shutdown()

	var mu sync.Mutex
	var runs []time.Time
	var attempts []int
	require.NoError(t, q.Start(func(_ context.Context, job *Job) error {
		mu.Lock()
		runs = append(runs, time.Now())
		attempts = append(attempts, job.Attempt)
		mu.Unlock()
		return errors.New("venue unavailable")
	}))

	id, err := q.Enqueue(context.Background(), "job_fail", []byte(`{}`))
	require.NoError(t, err)

	job := waitForState(t, q, id, StateDead)
	assert.Equal(t, 3, job.Attempt)
	assert.Equal(t, "venue unavailable", job.LastError)
	require.NotNil(t, job.LastFailedAt)

	// a dead job is never picked up again
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	require.Len(t, runs, 3)
	first := runs[1].Sub(runs[0])
	second := runs[2].Sub(runs[1])
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)
	assert.GreaterOrEqual(t, second, 10*time.Millisecond)

	select {
	case hookJob := <-hooked:
		assert.Equal(t, id, hookJob.ID)
		assert.Equal(t, StateDead, hookJob.State)
	case <-time.After(time.Second):
		t.Fatal("dead-letter hook not called")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hookCalls))

	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)
}

func TestMemoryQueue_RecoversAfterTransientFailure(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(3), 1)
	defer q.Shutdown()

	var calls int32
	require.NoError(t, q.Start(func(_ context.Context, job *Job) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))

	id, err := q.Enqueue(context.Background(), "job_flaky", []byte(`{}`))
	require.NoError(t, err)

	job := waitForState(t, q, id, StateCompleted)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestMemoryQueue_PanicCountsAsFailure(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 1)
	defer q.Shutdown()

	require.NoError(t, q.Start(func(context.Context, *Job) error {
		panic("boom")
	}))

	id, err := q.Enqueue(context.Background(), "job_panic", []byte(`{}`))
	require.NoError(t, err)

	job := waitForState(t, q, id, StateDead)
	assert.Contains(t, job.LastError, "boom")
}

func TestMemoryQueue_ConcurrencyBound(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 3)
	defer q.Shutdown()

	var active, peak int32
	perJob := sync.Map{}
	var overlap int32
	require.NoError(t, q.Start(func(_ context.Context, job *Job) error {
		if _, loaded := perJob.LoadOrStore(job.ID, true); loaded {
			atomic.StoreInt32(&overlap, 1)
		}
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		perJob.Delete(job.ID)
		return nil
	}))

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := q.Enqueue(context.Background(), "", []byte(`{}`))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForState(t, q, id, StateCompleted)
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Equal(t, int32(0), atomic.LoadInt32(&overlap))
}

func TestMemoryQueue_Replay(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 1)
	defer q.Shutdown()

	var fail atomic.Bool
	fail.Store(true)
	require.NoError(t, q.Start(func(context.Context, *Job) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}))

	id, err := q.Enqueue(context.Background(), "job_replay", []byte(`{}`))
	require.NoError(t, err)
	waitForState(t, q, id, StateDead)

	assert.ErrorIs(t, q.Replay(context.Background(), "job_unknown"), ErrJobNotFound)

	fail.Store(false)
	require.NoError(t, q.Replay(context.Background(), id))
	job := waitForState(t, q, id, StateCompleted)
	assert.Equal(t, 1, job.Attempt)

	dead, err := q.DeadLetters(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dead)

	assert.ErrorIs(t, q.Replay(context.Background(), id), ErrNotDeadLettered)
}

func TestMemoryQueue_JobInfoUnknown(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 1)
	defer q.Shutdown()

	_, err := q.JobInfo(context.Background(), "job_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryQueue_ShutdownWaitsForRunningJob(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 1)

	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, q.Start(func(context.Context, *Job) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	_, err := q.Enqueue(context.Background(), "job_slow", []byte(`{}`))
	require.NoError(t, err)
	<-started

	q.Shutdown()
	assert.True(t, finished.Load())

	_, err = q.Enqueue(context.Background(), "job_late", []byte(`{}`))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Start(func(context.Context, *Job) error { return nil }), ErrQueueClosed)
}

func TestMemoryQueue_StartTwice(t *testing.T) {
	q := NewMemoryQueue(fastPolicy(1), 1)
	defer q.Shutdown()

	require.NoError(t, q.Start(func(context.Context, *Job) error { return nil }))
	assert.ErrorIs(t, q.Start(func(context.Context, *Job) error { return nil }), ErrAlreadyStarted)
}
