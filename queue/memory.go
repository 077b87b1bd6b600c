package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/model"
)

// MemoryQueue is an in-process Queue. A job is always in exactly one place
// (pending, running, waiting on a retry timer, or terminal), so no two
// workers ever run the same job at once. Jobs do not survive a restart.
type MemoryQueue struct {
	policy      BackoffPolicy
	concurrency int
	opts        options

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    map[string]*Job
	pending []string
	dead    []string
	timers  map[string]*time.Timer
	started bool
	closed  bool

	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMemoryQueue(policy BackoffPolicy, concurrency int, opts ...Option) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		policy:      policy.normalize(),
		concurrency: concurrency,
		opts:        buildOptions(opts),
		jobs:        make(map[string]*Job),
		timers:      make(map[string]*time.Timer),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, id string, payload []byte) (string, error) {
	if id == "" {
		id = model.GenerateUUIDWithSuffix("job")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrQueueClosed
	}
	if _, ok := q.jobs[id]; ok {
		return "", ErrDuplicateJob
	}

	q.jobs[id] = &Job{
		ID:          id,
		Payload:     append([]byte(nil), payload...),
		MaxAttempts: q.policy.MaxAttempts,
		State:       StateWaiting,
	}
	q.pending = append(q.pending, id)
	q.cond.Signal()
	return id, nil
}

func (q *MemoryQueue) Start(handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return ErrAlreadyStarted
	}
	q.started = true
	q.handler = handler

	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.work()
	}
	logrus.Infof("in-memory queue started with %d workers", q.concurrency)
	return nil
}

func (q *MemoryQueue) work() {
	defer q.wg.Done()
	for {
		job, ok := q.next()
		if !ok {
			return
		}
		q.finish(job, q.execute(job))
	}
}

func (q *MemoryQueue) next() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	id := q.pending[0]
	q.pending = q.pending[1:]
	job := q.jobs[id]
	job.State = StateActive
	job.Attempt++
	job.NextRunAt = nil
	return job.clone(), true
}

func (q *MemoryQueue) execute(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return q.handler(q.ctx, job)
}

func (q *MemoryQueue) finish(run *Job, err error) {
	q.mu.Lock()
	job := q.jobs[run.ID]

	if err == nil {
		job.State = StateCompleted
		q.mu.Unlock()
		q.expire(job.ID)
		return
	}

	now := q.opts.now()
	job.LastError = err.Error()
	job.LastFailedAt = &now

	if job.Attempt >= job.MaxAttempts {
		job.State = StateDead
		q.dead = append(q.dead, job.ID)
		snapshot := job.clone()
		q.mu.Unlock()

		logrus.WithFields(logrus.Fields{"job_id": job.ID, "attempts": snapshot.Attempt}).
			WithError(err).Error("job moved to dead-letter set")
		if q.opts.deadLetterHook != nil {
			q.opts.deadLetterHook(snapshot, err)
		}
		return
	}

	delay := q.policy.Delay(job.Attempt)
	next := now.Add(delay)
	job.State = StateRetry
	job.NextRunAt = &next
	if !q.closed {
		id := job.ID
		q.timers[id] = time.AfterFunc(delay, func() { q.requeue(id) })
	}
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"job_id":  run.ID,
		"attempt": run.Attempt,
		"delay":   delay.String(),
	}).WithError(err).Warn("job attempt failed, retry scheduled")
}

func (q *MemoryQueue) requeue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.timers, id)
	job, ok := q.jobs[id]
	if q.closed || !ok || job.State != StateRetry {
		return
	}
	job.State = StateWaiting
	q.pending = append(q.pending, id)
	q.cond.Signal()
}

// expire forgets a completed job after the retention window so its id can
// be used again.
func (q *MemoryQueue) expire(id string) {
	if q.opts.retention <= 0 {
		q.forget(id)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.timers[id] = time.AfterFunc(q.opts.retention, func() { q.forget(id) })
}

func (q *MemoryQueue) forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.timers, id)
	if job, ok := q.jobs[id]; ok && job.State == StateCompleted {
		delete(q.jobs, id)
	}
}

// Shutdown stops the workers after their current attempt. Jobs waiting on
// a retry timer are dropped.
func (q *MemoryQueue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *MemoryQueue) JobInfo(_ context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

func (q *MemoryQueue) DeadLetters(_ context.Context) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*Job, 0, len(q.dead))
	for _, id := range q.dead {
		jobs = append(jobs, q.jobs[id].clone())
	}
	return jobs, nil
}

// Replay gives a dead-lettered job a fresh set of attempts.
func (q *MemoryQueue) Replay(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != StateDead {
		return ErrNotDeadLettered
	}

	for i, deadID := range q.dead {
		if deadID == id {
			q.dead = append(q.dead[:i], q.dead[i+1:]...)
			break
		}
	}
	job.State = StateWaiting
	job.Attempt = 0
	q.pending = append(q.pending, id)
	q.cond.Signal()
	return nil
}
