/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/swapflow/model"
)

// TaskTypeExecuteOrder is the asynq task type of an order job.
const TaskTypeExecuteOrder = "order:execute"

var tracer = otel.Tracer("swapflow.queue")

// AsynqQueue is the Redis backed Queue. Retries are scheduled by asynq
// using the backoff policy, and archived tasks form the dead-letter set.
type AsynqQueue struct {
	name        string
	policy      BackoffPolicy
	concurrency int
	opts        options

	connOpt   asynq.RedisConnOpt
	Client    *asynq.Client
	Inspector *asynq.Inspector
	server    *asynq.Server
}

func NewAsynqQueue(connOpt asynq.RedisConnOpt, name string, policy BackoffPolicy, concurrency int, opts ...Option) *AsynqQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AsynqQueue{
		name:        name,
		policy:      policy.normalize(),
		concurrency: concurrency,
		opts:        buildOptions(opts),
		connOpt:     connOpt,
		Client:      asynq.NewClient(connOpt),
		Inspector:   asynq.NewInspector(connOpt),
	}
}

// Name returns the asynq queue the jobs are placed on.
func (q *AsynqQueue) Name() string {
	return q.name
}

func (q *AsynqQueue) Enqueue(ctx context.Context, id string, payload []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "Adding Order Job To Redis Queue")
	defer span.End()

	if id == "" {
		id = model.GenerateUUIDWithSuffix("job")
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(q.name),
		asynq.MaxRetry(q.policy.MaxAttempts - 1),
	}
	if q.opts.retention > 0 {
		taskOptions = append(taskOptions, asynq.Retention(q.opts.retention))
	}

	task := asynq.NewTask(TaskTypeExecuteOrder, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return "", ErrDuplicateJob
		}
		return "", err
	}

	logrus.Infof(" [*] Successfully enqueued order job: %s", info.ID)
	return info.ID, nil
}

// retryDelay adapts the policy to asynq, which passes the number of retries
// already made, so the first retry sees 0.
func (q *AsynqQueue) retryDelay(retried int, _ error, _ *asynq.Task) time.Duration {
	return q.policy.Delay(retried + 1)
}

func (q *AsynqQueue) Start(handler Handler) error {
	if q.server != nil {
		return ErrAlreadyStarted
	}

	q.server = asynq.NewServer(q.connOpt, asynq.Config{
		Concurrency:     q.concurrency,
		Queues:          map[string]int{q.name: 1},
		RetryDelayFunc:  q.retryDelay,
		ErrorHandler:    asynq.ErrorHandlerFunc(q.handleError),
		ShutdownTimeout: 30 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeExecuteOrder, func(ctx context.Context, t *asynq.Task) error {
		return handler(ctx, jobFromContext(ctx, t))
	})

	if err := q.server.Start(mux); err != nil {
		return fmt.Errorf("starting asynq server: %w", err)
	}
	logrus.Infof("asynq workers started on queue %s with concurrency %d", q.name, q.concurrency)
	return nil
}

// handleError runs after every failed attempt. asynq archives the task when
// its retries are spent, which is when the dead-letter hook fires.
func (q *AsynqQueue) handleError(ctx context.Context, t *asynq.Task, err error) {
	job := jobFromContext(ctx, t)
	fields := logrus.Fields{"job_id": job.ID, "attempt": job.Attempt, "max_attempts": job.MaxAttempts}

	if !job.IsFinalAttempt() {
		logrus.WithFields(fields).WithError(err).Warn("job attempt failed, retry scheduled")
		return
	}

	job.State = StateDead
	job.LastError = err.Error()
	logrus.WithFields(fields).WithError(err).Error("job moved to dead-letter set")
	if q.opts.deadLetterHook != nil {
		q.opts.deadLetterHook(job, err)
	}
}

func (q *AsynqQueue) Shutdown() {
	if q.server != nil {
		q.server.Shutdown()
	}
	if err := q.Client.Close(); err != nil {
		logrus.WithError(err).Warn("closing asynq client")
	}
	if err := q.Inspector.Close(); err != nil {
		logrus.WithError(err).Warn("closing asynq inspector")
	}
}

func (q *AsynqQueue) JobInfo(_ context.Context, id string) (*Job, error) {
	info, err := q.Inspector.GetTaskInfo(q.name, id)
	if err != nil {
		return nil, mapInspectorError(err)
	}
	return jobFromInfo(info), nil
}

func (q *AsynqQueue) DeadLetters(_ context.Context) ([]*Job, error) {
	infos, err := q.Inspector.ListArchivedTasks(q.name, asynq.PageSize(100))
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return []*Job{}, nil
		}
		return nil, err
	}

	jobs := make([]*Job, 0, len(infos))
	for _, info := range infos {
		jobs = append(jobs, jobFromInfo(info))
	}
	return jobs, nil
}

// Replay gives an archived task a fresh attempt budget. asynq keeps the
// retry count of a task it re-runs, so the archived task is deleted and its
// payload enqueued again under the same id.
func (q *AsynqQueue) Replay(ctx context.Context, id string) error {
	info, err := q.Inspector.GetTaskInfo(q.name, id)
	if err != nil {
		return mapInspectorError(err)
	}
	if info.State != asynq.TaskStateArchived {
		return ErrNotDeadLettered
	}
	if err := q.Inspector.DeleteTask(q.name, id); err != nil {
		return mapInspectorError(err)
	}
	if _, err := q.Enqueue(ctx, id, info.Payload); err != nil {
		logrus.WithError(err).WithField("job_id", id).Error("archived job deleted but not enqueued again")
		return err
	}
	return nil
}

func mapInspectorError(err error) error {
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return ErrJobNotFound
	}
	return err
}

func jobFromContext(ctx context.Context, t *asynq.Task) *Job {
	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return &Job{
		ID:          id,
		Payload:     t.Payload(),
		Attempt:     retried + 1,
		MaxAttempts: maxRetry + 1,
		State:       StateActive,
	}
}

func stateFromAsynq(s asynq.TaskState) State {
	switch s {
	case asynq.TaskStateActive:
		return StateActive
	case asynq.TaskStateRetry:
		return StateRetry
	case asynq.TaskStateArchived:
		return StateDead
	case asynq.TaskStateCompleted:
		return StateCompleted
	default:
		return StateWaiting
	}
}

// jobFromInfo converts inspector data. asynq counts retries, not attempts:
// a task that is running, finished or archived has made one more attempt
// than it has retries, while a task waiting to retry has made exactly as
// many.
func jobFromInfo(info *asynq.TaskInfo) *Job {
	job := &Job{
		ID:          info.ID,
		Payload:     info.Payload,
		MaxAttempts: info.MaxRetry + 1,
		State:       stateFromAsynq(info.State),
		LastError:   info.LastErr,
	}

	switch job.State {
	case StateActive, StateCompleted, StateDead:
		job.Attempt = info.Retried + 1
	default:
		job.Attempt = info.Retried
	}

	if !info.LastFailedAt.IsZero() {
		t := info.LastFailedAt
		job.LastFailedAt = &t
	}
	if !info.NextProcessAt.IsZero() && (job.State == StateRetry || job.State == StateWaiting) {
		t := info.NextProcessAt
		job.NextRunAt = &t
	}
	return job
}
