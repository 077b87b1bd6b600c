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

// Package queue runs order jobs with bounded concurrency, retries failed
// attempts on an exponential backoff schedule and parks jobs that exhaust
// their attempts in a dead-letter set.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDuplicateJob    = errors.New("job with this id already exists")
	ErrJobNotFound     = errors.New("job not found")
	ErrNotDeadLettered = errors.New("job is not dead-lettered")
	ErrQueueClosed     = errors.New("queue is shut down")
	ErrAlreadyStarted  = errors.New("queue workers already started")
)

// State is where a job is in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateRetry     State = "retry"
	StateCompleted State = "completed"
	StateDead      State = "dead"
)

// Job is a unit of work carrying one order.
type Job struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
	// Attempt is the 1-based number of the current or most recent run.
	Attempt      int        `json:"attempt"`
	MaxAttempts  int        `json:"maxAttempts"`
	State        State      `json:"state"`
	LastError    string     `json:"lastError,omitempty"`
	LastFailedAt *time.Time `json:"lastFailedAt,omitempty"`
	NextRunAt    *time.Time `json:"nextRunAt,omitempty"`
}

// IsFinalAttempt reports whether a failure of this run dead-letters the job.
func (j *Job) IsFinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.LastFailedAt != nil {
		t := *j.LastFailedAt
		c.LastFailedAt = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}

// Handler executes one attempt of a job. A returned error schedules a retry
// or dead-letters the job once its attempts are spent.
type Handler func(ctx context.Context, job *Job) error

// DeadLetterHook is called once for every job that exhausts its attempts.
type DeadLetterHook func(job *Job, err error)

// Queue is the job queue shared by the submission path and the workers.
// Delivery is at-least-once, so handlers must be idempotent.
type Queue interface {
	// Enqueue adds a job under id. It returns ErrDuplicateJob when a job
	// with that id is still known to the queue.
	Enqueue(ctx context.Context, id string, payload []byte) (string, error)
	// Start runs handler on the worker pool. It does not block.
	Start(handler Handler) error
	// Shutdown stops taking work and waits for running attempts.
	Shutdown()
	JobInfo(ctx context.Context, id string) (*Job, error)
	DeadLetters(ctx context.Context) ([]*Job, error)
	// Replay puts a dead-lettered job back in line.
	Replay(ctx context.Context, id string) error
}

type options struct {
	deadLetterHook DeadLetterHook
	retention      time.Duration
	now            func() time.Time
}

type Option func(*options)

// WithDeadLetterHook registers fn to observe dead-lettered jobs.
func WithDeadLetterHook(fn DeadLetterHook) Option {
	return func(o *options) { o.deadLetterHook = fn }
}

// WithRetention keeps completed jobs inspectable, and their ids reserved,
// for d.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{retention: 24 * time.Hour, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
