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

package swapflow

import (
	"embed"

	"github.com/jerry-enebeli/swapflow/database"
	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/internal/notification"
	"github.com/jerry-enebeli/swapflow/queue"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Swapflow is the submission side of the pipeline: it records orders and
// hands them to the job queue.
type Swapflow struct {
	store   database.OrderStore
	queue   queue.Queue
	metrics *metrics.Metrics
}

// NewSwapflow builds the submission service. m may be nil.
func NewSwapflow(store database.OrderStore, q queue.Queue, m *metrics.Metrics) *Swapflow {
	return &Swapflow{store: store, queue: q, metrics: m}
}

// Store returns the order store the service writes to.
func (s *Swapflow) Store() database.OrderStore {
	return s.store
}

// DeadLetterHook counts dead-lettered jobs and raises a notification for
// each one. Both m and n may be nil.
func DeadLetterHook(m *metrics.Metrics, n *notification.Notifier) queue.DeadLetterHook {
	return func(job *queue.Job, err error) {
		m.JobDeadLettered()
		n.NotifyError("Job "+job.ID+" dead-lettered", err)
	}
}
