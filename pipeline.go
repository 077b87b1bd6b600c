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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/database"
	"github.com/jerry-enebeli/swapflow/internal/broadcast"
	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/model"
	"github.com/jerry-enebeli/swapflow/queue"
	"github.com/jerry-enebeli/swapflow/routing"
)

// Pipeline drives one order through routing, building, submitted and
// confirmed. It is the job handler of the worker pool and never retries on
// its own: a returned error goes back to the queue.
type Pipeline struct {
	store         database.OrderStore
	router        *routing.Router
	settler       routing.Settler
	publisher     broadcast.Publisher
	metrics       *metrics.Metrics
	failurePolicy string
	stageTimeout  time.Duration
}

func NewPipeline(store database.OrderStore, router *routing.Router, settler routing.Settler, publisher broadcast.Publisher, m *metrics.Metrics, cnf config.PipelineConfig) *Pipeline {
	policy := cnf.FailurePolicy
	if policy == "" {
		policy = config.FailurePolicyRetain
	}
	return &Pipeline{
		store:         store,
		router:        router,
		settler:       settler,
		publisher:     publisher,
		metrics:       m,
		failurePolicy: policy,
		stageTimeout:  time.Duration(cnf.StageTimeoutMs) * time.Millisecond,
	}
}

// Handler adapts the pipeline to the queue.
func (p *Pipeline) Handler() queue.Handler {
	return p.Execute
}

// Execute runs every stage of the order carried by job, from the top. Stages
// already recorded by an earlier attempt are re-applied without effect, and
// the venue and settlement reference of that attempt are reused.
func (p *Pipeline) Execute(ctx context.Context, job *queue.Job) error {
	var orderJob model.OrderJob
	if err := json.Unmarshal(job.Payload, &orderJob); err != nil {
		return fmt.Errorf("decode job %s: %w", job.ID, err)
	}

	ctx, span := tracer.Start(ctx, "ExecuteOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderJob.OrderID),
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.Attempt),
	)

	stage, err := p.run(ctx, orderJob)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		p.fail(ctx, job, orderJob.OrderID, stage, err)
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, job model.OrderJob) (model.OrderStatus, error) {
	current, err := p.store.GetOrder(ctx, job.OrderID)
	if err != nil {
		return model.StatusRouting, fmt.Errorf("load order %s: %w", job.OrderID, err)
	}
	if current.Status.IsTerminal() {
		logrus.WithFields(logrus.Fields{"order_id": current.OrderID, "status": current.Status}).Warn("order already finished, skipping")
		return current.Status, nil
	}

	order, err := p.advance(ctx, job.OrderID, model.StatusRouting, model.OrderFields{})
	if err != nil {
		return model.StatusRouting, err
	}

	if order.SelectedVenue == nil {
		err = p.stage(ctx, model.StatusRouting, func(ctx context.Context) error {
			quote, err := p.router.Best(ctx, job.Pair(), job.Amount)
			if err != nil {
				return err
			}
			order.SelectedVenue = &quote.Venue
			order.OutputAmount = &quote.OutputAmount
			return nil
		})
		if err != nil {
			return model.StatusRouting, err
		}
	}

	order, err = p.advance(ctx, job.OrderID, model.StatusBuilding, model.OrderFields{
		SelectedVenue: order.SelectedVenue,
		OutputAmount:  order.OutputAmount,
	})
	if err != nil {
		return model.StatusBuilding, err
	}

	reference := order.SettlementReference
	if reference == nil {
		err = p.stage(ctx, model.StatusSubmitted, func(ctx context.Context) error {
			ref, err := p.settler.Submit(ctx, order.OrderID, *order.SelectedVenue)
			if err != nil {
				return fmt.Errorf("settle on %s: %w", *order.SelectedVenue, err)
			}
			reference = &ref
			return nil
		})
		if err != nil {
			return model.StatusSubmitted, err
		}
	}

	if _, err = p.advance(ctx, job.OrderID, model.StatusSubmitted, model.OrderFields{SettlementReference: reference}); err != nil {
		return model.StatusSubmitted, err
	}

	if _, err = p.advance(ctx, job.OrderID, model.StatusConfirmed, model.OrderFields{}); err != nil {
		return model.StatusConfirmed, err
	}
	return model.StatusConfirmed, nil
}

// stage runs fn under the configured stage deadline and records its duration.
func (p *Pipeline) stage(ctx context.Context, status model.OrderStatus, fn func(ctx context.Context) error) error {
	if p.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
	}

	started := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(string(status), time.Since(started).Seconds())
	return err
}

// advance records status with fields and publishes the matching event. The
// event carries the fields as stored, so a replayed stage reports the values
// of the first attempt. A stage the order has already moved past is not
// published again.
func (p *Pipeline) advance(ctx context.Context, orderID string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	var order *model.Order
	err := p.stage(ctx, status, func(ctx context.Context) error {
		var err error
		order, err = p.store.UpdateOrder(ctx, orderID, status, fields)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update order %s to %s: %w", orderID, status, err)
	}

	if order.Status != status {
		return order, nil
	}

	trace.SpanFromContext(ctx).AddEvent("order.stage", trace.WithAttributes(attribute.String("status", string(status))))
	p.metrics.StageTransition(string(status))
	p.publisher.Publish(ctx, progressEvent(orderID, status, eventData(order, status)))
	return order, nil
}

func eventData(order *model.Order, status model.OrderStatus) *model.OrderFields {
	switch status {
	case model.StatusBuilding:
		return &model.OrderFields{SelectedVenue: order.SelectedVenue, OutputAmount: order.OutputAmount}
	case model.StatusSubmitted:
		return &model.OrderFields{SettlementReference: order.SettlementReference}
	default:
		return nil
	}
}

func (p *Pipeline) fail(ctx context.Context, job *queue.Job, orderID string, stage model.OrderStatus, cause error) {
	// The attempt's context may be the reason it failed.
	ctx = context.WithoutCancel(ctx)
	message := fmt.Sprintf("Order failed at %s: %v", stage, cause)

	logrus.WithFields(logrus.Fields{
		"order_id":     orderID,
		"job_id":       job.ID,
		"attempt":      job.Attempt,
		"max_attempts": job.MaxAttempts,
		"stage":        stage,
	}).Error(message)
	p.metrics.PipelineFailure(string(stage))

	p.publisher.Publish(ctx, model.ProgressEvent{
		OrderID:  orderID,
		Status:   model.StatusFailed,
		Progress: StatusProgress(model.StatusFailed),
		Message:  message,
	})

	if p.failurePolicy != config.FailurePolicyFail || !job.IsFinalAttempt() {
		return
	}
	if _, err := p.store.UpdateOrder(ctx, orderID, model.StatusFailed, model.OrderFields{}); err != nil {
		logrus.WithError(err).WithField("order_id", orderID).Error("failed to mark order as failed")
		return
	}
	p.metrics.StageTransition(string(model.StatusFailed))
}
