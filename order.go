package swapflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jerry-enebeli/swapflow/internal/apierror"
	"github.com/jerry-enebeli/swapflow/model"
	"github.com/jerry-enebeli/swapflow/queue"
)

var tracer = otel.Tracer("swapflow")

// CreateOrder validates req, records a pending order and enqueues exactly one
// job for it. An invalid request has no side effects.
func (s *Swapflow) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if err := req.Validate(); err != nil {
		span.SetStatus(codes.Error, "invalid order")
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	order, err := s.store.CreateOrder(ctx, model.TokenPair{From: req.FromToken, To: req.ToToken}, req.Amount)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.OrderID))

	if err := s.enqueue(ctx, order); err != nil {
		span.RecordError(err)
		logrus.WithError(err).WithField("order_id", order.OrderID).Error("order recorded but not queued, recovery will retry")
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to queue order", err)
	}

	s.metrics.OrderSubmitted()
	logrus.WithFields(logrus.Fields{
		"order_id": order.OrderID,
		"pair":     order.Pair().String(),
		"amount":   order.Amount.String(),
	}).Info("order queued")
	return order, nil
}

func (s *Swapflow) enqueue(ctx context.Context, order *model.Order) error {
	payload, err := json.Marshal(model.OrderJob{
		OrderID:   order.OrderID,
		FromToken: order.FromToken,
		ToToken:   order.ToToken,
		Amount:    order.Amount,
	})
	if err != nil {
		return err
	}

	_, err = s.queue.Enqueue(ctx, model.JobIDForOrder(order.OrderID), payload)
	return err
}

func (s *Swapflow) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Swapflow) ListOrders(ctx context.Context) ([]*model.Order, error) {
	return s.store.ListOrders(ctx)
}

// JobInfo returns the queue's view of a job.
func (s *Swapflow) JobInfo(ctx context.Context, id string) (*queue.Job, error) {
	job, err := s.queue.JobInfo(ctx, id)
	if err != nil {
		return nil, queueError(err)
	}
	return job, nil
}

// DeadLetters lists the jobs that exhausted their attempts.
func (s *Swapflow) DeadLetters(ctx context.Context) ([]*queue.Job, error) {
	jobs, err := s.queue.DeadLetters(ctx)
	if err != nil {
		return nil, queueError(err)
	}
	return jobs, nil
}

// ReplayJob puts a dead-lettered job back in line with a fresh attempt
// budget.
func (s *Swapflow) ReplayJob(ctx context.Context, id string) error {
	if err := s.queue.Replay(ctx, id); err != nil {
		return queueError(err)
	}
	logrus.WithField("job_id", id).Info("dead-lettered job replayed")
	return nil
}

func queueError(err error) error {
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		return apierror.NewAPIError(apierror.ErrNotFound, "Job not found", err)
	case errors.Is(err, queue.ErrNotDeadLettered), errors.Is(err, queue.ErrDuplicateJob):
		return apierror.NewAPIError(apierror.ErrConflict, err.Error(), err)
	default:
		return apierror.NewAPIError(apierror.ErrInternalServer, "Queue request failed", err)
	}
}
