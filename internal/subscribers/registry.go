// Package subscribers keeps the live update connections of this process and
// forwards every progress event from the bus to each of them.
package subscribers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/internal/broadcast"
	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/model"
)

// Conn is one subscriber connection.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Registry is the set of live subscriber connections. Broadcasts never hold
// the lock while writing to a connection.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{conns: make(map[string]Conn), metrics: m}
}

// Add sends the connection acknowledgment and registers c. The ack is
// written before c becomes visible to Broadcast, so it is always the first
// message a subscriber sees.
func (r *Registry) Add(c Conn) error {
	ack, err := json.Marshal(model.NewConnectedMessage())
	if err != nil {
		return err
	}

	if err := c.Send(ack); err != nil {
		_ = c.Close()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	r.metrics.SubscriberAdded()
	logrus.WithField("subscriber_id", c.ID()).Debug("subscriber connected")
	return nil
}

// Remove unregisters and closes the connection. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = c.Close()
	r.metrics.SubscriberRemoved()
	logrus.WithField("subscriber_id", id).Debug("subscriber disconnected")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast delivers event to every registered connection. Connections
// that fail to take it are dropped.
func (r *Registry) Broadcast(event model.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).WithField("order_id", event.OrderID).Error("failed to encode progress event")
		return
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(data); err != nil {
			logrus.WithError(err).WithField("subscriber_id", c.ID()).Warn("dropping subscriber after failed send")
			r.metrics.BroadcastError("deliver")
			r.Remove(c.ID())
		}
	}
}

// CloseAll disconnects every subscriber.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
		r.metrics.SubscriberRemoved()
	}
}

// Run forwards bus events to the subscribers until ctx is done. A dropped
// subscription is re-established with exponential backoff; events
// published in the gap are not replayed.
func (r *Registry) Run(ctx context.Context, bus broadcast.Bus) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0

	for ctx.Err() == nil {
		var events <-chan model.ProgressEvent
		var stop func()

		subscribe := func() error {
			var err error
			events, stop, err = bus.Subscribe(ctx)
			return err
		}
		notify := func(err error, wait time.Duration) {
			logrus.WithError(err).Warnf("order update subscription failed, retrying in %s", wait)
		}
		if err := backoff.RetryNotify(subscribe, backoff.WithContext(policy, ctx), notify); err != nil {
			return
		}
		policy.Reset()

		for event := range events {
			r.Broadcast(event)
		}
		stop()

		if ctx.Err() != nil {
			return
		}
		wait := policy.NextBackOff()
		logrus.Warnf("order update subscription ended, resubscribing in %s", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
