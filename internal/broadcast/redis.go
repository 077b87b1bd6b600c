package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/model"
)

// RedisBus fans events out across processes with Redis PUBLISH/SUBSCRIBE.
// Events published while nobody is subscribed are lost.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	metrics *metrics.Metrics
}

func NewRedisBus(client redis.UniversalClient, m *metrics.Metrics) *RedisBus {
	return &RedisBus{client: client, channel: Channel, metrics: m}
}

func (b *RedisBus) Publish(ctx context.Context, event model.ProgressEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).WithField("order_id", event.OrderID).Error("failed to encode progress event")
		b.metrics.BroadcastError("publish")
		return
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"order_id": event.OrderID,
			"status":   event.Status,
		}).Warn("failed to publish progress event")
		b.metrics.BroadcastError("publish")
	}
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan model.ProgressEvent, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	var once sync.Once
	stop := func() {
		once.Do(func() { _ = pubsub.Close() })
	}

	out := make(chan model.ProgressEvent, 64)
	messages := pubsub.Channel()
	go func() {
		defer close(out)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event model.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logrus.WithError(err).Warn("dropping undecodable progress event")
					b.metrics.BroadcastError("decode")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, stop, nil
}
