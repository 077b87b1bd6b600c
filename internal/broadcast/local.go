package broadcast

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/visvasity/topic"

	"github.com/jerry-enebeli/swapflow/internal/metrics"
	"github.com/jerry-enebeli/swapflow/model"
)

// LocalBus is an in-process Bus for single-process deployments. Each
// subscriber gets a bounded receiver on a shared topic, so a slow subscriber
// misses events rather than stalling the publisher.
type LocalBus struct {
	topic   *topic.Topic[model.ProgressEvent]
	buffer  int
	metrics *metrics.Metrics
}

func NewLocalBus(buffer int, m *metrics.Metrics) *LocalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBus{topic: topic.New[model.ProgressEvent](), buffer: buffer, metrics: m}
}

func (b *LocalBus) Publish(_ context.Context, event model.ProgressEvent) {
	b.topic.Send(event)
}

// Subscribe starts receiving events published from now on. Nothing sent
// before the call is replayed.
func (b *LocalBus) Subscribe(ctx context.Context) (<-chan model.ProgressEvent, func(), error) {
	receiver, err := topic.Subscribe(b.topic, b.buffer, false /* includeRecent */)
	if err != nil {
		logrus.WithError(err).Error("could not subscribe to progress events")
		b.metrics.BroadcastError("subscribe")
		return nil, nil, err
	}

	out := make(chan model.ProgressEvent)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			receiver.Close()
		})
	}
	stopf := context.AfterFunc(ctx, stop)

	go func() {
		defer close(out)
		defer stopf()

		for {
			event, err := receiver.Receive()
			if err != nil {
				return
			}
			select {
			case out <- event:
			case <-done:
				return
			}
		}
	}()

	return out, stop, nil
}

// Close ends every subscription.
func (b *LocalBus) Close() {
	b.topic.Close()
}
