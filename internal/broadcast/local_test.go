package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/swapflow/model"
)

func TestLocalBus_FanOut(t *testing.T) {
	bus := NewLocalBus(8, nil)
	ctx := context.Background()

	a, stopA, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stopA()
	b, stopB, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stopB()

	bus.Publish(ctx, model.ProgressEvent{OrderID: "ord_1", Progress: 20})

	assert.Equal(t, 20, receive(t, a).Progress)
	assert.Equal(t, 20, receive(t, b).Progress)
}

func TestLocalBus_NoReplayForLateSubscriber(t *testing.T) {
	bus := NewLocalBus(8, nil)
	ctx := context.Background()

	bus.Publish(ctx, model.ProgressEvent{OrderID: "ord_1", Progress: 20})

	late, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	bus.Publish(ctx, model.ProgressEvent{OrderID: "ord_1", Progress: 40})
	assert.Equal(t, 40, receive(t, late).Progress)
}

func TestLocalBus_FullBufferDoesNotBlock(t *testing.T) {
	bus := NewLocalBus(1, nil)
	ctx := context.Background()

	events, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(ctx, model.ProgressEvent{OrderID: "ord_1", Progress: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, "ord_1", receive(t, events).OrderID)
}

func TestLocalBus_ContextCancelUnsubscribes(t *testing.T) {
	bus := NewLocalBus(8, nil)
	ctx, cancel := context.WithCancel(context.Background())

	events, stop, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer stop()

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	bus.Publish(context.Background(), model.ProgressEvent{OrderID: "ord_1"})
}

func TestLocalBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewLocalBus(8, nil)

	events, stop, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer stop()

	bus.Close()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
