package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/swapflow/internal/broadcast"
	"github.com/jerry-enebeli/swapflow/model"
)

type fakeConn struct {
	id      string
	mu      sync.Mutex
	msgs    [][]byte
	failing bool
	closed  bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing || f.closed {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.msgs...)
}

func TestRegistry_AckIsFirstMessage(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "sub_1"}

	require.NoError(t, reg.Add(conn))
	reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Status: model.StatusRouting, Progress: 20})

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"type":"connected","message":"Connected to order updates"}`, string(msgs[0]))

	var ev model.ProgressEvent
	require.NoError(t, json.Unmarshal(msgs[1], &ev))
	assert.Equal(t, 20, ev.Progress)
}

// slowAckConn blocks its first Send until release is closed.
type slowAckConn struct {
	fakeConn
	release chan struct{}
	once    sync.Once
}

func (s *slowAckConn) Send(data []byte) error {
	s.once.Do(func() { <-s.release })
	return s.fakeConn.Send(data)
}

func TestRegistry_SlowAckDoesNotStallBroadcast(t *testing.T) {
	reg := NewRegistry(nil)
	fast := &fakeConn{id: "sub_fast"}
	require.NoError(t, reg.Add(fast))

	slow := &slowAckConn{fakeConn: fakeConn{id: "sub_slow"}, release: make(chan struct{})}
	added := make(chan error, 1)
	go func() { added <- reg.Add(slow) }()

	delivered := make(chan struct{})
	go func() {
		reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Status: model.StatusRouting, Progress: 20})
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("broadcast waited on a pending ack")
	}
	assert.Len(t, fast.messages(), 2)

	close(slow.release)
	require.NoError(t, <-added)
	assert.Equal(t, 2, reg.Len())
	assert.JSONEq(t, `{"type":"connected","message":"Connected to order updates"}`, string(slow.messages()[0]))
}

func TestRegistry_AddFailsWhenAckFails(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "sub_1", failing: true}

	assert.Error(t, reg.Add(conn))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, conn.closed)
}

func TestRegistry_FailedSendPrunesOnlyThatConn(t *testing.T) {
	reg := NewRegistry(nil)
	healthy := &fakeConn{id: "sub_ok"}
	broken := &fakeConn{id: "sub_broken"}
	require.NoError(t, reg.Add(healthy))
	require.NoError(t, reg.Add(broken))

	broken.mu.Lock()
	broken.failing = true
	broken.mu.Unlock()

	reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Progress: 20})
	reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Progress: 40})

	assert.Equal(t, 1, reg.Len())
	assert.Len(t, healthy.messages(), 3)
	assert.True(t, broken.closed)
}

func TestRegistry_NoReplay(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Progress: 20})

	conn := &fakeConn{id: "sub_late"}
	require.NoError(t, reg.Add(conn))

	assert.Len(t, conn.messages(), 1)
}

func TestRegistry_ConcurrentAddRemoveBroadcast(t *testing.T) {
	reg := NewRegistry(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("sub_%d", i)
			_ = reg.Add(&fakeConn{id: id})
			if i%2 == 0 {
				reg.Remove(id)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			reg.Broadcast(model.ProgressEvent{OrderID: "ord_1", Progress: i})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, reg.Len())
	reg.CloseAll()
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RunForwardsBusEvents(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "sub_1"}
	require.NoError(t, reg.Add(conn))

	bus := broadcast.NewLocalBus(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(ctx, model.ProgressEvent{OrderID: "ord_1", Progress: 100})
		return len(conn.messages()) > 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// flakyBus fails the first subscriptions and ends every subscription after
// one event.
type flakyBus struct {
	failures  int32
	attempts  int32
	delivered int32
}

func (f *flakyBus) Publish(context.Context, model.ProgressEvent) {}

func (f *flakyBus) Subscribe(ctx context.Context) (<-chan model.ProgressEvent, func(), error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= atomic.LoadInt32(&f.failures) {
		return nil, nil, errors.New("redis unavailable")
	}
	ch := make(chan model.ProgressEvent, 1)
	ch <- model.ProgressEvent{OrderID: "ord_1", Progress: int(n)}
	close(ch)
	atomic.AddInt32(&f.delivered, 1)
	return ch, func() {}, nil
}

func TestRegistry_RunResubscribes(t *testing.T) {
	reg := NewRegistry(nil)
	conn := &fakeConn{id: "sub_1"}
	require.NoError(t, reg.Add(conn))

	bus := &flakyBus{failures: 2}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reg.Run(ctx, bus)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&bus.delivered) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, len(conn.messages()), 2)
}
