package swapflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/database"
	"github.com/jerry-enebeli/swapflow/model"
	"github.com/jerry-enebeli/swapflow/queue"
	"github.com/jerry-enebeli/swapflow/routing"
)

var solUSDC = model.CreateOrderRequest{FromToken: "SOL", ToToken: "USDC", Amount: decimal.NewFromInt(1)}

// recorder is a Publisher keeping every event.
type recorder struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (r *recorder) Publish(_ context.Context, event model.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) forOrder(id string) []model.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProgressEvent
	for _, e := range r.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

// failingStore fails every update to one status.
type failingStore struct {
	*database.MemoryStore
	failOn model.OrderStatus
}

func (f *failingStore) UpdateOrder(ctx context.Context, id string, status model.OrderStatus, fields model.OrderFields) (*model.Order, error) {
	if status == f.failOn {
		return nil, errors.New("store unavailable")
	}
	return f.MemoryStore.UpdateOrder(ctx, id, status, fields)
}

// countingSettler fails its first failures calls.
type countingSettler struct {
	calls    atomic.Int32
	failures int32
	delay    time.Duration
}

func (c *countingSettler) Submit(ctx context.Context, orderID, venue string) (string, error) {
	n := c.calls.Add(1)
	if n <= c.failures {
		return "", errors.New("rpc timeout")
	}
	return routing.NewSimulatedSettler(c.delay).Submit(ctx, orderID, venue)
}

// countingQueue counts enqueue calls on top of a real queue.
type countingQueue struct {
	queue.Queue
	enqueued atomic.Int32
}

func (c *countingQueue) Enqueue(ctx context.Context, id string, payload []byte) (string, error) {
	c.enqueued.Add(1)
	return c.Queue.Enqueue(ctx, id, payload)
}

func fixedRand() float64 { return 0.5 }

// testRouter quotes 99.7 on raydium and 99.8 on meteora for one SOL.
func testRouter() *routing.Router {
	return routing.NewRouterFromConfig(config.DefaultVenues(), routing.WithRand(fixedRand))
}

func fastPolicy(maxAttempts int) queue.BackoffPolicy {
	return queue.BackoffPolicy{Base: 5 * time.Millisecond, Cap: 20 * time.Millisecond, MaxAttempts: maxAttempts}
}

type harness struct {
	store    database.OrderStore
	queue    *countingQueue
	events   *recorder
	pipeline *Pipeline
	swapflow *Swapflow
	dead     chan *queue.Job
}

func newHarness(t *testing.T, store database.OrderStore, settler routing.Settler, cnf config.PipelineConfig) *harness {
	t.Helper()

	h := &harness{store: store, events: &recorder{}, dead: make(chan *queue.Job, 8)}
	mq := queue.NewMemoryQueue(fastPolicy(3), 5, queue.WithDeadLetterHook(func(job *queue.Job, _ error) {
		h.dead <- job
	}))
	t.Cleanup(mq.Shutdown)

	h.queue = &countingQueue{Queue: mq}
	h.pipeline = NewPipeline(store, testRouter(), settler, h.events, nil, cnf)
	h.swapflow = NewSwapflow(store, h.queue, nil)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.queue.Start(h.pipeline.Handler()))
}

func waitForStatus(t *testing.T, store database.OrderStore, id string, status model.OrderStatus) *model.Order {
	t.Helper()
	var order *model.Order
	require.Eventually(t, func() bool {
		o, err := store.GetOrder(context.Background(), id)
		if err != nil {
			return false
		}
		order = o
		return o.Status == status
	}, 3*time.Second, 5*time.Millisecond)
	return order
}
