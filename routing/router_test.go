package routing

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/model"
)

var solUSDC = model.TokenPair{From: "SOL", To: "USDC"}

func fixedRand(v float64) func() float64 {
	return func() float64 { return v }
}

func quote(venue, out string) Quote {
	return Quote{Venue: venue, OutputAmount: decimal.RequireFromString(out)}
}

func TestSelectBest_HighestOutputWins(t *testing.T) {
	best, err := SelectBest([]Quote{quote("A", "98.5"), quote("B", "99.2")}, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, "B", best.Venue)
}

func TestSelectBest_TieFollowsPriority(t *testing.T) {
	priority := []string{"raydium", "meteora"}

	for i := 0; i < 10; i++ {
		best, err := SelectBest([]Quote{quote("meteora", "99.0"), quote("raydium", "99.00")}, priority)
		require.NoError(t, err)
		assert.Equal(t, "raydium", best.Venue)

		best, err = SelectBest([]Quote{quote("raydium", "99"), quote("meteora", "99")}, priority)
		require.NoError(t, err)
		assert.Equal(t, "raydium", best.Venue)
	}
}

func TestSelectBest_UnlistedVenueRanksLast(t *testing.T) {
	best, err := SelectBest([]Quote{quote("orca", "10"), quote("meteora", "10")}, []string{"raydium", "meteora"})
	require.NoError(t, err)
	assert.Equal(t, "meteora", best.Venue)
}

func TestSelectBest_Empty(t *testing.T) {
	_, err := SelectBest(nil, nil)
	assert.ErrorIs(t, err, ErrNoQuotes)
}

func TestSimulatedVenue_Formula(t *testing.T) {
	venue := NewSimulatedVenue("raydium", 0.003, 0.02, WithRand(fixedRand(0.5)))

	q, err := venue.Quote(context.Background(), solUSDC, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.Equal(t, "raydium", q.Venue)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(100)), "price %s", q.Price)
	assert.True(t, q.OutputAmount.Equal(decimal.RequireFromString("99.7")), "output %s", q.OutputAmount)
	assert.True(t, q.Fee.Equal(decimal.RequireFromString("0.3")), "fee %s", q.Fee)
}

func TestSimulatedVenue_VarianceBand(t *testing.T) {
	low := NewSimulatedVenue("v", 0, 0.02, WithRand(fixedRand(0)))
	high := NewSimulatedVenue("v", 0, 0.02, WithRand(fixedRand(0.999999)))

	ql, err := low.Quote(context.Background(), solUSDC, decimal.NewFromInt(1))
	require.NoError(t, err)
	qh, err := high.Quote(context.Background(), solUSDC, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.True(t, ql.Price.Equal(decimal.NewFromInt(98)))
	assert.True(t, qh.Price.LessThan(decimal.NewFromInt(102)))
	assert.True(t, qh.Price.GreaterThan(decimal.RequireFromString("101.99")))
}

func TestBasePrice(t *testing.T) {
	assert.True(t, BasePrice(model.TokenPair{From: "USDC", To: "SOL"}).Equal(decimal.RequireFromString("0.01")))
	assert.True(t, BasePrice(model.TokenPair{From: "BONK", To: "WIF"}).Equal(decimal.NewFromInt(1)))
}

func TestSimulatedVenue_LatencyHonoursContext(t *testing.T) {
	venue := NewSimulatedVenue("slow", 0.001, 0.01, WithLatency(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := venue.Quote(ctx, solUSDC, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingVenue struct {
	name   string
	out    string
	err    error
	delay  time.Duration
	active *int32
	peak   *int32
}

func (c *countingVenue) Name() string { return c.name }

func (c *countingVenue) Quote(_ context.Context, _ model.TokenPair, _ decimal.Decimal) (Quote, error) {
	n := atomic.AddInt32(c.active, 1)
	for {
		p := atomic.LoadInt32(c.peak)
		if n <= p || atomic.CompareAndSwapInt32(c.peak, p, n) {
			break
		}
	}
	time.Sleep(c.delay)
	atomic.AddInt32(c.active, -1)
	if c.err != nil {
		return Quote{}, c.err
	}
	return quote(c.name, c.out), nil
}

func TestRouter_QuoteAllRunsVenuesConcurrently(t *testing.T) {
	var active, peak int32
	router := NewRouter(
		&countingVenue{name: "a", out: "1", delay: 50 * time.Millisecond, active: &active, peak: &peak},
		&countingVenue{name: "b", out: "2", delay: 50 * time.Millisecond, active: &active, peak: &peak},
	)

	quotes, err := router.QuoteAll(context.Background(), solUSDC, decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "a", quotes[0].Venue)
	assert.Equal(t, "b", quotes[1].Venue)
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))

	best, err := router.Best(context.Background(), solUSDC, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "b", best.Venue)
}

func TestRouter_VenueErrorFailsRouting(t *testing.T) {
	var active, peak int32
	router := NewRouter(
		&countingVenue{name: "a", out: "1", active: &active, peak: &peak},
		&countingVenue{name: "b", err: errors.New("venue down"), active: &active, peak: &peak},
	)

	_, err := router.QuoteAll(context.Background(), solUSDC, decimal.NewFromInt(1))
	assert.ErrorContains(t, err, "quote from b")
}

func TestNewRouterFromConfig_DefaultPriority(t *testing.T) {
	router := NewRouterFromConfig(nil)
	assert.Equal(t, []string{"raydium", "meteora"}, router.Priority())

	router = NewRouterFromConfig([]config.VenueConfig{{Name: "orca", Fee: 0.001, Variance: 0.01}})
	assert.Equal(t, []string{"orca"}, router.Priority())
}

func TestSimulatedSettler_Reference(t *testing.T) {
	ref, err := NewSimulatedSettler(0).Submit(context.Background(), "ord_1", "raydium")
	require.NoError(t, err)
	assert.Regexp(t, "^[0-9a-f]{64}$", ref)

	other, err := NewSimulatedSettler(0).Submit(context.Background(), "ord_1", "raydium")
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}
