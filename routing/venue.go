package routing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/swapflow/model"
)

// Quote is one venue's offer for a trade. Quotes are never persisted.
type Quote struct {
	Venue        string          `json:"venue"`
	OutputAmount decimal.Decimal `json:"outputAmount"`
	Price        decimal.Decimal `json:"price"`
	Fee          decimal.Decimal `json:"fee"`
}

// Venue prices a trade. Implementations must be safe for concurrent use and
// keep no memory of prior calls.
type Venue interface {
	Name() string
	Quote(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (Quote, error)
}

var basePrices = map[model.TokenPair]decimal.Decimal{
	{From: "SOL", To: "USDC"}:  decimal.NewFromInt(100),
	{From: "USDC", To: "SOL"}:  decimal.RequireFromString("0.01"),
	{From: "SOL", To: "USDT"}:  decimal.NewFromInt(100),
	{From: "USDT", To: "SOL"}:  decimal.RequireFromString("0.01"),
	{From: "USDC", To: "USDT"}: decimal.NewFromInt(1),
	{From: "USDT", To: "USDC"}: decimal.NewFromInt(1),
}

// BasePrice returns the reference price of a pair, 1 for unknown pairs.
func BasePrice(pair model.TokenPair) decimal.Decimal {
	if p, ok := basePrices[pair]; ok {
		return p
	}
	return decimal.NewFromInt(1)
}

// SimulatedVenue quotes around the base price within a random band of
// ±variance and charges a flat fee rate.
type SimulatedVenue struct {
	name     string
	feeRate  decimal.Decimal
	variance decimal.Decimal
	latency  time.Duration
	rand     func() float64
}

type VenueOption func(*SimulatedVenue)

// WithLatency delays every quote by d.
func WithLatency(d time.Duration) VenueOption {
	return func(v *SimulatedVenue) { v.latency = d }
}

// WithRand replaces the source of the variance draw. f must return values
// in [0, 1).
func WithRand(f func() float64) VenueOption {
	return func(v *SimulatedVenue) { v.rand = f }
}

func NewSimulatedVenue(name string, feeRate, variance float64, opts ...VenueOption) *SimulatedVenue {
	v := &SimulatedVenue{
		name:     name,
		feeRate:  decimal.NewFromFloat(feeRate),
		variance: decimal.NewFromFloat(variance),
		rand:     rand.Float64,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *SimulatedVenue) Name() string {
	return v.name
}

func (v *SimulatedVenue) Quote(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (Quote, error) {
	if v.latency > 0 {
		timer := time.NewTimer(v.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Quote{}, ctx.Err()
		case <-timer.C:
		}
	}

	one := decimal.NewFromInt(1)
	two := decimal.NewFromInt(2)
	r := decimal.NewFromFloat(v.rand())

	// base * (1 - variance + 2*variance*r)
	factor := one.Sub(v.variance).Add(two.Mul(v.variance).Mul(r))
	price := BasePrice(pair).Mul(factor)
	gross := amount.Mul(price)

	return Quote{
		Venue:        v.name,
		OutputAmount: gross.Mul(one.Sub(v.feeRate)),
		Price:        price,
		Fee:          gross.Mul(v.feeRate),
	}, nil
}
