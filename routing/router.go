package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/swapflow/config"
	"github.com/jerry-enebeli/swapflow/model"
)

var ErrNoQuotes = errors.New("no venue returned a quote")

// Router fans a trade out to every venue and picks the best offer. The
// order of venues is the tie-break priority, first wins.
type Router struct {
	venues   []Venue
	priority []string
}

func NewRouter(venues ...Venue) *Router {
	priority := make([]string, len(venues))
	for i, v := range venues {
		priority[i] = v.Name()
	}
	return &Router{venues: venues, priority: priority}
}

// NewRouterFromConfig builds simulated venues from the configured list.
func NewRouterFromConfig(cnf []config.VenueConfig, opts ...VenueOption) *Router {
	if len(cnf) == 0 {
		cnf = config.DefaultVenues()
	}
	venues := make([]Venue, 0, len(cnf))
	for _, vc := range cnf {
		venues = append(venues, NewSimulatedVenue(vc.Name, vc.Fee, vc.Variance, opts...))
	}
	return NewRouter(venues...)
}

// Priority returns the venue names in tie-break order.
func (r *Router) Priority() []string {
	return append([]string(nil), r.priority...)
}

// QuoteAll asks every venue concurrently and waits for all of them. Quotes
// come back in venue order. A venue error fails the whole call.
func (r *Router) QuoteAll(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) ([]Quote, error) {
	quotes := make([]Quote, len(r.venues))
	errs := make([]error, len(r.venues))

	var wg sync.WaitGroup
	for i, venue := range r.venues {
		wg.Add(1)
		go func(i int, venue Venue) {
			defer wg.Done()
			quotes[i], errs[i] = venue.Quote(ctx, pair, amount)
		}(i, venue)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("quote from %s: %w", r.venues[i].Name(), err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"pair":   pair.String(),
		"amount": amount.String(),
		"quotes": len(quotes),
	}).Debug("collected venue quotes")
	return quotes, nil
}

// Best quotes every venue and selects the winner.
func (r *Router) Best(ctx context.Context, pair model.TokenPair, amount decimal.Decimal) (Quote, error) {
	quotes, err := r.QuoteAll(ctx, pair, amount)
	if err != nil {
		return Quote{}, err
	}
	return SelectBest(quotes, r.priority)
}

// SelectBest returns the quote with the greatest output amount. Exact ties
// go to the venue listed first in priority; venues missing from priority
// rank after every listed one.
func SelectBest(quotes []Quote, priority []string) (Quote, error) {
	if len(quotes) == 0 {
		return Quote{}, ErrNoQuotes
	}

	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		rank[name] = i
	}
	rankOf := func(name string) int {
		if i, ok := rank[name]; ok {
			return i
		}
		return len(priority)
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		switch q.OutputAmount.Cmp(best.OutputAmount) {
		case 1:
			best = q
		case 0:
			if rankOf(q.Venue) < rankOf(best.Venue) {
				best = q
			}
		}
	}
	return best, nil
}
