package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"funding-spread-alerts/internal/fetcher"
	"funding-spread-alerts/internal/funding"
)

// ratePlaces is the precision rates are published with.
const ratePlaces = 2

// ErrVenueTimeout marks an adapter that did not answer within its budget.
var ErrVenueTimeout = errors.New("venue did not respond in time")

// VenueError reports one adapter's failure during a cycle.
type VenueError struct {
	Venue string
	Err   error
}

func (e VenueError) Error() string {
	return fmt.Sprintf("%s: %v", e.Venue, e.Err)
}

func (e VenueError) Unwrap() error {
	return e.Err
}

// Options tune the aggregator.
type Options struct {
	// VenueTimeout bounds each adapter call independently.
	VenueTimeout time.Duration
}

// Aggregator fans out to every venue adapter and merges their rates per market.
type Aggregator struct {
	adapters []fetcher.VenueAdapter
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs an Aggregator. Adapter order defines the venue order inside each snapshot.
func New(adapters []fetcher.VenueAdapter, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.VenueTimeout <= 0 {
		opts.VenueTimeout = 8 * time.Second
	}
	return &Aggregator{
		adapters: adapters,
		opts:     opts,
		logger:   logger.With().Str("component", "aggregator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Venues lists the configured venue names in order.
func (a *Aggregator) Venues() []string {
	names := make([]string, len(a.adapters))
	for i, ad := range a.adapters {
		names[i] = ad.Name()
	}
	return names
}

type venueResult struct {
	index int
	rates []fetcher.RawRate
	err   error
}

// FetchAll queries every adapter concurrently and returns the merged snapshots together
// with the per-venue failures. It never returns an error of its own: when every adapter
// fails, or ctx is cancelled before the cycle completes, the snapshot list is empty and
// the error list is not.
func (a *Aggregator) FetchAll(ctx context.Context) ([]funding.MarketSnapshot, []VenueError) {
	if len(a.adapters) == 0 {
		return nil, nil
	}

	results := make(chan venueResult, len(a.adapters))
	for i, adapter := range a.adapters {
		go func(i int, adapter fetcher.VenueAdapter) {
			results <- a.fetchOne(ctx, i, adapter)
		}(i, adapter)
	}

	// Adapters that ignore their context are abandoned once the budget is spent;
	// the buffered channel lets them finish without leaking.
	budget := time.NewTimer(a.opts.VenueTimeout + 250*time.Millisecond)
	defer budget.Stop()

	collected := make([]*venueResult, len(a.adapters))
	pending := len(a.adapters)
gather:
	for pending > 0 {
		select {
		case res := <-results:
			collected[res.index] = &res
			pending--
		case <-budget.C:
			break gather
		case <-ctx.Done():
			break gather
		}
	}

	// A cycle cut short by cancellation yields nothing, so a partial venue set never
	// replaces a complete one.
	if err := ctx.Err(); err != nil {
		a.logger.Debug().Err(err).Int("collected", len(a.adapters)-pending).Msg("aggregation cancelled")
		errs := make([]VenueError, 0, len(a.adapters))
		for _, adapter := range a.adapters {
			errs = append(errs, VenueError{Venue: adapter.Name(), Err: err})
		}
		return nil, errs
	}

	var (
		perVenue = make([][]fetcher.RawRate, len(a.adapters))
		errs     []VenueError
	)
	for i, adapter := range a.adapters {
		res := collected[i]
		switch {
		case res == nil:
			errs = append(errs, VenueError{Venue: adapter.Name(), Err: ErrVenueTimeout})
		case res.err != nil:
			errs = append(errs, VenueError{Venue: adapter.Name(), Err: res.err})
		default:
			perVenue[i] = res.rates
		}
	}

	for _, ve := range errs {
		a.logger.Warn().Err(ve.Err).Str("venue", ve.Venue).Msg("venue fetch failed")
	}

	snapshots := a.merge(perVenue)
	a.logger.Debug().Int("markets", len(snapshots)).Int("venue_errors", len(errs)).Msg("aggregation complete")
	return snapshots, errs
}

func (a *Aggregator) fetchOne(ctx context.Context, index int, adapter fetcher.VenueAdapter) (res venueResult) {
	res.index = index
	defer func() {
		if r := recover(); r != nil {
			res.rates = nil
			res.err = fmt.Errorf("adapter panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, a.opts.VenueTimeout)
	defer cancel()

	rates, err := adapter.Fetch(callCtx)
	if err != nil {
		res.err = err
		return res
	}
	if len(rates) == 0 {
		res.err = errors.New("venue returned no rates")
		return res
	}
	res.rates = rates
	return res
}

// merge groups rates by canonical market. The first rate a venue reports for a market wins.
func (a *Aggregator) merge(perVenue [][]fetcher.RawRate) []funding.MarketSnapshot {
	generatedAt := a.now()
	byMarket := make(map[string]*funding.MarketSnapshot)
	seen := make(map[string]map[string]struct{})

	for i, rates := range perVenue {
		if len(rates) == 0 {
			continue
		}
		venue := a.adapters[i].Name()
		for _, raw := range rates {
			market := funding.NormalizeSymbol(raw.Symbol)
			if market == "" {
				continue
			}
			snap, ok := byMarket[market]
			if !ok {
				snap = &funding.MarketSnapshot{Market: market, GeneratedAt: generatedAt}
				byMarket[market] = snap
				seen[market] = make(map[string]struct{})
			}
			if _, dup := seen[market][venue]; dup {
				continue
			}
			seen[market][venue] = struct{}{}
			snap.Rates = append(snap.Rates, funding.VenueRate{Venue: venue, Rate: raw.Rate.Round(ratePlaces)})
		}
	}

	snapshots := make([]funding.MarketSnapshot, 0, len(byMarket))
	for _, snap := range byMarket {
		snapshots = append(snapshots, *snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Market < snapshots[j].Market })
	return snapshots
}
