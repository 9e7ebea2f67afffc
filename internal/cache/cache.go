package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"funding-spread-alerts/internal/aggregator"
	"funding-spread-alerts/internal/funding"
	"funding-spread-alerts/internal/metrics"
	"funding-spread-alerts/internal/scheduler"
)

// ErrAllVenuesFailed is recorded when a refresh produced no market data at all.
var ErrAllVenuesFailed = errors.New("all venues failed")

// Fetcher produces a fresh aggregation.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]funding.MarketSnapshot, []aggregator.VenueError)
}

// Reader is the read side consumed by the HTTP API and the alert service.
type Reader interface {
	Get() ([]funding.MarketSnapshot, time.Time)
}

// Status describes the refresh loop for health reporting.
type Status struct {
	GeneratedAt time.Time
	Markets     int
	Refreshing  bool
	LastAttempt time.Time
	LastError   error
	VenueErrors []aggregator.VenueError
	Initialized bool
}

type state struct {
	snapshots   []funding.MarketSnapshot
	generatedAt time.Time
}

type attempt struct {
	at          time.Time
	err         error
	venueErrors []aggregator.VenueError
}

// Cache holds the last good aggregation. The published state is swapped atomically, so
// readers always see one complete snapshot set and its timestamp together.
type Cache struct {
	fetcher    Fetcher
	recorder   *metrics.Recorder
	logger     zerolog.Logger
	base       zerolog.Logger
	now        func() time.Time
	current    atomic.Pointer[state]
	last       atomic.Pointer[attempt]
	refreshing atomic.Bool
}

var _ Reader = (*Cache)(nil)

// New constructs an empty Cache. recorder may be nil.
func New(fetcher Fetcher, recorder *metrics.Recorder, logger zerolog.Logger) *Cache {
	return &Cache{
		fetcher:  fetcher,
		recorder: recorder,
		logger:   logger.With().Str("component", "cache").Logger(),
		base:     logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the published snapshots and the time they were generated. Before the first
// successful refresh it returns nil and the zero time. The slice is shared and must not be
// modified.
func (c *Cache) Get() ([]funding.MarketSnapshot, time.Time) {
	s := c.current.Load()
	if s == nil {
		return nil, time.Time{}
	}
	return s.snapshots, s.generatedAt
}

// Status reports the state of the refresh loop.
func (c *Cache) Status() Status {
	st := Status{Refreshing: c.refreshing.Load()}
	if s := c.current.Load(); s != nil {
		st.Initialized = true
		st.GeneratedAt = s.generatedAt
		st.Markets = len(s.snapshots)
	}
	if a := c.last.Load(); a != nil {
		st.LastAttempt = a.at
		st.LastError = a.err
		st.VenueErrors = a.venueErrors
	}
	return st
}

// RefreshOnce runs a single aggregation cycle and reports whether it ran. A call made while
// another refresh is in flight returns false immediately. When the cycle yields no markets
// the previous snapshot stays published and the failure is recorded in Status.
func (c *Cache) RefreshOnce(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("refresh already in progress, skipping")
		return false
	}
	defer c.refreshing.Store(false)

	started := c.now()
	snapshots, venueErrs := c.fetcher.FetchAll(ctx)
	took := c.now().Sub(started)

	if len(snapshots) == 0 && ctx.Err() != nil {
		c.logger.Debug().Err(ctx.Err()).Msg("refresh cancelled, keeping previous snapshot")
		return true
	}

	for _, ve := range venueErrs {
		c.recorder.VenueError(ve.Venue)
	}

	if len(snapshots) == 0 {
		err := ErrAllVenuesFailed
		if len(venueErrs) > 0 {
			errs := make([]error, 0, len(venueErrs)+1)
			errs = append(errs, ErrAllVenuesFailed)
			for _, ve := range venueErrs {
				errs = append(errs, ve)
			}
			err = errors.Join(errs...)
		}
		c.last.Store(&attempt{at: started, err: err, venueErrors: venueErrs})
		c.recorder.ObserveRefresh("all_failed", took, 0, started)

		_, prev := c.Get()
		c.logger.Error().Err(err).Time("serving_since", prev).Msg("refresh produced no data, keeping previous snapshot")
		return true
	}

	generatedAt := snapshots[0].GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = c.now()
	}
	c.current.Store(&state{snapshots: snapshots, generatedAt: generatedAt})
	c.last.Store(&attempt{at: started, venueErrors: venueErrs})
	c.recorder.ObserveRefresh("success", took, len(snapshots), generatedAt)

	c.logger.Info().
		Int("markets", len(snapshots)).
		Int("venue_errors", len(venueErrs)).
		Dur("took", took).
		Msg("funding cache refreshed")
	return true
}

// Tick adapts RefreshOnce to the scheduler signature. Failures are recorded, not returned.
func (c *Cache) Tick(ctx context.Context, _ time.Time) error {
	c.RefreshOnce(ctx)
	return nil
}

// Run refreshes once immediately and then every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration, align bool) error {
	sched := scheduler.New(scheduler.Options{
		Name:           "refresh",
		Interval:       interval,
		AlignToStart:   align,
		RunImmediately: true,
	}, c.base)
	return sched.Run(ctx, c.Tick)
}
