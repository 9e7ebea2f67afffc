package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"funding-spread-alerts/internal/cache"
	"funding-spread-alerts/internal/funding"
	"funding-spread-alerts/internal/metrics"
)

// StatusSource is the part of the cache the API reads.
type StatusSource interface {
	cache.Reader
	Status() cache.Status
}

// Options configures the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// StaleAfter marks /api/health degraded when the cache is older than this.
	StaleAfter time.Duration
}

// Server wraps an echo instance serving the read API.
type Server struct {
	echo     *echo.Echo
	opts     Options
	source   StatusSource
	recorder *metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// New wires routes and middleware. recorder may be nil.
func New(source StatusSource, recorder *metrics.Recorder, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = opts.ReadTimeout
	e.Server.WriteTimeout = opts.WriteTimeout

	s := &Server{
		echo:     e,
		opts:     opts,
		source:   source,
		recorder: recorder,
		logger:   logger.With().Str("component", "http").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	e.Use(s.recoverMiddleware, s.requestMiddleware)

	api := e.Group("/api")
	api.GET("/funding-rates", s.fundingRates)
	api.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(recorder.Handler()))

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := s.echo.Start(s.opts.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

type marketView struct {
	Market     string                `json:"market"`
	VenueRates []funding.VenueRate   `json:"venueRates"`
	MaxSpread  *funding.SpreadResult `json:"maxSpread,omitempty"`
}

type fundingRatesResponse struct {
	Data         []marketView `json:"data"`
	LastUpdate   *time.Time   `json:"lastUpdate"`
	TotalMarkets int          `json:"totalMarkets"`
}

func (s *Server) fundingRates(c echo.Context) error {
	snapshots, generatedAt := s.source.Get()

	var selected funding.VenueSet
	classify := false
	if raw := strings.TrimSpace(c.QueryParam("venues")); raw != "" {
		selected = funding.NewVenueSet(strings.Split(raw, ",")...)
		if len(selected) < 2 {
			return c.JSON(http.StatusBadRequest, errorBody("venues must name at least two venues"))
		}
		classify = true
	}

	resp := fundingRatesResponse{Data: make([]marketView, 0, len(snapshots)), TotalMarkets: len(snapshots)}
	if !generatedAt.IsZero() {
		resp.LastUpdate = &generatedAt
	}
	for _, snap := range snapshots {
		view := marketView{Market: snap.Market, VenueRates: snap.Rates}
		if classify {
			res := funding.Classify(snap.Rates, selected)
			view.MaxSpread = &res
		}
		resp.Data = append(resp.Data, view)
	}
	return c.JSON(http.StatusOK, resp)
}

type venueErrorView struct {
	Venue string `json:"venue"`
	Error string `json:"error"`
}

type healthResponse struct {
	Status      string           `json:"status"`
	Markets     int              `json:"markets"`
	LastUpdate  *time.Time       `json:"lastUpdate"`
	AgeSeconds  *float64         `json:"ageSeconds"`
	Refreshing  bool             `json:"refreshing"`
	LastAttempt *time.Time       `json:"lastAttempt,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	VenueErrors []venueErrorView `json:"venueErrors,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	st := s.source.Status()
	resp := healthResponse{Status: "ok", Markets: st.Markets, Refreshing: st.Refreshing}

	if st.Initialized {
		generatedAt := st.GeneratedAt
		age := s.now().Sub(generatedAt).Seconds()
		resp.LastUpdate = &generatedAt
		resp.AgeSeconds = &age
		if s.opts.StaleAfter > 0 && s.now().Sub(generatedAt) > s.opts.StaleAfter {
			resp.Status = "stale"
		}
	} else {
		resp.Status = "initializing"
	}
	if !st.LastAttempt.IsZero() {
		attempt := st.LastAttempt
		resp.LastAttempt = &attempt
	}
	if st.LastError != nil {
		resp.LastError = st.LastError.Error()
		if resp.Status == "ok" {
			resp.Status = "degraded"
		}
	}
	for _, ve := range st.VenueErrors {
		resp.VenueErrors = append(resp.VenueErrors, venueErrorView{Venue: ve.Venue, Error: ve.Err.Error()})
	}

	code := http.StatusOK
	if !st.Initialized {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func (s *Server) requestMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		req := c.Request()
		status := c.Response().Status
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		s.recorder.HTTPRequest(route, req.Method, status)
		s.logger.Debug().
			Str("method", req.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request served")
		return nil
	}
}

func (s *Server) recoverMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panicked")
				err = c.JSON(http.StatusInternalServerError, errorBody("internal server error"))
			}
		}()
		return next(c)
	}
}
