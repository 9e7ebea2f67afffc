package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 16 << 20

var (
	hoursPerYear  = decimal.NewFromInt(24 * 365)
	eightHPerYear = decimal.NewFromInt(3 * 365)
	hundred       = decimal.NewFromInt(100)
)

// Options parameterise an HTTP venue adapter.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// httpVenue holds the transport shared by the REST adapters.
type httpVenue struct {
	name      string
	baseURL   string
	userAgent string
	client    *http.Client
	logger    zerolog.Logger
}

func newHTTPVenue(name, defaultBaseURL string, opts Options, logger zerolog.Logger) httpVenue {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return httpVenue{
		name:      name,
		baseURL:   baseURL,
		userAgent: strings.TrimSpace(opts.UserAgent),
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "venue").Str("venue", name).Logger(),
	}
}

func (v *httpVenue) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := v.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return v.do(req)
}

func (v *httpVenue) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return v.do(req)
}

func (v *httpVenue) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	} else {
		req.Header.Set("User-Agent", "fundingd/1.0")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(v.name, resp.StatusCode, payload)
	}
	return payload, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

func parseHTTPError(venue string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Error)
		}
		if apiErr.Detail != "" {
			return fmt.Errorf("%s api error (%d): %s", venue, status, apiErr.Detail)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", venue, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", venue, status)
}

// annualize converts a per-period funding rate to an annual percentage.
func annualize(periodRate, periodsPerYear decimal.Decimal) decimal.Decimal {
	return periodRate.Mul(periodsPerYear).Mul(hundred)
}
