package alerts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"funding-spread-alerts/internal/fetcher"
)

// FilterMode narrows the opportunities a setting reports.
type FilterMode string

const (
	FilterAll            FilterMode = "all"
	FilterArbitrageOnly  FilterMode = "arbitrage_only"
	FilterHighSpreadOnly FilterMode = "high_spread_only"
)

// ParseFilterMode accepts the canonical names and their dashed spelling.
func ParseFilterMode(raw string) (FilterMode, error) {
	mode := FilterMode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	switch mode {
	case "":
		return FilterAll, nil
	case FilterAll, FilterArbitrageOnly, FilterHighSpreadOnly:
		return mode, nil
	}
	return "", fmt.Errorf("unknown filter mode %q", raw)
}

// Setting is one user's alert definition.
type Setting struct {
	ID             int64
	OwnerID        int64  `validate:"required"`
	Name           string `validate:"required,max=50"`
	Interval       Interval
	MinSpread      decimal.Decimal
	MaxSpread      decimal.Decimal
	SelectedVenues []string   `validate:"omitempty,min=2,unique,dive,required,venue"`
	FilterMode     FilterMode `validate:"oneof=all arbitrage_only high_spread_only"`
	MaxResults     int        `validate:"gt=0,lte=10"`
	Active         bool
	LastSentAt     *time.Time
	CreatedAt      time.Time
}

// IsDue reports whether the interval has elapsed since the last send. A setting that never
// sent is due immediately.
func (s Setting) IsDue(now time.Time) bool {
	if !s.Active || s.Interval.IsZero() {
		return false
	}
	if s.LastSentAt == nil {
		return true
	}
	return now.Sub(*s.LastSentAt) >= s.Interval.Duration()
}

// NextCheck returns when the setting becomes due again after a send at sentAt.
func (s Setting) NextCheck(sentAt time.Time) time.Time {
	return sentAt.Add(s.Interval.Duration())
}

// InvalidSettingError lists every problem found in a setting.
type InvalidSettingError struct {
	Problems []string
}

func (e *InvalidSettingError) Error() string {
	return "invalid alert setting: " + strings.Join(e.Problems, "; ")
}

// IsInvalidSetting reports whether err carries an InvalidSettingError.
func IsInvalidSetting(err error) bool {
	var target *InvalidSettingError
	return errors.As(err, &target)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// A setting naming a venue nobody serves would match nothing on every check.
	if err := v.RegisterValidation("venue", func(fl validator.FieldLevel) bool {
		_, ok := fetcher.CanonicalVenue(fl.Field().String())
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks the setting before it is stored.
func (s Setting) Validate() error {
	var problems []string

	if err := validate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if s.Interval.IsZero() {
		problems = append(problems, "interval is required (hours 1-24 or minutes 5-60)")
	}
	if s.MinSpread.IsNegative() {
		problems = append(problems, "min spread must not be negative")
	}
	if s.MinSpread.GreaterThan(s.MaxSpread) {
		problems = append(problems, fmt.Sprintf("min spread %s exceeds max spread %s", s.MinSpread, s.MaxSpread))
	}

	if len(problems) > 0 {
		return &InvalidSettingError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "unique":
		return fmt.Sprintf("%s must not repeat", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "venue":
		return fmt.Sprintf("unknown venue %q (available: %s)", fe.Value(), strings.Join(fetcher.KnownVenues, ", "))
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}
