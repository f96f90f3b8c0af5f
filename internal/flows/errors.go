package flows

import (
	"errors"
	"fmt"
)

// Request errors. They are returned before any computation starts.
var (
	ErrInvalidTimeWindow = errors.New("invalid time window")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrInvalidCountry    = errors.New("invalid country code")
	ErrTooManyCountries  = errors.New("too many countries")
)

// Computation errors.
var (
	// ErrNoData means no country could be fetched at all.
	ErrNoData = errors.New("no data available")
	// ErrComputationTimeout means the compute budget ran out.
	ErrComputationTimeout = errors.New("computation timed out: reduce country count or time window")
)

// FetchError represents a per-country error while loading observations.
type FetchError struct {
	Country string
	Err     error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("fetch error for country %s: %v", e.Country, e.Err)
}

func (e FetchError) Unwrap() error { return e.Err }

// IsRequestError reports whether err was caused by invalid request parameters.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrInvalidTimeWindow) ||
		errors.Is(err, ErrInvalidThreshold) ||
		errors.Is(err, ErrInvalidCountry) ||
		errors.Is(err, ErrTooManyCountries)
}
