// Package geolocate acquires a single best-effort position fix from a
// platform location provider and classifies its failures.
package geolocate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/hospital-locator/internal/calculator"
)

// ErrorCode classifies location failures.
type ErrorCode int

// Location error codes
const (
	Unsupported ErrorCode = iota + 1
	PermissionDenied
	PositionUnavailable
	Timeout
)

func (c ErrorCode) String() string {
	switch c {
	case Unsupported:
		return "unsupported"
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// LocationError is a classified location failure.
type LocationError struct {
	Code ErrorCode
	Err  error
}

func (e *LocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("location %s: %v", e.Code, e.Err)
	}
	return "location " + e.Code.String()
}

func (e *LocationError) Unwrap() error { return e.Err }

// Message is the user-facing text for the failure.
func (e *LocationError) Message() string {
	switch e.Code {
	case Unsupported:
		return "Geolocation is not supported by this browser"
	case PermissionDenied:
		return "Location access denied. Please enable location permissions."
	case PositionUnavailable:
		return "Location information is unavailable."
	case Timeout:
		return "Location request timed out. Please try again."
	default:
		return "Unable to get your location"
	}
}

// ErrRequestInFlight is returned while another request is still running.
// Callers treat it as a no-op.
var ErrRequestInFlight = errors.New("location request already in flight")

// Options mirror the platform position options.
type Options struct {
	HighAccuracy bool
	Timeout      time.Duration
	// MaximumAge is how old a cached fix may be and still be returned.
	MaximumAge time.Duration
}

// DefaultOptions prefers high accuracy, waits 10s and accepts 5 minute old fixes.
func DefaultOptions() Options {
	return Options{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaximumAge:   5 * time.Minute,
	}
}

// Fix is a position reading from a provider.
type Fix struct {
	Coordinate calculator.Coordinate
	Timestamp  time.Time
}

// Provider is the platform location capability.
type Provider interface {
	// CurrentPosition returns one fix or a *LocationError. It must honor ctx.
	CurrentPosition(ctx context.Context, opts Options) (Fix, error)
}

// Locator wraps a Provider as a single-shot operation.
type Locator struct {
	provider Provider
	opts     Options
	now      func() time.Time

	mu       sync.Mutex
	inFlight bool
	last     *Fix
}

// NewLocator creates a locator. A nil provider makes every request fail
// with Unsupported.
func NewLocator(provider Provider, opts Options) *Locator {
	return &Locator{
		provider: provider,
		opts:     opts,
		now:      time.Now,
	}
}

// RequestLocation returns the current coordinate or a *LocationError.
// A cached fix younger than MaximumAge is returned without asking the provider.
func (l *Locator) RequestLocation(ctx context.Context) (calculator.Coordinate, error) {
	if l.provider == nil {
		return calculator.Coordinate{}, &LocationError{Code: Unsupported}
	}

	l.mu.Lock()
	if l.inFlight {
		l.mu.Unlock()
		return calculator.Coordinate{}, ErrRequestInFlight
	}
	if l.last != nil && l.opts.MaximumAge > 0 && l.now().Sub(l.last.Timestamp) <= l.opts.MaximumAge {
		fix := *l.last
		l.mu.Unlock()
		log.Debug().Time("fix_time", fix.Timestamp).Msg("Using cached location fix")
		return fix.Coordinate, nil
	}
	l.inFlight = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inFlight = false
		l.mu.Unlock()
	}()

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	fix, err := l.provider.CurrentPosition(ctx, l.opts)
	if err != nil {
		return calculator.Coordinate{}, classify(err)
	}
	if !fix.Coordinate.Valid() {
		return calculator.Coordinate{}, &LocationError{
			Code: PositionUnavailable,
			Err:  fmt.Errorf("provider returned invalid coordinate %s", fix.Coordinate),
		}
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = l.now()
	}

	l.mu.Lock()
	l.last = &fix
	l.mu.Unlock()

	log.Info().
		Float64("lat", fix.Coordinate.Latitude).
		Float64("lon", fix.Coordinate.Longitude).
		Float64("accuracy_m", fix.Coordinate.AccuracyMeters).
		Msg("Location acquired")

	return fix.Coordinate, nil
}

// classify maps provider and context errors onto a *LocationError.
func classify(err error) error {
	var locErr *LocationError
	if errors.As(err, &locErr) {
		return locErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &LocationError{Code: Timeout, Err: err}
	}
	return &LocationError{Code: PositionUnavailable, Err: err}
}
