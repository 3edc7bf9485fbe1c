package trend

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidOptions is returned before any work is done when the
	// windows or bounds are not positive.
	ErrInvalidOptions = errors.New("invalid trending options")

	// ErrSourceUnavailable wraps failures of the order, view or catalog reads.
	ErrSourceUnavailable = errors.New("trending data source unavailable")
)

// Options are the windows and bounds of a ranking call.
type Options struct {
	LongWindow     time.Duration // lookback window
	ShortWindow    time.Duration // recency sub-window
	CandidateLimit int           // top-K kept per signal
	ResultLimit    int           // N entries returned
	Threshold      float64       // score above which an entry is trending
}

// DefaultOptions returns 30d/7d windows, K=15, N=10, T=50.
func DefaultOptions() Options {
	return Options{
		LongWindow:     30 * 24 * time.Hour,
		ShortWindow:    7 * 24 * time.Hour,
		CandidateLimit: 15,
		ResultLimit:    10,
		Threshold:      50,
	}
}

// Validate checks every window and bound is positive and the threshold is
// a finite, non-negative number.
func (o Options) Validate() error {
	switch {
	case o.LongWindow <= 0:
		return fmt.Errorf("%w: long window must be positive, got %s", ErrInvalidOptions, o.LongWindow)
	case o.ShortWindow <= 0:
		return fmt.Errorf("%w: short window must be positive, got %s", ErrInvalidOptions, o.ShortWindow)
	case o.CandidateLimit <= 0:
		return fmt.Errorf("%w: candidate limit must be positive, got %d", ErrInvalidOptions, o.CandidateLimit)
	case o.ResultLimit <= 0:
		return fmt.Errorf("%w: result limit must be positive, got %d", ErrInvalidOptions, o.ResultLimit)
	case math.IsNaN(o.Threshold) || math.IsInf(o.Threshold, 0):
		return fmt.Errorf("%w: threshold must be finite, got %g", ErrInvalidOptions, o.Threshold)
	case o.Threshold < 0:
		return fmt.Errorf("%w: threshold must not be negative, got %g", ErrInvalidOptions, o.Threshold)
	}
	return nil
}

// within reports whether ts falls inside the window of length d ending at
// now. The boundary instant itself is inside.
func within(ts, now time.Time, d time.Duration) bool {
	return !ts.Before(now.Add(-d))
}
