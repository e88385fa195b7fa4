package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DefaultCaptureFailureLimit is the number of consecutive capture failures
// tolerated before the capture check fails.
const DefaultCaptureFailureLimit = 3

// CaptureReporter exposes the consecutive capture failure count of a
// running session.
type CaptureReporter interface {
	CaptureFailures() int
}

// SessionReporter reports whether the session has ended.
type SessionReporter interface {
	Ended() bool
}

// ProviderReporter reports whether each named provider currently accepts
// requests.
type ProviderReporter interface {
	Available() map[string]bool
}

// CaptureCheck fails once r has seen at least limit consecutive capture
// failures. A limit below 1 uses [DefaultCaptureFailureLimit].
func CaptureCheck(r CaptureReporter, limit int) Checker {
	if limit < 1 {
		limit = DefaultCaptureFailureLimit
	}
	return Checker{
		Name: "capture",
		Check: func(context.Context) error {
			if n := r.CaptureFailures(); n >= limit {
				return fmt.Errorf("%d consecutive capture failures", n)
			}
			return nil
		},
	}
}

// SessionCheck fails once the session has ended.
func SessionCheck(r SessionReporter) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			if r.Ended() {
				return errors.New("session ended")
			}
			return nil
		},
	}
}

// ProviderCheck fails when no provider reported by r is available, and names
// the unavailable ones.
func ProviderCheck(name string, r ProviderReporter) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			avail := r.Available()
			var down []string
			for _, n := range slices.Sorted(maps.Keys(avail)) {
				if !avail[n] {
					down = append(down, n)
				}
			}
			if len(down) == len(avail) && len(avail) > 0 {
				return fmt.Errorf("no provider available (%s)", strings.Join(down, ", "))
			}
			return nil
		},
	}
}
