// Package cron computes the next occurrence of a periodic event schedule,
// wrapping github.com/adhocore/gronx so the rest of the module never
// touches cron syntax directly.
package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// NextDueUnixMS returns the next Unix-millisecond timestamp strictly
// after afterUnixMS that expr is due, interpreted in the named IANA
// timezone. An empty tz is treated as UTC. The reference instant itself
// never counts as due — callers compare the result against "now" with
// next_due <= now to decide if a periodic schedule has become due since
// its last run.
func NextDueUnixMS(expr, tz string, afterUnixMS int64) (int64, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return 0, fmt.Errorf("cron next due: %w", err)
	}

	after := time.UnixMilli(afterUnixMS).In(loc)
	tagged := taggedExpr(expr, tz)

	next, err := gronx.NextTickAfter(tagged, after, false)
	if err != nil {
		return 0, fmt.Errorf("cron next due: expr %q: %w", expr, err)
	}
	return next.UnixMilli(), nil
}

// IsValid reports whether expr parses as a valid cron expression.
func IsValid(expr string) bool {
	return gronx.IsValid(expr)
}

func taggedExpr(expr, tz string) string {
	if tz == "" {
		return expr
	}
	return fmt.Sprintf("CRON_TZ=%s %s", tz, expr)
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
	}
	return loc, nil
}
