package utils

import (
	"math"
	"sync"
	"time"
)

// EarliestStoredTime is the earliest instant a nanosecond timestamp can hold
var EarliestStoredTime = time.Unix(0, math.MinInt64).UTC()

// maxCutoffDays is far enough back to reach EarliestStoredTime from any
// storable now
const maxCutoffDays = 1_000_000

// Clock returns the current time. Stores and services take one so tests
// can control timestamps.
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// NowRFC3339 returns the current time in RFC3339 format
func NowRFC3339() string {
	return time.Now().Format(time.RFC3339)
}

// ParseRFC3339 parses a time string in RFC3339 format
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// RetentionCutoff returns now minus the given number of calendar days.
// Entries created strictly before the cutoff are eligible for purge. The
// result never precedes EarliestStoredTime, so any day count maps to a
// cutoff the stores can compare against.
func RetentionCutoff(now time.Time, olderThanDays int) time.Time {
	if olderThanDays > maxCutoffDays {
		olderThanDays = maxCutoffDays
	}
	cutoff := now.AddDate(0, 0, -olderThanDays)
	if cutoff.Before(EarliestStoredTime) {
		return EarliestStoredTime
	}
	return cutoff
}

// SteppingClock hands out strictly increasing times starting at start.
// Each call advances by step. Safe for concurrent use.
type SteppingClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewSteppingClock creates a SteppingClock
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{next: start.UTC(), step: step}
}

// Now returns the next time
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Advance jumps the clock forward by d
func (c *SteppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.next = c.next.Add(d)
	c.mu.Unlock()
}
