// Package clock supplies the current time behind a one-method interface so
// that every expiry decision is a pure function of (now, record) and tests
// can pin the instant.
package clock

import "time"

// Clock yields the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

// Now returns the current wall time.
func (System) Now() time.Time {
	return time.Now()
}

// Fixed is a clock frozen at a settable instant. It is intended for tests.
type Fixed struct {
	Instant time.Time
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time {
	return f.Instant
}

// Advance moves the frozen instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.Instant = f.Instant.Add(d)
}
