package evolution

import "time"

// TimeProvider abstracts the clock for deterministic tests.
// Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// SystemTime uses time.Now.
type SystemTime struct{}

// Now returns the current time.
func (SystemTime) Now() time.Time { return time.Now() }
