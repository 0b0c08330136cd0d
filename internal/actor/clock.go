package actor

import "time"

// Clock provides a testable time source.
//
// Reducers stay deterministic and must not call a Clock directly; runtimes
// use it and inject timestamps via events.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
