package core

import "time"

// Clock is the time source shared by repositories, services and the engine.
type Clock interface {
	// Now is UTC at millisecond precision, the resolution every supported database keeps.
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// NewRealClock reads the host clock.
func NewRealClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func (systemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
