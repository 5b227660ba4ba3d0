package common

import "time"

// Clock is the sweeper's source of time. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock reads the wall clock.
var SystemClock Clock = realClock{}
