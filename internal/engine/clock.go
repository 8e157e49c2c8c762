package engine

import "time"

// Timer is a cancellable one-shot timer. Stop on an inactive timer is a no-op.
type Timer interface {
	Stop() bool
}

// Clock schedules the engine's batch and reconnect timers
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
