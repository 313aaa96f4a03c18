package poller

import "time"

// MaxWait is the default ceiling after which a session stops polling on its own.
const MaxWait = 10 * time.Minute

// Interval stages. Early ticks are cheap and frequent; once a job is clearly
// long-running the cadence coarsens to bound request volume.
const (
	fastInterval   = 2 * time.Second
	mediumInterval = 5 * time.Second
	slowInterval   = 10 * time.Second

	fastUntil   = 10 * time.Second
	mediumUntil = time.Minute
)

// IntervalFor returns how long to wait before the next status fetch given the
// time elapsed since the session started.
func IntervalFor(elapsed time.Duration) time.Duration {
	switch {
	case elapsed < fastUntil:
		return fastInterval
	case elapsed < mediumUntil:
		return mediumInterval
	default:
		return slowInterval
	}
}

// TimedOut reports whether elapsed has reached the ceiling.
func TimedOut(elapsed, maxWait time.Duration) bool {
	return elapsed >= maxWait
}

// nextWait clamps the staged interval so the session wakes exactly at the ceiling.
func nextWait(elapsed, maxWait time.Duration) time.Duration {
	wait := IntervalFor(elapsed)
	if remaining := maxWait - elapsed; remaining < wait {
		return remaining
	}
	return wait
}

// State is the lifecycle state of a polling session.
type State int

const (
	StateIdle State = iota
	StateActive
	StateTerminal
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateTerminal:
		return "terminal"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
