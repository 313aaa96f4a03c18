// Package poller watches asynchronous report jobs until they finish.
//
// A Scheduler hands out Subscriptions. Each Subscription observes at most one
// job id at a time through a session: a goroutine that fetches the job status,
// sleeps for a staged interval (2s, then 5s after 10s, then 10s after a minute)
// and loops until the job is completed or failed, the maximum wait elapses, or
// the caller stops observing. Sessions never share timer state.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/folio/pkg/models"
)

// ErrNotObserving is returned by Refetch when the subscription has no job id.
var ErrNotObserving = errors.New("subscription is not observing a job")

const invalidateTimeout = 10 * time.Second

// Fetcher retrieves the current state of a job. It is called repeatedly.
type Fetcher interface {
	FetchJob(ctx context.Context, jobID string) (*models.Job, error)
}

// Invalidator is told once per session when a job reaches a terminal status so
// that job listings elsewhere can be refreshed. It runs on the session goroutine,
// or on the caller's goroutine inside Refetch, and must not call Observe or Stop
// on the subscription that owns the session.
type Invalidator interface {
	InvalidateJobList(ctx context.Context, job *models.Job) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, mainly for simulated-time tests.
func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithInvalidator sets the collaborator notified on terminal status.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Scheduler) { s.invalidator = inv }
}

// WithMaxWait overrides the MaxWait ceiling. Non-positive values are ignored.
func WithMaxWait(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// Scheduler owns every polling session created through its subscriptions.
type Scheduler struct {
	fetcher     Fetcher
	invalidator Invalidator
	clock       clockwork.Clock
	logger      *slog.Logger
	maxWait     time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates a Scheduler that fetches job status through f.
func New(f Fetcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher: f,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
		maxWait: MaxWait,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxWait returns the configured ceiling.
func (s *Scheduler) MaxWait() time.Duration { return s.maxWait }

// Subscribe returns a new, idle subscription.
func (s *Scheduler) Subscribe() *Subscription {
	return &Subscription{
		sched:   s,
		changes: make(chan struct{}, 1),
	}
}

// Close stops every live session. Subscriptions observed after Close stay idle.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}
}

// Active returns the number of subscriptions currently holding a session.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Scheduler) register(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *Scheduler) deregister(sub *Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Snapshot is what an observer sees of its subscription at one instant.
type Snapshot struct {
	JobID      string        `json:"job_id,omitempty"`
	State      State         `json:"state"`
	Data       *models.Job   `json:"data,omitempty"`
	Err        error         `json:"-"`
	IsLoading  bool          `json:"is_loading"`
	IsFetching bool          `json:"is_fetching"`
	IsPolling  bool          `json:"is_polling"`
	Elapsed    time.Duration `json:"-"`
	IsTimedOut bool          `json:"is_timed_out"`
	Failures   int           `json:"failures"`
}

// ObserveOption configures a single Observe call.
type ObserveOption func(*observeOptions)

type observeOptions struct {
	skip bool
}

// Skip tears the session down instead of observing when skip is true.
func Skip(skip bool) ObserveOption {
	return func(o *observeOptions) { o.skip = skip }
}

// Subscription is one caller's view onto a job. It holds at most one session.
type Subscription struct {
	sched   *Scheduler
	changes chan struct{}

	// opMu serializes Observe and Stop; it is held while a session is joined.
	opMu sync.Mutex

	mu  sync.Mutex
	cur *session
}

// Observe points the subscription at jobID. An empty jobID or Skip(true) tears
// down any session. Observing the id already held is a no-op whatever state the
// session is in, so a finished or timed-out job does not resume polling. A new
// id cancels the old session before the new one starts.
func (sub *Subscription) Observe(jobID string, opts ...ObserveOption) Snapshot {
	var o observeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub.opMu.Lock()
	defer sub.opMu.Unlock()

	sub.mu.Lock()
	cur := sub.cur
	sub.mu.Unlock()

	if jobID != "" && !o.skip && cur != nil && cur.jobID == jobID {
		return sub.Snapshot()
	}

	changed := sub.teardown()
	if jobID != "" && !o.skip && sub.sched.register(sub) {
		ss := newSession(sub.sched, jobID, sub.notify)
		sub.mu.Lock()
		sub.cur = ss
		sub.mu.Unlock()
		changed = true
	}

	if changed {
		sub.notify()
	}
	return sub.Snapshot()
}

// Stop ends observation. Calling it repeatedly, or on an idle subscription, is a no-op.
func (sub *Subscription) Stop() {
	sub.opMu.Lock()
	defer sub.opMu.Unlock()

	if sub.teardown() {
		sub.notify()
	}
}

// teardown detaches the current session, cancels it and waits for its
// goroutine to exit, so no tick fires afterwards. sub.opMu must be held.
func (sub *Subscription) teardown() bool {
	sub.mu.Lock()
	ss := sub.cur
	sub.cur = nil
	sub.mu.Unlock()

	if ss == nil {
		return false
	}
	ss.stop()
	sub.sched.deregister(sub)
	return true
}

// Snapshot returns the current view. An idle subscription reports StateIdle.
func (sub *Subscription) Snapshot() Snapshot {
	sub.mu.Lock()
	ss := sub.cur
	sub.mu.Unlock()

	if ss == nil {
		return Snapshot{State: StateIdle}
	}
	return ss.snapshot()
}

// Refetch performs one fetch immediately. It works in every non-idle state,
// including after a timeout, but never restarts the timer.
func (sub *Subscription) Refetch(ctx context.Context) (Snapshot, error) {
	sub.mu.Lock()
	ss := sub.cur
	sub.mu.Unlock()

	if ss == nil {
		return Snapshot{State: StateIdle}, ErrNotObserving
	}
	ss.refetch(ctx)
	return ss.snapshot(), nil
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Settled returns a channel that is closed once the current session has a
// first fetch result, successful or not, or has stopped. Unlike Changes, any
// number of goroutines may wait on it. An idle subscription returns a closed
// channel. Observing a different id later does not affect a channel already
// returned.
func (sub *Subscription) Settled() <-chan struct{} {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.cur == nil {
		return closedCh
	}
	return sub.cur.settled
}

// Changes delivers a coalesced signal whenever the snapshot may have changed.
func (sub *Subscription) Changes() <-chan struct{} {
	return sub.changes
}

func (sub *Subscription) notify() {
	select {
	case sub.changes <- struct{}{}:
	default:
	}
}
