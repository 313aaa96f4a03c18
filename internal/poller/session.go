package poller

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/folio/pkg/models"
)

// session is the bookkeeping for one observed job id. Its goroutine is the
// only thing that schedules timers; a session is discarded, never reused.
type session struct {
	sched  *Scheduler
	jobID  string
	notify func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	// settled is closed on the first fetch result or when the session ends.
	settled    chan struct{}
	settleOnce sync.Once

	// fetchMu keeps fetches for this job strictly sequential.
	fetchMu sync.Mutex

	mu          sync.Mutex
	state       State
	startedAt   time.Time
	stoppedAt   time.Time
	data        *models.Job
	err         error
	fetching    bool
	failures    int
	invalidated bool
}

func newSession(s *Scheduler, jobID string, notify func()) *session {
	ctx, cancel := context.WithCancel(context.Background())
	ss := &session{
		sched:     s,
		jobID:     jobID,
		notify:    notify,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		wake:      make(chan struct{}, 1),
		settled:   make(chan struct{}),
		state:     StateActive,
		startedAt: s.clock.Now(),
	}
	go ss.run()
	return ss
}

// stop cancels the session and blocks until its goroutine has exited.
func (ss *session) stop() {
	ss.cancel()
	<-ss.done
}

func (ss *session) run() {
	defer close(ss.done)
	defer ss.settle()

	log := ss.sched.logger.With("job_id", ss.jobID)
	log.Debug("polling started")

	ss.fetch(ss.ctx)
	for {
		wait, ok := ss.evaluate()
		if !ok {
			return
		}

		timer := ss.sched.clock.NewTimer(wait)
		select {
		case <-ss.ctx.Done():
			timer.Stop()
			return
		case <-ss.wake:
			timer.Stop()
			continue
		case <-timer.Chan():
		}

		// The ceiling is checked on wake so no fetch happens at or past it.
		if TimedOut(ss.elapsed(), ss.sched.maxWait) {
			continue
		}
		ss.fetch(ss.ctx)
	}
}

// evaluate decides whether another tick is due. It moves the session to
// TERMINAL or TIMED_OUT when polling must stop and otherwise returns the wait
// before the next fetch.
func (ss *session) evaluate() (time.Duration, bool) {
	ss.mu.Lock()
	if ss.ctx.Err() != nil {
		ss.mu.Unlock()
		return 0, false
	}

	now := ss.sched.clock.Now()
	elapsed := now.Sub(ss.startedAt)
	log := ss.sched.logger.With("job_id", ss.jobID, "elapsed_ms", elapsed.Milliseconds())

	switch {
	case ss.data.Terminal():
		ss.state = StateTerminal
		ss.stoppedAt = now
		if TimedOut(elapsed, ss.sched.maxWait) {
			ss.stoppedAt = ss.startedAt.Add(ss.sched.maxWait)
		}
		status := ss.data.Status
		ss.mu.Unlock()
		log.Info("polling stopped: job finished", "status", status)
		ss.notify()
		return 0, false

	case TimedOut(elapsed, ss.sched.maxWait):
		ss.state = StateTimedOut
		ss.stoppedAt = ss.startedAt.Add(ss.sched.maxWait)
		ss.mu.Unlock()
		log.Warn("polling stopped: max wait exceeded", "max_wait_ms", ss.sched.maxWait.Milliseconds())
		ss.notify()
		return 0, false
	}
	ss.mu.Unlock()

	wait := nextWait(elapsed, ss.sched.maxWait)
	log.Debug("next status fetch scheduled", "interval_ms", wait.Milliseconds())
	return wait, true
}

// fetch runs one status request. Results that arrive after the session was
// cancelled are dropped. Errors are recorded and polling carries on.
func (ss *session) fetch(ctx context.Context) {
	ss.fetchMu.Lock()
	defer ss.fetchMu.Unlock()

	ss.mu.Lock()
	if ss.ctx.Err() != nil {
		ss.mu.Unlock()
		return
	}
	ss.fetching = true
	ss.mu.Unlock()
	ss.notify()

	job, err := ss.sched.fetcher.FetchJob(ctx, ss.jobID)

	ss.mu.Lock()
	if ss.ctx.Err() != nil {
		ss.mu.Unlock()
		return
	}
	ss.fetching = false
	if err != nil {
		ss.err = err
		ss.failures++
		failures := ss.failures
		ss.mu.Unlock()
		ss.sched.logger.Warn("job status fetch failed",
			"job_id", ss.jobID, "error", err, "consecutive_failures", failures)
		ss.settle()
		ss.notify()
		return
	}
	ss.data = job
	ss.err = nil
	ss.failures = 0
	ss.mu.Unlock()
	ss.settle()
	ss.notify()

	if job.Terminal() {
		ss.signalTerminal(job)
	}
}

// refetch is a caller-initiated fetch. It is aborted when the session stops.
func (ss *session) refetch(ctx context.Context) {
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(ss.ctx, cancel)
	defer release()

	ss.fetch(fctx)

	select {
	case ss.wake <- struct{}{}:
	default:
	}
}

func (ss *session) settle() {
	ss.settleOnce.Do(func() { close(ss.settled) })
}

// signalTerminal tells the invalidator about a finished job, once per session.
func (ss *session) signalTerminal(job *models.Job) {
	ss.mu.Lock()
	if ss.invalidated {
		ss.mu.Unlock()
		return
	}
	ss.invalidated = true
	ss.mu.Unlock()

	inv := ss.sched.invalidator
	if inv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ss.ctx), invalidateTimeout)
	defer cancel()
	if err := inv.InvalidateJobList(ctx, job); err != nil {
		ss.sched.logger.Warn("job list invalidation failed", "job_id", ss.jobID, "error", err)
	}
}

func (ss *session) elapsed() time.Duration {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.elapsedLocked(ss.sched.clock.Now())
}

func (ss *session) elapsedLocked(now time.Time) time.Duration {
	if !ss.stoppedAt.IsZero() {
		return ss.stoppedAt.Sub(ss.startedAt)
	}
	return now.Sub(ss.startedAt)
}

func (ss *session) snapshot() Snapshot {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	elapsed := ss.elapsedLocked(ss.sched.clock.Now())
	state := ss.state
	// The goroutine may not have woken yet; the ceiling is reported as soon as it is reached.
	if state == StateActive && TimedOut(elapsed, ss.sched.maxWait) {
		state = StateTimedOut
		elapsed = ss.sched.maxWait
	}

	return Snapshot{
		JobID:      ss.jobID,
		State:      state,
		Data:       ss.data,
		Err:        ss.err,
		IsLoading:  ss.data == nil && ss.fetching,
		IsFetching: ss.fetching,
		IsPolling:  state == StateActive,
		Elapsed:    elapsed,
		IsTimedOut: state == StateTimedOut,
		Failures:   ss.failures,
	}
}
