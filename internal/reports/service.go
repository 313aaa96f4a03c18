// Package reports is the BFF's report service. It requests report jobs from the
// backend, records them, and keeps one server-side watch per job id so that any
// number of dashboards asking about the same job share a single polling session.
package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/cache"
	"github.com/kiranshivaraju/folio/internal/poller"
	"github.com/kiranshivaraju/folio/internal/store"
	"github.com/kiranshivaraju/folio/pkg/elapsed"
	"github.com/kiranshivaraju/folio/pkg/models"
)

var ErrInvalidRequest = errors.New("invalid report request")

const (
	// DefaultWatchRetention is how long a finished watch is kept after its last read.
	DefaultWatchRetention = 15 * time.Minute
	DefaultListTTL        = 5 * time.Minute
	firstFetchWait        = 2 * time.Second
)

// JobCreator submits report jobs to the backend.
type JobCreator interface {
	CreateReportJob(ctx context.Context, req models.ReportRequest) (*models.Job, error)
}

// JobSource is the shared query layer the watches fetch through.
type JobSource interface {
	poller.Fetcher
	poller.Invalidator
	Peek(ctx context.Context, jobID string) (*models.Job, bool)
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMaxWait sets the polling ceiling of every watch.
func WithMaxWait(d time.Duration) Option {
	return func(s *Service) { s.maxWait = d }
}

func WithListTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.listTTL = d
		}
	}
}

func WithWatchRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

type watch struct {
	sub      *poller.Subscription
	display  *elapsed.Display
	lastSeen time.Time
}

// Service implements report generation, status and history.
type Service struct {
	creator   JobCreator
	jobs      JobSource
	store     store.Store
	cache     cache.Cache
	sched     *poller.Scheduler
	clock     clockwork.Clock
	logger    *slog.Logger
	maxWait   time.Duration
	listTTL   time.Duration
	retention time.Duration

	mu      sync.Mutex
	watches map[string]*watch
}

// NewService wires a Service and its scheduler. Terminal jobs are recorded in
// the store and invalidate the cached report lists.
func NewService(creator JobCreator, jobs JobSource, st store.Store, c cache.Cache, opts ...Option) *Service {
	s := &Service{
		creator:   creator,
		jobs:      jobs,
		store:     st,
		cache:     c,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
		maxWait:   poller.MaxWait,
		listTTL:   DefaultListTTL,
		retention: DefaultWatchRetention,
		watches:   make(map[string]*watch),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sched = poller.New(jobs,
		poller.WithClock(s.clock),
		poller.WithLogger(s.logger),
		poller.WithMaxWait(s.maxWait),
		poller.WithInvalidator(terminalHook{s}),
	)
	return s
}

// Generate submits a report job, records it and starts watching it.
func (s *Service) Generate(ctx context.Context, req models.ReportRequest) (*models.ReportRecord, error) {
	req.Portfolio = strings.TrimSpace(req.Portfolio)
	req.Kind = strings.TrimSpace(req.Kind)
	if req.Portfolio == "" {
		return nil, fmt.Errorf("%w: portfolio is required", ErrInvalidRequest)
	}
	if req.Kind == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrInvalidRequest)
	}

	job, err := s.creator.CreateReportJob(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create report job: %w", err)
	}

	createdAt, err := elapsed.ParseTimestamp(job.CreatedAt)
	if err != nil {
		createdAt = s.clock.Now().UTC()
	}
	record := &models.ReportRecord{
		ID:        uuid.New(),
		JobID:     job.ID,
		Portfolio: req.Portfolio,
		Entity:    req.Entity,
		Kind:      req.Kind,
		Status:    models.JobStatusPending,
		CreatedAt: createdAt,
	}
	if job.Status == models.JobStatusInProgress {
		record.Status = job.Status
	}
	if err := s.store.CreateReport(ctx, record); err != nil {
		return nil, fmt.Errorf("record report: %w", err)
	}

	// The new row must show up in cached listings.
	if _, err := s.cache.BumpJobListVersion(ctx); err != nil {
		s.logger.Warn("report list invalidation failed", "job_id", job.ID, "error", err)
	}

	s.watch(job.ID)
	s.logger.Info("report requested", "job_id", job.ID, "portfolio", req.Portfolio, "kind", req.Kind)
	return record, nil
}

// JobView is a watch snapshot as served to dashboards.
type JobView struct {
	poller.Snapshot
	// Age is the time since the job was created, frozen once it finished.
	Age            string `json:"age,omitempty"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	ElapsedDisplay string `json:"elapsed_display"`
	LastError      string `json:"last_error,omitempty"`
}

// Status returns the current view of a job, starting a watch if none exists.
// The first call for a job waits briefly for the initial fetch.
func (s *Service) Status(ctx context.Context, jobID string) (JobView, error) {
	w := s.watch(jobID)
	snap := s.awaitFirstFetch(ctx, w.sub)

	if snap.Data == nil && errors.Is(snap.Err, backend.ErrJobNotFound) {
		s.forget(jobID)
		return JobView{}, snap.Err
	}
	if snap.Data == nil {
		if job, ok := s.jobs.Peek(ctx, jobID); ok {
			snap.Data = job
		}
	}
	return s.view(w, snap), nil
}

// Refetch fetches a job immediately through its watch. It never restarts a
// finished or timed-out watch.
func (s *Service) Refetch(ctx context.Context, jobID string) (JobView, error) {
	w := s.watch(jobID)
	snap, err := w.sub.Refetch(ctx)
	if err != nil {
		return JobView{}, err
	}
	if snap.Data == nil && errors.Is(snap.Err, backend.ErrJobNotFound) {
		s.forget(jobID)
		return JobView{}, snap.Err
	}
	return s.view(w, snap), nil
}

// ReportPage is one page of report history.
type ReportPage struct {
	Reports []*models.ReportRecord `json:"reports"`
	Total   int                    `json:"total"`
	Page    int                    `json:"page"`
	Limit   int                    `json:"limit"`
}

// List returns report history. Pages are cached per list generation, so a
// finished job is visible on the next call.
func (s *Service) List(ctx context.Context, filter store.ReportFilter) (*ReportPage, error) {
	filter = filter.Normalize()

	version, err := s.cache.JobListVersion(ctx)
	if err != nil {
		s.logger.Warn("reading report list version failed", "error", err)
		return s.listFromStore(ctx, filter)
	}
	key := cache.ReportListKey(version, listFilterKey(filter))

	if b, found, err := s.cache.Get(ctx, key); err == nil && found {
		var page ReportPage
		if err := json.Unmarshal(b, &page); err == nil {
			return &page, nil
		}
		s.logger.Warn("discarding corrupt cached report list", "key", key)
	}

	page, err := s.listFromStore(ctx, filter)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(page); err == nil {
		if err := s.cache.Set(ctx, key, b, s.listTTL); err != nil {
			s.logger.Warn("caching report list failed", "key", key, "error", err)
		}
	}
	return page, nil
}

func (s *Service) listFromStore(ctx context.Context, filter store.ReportFilter) (*ReportPage, error) {
	reports, total, err := s.store.ListReports(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return &ReportPage{Reports: reports, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// Watching returns the number of jobs with a live or retained watch.
func (s *Service) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Close stops every watch. Later calls start no new polling.
func (s *Service) Close() {
	s.sched.Close()
	s.mu.Lock()
	s.watches = make(map[string]*watch)
	s.mu.Unlock()
}

// watch returns the registry entry for jobID, creating and starting it on
// first use. Finished watches not read within the retention window are dropped.
func (s *Service) watch(jobID string) *watch {
	now := s.clock.Now()

	s.mu.Lock()
	stale := s.staleLocked(now)
	w, ok := s.watches[jobID]
	if !ok {
		w = &watch{sub: s.sched.Subscribe()}
		s.watches[jobID] = w
	}
	w.lastSeen = now
	s.mu.Unlock()

	for _, sub := range stale {
		sub.Stop()
	}

	// Observing the same id again is a no-op, so this never restarts polling.
	w.sub.Observe(jobID)
	return w
}

func (s *Service) staleLocked(now time.Time) []*poller.Subscription {
	var stale []*poller.Subscription
	for id, w := range s.watches {
		if now.Sub(w.lastSeen) < s.retention {
			continue
		}
		if w.sub.Snapshot().State == poller.StateActive {
			continue
		}
		stale = append(stale, w.sub)
		delete(s.watches, id)
	}
	return stale
}

func (s *Service) forget(jobID string) {
	s.mu.Lock()
	w, ok := s.watches[jobID]
	delete(s.watches, jobID)
	s.mu.Unlock()
	if ok {
		w.sub.Stop()
	}
}

func (s *Service) awaitFirstFetch(ctx context.Context, sub *poller.Subscription) poller.Snapshot {
	snap := sub.Snapshot()
	if snap.Data != nil || snap.Err != nil || snap.State != poller.StateActive {
		return snap
	}

	timer := s.clock.NewTimer(firstFetchWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.Chan():
	case <-sub.Settled():
	}
	return sub.Snapshot()
}

func (s *Service) view(w *watch, snap poller.Snapshot) JobView {
	v := JobView{
		Snapshot:       snap,
		ElapsedMS:      snap.Elapsed.Milliseconds(),
		ElapsedDisplay: elapsed.FormatDuration(snap.Elapsed),
	}
	if snap.Err != nil {
		v.LastError = snap.Err.Error()
	}
	if snap.Data != nil {
		v.Age = s.age(w, snap.Data)
	}
	return v
}

func (s *Service) age(w *watch, job *models.Job) string {
	s.mu.Lock()
	if w.display == nil {
		w.display = elapsed.NewDisplay(job.CreatedAt, s.clock)
	}
	d := w.display
	s.mu.Unlock()

	v := d.Tick()
	if job.Terminal() {
		d.Freeze()
	}
	return v
}

// finish runs on the session goroutine when a watched job reaches a terminal
// status. It must not stop the watch.
func (s *Service) finish(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	if w, ok := s.watches[job.ID]; ok {
		if w.display == nil {
			w.display = elapsed.NewDisplay(job.CreatedAt, s.clock)
		}
		w.display.Tick()
		w.display.Freeze()
	}
	s.mu.Unlock()

	var opts []store.FinishOption
	if job.Status == models.JobStatusFailed && job.Error != "" {
		opts = append(opts, store.WithErrorMessage(job.Error))
	}
	err := s.store.MarkReportFinished(ctx, job.ID, job.Status, opts...)
	switch {
	case err == nil:
		s.logger.Info("report finished", "job_id", job.ID, "status", job.Status)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrInvalidTransition):
		s.logger.Debug("report history not updated", "job_id", job.ID, "reason", err)
	default:
		s.logger.Warn("recording finished report failed", "job_id", job.ID, "error", err)
	}

	return s.jobs.InvalidateJobList(ctx, job)
}

type terminalHook struct{ s *Service }

func (h terminalHook) InvalidateJobList(ctx context.Context, job *models.Job) error {
	return h.s.finish(ctx, job)
}

func listFilterKey(f store.ReportFilter) string {
	v := url.Values{}
	v.Set("portfolio", f.Portfolio)
	v.Set("status", string(f.Status))
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("limit", strconv.Itoa(f.Limit))
	return v.Encode()
}
