// Package query is the shared query layer between report-job observers and the
// backend. Concurrent fetches of the same job collapse into one request, every
// fresh result is written through to the cache, and finished jobs invalidate
// the cached report lists.
package query

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/cache"
	"github.com/kiranshivaraju/folio/pkg/models"
	"golang.org/x/sync/singleflight"
)

// DefaultJobTTL is how long a job snapshot stays in the cache.
const DefaultJobTTL = 30 * time.Minute

// JobGetter is the slice of the backend client the query layer needs.
type JobGetter interface {
	GetReportJob(ctx context.Context, jobID string) (*models.Job, error)
}

// Option configures a JobQuery.
type Option func(*JobQuery)

func WithJobTTL(ttl time.Duration) Option {
	return func(q *JobQuery) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *JobQuery) {
		if l != nil {
			q.logger = l
		}
	}
}

// JobQuery fetches report jobs through a cache. It satisfies poller.Fetcher and
// poller.Invalidator.
type JobQuery struct {
	getter JobGetter
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// New creates a JobQuery. Cache failures are logged and never fail a fetch.
func New(getter JobGetter, c cache.Cache, opts ...Option) *JobQuery {
	q := &JobQuery{
		getter: getter,
		cache:  c,
		ttl:    DefaultJobTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// FetchJob asks the backend for the current state of a job. Callers asking for
// the same id while a request is in flight share its result. A caller whose
// context ends stops waiting; the shared request is left to finish for the others.
func (q *JobQuery) FetchJob(ctx context.Context, jobID string) (*models.Job, error) {
	ch := q.group.DoChan(jobID, func() (any, error) {
		return q.load(context.WithoutCancel(ctx), jobID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		job := *res.Val.(*models.Job)
		return &job, nil
	}
}

func (q *JobQuery) load(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.getter.GetReportJob(ctx, jobID)
	if errors.Is(err, backend.ErrJobNotFound) {
		if derr := q.cache.Delete(ctx, cache.ReportJobKey(jobID)); derr != nil {
			q.logger.Warn("dropping cached job failed", "job_id", jobID, "error", derr)
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if err := q.cache.SetJob(ctx, job, q.ttl); err != nil {
		q.logger.Warn("caching job snapshot failed", "job_id", jobID, "error", err)
	}
	return job, nil
}

// Peek returns the last cached snapshot of a job without contacting the backend.
func (q *JobQuery) Peek(ctx context.Context, jobID string) (*models.Job, bool) {
	job, found, err := q.cache.GetJob(ctx, jobID)
	if err != nil {
		q.logger.Warn("reading cached job failed", "job_id", jobID, "error", err)
		return nil, false
	}
	return job, found
}

// InvalidateJobList moves cached report lists to a new generation so the next
// listing reflects the job's final state.
func (q *JobQuery) InvalidateJobList(ctx context.Context, job *models.Job) error {
	version, err := q.cache.BumpJobListVersion(ctx)
	if err != nil {
		return err
	}
	q.logger.Info("report list invalidated", "job_id", job.ID, "status", job.Status, "list_version", version)
	return nil
}
