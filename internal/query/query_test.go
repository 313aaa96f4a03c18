package query_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/cache"
	"github.com/kiranshivaraju/folio/internal/poller"
	"github.com/kiranshivaraju/folio/internal/query"
	"github.com/kiranshivaraju/folio/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ poller.Fetcher     = (*query.JobQuery)(nil)
	_ poller.Invalidator = (*query.JobQuery)(nil)
)

type stubGetter struct {
	calls   atomic.Int32
	release chan struct{} // when non-nil, calls block until closed
	job     *models.Job
	err     error
}

func (s *stubGetter) GetReportJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return nil, s.err
	}
	job := *s.job
	job.ID = jobID
	return &job, nil
}

// failingCache breaks every write so cache errors can be observed not to leak.
type failingCache struct {
	*cache.MemoryCache
}

func (failingCache) SetJob(context.Context, *models.Job, time.Duration) error {
	return errors.New("redis down")
}

func (failingCache) BumpJobListVersion(context.Context) (int64, error) {
	return 0, errors.New("redis down")
}

func TestFetchJob_WritesThrough(t *testing.T) {
	getter := &stubGetter{job: &models.Job{Status: models.JobStatusInProgress, CreatedAt: "2024-06-01T10:00:00Z"}}
	mc := cache.NewMemoryCache(nil)
	q := query.New(getter, mc)

	job, err := q.FetchJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", job.ID)

	cached, found := q.Peek(context.Background(), "j1")
	require.True(t, found)
	assert.Equal(t, models.JobStatusInProgress, cached.Status)
}

func TestFetchJob_DeduplicatesInFlight(t *testing.T) {
	getter := &stubGetter{
		release: make(chan struct{}),
		job:     &models.Job{Status: models.JobStatusPending},
	}
	q := query.New(getter, cache.NewMemoryCache(nil))

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Job, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := q.FetchJob(context.Background(), "shared")
			assert.NoError(t, err)
			results[i] = job
		}(i)
	}

	require.Eventually(t, func() bool { return getter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining callers time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(getter.release)
	wg.Wait()

	assert.Equal(t, int32(1), getter.calls.Load())
	for i, job := range results {
		require.NotNil(t, job, "caller %d", i)
		assert.Equal(t, "shared", job.ID)
	}
	assert.NotSame(t, results[0], results[1], "callers get their own copy")
}

func TestFetchJob_DistinctIDsNotShared(t *testing.T) {
	getter := &stubGetter{job: &models.Job{Status: models.JobStatusPending}}
	q := query.New(getter, cache.NewMemoryCache(nil))

	_, err := q.FetchJob(context.Background(), "a")
	require.NoError(t, err)
	_, err = q.FetchJob(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), getter.calls.Load())
}

func TestFetchJob_CallerCancelled(t *testing.T) {
	getter := &stubGetter{
		release: make(chan struct{}),
		job:     &models.Job{Status: models.JobStatusPending},
	}
	defer close(getter.release)
	q := query.New(getter, cache.NewMemoryCache(nil))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.FetchJob(ctx, "j1")
		done <- err
	}()

	require.Eventually(t, func() bool { return getter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("FetchJob did not return after cancellation")
	}
}

func TestFetchJob_ErrorPropagates(t *testing.T) {
	getter := &stubGetter{err: backend.ErrBackendUnreachable}
	q := query.New(getter, cache.NewMemoryCache(nil))

	_, err := q.FetchJob(context.Background(), "j1")
	assert.ErrorIs(t, err, backend.ErrBackendUnreachable)
}

func TestFetchJob_NotFoundDropsSnapshot(t *testing.T) {
	mc := cache.NewMemoryCache(nil)
	ctx := context.Background()
	require.NoError(t, mc.SetJob(ctx, &models.Job{ID: "gone", Status: models.JobStatusPending}, time.Minute))

	q := query.New(&stubGetter{err: backend.ErrJobNotFound}, mc)
	_, err := q.FetchJob(ctx, "gone")
	assert.ErrorIs(t, err, backend.ErrJobNotFound)

	_, found := q.Peek(ctx, "gone")
	assert.False(t, found)
}

func TestFetchJob_CacheFailureDoesNotFailFetch(t *testing.T) {
	getter := &stubGetter{job: &models.Job{Status: models.JobStatusCompleted}}
	q := query.New(getter, failingCache{cache.NewMemoryCache(nil)})

	job, err := q.FetchJob(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestInvalidateJobList(t *testing.T) {
	mc := cache.NewMemoryCache(nil)
	q := query.New(&stubGetter{}, mc)
	ctx := context.Background()

	require.NoError(t, q.InvalidateJobList(ctx, &models.Job{ID: "j1", Status: models.JobStatusCompleted}))
	require.NoError(t, q.InvalidateJobList(ctx, &models.Job{ID: "j2", Status: models.JobStatusFailed}))

	v, err := mc.JobListVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestInvalidateJobList_CacheError(t *testing.T) {
	q := query.New(&stubGetter{}, failingCache{cache.NewMemoryCache(nil)})
	err := q.InvalidateJobList(context.Background(), &models.Job{ID: "j1"})
	assert.Error(t, err)
}
