package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/folio/internal/backend"
	"github.com/kiranshivaraju/folio/internal/cache"
	"github.com/kiranshivaraju/folio/internal/config"
	"github.com/kiranshivaraju/folio/internal/poller"
	"github.com/kiranshivaraju/folio/internal/query"
	"github.com/kiranshivaraju/folio/pkg/elapsed"
	"github.com/kiranshivaraju/folio/pkg/models"
)

var (
	ErrReportFailed  = errors.New("report failed")
	ErrWatchTimedOut = errors.New("stopped waiting for report")
)

type watchOptions struct {
	progress bool
	json     bool
}

// follow watches jobID through a poller subscription, printing each status
// change, and returns once the job is terminal, the wait times out, the job is
// unknown or ctx ends.
func (a *app) follow(ctx context.Context, client backend.Client, cfg *config.Config, jobID string, opts watchOptions) error {
	jobs := query.New(client, cache.NewMemoryCache(a.clock), query.WithLogger(a.log()))
	sched := poller.New(jobs,
		poller.WithClock(a.clock),
		poller.WithLogger(a.log()),
		poller.WithMaxWait(cfg.Polling.MaxWait),
	)
	defer sched.Close()

	sub := sched.Subscribe()
	sub.Observe(jobID)

	out := &syncWriter{w: a.out}
	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()

	var (
		display    *elapsed.Display
		lastStatus models.JobStatus
	)
	for {
		snap := sub.Snapshot()

		if job := snap.Data; job != nil {
			if display == nil {
				display = elapsed.NewDisplay(job.CreatedAt, a.clock)
				if opts.progress && !opts.json {
					go display.Run(tickCtx, func(v string) {
						fmt.Fprintf(out, "\r  elapsed %s ", v)
					})
				}
			}
			if job.Status != lastStatus {
				lastStatus = job.Status
				if !opts.json {
					fmt.Fprintf(out, "%s  %-11s  %s\n", jobID, job.Status, display.Tick())
				}
			}
		}

		switch snap.State {
		case poller.StateTerminal:
			display.Tick()
			display.Freeze()
			stopTicks()
			return a.report(out, snap.Data, display.Value(), opts)
		case poller.StateTimedOut:
			stopTicks()
			status := "unknown"
			if snap.Data != nil {
				status = string(snap.Data.Status)
			}
			fmt.Fprintf(out, "gave up after %s, job %s is still %s; run `folio report watch %s` to resume\n",
				elapsed.FormatDuration(snap.Elapsed), jobID, status, jobID)
			return ErrWatchTimedOut
		}

		if snap.Data == nil && errors.Is(snap.Err, backend.ErrJobNotFound) {
			return fmt.Errorf("job %s: %w", jobID, snap.Err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Changes():
		}
	}
}

func (a *app) report(out *syncWriter, job *models.Job, took string, opts watchOptions) error {
	if opts.json {
		if err := printJSON(out, job); err != nil {
			return err
		}
	} else if job.Status == models.JobStatusCompleted {
		fmt.Fprintf(out, "completed in %s\n", took)
		if r := job.Result; r != nil {
			if r.Title != "" {
				fmt.Fprintf(out, "  %s\n", r.Title)
			}
			if r.DocumentURL != "" {
				fmt.Fprintf(out, "  %s\n", r.DocumentURL)
			}
		}
	}

	if job.Status == models.JobStatusFailed {
		if job.Error != "" {
			return fmt.Errorf("%w after %s: %s", ErrReportFailed, took, job.Error)
		}
		return fmt.Errorf("%w after %s", ErrReportFailed, took)
	}
	return nil
}
