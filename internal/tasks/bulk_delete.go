package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/desertthunder/cowatch/internal/shared"
)

const (
	defaultWorkers   = 3
	maxWorkers       = 10
	defaultRateLimit = 5.0
)

// Deleter removes one video. [*catalog.Store] implements it.
type Deleter interface {
	Delete(ctx context.Context, id int64) error
}

// BulkDeleteOpts contains configuration for bulk deletes.
type BulkDeleteOpts struct {
	NumWorkers int     // Concurrent workers (default: 3, max: 10)
	RateLimit  float64 // Requests per second (default: 5)
	Logger     *log.Logger
}

// DeleteResult is the outcome for one id.
type DeleteResult struct {
	ID  int64
	Err error
}

// OK reports whether the video was deleted.
func (r DeleteResult) OK() bool { return r.Err == nil }

// BulkDeleteResult summarizes a bulk delete. Results follow the order of the requested ids.
type BulkDeleteResult struct {
	Total   int
	Deleted int
	Failed  int
	Results []DeleteResult
}

// Errors returns the failed results.
func (r *BulkDeleteResult) Errors() []DeleteResult {
	return lo.Reject(r.Results, func(res DeleteResult, _ int) bool { return res.OK() })
}

type deleteJob struct {
	index int
	id    int64
}

type deleteOutcome struct {
	index  int
	result DeleteResult
}

// BulkDelete deletes ids concurrently with rate limiting and progress tracking.
//
// Duplicate ids are deleted once. The returned error is non-nil only when no ids were
// given; per-id failures are reported in the result.
func BulkDelete(
	ctx context.Context,
	prog chan<- ProgressUpdate,
	d Deleter,
	ids []int64,
	opts BulkDeleteOpts,
) (*BulkDeleteResult, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no video ids", shared.ErrMissingArgument)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = defaultWorkers
	}
	opts.NumWorkers = min(opts.NumWorkers, maxWorkers, len(ids))
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	logger := shared.WithLogger(opts.Logger, "component", "bulk-delete")

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan deleteJob)
	outcomes := make(chan deleteOutcome, len(ids))

	var wg sync.WaitGroup
	for range opts.NumWorkers {
		wg.Add(1)
		go deleteWorker(ctx, &wg, d, limiter, jobs, outcomes)
	}

	sendProgress(prog, startDeleteUpdate(len(ids)))

	go func() {
		defer close(jobs)
		for i, id := range ids {
			select {
			case jobs <- deleteJob{index: i, id: id}:
			case <-ctx.Done():
				for j := i; j < len(ids); j++ {
					outcomes <- deleteOutcome{index: j, result: DeleteResult{ID: ids[j], Err: ctx.Err()}}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	result := &BulkDeleteResult{Total: len(ids), Results: make([]DeleteResult, len(ids))}
	completed := 0
	for out := range outcomes {
		completed++
		result.Results[out.index] = out.result

		if out.result.OK() {
			result.Deleted++
			sendProgress(prog, deleteCompletedUpdate(completed, len(ids), out.result))
		} else {
			result.Failed++
			logger.Warn("delete failed", "id", out.result.ID, "error", out.result.Err)
			sendProgress(prog, deleteFailedUpdate(completed, len(ids), out.result))
		}
	}

	logger.Info("bulk delete finished", "deleted", result.Deleted, "failed", result.Failed)
	sendProgress(prog, deleteSummaryUpdate(result))
	return result, nil
}

func deleteWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	d Deleter,
	limiter *rate.Limiter,
	jobs <-chan deleteJob,
	outcomes chan<- deleteOutcome,
) {
	defer wg.Done()

	for job := range jobs {
		res := DeleteResult{ID: job.id}
		if err := limiter.Wait(ctx); err != nil {
			res.Err = err
		} else {
			res.Err = d.Delete(ctx, job.id)
		}
		outcomes <- deleteOutcome{index: job.index, result: res}
	}
}
