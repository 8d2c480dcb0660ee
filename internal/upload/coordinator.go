package upload

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/mo"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
	"github.com/desertthunder/cowatch/internal/transfer"
)

// Starter begins a transfer. [*transfer.Engine] implements it.
type Starter interface {
	Start(ctx context.Context, fields []transfer.Field) (transfer.Transfer, error)
}

// Refresher is the catalog operation triggered after a successful upload.
type Refresher interface {
	Fetch(ctx context.Context) error
}

// Recorder stores the outcome of each submitted job.
type Recorder interface {
	Record(ctx context.Context, rec models.UploadRecord) error
}

// Options configures a [Coordinator].
type Options struct {
	Recorder Recorder // optional
	Logger   *log.Logger
	Now      func() time.Time
}

// run tracks the watcher of one submitted upload.
type run struct {
	done chan struct{}
	err  error
}

// Coordinator owns the upload job. All methods are safe for concurrent use.
type Coordinator struct {
	engine  Starter
	catalog Refresher
	history Recorder
	logger  *log.Logger
	now     func() time.Time
	notify  shared.Notifier

	mu      sync.Mutex
	job     models.TransferJob
	current transfer.Transfer
	run     *run
}

// NewCoordinator creates an idle Coordinator. catalog may be nil.
func NewCoordinator(engine Starter, catalog Refresher, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Coordinator{
		engine:  engine,
		catalog: catalog,
		history: opts.Recorder,
		logger:  shared.WithLogger(opts.Logger, "component", "upload"),
		now:     opts.Now,
		job:     models.TransferJob{Status: models.JobIdle},
	}
}

// Snapshot returns a copy of the job.
func (c *Coordinator) Snapshot() models.TransferJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// Subscribe returns a channel signalled after every job change.
func (c *Coordinator) Subscribe() (<-chan struct{}, func()) {
	return c.notify.Subscribe()
}

// ChooseFile makes file the job's source.
//
// Non-video files fail with [shared.ErrInvalidType] and leave the job as it was.
// An empty title is filled from the file name.
func (c *Coordinator) ChooseFile(file models.File) error {
	if file == nil {
		return fmt.Errorf("%w: no file", shared.ErrInvalidInput)
	}
	if !IsVideo(file.MediaType()) {
		return fmt.Errorf("%w: %s has media type %q", shared.ErrInvalidType, file.Name(), file.MediaType())
	}

	c.mu.Lock()
	if c.job.Status.IsActive() {
		c.mu.Unlock()
		return fmt.Errorf("%w: an upload is in progress", shared.ErrInvalidInput)
	}

	c.job.File = file
	c.job.Status = models.JobSelected
	c.job.Progress = 0
	c.job.Err = nil
	c.job.Indeterminate = file.Size() < 0
	if strings.TrimSpace(c.job.Title) == "" {
		c.job.Title = DefaultTitle(file.Name())
	}
	c.mu.Unlock()

	c.notify.Notify()
	return nil
}

// SetTitle replaces the job title. It is rejected while uploading.
func (c *Coordinator) SetTitle(text string) error {
	c.mu.Lock()
	if c.job.Status.IsActive() {
		c.mu.Unlock()
		return fmt.Errorf("%w: an upload is in progress", shared.ErrInvalidInput)
	}
	c.job.Title = text
	c.mu.Unlock()

	c.notify.Notify()
	return nil
}

// Submit starts uploading the chosen file.
//
// The job must hold a file (selected, failed or cancelled) and a non-blank title,
// otherwise [shared.ErrInvalidInput] is returned and nothing changes. Submit returns
// once the transfer has started; use [Coordinator.Wait] for the outcome.
func (c *Coordinator) Submit(ctx context.Context) error {
	c.mu.Lock()
	if !c.job.Status.HasFile() {
		status := c.job.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot submit while %s", shared.ErrInvalidInput, status)
	}

	title := strings.TrimSpace(c.job.Title)
	if title == "" {
		c.mu.Unlock()
		return fmt.Errorf("%w: title is required", shared.ErrInvalidInput)
	}

	file := c.job.File
	c.job.ID = shared.GenerateID()
	c.job.Title = title
	c.job.Status = models.JobUploading
	c.job.Progress = 0
	c.job.Err = nil
	c.job.Indeterminate = file.Size() < 0

	r := &run{done: make(chan struct{})}
	c.run = r

	tr, err := c.engine.Start(ctx, transfer.UploadFields(file, title))
	if err != nil {
		c.job.Status = models.JobFailed
		c.job.Err = err
		job := c.job
		r.err = err
		close(r.done)
		c.mu.Unlock()

		c.notify.Notify()
		c.logger.Warn("upload could not start", "file", file.Name(), "error", err)
		c.record(job, nil)
		return err
	}

	c.current = tr
	jobID := c.job.ID
	c.mu.Unlock()
	c.notify.Notify()

	c.logger.Info("upload started", "job", jobID, "file", file.Name(), "title", title)
	go c.watch(tr, r)
	return nil
}

func (c *Coordinator) watch(tr transfer.Transfer, r *run) {
	err := fmt.Errorf("%w: upload cancelled", shared.ErrAborted)
	for ev := range tr.Events() {
		c.apply(tr, ev)
		switch ev.Kind {
		case transfer.KindSuccess:
			err = nil
		case transfer.KindFailure:
			err = ev.Err
		}
	}

	r.err = err
	close(r.done)
}

// apply folds one transfer event into the job. Events from a transfer that is no
// longer current are ignored.
func (c *Coordinator) apply(tr transfer.Transfer, ev transfer.Event) {
	c.mu.Lock()
	if c.current != tr {
		c.mu.Unlock()
		return
	}

	switch ev.Kind {
	case transfer.KindProgress:
		if ev.Ratio > c.job.Progress {
			c.job.Progress = ev.Ratio
		}
		c.mu.Unlock()
		c.notify.Notify()

	case transfer.KindSuccess:
		c.job.Status = models.JobSucceeded
		c.job.Progress = 1
		c.current = nil
		finished := c.job
		c.mu.Unlock()
		c.notify.Notify()

		c.logger.Info("upload succeeded", "job", finished.ID, "title", finished.Title)
		c.record(finished, ev.Entry)

		// a file chosen meanwhile replaces the finished job and must survive
		c.mu.Lock()
		reset := c.job.Status == models.JobSucceeded && c.job.ID == finished.ID
		if reset {
			c.job = models.TransferJob{Status: models.JobIdle}
		}
		c.mu.Unlock()
		if reset {
			c.notify.Notify()
		}

		c.refresh()

	case transfer.KindFailure:
		c.job.Status = models.JobFailed
		if ev.Reason == transfer.ReasonAborted {
			c.job.Status = models.JobCancelled
		}
		c.job.Err = ev.Err
		c.current = nil
		finished := c.job
		c.mu.Unlock()
		c.notify.Notify()

		if ev.Reason == transfer.ReasonAborted {
			c.logger.Info("upload aborted", "job", finished.ID)
		} else {
			c.logger.Warn("upload failed", "job", finished.ID, "reason", ev.Reason, "error", ev.Err)
		}
		c.record(finished, nil)
	}
}

func (c *Coordinator) refresh() {
	if c.catalog == nil {
		return
	}
	if err := c.catalog.Fetch(context.Background()); err != nil {
		c.logger.Warn("catalog refresh after upload failed", "error", err)
	}
}

// Wait blocks until the most recent upload has finished and returns its outcome:
// nil on success, the failure error, or [shared.ErrAborted] after Cancel.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the upload in progress and resets the job to idle.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	if !c.job.Status.IsActive() {
		status := c.job.Status
		c.mu.Unlock()
		return fmt.Errorf("%w: nothing to cancel while %s", shared.ErrInvalidInput, status)
	}

	tr := c.current
	cancelled := c.job
	cancelled.Status = models.JobCancelled
	cancelled.Err = shared.ErrAborted
	c.current = nil
	c.job = models.TransferJob{Status: models.JobIdle}
	c.mu.Unlock()

	if tr != nil {
		tr.Cancel()
	}
	c.notify.Notify()

	c.logger.Info("upload cancelled", "job", cancelled.ID)
	c.record(cancelled, nil)
	return nil
}

// Clear drops the chosen file and title. It is rejected while uploading.
func (c *Coordinator) Clear() error {
	c.mu.Lock()
	if c.job.Status.IsActive() {
		c.mu.Unlock()
		return fmt.Errorf("%w: an upload is in progress", shared.ErrInvalidInput)
	}
	c.job = models.TransferJob{Status: models.JobIdle}
	c.mu.Unlock()

	c.notify.Notify()
	return nil
}

func (c *Coordinator) record(job models.TransferJob, entry *models.VideoEntry) {
	if c.history == nil || job.ID == "" {
		return
	}

	rec := models.UploadRecord{
		JobID:      job.ID,
		FileName:   job.FileName(),
		Title:      job.Title,
		Status:     job.Status,
		VideoID:    mo.None[int64](),
		FinishedAt: c.now(),
	}
	if job.File != nil {
		rec.Size = job.File.Size()
	}
	if job.Err != nil {
		rec.Error = job.Err.Error()
	}
	if entry != nil {
		rec.VideoID = mo.Some(entry.ID)
	}

	if err := c.history.Record(context.Background(), rec); err != nil {
		c.logger.Warn("failed to record upload", "job", job.ID, "error", err)
	}
}
