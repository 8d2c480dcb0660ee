package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/formatter"
	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
	"github.com/desertthunder/cowatch/internal/tasks"
	"github.com/desertthunder/cowatch/internal/upload"
)

// ListVideos prints the catalog.
//
// When the fetch fails and an offline copy exists, the copy is shown with a warning.
func (r *Runner) ListVideos(ctx context.Context, cmd *cli.Command) error {
	state, err := r.loadCatalog(ctx, cmd.Bool("cached"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(state.Entries, true)
	}

	if len(state.Entries) == 0 {
		return r.writePlainln("No videos yet. Upload one with 'cowatch videos upload <file>'.")
	}

	rows := lo.Map(state.Entries, func(e models.VideoEntry, _ int) []string {
		return []string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			formatter.FormatSize(e.Size),
			formatter.FormatDate(e.UploadedAt),
		}
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TITLE", "SIZE", "UPLOADED").
		Rows(rows...)

	if err := r.writePlainln("%s", t.String()); err != nil {
		return err
	}
	return r.writePlainln("%s", formatter.Summary(state.Entries))
}

// loadCatalog fetches the catalog, or restores the offline copy when cached is set or
// the fetch fails.
func (r *Runner) loadCatalog(ctx context.Context, cached bool) (models.CatalogState, error) {
	if err := r.connect(); err != nil {
		return models.CatalogState{}, err
	}

	if !cached {
		fetchErr := r.store.Fetch(ctx)
		if fetchErr == nil {
			return r.store.Snapshot(), nil
		}
		if r.history == nil {
			return models.CatalogState{}, fetchErr
		}
		r.logger.Warn("fetch failed, falling back to offline copy", "error", fetchErr)
	}

	if r.history == nil {
		return models.CatalogState{}, fmt.Errorf("%w: no local cache configured (database.path)", shared.ErrMissingConfig)
	}
	if err := r.store.Restore(ctx); err != nil {
		return models.CatalogState{}, err
	}

	state := r.store.Snapshot()
	if state.FetchedAt.IsZero() {
		return models.CatalogState{}, fmt.Errorf("%w: nothing cached yet, run 'cowatch videos list' while online", shared.ErrNotFound)
	}
	r.logger.Info("showing offline copy", "fetched_at", state.FetchedAt.Local().Format(time.DateTime))
	return state, nil
}

// UploadVideo uploads one file and prints progress until it finishes.
func (r *Runner) UploadVideo(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: file path is required", shared.ErrMissingArgument)
	}

	if err := r.connect(); err != nil {
		return err
	}

	file, err := upload.OpenFile(r.fs, path)
	if err != nil {
		return err
	}
	if err := r.coordinator.ChooseFile(file); err != nil {
		return err
	}
	if title := cmd.String("title"); title != "" {
		if err := r.coordinator.SetTitle(title); err != nil {
			return err
		}
	}

	job := r.coordinator.Snapshot()
	quiet := cmd.Bool("json")

	changes, unsubscribe := r.coordinator.Subscribe()
	defer unsubscribe()

	if err := r.coordinator.Submit(ctx); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	// an interrupt cancels the transfer through ctx; its outcome is still awaited
	done := make(chan error, 1)
	go func() { done <- r.coordinator.Wait(context.WithoutCancel(ctx)) }()

	last := -1
	for {
		select {
		case <-changes:
			if quiet {
				continue
			}
			current := r.coordinator.Snapshot()
			if current.Status != models.JobUploading || current.Indeterminate {
				continue
			}
			if pct := int(current.Progress * 100); pct != last {
				last = pct
				r.writePlain("\rUploading %s %3d%%", current.FileName(), pct)
			}

		case err := <-done:
			if !quiet && last >= 0 {
				r.writePlain("\n")
			}
			return r.reportUpload(job, err, quiet)
		}
	}
}

func (r *Runner) reportUpload(job models.TransferJob, err error, quiet bool) error {
	result := struct {
		File   string `json:"file"`
		Title  string `json:"title"`
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}{File: job.FileName(), Title: strings.TrimSpace(job.Title), Status: string(models.JobSucceeded)}

	switch {
	case err == nil:
	case errors.Is(err, shared.ErrAborted):
		result.Status = string(models.JobCancelled)
	default:
		result.Status = string(models.JobFailed)
	}
	if err != nil {
		result.Error = err.Error()
	}

	if quiet {
		if werr := r.writeJSON(result, true); werr != nil {
			return werr
		}
		return err
	}

	switch result.Status {
	case string(models.JobSucceeded):
		return r.writePlainln("✓ Uploaded '%s' (%s)", result.Title, formatter.FormatSize(job.File.Size()))
	case string(models.JobCancelled):
		r.writePlainln("Upload of '%s' cancelled", result.Title)
	}
	return fmt.Errorf("upload failed: %w", err)
}

// DeleteVideo deletes one or more videos after confirmation.
func (r *Runner) DeleteVideo(ctx context.Context, cmd *cli.Command) error {
	workers, err := intFlag(cmd, "workers", 1)
	if err != nil {
		return err
	}
	ids, err := parseIDs(cmd.Args().Slice())
	if err != nil {
		return err
	}
	if len(ids) > 1 {
		return r.deleteVideos(ctx, ids, cmd.Bool("yes"), workers)
	}

	entry, err := r.findVideo(ctx, ids[0])
	if err != nil {
		return err
	}

	ok, err := r.confirm(cmd.Bool("yes"), fmt.Sprintf("Delete '%s' (#%d)?", entry.Title, entry.ID))
	if err != nil || !ok {
		return err
	}

	if err := r.store.Delete(ctx, entry.ID); err != nil {
		return err
	}
	return r.writePlainln("✓ Deleted '%s'", entry.Title)
}

func (r *Runner) deleteVideos(ctx context.Context, ids []int64, yes bool, workers int) error {
	if err := r.connect(); err != nil {
		return err
	}
	if err := r.store.Fetch(ctx); err != nil {
		return err
	}

	state := r.store.Snapshot()
	if missing := lo.Reject(ids, func(id int64, _ int) bool { return state.Contains(id) }); len(missing) > 0 {
		return fmt.Errorf("%w: videos %v", shared.ErrNotFound, missing)
	}

	ok, err := r.confirm(yes, fmt.Sprintf("Delete %d videos?", len(lo.Uniq(ids))))
	if err != nil || !ok {
		return err
	}

	prog := make(chan tasks.ProgressUpdate, len(ids)+2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range prog {
			r.writePlainln("%s", update.Message)
		}
	}()

	result, err := tasks.BulkDelete(ctx, prog, r.store, ids, tasks.BulkDeleteOpts{
		NumWorkers: workers,
		Logger:     r.logger,
	})
	close(prog)
	<-done
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		errs := lo.Map(result.Errors(), func(res tasks.DeleteResult, _ int) error { return res.Err })
		return fmt.Errorf("%d of %d deletes failed: %w", result.Failed, result.Total, errors.Join(errs...))
	}
	return nil
}

// confirm asks unless skip is set. A declined prompt prints "Cancelled".
func (r *Runner) confirm(skip bool, prompt string) (bool, error) {
	if skip {
		return true, nil
	}

	ok, err := r.confirmer.Confirm(prompt)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, r.writePlainln("Cancelled")
	}
	return true, nil
}

// PlayVideo selects a video and opens its stream URL.
func (r *Runner) PlayVideo(ctx context.Context, cmd *cli.Command) error {
	id, err := parseID(cmd.StringArg("id"))
	if err != nil {
		return err
	}

	entry, err := r.findVideo(ctx, id)
	if err != nil {
		return err
	}

	url := r.videos.StreamURL(id)
	if strings.TrimSpace(entry.URL) != "" {
		if url, err = r.videos.ResolveURL(entry.URL); err != nil {
			return err
		}
	}

	if cmd.Bool("print") {
		return r.writePlainln("%s", url)
	}

	r.logger.Debug("opening video", "id", id, "url", url)
	if err := r.openURL(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return r.writePlainln("▶ Playing '%s' (%s)", entry.Title, url)
}

// findVideo fetches the catalog and selects id.
func (r *Runner) findVideo(ctx context.Context, id int64) (models.VideoEntry, error) {
	if err := r.connect(); err != nil {
		return models.VideoEntry{}, err
	}
	if err := r.store.Fetch(ctx); err != nil {
		return models.VideoEntry{}, err
	}
	if !r.store.Select(id) {
		return models.VideoEntry{}, fmt.Errorf("%w: video %d", shared.ErrNotFound, id)
	}

	entry, _ := r.store.Snapshot().Selected()
	return entry, nil
}

// ExportVideos writes the catalog to a file.
func (r *Runner) ExportVideos(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	state, err := r.loadCatalog(ctx, cmd.Bool("cached"))
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(r.fs, format, state.Entries, cmd.String("output"))
	if err != nil {
		return err
	}
	return r.writePlainln("✓ Exported %s to %s", formatter.Summary(state.Entries), path)
}

// UploadHistory prints the recorded upload outcomes.
func (r *Runner) UploadHistory(ctx context.Context, cmd *cli.Command) error {
	limit, err := intFlag(cmd, "limit", 0)
	if err != nil {
		return err
	}
	keep, err := intFlag(cmd, "keep", 0)
	if err != nil {
		return err
	}

	if err := r.connect(); err != nil {
		return err
	}
	if r.history == nil {
		return fmt.Errorf("%w: no local cache configured (database.path)", shared.ErrMissingConfig)
	}

	if keep > 0 {
		removed, err := r.history.Prune(ctx, keep)
		if err != nil {
			return err
		}
		r.logger.Info("pruned upload history", "removed", removed, "kept", keep)
	}

	records, err := r.history.List(ctx, limit)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, true)
	}
	if len(records) == 0 {
		return r.writePlainln("No uploads recorded")
	}

	rows := lo.Map(records, func(rec models.UploadRecord, _ int) []string {
		outcome := string(rec.Status)
		if id, ok := rec.VideoID.Get(); ok {
			outcome = fmt.Sprintf("%s (#%d)", outcome, id)
		} else if rec.Error != "" {
			outcome = fmt.Sprintf("%s: %s", outcome, rec.Error)
		}
		return []string{
			rec.FinishedAt.Local().Format("2006-01-02 15:04"),
			rec.Title,
			rec.FileName,
			outcome,
		}
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FINISHED", "TITLE", "FILE", "OUTCOME").
		Rows(rows...)
	return r.writePlainln("%s", t.String())
}

func parseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: video id is required", shared.ErrMissingArgument)
	}

	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: video id is required", shared.ErrMissingArgument)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid video id %q", shared.ErrInvalidArgument, raw)
	}
	return id, nil
}

// intFlag reads an integer flag with a lower bound.
func intFlag(cmd *cli.Command, name string, least int) (int, error) {
	v := cmd.Int(name)
	if v < least {
		return 0, fmt.Errorf("%w: --%s must be at least %d, got %d", shared.ErrInvalidFlag, name, least, v)
	}
	return v, nil
}
