package main

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/shared"
	"github.com/desertthunder/cowatch/internal/ui"
	"github.com/desertthunder/cowatch/internal/upload"
)

// TUI launches the interactive terminal UI.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Logs go to a file, or nowhere, so they do not interfere with rendering.
	tuiLogger := shared.NewLogger(io.Discard)
	if path := r.config.Log.File; path != "" {
		fileLogger, closer, err := shared.NewFileLogger(path)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		r.closers = append(r.closers, closer)
		tuiLogger = fileLogger
	}
	shared.SetLogLevel(tuiLogger, r.logger.GetLevel())
	r.SetLogger(tuiLogger)

	if err := r.connect(); err != nil {
		return err
	}
	if err := r.store.Restore(ctx); err != nil {
		r.logger.Warn("could not restore offline copy", "error", err)
	}

	model := ui.NewModel(ctx, ui.Options{
		Catalog:  r.store,
		Uploader: r.coordinator,
		Resolve:  r.videos.ResolveURL,
		Play:     r.openURL,
		OpenFile: func(path string) (models.File, error) {
			return upload.OpenFile(r.fs, path)
		},
		Logger: r.logger,
	})
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
