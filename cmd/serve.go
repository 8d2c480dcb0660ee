package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/server"
)

// Serve runs a local video service for development and demos.
//
// Media is kept in memory unless --data names a directory. The catalog itself is
// not persisted across restarts.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	fs := afero.NewMemMapFs()
	if dir := cmd.String("data"); dir != "" {
		base := afero.NewOsFs()
		if err := base.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		fs = afero.NewBasePathFs(base, dir)
	}

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}

	videos := server.NewVideoServer(server.VideoServerOpts{
		Fs:            fs,
		MaxUploadSize: cmd.Int64("max-upload"),
		Logger:        r.logger,
	})

	r.logger.Info("serving videos", "addr", addr, "data", cmd.String("data"))
	return server.ListenAndServe(ctx, addr, server.NewHandler(videos, r.logger), r.logger)
}
