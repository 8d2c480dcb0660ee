package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/shared"
)

// Setup writes a config file when none exists and initializes the local cache.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if exists, _ := afero.Exists(r.fs, configPath); !exists {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(r.fs, configPath); err != nil {
			return err
		}
		if err := r.writePlainln("✓ Created %s", configPath); err != nil {
			return err
		}
	}

	if r.config.Database.Path == "" {
		return r.writePlainln("Local cache disabled (database.path is empty)")
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := r.database()
	if err != nil {
		return err
	}

	versions, err := shared.AppliedVersions(db)
	if err != nil {
		return err
	}

	applied := strings.Join(lo.Map(versions, func(v int, _ int) string { return fmt.Sprintf("%04d", v) }), ", ")
	return r.writePlainln("✓ Local cache ready at %s (migrations: %s)", r.config.Database.Path, applied)
}

// Status checks that the configured server is reachable.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(); err != nil {
		return err
	}

	health, err := r.videos.Health(ctx)
	if err != nil {
		return fmt.Errorf("server at %s is unreachable: %w", r.videos.BaseURL(), err)
	}

	if !health.OK() {
		return fmt.Errorf("%w: server at %s reports status %q", shared.ErrRejected, r.videos.BaseURL(), health.Status)
	}
	return r.writePlainln("✓ %s is %s", r.videos.BaseURL(), health.Status)
}
