package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/cowatch/internal/catalog"
	"github.com/desertthunder/cowatch/internal/repositories"
	"github.com/desertthunder/cowatch/internal/services"
	"github.com/desertthunder/cowatch/internal/shared"
	"github.com/desertthunder/cowatch/internal/transfer"
	"github.com/desertthunder/cowatch/internal/upload"
)

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// PromptConfirmer reads a y/N answer from a line-oriented reader.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptConfirmer creates a PromptConfirmer asking on out and reading from in.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm accepts "y" or "yes" in any case. Anything else, including EOF, declines.
func (p *PromptConfirmer) Confirm(prompt string) (bool, error) {
	if _, err := fmt.Fprintf(p.out, "%s [y/N]: ", prompt); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Client-side components are built lazily by [Runner.connect] once the configuration is known.
type Runner struct {
	config     *shared.Config
	logger     *log.Logger
	output     io.Writer
	fs         afero.Fs
	httpClient *http.Client
	confirmer  Confirmer
	openURL    func(string) error

	videos      *services.VideoService
	store       *catalog.Store
	coordinator *upload.Coordinator
	history     *repositories.UploadHistoryRepository
	db          *sql.DB
	closers     []io.Closer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config // skips loading --config when set
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Fs         afero.Fs
	Confirmer  Confirmer
	OpenURL    func(string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Confirmer == nil {
		opts.Confirmer = NewPromptConfirmer(opts.Input, opts.Output)
	}
	if opts.OpenURL == nil {
		opts.OpenURL = shared.OpenURL
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		fs:         opts.Fs,
		confirmer:  opts.Confirmer,
		openURL:    opts.OpenURL,
	}
}

// Before loads configuration and applies the global flags.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if err := r.loadConfig(cmd.String("config")); err != nil {
		return ctx, err
	}

	if api := cmd.String("api"); api != "" {
		r.config.API.BaseURL = api
		if err := r.config.Validate(); err != nil {
			return ctx, err
		}
	}

	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	} else {
		shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))
	}
	return ctx, nil
}

// After releases everything [Runner.connect] opened.
func (r *Runner) After(ctx context.Context, cmd *cli.Command) error {
	r.Close()
	return nil
}

// Close stops the catalog store and closes the database and log files.
func (r *Runner) Close() {
	if r.store != nil {
		r.store.Close()
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.logger.Warn("failed to close resource", "error", err)
		}
	}
	r.closers = nil
}

func (r *Runner) loadConfig(path string) error {
	if r.config != nil {
		return nil
	}

	if path != "" {
		if exists, _ := afero.Exists(r.fs, path); exists {
			config, err := shared.LoadConfig(r.fs, path)
			if err != nil {
				return err
			}
			r.config = config
			r.logger.Debug("loaded config", "path", path)
			return nil
		}
	}

	r.logger.Debug("config file not found, using defaults", "path", path)
	r.config = shared.DefaultConfig()
	return nil
}

// SetLogger replaces the runner's logger, e.g. to keep logs out of the TUI.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// database opens the local cache, or returns nil when database.path is empty.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil || r.config.Database.Path == "" {
		return r.db, nil
	}

	db, err := shared.OpenMigrated(r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache: %w", err)
	}
	r.db = db
	r.closers = append(r.closers, db)
	return db, nil
}

// connect builds the video service, catalog store and upload coordinator.
//
// A local cache that cannot be opened is logged and skipped.
func (r *Runner) connect() error {
	if r.videos != nil {
		return nil
	}

	client := r.httpClient
	if client == nil {
		client = &http.Client{Timeout: r.config.API.Timeout()}
	}

	videos, err := services.NewVideoService(r.config.API.BaseURL, client)
	if err != nil {
		return err
	}

	catalogOpts := catalog.Options{Logger: r.logger}
	uploadOpts := upload.Options{Logger: r.logger}

	db, err := r.database()
	switch {
	case err != nil:
		r.logger.Warn("continuing without local cache", "error", err)
	case db != nil:
		catalogOpts.Snapshots = repositories.NewCatalogRepository(db)
		r.history = repositories.NewUploadHistoryRepository(db)
		uploadOpts.Recorder = r.history
	}

	engine := transfer.NewEngine(transfer.EngineOpts{
		Client:           client,
		Endpoint:         videos.UploadURL(),
		ProgressInterval: r.config.Upload.ProgressInterval(),
		Logger:           r.logger,
	})

	r.videos = videos
	r.store = catalog.New(videos, catalogOpts)
	r.coordinator = upload.NewCoordinator(engine, r.store, uploadOpts)

	r.logger.Debug("connected", "api", videos.BaseURL())
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
