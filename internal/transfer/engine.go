package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/cowatch/internal/models"
	"github.com/desertthunder/cowatch/internal/services"
	"github.com/desertthunder/cowatch/internal/shared"
)

const (
	defaultBuffer   = 32
	maxResponseBody = 1 << 20
)

// EngineOpts configures an [Engine].
type EngineOpts struct {
	Client           *http.Client
	Endpoint         string        // absolute upload URL
	ProgressInterval time.Duration // minimum spacing of progress events, 0 for none
	Buffer           int           // event channel capacity
	Logger           *log.Logger
}

// Engine starts uploads against a single endpoint.
type Engine struct {
	client   *http.Client
	endpoint string
	interval time.Duration
	buffer   int
	logger   *log.Logger
}

// NewEngine creates an Engine, filling in defaults for a nil client, logger and buffer.
func NewEngine(opts EngineOpts) *Engine {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	return &Engine{
		client:   opts.Client,
		endpoint: opts.Endpoint,
		interval: opts.ProgressInterval,
		buffer:   opts.Buffer,
		logger:   opts.Logger,
	}
}

func (e *Engine) newLimiter() *rate.Limiter {
	if e.interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.interval), 1)
}

// Start validates the form and begins streaming it to the endpoint.
//
// Validation and file-open errors are returned directly and no request is made.
// Everything after that is reported on the returned Transfer's event stream.
func (e *Engine) Start(ctx context.Context, fields []Field) (Transfer, error) {
	file, err := validate(fields)
	if err != nil {
		return nil, err
	}

	body, err := newMultipartBody(fields, file)
	if err != nil {
		return nil, err
	}

	rc, err := body.Open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(shared.GenerateID(), e.buffer, e.newLimiter(), cancel)

	total := body.Len()
	pr := &progressReader{ReadCloser: rc, total: total, report: h.progress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, pr)
	if err != nil {
		cancel()
		rc.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", body.contentType)
	req.Header.Set("Accept", "application/json")

	logger := shared.WithLogger(e.logger, "transfer", h.id)
	logger.Debug("upload started", "endpoint", e.endpoint, "file", file.File.Name(), "length", total)

	go e.run(ctx, h, req, logger)
	return h, nil
}

func (e *Engine) run(ctx context.Context, h *handle, req *http.Request, logger *log.Logger) {
	defer close(h.done)
	defer h.cancel()

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			if h.finish(failure(ReasonAborted, fmt.Errorf("%w: %w", shared.ErrAborted, ctx.Err()))) {
				logger.Info("upload aborted")
			} else {
				logger.Debug("upload cancelled by subscriber")
			}
			return
		}

		logger.Warn("upload failed", "reason", ReasonNetwork, "error", err)
		h.finish(failure(ReasonNetwork, fmt.Errorf("%w: %w", shared.ErrNetwork, err)))
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Debug("failed to read upload response", "error", err)
	}

	if resp.StatusCode != http.StatusCreated {
		statusErr := services.NewStatusError(resp, data)
		logger.Warn("upload rejected", "status", resp.StatusCode)
		h.finish(failure(ReasonRejected, statusErr))
		return
	}

	ev := Event{Kind: KindSuccess}
	var entry models.VideoEntry
	if json.Unmarshal(data, &entry) == nil && entry.ID != 0 {
		ev.Entry = &entry
	}

	if h.finish(ev) {
		logger.Info("upload complete", "status", resp.StatusCode)
	}
}

func failure(reason Reason, err error) Event {
	return Event{Kind: KindFailure, Reason: reason, Err: err}
}
