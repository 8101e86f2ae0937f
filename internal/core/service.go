package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/pagegen/internal/config"
	"github.com/JonMunkholm/pagegen/internal/content"
	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/history"
	"github.com/JonMunkholm/pagegen/internal/jobcache"
	"github.com/JonMunkholm/pagegen/internal/placeholder"
	"github.com/JonMunkholm/pagegen/internal/render"
	"github.com/google/uuid"
)

// Options configures a Service. Only Store is required.
type Options struct {
	Store   content.Store
	History history.Store
	// Cache keeps finished job results after they leave memory. Optional.
	Cache  jobcache.Cache
	Runner *generate.Runner
	Config config.GenerateConfig
	Logger *slog.Logger
}

// Service provides the page generation workflow.
type Service struct {
	store   content.Store
	history history.Store
	cache   jobcache.Cache
	runner  *generate.Runner
	cfg     config.GenerateConfig
	limiter *JobLimiter
	logger  *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*activeJob
	wg   sync.WaitGroup
}

// NewService creates a new Service. Zero config values fall back to the
// package defaults.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("core: content store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := withDefaults(opts.Config)

	runner := opts.Runner
	if runner == nil {
		runner = generate.NewRunner(opts.Store, logger)
	}

	hist := opts.History
	if hist == nil {
		hist = history.NewMemStore(history.DefaultLimit)
	}

	return &Service{
		store:   opts.Store,
		history: hist,
		cache:   opts.Cache,
		runner:  runner,
		cfg:     cfg,
		limiter: NewJobLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		logger:  logger,
		jobs:    make(map[string]*activeJob),
	}, nil
}

func withDefaults(cfg config.GenerateConfig) config.GenerateConfig {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = generate.DefaultChunkSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrentJobs
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = DefaultMaxWaitTime
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 15 * time.Minute
	}
	if cfg.CacheTTL < cfg.ResultTTL {
		cfg.CacheTTL = max(24*time.Hour, cfg.ResultTTL)
	}
	return cfg
}

// Config returns the effective generation settings.
func (s *Service) Config() config.GenerateConfig {
	return s.cfg
}

// ListTemplates returns the pages that can be used as a template, ordered
// by title.
func (s *Service) ListTemplates(ctx context.Context) ([]content.Page, error) {
	pages, err := s.store.ListPages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return pages, nil
}

// ScanTemplate returns the placeholders found in a template's title and raw
// body. The debug section also scans the sanitized body so the two can be
// compared.
func (s *Service) ScanTemplate(ctx context.Context, id content.PageID) (ScanResult, error) {
	tpl, err := generate.Prepare(ctx, s.store, id)
	if err != nil {
		return ScanResult{}, err
	}

	raw := placeholder.Scan(tpl.Title).Union(placeholder.Scan(tpl.Body))
	names := raw.Sorted()
	rendered := s.runner.Sanitizer.Body(tpl.Body)
	renderedSet := placeholder.Scan(tpl.Title).Union(placeholder.Scan(rendered))

	return ScanResult{
		TemplateID:   id,
		Placeholders: names,
		Debug: ScanDebug{
			RawBodyLength:      len(tpl.Body),
			RenderedBodyLength: len(rendered),
			Title:              tpl.Title,
			PlaceholderCount:   len(names),
			RenderedOnly:       renderedSet.Difference(raw).Sorted(),
		},
	}, nil
}

// Preview renders one row against a template without creating anything.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	tpl, err := generate.Prepare(ctx, s.store, req.TemplateID)
	if err != nil {
		return PreviewResult{}, err
	}

	out := render.Render(tpl, req.Mapping, req.Row)
	headers := make([]string, 0, len(req.Row))
	for col := range req.Row {
		headers = append(headers, col)
	}

	var unmapped []string
	for _, name := range tpl.Placeholders() {
		if _, ok := req.Mapping[name]; !ok {
			unmapped = append(unmapped, name)
		}
	}

	return PreviewResult{
		Title:          s.runner.Sanitizer.Title(out.Title),
		Body:           s.runner.Sanitizer.Body(out.Body),
		Slug:           s.runner.SlugFor(req.Slug, req.Row, out.Title),
		Meta:           s.runner.MetaValues(req.Meta, req.Row),
		Unmapped:       unmapped,
		MissingColumns: req.Mapping.Missing(headers),
	}, nil
}

// checkRequest rejects requests the service will not run. Input validation
// runs before the template is looked up.
func (s *Service) checkRequest(req GenerateRequest, maxRows int) error {
	if err := generate.Validate(batchOf(req, render.Template{})); err != nil {
		return err
	}
	if maxRows > 0 && len(req.Rows) > maxRows {
		return fmt.Errorf("%w: %d rows exceeds the limit of %d", ErrInvalidRequest, len(req.Rows), maxRows)
	}
	if req.Slug.ParentID < 0 {
		return fmt.Errorf("%w: parent id must not be negative", ErrInvalidRequest)
	}
	return nil
}

func batchOf(req GenerateRequest, tpl render.Template) generate.Batch {
	return generate.Batch{
		Template: tpl,
		Mapping:  req.Mapping,
		Rows:     req.Rows,
		Slug:     req.Slug,
		Meta:     req.Meta,
	}
}

// Generate runs a batch to completion in the caller's goroutine. Row
// failures are reported in the result. The error is non-nil when the batch
// could not start, or when ctx ended first; then the partial result is
// returned and recorded.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (generate.Result, error) {
	if err := s.checkRequest(req, s.cfg.MaxRowsPerRequest); err != nil {
		return generate.Result{}, err
	}
	tpl, err := generate.Prepare(ctx, s.store, req.TemplateID)
	if err != nil {
		return generate.Result{}, err
	}

	started := time.Now()
	result, runErr := s.runner.Run(ctx, batchOf(req, tpl))

	status := history.StatusComplete
	switch {
	case errors.Is(runErr, context.Canceled):
		status = history.StatusCancelled
	case runErr != nil:
		status = history.StatusFailed
	}

	// ctx may be done; the run is still recorded.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	s.recordRun(recCtx, history.Run{
		ID:         uuid.New().String(),
		TemplateID: req.TemplateID,
		Source:     req.Source,
		Status:     status,
		Total:      len(req.Rows),
		Success:    result.SuccessCount,
		Failed:     result.FailureCount,
		Errors:     result.Errors,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})

	if runErr != nil {
		s.logger.Warn("generation stopped",
			"template_id", req.TemplateID,
			"source", req.Source,
			"success", result.SuccessCount,
			"failed", result.FailureCount,
			"error", runErr,
		)
		return result, runErr
	}

	s.logger.Info("generation complete",
		"template_id", req.TemplateID,
		"source", req.Source,
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"duration", time.Since(started),
	)
	return result, nil
}

// History returns recent runs, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]history.Run, error) {
	runs, err := s.history.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *Service) recordRun(ctx context.Context, run history.Run) {
	if err := s.history.RecordRun(ctx, run); err != nil {
		s.logger.Warn("record run failed", "run_id", run.ID, "error", err)
	}
}

// LimiterStatus returns the job limiter's current state.
func (s *Service) LimiterStatus() JobLimiterStatus {
	return s.limiter.Status()
}

// WaitForJobs blocks until all background jobs finish or ctx is done.
func (s *Service) WaitForJobs(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every running job.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, job := range s.jobs {
		job.cancel()
	}
}
