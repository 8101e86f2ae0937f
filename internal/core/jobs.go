package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/pagegen/internal/generate"
	"github.com/JonMunkholm/pagegen/internal/history"
	"github.com/JonMunkholm/pagegen/internal/jobcache"
	"github.com/JonMunkholm/pagegen/internal/logging"
	"github.com/google/uuid"
)

// listenerBuffer is the channel size given to each progress subscriber.
const listenerBuffer = 16

type activeJob struct {
	ID     string
	req    GenerateRequest
	cancel context.CancelFunc
	Done   chan struct{}

	mu        sync.Mutex
	progress  JobProgress
	result    *JobResult
	listeners []chan JobProgress
}

// update applies fn to the job's progress and sends the new snapshot to
// every listener. Slow listeners miss the update.
func (job *activeJob) update(fn func(p *JobProgress)) {
	job.mu.Lock()
	defer job.mu.Unlock()

	fn(&job.progress)
	for _, ch := range job.listeners {
		select {
		case ch <- job.progress:
		default:
		}
	}
}

func (job *activeJob) snapshot() JobProgress {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress
}

// finish stores the result, publishes the terminal progress and closes all
// listeners.
func (job *activeJob) finish(res JobResult) {
	job.mu.Lock()
	job.result = &res
	job.progress = res.Progress()
	for _, ch := range job.listeners {
		select {
		case ch <- job.progress:
		default:
		}
		close(ch)
	}
	job.listeners = nil
	job.mu.Unlock()

	close(job.Done)
}

// StartGeneration validates req, loads its template and runs the batch in
// the background. It returns the job ID once a limiter slot is held; use
// SubscribeProgress and JobResult to follow the job.
func (s *Service) StartGeneration(ctx context.Context, req GenerateRequest) (string, error) {
	if err := s.checkRequest(req, 0); err != nil {
		return "", err
	}
	tpl, err := generate.Prepare(ctx, s.store, req.TemplateID)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	jobID := uuid.New().String()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)

	job := &activeJob{
		ID:     jobID,
		req:    req,
		cancel: cancel,
		Done:   make(chan struct{}),
		progress: JobProgress{
			JobID: jobID,
			Phase: PhaseStarting,
			Total: len(req.Rows),
		},
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	logging.WithFields(ctx, "job_id", jobID, "template_id", req.TemplateID).
		Info("generation job started", "rows", len(req.Rows), "source", req.Source)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limiter.Release()
		defer cancel()
		s.runJob(jobCtx, job, batchOf(req, tpl))
	}()

	return jobID, nil
}

func (s *Service) runJob(ctx context.Context, job *activeJob, batch generate.Batch) {
	logger := s.logger.With("job_id", job.ID, "template_id", job.req.TemplateID)
	started := time.Now()

	var (
		result generate.Result
		runErr error
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("generation job panicked", "panic", r)
				runErr = fmt.Errorf("internal error: %v", r)
			}
		}()

		job.update(func(p *JobProgress) { p.Phase = PhaseRunning })
		result, runErr = s.runner.RunChunked(ctx, batch, s.cfg.BatchSize, func(pr generate.Progress) {
			job.update(func(p *JobProgress) {
				p.Processed = pr.Processed
				p.Success = pr.Success
				p.Failed = pr.Failed
			})
		})
	}()

	res := JobResult{
		JobID:      job.ID,
		TemplateID: job.req.TemplateID,
		Source:     job.req.Source,
		Phase:      PhaseComplete,
		Total:      len(batch.Rows),
		Result:     result,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	status := history.StatusComplete
	switch {
	case errors.Is(runErr, context.Canceled):
		res.Phase = PhaseCancelled
		res.Error = FormatUserError(runErr)
		status = history.StatusCancelled
	case runErr != nil:
		res.Phase = PhaseFailed
		res.Error = FormatUserError(runErr)
		status = history.StatusFailed
	}

	job.finish(res)

	// The job context may already be done; bookkeeping gets its own deadline.
	bgCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.recordRun(bgCtx, history.Run{
		ID:         job.ID,
		TemplateID: job.req.TemplateID,
		Source:     job.req.Source,
		Status:     status,
		Total:      res.Total,
		Success:    result.SuccessCount,
		Failed:     result.FailureCount,
		Errors:     result.Errors,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	})
	s.cacheResult(bgCtx, res)
	s.cleanup(job.ID, s.cfg.ResultTTL)

	logger.Info("generation job finished",
		"phase", res.Phase,
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"duration", res.Duration(),
	)
}

func (s *Service) cacheResult(ctx context.Context, res JobResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.logger.Warn("encode job result failed", "job_id", res.JobID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, res.JobID, data, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache job result failed", "job_id", res.JobID, "error", err)
	}
}

// cleanup removes the job from tracking after a delay.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

func (s *Service) job(jobID string) (*activeJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// SubscribeProgress returns a channel that receives progress updates. The
// current progress is sent immediately and the channel is closed when the
// job finishes.
func (s *Service) SubscribeProgress(jobID string) (<-chan JobProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobProgress, listenerBuffer)

	job.mu.Lock()
	defer job.mu.Unlock()

	ch <- job.progress
	if job.result != nil {
		close(ch)
		return ch, nil
	}
	job.listeners = append(job.listeners, ch)
	return ch, nil
}

// CancelJob cancels a running job. Rows already created are kept.
func (s *Service) CancelJob(jobID string) error {
	job, err := s.job(jobID)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

// JobProgress returns the current progress without blocking.
func (s *Service) JobProgress(jobID string) (JobProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return JobProgress{}, err
	}
	return job.snapshot(), nil
}

// JobResult returns a job's final result, blocking until it finishes or ctx
// is done. Jobs that have left memory are looked up in the cache.
func (s *Service) JobResult(ctx context.Context, jobID string) (JobResult, error) {
	job, err := s.job(jobID)
	if errors.Is(err, ErrJobNotFound) {
		return s.cachedResult(ctx, jobID)
	}
	if err != nil {
		return JobResult{}, err
	}

	select {
	case <-job.Done:
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return *job.result, nil
}

func (s *Service) cachedResult(ctx context.Context, jobID string) (JobResult, error) {
	if s.cache == nil {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	data, err := s.cache.Get(ctx, jobID)
	if errors.Is(err, jobcache.ErrMiss) {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return JobResult{}, fmt.Errorf("read cached result: %w", err)
	}

	var res JobResult
	if err := json.Unmarshal(data, &res); err != nil {
		return JobResult{}, fmt.Errorf("decode cached result: %w", err)
	}
	return res, nil
}
