package job

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jittakal/kafbridge/internal/errors"
	"github.com/jittakal/kafbridge/pkg/metastore"
	"github.com/jittakal/kafbridge/pkg/segment"
)

// RetryConfig controls how retryable step failures are retried.
type RetryConfig struct {
	// MaxAttempts counts the first attempt; values below 1 mean 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// Backoff returns the wait before retry number attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if c.InitialBackoff <= 0 {
		return 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter {
		half := d / 2
		d = half + rand.Float64()*half
	}
	return time.Duration(d)
}

// MetricsCollector defines metrics operations for the runner.
type MetricsCollector interface {
	ObserveStep(step string, outcome string, duration float64)
	IncStepRetries(step string)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Attempts int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a job.
type Result struct {
	JobID     string
	SegmentID string
	State     State
	Steps     []StepResult
}

// Runner is a local scheduler: it runs the steps of one segment in order,
// retrying retryable failures, while holding the segment's build claim.
type Runner struct {
	store   metastore.Store
	retry   RetryConfig
	logger  *slog.Logger
	metrics MetricsCollector
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(store metastore.Store, retry RetryConfig, logger *slog.Logger, metrics MetricsCollector) *Runner {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Runner{
		store:   store,
		retry:   retry,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Run walks steps through the state machine from PENDING to DONE.
func (r *Runner) Run(ctx context.Context, params Params, steps ...Step) (*Result, error) {
	if err := validateSequence(steps); err != nil {
		return nil, err
	}
	return r.execute(ctx, params, steps)
}

// RunStep runs a single step for an external scheduler that owns the
// sequencing.
func (r *Runner) RunStep(ctx context.Context, params Params, step Step) (*Result, error) {
	return r.execute(ctx, params, []Step{step})
}

func (r *Runner) execute(ctx context.Context, params Params, steps []Step) (*Result, error) {
	if err := params.Require(ParamSegmentID); err != nil {
		return nil, err
	}
	params = cloneParams(params)
	if params[ParamJobID] == "" {
		params[ParamJobID] = NewJobID()
	}
	segmentID, jobID := params[ParamSegmentID], params[ParamJobID]
	logger := r.logger.With("segment_id", segmentID, "job_id", jobID)

	if err := r.store.ClaimBuild(ctx, segmentID, jobID); err != nil {
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseBuild(context.WithoutCancel(ctx), segmentID, jobID); err != nil {
			logger.Warn("failed to release build claim", "error", err)
		}
	}()

	result := &Result{JobID: jobID, SegmentID: segmentID, State: StatePending}
	for _, step := range steps {
		result.State = step.State()
		logger.Info("running step", "step", step.Name(), "state", step.State())

		sr := r.runStep(ctx, logger, params, step)
		result.Steps = append(result.Steps, sr)
		if sr.Err != nil {
			result.State = StateFailed
			r.markFailed(ctx, logger, segmentID, step)
			logger.Error("step failed", "step", step.Name(), "attempts", sr.Attempts, "error", sr.Err)
			return result, &errors.StepError{Step: step.Name(), SegmentID: segmentID, Err: sr.Err}
		}
	}

	if result.State == StateFinalizeTimeRange {
		result.State = StateDone
	}
	logger.Info("job finished", "state", result.State)
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, logger *slog.Logger, params Params, step Step) StepResult {
	sr := StepResult{Name: step.Name()}
	start := time.Now()

	for {
		sr.Attempts++
		attemptStart := time.Now()
		err := step.Execute(ctx, params)
		r.observe(step.Name(), outcome(err), time.Since(attemptStart))

		if err == nil {
			sr.Duration = time.Since(start)
			return sr
		}
		if ctx.Err() != nil || !errors.IsRetryable(err) || sr.Attempts >= r.retry.MaxAttempts {
			sr.Err = err
			sr.Duration = time.Since(start)
			return sr
		}

		wait := r.retry.Backoff(sr.Attempts)
		logger.Warn("retrying step",
			"step", step.Name(),
			"attempt", sr.Attempts,
			"backoff", wait,
			"error", err,
		)
		if r.metrics != nil {
			r.metrics.IncStepRetries(step.Name())
		}
		if err := r.sleep(ctx, wait); err != nil {
			sr.Err = err
			sr.Duration = time.Since(start)
			return sr
		}
	}
}

// markFailed records the failure on the segment. Sealed offsets stay sealed,
// so a segment that was already materialized keeps its status.
func (r *Runner) markFailed(ctx context.Context, logger *slog.Logger, segmentID string, step Step) {
	ctx = context.WithoutCancel(ctx)
	seg, err := r.store.GetSegment(ctx, segmentID)
	if err != nil {
		logger.Warn("failed to load segment after step failure", "error", err)
		return
	}
	if seg.Status.Sealed() {
		return
	}
	if err := r.store.UpdateStatus(ctx, segmentID, segment.StatusFailed, step.Name()); err != nil {
		logger.Warn("failed to mark segment failed", "error", err)
	}
}

func (r *Runner) observe(step, outcome string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveStep(step, outcome, d.Seconds())
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.IsRetryable(err):
		return "retryable"
	case errors.IsFatal(err):
		return "fatal"
	default:
		return "failed"
	}
}

func cloneParams(p Params) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
