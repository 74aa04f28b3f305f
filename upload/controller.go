package upload

import (
	"context"
	"errors"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/llm-gateway/go-fileupload/transfer"
	"github.com/llm-gateway/go-fileupload/upload/network"
)

// DefaultMaxAttempts is the attempt budget of a run when none is given.
const DefaultMaxAttempts = 3

// DefaultBackoff is the wait before the second and third attempts. Later
// attempts reuse the last value.
var DefaultBackoff = []time.Duration{time.Second, 2 * time.Second}

// RunOptions ...
type RunOptions struct {
	// MaxAttempts is the number of driver attempts allowed, including the first
	// one. Values below 1 mean a single attempt.
	MaxAttempts int
	// Backoff is indexed by retry number; the last value is reused once the
	// schedule is exhausted. An empty schedule retries immediately.
	Backoff []time.Duration
	// AttemptTimeout bounds a single attempt. Zero means no limit.
	AttemptTimeout time.Duration

	// Prepare runs once the run owns the unit's ID, before the first attempt.
	// A *transfer.ClassifiedError fails the unit without any attempt; other
	// errors are returned as they are and leave the unit to the caller.
	Prepare func(*transfer.Unit) error

	OnProgress func(transfer.Progress)
	// OnComplete is called exactly once when the unit reaches a terminal state.
	OnComplete func(*transfer.Unit)
}

// Controller drives a unit through repeated driver attempts until it
// completes, fails for good or is cancelled.
type Controller struct {
	driver   network.Driver
	registry *Registry
	tracker  transferTracker
	logger   log.Logger

	wait func(ctx context.Context, d time.Duration) error
	now  func() time.Time
}

// NewController creates a controller. registry defaults to DefaultRegistry;
// tracker may be nil.
func NewController(driver network.Driver, registry *Registry, tracker analytics.Tracker, logger log.Logger) *Controller {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Controller{
		driver:   driver,
		registry: registry,
		tracker:  newTransferTracker(tracker, logger),
		logger:   logger,
		wait:     sleep,
		now:      time.Now,
	}
}

// Run uploads unit and blocks until it reaches a terminal state.
//
// The returned error is the unit's final *transfer.ClassifiedError when the
// unit failed, ErrAlreadyActive when another run owns unit's ID, and nil when
// the unit completed or was cancelled. On ErrAlreadyActive the unit is left
// untouched and OnComplete is not called. If another run takes the ID between
// two attempts, the unit fails with the error of the last attempt.
func (c *Controller) Run(ctx context.Context, unit *transfer.Unit, opts RunOptions) (*transfer.Unit, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	startedAt := c.now()

	for attempt := 1; ; attempt++ {
		// The registration covers the backoff wait and the attempt, so Cancel
		// also stops an attempt that has not started yet.
		attemptCtx, cancel := context.WithCancel(ctx)
		if err := c.registry.Register(unit.ID, cancel); err != nil {
			cancel()
			if attempt == 1 {
				return unit, err
			}
			c.logger.Warnf("%s was started by another run, not retrying", unit.Source.Name)
			unit.Failed(unit.Error, c.now())
			return c.finish(unit, startedAt, opts)
		}

		if attempt == 1 {
			if opts.Prepare != nil {
				if err := opts.Prepare(unit); err != nil {
					c.registry.Unregister(unit.ID)
					cancel()

					var classified *transfer.ClassifiedError
					if !errors.As(err, &classified) {
						return unit, err
					}
					unit.Attempts = 0
					unit.Failed(classified, c.now())
					return c.finish(unit, startedAt, opts)
				}
			}
			unit.StartedAt = &startedAt
		} else {
			delay := backoffDelay(opts.Backoff, attempt)
			c.logger.Debugf("Waiting %s before attempt %d of %s", delay, attempt, unit.Source.Name)
			if err := c.wait(attemptCtx, delay); err != nil {
				c.registry.Unregister(unit.ID)
				cancel()
				unit.Cancelled(c.now())
				return c.finish(unit, startedAt, opts)
			}
		}

		result, err := c.attempt(attemptCtx, unit, attempt, opts)

		c.registry.Unregister(unit.ID)
		cancelled := errors.Is(attemptCtx.Err(), context.Canceled)
		cancel()

		if err == nil {
			unit.Succeeded(result.ServerReference, result.Metadata, c.now())
			return c.finish(unit, startedAt, opts)
		}

		classified := transfer.Classify(err, unit.ID, unit.Source.Name)
		if cancelled || classified.Kind == transfer.KindCancelled {
			unit.Cancelled(c.now())
			return c.finish(unit, startedAt, opts)
		}

		unit.Error = classified
		if !classified.IsRetryable || attempt >= maxAttempts || ctx.Err() != nil {
			unit.Failed(classified, c.now())
			return c.finish(unit, startedAt, opts)
		}

		c.logger.Warnf("Attempt %d/%d of %s failed: %s", attempt, maxAttempts, unit.Source.Name, classified)
	}
}

func (c *Controller) attempt(ctx context.Context, unit *transfer.Unit, attempt int, opts RunOptions) (network.Result, error) {
	unit.Status = transfer.StatusUploading
	unit.Error = nil
	unit.Attempts = attempt

	if opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()
	}

	onProgress := func(s transfer.Sample) {
		if opts.OnProgress == nil {
			return
		}
		p := transfer.Estimate(s)
		p.Attempt = attempt
		opts.OnProgress(p)
	}

	c.logger.Debugf("Attempt %d of %s (%s)", attempt, unit.Source.Name, unit.ID)
	attemptStart := c.now()
	result, err := c.driver.Attempt(ctx, unit, onProgress)
	c.logger.Debugf("Attempt %d of %s took %s", attempt, unit.Source.Name, c.now().Sub(attemptStart).Round(time.Millisecond))

	return result, err
}

func (c *Controller) finish(unit *transfer.Unit, startedAt time.Time, opts RunOptions) (*transfer.Unit, error) {
	duration := c.now().Sub(startedAt)

	var err error
	switch unit.Status {
	case transfer.StatusCompleted:
		c.logger.Donef("Uploaded %s in %s", unit.Source.Name, duration.Round(time.Millisecond))
	case transfer.StatusCancelled:
		c.logger.Infof("Upload of %s cancelled", unit.Source.Name)
	case transfer.StatusFailed:
		c.logger.Errorf("Upload of %s failed after %d attempt(s): %s", unit.Source.Name, unit.Attempts, unit.Error)
		err = unit.Error
	}

	c.tracker.logFinished(unit, duration)
	if opts.OnComplete != nil {
		opts.OnComplete(unit)
	}

	return unit, err
}

// backoffDelay returns the wait before the given 1-indexed attempt.
func backoffDelay(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 || attempt < 2 {
		return 0
	}
	i := attempt - 2
	if i > len(schedule)-1 {
		i = len(schedule) - 1
	}
	return schedule[i]
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
