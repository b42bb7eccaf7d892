package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	contractx "github.com/pattarawat/steward/agent/contract"
)

// callSupervisor races each executor invocation against a per-task
// timeout and retries transient failures with capped exponential backoff.
// Attempt contexts are detached from run cancellation: an in-flight call
// always runs to completion, only new attempts observe the cancel.
type callSupervisor struct {
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	backoffCap time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

type invokeResult struct {
	output any
	err    error
}

func newCallSupervisor(cfg Config) *callSupervisor {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	backoffCap := cfg.RetryBackoffCap
	if backoffCap < backoff {
		backoffCap = backoff
	}
	return &callSupervisor{
		timeout:    cfg.TaskTimeout,
		maxRetries: cfg.MaxRetries,
		backoff:    backoff,
		backoffCap: backoffCap,
		sleep:      sleepCtx,
	}
}

func (s *callSupervisor) invoke(runCtx context.Context, ex contractx.Executor, inv contractx.Invocation) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if err := s.sleep(runCtx, s.backoffFor(attempt)); err != nil {
				return nil, lastErr
			}
		}

		output, err := s.attempt(runCtx, ex, inv)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if !transient(err) || runCtx.Err() != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (s *callSupervisor) attempt(runCtx context.Context, ex contractx.Executor, inv contractx.Invocation) (any, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(runCtx), s.timeout)
	defer cancel()

	resCh := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- invokeResult{err: fmt.Errorf("%w: panic: %v", contractx.ErrExecutor, r)}
			}
		}()
		output, err := ex.Invoke(attemptCtx, inv)
		resCh <- invokeResult{output: output, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s exceeded %s", contractx.ErrExecutorTimeout, ex.Name(), s.timeout)
		}
		return res.output, res.err
	case <-attemptCtx.Done():
		// The call keeps running in its goroutine; the buffered channel
		// lets it finish without leaking.
		return nil, fmt.Errorf("%w: %s exceeded %s", contractx.ErrExecutorTimeout, ex.Name(), s.timeout)
	}
}

func (s *callSupervisor) backoffFor(attempt int) time.Duration {
	d := s.backoff << (attempt - 1)
	if d > s.backoffCap || d <= 0 {
		return s.backoffCap
	}
	return d
}

func transient(err error) bool {
	if errors.Is(err, contractx.ErrExecutorTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func outcomeState(err error) string {
	switch {
	case errors.Is(err, contractx.ErrExecutorTimeout):
		return "timeout"
	case errors.Is(err, contractx.ErrValidation):
		return "rejected"
	default:
		return "error"
	}
}
