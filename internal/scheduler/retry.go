package scheduler

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrPermanent marks a job failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent job failure")

func skipRetry(err error) error {
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// Permanent wraps err so the worker does not retry the task.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// retryable lets asynq retry transient failures only.
func retryable(err error) error {
	if err != nil && errors.Is(err, ErrPermanent) {
		return skipRetry(err)
	}
	return err
}
