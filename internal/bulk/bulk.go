// Package bulk applies one single-item operation to an ordered batch and
// aggregates per-item outcomes. A failing item never stops the others.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"crm_backend/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ErrorKind classifies a failed item.
type ErrorKind string

const (
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindValidation    ErrorKind = "VALIDATION"
	KindAlreadyExists ErrorKind = "ALREADY_EXISTS"
	KindInternal      ErrorKind = "INTERNAL"
	KindCanceled      ErrorKind = "CANCELED"
)

// ItemError reports the failure of the item at Index.
type ItemError struct {
	Index    int        `json:"index"`
	Kind     ErrorKind  `json:"kind"`
	Error    string     `json:"error"`
	EntityID *uuid.UUID `json:"entityId,omitempty"`
}

// Result is the outcome of a batch. Errors are ordered by Index.
type Result struct {
	Success        bool        `json:"success"`
	ProcessedCount int         `json:"processedCount"`
	SuccessCount   int         `json:"successCount"`
	FailedCount    int         `json:"failedCount"`
	Errors         []ItemError `json:"errors"`
	// Canceled is set when the context ended before every item was attempted.
	// ProcessedCount then counts only the attempted items.
	Canceled bool `json:"canceled,omitempty"`
}

// Op runs the operation for one item.
type Op[T any] func(ctx context.Context, index int, item T) error

// Options tune batch execution.
type Options struct {
	// Concurrency is the number of items processed at once. Values below 2
	// process items sequentially in input order.
	Concurrency int
}

// CheckSize rejects batches larger than max before any item runs.
func CheckSize(n, max int) error {
	if max > 0 && n > max {
		return apperr.Validation(fmt.Sprintf("batch of %d items exceeds the limit of %d", n, max)).
			WithDetails(map[string]interface{}{"items": n, "maxItems": max})
	}
	return nil
}

// Run applies op to every item and returns the aggregated result.
func Run[T any](ctx context.Context, items []T, opts Options, op Op[T]) Result {
	outcomes := make([]outcome, len(items))

	if opts.Concurrency < 2 {
		for i, item := range items {
			if ctx.Err() != nil {
				break
			}
			outcomes[i] = outcome{attempted: true, err: op(ctx, i, item)}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i, item := range items {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				outcomes[i] = outcome{attempted: true, err: op(ctx, i, item)}
				return nil
			})
		}
		_ = g.Wait()
	}

	return collect(outcomes)
}

type outcome struct {
	attempted bool
	err       error
}

func collect(outcomes []outcome) Result {
	res := Result{Errors: []ItemError{}}
	for i, o := range outcomes {
		if !o.attempted {
			res.Canceled = true
			continue
		}
		res.ProcessedCount++
		if o.err == nil {
			res.SuccessCount++
			continue
		}
		res.FailedCount++
		res.Errors = append(res.Errors, newItemError(i, o.err))
	}
	res.Success = res.FailedCount == 0 && !res.Canceled
	return res
}

type entityError struct {
	err error
	id  uuid.UUID
}

func (e *entityError) Error() string { return e.err.Error() }
func (e *entityError) Unwrap() error { return e.err }

// WithEntity attaches the affected entity id to an item error.
func WithEntity(err error, id uuid.UUID) error {
	if err == nil {
		return nil
	}
	return &entityError{err: err, id: id}
}

func newItemError(index int, err error) ItemError {
	ie := ItemError{Index: index, Kind: Classify(err), Error: err.Error()}
	if e, ok := apperr.As(err); ok {
		ie.Error = e.Message
	}
	var ee *entityError
	if errors.As(err, &ee) {
		id := ee.id
		ie.EntityID = &id
	}
	return ie
}

// Classify maps an error to an item error kind.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	switch apperr.GetKind(err) {
	case apperr.KindNotFound:
		return KindNotFound
	case apperr.KindValidation, apperr.KindBadRequest, apperr.KindInvalidTransition, apperr.KindPrecondition:
		return KindValidation
	case apperr.KindConflict:
		return KindAlreadyExists
	default:
		return KindInternal
	}
}
