// Package saga runs ordered steps that each pair an action with a
// compensation, unwinding completed steps in reverse when a later step fails.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Step is one unit of a saga. Compensate may be nil for steps with nothing
// to undo, typically the last one.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Options tunes how compensation runs.
type Options struct {
	// CompensationTimeout bounds the whole unwind. Zero means no bound.
	CompensationTimeout time.Duration
	// Logf receives compensation failures. Nil discards them.
	Logf func(format string, args ...any)
}

// StepError reports the step whose action failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("saga step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// CompensationError reports steps whose compensation also failed. The saga
// is then only partially rolled back.
type CompensationError struct {
	Failed []string
	Err    error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga compensation failed for %v: %v", e.Failed, e.Err)
}

func (e *CompensationError) Unwrap() error {
	return e.Err
}

// Run executes steps in order. When an action fails, the compensations of
// all previously completed steps run in reverse order and the returned error
// wraps the failing step's error. Compensation runs on a context detached
// from ctx cancellation so a caller timeout cannot stop the rollback.
func Run(ctx context.Context, opts Options, steps ...Step) error {
	if ctx == nil {
		ctx = context.Background()
	}
	completed := make([]Step, 0, len(steps))
	for _, step := range steps {
		if step.Action == nil {
			return fmt.Errorf("saga step %s has no action", step.Name)
		}
		if err := ctx.Err(); err != nil {
			return errors.Join(&StepError{Step: step.Name, Err: err}, unwind(ctx, opts, completed))
		}
		if err := step.Action(ctx); err != nil {
			return errors.Join(&StepError{Step: step.Name, Err: err}, unwind(ctx, opts, completed))
		}
		completed = append(completed, step)
	}
	return nil
}

func unwind(ctx context.Context, opts Options, completed []Step) error {
	if len(completed) == 0 {
		return nil
	}
	compensateCtx := context.WithoutCancel(ctx)
	if opts.CompensationTimeout > 0 {
		var cancel context.CancelFunc
		compensateCtx, cancel = context.WithTimeout(compensateCtx, opts.CompensationTimeout)
		defer cancel()
	}

	var (
		failed []string
		errs   []error
	)
	for idx := len(completed) - 1; idx >= 0; idx-- {
		step := completed[idx]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(compensateCtx); err != nil {
			if opts.Logf != nil {
				opts.Logf("saga compensation failed step=%s err=%v", step.Name, err)
			}
			failed = append(failed, step.Name)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &CompensationError{Failed: failed, Err: errors.Join(errs...)}
}
