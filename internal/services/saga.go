package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Step is a single unit of work in a saga. Compensate undoes Execute.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// StepError reports the step that failed and the outcome of rolling back
// the steps that had already succeeded.
type StepError struct {
	Step            string
	Err             error
	Compensated     bool
	CompensationErr error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Orchestrator runs steps in order and compensates the successful ones in
// reverse when a later step fails.
type Orchestrator struct {
	name  string
	steps []Step
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(name string, steps ...Step) *Orchestrator {
	return &Orchestrator{name: name, steps: steps}
}

// Start runs the saga. On failure it returns a *StepError.
func (o *Orchestrator) Start(ctx context.Context) error {
	var done []Step

	for _, step := range o.steps {
		log.Debug().Str("saga", o.name).Str("step", step.Name()).Msg("executing step")
		if err := step.Execute(ctx); err != nil {
			log.Warn().Err(err).Str("saga", o.name).Str("step", step.Name()).Msg("step failed, starting rollback")
			compErr := o.rollback(ctx, done)
			return &StepError{
				Step:            step.Name(),
				Err:             err,
				Compensated:     len(done) > 0 && compErr == nil,
				CompensationErr: compErr,
			}
		}
		done = append(done, step)
	}

	log.Debug().Str("saga", o.name).Msg("saga completed")
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, steps []Step) error {
	// Compensation must run even if the request context is gone.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		log.Info().Str("saga", o.name).Str("step", step.Name()).Msg("compensating step")
		if err := step.Compensate(ctx); err != nil {
			log.Error().Err(err).Str("saga", o.name).Str("step", step.Name()).Msg("CRITICAL: failed to compensate step")
			errs = append(errs, fmt.Errorf("%s: %w", step.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// FuncStep adapts a pair of functions to Step.
type FuncStep struct {
	StepName     string
	ExecuteFn    func(ctx context.Context) error
	CompensateFn func(ctx context.Context) error
}

func (s FuncStep) Name() string { return s.StepName }

func (s FuncStep) Execute(ctx context.Context) error { return s.ExecuteFn(ctx) }

func (s FuncStep) Compensate(ctx context.Context) error {
	if s.CompensateFn == nil {
		return nil
	}
	return s.CompensateFn(ctx)
}
