package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/BlueBeard63/nids-deploy/internal/logger"
	"github.com/BlueBeard63/nids-deploy/internal/models"
)

// StageError is returned when a stage aborts the run
type StageError struct {
	Stage string
	Class models.FailureClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline executes a sequence of stages and stops at the first failure.
type Pipeline struct {
	stages []Stage
}

// NewPipeline creates a new pipeline with the given stages.
// Stages are executed in order.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
	}
}

// Execute runs all stages in sequence. Cancellation is checked between
// stages only; a running stage is never interrupted by the pipeline.
// Returns a *StageError for the first failure, or nil if all stages succeed.
func (p *Pipeline) Execute(ctx context.Context, state *DeploymentState) error {
	defer func() {
		state.FinishTime = time.Now()
	}()

	for _, stage := range p.stages {
		name := stage.Name()

		// Check for context cancellation
		select {
		case <-ctx.Done():
			state.record(name, models.StageStatusFailed, "not started: "+ctx.Err().Error(), time.Now())
			return p.fail(state, name, fmt.Errorf("interrupted before start: %w", ctx.Err()))
		default:
		}

		state.CurrentStage = name
		state.note = ""
		state.Log.Debugf("Starting %s", name)

		started := time.Now()
		err := stage.Execute(ctx, state)

		if reason, ok := IsSkip(err); ok {
			state.record(name, models.StageStatusSkipped, reason, started)
			state.Log.Warnf("%s skipped: %s", name, reason)
			continue
		}

		if err != nil {
			state.record(name, models.StageStatusFailed, err.Error(), started)
			return p.fail(state, name, err)
		}

		state.record(name, models.StageStatusOK, state.note, started)
		state.CompletedStages = append(state.CompletedStages, name)
		if state.note != "" {
			logger.Success(state.Log, "%s completed: %s", name, state.note)
		} else {
			logger.Success(state.Log, "%s completed", name)
		}
	}

	return nil
}

// fail emits the single error event of a failed run
func (p *Pipeline) fail(state *DeploymentState, name string, err error) error {
	stageErr := &StageError{Stage: name, Class: state.FailureClass(), Err: err}
	state.Error = stageErr
	state.Log.Errorf("%s failed: %v. %s", name, err, state.RecoveryHint())
	return stageErr
}

// Stages returns the list of stages in this pipeline (for testing/inspection)
func (p *Pipeline) Stages() []Stage {
	return p.stages
}
