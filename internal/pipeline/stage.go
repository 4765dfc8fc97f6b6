package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Stage represents a single step in the deployment pipeline.
// There is no Rollback: once the live deployment has been overwritten a
// failure is reported with the backup to restore from instead.
type Stage interface {
	// Name returns a human-readable identifier for this stage
	Name() string

	// Execute performs the stage's work, modifying state as needed.
	// Returns an error if the stage fails, or a Skip error if it decided
	// there was nothing to do.
	Execute(ctx context.Context, state *DeploymentState) error
}

// BaseStage carries the stage name. Embed it in every stage.
type BaseStage struct {
	name string
}

// NewBaseStage creates a new BaseStage with the given name
func NewBaseStage(name string) BaseStage {
	return BaseStage{name: name}
}

// Name returns the stage name
func (s BaseStage) Name() string {
	return s.name
}

// SkipError reports that a stage did not apply to this run
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns the error a stage uses to mark itself skipped
func Skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip returns the skip reason when err is a SkipError
func IsSkip(err error) (string, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason, true
	}
	return "", false
}
