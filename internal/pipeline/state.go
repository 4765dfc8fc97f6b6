package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/BlueBeard63/nids-deploy/internal/config"
	"github.com/BlueBeard63/nids-deploy/internal/models"
)

// DeploymentState holds all data needed during pipeline execution.
// Stages read input from Config and Version and write results to the
// intermediate fields.
type DeploymentState struct {
	// Input (set before pipeline execution)
	ID      uuid.UUID
	Config  *config.RunConfig
	Version models.RunVersion
	Log     logrus.FieldLogger

	// Runtime tracking
	CurrentStage    string
	CompletedStages []string
	StartTime       time.Time
	FinishTime      time.Time
	Results         []models.StageResult

	// Intermediate results (set by stages)
	Backup    *models.BackupRecord // Set by the backup stage when a prior deployment existed
	Committed bool                 // Set once the live deployment starts being overwritten
	CertPath  string               // Set by the ssl stage
	KeyPath   string

	// Output
	Error error

	note string
}

// NewDeploymentState creates the state of one run. version is computed once
// by the caller and never recomputed by stages.
func NewDeploymentState(cfg *config.RunConfig, version models.RunVersion, log logrus.FieldLogger) *DeploymentState {
	return &DeploymentState{
		ID:              uuid.New(),
		Config:          cfg,
		Version:         version,
		Log:             log,
		CompletedStages: make([]string, 0),
		StartTime:       time.Now(),
	}
}

// Commit marks the point after which a failure leaves the live deployment
// modified
func (s *DeploymentState) Commit() {
	s.Committed = true
}

// Describe sets the message recorded with the current stage's result
func (s *DeploymentState) Describe(format string, args ...interface{}) {
	s.note = fmt.Sprintf(format, args...)
}

// FailureClass classifies a failure at the current point of the run
func (s *DeploymentState) FailureClass() models.FailureClass {
	if s.Committed {
		return models.FailureAfterCommit
	}
	return models.FailureBeforeCommit
}

// RecoveryHint tells the operator what a failure at this point means
func (s *DeploymentState) RecoveryHint() string {
	if !s.Committed {
		return "The existing deployment was not modified; it is safe to re-run."
	}
	if s.Backup != nil {
		return fmt.Sprintf("The live deployment was partially overwritten; restore it from %s if needed.", s.Backup.ArchivePath)
	}
	return "The live deployment was partially overwritten; no backup exists because there was no previous deployment."
}

// Report summarizes the run
func (s *DeploymentState) Report() *models.DeploymentReport {
	finished := s.FinishTime
	if finished.IsZero() {
		finished = time.Now()
	}

	report := &models.DeploymentReport{
		ID:          s.ID,
		Version:     s.Version,
		Config:      s.Config,
		Results:     append([]models.StageResult(nil), s.Results...),
		Backup:      s.Backup,
		Committed:   s.Committed,
		Certificate: s.CertPath,
		PrivateKey:  s.KeyPath,
		StartedAt:   s.StartTime,
		FinishedAt:  finished,
	}
	if s.Error != nil {
		report.FailureClass = s.FailureClass()
		report.Error = s.Error.Error()
	}
	return report
}

func (s *DeploymentState) record(stage string, status models.StageStatus, message string, started time.Time) {
	s.Results = append(s.Results, models.StageResult{
		Stage:     stage,
		Status:    status,
		Message:   message,
		Timestamp: started,
		Duration:  time.Since(started),
	})
}
