package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/BlueBeard63/nids-deploy/internal/config"
)

type StageStatus string

const (
	StageStatusOK      StageStatus = "ok"
	StageStatusSkipped StageStatus = "skipped"
	StageStatusFailed  StageStatus = "failed"
)

// FailureClass tells whether the live deployment had already been
// overwritten when the run aborted.
type FailureClass string

const (
	FailureNone         FailureClass = ""
	FailureBeforeCommit FailureClass = "abort-before-commit"
	FailureAfterCommit  FailureClass = "abort-after-commit"
)

const runVersionLayout = "20060102_150405"

// RunVersion identifies one invocation. It is generated once at start and
// names the backup archive of that run.
type RunVersion string

// NewRunVersion derives the version from the run's start time
func NewRunVersion(start time.Time) RunVersion {
	return RunVersion(start.Format(runVersionLayout))
}

func (v RunVersion) String() string {
	return string(v)
}

// BackupName is the archive file name for this version
func (v RunVersion) BackupName() string {
	return "backup_" + string(v) + ".tar.gz"
}

// BackupRecord describes the archive of a deployment taken before it was overwritten
type BackupRecord struct {
	ArchivePath string    `json:"archive_path"`
	SourceDir   string    `json:"source_dir"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	Entries     int       `json:"entries"` // Regular files in the archive
}

// StageResult is the outcome of one pipeline stage
type StageResult struct {
	Stage     string        `json:"stage"`
	Status    StageStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// DeploymentReport aggregates a run for operator output
type DeploymentReport struct {
	ID           uuid.UUID         `json:"id"`
	Version      RunVersion        `json:"version"`
	Config       *config.RunConfig `json:"-"`
	Results      []StageResult     `json:"results"`
	Backup       *BackupRecord     `json:"backup,omitempty"`
	Committed    bool              `json:"committed"`
	Certificate  string            `json:"certificate,omitempty"`
	PrivateKey   string            `json:"private_key,omitempty"`
	FailureClass FailureClass      `json:"failure_class,omitempty"`
	Error        string            `json:"error,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// Succeeded returns true when no stage failed
func (r *DeploymentReport) Succeeded() bool {
	return r.Failed() == nil
}

// Failed returns the failed stage result, if any
func (r *DeploymentReport) Failed() *StageResult {
	for i := range r.Results {
		if r.Results[i].Status == StageStatusFailed {
			return &r.Results[i]
		}
	}
	return nil
}

// Status returns the recorded status of a stage, or "" if it never ran
func (r *DeploymentReport) Status(stage string) StageStatus {
	for _, result := range r.Results {
		if result.Stage == stage {
			return result.Status
		}
	}
	return ""
}
