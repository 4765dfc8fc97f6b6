package stages

import (
	"context"
	"fmt"

	"github.com/BlueBeard63/nids-deploy/internal/backup"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
)

// BackupStage archives the live deployment before anything overwrites it
type BackupStage struct {
	pipeline.BaseStage
	manager *backup.Manager
}

// NewBackupStage creates a new backup stage
func NewBackupStage(manager *backup.Manager) *BackupStage {
	return &BackupStage{
		BaseStage: pipeline.NewBaseStage("backup"),
		manager:   manager,
	}
}

// Execute archives DeployRoot under the run's version
func (s *BackupStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	record, err := s.manager.Archive(ctx, cfg.DeployRoot, cfg.BackupRoot, state.Version)
	if err != nil {
		return fmt.Errorf("failed to back up %s: %w", cfg.DeployRoot, err)
	}
	if record == nil {
		return pipeline.Skip("no previous deployment in %s", cfg.DeployRoot)
	}

	state.Backup = record
	state.Describe("%s (%d files)", record.ArchivePath, record.Entries)
	return nil
}
