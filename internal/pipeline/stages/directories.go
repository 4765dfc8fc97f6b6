package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
)

// DirectoryStage creates the deployment, backup and log directories
type DirectoryStage struct {
	pipeline.BaseStage
}

// NewDirectoryStage creates a new directory provisioning stage
func NewDirectoryStage() *DirectoryStage {
	return &DirectoryStage{
		BaseStage: pipeline.NewBaseStage("directories"),
	}
}

// Execute creates the directories; existing ones are left in place
func (s *DirectoryStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{cfg.DeployRoot, 0755},
		{cfg.BackupRoot, 0750},
		{filepath.Dir(cfg.LogFile), 0755},
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir.path, dir.mode); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir.path, err)
		}
		state.Log.Debugf("directory %s ready", dir.path)
	}

	// Archives hold the full deployment; keep them out of reach of other users
	if err := os.Chmod(cfg.BackupRoot, 0750); err != nil {
		return fmt.Errorf("failed to restrict %s: %w", cfg.BackupRoot, err)
	}

	return nil
}
