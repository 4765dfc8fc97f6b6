package stages

import (
	"context"
	"fmt"
	"os/user"

	"github.com/BlueBeard63/nids-deploy/internal/logrotate"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
)

// LogRotationStage installs the rotation policy for NIDS logs
type LogRotationStage struct {
	pipeline.BaseStage
	writer      *logrotate.Writer
	lookupUser  func(name string) (*user.User, error)
	lookupGroup func(gid string) (*user.Group, error)
}

// NewLogRotationStage creates a new log rotation stage
func NewLogRotationStage(writer *logrotate.Writer) *LogRotationStage {
	return &LogRotationStage{
		BaseStage:   pipeline.NewBaseStage("log-rotation"),
		writer:      writer,
		lookupUser:  user.Lookup,
		lookupGroup: user.LookupGroupId,
	}
}

// Execute installs the policy. The deployment logs directory belongs to the
// service account, so rotation there runs as that account.
func (s *LogRotationStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	var owner, group string
	if cfg.ServiceAccount != "" {
		u, err := s.lookupUser(cfg.ServiceAccount)
		if err != nil {
			return fmt.Errorf("failed to look up service account %s: %w", cfg.ServiceAccount, err)
		}
		g, err := s.lookupGroup(u.Gid)
		if err != nil {
			return fmt.Errorf("failed to look up group %s of %s: %w", u.Gid, cfg.ServiceAccount, err)
		}
		owner, group = u.Username, g.Name
	}

	path, err := s.writer.Install(ctx, logrotate.DefaultConfig(cfg.LogsDir(), cfg.Host.SystemLogGlob, owner, group))
	if err != nil {
		return err
	}

	state.Describe("policy %s", path)
	return nil
}
