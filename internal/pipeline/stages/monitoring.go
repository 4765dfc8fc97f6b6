package stages

import (
	"context"
	"fmt"

	"github.com/BlueBeard63/nids-deploy/internal/monitor"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
)

// MonitoringStage installs the scheduled health check
type MonitoringStage struct {
	pipeline.BaseStage
	installer *monitor.Installer
}

// NewMonitoringStage creates a new monitoring stage
func NewMonitoringStage(installer *monitor.Installer) *MonitoringStage {
	return &MonitoringStage{
		BaseStage: pipeline.NewBaseStage("monitoring"),
		installer: installer,
	}
}

func (s *MonitoringStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	err := s.installer.Install(monitor.ScriptConfig{
		DeployRoot:   cfg.DeployRoot,
		LogsDir:      cfg.LogsDir(),
		ProxyService: cfg.Proxy.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to install health check: %w", err)
	}

	state.Describe("%s every 5 minutes", cfg.Host.HealthScript)
	return nil
}
