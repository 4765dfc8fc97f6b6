package stages

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// ValidationError lists every post-deployment check that failed
type ValidationError struct {
	Failures []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d validation checks failed: %s", len(e.Failures), strings.Join(e.Failures, "; "))
}

// ValidationStage checks that the deployment is actually serving
type ValidationStage struct {
	pipeline.BaseStage
	systemd *system.Systemd
	probe   *system.HTTPProbe
}

// NewValidationStage creates a new validation stage
func NewValidationStage(systemd *system.Systemd, probe *system.HTTPProbe) *ValidationStage {
	return &ValidationStage{
		BaseStage: pipeline.NewBaseStage("validation"),
		systemd:   systemd,
		probe:     probe,
	}
}

// Execute runs all checks and reports every failure at once
func (s *ValidationStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config
	var failures []string

	if _, err := os.Stat(cfg.EntryPath()); err != nil {
		failures = append(failures, fmt.Sprintf("entry artifact %s missing", cfg.EntryPath()))
	}

	if !s.systemd.IsActive(ctx, cfg.Proxy.ServiceName) {
		failures = append(failures, fmt.Sprintf("%s is not active", cfg.Proxy.ServiceName))
	}

	if err := s.probe.Check(ctx, cfg.Proxy.ProbeURL, cfg.DomainName); err != nil {
		failures = append(failures, fmt.Sprintf("HTTP probe failed: %v", err))
	}

	if len(failures) > 0 {
		return &ValidationError{Failures: failures}
	}

	state.Describe("%s answers for %s", cfg.Proxy.ProbeURL, cfg.DomainName)
	return nil
}
