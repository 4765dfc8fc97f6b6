package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// FirewallStage opens the inbound ports and makes sure ufw is enabled
type FirewallStage struct {
	pipeline.BaseStage
	firewall *system.Firewall
}

// NewFirewallStage creates a new firewall stage
func NewFirewallStage(firewall *system.Firewall) *FirewallStage {
	return &FirewallStage{
		BaseStage: pipeline.NewBaseStage("firewall"),
		firewall:  firewall,
	}
}

// Execute adds the allow rules, then enables ufw if it is inactive. Rules go
// in first so enabling never cuts off the SSH session running the deploy.
func (s *FirewallStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config
	if cfg.SkipFirewall {
		return pipeline.Skip("firewall configuration disabled by --skip-firewall")
	}

	active, err := s.firewall.Active(ctx)
	if err != nil {
		return err
	}

	ports := cfg.Ports()
	for _, port := range ports {
		if err := s.firewall.Allow(ctx, port); err != nil {
			return err
		}
	}

	if !active {
		state.Log.Info("Enabling ufw")
		if err := s.firewall.Enable(ctx); err != nil {
			return err
		}
	}

	names := make([]string, len(ports))
	for i, port := range ports {
		names[i] = fmt.Sprintf("%d/tcp", port)
	}
	state.Describe("allowed %s", strings.Join(names, ", "))
	return nil
}
