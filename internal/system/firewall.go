package system

import (
	"context"
	"fmt"
	"strings"
)

// Firewall manages inbound rules with ufw
type Firewall struct {
	runner Runner
}

func NewFirewall(runner Runner) *Firewall {
	return &Firewall{runner: runner}
}

// Active reports whether ufw is enabled
func (f *Firewall) Active(ctx context.Context) (bool, error) {
	output, err := f.runner.Run(ctx, "ufw", "status")
	if err != nil {
		return false, fmt.Errorf("failed to query firewall status: %w", err)
	}
	return strings.Contains(string(output), "Status: active"), nil
}

// Enable turns the firewall on without prompting
func (f *Firewall) Enable(ctx context.Context) error {
	if _, err := f.runner.Run(ctx, "ufw", "--force", "enable"); err != nil {
		return fmt.Errorf("failed to enable firewall: %w", err)
	}
	return nil
}

// Allow opens an inbound TCP port. ufw skips rules that already exist.
func (f *Firewall) Allow(ctx context.Context, port int) error {
	if _, err := f.runner.Run(ctx, "ufw", "allow", fmt.Sprintf("%d/tcp", port)); err != nil {
		return fmt.Errorf("failed to allow port %d: %w", port, err)
	}
	return nil
}
