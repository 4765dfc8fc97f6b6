package system

import (
	"context"
	"fmt"
	"path/filepath"
)

// Systemd manages units through systemctl
type Systemd struct {
	runner  Runner
	unitDir string
}

func NewSystemd(runner Runner, unitDir string) *Systemd {
	return &Systemd{runner: runner, unitDir: unitDir}
}

// InstallUnit writes a unit file, replacing any previous version
func (s *Systemd) InstallUnit(name string, content []byte) (string, error) {
	path := filepath.Join(s.unitDir, name)
	if err := WriteFileAtomic(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write unit %s: %w", name, err)
	}
	return path, nil
}

// IsActive reports whether the unit is running
func (s *Systemd) IsActive(ctx context.Context, unit string) bool {
	_, err := s.runner.Run(ctx, "systemctl", "is-active", "--quiet", unit)
	return err == nil
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	return s.systemctl(ctx, "daemon-reload")
}

func (s *Systemd) Enable(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "enable", unit)
}

func (s *Systemd) Start(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "start", unit)
}

func (s *Systemd) Restart(ctx context.Context, unit string) error {
	return s.systemctl(ctx, "restart", unit)
}

func (s *Systemd) systemctl(ctx context.Context, args ...string) error {
	if _, err := s.runner.Run(ctx, "systemctl", args...); err != nil {
		return fmt.Errorf("systemctl %v failed: %w", args, err)
	}
	return nil
}
