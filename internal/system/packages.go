package system

import (
	"context"
	"fmt"
)

// InstallError names the package whose installation failed
type InstallError struct {
	Package string
	Err     error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("failed to install package %s: %v", e.Package, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// PackageManager installs system packages with apt-get.
// Installing a package that is already present is a no-op for apt-get.
type PackageManager struct {
	runner Runner
}

func NewPackageManager(runner Runner) *PackageManager {
	return &PackageManager{runner: runner}
}

// Update refreshes the package index
func (p *PackageManager) Update(ctx context.Context) error {
	if _, err := p.runner.Run(ctx, "apt-get", "update", "-qq"); err != nil {
		return fmt.Errorf("failed to update package index: %w", err)
	}
	return nil
}

// Install installs one package
func (p *PackageManager) Install(ctx context.Context, pkg string) error {
	if _, err := p.runner.Run(ctx, "apt-get", "install", "-y", "-qq", pkg); err != nil {
		return &InstallError{Package: pkg, Err: err}
	}
	return nil
}
