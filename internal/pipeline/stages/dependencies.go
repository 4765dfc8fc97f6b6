package stages

import (
	"context"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// DependencyStage installs the host packages the deployment relies on
type DependencyStage struct {
	pipeline.BaseStage
	packages *system.PackageManager
}

// NewDependencyStage creates a new dependency installation stage
func NewDependencyStage(packages *system.PackageManager) *DependencyStage {
	return &DependencyStage{
		BaseStage: pipeline.NewBaseStage("dependencies"),
		packages:  packages,
	}
}

// Execute refreshes the package index and installs each package in order,
// stopping at the first one that fails
func (s *DependencyStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	pkgs := state.Config.Packages
	if len(pkgs) == 0 {
		return pipeline.Skip("no packages configured")
	}

	if err := s.packages.Update(ctx); err != nil {
		return err
	}

	for _, pkg := range pkgs {
		state.Log.Debugf("installing %s", pkg)
		if err := s.packages.Install(ctx, pkg); err != nil {
			return err
		}
	}

	state.Describe("%d packages present", len(pkgs))
	return nil
}
