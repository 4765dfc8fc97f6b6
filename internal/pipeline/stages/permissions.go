package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
)

// ErrPermission is returned when the orchestrator is not run as root
var ErrPermission = errors.New("must run as root")

// PermissionStage refuses to continue without root privileges. It has no
// side effects.
type PermissionStage struct {
	pipeline.BaseStage
	geteuid func() int
}

// NewPermissionStage creates a new permission check stage
func NewPermissionStage(geteuid func() int) *PermissionStage {
	return &PermissionStage{
		BaseStage: pipeline.NewBaseStage("permissions"),
		geteuid:   geteuid,
	}
}

// Execute checks the effective user id
func (s *PermissionStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	if uid := s.geteuid(); uid != 0 {
		return fmt.Errorf("%w (effective uid %d); re-run with sudo", ErrPermission, uid)
	}
	return nil
}
