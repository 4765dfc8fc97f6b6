package stages

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// DeploymentStage copies the application bundle into the deploy root.
// It is the commit point of the run: from here on a failure leaves the live
// deployment modified.
type DeploymentStage struct {
	pipeline.BaseStage
	lookupUser func(name string) (*user.User, error)
	chown      func(root string, uid, gid int) error
}

// NewDeploymentStage creates a new deployment stage
func NewDeploymentStage() *DeploymentStage {
	return &DeploymentStage{
		BaseStage:  pipeline.NewBaseStage("deploy"),
		lookupUser: user.Lookup,
		chown:      system.ChownTree,
	}
}

// Execute deploys the bundle
func (s *DeploymentStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	sources, err := s.resolveSources(state)
	if err != nil {
		return err
	}

	state.Commit()

	if err := os.MkdirAll(cfg.DeployRoot, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", cfg.DeployRoot, err)
	}

	for _, src := range sources {
		rel, err := filepath.Rel(cfg.Bundle.Source, src)
		if err != nil {
			return err
		}
		dst := filepath.Join(cfg.DeployRoot, rel)

		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("bundle file %s disappeared: %w", src, err)
		}
		if info.IsDir() {
			err = system.CopyTree(src, dst)
		} else {
			err = system.CopyFile(src, dst)
		}
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", rel, err)
		}
		state.Log.Debugf("copied %s", rel)
	}

	subdirs := []struct {
		path string
		mode os.FileMode
	}{
		{cfg.LogsDir(), 0775},
		{cfg.ExportsDir(), 0775},
		{cfg.ConfigDir(), 0750},
	}
	for _, dir := range subdirs {
		if err := os.MkdirAll(dir.path, dir.mode); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir.path, err)
		}
		if err := os.Chmod(dir.path, dir.mode); err != nil {
			return err
		}
	}
	if err := os.Chmod(cfg.DeployRoot, 0755); err != nil {
		return err
	}

	if _, err := os.Stat(cfg.EntryPath()); err != nil {
		return fmt.Errorf("entry artifact %s missing after copy: %w", cfg.Bundle.Entry, err)
	}

	if cfg.ServiceAccount != "" {
		if err := s.assignOwner(cfg.DeployRoot, cfg.ServiceAccount); err != nil {
			return err
		}
	}

	state.Describe("%d bundle entries copied to %s", len(sources), cfg.DeployRoot)
	return nil
}

// resolveSources lists the bundle paths to copy and checks that they exist.
// It runs before the commit point, so a missing file leaves the live
// deployment untouched.
func (s *DeploymentStage) resolveSources(state *pipeline.DeploymentState) ([]string, error) {
	cfg := state.Config
	source := cfg.Bundle.Source

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("bundle directory %s: %w", source, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("bundle source %s is not a directory", source)
	}
	if filepath.Clean(source) == filepath.Clean(cfg.DeployRoot) {
		return nil, fmt.Errorf("bundle source and deploy root are both %s", source)
	}

	if len(cfg.Bundle.Files) == 0 {
		entries, err := os.ReadDir(source)
		if err != nil {
			return nil, err
		}
		sources := make([]string, 0, len(entries))
		for _, entry := range entries {
			sources = append(sources, filepath.Join(source, entry.Name()))
		}
		return sources, nil
	}

	sources := make([]string, 0, len(cfg.Bundle.Files))
	for _, name := range cfg.Bundle.Files {
		path := filepath.Join(source, name)
		if rel, err := filepath.Rel(source, path); err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
			return nil, fmt.Errorf("bundle file %s is outside %s", name, source)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("bundle file %s: %w", name, err)
		}
		sources = append(sources, path)
	}
	return sources, nil
}

func (s *DeploymentStage) assignOwner(root, account string) error {
	u, err := s.lookupUser(account)
	if err != nil {
		return fmt.Errorf("failed to look up service account %s: %w", account, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("unexpected uid %q for %s", u.Uid, account)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("unexpected gid %q for %s", u.Gid, account)
	}
	if err := s.chown(root, uid, gid); err != nil {
		return fmt.Errorf("failed to hand %s to %s: %w", root, account, err)
	}
	return nil
}
