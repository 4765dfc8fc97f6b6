package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/proxy"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// CredentialsFile holds the generated /logs/ credentials, under the config
// directory that the site definition denies
const CredentialsFile = "logs-credentials"

// ProxyStage configures the reverse proxy
type ProxyStage struct {
	pipeline.BaseStage
	proxyManager proxy.ProxyManager
}

// NewProxyStage creates a new proxy configuration stage
func NewProxyStage(proxyManager proxy.ProxyManager) *ProxyStage {
	return &ProxyStage{
		BaseStage:    pipeline.NewBaseStage("proxy-config"),
		proxyManager: proxyManager,
	}
}

// Execute makes sure the /logs/ credentials exist, then installs and
// activates the site definition
func (s *ProxyStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	if err := s.ensureCredentials(state); err != nil {
		return err
	}

	site := &proxy.SiteConfig{
		Name:         cfg.Proxy.SiteName,
		Domain:       cfg.DomainName,
		Root:         cfg.DeployRoot,
		Index:        filepath.ToSlash(cfg.Bundle.Entry),
		HtpasswdFile: cfg.Proxy.HtpasswdFile,
		AccessLog:    cfg.Proxy.AccessLog,
		ErrorLog:     cfg.Proxy.ErrorLog,
	}

	state.Log.Debugf("activating site %s for %s", site.Name, site.Domain)

	if err := s.proxyManager.Activate(ctx, site); err != nil {
		return fmt.Errorf("failed to configure proxy: %w", err)
	}

	state.Describe("site %s serving %s", site.Name, site.Domain)
	return nil
}

func (s *ProxyStage) ensureCredentials(state *pipeline.DeploymentState) error {
	cfg := state.Config
	path := filepath.Join(cfg.ConfigDir(), CredentialsFile)

	store := func(password string) error {
		content := fmt.Sprintf("user=%s\npassword=%s\n", cfg.Proxy.HtpasswdUser, password)
		if err := system.WriteFileAtomic(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("failed to store /logs/ credentials: %w", err)
		}
		return nil
	}

	created, err := proxy.EnsureHtpasswd(cfg.Proxy.HtpasswdFile, cfg.Proxy.HtpasswdUser, store)
	if err != nil {
		return fmt.Errorf("failed to prepare /logs/ credentials: %w", err)
	}
	if created {
		state.Log.Infof("Generated credentials for /logs/; stored in %s", path)
	}
	return nil
}
