package stages

import (
	"context"
	"fmt"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/proxy"
	"github.com/BlueBeard63/nids-deploy/internal/ssl"
)

// SSLStage handles SSL certificate acquisition
type SSLStage struct {
	pipeline.BaseStage
	proxyManager proxy.ProxyManager
	sslManager   *ssl.Manager
}

// NewSSLStage creates a new SSL stage
func NewSSLStage(proxyManager proxy.ProxyManager, sslManager *ssl.Manager) *SSLStage {
	return &SSLStage{
		BaseStage:    pipeline.NewBaseStage("ssl-setup"),
		proxyManager: proxyManager,
		sslManager:   sslManager,
	}
}

// Execute obtains a certificate for a public domain and schedules its
// renewal. Local and IP-only deployments are skipped.
func (s *SSLStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config

	if cfg.SkipSSL {
		return pipeline.Skip("TLS disabled by --skip-ssl")
	}
	if !cfg.HasRealDomain() {
		return pipeline.Skip("no certificate can be issued for %q; serving HTTP only", cfg.DomainName)
	}

	certPath, keyPath, err := s.sslManager.ObtainCertificate(ctx, cfg.DomainName, cfg.AdminEmail)
	if err != nil {
		return fmt.Errorf("failed to obtain SSL certificate: %w", err)
	}

	// Store paths in state for the report
	state.CertPath = certPath
	state.KeyPath = keyPath

	// certbot rewrote the site definition; make sure nginx still accepts it
	if err := s.proxyManager.Reload(ctx); err != nil {
		return fmt.Errorf("failed to reload proxy after certificate install: %w", err)
	}

	if _, err := s.sslManager.ScheduleRenewal(); err != nil {
		return fmt.Errorf("failed to schedule certificate renewal: %w", err)
	}

	state.Describe("certificate %s", certPath)
	return nil
}
