package stages

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/BlueBeard63/nids-deploy/internal/backup"
	"github.com/BlueBeard63/nids-deploy/internal/config"
	"github.com/BlueBeard63/nids-deploy/internal/logrotate"
	"github.com/BlueBeard63/nids-deploy/internal/monitor"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/proxy"
	"github.com/BlueBeard63/nids-deploy/internal/ssl"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

// Dependencies holds all dependencies needed to create pipeline stages
type Dependencies struct {
	Geteuid       func() int
	Packages      *system.PackageManager
	Firewall      *system.Firewall
	Systemd       *system.Systemd
	BackupManager *backup.Manager
	ProxyManager  proxy.ProxyManager
	SSLManager    *ssl.Manager
	Monitor       *monitor.Installer
	Logrotate     *logrotate.Writer
	Probe         *system.HTTPProbe
}

// NewDependencies wires every host collaborator to runner and the host
// paths of cfg
func NewDependencies(cfg *config.RunConfig, runner system.Runner, log logrus.FieldLogger) *Dependencies {
	crontab := system.NewCrontab(cfg.Host.CronDir)

	return &Dependencies{
		Geteuid:       os.Geteuid,
		Packages:      system.NewPackageManager(runner),
		Firewall:      system.NewFirewall(runner),
		Systemd:       system.NewSystemd(runner, cfg.Host.SystemdDir),
		BackupManager: backup.NewManager(log),
		ProxyManager:  proxy.NewNginxManager(&cfg.Proxy, runner, log),
		SSLManager:    ssl.NewManager(runner, crontab, cfg.Host.LetsEncryptDir, log),
		Monitor:       monitor.NewInstaller(cfg.Host.HealthScript, crontab),
		Logrotate:     logrotate.NewWriter(cfg.Host.LogrotateDir, runner),
		Probe:         system.NewHTTPProbe(),
	}
}

// NewDeploymentPipeline creates the standard deployment pipeline
func NewDeploymentPipeline(deps *Dependencies) *pipeline.Pipeline {
	return pipeline.NewPipeline(
		NewPermissionStage(deps.Geteuid),
		NewDirectoryStage(),
		NewBackupStage(deps.BackupManager),
		NewDependencyStage(deps.Packages),
		NewFirewallStage(deps.Firewall),
		NewDeploymentStage(),
		NewProxyStage(deps.ProxyManager),
		NewSSLStage(deps.ProxyManager, deps.SSLManager),
		NewMonitoringStage(deps.Monitor),
		NewLogRotationStage(deps.Logrotate),
		NewServiceStage(deps.Systemd),
		NewValidationStage(deps.Systemd, deps.Probe),
	)
}
