package stages

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const serviceUnitTemplate = `# Managed by nids-deploy; changes are overwritten on the next run.
[Unit]
Description=NIDS dashboard readiness
Documentation=file://{{ .EntryPath }}
Requires={{ .ProxyService }}.service
After=network-online.target {{ .ProxyService }}.service
Wants=network-online.target

[Service]
Type=oneshot
RemainAfterExit=yes
ExecStart=/usr/bin/test -f {{ .EntryPath }}
ExecReload=/bin/systemctl reload {{ .ProxyService }}

[Install]
WantedBy=multi-user.target
`

var unitTemplate = template.Must(template.New("nids-unit").Parse(serviceUnitTemplate))

type unitData struct {
	EntryPath    string
	ProxyService string
}

// ServiceStage registers the readiness unit operators query for the state of
// the deployment
type ServiceStage struct {
	pipeline.BaseStage
	systemd *system.Systemd
}

// NewServiceStage creates a new service registration stage
func NewServiceStage(systemd *system.Systemd) *ServiceStage {
	return &ServiceStage{
		BaseStage: pipeline.NewBaseStage("service"),
		systemd:   systemd,
	}
}

// Execute writes the unit, reloads systemd, enables the unit and starts it.
// An already active unit is restarted so the new definition takes effect.
func (s *ServiceStage) Execute(ctx context.Context, state *pipeline.DeploymentState) error {
	cfg := state.Config
	unit := cfg.ServiceUnit

	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, unitData{
		EntryPath:    cfg.EntryPath(),
		ProxyService: cfg.Proxy.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to execute unit template: %w", err)
	}

	path, err := s.systemd.InstallUnit(unit, buf.Bytes())
	if err != nil {
		return err
	}
	state.Log.Debugf("unit written to %s", path)

	if err := s.systemd.DaemonReload(ctx); err != nil {
		return err
	}
	if err := s.systemd.Enable(ctx, unit); err != nil {
		return err
	}

	if s.systemd.IsActive(ctx, unit) {
		err = s.systemd.Restart(ctx, unit)
	} else {
		err = s.systemd.Start(ctx, unit)
	}
	if err != nil {
		return err
	}

	state.Describe("%s enabled and active", unit)
	return nil
}
