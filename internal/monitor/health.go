// Package monitor installs the cron-scheduled health check of the deployment.
package monitor

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const (
	JobName          = "nids-health-check"
	Schedule         = "*/5 * * * *"
	DiskWarnPercent  = 90
	LogRetentionDays = 30
)

// ScriptConfig is the data rendered into the health script
type ScriptConfig struct {
	DeployRoot       string
	LogsDir          string
	ProxyService     string
	DiskWarnPercent  int
	LogRetentionDays int
}

const healthScriptTemplate = `#!/bin/sh
# Managed by nids-deploy; changes are overwritten on the next run.
# Keeps {{ .ProxyService }} running, watches disk usage and prunes old detection logs.

now() {
    date '+%Y-%m-%d %H:%M:%S'
}

if ! systemctl is-active --quiet {{ .ProxyService }}; then
    echo "$(now) - WARNING: {{ .ProxyService }} is not active, restarting"
    systemctl restart {{ .ProxyService }} || echo "$(now) - ERROR: failed to restart {{ .ProxyService }}"
fi

usage=$(df -P {{ .DeployRoot }} | awk 'NR==2 { sub("%", "", $5); print $5 }')
if [ -n "$usage" ] && [ "$usage" -gt {{ .DiskWarnPercent }} ]; then
    echo "$(now) - WARNING: disk usage for {{ .DeployRoot }} is ${usage}%"
fi

find {{ .LogsDir }} -maxdepth 1 -type f -name '*.log' -mtime +{{ .LogRetentionDays }} -delete 2>/dev/null

exit 0
`

var scriptTemplate = template.Must(template.New("health-check").Parse(healthScriptTemplate))

// RenderScript returns the health script for cfg
func RenderScript(cfg ScriptConfig) ([]byte, error) {
	if cfg.DiskWarnPercent == 0 {
		cfg.DiskWarnPercent = DiskWarnPercent
	}
	if cfg.LogRetentionDays == 0 {
		cfg.LogRetentionDays = LogRetentionDays
	}
	if cfg.ProxyService == "" {
		cfg.ProxyService = "nginx"
	}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to execute health script template: %w", err)
	}
	return buf.Bytes(), nil
}

// Installer writes the health script and its cron job
type Installer struct {
	scriptPath string
	crontab    *system.Crontab
}

func NewInstaller(scriptPath string, crontab *system.Crontab) *Installer {
	return &Installer{scriptPath: scriptPath, crontab: crontab}
}

// Install writes the script and schedules it every five minutes. Both files
// are replaced on every run, so the job is never listed twice.
func (i *Installer) Install(cfg ScriptConfig) error {
	script, err := RenderScript(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(i.scriptPath), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(i.scriptPath), err)
	}
	if err := system.WriteFileAtomic(i.scriptPath, script, 0755); err != nil {
		return fmt.Errorf("failed to write health script: %w", err)
	}

	healthLog := filepath.Join(cfg.LogsDir, "health.log")
	_, err = i.crontab.Install(system.CronJob{
		Name:     JobName,
		Schedule: Schedule,
		Command:  fmt.Sprintf("%s >> %s 2>&1", i.scriptPath, healthLog),
	})
	return err
}
