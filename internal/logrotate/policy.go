// Package logrotate writes and checks the rotation policy for detection and
// deployment logs.
package logrotate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const PolicyName = "nids"

// Policy is one rotation block. SuUser and SuGroup are required by
// logrotate when the log directory is writable by a non-root group.
type Policy struct {
	Pattern       string
	Rotate        int
	DelayCompress bool
	SuUser        string
	SuGroup       string
}

// Config holds the blocks of the policy file
type Config struct {
	Policies   []Policy
	PostRotate string
}

// DefaultConfig rotates the deployment logs for 30 days and the system NIDS
// logs for 7. The deployment logs are rotated as owner:group when an owner
// is given.
func DefaultConfig(logsDir, systemGlob, owner, group string) Config {
	app := Policy{Pattern: filepath.Join(logsDir, "*.log"), Rotate: 30, DelayCompress: true}
	if owner != "" {
		app.SuUser, app.SuGroup = owner, group
		if app.SuGroup == "" {
			app.SuGroup = owner
		}
	}
	cfg := Config{
		Policies:   []Policy{app},
		PostRotate: "systemctl reload nginx >/dev/null 2>&1 || true",
	}
	if systemGlob != "" {
		cfg.Policies = append(cfg.Policies, Policy{Pattern: systemGlob, Rotate: 7})
	}
	return cfg
}

const policyTemplate = `# Managed by nids-deploy; changes are overwritten on the next run.
{{- range .Policies }}
{{ .Pattern }} {
{{- if .SuUser }}
    su {{ .SuUser }} {{ .SuGroup }}
{{- end }}
    daily
    rotate {{ .Rotate }}
    compress
{{- if .DelayCompress }}
    delaycompress
{{- end }}
    copytruncate
    missingok
    notifempty
{{- if $.PostRotate }}
    sharedscripts
    postrotate
        {{ $.PostRotate }}
    endscript
{{- end }}
}
{{- end }}
`

var tmpl = template.Must(template.New("logrotate").Parse(policyTemplate))

// Render returns the policy file content
func Render(cfg Config) ([]byte, error) {
	if len(cfg.Policies) == 0 {
		return nil, fmt.Errorf("no rotation policies")
	}
	for _, p := range cfg.Policies {
		if p.Pattern == "" || p.Rotate <= 0 || (p.SuUser == "") != (p.SuGroup == "") {
			return nil, fmt.Errorf("invalid rotation policy %+v", p)
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to execute logrotate template: %w", err)
	}
	return buf.Bytes(), nil
}

// Writer installs the policy into a logrotate.d directory
type Writer struct {
	dir    string
	runner system.Runner
}

func NewWriter(dir string, runner system.Runner) *Writer {
	return &Writer{dir: dir, runner: runner}
}

// Install writes the policy file, replacing an earlier one, and dry-runs it
// with logrotate. A policy logrotate rejects is an error.
func (w *Writer) Install(ctx context.Context, cfg Config) (string, error) {
	content, err := Render(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", w.dir, err)
	}
	path := filepath.Join(w.dir, PolicyName)
	if err := system.WriteFileAtomic(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write logrotate policy: %w", err)
	}

	if _, err := w.runner.Run(ctx, "logrotate", "--debug", path); err != nil {
		return path, fmt.Errorf("logrotate rejected %s: %w", path, err)
	}
	return path, nil
}
