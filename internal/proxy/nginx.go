package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/BlueBeard63/nids-deploy/internal/config"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

type NginxManager struct {
	sitesAvailable string
	sitesEnabled   string
	defaultSite    string
	testCommand    string
	reloadCommand  string
	runner         system.Runner
	log            logrus.FieldLogger
}

func NewNginxManager(cfg *config.ProxyConfig, runner system.Runner, log logrus.FieldLogger) *NginxManager {
	return &NginxManager{
		sitesAvailable: cfg.SitesAvailable,
		sitesEnabled:   cfg.SitesEnabled,
		defaultSite:    cfg.DefaultSite,
		testCommand:    cfg.TestCommand,
		reloadCommand:  cfg.ReloadCommand,
		runner:         runner,
		log:            log,
	}
}

const nginxSiteTemplate = `# Managed by nids-deploy; changes are overwritten on the next run.
server {
    listen 80;
    listen [::]:80;
    server_name {{ .Domain }};

    root {{ .Root }};
    index {{ .Index }};

    # Security headers
    add_header X-Frame-Options "DENY" always;
    add_header X-Content-Type-Options "nosniff" always;
    add_header X-XSS-Protection "1; mode=block" always;
    add_header Strict-Transport-Security "max-age=31536000; includeSubDomains" always;

    # Compression
    gzip on;
    gzip_vary on;
    gzip_min_length 1024;
    gzip_types text/plain text/css text/xml text/javascript application/javascript application/json application/xml image/svg+xml;

    location / {
        try_files $uri $uri/ /{{ .Index }};
    }

    # Version control metadata and secrets
    location ~ /\.(git|svn|hg) {
        deny all;
        return 404;
    }
    location ~ /\.env {
        deny all;
        return 404;
    }
    location ^~ /config/ {
        deny all;
        return 404;
    }

    # Detection logs are readable by the operator only
    location ^~ /logs/ {
        auth_basic "NIDS logs";
        auth_basic_user_file {{ .HtpasswdFile }};
        autoindex off;
    }

    # Reserved for the dashboard backend
    location ^~ /api/ {
        return 404;
    }

    access_log {{ .AccessLog }};
    error_log {{ .ErrorLog }};
}
`

var siteTemplate = template.Must(template.New("nginx-site").Parse(nginxSiteTemplate))

func (n *NginxManager) Render(site *SiteConfig) ([]byte, error) {
	if site.Name == "" || site.Domain == "" || site.Root == "" || site.Index == "" {
		return nil, fmt.Errorf("incomplete site definition: name, domain, root and index are required")
	}

	var buf bytes.Buffer
	if err := siteTemplate.Execute(&buf, site); err != nil {
		return nil, fmt.Errorf("failed to execute nginx template: %w", err)
	}
	return buf.Bytes(), nil
}

func (n *NginxManager) SitePath(name string) string {
	return filepath.Join(n.sitesAvailable, name)
}

func (n *NginxManager) EnabledPath(name string) string {
	return filepath.Join(n.sitesEnabled, name)
}

func (n *NginxManager) Activate(ctx context.Context, site *SiteConfig) error {
	content, err := n.Render(site)
	if err != nil {
		return err
	}

	sitePath := n.SitePath(site.Name)
	enabledPath := n.EnabledPath(site.Name)
	defaultPath := ""
	if n.defaultSite != "" && n.defaultSite != site.Name {
		defaultPath = n.EnabledPath(n.defaultSite)
	}

	snap, err := takeSnapshot(sitePath, enabledPath, defaultPath)
	if err != nil {
		return fmt.Errorf("failed to record current nginx state: %w", err)
	}

	if err := n.install(sitePath, enabledPath, defaultPath, content); err != nil {
		if restoreErr := snap.restore(); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore previous nginx state: %w", restoreErr))
		}
		return err
	}

	if err := n.Test(ctx); err != nil {
		n.log.Debugf("nginx rejected %s, restoring previous site state", sitePath)
		if restoreErr := snap.restore(); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("failed to restore previous nginx state: %w", restoreErr))
		}
		return err
	}

	return n.reload(ctx)
}

func (n *NginxManager) install(sitePath, enabledPath, defaultPath string, content []byte) error {
	if err := os.MkdirAll(n.sitesAvailable, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", n.sitesAvailable, err)
	}
	if err := os.MkdirAll(n.sitesEnabled, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", n.sitesEnabled, err)
	}

	if err := system.WriteFileAtomic(sitePath, content, 0644); err != nil {
		return fmt.Errorf("failed to write nginx site: %w", err)
	}
	if err := system.SymlinkAtomic(sitePath, enabledPath); err != nil {
		return fmt.Errorf("failed to enable nginx site: %w", err)
	}
	if defaultPath != "" {
		if err := os.Remove(defaultPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to disable default nginx site: %w", err)
		}
	}
	return nil
}

// Test runs the configuration test command
func (n *NginxManager) Test(ctx context.Context) error {
	output, err := system.Shell(ctx, n.runner, n.testCommand)
	if err != nil {
		var cmdErr *system.CommandError
		if errors.As(err, &cmdErr) {
			return &SyntaxError{Output: cmdErr.Output}
		}
		return &SyntaxError{Output: string(output) + err.Error()}
	}
	return nil
}

func (n *NginxManager) Reload(ctx context.Context) error {
	// Test nginx configuration before reloading
	if err := n.Test(ctx); err != nil {
		return err
	}
	return n.reload(ctx)
}

func (n *NginxManager) reload(ctx context.Context) error {
	if _, err := system.Shell(ctx, n.runner, n.reloadCommand); err != nil {
		return fmt.Errorf("nginx reload failed: %w", err)
	}
	return nil
}

// pathState is the saved state of one file or link under the nginx tree
type pathState struct {
	path   string
	exists bool
	link   string
	data   []byte
	mode   os.FileMode
}

type snapshot []pathState

func takeSnapshot(paths ...string) (snapshot, error) {
	var snap snapshot
	for _, path := range paths {
		if path == "" {
			continue
		}
		state := pathState{path: path}
		info, err := os.Lstat(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		case info.Mode()&os.ModeSymlink != 0:
			state.exists = true
			if state.link, err = os.Readlink(path); err != nil {
				return nil, err
			}
		default:
			state.exists = true
			state.mode = info.Mode().Perm()
			if state.data, err = os.ReadFile(path); err != nil {
				return nil, err
			}
		}
		snap = append(snap, state)
	}
	return snap, nil
}

func (s snapshot) restore() error {
	var errs []error
	for _, state := range s {
		if err := os.Remove(state.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		if !state.exists {
			continue
		}
		if state.link != "" {
			errs = append(errs, os.Symlink(state.link, state.path))
			continue
		}
		errs = append(errs, system.WriteFileAtomic(state.path, state.data, state.mode))
	}
	return errors.Join(errs...)
}
