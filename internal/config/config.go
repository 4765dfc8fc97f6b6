package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultConfigPath = "/etc/nids-deploy/config.toml"
	DefaultEnvFile    = "/etc/nids-deploy/deploy.env"
	DefaultDomain     = "localhost"
)

// Settings is the host-level configuration read from the TOML file.
// Command-line flags are layered on top of it by New.
type Settings struct {
	Paths    PathsConfig    `toml:"paths"`
	Bundle   BundleConfig   `toml:"bundle"`
	Packages PackagesConfig `toml:"packages"`
	Service  ServiceConfig  `toml:"service"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Host     HostConfig     `toml:"host"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type PathsConfig struct {
	DeployRoot string `toml:"deploy_root"`
	BackupRoot string `toml:"backup_root"`
	LogFile    string `toml:"log_file"`
}

type BundleConfig struct {
	Source string   `toml:"source"` // Directory holding the application bundle
	Files  []string `toml:"files"`  // Relative paths to copy; empty copies the whole source tree
	Entry  string   `toml:"entry"`  // Entry artifact served as index and checked by validation
}

type PackagesConfig struct {
	Install []string `toml:"install"`
}

type ServiceConfig struct {
	Account string `toml:"account"` // Owner of the deployed tree; empty skips chown
	Unit    string `toml:"unit"`
}

type ProxyConfig struct {
	ServiceName    string `toml:"service_name"`
	SitesAvailable string `toml:"sites_available"`
	SitesEnabled   string `toml:"sites_enabled"`
	SiteName       string `toml:"site_name"`
	DefaultSite    string `toml:"default_site"`
	HtpasswdFile   string `toml:"htpasswd_file"`
	HtpasswdUser   string `toml:"htpasswd_user"`
	AccessLog      string `toml:"access_log"`
	ErrorLog       string `toml:"error_log"`
	TestCommand    string `toml:"test_command"`
	ReloadCommand  string `toml:"reload_command"`
	ProbeURL       string `toml:"probe_url"`
}

type HostConfig struct {
	CronDir        string `toml:"cron_dir"`
	LogrotateDir   string `toml:"logrotate_dir"`
	SystemdDir     string `toml:"systemd_dir"`
	LetsEncryptDir string `toml:"letsencrypt_dir"`
	HealthScript   string `toml:"health_script"`
	SystemLogGlob  string `toml:"system_log_glob"`
}

type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// DefaultSettings returns settings for a stock Debian/Ubuntu host
func DefaultSettings() *Settings {
	return &Settings{
		Paths: PathsConfig{
			DeployRoot: "/var/www/nids",
			BackupRoot: "/var/backups/nids",
			LogFile:    "/var/log/nids-deploy.log",
		},
		Bundle: BundleConfig{
			Source: ".",
			Files:  []string{"index.html"},
			Entry:  "index.html",
		},
		Packages: PackagesConfig{
			Install: []string{"nginx", "certbot", "python3-certbot-nginx", "ufw", "logrotate", "cron", "curl"},
		},
		Service: ServiceConfig{
			Account: "www-data",
			Unit:    "nids.service",
		},
		Proxy: ProxyConfig{
			ServiceName:    "nginx",
			SitesAvailable: "/etc/nginx/sites-available",
			SitesEnabled:   "/etc/nginx/sites-enabled",
			SiteName:       "nids",
			DefaultSite:    "default",
			HtpasswdFile:   "/etc/nginx/.htpasswd-nids",
			HtpasswdUser:   "nids",
			AccessLog:      "/var/log/nginx/nids_access.log",
			ErrorLog:       "/var/log/nginx/nids_error.log",
			TestCommand:    "nginx -t",
			ReloadCommand:  "systemctl reload-or-restart nginx",
			ProbeURL:       "http://127.0.0.1/",
		},
		Host: HostConfig{
			CronDir:        "/etc/cron.d",
			LogrotateDir:   "/etc/logrotate.d",
			SystemdDir:     "/etc/systemd/system",
			LetsEncryptDir: "/etc/letsencrypt/live",
			HealthScript:   "/usr/local/bin/nids-health-check.sh",
			SystemLogGlob:  "/var/log/nids*.log",
		},
	}
}

// Load reads settings from path on top of the defaults.
// A missing file yields the defaults and is never created.
func Load(path string) (*Settings, error) {
	settings := DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return settings, nil
}

// ApplyEnv overrides the path settings from the process environment.
// envFile is loaded first when present; variables already set in the
// environment win over the file.
func (s *Settings) ApplyEnv(envFile string) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}

	s.Paths.DeployRoot = getEnvOrDefault("NIDS_DEPLOY_ROOT", s.Paths.DeployRoot)
	s.Paths.BackupRoot = getEnvOrDefault("NIDS_BACKUP_ROOT", s.Paths.BackupRoot)
	s.Paths.LogFile = getEnvOrDefault("NIDS_LOG_FILE", s.Paths.LogFile)
}

func getEnvOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
