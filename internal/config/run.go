package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// Options carries the values given on the command line.
type Options struct {
	Domain       string
	Email        string
	Port         int
	PortSet      bool // --port was given, so 0 is an error rather than "none"
	SkipSSL      bool
	SkipFirewall bool
	Verbose      bool
	Bundle       string
}

// RunConfig is the configuration of a single invocation. It is built once by
// New and only read afterwards; stages receive it by pointer.
type RunConfig struct {
	DeployRoot string
	BackupRoot string
	LogFile    string

	DomainName   string
	AdminEmail   string
	CustomPort   int // 0 means no extra port
	SkipSSL      bool
	SkipFirewall bool
	Verbose      bool

	Bundle          BundleConfig
	Packages        []string
	ServiceAccount  string
	ServiceUnit     string
	Proxy           ProxyConfig
	Host            HostConfig
	MetricsTextfile string
}

// New validates opts against settings and returns the run configuration.
func New(opts Options, settings *Settings) (*RunConfig, error) {
	if settings == nil {
		settings = DefaultSettings()
	}

	if (opts.PortSet || opts.Port != 0) && (opts.Port < 1 || opts.Port > 65535) {
		return nil, fmt.Errorf("--port must be between 1 and 65535, got %d", opts.Port)
	}

	domain := strings.TrimSpace(opts.Domain)
	if domain == "" {
		domain = DefaultDomain
	}
	if err := checkDomain(domain); err != nil {
		return nil, err
	}

	bundle := settings.Bundle
	bundle.Files = append([]string(nil), settings.Bundle.Files...)
	if opts.Bundle != "" {
		bundle.Source = opts.Bundle
	}
	if bundle.Source == "" {
		bundle.Source = "."
	}
	source, err := filepath.Abs(bundle.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bundle directory: %w", err)
	}
	bundle.Source = source
	if bundle.Entry == "" {
		return nil, fmt.Errorf("bundle.entry is required")
	}

	cfg := &RunConfig{
		DeployRoot:      filepath.Clean(settings.Paths.DeployRoot),
		BackupRoot:      filepath.Clean(settings.Paths.BackupRoot),
		LogFile:         filepath.Clean(settings.Paths.LogFile),
		DomainName:      domain,
		AdminEmail:      strings.TrimSpace(opts.Email),
		CustomPort:      opts.Port,
		SkipSSL:         opts.SkipSSL,
		SkipFirewall:    opts.SkipFirewall,
		Verbose:         opts.Verbose,
		Bundle:          bundle,
		Packages:        append([]string(nil), settings.Packages.Install...),
		ServiceAccount:  settings.Service.Account,
		ServiceUnit:     settings.Service.Unit,
		Proxy:           settings.Proxy,
		Host:            settings.Host,
		MetricsTextfile: settings.Metrics.Textfile,
	}

	for name, path := range map[string]string{
		"paths.deploy_root": cfg.DeployRoot,
		"paths.backup_root": cfg.BackupRoot,
		"paths.log_file":    cfg.LogFile,
	} {
		if !filepath.IsAbs(path) {
			return nil, fmt.Errorf("%s must be an absolute path, got %q", name, path)
		}
	}
	if cfg.DeployRoot == "/" {
		return nil, fmt.Errorf("paths.deploy_root must not be /")
	}

	return cfg, nil
}

// checkDomain rejects characters that would let a domain escape the
// server_name directive of the generated site definition.
func checkDomain(domain string) error {
	for _, r := range domain {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(";{}'\"\\$#", r) {
			return fmt.Errorf("invalid character %q in domain %q", r, domain)
		}
	}
	return nil
}

// HasRealDomain reports whether the domain can be issued a public certificate.
func (c *RunConfig) HasRealDomain() bool {
	domain := strings.TrimSpace(c.DomainName)
	if domain == "" || strings.EqualFold(domain, DefaultDomain) {
		return false
	}
	if strings.HasSuffix(strings.ToLower(domain), ".localhost") {
		return false
	}
	return net.ParseIP(strings.Trim(domain, "[]")) == nil
}

// Ports returns the inbound TCP ports the firewall must allow.
func (c *RunConfig) Ports() []int {
	ports := []int{22, 80, 443}
	if c.CustomPort == 0 {
		return ports
	}
	for _, p := range ports {
		if p == c.CustomPort {
			return ports
		}
	}
	return append(ports, c.CustomPort)
}

func (c *RunConfig) LogsDir() string    { return filepath.Join(c.DeployRoot, "logs") }
func (c *RunConfig) ConfigDir() string  { return filepath.Join(c.DeployRoot, "config") }
func (c *RunConfig) ExportsDir() string { return filepath.Join(c.DeployRoot, "exports") }

// EntryPath is the deployed location of the bundle's entry artifact.
func (c *RunConfig) EntryPath() string {
	return filepath.Join(c.DeployRoot, c.Bundle.Entry)
}
