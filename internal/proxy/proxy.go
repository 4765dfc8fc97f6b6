package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is returned when the proxy rejects the generated configuration
var ErrSyntax = errors.New("proxy configuration test failed")

// SyntaxError carries the output of the failed configuration test
type SyntaxError struct {
	Output string
}

func (e *SyntaxError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return ErrSyntax.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSyntax, output)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// SiteConfig is the data rendered into the site definition
type SiteConfig struct {
	Name         string
	Domain       string
	Root         string
	Index        string
	HtpasswdFile string
	AccessLog    string
	ErrorLog     string
}

// ProxyManager defines the interface for reverse proxy management
type ProxyManager interface {
	// Render returns the site definition for site without touching the host
	Render(site *SiteConfig) ([]byte, error)

	// Activate installs and enables the site, tests the full configuration and
	// reloads the proxy. A rejected configuration is rolled back and no reload
	// happens.
	Activate(ctx context.Context, site *SiteConfig) error

	// Reload tests the current configuration and reloads the proxy
	Reload(ctx context.Context) error
}
