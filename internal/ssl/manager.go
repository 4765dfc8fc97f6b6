package ssl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const (
	RenewJobName  = "nids-certbot-renew"
	RenewSchedule = "0 3,15 * * *"
	RenewCommand  = `certbot renew --quiet --post-hook "systemctl reload nginx"`
)

type Manager struct {
	runner  system.Runner
	crontab *system.Crontab
	liveDir string
	log     logrus.FieldLogger
}

func NewManager(runner system.Runner, crontab *system.Crontab, liveDir string, log logrus.FieldLogger) *Manager {
	return &Manager{
		runner:  runner,
		crontab: crontab,
		liveDir: liveDir,
		log:     log,
	}
}

// ObtainCertificate runs certbot's nginx plugin for domain, which installs
// the certificate into the site and adds the HTTP to HTTPS redirect.
// Returns paths to cert and key files.
func (m *Manager) ObtainCertificate(ctx context.Context, domain, email string) (string, string, error) {
	if domain == "" {
		return "", "", fmt.Errorf("domain is required")
	}

	args := []string{
		"--nginx",
		"-d", domain,
		"--non-interactive",
		"--agree-tos",
		"--redirect",
	}
	if email != "" {
		args = append(args, "--email", email)
	} else {
		m.log.Warn("No admin email given; registering with Let's Encrypt without one")
		args = append(args, "--register-unsafely-without-email")
	}

	if _, err := m.runner.Run(ctx, "certbot", args...); err != nil {
		return "", "", fmt.Errorf("certbot failed: %w", err)
	}

	// Certbot stores certificates in <live>/<domain>/
	certPath := filepath.Join(m.liveDir, domain, "fullchain.pem")
	keyPath := filepath.Join(m.liveDir, domain, "privkey.pem")

	// Verify files exist
	if _, err := os.Stat(certPath); err != nil {
		return "", "", fmt.Errorf("certificate not found at %s: %w", certPath, err)
	}
	if _, err := os.Stat(keyPath); err != nil {
		return "", "", fmt.Errorf("key not found at %s: %w", keyPath, err)
	}

	return certPath, keyPath, nil
}

// ScheduleRenewal installs the twice-daily renewal job, replacing any
// earlier copy of it
func (m *Manager) ScheduleRenewal() (string, error) {
	return m.crontab.Install(system.CronJob{
		Name:     RenewJobName,
		Schedule: RenewSchedule,
		Command:  RenewCommand,
	})
}
