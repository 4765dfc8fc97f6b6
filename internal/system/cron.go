package system

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CronJob is one scheduled command in its own cron.d file
type CronJob struct {
	Name     string // File name in the cron directory; no dots
	Schedule string
	User     string
	Command  string
}

// Render returns the cron.d file content
func (j CronJob) Render() string {
	user := j.User
	if user == "" {
		user = "root"
	}
	var b strings.Builder
	b.WriteString("# Managed by nids-deploy; changes are overwritten on the next run.\n")
	b.WriteString("SHELL=/bin/sh\n")
	b.WriteString("PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin\n")
	fmt.Fprintf(&b, "%s %s %s\n", j.Schedule, user, j.Command)
	return b.String()
}

// Crontab installs jobs as files in a cron.d directory. A job owns its
// file, so installing it again replaces the entry instead of adding one.
type Crontab struct {
	dir string
}

func NewCrontab(dir string) *Crontab {
	return &Crontab{dir: dir}
}

func (c *Crontab) Install(job CronJob) (string, error) {
	if job.Name == "" || strings.ContainsAny(job.Name, "./") {
		return "", fmt.Errorf("invalid cron job name %q", job.Name)
	}
	path := filepath.Join(c.dir, job.Name)
	if err := WriteFileAtomic(path, []byte(job.Render()), 0644); err != nil {
		return "", fmt.Errorf("failed to install cron job %s: %w", job.Name, err)
	}
	return path, nil
}
