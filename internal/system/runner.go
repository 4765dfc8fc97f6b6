package system

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner executes host commands. Every collaborator (package manager,
// firewall, systemd, nginx, certbot, logrotate) is reached through it.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is returned when a command exits unsuccessfully
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	log logrus.FieldLogger
	env []string
}

// NewExecRunner creates a runner that adds env to the inherited environment
func NewExecRunner(log logrus.FieldLogger, env ...string) *ExecRunner {
	return &ExecRunner{log: log, env: env}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdline := CommandLine(name, args...)
	r.log.Debugf("exec: %s", cmdline)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), r.env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, &CommandError{Command: cmdline, Output: string(output), Err: err}
	}
	return output, nil
}

// Shell runs command through sh -c, for operator-configurable command strings
func Shell(ctx context.Context, runner Runner, command string) ([]byte, error) {
	return runner.Run(ctx, "sh", "-c", command)
}

// CommandLine joins a command for display
func CommandLine(name string, args ...string) string {
	return strings.TrimSpace(name + " " + strings.Join(args, " "))
}
