package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jawher/mow.cli"

	"github.com/BlueBeard63/nids-deploy/internal/config"
	"github.com/BlueBeard63/nids-deploy/internal/logger"
	"github.com/BlueBeard63/nids-deploy/internal/metrics"
	"github.com/BlueBeard63/nids-deploy/internal/models"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline/stages"
	"github.com/BlueBeard63/nids-deploy/internal/report"
	"github.com/BlueBeard63/nids-deploy/internal/system"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// usageError marks problems with the invocation itself; no stage has run
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// deployFunc performs one deployment run
type deployFunc func(opts config.Options, configPath string) error

func main() {
	os.Exit(runCLI(os.Args, os.Stderr, run))
}

// runCLI parses args, runs deploy and maps the outcome to an exit code:
// 0 on success or --help, 1 when a stage failed, 2 for a bad invocation.
func runCLI(args []string, stderr io.Writer, deploy deployFunc) int {
	app := cli.App("nids-deploy", "Deploy the NIDS dashboard behind nginx on this host")
	app.ErrorHandling = flag.ContinueOnError

	var portSet bool
	var (
		domain = app.StringOpt("domain", "", "Domain name to serve; localhost or an IP address skips TLS")
		email  = app.StringOpt("email", "", "Contact address for the Let's Encrypt account")
		port   = app.Int(cli.IntOpt{
			Name:      "port",
			Value:     0,
			Desc:      "Extra inbound TCP port (1-65535) to allow through the firewall",
			SetByUser: &portSet,
		})
		skipSSL      = app.BoolOpt("skip-ssl", false, "Do not request a TLS certificate")
		skipFirewall = app.BoolOpt("skip-firewall", false, "Leave the firewall untouched")
		configPath   = app.StringOpt("config", config.DefaultConfigPath, "Host settings file (TOML)")
		bundle       = app.StringOpt("bundle", "", "Directory holding the application bundle (default: current directory)")
		verbose      = app.BoolOpt("v verbose", false, "Log every command executed")
	)

	exitCode := exitOK
	app.Action = func() {
		opts := config.Options{
			Domain:       *domain,
			Email:        *email,
			Port:         *port,
			PortSet:      portSet,
			SkipSSL:      *skipSSL,
			SkipFirewall: *skipFirewall,
			Verbose:      *verbose,
			Bundle:       *bundle,
		}

		err := deploy(opts, *configPath)
		var usageErr *usageError
		switch {
		case err == nil:
			exitCode = exitOK
		case errors.As(err, &usageErr):
			fmt.Fprintf(stderr, "Error: %v\n", err)
			exitCode = exitUsage
		default:
			exitCode = exitFailed
		}
	}

	if err := app.Run(args); err != nil {
		if helpRequested(args[1:]) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	return exitCode
}

// helpRequested mirrors mow.cli, which answers -h/--help before checking
// anything else on the command line
func helpRequested(args []string) bool {
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == "-h" || arg == "--help" {
			return true
		}
	}
	return false
}

func run(opts config.Options, configPath string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return &usageError{err}
	}
	settings.ApplyEnv(config.DefaultEnvFile)

	cfg, err := config.New(opts, settings)
	if err != nil {
		return &usageError{err}
	}

	log := logger.New(cfg.LogFile, os.Stdout, cfg.Verbose)
	defer logger.Close(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := system.NewExecRunner(log, "DEBIAN_FRONTEND=noninteractive")
	state := pipeline.NewDeploymentState(cfg, models.NewRunVersion(time.Now()), log)
	log.Debugf("deployment %s (%s) of %s for %s", state.Version, state.ID, cfg.Bundle.Source, cfg.DomainName)

	deps := stages.NewDependencies(cfg, runner, log)
	runErr := stages.NewDeploymentPipeline(deps).Execute(ctx, state)

	r := state.Report()
	report.Render(os.Stdout, r)

	// A run that never got past the permission check must not touch the host
	if cfg.MetricsTextfile != "" && r.Status("permissions") == models.StageStatusOK {
		recorder := metrics.NewRecorder()
		recorder.Observe(r)
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Warnf("failed to write metrics to %s: %v", cfg.MetricsTextfile, err)
		}
	}

	return runErr
}
