package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/audit"
	"github.com/talosaether/n8n/internal/cli/output"
	"github.com/talosaether/n8n/internal/docker"
	"github.com/talosaether/n8n/internal/lifecycle"
	"github.com/talosaether/n8n/internal/metrics"
	"github.com/talosaether/n8n/internal/notify"
	"github.com/talosaether/n8n/internal/observability"
	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/internal/snapshot"
	"github.com/talosaether/n8n/pkg/config"
	"github.com/talosaether/n8n/pkg/logger"
)

// app holds everything a command needs, built from the deployer config.
type app struct {
	cfg     config.DeployerConfig
	logger  *slog.Logger
	printer *output.Printer
	docker  *docker.Client
	store   *snapshot.Store
	metrics *metrics.Recorder
	journal *audit.Journal
	orch    *lifecycle.Orchestrator

	closers []func(context.Context) error
}

// loadConfig reads the deployer config and builds the printer. Commands
// that never touch the runtime stop here.
func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.DeployerConfig, *output.Printer, error) {
	format, err := output.ParseFormat(flags.output)
	if err != nil {
		return config.DeployerConfig{}, nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.DeployerConfig{}, nil, err
	}
	return cfg, output.NewPrinter(cmd.OutOrStdout(), format), nil
}

func newApp(cmd *cobra.Command, flags *globalFlags, confirmer lifecycle.Confirmer) (*app, error) {
	cfg, printer, err := loadConfig(cmd, flags)
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if flags.verbose {
		level = "DEBUG"
	}
	log, logCloser, err := logger.NewWithOptions("n8nctl", logger.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	log = log.With("unit", cfg.Unit)

	a := &app{cfg: cfg, logger: log, printer: printer}
	a.closers = append(a.closers, func(context.Context) error { return logCloser.Close() })
	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	shutdown, err := observability.Setup(cmd.Context(), cfg.Telemetry, observability.Info{
		Service:     "n8nctl",
		Version:     Version,
		Environment: cfg.Environment,
		Unit:        cfg.Unit,
	}, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	a.docker, err = docker.New(cfg.DockerHost, cfg.Deploy.StopGracePeriod)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.docker.Close() })

	a.store, err = snapshot.New(cfg.Snapshots.Dir, snapshot.Options{
		Recipients:   cfg.Snapshots.Recipients,
		IdentityFile: cfg.Snapshots.IdentityFile,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.New(cfg.Metrics.TextfilePath, log)
	observers := []lifecycle.Observer{a.metrics}
	if cfg.AuditFile != "" {
		a.journal = audit.Open(cfg.AuditFile, log)
		observers = append(observers, a.journal)
	}
	if cfg.Notify.WebhookURL != "" {
		hook, err := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Token, cfg.Notify.Timeout, log)
		if err != nil {
			return nil, err
		}
		observers = append(observers, hook)
	}

	opts := []lifecycle.Option{lifecycle.WithLogger(log), lifecycle.WithObservers(observers...)}
	if confirmer != nil {
		opts = append(opts, lifecycle.WithConfirmer(confirmer))
	}
	a.orch = lifecycle.New(a.docker, a.store, a.suite(), lifecycle.Options{
		Unit:            cfg.Unit,
		Working:         appenv.NewSource(cfg.EnvFile, cfg.SpecFile),
		Applied:         appenv.Applied{Dir: cfg.StateDir},
		LockDir:         cfg.LockDir,
		MutateTimeout:   cfg.Deploy.MutateTimeout,
		StopGrace:       cfg.Deploy.StopGracePeriod,
		RollbackTimeout: cfg.Deploy.RollbackTimeout,
		RetentionCount:  cfg.Snapshots.RetentionCount,
		RetentionMaxAge: cfg.Snapshots.RetentionMaxAge,
	}, opts...)

	ok = true
	return a, nil
}

func (a *app) suite() probe.Suite {
	p := a.cfg.Probes
	v := a.cfg.Verify
	return probe.Suite{
		Driver:  a.docker,
		BaseURL: p.BaseURL,
		Options: probe.Options{
			Readiness:        p.Readiness,
			UI:               p.UI,
			ContainerHealth:  p.ContainerHealth,
			Logs:             p.Logs,
			LogLines:         p.LogLines,
			Resources:        p.Resources,
			MaxCPUPercent:    p.MaxCPUPercent,
			MaxMemoryPercent: p.MaxMemoryPercent,
			Database:         p.Database,
			Queue:            p.Queue,
			Push:             p.Push,
		},
		Verifier: probe.Verifier{
			Timeout:      v.Timeout,
			ProbeTimeout: v.ProbeTimeout,
			NewBackOff:   probe.Policy(v.Interval, v.MaxInterval, v.BackoffMultiplier),
			Logger:       a.logger,
		},
	}
}

// refreshSnapshotMetrics updates the snapshot gauges after a command that
// may have changed the store.
func (a *app) refreshSnapshotMetrics(ctx context.Context) {
	list, err := a.store.List(ctx)
	if err != nil {
		a.logger.Warn("list snapshots for metrics", "error", err)
		return
	}
	a.metrics.ObserveSnapshots(list)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Debug("close", "error", err)
		}
	}
}

// reportAttempt prints the outcome of an attempt and converts it into the
// process exit code. The summary already names the error, so only errors
// that ended an attempt without a terminal outcome are returned as is.
func (a *app) reportAttempt(attempt *lifecycle.Attempt, err error) error {
	if attempt == nil {
		return err
	}
	if perr := printAttempt(a.printer, attempt); perr != nil {
		return perr
	}
	if code := outcomeCode(attempt); code != ExitOK {
		return &exitError{code: code}
	}
	return err
}
