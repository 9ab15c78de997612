package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/internal/snapshot"
)

// Deploy converges the unit to cfg. The attempt ends Succeeded with the new
// state verified, RolledBack to the pre-deploy snapshot, or
// FailedNoRollback. The error is nil only on success.
func (o *Orchestrator) Deploy(ctx context.Context, cfg appenv.Config) (*Attempt, error) {
	return o.deploy(ctx, func() (appenv.Config, error) { return cfg, nil })
}

// DeployFrom resolves the configuration during preflight, so resolution
// problems are reported as InvalidConfig attempts.
func (o *Orchestrator) DeployFrom(ctx context.Context, src ConfigSource) (*Attempt, error) {
	return o.deploy(ctx, src.Resolve)
}

func (o *Orchestrator) deploy(ctx context.Context, resolve func() (appenv.Config, error)) (*Attempt, error) {
	a := o.begin(OpDeploy)
	ctx, span := o.tracer.Start(ctx, "lifecycle.deploy")
	defer span.End()
	o.log(a).Info("deploy started")

	if err := o.enter(a, PreflightChecking); err != nil {
		return o.fail(ctx, a, err)
	}
	cfg, lock, perr := o.preflight(ctx, a, resolve)
	if perr != nil {
		return o.fail(ctx, a, perr)
	}
	defer o.release(a, lock)

	if err := o.enter(a, Snapshotting); err != nil {
		return o.fail(ctx, a, err)
	}
	snap, serr := o.capture(ctx, a, "pre-deploy")
	if serr != nil {
		return o.fail(ctx, a, serr)
	}
	a.PrecedingSnapshot = snap.ID

	if err := o.enter(a, Mutating); err != nil {
		return o.fail(ctx, a, err)
	}
	if merr := o.mutate(ctx, a, cfg); merr != nil {
		return o.recover(ctx, a, snap, merr)
	}

	if err := o.enter(a, Verifying); err != nil {
		return o.fail(ctx, a, err)
	}
	report, verr := o.verify(ctx, a, cfg, PhaseVerify)
	a.Verification = &report
	if verr != nil {
		return o.recover(ctx, a, snap, verr)
	}

	if err := o.enter(a, Committed); err != nil {
		return o.fail(ctx, a, err)
	}
	o.commit(ctx, a, cfg)
	return o.settle(ctx, a, Succeeded)
}

// preflight takes the unit lock and checks config, runtime and store
// before anything is touched. The lock is released on failure.
func (o *Orchestrator) preflight(ctx context.Context, a *Attempt, resolve func() (appenv.Config, error)) (appenv.Config, *unitLock, *Error) {
	ctx, span := o.startPhase(ctx, a, PhasePreflight)
	var perr *Error
	defer func() { endPhase(span, perr) }()

	lock, err := acquireLock(o.opts.LockDir, o.opts.Unit)
	if err != nil {
		kind := InvalidConfig
		if errors.Is(err, errLocked) {
			kind = ConcurrentOperationInProgress
		}
		perr = newError(kind, PhasePreflight, "acquire unit lock", err)
		return appenv.Config{}, nil, perr
	}

	cfg, perr := o.checkPreflight(ctx, resolve)
	if perr != nil {
		o.release(a, lock)
		return appenv.Config{}, nil, perr
	}
	o.log(a).Info("preflight passed", "image", cfg.Unit.Image)
	return cfg, lock, nil
}

func (o *Orchestrator) checkPreflight(ctx context.Context, resolve func() (appenv.Config, error)) (appenv.Config, *Error) {
	cfg, err := resolve()
	if err != nil {
		return cfg, newError(InvalidConfig, PhasePreflight, "resolve configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, newError(InvalidConfig, PhasePreflight, "validate configuration", err)
	}
	if cfg.Unit.Name != o.opts.Unit {
		return cfg, newError(InvalidConfig, PhasePreflight,
			fmt.Sprintf("unit spec names %q but this deployer manages %q", cfg.Unit.Name, o.opts.Unit), nil)
	}
	return cfg, o.checkEnvironment(ctx)
}

// checkEnvironment verifies the runtime answers and the store accepts writes.
func (o *Orchestrator) checkEnvironment(ctx context.Context) *Error {
	pingCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.driver.Ping(pingCtx); err != nil {
		return newError(RuntimeUnreachable, PhasePreflight, "ping container runtime", err)
	}
	if err := o.store.CheckWritable(); err != nil {
		return newError(SnapshotFailed, PhasePreflight, "snapshot store not writable", err)
	}
	return nil
}

func (o *Orchestrator) release(a *Attempt, lock *unitLock) {
	if err := lock.Release(); err != nil {
		logger := o.logger
		if a != nil {
			logger = o.log(a)
		}
		logger.Warn("release unit lock", "error", err)
	}
}

// capture snapshots the applied configuration and, when the unit runs, its
// data directory.
func (o *Orchestrator) capture(ctx context.Context, a *Attempt, trigger string) (snapshot.Snapshot, *Error) {
	ctx, span := o.startPhase(ctx, a, PhaseSnapshot)
	var serr *Error
	defer func() { endPhase(span, serr) }()

	callCtx, cancel := o.callContext(ctx)
	running, err := o.driver.IsRunning(callCtx, o.opts.Unit)
	cancel()
	if err != nil {
		serr = newError(SnapshotFailed, PhaseSnapshot, "inspect unit", err)
		return snapshot.Snapshot{}, serr
	}

	src := snapshot.Sources{
		EnvFile:  o.opts.Applied.EnvFile(),
		SpecFile: o.opts.Applied.SpecFile(),
		Trigger:  trigger,
	}
	dataDir := o.dataDir()
	switch {
	case dataDir == "":
		src.Skipped = map[string]string{snapshot.ArtifactData: "no data directory configured"}
	case !running:
		src.Skipped = map[string]string{snapshot.ArtifactData: "unit not running"}
	default:
		src.DataDir = dataDir
	}

	snap, err := o.store.Create(ctx, src)
	if err != nil {
		serr = newError(SnapshotFailed, PhaseSnapshot, "create snapshot", err)
		return snapshot.Snapshot{}, serr
	}
	logger := o.log(a)
	for name, reason := range snap.Missing {
		logger.Warn("snapshot artifact absent", "snapshot_id", snap.ID, "artifact", name, "reason", reason)
	}
	logger.Info("snapshot captured", "snapshot_id", snap.ID, "artifacts", snap.ArtifactNames())
	return snap, nil
}

// dataDir prefers the applied spec, which describes what is running now.
func (o *Orchestrator) dataDir() string {
	for _, src := range []appenv.Source{o.opts.Applied.Source(), o.opts.Working} {
		if src.SpecFile == "" {
			continue
		}
		unit, err := appenv.LoadUnitSpec(src.SpecFile)
		if err == nil && unit.DataDir != "" {
			return unit.DataDir
		}
	}
	return ""
}

func (o *Orchestrator) mutate(ctx context.Context, a *Attempt, cfg appenv.Config) *Error {
	ctx, span := o.startPhase(ctx, a, PhaseMutate)
	var merr *Error
	defer func() { endPhase(span, merr) }()

	mctx, cancel := context.WithTimeout(ctx, o.opts.MutateTimeout)
	defer cancel()
	if err := o.driver.Converge(mctx, cfg.Unit); err != nil {
		merr = newError(MutationFailed, PhaseMutate, "converge to "+cfg.Unit.Image, err)
		return merr
	}
	o.log(a).Info("unit converged", "image", cfg.Unit.Image)
	return nil
}

func (o *Orchestrator) verify(ctx context.Context, a *Attempt, cfg appenv.Config, phase Phase) (probe.Report, *Error) {
	ctx, span := o.startPhase(ctx, a, phase)
	report, err := o.verifier.Verify(ctx, cfg)
	verr := verificationError(report, err, phase)
	endPhase(span, verr)
	if verr == nil {
		o.log(a).Info("verification passed", "phase", string(phase), "attempts", report.Attempts)
	}
	return report, verr
}

func verificationError(report probe.Report, err error, phase Phase) *Error {
	switch {
	case err != nil:
		return newError(VerificationFailed, phase, "verification interrupted", err)
	case report.TimedOut:
		return newError(VerificationTimeout, phase,
			fmt.Sprintf("liveness did not pass after %d attempts in %s: %s", report.Attempts, report.Duration, report.Summary()), nil)
	case !report.AllPassed():
		return newError(VerificationFailed, phase, report.Summary(), nil)
	}
	return nil
}

// commit records the applied configuration and applies retention.
// Neither step can fail the attempt; problems become attempt warnings.
func (o *Orchestrator) commit(ctx context.Context, a *Attempt, cfg appenv.Config) {
	ctx, span := o.startPhase(ctx, a, PhaseCommit)
	defer span.End()
	logger := o.log(a)

	if err := o.opts.Applied.Record(cfg); err != nil {
		logger.Error("record applied configuration", "error", err)
		a.warn("applied configuration not recorded, a later rollback may restore stale settings: %v", err)
	}
	if n, err := o.store.Prune(ctx, o.opts.RetentionCount); err != nil {
		logger.Warn("snapshot retention failed", "error", err)
		a.warn("snapshot retention failed: %v", err)
	} else if n > 0 {
		logger.Info("snapshots pruned", "deleted", n, "keep", o.opts.RetentionCount)
	}
	if o.opts.RetentionMaxAge > 0 {
		if n, err := o.store.DeleteOlderThan(ctx, o.opts.RetentionMaxAge); err != nil {
			logger.Warn("snapshot age retention failed", "error", err)
			a.warn("snapshot age retention failed: %v", err)
		} else if n > 0 {
			logger.Info("expired snapshots deleted", "deleted", n, "max_age", o.opts.RetentionMaxAge.String())
		}
	}
}
