package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/internal/snapshot"
)

// recover rolls a failed deploy back to snap. It runs on a context detached
// from ctx so that a cancelled deploy is still restored, bounded by the
// rollback timeout. Recovery depth is one: a failing rollback is final.
func (o *Orchestrator) recover(ctx context.Context, a *Attempt, snap snapshot.Snapshot, cause *Error) (*Attempt, error) {
	a.Cause = cause
	o.log(a).Warn("rolling back", "snapshot_id", snap.ID, "cause", cause.Error())
	if err := o.enter(a, RollingBack); err != nil {
		return o.fail(ctx, a, err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RollbackTimeout)
	defer cancel()
	report, rerr := o.rollbackTo(rctx, a, snap)
	a.RollbackVerification = report
	if rerr != nil {
		return o.fail(ctx, a, rerr)
	}
	a.Err = cause
	return o.settle(ctx, a, RolledBack)
}

// Rollback restores ref ("latest" or a snapshot id) and verifies the
// restored unit once.
func (o *Orchestrator) Rollback(ctx context.Context, ref string) (*Attempt, error) {
	a := o.begin(OpRollback)
	ctx, span := o.tracer.Start(ctx, "lifecycle.rollback")
	defer span.End()
	return o.restoreFlow(ctx, a, ref, nil)
}

// Restore is Rollback on operator request. When interactive, nothing
// touches the runtime until the Confirmer agrees; a decline ends the
// attempt with no error.
func (o *Orchestrator) Restore(ctx context.Context, ref string, interactive bool) (*Attempt, error) {
	a := o.begin(OpRestore)
	ctx, span := o.tracer.Start(ctx, "lifecycle.restore")
	defer span.End()
	if !interactive {
		return o.restoreFlow(ctx, a, ref, nil)
	}

	snap, serr := o.resolveSnapshot(ctx, ref)
	if serr != nil {
		return o.fail(ctx, a, serr)
	}
	a.PrecedingSnapshot = snap.ID
	ok, err := o.confirm(ctx, snap)
	if err != nil || !ok {
		a.Declined = true
		a.Outcome = OutcomeDeclined
		if _, cerr := o.close(ctx, a); cerr != nil {
			return a, cerr
		}
		if err != nil {
			return a, fmt.Errorf("confirm restore: %w", err)
		}
		return a, nil
	}
	return o.restoreFlow(ctx, a, ref, &snap)
}

func (o *Orchestrator) confirm(ctx context.Context, snap snapshot.Snapshot) (bool, error) {
	if o.confirmer == nil {
		return false, errors.New("no confirmation prompt available")
	}
	question := fmt.Sprintf("Restore %s to snapshot %s taken %s (%v)? This replaces current data",
		o.opts.Unit, snap.ID, snap.CreatedAt.Format("2006-01-02 15:04:05 MST"), snap.ArtifactNames())
	return o.confirmer.Confirm(ctx, question)
}

// restoreFlow is shared by Rollback and Restore. A pre-resolved snapshot is
// used as is so that "latest" cannot move after confirmation.
func (o *Orchestrator) restoreFlow(ctx context.Context, a *Attempt, ref string, resolved *snapshot.Snapshot) (*Attempt, error) {
	o.log(a).Info("restore started", "ref", ref)
	if err := o.enter(a, PreflightChecking); err != nil {
		return o.fail(ctx, a, err)
	}

	pctx, span := o.startPhase(ctx, a, PhasePreflight)
	lock, err := acquireLock(o.opts.LockDir, o.opts.Unit)
	if err != nil {
		kind := InvalidConfig
		if errors.Is(err, errLocked) {
			kind = ConcurrentOperationInProgress
		}
		perr := newError(kind, PhasePreflight, "acquire unit lock", err)
		endPhase(span, perr)
		return o.fail(ctx, a, perr)
	}
	defer o.release(a, lock)

	var snap snapshot.Snapshot
	if resolved != nil {
		snap = *resolved
	} else {
		var serr *Error
		snap, serr = o.resolveSnapshot(pctx, ref)
		if serr != nil {
			endPhase(span, serr)
			return o.fail(ctx, a, serr)
		}
	}
	a.PrecedingSnapshot = snap.ID
	pingCtx, cancel := o.callContext(pctx)
	err = o.driver.Ping(pingCtx)
	cancel()
	if err != nil {
		perr := newError(RuntimeUnreachable, PhasePreflight, "ping container runtime", err)
		endPhase(span, perr)
		return o.fail(ctx, a, perr)
	}
	endPhase(span, nil)

	if err := o.enter(a, RollingBack); err != nil {
		return o.fail(ctx, a, err)
	}
	rctx, rcancel := context.WithTimeout(ctx, o.opts.RollbackTimeout)
	defer rcancel()
	report, rerr := o.rollbackTo(rctx, a, snap)
	a.RollbackVerification = report
	if rerr != nil {
		return o.fail(ctx, a, rerr)
	}
	return o.settle(ctx, a, RolledBack)
}

func (o *Orchestrator) resolveSnapshot(ctx context.Context, ref string) (snapshot.Snapshot, *Error) {
	if ref == "" {
		ref = snapshot.LatestRef
	}
	snap, err := o.store.Resolve(ctx, ref)
	if err != nil {
		return snapshot.Snapshot{}, newError(NoSnapshotAvailable, PhasePreflight, "resolve snapshot "+ref, err)
	}
	if rerr := o.checkRestorable(snap, PhasePreflight); rerr != nil {
		return snapshot.Snapshot{}, rerr
	}
	return snap, nil
}

// checkRestorable reports whether restoring snap leaves a configuration the
// unit can be converged to: env and spec must each come from the snapshot
// or already be applied. Nothing is touched when it fails.
func (o *Orchestrator) checkRestorable(snap snapshot.Snapshot, phase Phase) *Error {
	if snap.ID == "" {
		return newError(NoSnapshotAvailable, phase, "no snapshot to restore", nil)
	}
	if snap.Empty() {
		return newError(NoSnapshotAvailable, phase, fmt.Sprintf("snapshot %s captured no artifacts", snap.ID), nil)
	}
	var missing []string
	for name, applied := range map[string]string{
		snapshot.ArtifactEnv:  o.opts.Applied.EnvFile(),
		snapshot.ArtifactSpec: o.opts.Applied.SpecFile(),
	} {
		if snap.Has(name) {
			continue
		}
		if _, err := os.Stat(applied); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return newError(NoSnapshotAvailable, phase,
			fmt.Sprintf("snapshot %s lacks %s and no applied copy exists", snap.ID, strings.Join(missing, ", ")), nil)
	}
	return nil
}

// rollbackTo stops the unit, restores snap, converges to the restored
// configuration and verifies once. Any failure is final.
func (o *Orchestrator) rollbackTo(ctx context.Context, a *Attempt, snap snapshot.Snapshot) (*probe.Report, *Error) {
	ctx, span := o.startPhase(ctx, a, PhaseRollback)
	var rerr *Error
	defer func() { endPhase(span, rerr) }()
	logger := o.log(a).With("snapshot_id", snap.ID)

	if rerr = o.checkRestorable(snap, PhaseRollback); rerr != nil {
		return nil, rerr
	}

	stopCtx, cancel := context.WithTimeout(ctx, o.opts.StopGrace+o.opts.CallTimeout)
	if err := o.driver.Stop(stopCtx, o.opts.Unit, o.opts.StopGrace); err != nil {
		logger.Warn("stop before restore failed, continuing", "error", err)
	}
	cancel()

	targets := snapshot.Targets{
		EnvFile:  o.opts.Applied.EnvFile(),
		SpecFile: o.opts.Applied.SpecFile(),
	}
	if data, ok := snap.Artifacts[snapshot.ArtifactData]; ok {
		targets.DataDir = data.Source
	}
	if err := o.store.Restore(ctx, snap, targets); err != nil {
		rerr = newError(RollbackFailed, PhaseRollback, "restore snapshot "+snap.ID, err)
		return nil, rerr
	}
	logger.Info("snapshot restored", "artifacts", snap.ArtifactNames())

	cfg, err := o.opts.Applied.Source().Resolve()
	if err != nil {
		rerr = newError(RollbackFailed, PhaseRollback, "resolve restored configuration", err)
		return nil, rerr
	}
	mctx, mcancel := context.WithTimeout(ctx, o.opts.MutateTimeout)
	err = o.driver.Converge(mctx, cfg.Unit)
	mcancel()
	if err != nil {
		rerr = newError(RollbackFailed, PhaseRollback, "converge to restored "+cfg.Unit.Image, err)
		return nil, rerr
	}

	report, verr := o.verify(ctx, a, cfg, PhaseRollback)
	if verr != nil {
		rerr = newError(RollbackFailed, PhaseRollback, "restored unit failed verification: "+verr.Detail, verr.Err)
		return &report, rerr
	}
	return &report, nil
}
