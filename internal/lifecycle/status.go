package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/talosaether/n8n/internal/runtime"
	"github.com/talosaether/n8n/internal/snapshot"
)

// ListSnapshots returns stored snapshots, newest first.
func (o *Orchestrator) ListSnapshots(ctx context.Context) ([]snapshot.Snapshot, error) {
	return o.store.List(ctx)
}

// CreateSnapshot takes an on-demand snapshot under the unit lock.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, trigger string) (snapshot.Snapshot, error) {
	a := o.begin(OpSnapshot)
	lock, err := o.lockFor(PhaseSnapshot)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	defer o.release(a, lock)

	if err := o.checkEnvironment(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, serr := o.capture(ctx, a, trigger)
	if serr != nil {
		return snapshot.Snapshot{}, serr
	}
	return snap, nil
}

// DeleteSnapshot removes one snapshot. It waits for no one: a running
// operation makes it fail with ConcurrentOperationInProgress.
func (o *Orchestrator) DeleteSnapshot(ctx context.Context, id string) error {
	lock, err := o.lockFor(PhaseSnapshot)
	if err != nil {
		return err
	}
	defer o.release(nil, lock)
	return o.store.Delete(ctx, id)
}

// PruneSnapshots applies the retention policy now, keeping at least keep
// snapshots. A keep of zero uses the configured count.
func (o *Orchestrator) PruneSnapshots(ctx context.Context, keep int) (int, error) {
	lock, err := o.lockFor(PhaseSnapshot)
	if err != nil {
		return 0, err
	}
	defer o.release(nil, lock)
	if keep <= 0 {
		keep = o.opts.RetentionCount
	}
	removed, err := o.store.Prune(ctx, keep)
	if err != nil {
		return removed, err
	}
	if o.opts.RetentionMaxAge > 0 {
		n, err := o.store.DeleteOlderThan(ctx, o.opts.RetentionMaxAge)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (o *Orchestrator) lockFor(phase Phase) (*unitLock, error) {
	lock, err := acquireLock(o.opts.LockDir, o.opts.Unit)
	if err == nil {
		return lock, nil
	}
	if errors.Is(err, errLocked) {
		return nil, newError(ConcurrentOperationInProgress, phase, "acquire unit lock", err)
	}
	return nil, fmt.Errorf("acquire unit lock: %w", err)
}

// Status describes the unit as the runtime sees it.
type Status struct {
	Unit           runtime.UnitStatus `json:"unit" yaml:"unit"`
	Usage          *runtime.Usage     `json:"usage,omitempty" yaml:"usage,omitempty"`
	Logs           []string           `json:"logs,omitempty" yaml:"logs,omitempty"`
	LatestSnapshot string             `json:"latest_snapshot,omitempty" yaml:"latest_snapshot,omitempty"`
	Snapshots      int                `json:"snapshots" yaml:"snapshots"`
	Applied        bool               `json:"applied" yaml:"applied"`
}

// Status gathers runtime state, usage and the last logLines log lines.
// Usage and logs are best effort.
func (o *Orchestrator) Status(ctx context.Context, logLines int) (Status, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	unit, err := o.driver.Status(callCtx, o.opts.Unit)
	if err != nil {
		return Status{}, fmt.Errorf("unit status: %w", err)
	}
	st := Status{Unit: unit, Applied: o.opts.Applied.Exists()}
	if unit.Running {
		if usage, err := o.driver.ResourceUsage(callCtx, o.opts.Unit); err == nil {
			st.Usage = &usage
		} else {
			o.logger.Debug("resource usage unavailable", "unit", o.opts.Unit, "error", err)
		}
	}
	if unit.Exists && logLines > 0 {
		if lines, err := o.driver.RecentLogs(callCtx, o.opts.Unit, logLines); err == nil {
			st.Logs = lines
		}
	}
	if list, err := o.store.List(ctx); err == nil {
		st.Snapshots = len(list)
		if len(list) > 0 {
			st.LatestSnapshot = list[0].ID
		}
	}
	return st, nil
}
