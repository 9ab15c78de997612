// Package lifecycle drives the managed unit through preflight, snapshot,
// mutate and verify, then commits or rolls back to the captured snapshot.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/talosaether/n8n/internal/appenv"
	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/internal/runtime"
	"github.com/talosaether/n8n/internal/snapshot"
)

// SnapshotStore is the storage capability the orchestrator consumes.
type SnapshotStore interface {
	CheckWritable() error
	Create(ctx context.Context, src snapshot.Sources) (snapshot.Snapshot, error)
	List(ctx context.Context) ([]snapshot.Snapshot, error)
	Resolve(ctx context.Context, ref string) (snapshot.Snapshot, error)
	Restore(ctx context.Context, snap snapshot.Snapshot, to snapshot.Targets) error
	Delete(ctx context.Context, id string) error
	Prune(ctx context.Context, keep int) (int, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Verifier runs the probe set against a converged unit.
type Verifier interface {
	Verify(ctx context.Context, cfg appenv.Config) (probe.Report, error)
}

// ConfigSource resolves application settings.
type ConfigSource interface {
	Resolve() (appenv.Config, error)
}

// Confirmer asks the operator before an interactive restore.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// Observer is told about every finished attempt.
type Observer interface {
	ObserveAttempt(ctx context.Context, a *Attempt)
}

// Options bound and locate the orchestrator's work.
type Options struct {
	Unit string
	// Working holds the operator-edited env and spec files.
	Working appenv.Source
	// Applied holds the configuration last converged successfully;
	// snapshots capture it and rollbacks restore into it.
	Applied         appenv.Applied
	LockDir         string
	CallTimeout     time.Duration
	MutateTimeout   time.Duration
	StopGrace       time.Duration
	RollbackTimeout time.Duration
	RetentionCount  int
	RetentionMaxAge time.Duration
}

// Orchestrator runs deployment attempts for one unit.
type Orchestrator struct {
	driver    runtime.Driver
	store     SnapshotStore
	verifier  Verifier
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	observers []Observer
	confirmer Confirmer
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithObservers(observers ...Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, observers...) }
}

func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// New wires an orchestrator. Zero timeouts fall back to defaults.
func New(driver runtime.Driver, store SnapshotStore, verifier Verifier, opts Options, options ...Option) *Orchestrator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.MutateTimeout <= 0 {
		opts.MutateTimeout = 5 * time.Minute
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 30 * time.Second
	}
	if opts.RollbackTimeout <= 0 {
		opts.RollbackTimeout = 5 * time.Minute
	}
	if opts.RetentionCount <= 0 {
		opts.RetentionCount = 7
	}
	if opts.LockDir == "" {
		opts.LockDir = "/tmp"
	}
	o := &Orchestrator{
		driver:   driver,
		store:    store,
		verifier: verifier,
		opts:     opts,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/talosaether/n8n/internal/lifecycle"),
		now:      time.Now,
	}
	for _, apply := range options {
		apply(o)
	}
	return o
}

func (o *Orchestrator) begin(op Operation) *Attempt {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	m := newMachine(o.now)
	return &Attempt{
		ID:        id.String(),
		Operation: op,
		Unit:      o.opts.Unit,
		StartedAt: o.now().UTC(),
		machine:   m,
	}
}

func (o *Orchestrator) log(a *Attempt) *slog.Logger {
	return o.logger.With("attempt_id", a.ID, "operation", string(a.Operation), "unit", a.Unit)
}

// enter moves the attempt to state. An illegal move is an orchestrator bug
// and surfaces as an Internal error.
func (o *Orchestrator) enter(a *Attempt, state State) *Error {
	from := a.State()
	if err := a.machine.advance(state); err != nil {
		return newError(Internal, phaseOf(from), "state machine", err)
	}
	o.log(a).Debug("state entered", "from", string(from), "to", string(state))
	return nil
}

func phaseOf(s State) Phase {
	switch s {
	case Snapshotting:
		return PhaseSnapshot
	case Mutating:
		return PhaseMutate
	case Verifying:
		return PhaseVerify
	case Committed:
		return PhaseCommit
	case RollingBack:
		return PhaseRollback
	default:
		return PhasePreflight
	}
}

// fail ends the attempt in FailedNoRollback with err.
func (o *Orchestrator) fail(ctx context.Context, a *Attempt, err *Error) (*Attempt, error) {
	a.Err = err
	return o.settle(ctx, a, FailedNoRollback)
}

// settle moves to a terminal state, freezes the attempt and notifies
// observers.
func (o *Orchestrator) settle(ctx context.Context, a *Attempt, state State) (*Attempt, error) {
	if err := a.machine.advance(state); err != nil {
		o.log(a).Error("forcing terminal state", "state", string(state), "error", err)
		a.machine.current = state
		a.machine.history = append(a.machine.history, Transition{State: state, At: o.now()})
		if a.Err == nil {
			a.Err = newError(Internal, phaseOf(a.State()), "state machine", err)
		}
	}
	switch state {
	case Succeeded:
		a.Outcome = OutcomeSucceeded
	case RolledBack:
		a.Outcome = OutcomeRolledBack
	default:
		a.Outcome = OutcomeFailedNoRollback
	}
	return o.close(ctx, a)
}

func (o *Orchestrator) close(ctx context.Context, a *Attempt) (*Attempt, error) {
	a.EndedAt = o.now().UTC()
	a.Transitions = append([]Transition(nil), a.machine.history...)

	logger := o.log(a)
	attrs := []any{"outcome", string(a.Outcome), "duration", a.EndedAt.Sub(a.StartedAt).String()}
	if a.PrecedingSnapshot != "" {
		attrs = append(attrs, "snapshot_id", a.PrecedingSnapshot)
	}
	switch {
	case a.Outcome == OutcomeSucceeded || a.Outcome == OutcomeDeclined:
		logger.Info("attempt finished", attrs...)
	case a.Outcome == OutcomeRolledBack:
		logger.Warn("attempt finished", append(attrs, "cause", errorText(a.Cause))...)
	default:
		logger.Error("attempt finished", append(attrs, "error", errorText(a.Err))...)
	}

	observeCtx := context.WithoutCancel(ctx)
	for _, obs := range o.observers {
		obs.ObserveAttempt(observeCtx, a)
	}

	var err error
	if a.Err != nil {
		err = a.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && a.Outcome != OutcomeSucceeded {
		if err == nil {
			return a, ctxErr
		}
		if !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
	}
	return a, err
}

func (o *Orchestrator) startPhase(ctx context.Context, a *Attempt, phase Phase) (context.Context, trace.Span) {
	return o.tracer.Start(ctx, "lifecycle."+string(phase), trace.WithAttributes(
		attribute.String("n8nctl.attempt_id", a.ID),
		attribute.String("n8nctl.unit", a.Unit),
		attribute.String("n8nctl.phase", string(phase)),
	))
}

func endPhase(span trace.Span, err *Error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(err.Kind))
	}
	span.End()
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}
