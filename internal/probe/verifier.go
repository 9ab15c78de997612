package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Clock abstracts time for the polling loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Policy returns a wait policy starting at interval and growing by
// multiplier up to maxInterval. A multiplier of 1 polls at a fixed interval.
func Policy(interval, maxInterval time.Duration, multiplier float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		if multiplier <= 1 {
			return backoff.NewConstantBackOff(interval)
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval
		b.Multiplier = multiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		b.Reset()
		return b
	}
}

// Verifier polls the liveness probe until it passes or Timeout elapses,
// then runs the remaining probes once.
type Verifier struct {
	Set          Set
	Clock        Clock
	Timeout      time.Duration
	ProbeTimeout time.Duration
	NewBackOff   func() backoff.BackOff
	Logger       *slog.Logger
}

// Verify blocks for at most Timeout plus one ProbeTimeout. The only error
// returned is the context's; probe failures are carried in the Report.
func (v *Verifier) Verify(ctx context.Context, target Target) (Report, error) {
	clock := v.Clock
	if clock == nil {
		clock = SystemClock
	}
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}
	newBackOff := v.NewBackOff
	if newBackOff == nil {
		newBackOff = Policy(5*time.Second, 0, 1)
	}

	start := clock.Now()
	deadline := start.Add(v.Timeout)
	var report Report
	finish := func() Report {
		report.Duration = clock.Now().Sub(start)
		return report
	}

	if v.Set.Liveness == nil {
		report.Results = append(report.Results, Result{Name: "liveness", Detail: "no liveness probe configured"})
		return finish(), nil
	}

	policy := newBackOff()
	policy.Reset()
	var live Result
	for {
		report.Attempts++
		timeout := v.ProbeTimeout
		if remaining := deadline.Sub(clock.Now()); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
		live = v.Set.Liveness.Run(ctx, target, timeout)
		if live.Passed {
			break
		}
		logger.Debug("liveness probe failed", "attempt", report.Attempts, "detail", live.Detail)
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, live)
			return finish(), err
		}

		wait := policy.NextBackOff()
		remaining := deadline.Sub(clock.Now())
		if wait == backoff.Stop || remaining <= 0 {
			report.TimedOut = true
			report.Results = append(report.Results, live)
			return finish(), nil
		}
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			report.Results = append(report.Results, live)
			return finish(), ctx.Err()
		case <-clock.After(wait):
		}
	}

	report.Results = append(report.Results, live)
	for _, p := range v.Set.Others {
		if err := ctx.Err(); err != nil {
			return finish(), err
		}
		res := p.Run(ctx, target, v.ProbeTimeout)
		if !res.Passed {
			logger.Warn("probe failed", "probe", res.Name, "detail", res.Detail)
		}
		report.Results = append(report.Results, res)
	}
	return finish(), nil
}
