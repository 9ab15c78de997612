// Package probe runs named health checks against the managed unit and
// aggregates them into a verification report.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Target identifies what the probes check.
type Target struct {
	Unit     string
	BaseURL  string
	Username string
	Password string
	// Values are the application settings, consulted by backing-service probes.
	Values map[string]string
}

// Result is the outcome of one probe run.
type Result struct {
	Name     string        `json:"name" yaml:"name"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Detail   string        `json:"detail" yaml:"detail"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Probe is a single named check. Run must not panic and must honour
// timeout; a check that cannot execute reports a failed Result.
type Probe interface {
	Name() string
	Run(ctx context.Context, target Target, timeout time.Duration) Result
}

// Set is the ordered probe sequence. Liveness gates the others.
type Set struct {
	Liveness Probe
	Others   []Probe
}

// Names returns probe names in run order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s.Others)+1)
	if s.Liveness != nil {
		names = append(names, s.Liveness.Name())
	}
	for _, p := range s.Others {
		names = append(names, p.Name())
	}
	return names
}

// Report aggregates one verification run.
type Report struct {
	Results []Result `json:"results" yaml:"results"`
	// Attempts counts liveness polls.
	Attempts int           `json:"attempts" yaml:"attempts"`
	TimedOut bool          `json:"timed_out" yaml:"timed_out"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// AllPassed is the conjunction of every result. An empty report has not
// verified anything and does not pass.
func (r Report) AllPassed() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failing results in order.
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Summary condenses failures into one line.
func (r Report) Summary() string {
	failed := r.Failed()
	if len(failed) == 0 {
		return fmt.Sprintf("%d probes passed", len(r.Results))
	}
	parts := make([]string, 0, len(failed))
	for _, res := range failed {
		parts = append(parts, res.Name+": "+res.Detail)
	}
	return strings.Join(parts, "; ")
}

func run(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) (string, error)) Result {
	start := time.Now()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{Name: name}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Detail = fmt.Sprintf("probe panicked: %v", r)
			}
		}()
		detail, err := fn(runCtx)
		if err != nil {
			res.Detail = err.Error()
			return
		}
		res.Passed = true
		res.Detail = detail
	}()
	res.Duration = time.Since(start)
	return res
}
