// Package metrics exposes lifecycle outcomes as Prometheus gauges and
// writes them to a node_exporter textfile.
//
// Every n8nctl invocation is its own process, so the series describe the
// last attempt of each operation rather than accumulating counts. Rates and
// totals are left to the scraper (changes(), count_over_time()). On start
// the Recorder reloads the gauges from the previous textfile, so a run that
// only lists snapshots keeps the last deploy's series in the export.
package metrics

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	"github.com/talosaether/n8n/internal/lifecycle"
	"github.com/talosaether/n8n/internal/snapshot"
)

var outcomes = []lifecycle.Outcome{
	lifecycle.OutcomeSucceeded,
	lifecycle.OutcomeRolledBack,
	lifecycle.OutcomeFailedNoRollback,
	lifecycle.OutcomeDeclined,
}

// Recorder owns a private registry so a short-lived CLI run exports exactly
// the n8nctl series.
type Recorder struct {
	registry       *prometheus.Registry
	outcome        *prometheus.GaugeVec
	finished       *prometheus.GaugeVec
	duration       *prometheus.GaugeVec
	stateDuration  *prometheus.GaugeVec
	snapshots      prometheus.Gauge
	snapshotBytes  prometheus.Gauge
	latestSnapshot prometheus.Gauge
	vecs           map[string]*prometheus.GaugeVec
	gauges         map[string]prometheus.Gauge
	textfile       string
	logger         *slog.Logger
}

// New builds a Recorder seeded from textfile when it exists. An empty
// textfile disables export.
func New(textfile string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Name:      "last_attempt_outcome",
			Help:      "1 for the outcome of the last attempt of each operation, 0 for the others",
		}, []string{"operation", "outcome"}),
		finished: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Name:      "last_attempt_timestamp_seconds",
			Help:      "Unix time the last attempt of each operation finished",
		}, []string{"operation"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Name:      "last_attempt_duration_seconds",
			Help:      "Wall time of the last attempt of each operation",
		}, []string{"operation"}),
		stateDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Name:      "last_attempt_state_duration_seconds",
			Help:      "Time the last attempt of each operation spent in each lifecycle state",
		}, []string{"operation", "state"}),
		snapshots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Subsystem: "snapshot",
			Name:      "count",
			Help:      "Number of stored snapshots",
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Subsystem: "snapshot",
			Name:      "bytes",
			Help:      "Total size of stored snapshots",
		}),
		latestSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "n8nctl",
			Subsystem: "snapshot",
			Name:      "latest_timestamp_seconds",
			Help:      "Creation time of the newest snapshot",
		}),
		textfile: textfile,
		logger:   logger,
	}
	r.vecs = map[string]*prometheus.GaugeVec{
		"n8nctl_last_attempt_outcome":                r.outcome,
		"n8nctl_last_attempt_timestamp_seconds":      r.finished,
		"n8nctl_last_attempt_duration_seconds":       r.duration,
		"n8nctl_last_attempt_state_duration_seconds": r.stateDuration,
	}
	r.gauges = map[string]prometheus.Gauge{
		"n8nctl_snapshot_count":                    r.snapshots,
		"n8nctl_snapshot_bytes":                    r.snapshotBytes,
		"n8nctl_snapshot_latest_timestamp_seconds": r.latestSnapshot,
	}
	r.registry.MustRegister(r.outcome, r.finished, r.duration, r.stateDuration,
		r.snapshots, r.snapshotBytes, r.latestSnapshot)
	r.restore()
	return r
}

// Registry exposes the collectors.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveAttempt replaces the series of a.Operation with a and flushes the
// textfile.
func (r *Recorder) ObserveAttempt(_ context.Context, a *lifecycle.Attempt) {
	op := string(a.Operation)
	for _, outcome := range outcomes {
		value := 0.0
		if outcome == a.Outcome {
			value = 1
		}
		r.outcome.WithLabelValues(op, string(outcome)).Set(value)
	}
	r.finished.WithLabelValues(op).Set(float64(a.EndedAt.Unix()))
	r.duration.DeleteLabelValues(op)
	if !a.EndedAt.IsZero() && !a.StartedAt.IsZero() {
		r.duration.WithLabelValues(op).Set(a.EndedAt.Sub(a.StartedAt).Seconds())
	}
	r.stateDuration.DeletePartialMatch(prometheus.Labels{"operation": op})
	for i := 0; i+1 < len(a.Transitions); i++ {
		cur, next := a.Transitions[i], a.Transitions[i+1]
		if cur.State == lifecycle.Idle {
			continue
		}
		r.stateDuration.WithLabelValues(op, string(cur.State)).Add(next.At.Sub(cur.At).Seconds())
	}
	r.flush()
}

// ObserveSnapshots sets the snapshot gauges from a listing.
func (r *Recorder) ObserveSnapshots(list []snapshot.Snapshot) {
	var total int64
	for _, snap := range list {
		total += snap.SizeBytes
	}
	r.snapshots.Set(float64(len(list)))
	r.snapshotBytes.Set(float64(total))
	if len(list) > 0 {
		r.latestSnapshot.Set(float64(list[0].CreatedAt.Unix()))
	} else {
		r.latestSnapshot.Set(0)
	}
	r.flush()
}

// Flush writes the textfile now.
func (r *Recorder) Flush() error {
	if r.textfile == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.textfile, r.registry)
}

func (r *Recorder) flush() {
	if err := r.Flush(); err != nil {
		r.logger.Warn("metrics textfile export failed", "path", r.textfile, "error", err)
	}
}

// restore loads the gauges of a previous export. Unknown families and
// label sets that no longer fit are ignored.
func (r *Recorder) restore() {
	if r.textfile == "" {
		return
	}
	f, err := os.Open(r.textfile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("read previous metrics textfile", "path", r.textfile, "error", err)
		}
		return
	}
	defer f.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		r.logger.Warn("parse previous metrics textfile", "path", r.textfile, "error", err)
		return
	}
	for name, family := range families {
		if family.GetType() != dto.MetricType_GAUGE {
			continue
		}
		for _, m := range family.GetMetric() {
			value := m.GetGauge().GetValue()
			if g, ok := r.gauges[name]; ok {
				g.Set(value)
				continue
			}
			vec, ok := r.vecs[name]
			if !ok {
				continue
			}
			labels := make(prometheus.Labels, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if g, err := vec.GetMetricWith(labels); err == nil {
				g.Set(value)
			}
		}
	}
}
