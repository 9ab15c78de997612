package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/talosaether/n8n/internal/cli/output"
	"github.com/talosaether/n8n/internal/lifecycle"
	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/internal/snapshot"
)

const timeLayout = "2006-01-02 15:04:05"

func printAttempt(p *output.Printer, a *lifecycle.Attempt) error {
	if p.Structured() {
		return p.Print(a)
	}
	p.Printf("%s\n", a.Summary())
	if a.Verification == nil && a.RollbackVerification == nil && a.Outcome != lifecycle.OutcomeDeclined {
		p.Printf("verification: not reached\n")
	}
	if err := printReport(p, "verification", a.Verification); err != nil {
		return err
	}
	if err := printReport(p, "rollback verification", a.RollbackVerification); err != nil {
		return err
	}
	if a.NeedsIntervention() {
		p.Printf("\nmanual intervention required: unit %s may be stopped or running an unverified configuration\n", a.Unit)
	}
	return nil
}

func printReport(p *output.Printer, label string, report *probe.Report) error {
	if report == nil {
		return nil
	}
	p.Printf("\n%s: %d liveness attempt(s) in %s%s\n",
		label, report.Attempts, report.Duration.Round(time.Millisecond), timedOutSuffix(report))
	return p.Print(reportView(*report))
}

func timedOutSuffix(r *probe.Report) string {
	if r.TimedOut {
		return " (timed out)"
	}
	return ""
}

type reportView probe.Report

func (reportView) Headers() []string { return []string{"probe", "result", "duration", "detail"} }

func (r reportView) Rows() [][]string {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		result := "pass"
		if !res.Passed {
			result = "FAIL"
		}
		rows = append(rows, []string{res.Name, result, res.Duration.Round(time.Millisecond).String(), res.Detail})
	}
	return rows
}

type snapshotList []snapshot.Snapshot

func (snapshotList) Headers() []string {
	return []string{"id", "created", "trigger", "size", "artifacts", "missing"}
}

func (l snapshotList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		artifacts := s.ArtifactNames()
		for i, name := range artifacts {
			if s.Artifacts[name].Encrypted {
				artifacts[i] = name + " (age)"
			}
		}
		missing := make([]string, 0, len(s.Missing))
		for name := range s.Missing {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		rows = append(rows, []string{
			s.ID,
			s.CreatedAt.Local().Format(timeLayout),
			s.Trigger,
			humanBytes(s.SizeBytes),
			orDash(strings.Join(artifacts, ", ")),
			orDash(strings.Join(missing, ", ")),
		})
	}
	return rows
}

type attemptList []lifecycle.Attempt

func (attemptList) Headers() []string {
	return []string{"id", "operation", "ended", "duration", "outcome", "error", "snapshot"}
}

func (l attemptList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, a := range l {
		errText := "-"
		if a.Err != nil {
			errText = string(a.Err.Kind)
		}
		rows = append(rows, []string{
			a.ID,
			string(a.Operation),
			a.EndedAt.Local().Format(timeLayout),
			a.EndedAt.Sub(a.StartedAt).Round(time.Second).String(),
			string(a.Outcome),
			errText,
			orDash(a.PrecedingSnapshot),
		})
	}
	return rows
}

func statusPairs(st lifecycle.Status) [][2]string {
	u := st.Unit
	state := "absent"
	switch {
	case u.Running:
		state = "running"
	case u.Exists:
		state = "stopped"
	}
	pairs := [][2]string{
		{"unit", u.Unit},
		{"state", state},
		{"image", orDash(u.Image)},
		{"health", string(u.Health)},
	}
	if !u.StartedAt.IsZero() {
		pairs = append(pairs, [2]string{"started", u.StartedAt.Local().Format(timeLayout)})
	}
	if st.Usage != nil {
		pairs = append(pairs,
			[2]string{"cpu", fmt.Sprintf("%.1f%%", st.Usage.CPUPercent)},
			[2]string{"memory", fmt.Sprintf("%.1f%% (%s of %s)", st.Usage.MemoryPercent,
				humanBytes(int64(st.Usage.MemoryBytes)), humanBytes(int64(st.Usage.MemoryLimit)))},
		)
	}
	pairs = append(pairs,
		[2]string{"applied config", strconv.FormatBool(st.Applied)},
		[2]string{"snapshots", strconv.Itoa(st.Snapshots)},
		[2]string{"latest snapshot", orDash(st.LatestSnapshot)},
	)
	return pairs
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
