package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talosaether/n8n/internal/audit"
	"github.com/talosaether/n8n/internal/cli/output"
	"github.com/talosaether/n8n/internal/lifecycle"
	"github.com/talosaether/n8n/internal/probe"
	"github.com/talosaether/n8n/pkg/logger"
)

const testEnv = `N8N_HOST=automation.example.com
N8N_PORT=5678
N8N_PROTOCOL=https
N8N_BASIC_AUTH_USER=ops
N8N_BASIC_AUTH_PASSWORD=s3cure-and-long
`

const testSpec = `name: n8n
image: n8nio/n8n:1.64.0
data_dir: ./n8n_data
`

type fixture struct {
	dir    string
	config string
	audit  string
}

func newFixture(t *testing.T, env string) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{dir: dir, config: filepath.Join(dir, "n8nctl.yaml"), audit: filepath.Join(dir, "audit.jsonl")}
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write(".env", env)
	write("unit.yaml", testSpec)
	write("n8nctl.yaml", fmt.Sprintf(`unit: n8n
env_file: %[1]s/.env
spec_file: %[1]s/unit.yaml
lock_dir: %[1]s/locks
state_dir: %[1]s/state
audit_file: %[2]s
logging:
  level: error
snapshots:
  dir: %[1]s/backups
`, dir, f.audit))
	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	var errOut bytes.Buffer
	assert.Equal(t, ExitOK, exitCode(nil, &errOut))
	assert.Equal(t, ExitRolledBack, exitCode(&exitError{code: ExitRolledBack}, &errOut))
	assert.Empty(t, errOut.String())

	assert.Equal(t, ExitFailed, exitCode(errors.New("boom"), &errOut))
	assert.Contains(t, errOut.String(), "Error: boom")
}

func TestOutcomeCode(t *testing.T) {
	tests := []struct {
		op      lifecycle.Operation
		outcome lifecycle.Outcome
		want    int
	}{
		{lifecycle.OpDeploy, lifecycle.OutcomeSucceeded, ExitOK},
		{lifecycle.OpDeploy, lifecycle.OutcomeRolledBack, ExitRolledBack},
		{lifecycle.OpDeploy, lifecycle.OutcomeFailedNoRollback, ExitFailed},
		{lifecycle.OpRollback, lifecycle.OutcomeRolledBack, ExitOK},
		{lifecycle.OpRestore, lifecycle.OutcomeRolledBack, ExitOK},
		{lifecycle.OpRestore, lifecycle.OutcomeDeclined, ExitOK},
		{lifecycle.OpRestore, lifecycle.OutcomeFailedNoRollback, ExitFailed},
	}
	for _, tt := range tests {
		a := &lifecycle.Attempt{Operation: tt.op, Outcome: tt.outcome}
		assert.Equal(t, tt.want, outcomeCode(a), "%s/%s", tt.op, tt.outcome)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := run(t, "version", "-o", "xml")
	assert.Error(t, err)
}

func TestValidateRedactsSecrets(t *testing.T) {
	f := newFixture(t, testEnv)
	out, err := run(t, "validate", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid: n8n n8nio/n8n:1.64.0")
	assert.Contains(t, out, "editor url: https://automation.example.com:5678")
	assert.Contains(t, out, "automation.example.com")
	assert.NotContains(t, out, "s3cure-and-long")
}

func TestValidateRejectsPlaceholderValue(t *testing.T) {
	f := newFixture(t, testEnv+"N8N_ENCRYPTION_KEY=changeme123\n")
	_, err := run(t, "validate", "--config", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "N8N_ENCRYPTION_KEY")
}

func TestValidateRejectsUnknownProtocol(t *testing.T) {
	f := newFixture(t, strings.Replace(testEnv, "N8N_PROTOCOL=https", "N8N_PROTOCOL=ftp", 1))
	_, err := run(t, "validate", "--config", f.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "N8N_PROTOCOL must be http or https")
}

func TestSnapshotsListEmpty(t *testing.T) {
	f := newFixture(t, testEnv)
	out, err := run(t, "snapshots", "list", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "no snapshots in")
}

func TestHistoryReadsJournal(t *testing.T) {
	f := newFixture(t, testEnv)
	j := audit.Open(f.audit, logger.Discard())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(&lifecycle.Attempt{
		ID: "0195", Operation: lifecycle.OpDeploy, Unit: "n8n",
		StartedAt: start, EndedAt: start.Add(42 * time.Second),
		Outcome: lifecycle.OutcomeRolledBack, PrecedingSnapshot: "20260301T115900.000Z",
		Err: &lifecycle.Error{Kind: lifecycle.VerificationTimeout, Phase: lifecycle.PhaseVerify},
	}))

	out, err := run(t, "history", "--config", f.config)
	require.NoError(t, err)
	assert.Contains(t, out, "0195")
	assert.Contains(t, out, "VerificationTimeout")
	assert.Contains(t, out, "20260301T115900.000Z")
}

func TestPrintAttemptNeedsIntervention(t *testing.T) {
	var buf bytes.Buffer
	a := &lifecycle.Attempt{
		ID: "0196", Operation: lifecycle.OpDeploy, Unit: "n8n",
		Outcome: lifecycle.OutcomeFailedNoRollback,
		Err:     &lifecycle.Error{Kind: lifecycle.RollbackFailed, Phase: lifecycle.PhaseRollback, Detail: "converge to restored n8nio/n8n:1.63.0"},
		RollbackVerification: &probe.Report{
			Attempts: 1,
			Results:  []probe.Result{{Name: "liveness", Passed: false, Detail: "connection refused"}},
		},
	}
	require.NoError(t, printAttempt(output.NewPrinter(&buf, output.Table), a))
	assert.Contains(t, buf.String(), "deploy n8n failed: RollbackFailed in rollback")
	assert.Contains(t, buf.String(), "connection refused")
	assert.Contains(t, buf.String(), "manual intervention required")
}

func TestPrintAttemptShowsBothVerifications(t *testing.T) {
	var buf bytes.Buffer
	a := &lifecycle.Attempt{
		ID: "0197", Operation: lifecycle.OpDeploy, Unit: "n8n",
		Outcome:           lifecycle.OutcomeRolledBack,
		PrecedingSnapshot: "20260301T115900.000Z",
		Cause:             &lifecycle.Error{Kind: lifecycle.VerificationTimeout, Phase: lifecycle.PhaseVerify},
		Verification: &probe.Report{
			Attempts: 12, TimedOut: true,
			Results: []probe.Result{{Name: "liveness", Detail: "GET /healthz: status 502"}},
		},
		RollbackVerification: &probe.Report{
			Attempts: 1,
			Results:  []probe.Result{{Name: "liveness", Passed: true, Detail: "status=ok"}},
		},
	}
	require.NoError(t, printAttempt(output.NewPrinter(&buf, output.Table), a))
	out := buf.String()
	assert.Contains(t, out, "verification: 12 liveness attempt(s)")
	assert.Contains(t, out, "(timed out)")
	assert.Contains(t, out, "status 502")
	assert.Contains(t, out, "rollback verification: 1 liveness attempt(s)")
	assert.Contains(t, out, "status=ok")
	assert.NotContains(t, out, "not reached")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2*1024*1024))
}
