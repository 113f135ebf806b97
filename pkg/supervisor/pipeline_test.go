package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UrHighness01/Intelli-sub000/pkg/capability"
	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

type noopAlerts struct {
	approvalCreated []map[string]any
	alerts          []string
}

func (n *noopAlerts) FireApprovalCreated(payload map[string]any) {
	n.approvalCreated = append(n.approvalCreated, payload)
}
func (n *noopAlerts) FireAlert(alert string, details map[string]any) {
	n.alerts = append(n.alerts, alert)
}

type noopAudit struct{ events []string }

func (n *noopAudit) Record(event, actor string, details map[string]any) {
	n.events = append(n.events, event)
}

func newTestSupervisor(t *testing.T, manifestDir string) (*Supervisor, *noopAlerts) {
	t.Helper()
	caps := capability.NewRegistry(manifestDir, "ALL")
	filter, err := NewContentFilter("", nil)
	require.NoError(t, err)
	alerts := &noopAlerts{}
	audit := &noopAudit{}
	sup, err := New(Config{ApprovalQueueThreshold: 0}, caps, filter, alerts, audit, nil)
	require.NoError(t, err)
	return sup, alerts
}

func TestProcessCall_HighRiskHeuristicQueued(t *testing.T) {
	sup, alerts := newTestSupervisor(t, t.TempDir())
	res, err := sup.ProcessCall(tooltype.ToolCall{Tool: "system.exec", Args: map[string]any{"command": "rm -rf /"}})
	require.NoError(t, err)
	assert.Equal(t, tooltype.StatusPendingApproval, res.Status)
	assert.Equal(t, int64(1), res.ApprovalID)
	assert.Equal(t, 1, sup.Queue().PendingCount())
	assert.Len(t, alerts.approvalCreated, 1)
}

func TestProcessCall_ManifestOverrideAcceptsHighHeuristic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "file"), 0o755))
	manifest := `{"tool":"file.read","requires_approval":false}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file", "read.json"), []byte(manifest), 0o644))

	sup, _ := newTestSupervisor(t, dir)
	res, err := sup.ProcessCall(tooltype.ToolCall{Tool: "file.read", Args: map[string]any{"path": "../etc/passwd"}})
	require.NoError(t, err)
	assert.Equal(t, tooltype.StatusAccepted, res.Status)
	assert.Equal(t, tooltype.RiskHigh, res.Risk)
	assert.Equal(t, "../etc/passwd", res.Args["path"])
}

func TestProcessCall_ManifestRequiresApprovalOverridesLowRisk(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"tool":"noop.ping","requires_approval":true}`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "noop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noop", "ping.json"), []byte(manifest), 0o644))
	sup, _ := newTestSupervisor(t, dir)
	res, err := sup.ProcessCall(tooltype.ToolCall{Tool: "noop.ping", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, tooltype.StatusPendingApproval, res.Status)
}

func TestProcessCall_ContentPolicyViolation(t *testing.T) {
	caps := capability.NewRegistry(t.TempDir(), "ALL")
	filter, err := NewContentFilter("DROP TABLE", nil)
	require.NoError(t, err)
	sup, err := New(Config{}, caps, filter, nil, nil, nil)
	require.NoError(t, err)

	_, err = sup.ProcessCall(tooltype.ToolCall{Tool: "chat.echo", Args: map[string]any{"text": "drop table users;"}})
	require.Error(t, err)
	var pv *PolicyViolation
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "DROP TABLE", pv.Pattern)
}

func TestProcessCall_CapabilityDenied(t *testing.T) {
	dir := t.TempDir()
	manifest := `{"tool":"net.fetch","required":["net.http"]}`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net", "fetch.json"), []byte(manifest), 0o644))
	caps := capability.NewRegistry(dir, "fs.read")
	filter, err := NewContentFilter("", nil)
	require.NoError(t, err)
	sup, err := New(Config{}, caps, filter, nil, nil, nil)
	require.NoError(t, err)

	res, err := sup.ProcessCall(tooltype.ToolCall{Tool: "net.fetch", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, tooltype.StatusCapabilityDenied, res.Status)
	assert.Contains(t, res.Denied, "net.http")
}

func TestProcessCall_GlobalSchemaValidationError(t *testing.T) {
	sup, _ := newTestSupervisor(t, t.TempDir())
	res, err := sup.ProcessCall(tooltype.ToolCall{Tool: "", Args: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, tooltype.StatusValidationError, res.Status)
	assert.Len(t, res.ErrorToken, 12)
	// Deterministic: same payload -> same token.
	res2, _ := sup.ProcessCall(tooltype.ToolCall{Tool: "", Args: map[string]any{}})
	assert.Equal(t, res.ErrorToken, res2.ErrorToken)
}

func TestSanitize_RedactsSensitiveKeys(t *testing.T) {
	out := SanitizeArgs(map[string]any{
		"password": "hunter2",
		"nested":   map[string]any{"api_key": "abc", "other": "keep"},
		"ok":       "value",
	})
	assert.Equal(t, "[REDACTED]", out["password"])
	assert.Equal(t, "keep", out["nested"].(map[string]any)["other"])
	assert.Equal(t, "[REDACTED]", out["nested"].(map[string]any)["api_key"])
	assert.Equal(t, "value", out["ok"])
}

func TestApprovalQueue_MonotoneTransitionsAndExpiry(t *testing.T) {
	q := NewApprovalQueue()
	id := q.Submit("system.exec", map[string]any{}, tooltype.RiskHigh)
	require.True(t, q.Approve(id))
	// Rejecting an already-approved id is idempotent: no-op, still returns true.
	require.True(t, q.Reject(id))
	status, ok := q.Status(id)
	require.True(t, ok)
	assert.Equal(t, ApprovalApproved, status.Status)

	// Unknown id.
	assert.False(t, q.Approve(999))
}

func TestApprovalQueue_ExpirePendingOnlyOnce(t *testing.T) {
	q := NewApprovalQueue()
	id := q.Submit("system.exec", map[string]any{}, tooltype.RiskHigh)
	q.entries[id].EnqueuedAt = q.entries[id].EnqueuedAt.Add(-1 * time.Minute)

	expired := q.ExpirePending(30 * time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0])

	// Second pass must not return the same id again.
	expired2 := q.ExpirePending(30 * time.Second)
	assert.Empty(t, expired2)
}
