package consent

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "consent.jsonl"))
}

func TestLogContextShare_DerivesOriginAndCollectsFieldNamesOnly(t *testing.T) {
	l := newTestLog(t)
	entry := LogContextShare(l, "https://example.com/login", "", Snapshot{
		Inputs: []map[string]any{
			{"name": "username", "value": "should-not-appear"},
			{"id": "pw-field", "value": "super-secret"},
		},
		SelectedText: "hello world",
		Title:        "Login",
	}, "", nil)

	assert.Equal(t, "https://example.com", entry.Origin)
	assert.Equal(t, []string{"username", "pw-field"}, entry.Fields)
	assert.Equal(t, "anonymous", entry.Actor)
	assert.Equal(t, len("hello world"), entry.SelectedTextLen)

	// Ensure no raw values leaked into the persisted file.
	timeline := l.GetTimeline("", "", 10)
	require.Len(t, timeline, 1)
	assert.NotContains(t, timeline[0].Fields, "should-not-appear")
}

func TestGetTimeline_NewestFirstAndFiltered(t *testing.T) {
	l := newTestLog(t)
	LogContextShare(l, "https://a.com", "", Snapshot{}, "tok1", nil)
	LogContextShare(l, "https://b.com", "", Snapshot{}, "tok2", nil)

	all := l.GetTimeline("", "", 10)
	require.Len(t, all, 2)
	assert.Equal(t, "https://b.com", all[0].URL)

	filtered := l.GetTimeline("https://a.com", "", 10)
	require.Len(t, filtered, 1)
	assert.Equal(t, "tok1", filtered[0].Actor)
}

func TestClearTimeline_ByOriginRemovesOnlyMatching(t *testing.T) {
	l := newTestLog(t)
	LogContextShare(l, "https://a.com/x", "", Snapshot{}, "", nil)
	LogContextShare(l, "https://b.com/y", "", Snapshot{}, "", nil)

	removed := l.ClearTimeline("https://a.com")
	assert.Equal(t, 1, removed)

	remaining := l.GetTimeline("", "", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, "https://b.com", remaining[0].Origin)
}

func TestExportActorData_OldestFirstUnbounded(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		LogContextShare(l, "https://a.com", "", Snapshot{}, "alice", nil)
	}
	LogContextShare(l, "https://a.com", "", Snapshot{}, "bob", nil)

	exported := l.ExportActorData("alice")
	assert.Len(t, exported, 5)
}

func TestEraseActorData_RemovesOnlyThatActor(t *testing.T) {
	l := newTestLog(t)
	LogContextShare(l, "https://a.com", "", Snapshot{}, "alice", nil)
	LogContextShare(l, "https://a.com", "", Snapshot{}, "bob", nil)

	removed := l.EraseActorData("alice")
	assert.Equal(t, 1, removed)

	remaining := l.GetTimeline("", "", 10)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bob", remaining[0].Actor)
}
