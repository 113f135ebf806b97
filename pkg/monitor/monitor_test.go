package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	ids []int64
}

func (f *fakeExpirer) ExpirePending(timeout time.Duration) []int64 {
	ids := f.ids
	f.ids = nil
	return ids
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
	fired  []string
	alerts []string
}

func (f *fakeSink) Record(event, actor string, details map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}
func (f *fakeSink) Fire(event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, event)
}
func (f *fakeSink) FireAlert(alert string, details map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}
func (f *fakeSink) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...), append([]string(nil), f.alerts...)
}

func TestApprovalReaper_FiresRecordAndAlertPerExpiredID(t *testing.T) {
	exp := &fakeExpirer{ids: []int64{1, 2}}
	sink := &fakeSink{}
	r := NewApprovalReaper(exp, sink, 20*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		events, _ := sink.snapshot()
		return len(events) == 2
	}, time.Second, 10*time.Millisecond)

	events, alerts := sink.snapshot()
	assert.Equal(t, []string{"approval_expired", "approval_expired"}, events)
	assert.Equal(t, []string{"approval_timeout", "approval_timeout"}, alerts)

	sink.mu.Lock()
	fired := append([]string(nil), sink.fired...)
	sink.mu.Unlock()
	assert.Equal(t, []string{"approval.rejected", "approval.rejected"}, fired)
}

func TestApprovalReaper_SetTimeout(t *testing.T) {
	r := NewApprovalReaper(&fakeExpirer{}, &fakeSink{}, time.Second, time.Minute, nil)
	assert.Equal(t, time.Minute, r.Timeout())
	r.SetTimeout(0)
	assert.Equal(t, time.Duration(0), r.Timeout())
}

func TestAlertMonitor_WorkerHealthTransitionFiresOnce(t *testing.T) {
	healthy := true
	var mu sync.Mutex
	source := func() []WorkerStatus {
		mu.Lock()
		defer mu.Unlock()
		return []WorkerStatus{{Name: "scheduler", Healthy: healthy}}
	}
	sink := &fakeSink{}
	m := NewAlertMonitor(source, sink, Config{Interval: 10 * time.Millisecond}, nil)

	// First tick just establishes baseline, no transition yet.
	m.tick()
	_, alerts := sink.snapshot()
	assert.Empty(t, alerts)

	mu.Lock()
	healthy = false
	mu.Unlock()
	m.tick()

	_, alerts = sink.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, "worker_unhealthy", alerts[0])

	mu.Lock()
	healthy = true
	mu.Unlock()
	m.tick()

	_, alerts = sink.snapshot()
	require.Len(t, alerts, 2)
	assert.Equal(t, "worker_recovered", alerts[1])
}

func TestAlertMonitor_ValidationErrorRateFiresAtThreshold(t *testing.T) {
	sink := &fakeSink{}
	m := NewAlertMonitor(nil, sink, Config{ValidationErrorWindow: time.Minute, ValidationErrorThresh: 3}, nil)

	now := time.Now()
	m.RecordValidationError(now)
	m.RecordValidationError(now)
	m.tick()
	_, alerts := sink.snapshot()
	assert.Empty(t, alerts)

	m.RecordValidationError(now)
	m.tick()
	_, alerts = sink.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, "validation_error_rate", alerts[0])
}

func TestAlertMonitor_OldValidationErrorsPrunedOutsideWindow(t *testing.T) {
	sink := &fakeSink{}
	m := NewAlertMonitor(nil, sink, Config{ValidationErrorWindow: time.Millisecond, ValidationErrorThresh: 1}, nil)

	m.RecordValidationError(time.Now())
	time.Sleep(5 * time.Millisecond)
	m.tick()

	_, alerts := sink.snapshot()
	assert.Empty(t, alerts)
}
