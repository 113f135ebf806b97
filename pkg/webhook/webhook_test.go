package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(Config{PersistPath: filepath.Join(t.TempDir(), "webhooks.json"), Timeout: time.Second, MaxRetries: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestRegisterListGetDeleteRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)

	hook, err := d.Register("https://example.com/hook", []string{"approval.created"}, "shh")
	require.NoError(t, err)
	assert.True(t, hook.Signed)

	listed := d.List()
	require.Len(t, listed, 1)
	assert.Equal(t, hook.ID, listed[0].ID)

	got, ok := d.Get(hook.ID)
	require.True(t, ok)
	assert.Equal(t, hook.ID, got.ID)

	assert.True(t, d.Delete(hook.ID))
	_, ok = d.Get(hook.ID)
	assert.False(t, ok)
}

func TestRegister_RejectsUnknownEventAndBadScheme(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Register("ftp://example.com", nil, "")
	require.Error(t, err)
	_, err = d.Register("https://example.com", []string{"not.an.event"}, "")
	require.Error(t, err)
}

func TestFire_SignsAndRecordsSuccessfulDelivery(t *testing.T) {
	var received int32
	var sig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		sig = r.Header.Get("X-Intelli-Signature-256")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	hook, err := d.Register(srv.URL, []string{"approval.created"}, "topsecret")
	require.NoError(t, err)

	d.Fire("approval.created", map[string]any{"id": 1})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 10*time.Millisecond)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), sig)

	require.Eventually(t, func() bool { return len(d.Deliveries(hook.ID, 10)) == 1 }, time.Second, 10*time.Millisecond)
	deliveries := d.Deliveries(hook.ID, 10)
	assert.Equal(t, "ok", deliveries[0].Status)
}

func TestFire_DoesNotDeliverToUnsubscribedEvent(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t)
	_, err := d.Register(srv.URL, []string{"gateway.alert"}, "")
	require.NoError(t, err)

	d.Fire("approval.created", map[string]any{})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&received))
}

func TestPublicHook_NeverLeaksSecret(t *testing.T) {
	d := newTestDispatcher(t)
	hook, err := d.Register("https://example.com", nil, "s3cr3t")
	require.NoError(t, err)
	raw, _ := json.Marshal(hook)
	assert.NotContains(t, string(raw), "s3cr3t")
}
