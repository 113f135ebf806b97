// Package webhook delivers gateway events to registered HTTP endpoints:
// a persisted registry, a bounded worker pool, HMAC signing, bounded
// retry with backoff, and a per-hook delivery log.
//
// The dispatcher is an explicit service value (no package globals),
// using github.com/cenkalti/backoff/v5 for the retry delay
// instead of a hand-rolled time.Sleep(2**attempt) loop.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/UrHighness01/Intelli-sub000/pkg/registry"
)

// ValidEvents is the closed set of event names a webhook may subscribe
// to; registration rejects anything else.
var ValidEvents = map[string]bool{
	"approval.created":  true,
	"approval.approved": true,
	"approval.rejected": true,
	"gateway.alert":      true,
}

// Hook is the persisted registration record.
type Hook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PublicHook is the API-facing view: secret is replaced with a signed flag.
type PublicHook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Signed    bool      `json:"signed"`
	CreatedAt time.Time `json:"created_at"`
}

func (h Hook) public() PublicHook {
	return PublicHook{ID: h.ID, URL: h.URL, Events: h.Events, Signed: h.Secret != "", CreatedAt: h.CreatedAt}
}

// DeliveryRecord is one outcome appended to a hook's bounded ring.
type DeliveryRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	Status     string    `json:"status"` // ok | error
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
}

const (
	deliveryLogMax = 100
	workerPoolSize = 4
)

// Dispatcher owns the hook registry, a bounded worker pool, and the
// per-hook delivery log.
type Dispatcher struct {
	persistPath string
	httpClient  *http.Client
	maxRetries  int

	mu    sync.RWMutex
	hooks *registry.BaseRegistry[Hook]

	logMu sync.Mutex
	logs  map[string][]DeliveryRecord

	jobs chan deliveryJob
	wg   sync.WaitGroup
	log  *slog.Logger
}

type deliveryJob struct {
	hookID string
	url    string
	event  string
	body   []byte
	secret string
}

// Config tunes the dispatcher.
type Config struct {
	PersistPath string
	Timeout     time.Duration
	MaxRetries  int
}

// New builds a Dispatcher, loading any previously persisted hooks from
// cfg.PersistPath, and starts its fixed-size worker pool.
func New(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		persistPath: cfg.PersistPath,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		hooks:       registry.NewBaseRegistry[Hook](),
		logs:        make(map[string][]DeliveryRecord),
		jobs:        make(chan deliveryJob, 256),
		log:         logger,
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	for i := 0; i < workerPoolSize; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d, nil
}

// Close drains the worker pool. Not required for correctness (delivery
// is best-effort) but lets tests and graceful shutdown wait cleanly.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *Dispatcher) load() error {
	data, err := os.ReadFile(d.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil // corrupted or unreadable file: start fresh
	}
	var raw map[string]Hook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for id, h := range raw {
		d.hooks.Put(id, h)
	}
	return nil
}

func (d *Dispatcher) save() error {
	all := make(map[string]Hook)
	for _, h := range d.hooks.List() {
		all[h.ID] = h
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	if d.persistPath == "" {
		return nil
	}
	return os.WriteFile(d.persistPath, data, 0o644)
}

// Register validates and persists a new webhook.
func (d *Dispatcher) Register(url string, events []string, secret string) (PublicHook, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return PublicHook{}, fmt.Errorf("webhook: url must start with http:// or https://")
	}
	if len(events) == 0 {
		events = make([]string, 0, len(ValidEvents))
		for e := range ValidEvents {
			events = append(events, e)
		}
	} else {
		for _, e := range events {
			if !ValidEvents[e] {
				return PublicHook{}, fmt.Errorf("webhook: unknown event %q", e)
			}
		}
	}
	h := Hook{ID: uuid.NewString(), URL: url, Events: events, Secret: secret, CreatedAt: time.Now().UTC()}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hooks.Register(h.ID, h); err != nil {
		return PublicHook{}, err
	}
	if err := d.save(); err != nil {
		d.log.Error("webhook: persist failed", "error", err)
	}
	return h.public(), nil
}

// List returns every registered webhook's public view.
func (d *Dispatcher) List() []PublicHook {
	hooks := d.hooks.List()
	out := make([]PublicHook, 0, len(hooks))
	for _, h := range hooks {
		out = append(out, h.public())
	}
	return out
}

// Get returns a single webhook's public view, or false if not found.
func (d *Dispatcher) Get(id string) (PublicHook, bool) {
	h, ok := d.hooks.Get(id)
	if !ok {
		return PublicHook{}, false
	}
	return h.public(), true
}

// Delete removes a webhook. Returns false if it did not exist.
func (d *Dispatcher) Delete(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hooks.Remove(id); err != nil {
		return false
	}
	if err := d.save(); err != nil {
		d.log.Error("webhook: persist failed", "error", err)
	}
	return true
}

// Fire dispatches event to every subscriber asynchronously; it never
// blocks the caller and never returns delivery errors (fire-and-forget).
func (d *Dispatcher) Fire(event string, payload map[string]any) {
	envelope := map[string]any{"event": event, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range payload {
		envelope[k] = v
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		d.log.Error("webhook: marshal payload failed", "error", err)
		return
	}

	for _, h := range d.hooks.List() {
		if !containsEvent(h.Events, event) {
			continue
		}
		job := deliveryJob{hookID: h.ID, url: h.URL, event: event, body: body, secret: h.Secret}
		select {
		case d.jobs <- job:
		default:
			d.log.Warn("webhook: worker pool saturated, dropping delivery", "hook_id", h.ID, "event", event)
		}
	}
}

// FireApprovalCreated and FireAlert adapt Dispatcher to
// supervisor.AlertSink without supervisor importing this package.
func (d *Dispatcher) FireApprovalCreated(payload map[string]any) { d.Fire("approval.created", payload) }
func (d *Dispatcher) FireAlert(alert string, details map[string]any) {
	merged := map[string]any{"alert": alert}
	for k, v := range details {
		merged[k] = v
	}
	d.Fire("gateway.alert", merged)
}

func containsEvent(events []string, event string) bool {
	for _, e := range events {
		if e == event {
			return true
		}
	}
	return false
}

// Deliveries returns up to limit recent delivery records for hookID,
// newest-first.
func (d *Dispatcher) Deliveries(hookID string, limit int) []DeliveryRecord {
	if limit <= 0 || limit > deliveryLogMax {
		limit = deliveryLogMax
	}
	d.logMu.Lock()
	defer d.logMu.Unlock()
	log := d.logs[hookID]
	if len(log) > limit {
		log = log[:limit]
	}
	out := make([]DeliveryRecord, len(log))
	copy(out, log)
	return out
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

// deliver attempts up to maxRetries deliveries with exponential backoff
// between attempts, stopping immediately on a 2xx response.
func (d *Dispatcher) deliver(job deliveryJob) {
	headers := map[string]string{
		"Content-Type":      "application/json",
		"X-Gateway-Event":   job.event,
		"X-Gateway-Hook-ID": job.hookID,
	}
	if job.secret != "" {
		mac := hmac.New(sha256.New, []byte(job.secret))
		mac.Write(job.body)
		headers["X-Intelli-Signature-256"] = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	var statusCode int
	var lastErr error
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2

	op := func() (struct{}, error) {
		attempts++
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, job.url, bytes.NewReader(job.body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return struct{}{}, err
		}
		defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()
		statusCode = resp.StatusCode
		if statusCode >= 200 && statusCode < 300 {
			lastErr = nil
			return struct{}{}, nil
		}
		lastErr = fmt.Errorf("HTTP %d", statusCode)
		if statusCode >= 400 && statusCode < 500 {
			return struct{}{}, backoff.Permanent(lastErr)
		}
		return struct{}{}, lastErr
	}

	maxAttempts := uint(d.maxRetries)
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	_, _ = backoff.Retry(context.Background(), op, backoff.WithBackOff(bo), backoff.WithMaxTries(maxAttempts), backoff.WithMaxElapsedTime(0))

	record := DeliveryRecord{
		Timestamp:  time.Now().UTC(),
		Event:      job.event,
		StatusCode: statusCode,
		Attempts:   attempts,
	}
	if lastErr == nil {
		record.Status = "ok"
	} else {
		record.Status = "error"
		record.Error = lastErr.Error()
	}

	d.logMu.Lock()
	d.logs[job.hookID] = prependBounded(d.logs[job.hookID], record, deliveryLogMax)
	d.logMu.Unlock()
}

func prependBounded(log []DeliveryRecord, rec DeliveryRecord, max int) []DeliveryRecord {
	log = append([]DeliveryRecord{rec}, log...)
	if len(log) > max {
		log = log[:max]
	}
	return log
}
