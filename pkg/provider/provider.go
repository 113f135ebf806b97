// Package provider implements the chat-completion provider
// abstraction: a normalized Adapter interface over each vendor SDK, an
// outbound-origin allow-list enforced before any network I/O, and a
// failover chain with per-provider exponential cooldown.
package provider

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/registry"
)

// Message is the universal chat message shape passed to every adapter.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	RawArgs   string         `json:"raw_args"`
}

// ToolDefinition is a tool/function exposed to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized chat-completion request every Adapter
// accepts.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Result is the normalized chat-completion response.
type Result struct {
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	Content         string     `json:"content"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`
	Tokens          int        `json:"tokens"`
	FailoverUsed    bool       `json:"failover_used"`
	ActualProvider  string     `json:"actual_provider"`
	ActualModel     string     `json:"actual_model"`
	FailoverReason  string     `json:"failover_reason,omitempty"`
}

// Adapter is the interface every concrete provider implementation
// satisfies.
type Adapter interface {
	Name() string
	IsAvailable() bool
	ChatComplete(ctx context.Context, req Request) (Result, error)
}

// Registry holds named provider adapters.
type Registry struct {
	*registry.BaseRegistry[Adapter]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Adapter]()}
}

func (r *Registry) RegisterAdapter(a Adapter) error {
	if a == nil {
		return fmt.Errorf("provider: adapter cannot be nil")
	}
	r.Put(a.Name(), a)
	return nil
}

// --- Outbound allow-list -----------------------------------------------

// defaultAllowedHosts are reachable when no env override is configured.
var defaultAllowedHosts = []string{
	"api.openai.com",
	"api.anthropic.com",
	"generativelanguage.googleapis.com",
	"bedrock-runtime.us-east-1.amazonaws.com",
}

// AllowList gates outbound provider HTTP calls to a fixed host set.
type AllowList struct {
	hosts map[string]bool
}

// NewAllowList parses a comma-separated host list from an env var. A
// completely unset env var (empty string with no user intent) falls
// back to defaultAllowedHosts; a configured-but-blank value (whitespace
// only) is treated the same way, since both represent "operator did
// not override" rather than "operator wants to allow nothing".
func NewAllowList(envValue string) *AllowList {
	al := &AllowList{hosts: make(map[string]bool)}
	trimmed := strings.TrimSpace(envValue)
	if trimmed == "" {
		for _, h := range defaultAllowedHosts {
			al.hosts[h] = true
		}
		return al
	}
	for _, h := range strings.Split(trimmed, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			al.hosts[strings.ToLower(h)] = true
		}
	}
	return al
}

// Check reports whether rawURL's host is on the allow-list.
func (al *AllowList) Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("provider: invalid outbound URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if !al.hosts[host] {
		return fmt.Errorf("provider: host %q is not on the outbound allow-list", host)
	}
	return nil
}

// --- Cooldown tracking ---------------------------------------------------

const (
	cooldownBase   = 30 * time.Second
	cooldownFactor = 2.0
	cooldownMax    = 10 * time.Minute
)

type cooldownState struct {
	expiresAt time.Time
	backoff   time.Duration
}

// CooldownTracker records exponentially growing cooldown windows per
// provider, checked lazily — no background goroutine needed.
type CooldownTracker struct {
	mu    sync.Mutex
	state map[string]cooldownState
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{state: make(map[string]cooldownState)}
}

func (c *CooldownTracker) IsOnCooldown(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.state[provider]
	if !ok {
		return false
	}
	return time.Now().Before(s.expiresAt)
}

func (c *CooldownTracker) RecordFailure(provider string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.state[provider]
	prevBackoff := cooldownBase / time.Duration(cooldownFactor)
	if ok {
		prevBackoff = prev.backoff
	}
	backoff := time.Duration(math.Min(
		float64(prevBackoff)*cooldownFactor,
		float64(cooldownMax),
	))
	c.state[provider] = cooldownState{expiresAt: time.Now().Add(backoff), backoff: backoff}
	return backoff
}

func (c *CooldownTracker) Clear(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, provider)
}

// CooldownStatus is one provider's current cooldown snapshot.
type CooldownStatus struct {
	Provider  string        `json:"provider"`
	ExpiresIn time.Duration `json:"expires_in"`
	Backoff   time.Duration `json:"backoff"`
}

func (c *CooldownTracker) Status() []CooldownStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	out := make([]CooldownStatus, 0, len(c.state))
	for p, s := range c.state {
		remaining := s.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, CooldownStatus{Provider: p, ExpiresIn: remaining, Backoff: s.backoff})
	}
	return out
}

// --- Error classification -------------------------------------------------

var rateLimitMarkers = []string{"429", "rate limit", "rate_limit", "too many requests", "quota"}
var serverErrMarkers = []string{
	"500", "502", "503", "504", "connection error", "timeout",
	"connecterror", "connectionerror", "read timeout",
	"service unavailable", "internal server error",
}

func isRetriable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	for _, m := range serverErrMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isRateLimit(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// --- Failover chain --------------------------------------------------------

// ChainEntry is one fallback candidate; an empty Model means "use the
// adapter's own default".
type ChainEntry struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Failover drives chat_with_failover's logic: try the primary, then
// walk the configured chain, skipping providers on cooldown.
type Failover struct {
	registry  *Registry
	cooldowns *CooldownTracker

	mu    sync.Mutex
	chain []ChainEntry
}

func NewFailover(reg *Registry) *Failover {
	return &Failover{
		registry:  reg,
		cooldowns: NewCooldownTracker(),
		chain: []ChainEntry{
			{Provider: "openai"},
			{Provider: "anthropic"},
			{Provider: "ollama"},
		},
	}
}

func (f *Failover) Chain() []ChainEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ChainEntry, len(f.chain))
	copy(out, f.chain)
	return out
}

func (f *Failover) SetChain(entries []ChainEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chain = append([]ChainEntry(nil), entries...)
}

func (f *Failover) Cooldowns() *CooldownTracker { return f.cooldowns }

// ChatComplete tries primaryProvider first, then every other entry in
// the failover chain (skipping ones on cooldown or unavailable),
// returning the first success with failover metadata attached.
func (f *Failover) ChatComplete(ctx context.Context, primaryProvider string, req Request) (Result, error) {
	attempts := []ChainEntry{{Provider: primaryProvider, Model: req.Model}}
	f.mu.Lock()
	for _, e := range f.chain {
		if e.Provider != primaryProvider {
			attempts = append(attempts, e)
		}
	}
	f.mu.Unlock()

	var lastErr error
	failoverTriggered := false
	failoverReason := ""

	for idx, attempt := range attempts {
		if f.cooldowns.IsOnCooldown(attempt.Provider) {
			continue
		}
		adapter, ok := f.registry.Get(attempt.Provider)
		if !ok || !adapter.IsAvailable() {
			continue
		}

		callReq := req
		resolvedModel := attempt.Model
		if idx == 0 && req.Model != "" {
			resolvedModel = req.Model
		}
		callReq.Model = resolvedModel

		result, err := adapter.ChatComplete(ctx, callReq)
		if err == nil {
			f.cooldowns.Clear(attempt.Provider)
			if result.Provider == "" {
				result.Provider = attempt.Provider
			}
			result.FailoverUsed = failoverTriggered
			result.ActualProvider = attempt.Provider
			if result.Model != "" {
				result.ActualModel = result.Model
			} else {
				result.ActualModel = resolvedModel
			}
			if failoverTriggered {
				result.FailoverReason = failoverReason
			}
			return result, nil
		}

		lastErr = err
		if isRetriable(err) {
			f.cooldowns.RecordFailure(attempt.Provider)
			if idx == 0 {
				failoverTriggered = true
				reason := err.Error()
				if len(reason) > 200 {
					reason = reason[:200]
				}
				failoverReason = reason
				_ = isRateLimit(err) // classification retained for logging callers
			}
		} else if idx == 0 {
			// Non-retriable error on primary: surface immediately, no failover.
			return Result{}, err
		}
	}

	return Result{}, fmt.Errorf("provider: all providers in failover chain exhausted, last error: %w", lastErr)
}
