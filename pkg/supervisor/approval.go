package supervisor

import (
	"sync"
	"time"

	"github.com/UrHighness01/Intelli-sub000/pkg/tooltype"
)

// ApprovalStatus is the closed state set of an ApprovalRequest's
// lifecycle: pending -> {approved, rejected}, terminal once non-pending.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest is one entry in the approval queue.
type ApprovalRequest struct {
	ID         int64              `json:"id"`
	Tool       string             `json:"tool"`
	Payload    map[string]any     `json:"payload"`
	Status     ApprovalStatus     `json:"status"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
	Risk       tooltype.RiskLevel `json:"risk"`
}

// ApprovalQueue is the in-memory approval state machine. All mutation
// happens under a single mutex; state transitions are monotone (never
// move off a terminal status).
type ApprovalQueue struct {
	mu      sync.Mutex
	nextID  int64
	entries map[int64]*ApprovalRequest
	order   []int64
}

func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{entries: make(map[int64]*ApprovalRequest)}
}

// Submit enqueues a new pending approval request and returns its id.
func (q *ApprovalQueue) Submit(tool string, payload map[string]any, risk tooltype.RiskLevel) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	q.entries[id] = &ApprovalRequest{
		ID:         id,
		Tool:       tool,
		Payload:    payload,
		Status:     ApprovalPending,
		EnqueuedAt: time.Now(),
		Risk:       risk,
	}
	q.order = append(q.order, id)
	return id
}

// Approve transitions id to approved. Idempotent on terminal states;
// returns false if the id is unknown.
func (q *ApprovalQueue) Approve(id int64) bool {
	return q.transition(id, ApprovalApproved)
}

// Reject transitions id to rejected. Idempotent on terminal states;
// returns false if the id is unknown.
func (q *ApprovalQueue) Reject(id int64) bool {
	return q.transition(id, ApprovalRejected)
}

func (q *ApprovalQueue) transition(id int64, to ApprovalStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	if !ok {
		return false
	}
	if entry.Status != ApprovalPending {
		return true // idempotent on terminal states
	}
	entry.Status = to
	return true
}

// Status returns a copy of the request for id, or false if unknown.
func (q *ApprovalQueue) Status(id int64) (ApprovalRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	if !ok {
		return ApprovalRequest{}, false
	}
	return *entry, true
}

// ListPending returns all currently pending requests, oldest first.
func (q *ApprovalQueue) ListPending() []ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []ApprovalRequest
	for _, id := range q.order {
		if e := q.entries[id]; e.Status == ApprovalPending {
			out = append(out, *e)
		}
	}
	return out
}

// List returns every request (any status), oldest first.
func (q *ApprovalQueue) List() []ApprovalRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ApprovalRequest, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.entries[id])
	}
	return out
}

// PendingCount returns the number of requests still pending.
func (q *ApprovalQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.entries {
		if e.Status == ApprovalPending {
			n++
		}
	}
	return n
}

// ExpirePending performs a single pass over pending entries older than
// timeout, flipping each to rejected and returning the ids affected.
// Called by the approval reaper every 5s.
func (q *ApprovalQueue) ExpirePending(timeout time.Duration) []int64 {
	if timeout <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-timeout)
	var expired []int64
	for _, id := range q.order {
		e := q.entries[id]
		if e.Status == ApprovalPending && e.EnqueuedAt.Before(cutoff) {
			e.Status = ApprovalRejected
			expired = append(expired, id)
		}
	}
	return expired
}
