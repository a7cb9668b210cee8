// Package audit keeps the bounded in-memory log of structured auth events.
// The ring holds the most recent DefaultCapacity events; overflow drops the
// oldest. Readers always get copied snapshots.
package audit

import (
	"sync"

	"github.com/nospoilers/backend/internal/clock"
)

// DefaultCapacity bounds the ring.
const DefaultCapacity = 1000

// Action names the operation being audited.
type Action string

const (
	ActionOTPSend        Action = "otp_send"
	ActionOTPVerify      Action = "otp_verify"
	ActionEmailLogin     Action = "email_login"
	ActionOAuthLogin     Action = "oauth_login"
	ActionSessionRefresh Action = "session_refresh"
	ActionLogout         Action = "logout"
)

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event is one audit record. Metadata carries the specific cause when the
// user-visible error was deliberately generic.
type Event struct {
	ID          string                 `json:"id"`
	Action      Action                 `json:"action"`
	Status      Status                 `json:"status"`
	UserID      string                 `json:"userId,omitempty"`
	ActorRef    string                 `json:"actorRef,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	TimestampMs int64                  `json:"timestampMs"`
}

// Ring is the bounded event log.
type Ring struct {
	mu     sync.RWMutex
	events []Event
	head   int // index of the oldest event
	size   int
	clock  clock.Clock
	ids    clock.IDSource
}

func NewRing(capacity int, clk clock.Clock, ids clock.IDSource) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		events: make([]Event, capacity),
		clock:  clk,
		ids:    ids,
	}
}

// Append records one event and returns it with ID and timestamp filled.
func (r *Ring) Append(action Action, status Status, userID, actorRef string, metadata map[string]interface{}) Event {
	event := Event{
		ID:          r.ids.NewID(),
		Action:      action,
		Status:      status,
		UserID:      userID,
		ActorRef:    actorRef,
		Metadata:    metadata,
		TimestampMs: r.clock.Now().UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.events) {
		r.events[(r.head+r.size)%len(r.events)] = event
		r.size++
	} else {
		r.events[r.head] = event
		r.head = (r.head + 1) % len(r.events)
	}
	return event
}

// Events returns a snapshot, oldest first.
func (r *Ring) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.events[(r.head+i)%len(r.events)])
	}
	return out
}

// ByAction returns the snapshot filtered to one action, oldest first.
func (r *Ring) ByAction(action Action) []Event {
	all := r.Events()
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ByStatus returns the snapshot filtered to one status, oldest first.
func (r *Ring) ByStatus(status Status) []Event {
	all := r.Events()
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Len reports how many events are currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}
