package ratelimit

import (
	"sync"

	"github.com/nospoilers/backend/internal/clock"
)

// FlagThreshold is the score at and above which observations are reported
// to the flag callback.
const FlagThreshold = 3

// Incident is the tracked suspicion state for one key.
type Incident struct {
	Key              string `json:"key"`
	Reason           string `json:"reason"`
	Score            int    `json:"score"`
	LastObservedAtMs int64  `json:"lastObservedAtMs"`
}

// FlagFunc receives every observation whose resulting score is at or
// above FlagThreshold.
type FlagFunc func(incident Incident)

// SuspicionTracker scores denials and credential mismatches per key.
// Scores never decay.
type SuspicionTracker struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
	clock     clock.Clock
	onFlag    FlagFunc
}

func NewSuspicionTracker(clk clock.Clock, onFlag FlagFunc) *SuspicionTracker {
	return &SuspicionTracker{
		incidents: make(map[string]*Incident),
		clock:     clk,
		onFlag:    onFlag,
	}
}

// Observe increments key's score with the latest reason and returns the
// new score.
func (t *SuspicionTracker) Observe(key, reason string) int {
	now := t.clock.Now().UnixMilli()

	t.mu.Lock()
	inc, ok := t.incidents[key]
	if !ok {
		inc = &Incident{Key: key}
		t.incidents[key] = inc
	}
	inc.Score++
	inc.Reason = reason
	inc.LastObservedAtMs = now
	flagged := inc.Score >= FlagThreshold
	snapshot := *inc
	t.mu.Unlock()

	if flagged && t.onFlag != nil {
		t.onFlag(snapshot)
	}
	return snapshot.Score
}

// Score reports key's current score, zero when never observed.
func (t *SuspicionTracker) Score(key string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if inc, ok := t.incidents[key]; ok {
		return inc.Score
	}
	return 0
}

// Snapshot returns a copy of every tracked incident.
func (t *SuspicionTracker) Snapshot() []Incident {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Incident, 0, len(t.incidents))
	for _, inc := range t.incidents {
		out = append(out, *inc)
	}
	return out
}
