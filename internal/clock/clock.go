// Package clock provides the injected time and identifier sources used by
// both services. Nothing above this package calls time.Now or mints IDs
// directly, which keeps TTL and ordering behavior testable.
package clock

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// IDSource supplies unique opaque identifiers.
type IDSource interface {
	NewID() string
}

// System reads the host clock in UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// UUIDSource mints random UUID strings.
type UUIDSource struct{}

func (UUIDSource) NewID() string { return uuid.New().String() }

// Manual is a hand-driven clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}

// Sequence mints "prefix-1", "prefix-2", ... for deterministic tests.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
