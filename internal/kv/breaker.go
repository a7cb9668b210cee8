package kv

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nospoilers/backend/internal/clock"
)

// ErrCircuitOpen is returned without touching the backend while the
// breaker is open or its half-open probe budget is spent.
var ErrCircuitOpen = errors.New("kv: circuit open")

// BreakerState is the breaker's position.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes when the circuit trips and how it recovers.
type BreakerConfig struct {
	// Name labels state-change logs, normally the backend kind.
	Name string

	// TripAfter is the count of consecutive backend failures that opens
	// the circuit.
	TripAfter uint32

	// Cooldown is how long an open circuit rejects calls before letting
	// probes through.
	Cooldown time.Duration

	// HalfOpenProbes is how many calls may test the backend while
	// half-open; that many consecutive successes close the circuit.
	HalfOpenProbes uint32
}

// Breaker wraps a Backend so a dead store fails fast instead of holding
// every request for its full timeout. ErrKeyNotFound is a healthy answer
// and never counts against the backend.
type Breaker struct {
	backend Backend
	cfg     BreakerConfig
	clk     clock.Clock
	logger  *slog.Logger

	mu         sync.Mutex
	state      BreakerState
	generation uint64
	failures   uint32
	successes  uint32
	probes     uint32
	openedAt   time.Time
}

// WithBreaker wraps backend. Zero config fields fall back to trip after 5
// failures, a 30 second cooldown, and 2 probes.
func WithBreaker(backend Backend, cfg BreakerConfig, clk clock.Clock, logger *slog.Logger) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "kv"
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 2
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{backend: backend, cfg: cfg, clk: clk, logger: logger}
}

// State reports the breaker's position, shifting open to half-open once
// the cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) Put(ctx context.Context, key string, value []byte) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = b.backend.Put(ctx, key, value)
	b.observe(gen, err)
	return err
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, error) {
	gen, err := b.admit()
	if err != nil {
		return nil, err
	}
	value, err := b.backend.Get(ctx, key)
	b.observe(gen, err)
	return value, err
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = b.backend.Delete(ctx, key)
	b.observe(gen, err)
	return err
}

func (b *Breaker) Ping(ctx context.Context) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = b.backend.Ping(ctx)
	b.observe(gen, err)
	return err
}

// Close releases the wrapped backend regardless of circuit state.
func (b *Breaker) Close() error {
	return b.backend.Close()
}

// admit decides whether a call may reach the backend and returns the
// generation the eventual result belongs to.
func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case BreakerOpen:
		return b.generation, ErrCircuitOpen
	case BreakerHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return b.generation, ErrCircuitOpen
		}
		b.probes++
	}
	return b.generation, nil
}

// observe records a call outcome. Results from before the last state
// change carry a stale generation and are dropped.
func (b *Breaker) observe(gen uint64, err error) {
	failed := err != nil && !errors.Is(err, ErrKeyNotFound)

	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		return
	}

	switch b.currentState() {
	case BreakerClosed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.TripAfter {
			b.shift(BreakerOpen)
		}
	case BreakerHalfOpen:
		if failed {
			b.shift(BreakerOpen)
			return
		}
		b.successes++
		if b.successes >= b.cfg.HalfOpenProbes {
			b.shift(BreakerClosed)
		}
	}
}

// currentState is called under mu and moves open to half-open after the
// cooldown.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && b.clk.Now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.shift(BreakerHalfOpen)
	}
	return b.state
}

// shift is called under mu. Bumping the generation invalidates results
// from calls admitted under the previous state.
func (b *Breaker) shift(next BreakerState) {
	prev := b.state
	b.state = next
	b.generation++
	b.failures, b.successes, b.probes = 0, 0, 0
	if next == BreakerOpen {
		b.openedAt = b.clk.Now()
	}

	if next == BreakerOpen {
		b.logger.Warn("store circuit opened", "name", b.cfg.Name, "from", prev.String())
	} else {
		b.logger.Info("store circuit state changed", "name", b.cfg.Name, "from", prev.String(), "to", next.String())
	}
}
