package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limits caps classifier calls per rolling minute and per day. The counters
// are shared across all users of a resource.
type Limits struct {
	PerMinute int
	PerDay    int
}

// Decision is the outcome of one quota acquisition attempt.
type Decision struct {
	Allowed           bool      `json:"allowed"`
	RemainingAttempts int       `json:"remaining_attempts"`
	ResetAt           time.Time `json:"reset_at"`
}

// Status is the operator-facing view of the current counters.
type Status struct {
	MinuteCount       int       `json:"minute_count"`
	MinuteLimit       int       `json:"minute_limit"`
	DayCount          int       `json:"day_count"`
	DayLimit          int       `json:"day_limit"`
	CapacityAvailable bool      `json:"capacity_available"`
	MinuteResetAt     time.Time `json:"minute_reset_at"`
}

// Store tracks shared rate-limit counters per resource key. Implementations
// must make Acquire a single atomic read-increment-check so concurrent
// classification attempts cannot overrun the budget. The in-memory
// implementation is for single-process deployments and tests; multi-process
// deployments use the Redis-backed one.
type Store interface {
	Acquire(ctx context.Context, resourceKey string) (*Decision, error)
	Status(ctx context.Context, resourceKey string) (*Status, error)
}

type window struct {
	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	limits  Limits
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits:  limits,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (s *MemoryStore) roll(w *window, now time.Time) {
	if now.Sub(w.minuteStart) >= time.Minute {
		w.minuteStart = now.Truncate(time.Minute)
		w.minuteCount = 0
	}
	if now.Format("2006-01-02") != w.dayStart.Format("2006-01-02") {
		w.dayStart = now.Truncate(24 * time.Hour)
		w.dayCount = 0
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, resourceKey string) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[resourceKey]
	if !ok {
		w = &window{minuteStart: now.Truncate(time.Minute), dayStart: now.Truncate(24 * time.Hour)}
		s.windows[resourceKey] = w
	}
	s.roll(w, now)

	resetAt := w.minuteStart.Add(time.Minute)

	if w.minuteCount >= s.limits.PerMinute {
		return &Decision{Allowed: false, RemainingAttempts: 0, ResetAt: resetAt}, nil
	}
	if w.dayCount >= s.limits.PerDay {
		return &Decision{Allowed: false, RemainingAttempts: 0, ResetAt: w.dayStart.Add(24 * time.Hour)}, nil
	}

	w.minuteCount++
	w.dayCount++

	remaining := s.limits.PerMinute - w.minuteCount
	if dayRemaining := s.limits.PerDay - w.dayCount; dayRemaining < remaining {
		remaining = dayRemaining
	}

	return &Decision{Allowed: true, RemainingAttempts: remaining, ResetAt: resetAt}, nil
}

func (s *MemoryStore) Status(ctx context.Context, resourceKey string) (*Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[resourceKey]
	if !ok {
		return &Status{
			MinuteLimit:       s.limits.PerMinute,
			DayLimit:          s.limits.PerDay,
			CapacityAvailable: true,
			MinuteResetAt:     now.Truncate(time.Minute).Add(time.Minute),
		}, nil
	}
	s.roll(w, now)

	return &Status{
		MinuteCount:       w.minuteCount,
		MinuteLimit:       s.limits.PerMinute,
		DayCount:          w.dayCount,
		DayLimit:          s.limits.PerDay,
		CapacityAvailable: w.minuteCount < s.limits.PerMinute && w.dayCount < s.limits.PerDay,
		MinuteResetAt:     w.minuteStart.Add(time.Minute),
	}, nil
}
