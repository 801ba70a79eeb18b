package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Queue used when no Redis address is configured and
// as the deterministic transport in tests. It honors the full contract,
// including visibility-timeout redelivery, so worker semantics do not depend
// on which transport backs them.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
	waiting []string
	// deadline per active entry id; expired actives are redelivered.
	active  map[string]time.Time
	paused  bool
	guard   PurgeGuard
	visTime time.Duration
	cap     time.Duration
	now     func() time.Time
}

// MemoryOption tweaks construction.
type MemoryOption func(*Memory)

// WithPurgeGuard installs the completed-entry purge veto.
func WithPurgeGuard(g PurgeGuard) MemoryOption {
	return func(m *Memory) { m.guard = g }
}

// WithVisibilityTimeout overrides the redelivery deadline for active entries.
func WithVisibilityTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) { m.visTime = d }
}

// WithBackoffCap overrides the maximum retry delay.
func WithBackoffCap(d time.Duration) MemoryOption {
	return func(m *Memory) { m.cap = d }
}

// WithClock overrides time for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

var _ Queue = (*Memory)(nil)

// NewMemory builds an empty in-process queue.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: map[string]*Entry{},
		active:  map[string]time.Time{},
		visTime: DefaultVisibilityTimeout,
		cap:     DefaultBackoffCap,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Enqueue(ctx context.Context, summaryID string, opts Options) (string, error) {
	opts = opts.withDefaults()
	base := opts.BackoffBase
	if base == 0 {
		base = DefaultBackoffBase
	}

	now := m.now()
	e := &Entry{
		ID:           uuid.NewString(),
		SummaryID:    summaryID,
		State:        StateWaiting,
		AttemptsMade: 0,
		MaxAttempts:  opts.MaxAttempts,
		BackoffBase:  base.Milliseconds(),
		EnqueuedAt:   now,
		AvailableAt:  now.Add(opts.Delay),
	}
	if opts.Delay > 0 {
		e.State = StateDelayed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	if e.State == StateWaiting {
		m.waiting = append(m.waiting, e.ID)
	}
	return e.ID, nil
}

func (m *Memory) Dequeue(ctx context.Context) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused {
		return nil, ErrEmpty
	}

	now := m.now()
	m.promoteLocked(now)
	m.reclaimLocked(now)

	if len(m.waiting) == 0 {
		return nil, ErrEmpty
	}

	id := m.waiting[0]
	m.waiting = m.waiting[1:]
	e := m.entries[id]
	started := now
	e.State = StateActive
	e.StartedAt = &started
	e.AttemptsMade++
	m.active[id] = now.Add(m.visTime)

	cp := *e
	return &cp, nil
}

// promoteLocked moves due delayed entries into the waiting list, oldest
// available first.
func (m *Memory) promoteLocked(now time.Time) {
	var due []*Entry
	for _, e := range m.entries {
		if e.State == StateDelayed && !e.AvailableAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].AvailableAt.Before(due[j].AvailableAt) })
	for _, e := range due {
		e.State = StateWaiting
		m.waiting = append(m.waiting, e.ID)
	}
}

// reclaimLocked redelivers active entries whose visibility timeout expired.
// The delivery attempt already counted; the crash consumed it.
func (m *Memory) reclaimLocked(now time.Time) {
	for id, deadline := range m.active {
		if deadline.After(now) {
			continue
		}
		delete(m.active, id)
		e := m.entries[id]
		e.StartedAt = nil
		if e.AttemptsMade >= e.MaxAttempts {
			finished := now
			e.State = StateFailed
			e.FinishedAt = &finished
			if e.LastError == "" {
				e.LastError = "visibility timeout expired"
			}
			continue
		}
		e.State = StateWaiting
		m.waiting = append(m.waiting, id)
	}
}

func (m *Memory) Ack(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	if e.State != StateActive {
		return fmt.Errorf("ack entry %s in state %s", entryID, e.State)
	}
	delete(m.active, entryID)
	finished := m.now()
	e.State = StateCompleted
	e.FinishedAt = &finished
	return nil
}

func (m *Memory) Nack(ctx context.Context, entryID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	if e.State != StateActive {
		return fmt.Errorf("nack entry %s in state %s", entryID, e.State)
	}
	delete(m.active, entryID)
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.StartedAt = nil

	now := m.now()
	if e.AttemptsMade >= e.MaxAttempts {
		finished := now
		e.State = StateFailed
		e.FinishedAt = &finished
		return nil
	}

	delay := Backoff(time.Duration(e.BackoffBase)*time.Millisecond, e.AttemptsMade, m.cap)
	e.AvailableAt = now.Add(delay)
	if delay <= 0 {
		e.State = StateWaiting
		m.waiting = append(m.waiting, entryID)
		return nil
	}
	e.State = StateDelayed
	return nil
}

func (m *Memory) Pause(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	return nil
}

func (m *Memory) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
	return nil
}

func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Paused: m.paused}
	for _, e := range m.entries {
		switch e.State {
		case StateWaiting:
			s.Waiting++
		case StateDelayed:
			s.Delayed++
		case StateActive:
			s.Active++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (m *Memory) ListActive(ctx context.Context) ([]Entry, error) {
	return m.listByState(StateActive), nil
}

func (m *Memory) ListFailed(ctx context.Context) ([]Entry, error) {
	return m.listByState(StateFailed), nil
}

func (m *Memory) listByState(state State) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if e.State == state {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out
}

func (m *Memory) Get(ctx context.Context, entryID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) Retry(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	if e.State != StateFailed {
		return nil
	}

	now := m.now()
	fresh := &Entry{
		ID:          uuid.NewString(),
		SummaryID:   e.SummaryID,
		State:       StateWaiting,
		MaxAttempts: e.MaxAttempts,
		BackoffBase: e.BackoffBase,
		EnqueuedAt:  now,
		AvailableAt: now,
	}
	delete(m.entries, entryID)
	m.entries[fresh.ID] = fresh
	m.waiting = append(m.waiting, fresh.ID)
	return nil
}

func (m *Memory) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	guard := m.guard
	cutoff := m.now().Add(-olderThan)

	var candidates []Entry
	for _, e := range m.entries {
		if e.State == StateCompleted && e.FinishedAt != nil && e.FinishedAt.Before(cutoff) {
			candidates = append(candidates, *e)
		}
	}
	m.mu.Unlock()

	purged := 0
	for _, e := range candidates {
		if guard != nil {
			ok, err := guard(ctx, e.SummaryID)
			if err != nil {
				return purged, fmt.Errorf("purge guard for %s: %w", e.ID, err)
			}
			if !ok {
				continue
			}
		}
		m.mu.Lock()
		if cur, exists := m.entries[e.ID]; exists && cur.State == StateCompleted {
			delete(m.entries, e.ID)
			purged++
		}
		m.mu.Unlock()
	}
	return purged, nil
}
