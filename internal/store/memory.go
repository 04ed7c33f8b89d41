package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/irrigation-scheduler/internal/irrigation"
)

// MemoryStore is a concurrency-safe in-memory schedule store.
type MemoryStore struct {
	mu sync.RWMutex

	programmes map[string]irrigation.Programme
	// key: programme id, value: journal in append order
	journal map[string][]irrigation.JournalEntry

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		programmes: make(map[string]irrigation.Programme),
		journal:    make(map[string][]irrigation.JournalEntry),
		now:        time.Now,
	}
}

// Create stores a new programme with a fresh ID and version 1.
func (s *MemoryStore) Create(_ context.Context, p irrigation.Programme) (irrigation.Programme, error) {
	if err := p.Validate(); err != nil {
		return irrigation.Programme{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := s.programmes[p.ID]; exists {
		return irrigation.Programme{}, fmt.Errorf("%w: id %s already exists", irrigation.ErrConflict, p.ID)
	}
	p.Version = 1
	p.UpdatedAt = s.now().UTC()
	s.programmes[p.ID] = p
	return p, nil
}

// Get returns a programme by ID.
func (s *MemoryStore) Get(_ context.Context, id string) (irrigation.Programme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.programmes[id]
	if !ok {
		return irrigation.Programme{}, irrigation.ErrNotFound
	}
	return p, nil
}

// Save writes p if its version still matches the stored one.
func (s *MemoryStore) Save(_ context.Context, p irrigation.Programme) (irrigation.Programme, error) {
	if _, err := irrigation.ParseStatus(string(p.Status)); err != nil {
		return irrigation.Programme{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.programmes[p.ID]
	if !ok {
		return irrigation.Programme{}, irrigation.ErrNotFound
	}
	if current.Version != p.Version {
		return irrigation.Programme{}, fmt.Errorf("%w: %s at version %d, have %d",
			irrigation.ErrConflict, p.ID, current.Version, p.Version)
	}
	p.Version++
	p.UpdatedAt = s.now().UTC()
	s.programmes[p.ID] = p
	return p, nil
}

// Delete removes a programme. Its journal is kept.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.programmes[id]; !ok {
		return irrigation.ErrNotFound
	}
	delete(s.programmes, id)
	return nil
}

// List returns all programmes ordered by planned time.
func (s *MemoryStore) List(_ context.Context) ([]irrigation.Programme, error) {
	return s.filter(func(irrigation.Programme) bool { return true }), nil
}

// ListDue returns non-terminal programmes planned at or before now.
func (s *MemoryStore) ListDue(_ context.Context, now time.Time) ([]irrigation.Programme, error) {
	return s.filter(func(p irrigation.Programme) bool {
		return !p.Status.Terminal() && !p.PlannedAt.After(now)
	}), nil
}

// ListInWindow returns pending programmes planned between start and end (inclusive).
func (s *MemoryStore) ListInWindow(_ context.Context, start, end time.Time) ([]irrigation.Programme, error) {
	return s.filter(func(p irrigation.Programme) bool {
		return p.Status.Pending() && !p.PlannedAt.Before(start) && !p.PlannedAt.After(end)
	}), nil
}

func (s *MemoryStore) filter(keep func(irrigation.Programme) bool) []irrigation.Programme {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []irrigation.Programme
	for _, p := range s.programmes {
		if keep(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].PlannedAt.Equal(result[j].PlannedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].PlannedAt.Before(result[j].PlannedAt)
	})
	return result
}

// Append adds a journal entry for an existing programme.
func (s *MemoryStore) Append(_ context.Context, e irrigation.JournalEntry) (irrigation.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.programmes[e.ProgrammeID]; !ok {
		return irrigation.JournalEntry{}, irrigation.ErrNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.journal[e.ProgrammeID] = append(s.journal[e.ProgrammeID], e)
	return e, nil
}

// Journal returns the entries of one programme, or of all programmes when
// programmeID is empty, ordered by execution time.
func (s *MemoryStore) Journal(_ context.Context, programmeID string) ([]irrigation.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []irrigation.JournalEntry
	if programmeID != "" {
		result = append(result, s.journal[programmeID]...)
	} else {
		for _, entries := range s.journal {
			result = append(result, entries...)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ExecutedAt.Before(result[j].ExecutedAt)
	})
	return result, nil
}
