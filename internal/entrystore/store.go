// Package entrystore is the single read/write gateway to a user's time
// entries. Mutations are applied to an in-memory collection first, persisted
// in the background, and rolled back when the backend rejects them. The
// durable store stays authoritative: the in-memory view never keeps a state
// the backend refused.
package entrystore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daylog/daylog/internal/models"
)

// Backend is the durable persistence contract. Satisfied by the sqlite
// store and by the localfile fallback store.
type Backend interface {
	CreateEntry(ctx context.Context, e models.TimeEntry) (models.TimeEntry, error)
	UpdateEntryFields(ctx context.Context, id string, u models.EntryUpdate) error
	DeleteEntry(ctx context.Context, id string) error
	ListEntriesForUser(ctx context.Context, userID string) ([]models.TimeEntry, error)
}

// EventKind tags a ledger-relevant change.
type EventKind string

const (
	// EventCommitted fires after a durable create/update succeeds. The
	// syncer mirrors the entry into the spreadsheet ledger.
	EventCommitted EventKind = "committed"
	// EventDeleted fires when an entry is removed; carries what the ledger
	// needs to locate the row without the (already gone) entry.
	EventDeleted EventKind = "deleted"
)

// Event is handed to the ledger sync worker. Sync is best-effort by
// contract: dropping an event degrades the mirror, never the store.
type Event struct {
	Kind    EventKind
	EntryID string
	Date    string
}

// Store holds one user's entries, newest start time first.
type Store struct {
	mu      sync.Mutex
	backend Backend
	userID  string
	entries []models.TimeEntry
	events  chan Event
	logger  *slog.Logger
}

// New constructs a store for one user and loads the current entries from
// the backend.
func New(ctx context.Context, backend Backend, userID string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := backend.ListEntriesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading entries: %w", err)
	}

	return &Store{
		backend: backend,
		userID:  userID,
		entries: entries,
		events:  make(chan Event, 64),
		logger:  logger,
	}, nil
}

// Events exposes the committed/deleted event stream for the sync worker.
func (s *Store) Events() <-chan Event {
	return s.events
}

// emit hands an event to the sync worker without ever blocking a mutation.
func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("sync event dropped, queue full",
			slog.String("kind", string(ev.Kind)), slog.String("entry", ev.EntryID))
	}
}

// Entries returns a copy of the current collection, newest first,
// including pending optimistic changes.
func (s *Store) Entries() []models.TimeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TimeEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Get returns the entry with the given id from the in-memory collection.
func (s *Store) Get(id string) (models.TimeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return models.TimeEntry{}, false
}

// ActiveEntry returns the entry with no end time, if one exists.
func (s *Store) ActiveEntry() (models.TimeEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Running() {
			return e, true
		}
	}
	return models.TimeEntry{}, false
}

// snapshot captures the state a failed mutation must restore. The same
// apply/restore pair backs create, update and delete.
type snapshot struct {
	restore func()
}

// Create inserts the entry optimistically under a provisional id, persists
// it, and swaps in the durable id at the same collection position. On
// durable failure the provisional entry is removed and the error returned.
func (s *Store) Create(ctx context.Context, e models.TimeEntry) (models.TimeEntry, error) {
	if e.TaskID == "" {
		return models.TimeEntry{}, fmt.Errorf("%w: no task selected", models.ErrValidation)
	}
	if e.StartTime.After(time.Now().Add(time.Minute)) {
		return models.TimeEntry{}, fmt.Errorf("%w: start time in the future", models.ErrValidation)
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return models.TimeEntry{}, fmt.Errorf("%w: end time before start time", models.ErrValidation)
	}

	e.OwnerUserID = s.userID
	provisionalID := "temp-" + uuid.NewString()
	e.ID = provisionalID

	s.mu.Lock()
	s.entries = append([]models.TimeEntry{e}, s.entries...)
	s.mu.Unlock()

	snap := snapshot{restore: func() { s.removeLocked(provisionalID) }}

	persisted, err := s.backend.CreateEntry(ctx, e)
	if err != nil {
		s.mu.Lock()
		snap.restore()
		s.mu.Unlock()
		return models.TimeEntry{}, fmt.Errorf("create entry: %w", err)
	}

	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].ID == provisionalID {
			s.entries[i] = persisted
			break
		}
	}
	s.mu.Unlock()

	if !persisted.Running() {
		s.emit(Event{Kind: EventCommitted, EntryID: persisted.ID, Date: persisted.Date})
	}
	return persisted, nil
}

// Update mutates the in-memory entry immediately and persists in the
// background. A durable failure restores the captured prior entry; success
// queues a best-effort ledger sync.
func (s *Store) Update(id string, u models.EntryUpdate) error {
	if u.EndTime != nil && u.StartTime != nil && u.EndTime.Before(*u.StartTime) {
		return fmt.Errorf("%w: end time before start time", models.ErrValidation)
	}

	s.mu.Lock()
	idx := -1
	for i := range s.entries {
		if s.entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return models.ErrNotFound
	}

	prior := s.entries[idx]
	snap := snapshot{restore: func() {
		for i := range s.entries {
			if s.entries[i].ID == id {
				s.entries[i] = prior
				return
			}
		}
	}}

	applyUpdate(&s.entries[idx], u)
	updated := s.entries[idx]
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.backend.UpdateEntryFields(ctx, id, u); err != nil {
			s.logger.Error("durable update failed, rolling back",
				slog.String("entry", id), slog.String("error", err.Error()))
			s.mu.Lock()
			snap.restore()
			s.mu.Unlock()
			return
		}
		if !updated.Running() {
			s.emit(Event{Kind: EventCommitted, EntryID: id, Date: updated.Date})
		}
	}()
	return nil
}

// Delete removes the entry from memory immediately, persists the delete in
// the background, and queues a best-effort ledger row removal keyed by the
// id and the entry's original date.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	var removed models.TimeEntry
	found := false
	for _, e := range s.entries {
		if e.ID == id {
			removed = e
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return models.ErrNotFound
	}

	snap := snapshot{restore: func() {
		s.entries = append(s.entries, removed)
	}}
	s.removeLocked(id)
	s.mu.Unlock()

	s.emit(Event{Kind: EventDeleted, EntryID: id, Date: removed.Date})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.backend.DeleteEntry(ctx, id); err != nil {
			s.logger.Error("durable delete failed, restoring entry",
				slog.String("entry", id), slog.String("error", err.Error()))
			s.mu.Lock()
			snap.restore()
			s.mu.Unlock()
		}
	}()
	return nil
}

// removeLocked drops an entry from the collection. Caller holds the mutex.
func (s *Store) removeLocked(id string) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

func applyUpdate(e *models.TimeEntry, u models.EntryUpdate) {
	if u.TaskID != nil {
		e.TaskID = *u.TaskID
	}
	if u.StartTime != nil {
		e.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		e.EndTime = u.EndTime
	}
	if u.Comment != nil {
		e.Comment = *u.Comment
	}
	if u.Date != nil {
		e.Date = *u.Date
	}
}
