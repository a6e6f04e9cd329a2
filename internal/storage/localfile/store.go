// Package localfile is the degraded-mode entry backend used when the SQLite
// database cannot be opened at startup. It offers the same contract over a
// single JSON file so the rest of the system does not notice the switch.
// Once selected it stays selected for the lifetime of the process.
package localfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/daylog/daylog/internal/models"
)

// Store persists time entries to <dir>/<namespace>.json.
type Store struct {
	mu   sync.Mutex
	path string
}

type fileData struct {
	Entries []models.TimeEntry `json:"entries"`
}

// Open prepares a local store under dir for the given namespace.
func Open(dir, namespace string) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("empty namespace")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating local store directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, namespace+".json")}, nil
}

func (s *Store) load() (fileData, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return fileData{Entries: []models.TimeEntry{}}, nil
	}
	if err != nil {
		return fileData{}, fmt.Errorf("reading %s: %w", s.path, err)
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		// Back up corrupt file and start over.
		backup := s.path + ".corrupt"
		_ = os.Rename(s.path, backup)
		return fileData{}, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", s.path, backup, err)
	}
	return fd, nil
}

// save writes to a temp file then renames, so a crash mid-write cannot
// corrupt the store.
func (s *Store) save(fd fileData) error {
	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling entries: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// CreateEntry persists a new time entry with a locally assigned id.
func (s *Store) CreateEntry(_ context.Context, e models.TimeEntry) (models.TimeEntry, error) {
	if e.TaskID == "" || e.OwnerUserID == "" {
		return models.TimeEntry{}, fmt.Errorf("%w: task id and owner must not be empty", models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.load()
	if err != nil {
		return models.TimeEntry{}, err
	}
	e.ID = uuid.NewString()
	fd.Entries = append(fd.Entries, e)
	if err := s.save(fd); err != nil {
		return models.TimeEntry{}, err
	}
	return e, nil
}

// UpdateEntryFields applies the non-nil fields of the update to an entry.
func (s *Store) UpdateEntryFields(_ context.Context, id string, u models.EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.load()
	if err != nil {
		return err
	}
	for i := range fd.Entries {
		if fd.Entries[i].ID != id {
			continue
		}
		applyUpdate(&fd.Entries[i], u)
		return s.save(fd)
	}
	return models.ErrNotFound
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

// DeleteEntry removes an entry by id.
func (s *Store) DeleteEntry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.load()
	if err != nil {
		return err
	}
	for i := range fd.Entries {
		if fd.Entries[i].ID == id {
			fd.Entries = append(fd.Entries[:i], fd.Entries[i+1:]...)
			return s.save(fd)
		}
	}
	return models.ErrNotFound
}

// ListEntriesForUser returns the user's entries, newest start time first.
func (s *Store) ListEntriesForUser(_ context.Context, userID string) ([]models.TimeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fd, err := s.load()
	if err != nil {
		return nil, err
	}

	var entries []models.TimeEntry
	for _, e := range fd.Entries {
		if e.OwnerUserID == userID {
			entries = append(entries, e)
		}
	}
	sortNewestFirst(entries)
	return entries, nil
}

// FindActiveEntry returns the user's entry with no end time, if any.
func (s *Store) FindActiveEntry(_ context.Context, userID string) (models.TimeEntry, error) {
	entries, err := s.ListEntriesForUser(context.Background(), userID)
	if err != nil {
		return models.TimeEntry{}, err
	}
	for _, e := range entries {
		if e.Running() {
			return e, nil
		}
	}
	return models.TimeEntry{}, models.ErrNotFound
}

func sortNewestFirst(entries []models.TimeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartTime.After(entries[j].StartTime)
	})
}

// Close satisfies the backend contract; there is nothing to release.
func (s *Store) Close() error { return nil }
