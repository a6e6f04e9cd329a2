// Package syncer mirrors committed time entries into the spreadsheet
// ledger. It consumes the entry store's event stream on its own goroutine,
// so persistence correctness never waits on — and never rolls back for —
// the mirror. Failures here are logged and dropped by contract.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daylog/daylog/internal/entrystore"
	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/sheets"
	"github.com/daylog/daylog/internal/timeutil"
)

// DataSource supplies the relational context a spreadsheet row needs.
type DataSource interface {
	GetEntry(ctx context.Context, id string) (models.TimeEntry, error)
	GetTask(ctx context.Context, id string) (models.Task, error)
	GetTeam(ctx context.Context, id string) (models.Team, error)
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
}

// Syncer drains entry events into the ledger.
type Syncer struct {
	ledger *sheets.Ledger
	source DataSource
	loc    *time.Location
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New constructs a syncer. A nil ledger disables mirroring: events are
// consumed and dropped with a debug log, matching the "integration
// disabled" mode when no credentials are configured.
func New(ledger *sheets.Ledger, source DataSource, loc *time.Location, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{ledger: ledger, source: source, loc: loc, logger: logger}
}

// Watch consumes events from one store until the context is cancelled or
// the store's channel closes. Multiple stores can be watched concurrently;
// each event targets a distinct row key so completion order is free.
func (s *Syncer) Watch(ctx context.Context, events <-chan entrystore.Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handle(ctx, ev)
			}
		}
	}()
}

// Wait blocks until all watch goroutines have finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) handle(ctx context.Context, ev entrystore.Event) {
	if s.ledger == nil {
		s.logger.Debug("ledger disabled, dropping sync event",
			slog.String("kind", string(ev.Kind)), slog.String("entry", ev.EntryID))
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	switch ev.Kind {
	case entrystore.EventCommitted:
		err = s.syncEntry(opCtx, ev.EntryID)
	case entrystore.EventDeleted:
		err = s.ledger.Delete(opCtx, ev.EntryID, ev.Date)
	}
	if err != nil {
		// Best-effort mirror: log, no retry, nothing surfaced.
		s.logger.Error("spreadsheet sync failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("entry", ev.EntryID),
			slog.String("error", err.Error()))
	}
}

// syncEntry upserts one entry's row: update first, and only when the row
// does not exist yet, write. This composition is the standard path for
// every sync.
func (s *Syncer) syncEntry(ctx context.Context, entryID string) error {
	row, err := s.buildRow(ctx, entryID)
	if err != nil {
		if errors.Is(err, errEntryRunning) {
			return nil
		}
		return err
	}

	action, err := s.ledger.Update(ctx, row)
	if err != nil {
		return err
	}
	if action == sheets.ActionNotFound {
		if _, err := s.ledger.Write(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var errEntryRunning = errors.New("entry still running")

func (s *Syncer) buildRow(ctx context.Context, entryID string) (sheets.EntryRow, error) {
	entry, err := s.source.GetEntry(ctx, entryID)
	if err != nil {
		return sheets.EntryRow{}, fmt.Errorf("loading entry: %w", err)
	}
	if entry.Running() {
		return sheets.EntryRow{}, errEntryRunning
	}

	task, err := s.source.GetTask(ctx, entry.TaskID)
	if err != nil {
		return sheets.EntryRow{}, fmt.Errorf("loading task: %w", err)
	}

	teamName := ""
	projectName := task.ProjectName
	if task.IsGlobal() {
		// Admin-created catch-all tasks have no team or project of their
		// own; the task name stands in for both.
		teamName = task.Name
		projectName = task.Name
	} else if task.TeamID != nil {
		team, err := s.source.GetTeam(ctx, *task.TeamID)
		if err == nil {
			teamName = team.Name
		} else if !errors.Is(err, models.ErrNotFound) {
			return sheets.EntryRow{}, fmt.Errorf("loading team: %w", err)
		}
	}

	assigneeName := ""
	profile, err := s.source.GetProfile(ctx, entry.OwnerUserID)
	if err == nil {
		assigneeName = profile.Name
	} else if !errors.Is(err, models.ErrNotFound) {
		return sheets.EntryRow{}, fmt.Errorf("loading profile: %w", err)
	}

	return sheets.EntryRow{
		TimeEntryID:  entry.ID,
		Date:         entry.Date,
		TeamName:     teamName,
		ProjectName:  projectName,
		IssueName:    task.Name,
		Comment:      entry.Comment,
		WorkingHours: timeutil.WorkingHours(entry.StartTime, *entry.EndTime),
		AssigneeName: assigneeName,
		StartTime:    timeutil.FormatSheetTime(entry.StartTime, s.loc),
		EndTime:      timeutil.FormatSheetTime(*entry.EndTime, s.loc),
	}, nil
}
