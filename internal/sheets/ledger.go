// Package sheets mirrors completed time entries into a Google spreadsheet,
// one tab per calendar month, keyed by entry id in column A. The sheet is a
// derived, best-effort ledger: the relational store stays authoritative and
// ledger failures never propagate into it.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daylog/daylog/internal/timeutil"
)

// Action is the outcome of a ledger operation.
type Action string

const (
	ActionCreated       Action = "created"
	ActionAlreadyExists Action = "already_exists"
	ActionUpdated       Action = "updated"
	ActionNotFound      Action = "not_found"
)

// headerRow is the fixed 10-column header written when a month sheet is
// first created. Column A is the entry id used to locate rows.
var headerRow = []string{
	"エントリーID",
	"日付",
	"Team名",
	"Project名",
	"Issue名",
	"コメント",
	"稼働時間(時間)",
	"Assignee名",
	"開始時刻",
	"終了時刻",
}

// EntryRow is the spreadsheet payload for one completed time entry.
type EntryRow struct {
	TimeEntryID  string
	Date         string
	TeamName     string
	ProjectName  string
	IssueName    string
	Comment      string
	WorkingHours string
	AssigneeName string
	StartTime    string
	EndTime      string
}

func (r EntryRow) values() []string {
	return []string{
		r.TimeEntryID,
		r.Date,
		r.TeamName,
		r.ProjectName,
		r.IssueName,
		r.Comment,
		r.WorkingHours,
		r.AssigneeName,
		r.StartTime,
		r.EndTime,
	}
}

// Ledger owns the per-id in-flight write guard and the confirmed sheet-name
// cache. Both are instance state, constructed once and injected where
// needed; their lifetime is the ledger's, not the process's.
type Ledger struct {
	api    SheetAPI
	logger *slog.Logger

	mu            sync.Mutex
	pendingWrites map[string]struct{}
	knownSheets   map[string]struct{}
}

// NewLedger constructs a ledger over the given sheet primitives.
func NewLedger(api SheetAPI, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		api:           api,
		logger:        logger,
		pendingWrites: make(map[string]struct{}),
		knownSheets:   make(map[string]struct{}),
	}
}

// ensureMonthSheet makes sure the tab for the label exists, creating it
// with the header row on first use. Confirmed names are cached so repeat
// writes skip the metadata call.
func (l *Ledger) ensureMonthSheet(ctx context.Context, label string) error {
	l.mu.Lock()
	_, known := l.knownSheets[label]
	l.mu.Unlock()
	if known {
		return nil
	}

	props, err := l.api.SheetProperties(ctx)
	if err != nil {
		return fmt.Errorf("fetching sheet metadata: %w", err)
	}
	for _, p := range props {
		if p.Title == label {
			l.rememberSheet(label)
			return nil
		}
	}

	if err := l.api.AddSheet(ctx, label); err != nil {
		return fmt.Errorf("creating sheet %q: %w", label, err)
	}
	headerRange := fmt.Sprintf("%s!A1:J1", label)
	if err := l.api.UpdateValues(ctx, headerRange, [][]string{headerRow}); err != nil {
		return fmt.Errorf("writing header for %q: %w", label, err)
	}

	l.rememberSheet(label)
	l.logger.Info("created month sheet", slog.String("sheet", label))
	return nil
}

func (l *Ledger) rememberSheet(label string) {
	l.mu.Lock()
	l.knownSheets[label] = struct{}{}
	l.mu.Unlock()
}

// acquire registers an in-flight write for the id. Returns false when a
// write for the same id is already pending.
func (l *Ledger) acquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, pending := l.pendingWrites[id]; pending {
		return false
	}
	l.pendingWrites[id] = struct{}{}
	return true
}

func (l *Ledger) release(id string) {
	l.mu.Lock()
	delete(l.pendingWrites, id)
	l.mu.Unlock()
}

// findRowIndex scans column A of the sheet for the entry id. Returns the
// 0-based row index, or -1 when absent. Row 0 is the header and never
// matches.
func (l *Ledger) findRowIndex(ctx context.Context, label, id string) (int, error) {
	rows, err := l.api.GetValues(ctx, fmt.Sprintf("%s!A:A", label))
	if err != nil {
		return -1, fmt.Errorf("scanning sheet %q: %w", label, err)
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) > 0 && row[0] == id {
			return i, nil
		}
	}
	return -1, nil
}

// Write appends the entry's row to its month sheet, deduplicated by id.
// A second call for the same id — concurrent or later — reports
// already_exists and leaves the single existing row untouched. Two
// genuinely concurrent writers in different processes can still both pass
// the scan and double-append; that race is accepted, matching the
// single-process guard this ledger provides.
func (l *Ledger) Write(ctx context.Context, row EntryRow) (Action, error) {
	if !l.acquire(row.TimeEntryID) {
		l.logger.Info("write already in flight", slog.String("entry", row.TimeEntryID))
		return ActionAlreadyExists, nil
	}
	defer l.release(row.TimeEntryID)

	label, err := timeutil.MonthSheetLabel(row.Date)
	if err != nil {
		return "", err
	}
	if err := l.ensureMonthSheet(ctx, label); err != nil {
		return "", err
	}

	idx, err := l.findRowIndex(ctx, label, row.TimeEntryID)
	if err != nil {
		return "", err
	}
	if idx != -1 {
		return ActionAlreadyExists, nil
	}

	appendRange := fmt.Sprintf("%s!A:J", label)
	if err := l.api.AppendValues(ctx, appendRange, [][]string{row.values()}); err != nil {
		return "", fmt.Errorf("appending row: %w", err)
	}

	l.logger.Info("entry written to sheet",
		slog.String("sheet", label), slog.String("entry", row.TimeEntryID))
	return ActionCreated, nil
}

// Update overwrites the entry's existing row in place. When the id has no
// row it reports not_found and changes nothing; callers fall back to Write.
// Update never appends.
func (l *Ledger) Update(ctx context.Context, row EntryRow) (Action, error) {
	label, err := timeutil.MonthSheetLabel(row.Date)
	if err != nil {
		return "", err
	}
	if err := l.ensureMonthSheet(ctx, label); err != nil {
		return "", err
	}

	idx, err := l.findRowIndex(ctx, label, row.TimeEntryID)
	if err != nil {
		return "", err
	}
	if idx == -1 {
		return ActionNotFound, nil
	}

	// Sheet ranges are 1-indexed.
	updateRange := fmt.Sprintf("%s!A%d:J%d", label, idx+1, idx+1)
	if err := l.api.UpdateValues(ctx, updateRange, [][]string{row.values()}); err != nil {
		return "", fmt.Errorf("updating row: %w", err)
	}

	l.logger.Info("entry updated in sheet",
		slog.String("sheet", label), slog.String("entry", row.TimeEntryID), slog.Int("row", idx+1))
	return ActionUpdated, nil
}

// Delete removes the entry's row from its month sheet. A missing row is
// success: entries that predate the ledger never had one, and a row already
// removed by a concurrent actor needs no further work. Just before deleting,
// the remembered index is re-verified against the live cell so a concurrent
// deletion shifting rows cannot take out a neighbour; a shifted row is
// re-scanned once.
func (l *Ledger) Delete(ctx context.Context, id, date string) error {
	label, err := timeutil.MonthSheetLabel(date)
	if err != nil {
		return err
	}

	idx, err := l.findRowIndex(ctx, label, id)
	if err != nil {
		return err
	}
	if idx == -1 {
		l.logger.Info("entry not in sheet, skipping delete",
			slog.String("sheet", label), slog.String("entry", id))
		return nil
	}

	sheetID, err := l.sheetIDForLabel(ctx, label)
	if err != nil {
		return err
	}

	cell, err := l.api.GetValues(ctx, fmt.Sprintf("%s!A%d", label, idx+1))
	if err != nil {
		return fmt.Errorf("verifying row before delete: %w", err)
	}
	current := ""
	if len(cell) > 0 && len(cell[0]) > 0 {
		current = cell[0][0]
	}

	if current != id {
		l.logger.Warn("row index shifted, re-scanning",
			slog.String("sheet", label), slog.String("entry", id))
		idx, err = l.findRowIndex(ctx, label, id)
		if err != nil {
			return err
		}
		if idx == -1 {
			l.logger.Info("entry already deleted by another actor", slog.String("entry", id))
			return nil
		}
	}

	if err := l.api.DeleteRow(ctx, sheetID, int64(idx)); err != nil {
		return fmt.Errorf("deleting row: %w", err)
	}

	l.logger.Info("entry deleted from sheet",
		slog.String("sheet", label), slog.String("entry", id), slog.Int("row", idx+1))
	return nil
}

func (l *Ledger) sheetIDForLabel(ctx context.Context, label string) (int64, error) {
	props, err := l.api.SheetProperties(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching sheet metadata: %w", err)
	}
	for _, p := range props {
		if p.Title == label {
			return p.SheetID, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", label)
}
