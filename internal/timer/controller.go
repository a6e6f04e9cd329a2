// Package timer owns the per-user "is a timer running" state machine. It
// guarantees at most one open entry per user and that no persisted entry
// ever spans a reporting-day boundary: a session crossing midnight is
// closed at 23:59:59.999 and reopened at 00:00:00.000 of the next day.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/daylog/daylog/internal/entrystore"
	"github.com/daylog/daylog/internal/models"
	"github.com/daylog/daylog/internal/timeutil"
)

// State names the controller's position in the session lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateRunning         State = "running"
	StateAwaitingComment State = "awaiting_comment"
	StateSaving          State = "saving"
)

// contiguityTolerance is how close one entry's end must be to the next
// entry's start for the two to count as one continuous run of work.
const contiguityTolerance = time.Second

// Controller drives one user's timer session.
type Controller struct {
	store  *entrystore.Store
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	entryID   string
	taskID    string
	startTime time.Time
	comment   string
	elapsed   time.Duration
	crossing  bool
}

// Option adjusts controller construction.
type Option func(*Controller)

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New constructs an idle controller for the given user's store.
func New(store *entrystore.Store, loc *time.Location, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		store:  store,
		loc:    loc,
		logger: logger,
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status is a snapshot of the controller for the API.
type Status struct {
	State     State     `json:"state"`
	EntryID   string    `json:"entry_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	Elapsed   string    `json:"elapsed"`
	Comment   string    `json:"comment,omitempty"`
}

// Status reports the current session state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		EntryID:   c.entryID,
		TaskID:    c.taskID,
		StartTime: c.startTime,
		Elapsed:   timeutil.FormatClock(c.elapsed),
		Comment:   c.comment,
	}
}

// Restore adopts a still-open entry left behind by a previous process. If
// its start date is no longer today, the midnight crossover runs before
// normal ticking resumes.
func (c *Controller) Restore(ctx context.Context) {
	active, ok := c.store.ActiveEntry()
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateRunning
	c.entryID = active.ID
	c.taskID = active.TaskID
	c.startTime = active.StartTime
	c.comment = active.Comment
	c.elapsed = 0

	now := c.now()
	if !timeutil.SameReportingDay(active.StartTime, now, c.loc) {
		c.logger.Info("restored session crosses a day boundary",
			slog.String("entry", active.ID))
		c.crossoverLocked(ctx)
	} else {
		c.elapsed = now.Sub(active.StartTime)
	}
}

// Start begins a new session for the task. The caller's display name must
// be configured: it is what the spreadsheet's assignee column shows.
func (c *Controller) Start(ctx context.Context, taskID, displayName string) (models.TimeEntry, error) {
	if taskID == "" {
		return models.TimeEntry{}, fmt.Errorf("%w: no task selected", models.ErrValidation)
	}
	if strings.TrimSpace(displayName) == "" {
		return models.TimeEntry{}, models.ErrNameRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return models.TimeEntry{}, models.ErrTimerRunning
	}

	now := c.now()
	entry := models.TimeEntry{
		TaskID:    taskID,
		StartTime: now,
		Date:      timeutil.ReportingDate(now, c.loc),
	}

	// The durable id, not the provisional one, becomes the session id.
	persisted, err := c.store.Create(ctx, entry)
	if err != nil {
		return models.TimeEntry{}, err
	}

	c.state = StateRunning
	c.entryID = persisted.ID
	c.taskID = taskID
	c.startTime = now
	c.comment = ""
	c.elapsed = 0

	c.logger.Info("timer started",
		slog.String("entry", persisted.ID), slog.String("task", taskID))
	return persisted, nil
}

// Run ticks the controller every second until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick recomputes elapsed time from the wall clock. Elapsed is always
// now − start, never accumulated, so late or coalesced ticks cannot drift
// it. When the reporting date has moved past the session's start date the
// tick becomes a midnight crossover instead.
func (c *Controller) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning || c.crossing {
		return
	}

	now := c.now()
	if !timeutil.SameReportingDay(c.startTime, now, c.loc) {
		c.crossoverLocked(ctx)
		return
	}

	c.elapsed = now.Sub(c.startTime)
	if c.elapsed < 0 {
		c.elapsed = 0
	}
}

// crossoverLocked splits the running session at the day boundary: the open
// entry is closed at 23:59:59.999 of its start date and a fresh entry for
// the same task opens at 00:00:00.000 of the next day. Caller holds the
// mutex; the crossing flag keeps ticks out until the split is done.
func (c *Controller) crossoverLocked(ctx context.Context) {
	c.crossing = true
	defer func() { c.crossing = false }()

	dayEnd := timeutil.EndOfReportingDay(c.startTime, c.loc)
	comment := c.comment
	if err := c.store.Update(c.entryID, models.EntryUpdate{
		EndTime: &dayEnd,
		Comment: &comment,
	}); err != nil {
		c.logger.Error("midnight crossover: closing entry failed",
			slog.String("entry", c.entryID), slog.String("error", err.Error()))
		return
	}

	nextStart := timeutil.StartOfNextReportingDay(c.startTime, c.loc)
	next := models.TimeEntry{
		TaskID:    c.taskID,
		StartTime: nextStart,
		Comment:   comment,
		Date:      timeutil.ReportingDate(nextStart, c.loc),
	}

	persisted, err := c.store.Create(ctx, next)
	if err != nil {
		// The old entry is closed but no new one is running. Accepted gap:
		// report it, do not retry.
		c.logger.Error("midnight crossover: creating follow-on entry failed",
			slog.String("task", c.taskID), slog.String("error", err.Error()))
		return
	}

	c.entryID = persisted.ID
	c.startTime = nextStart
	c.elapsed = 0

	c.logger.Info("midnight crossover complete",
		slog.String("closed_at", dayEnd.Format(time.RFC3339Nano)),
		slog.String("reopened", persisted.ID))
}

// RequestStop opens the comment dialog: the session keeps its entry but
// stops being a plain running timer until the user confirms or cancels.
func (c *Controller) RequestStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return models.ErrNoTimer
	}
	c.state = StateAwaitingComment
	return nil
}

// CancelStop reverts a stop request and resumes ticking.
func (c *Controller) CancelStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAwaitingComment {
		return models.ErrNoTimer
	}
	c.state = StateRunning
	return nil
}

// ConfirmStop ends the session: the entry gets its end time and comment,
// and the comment is backfilled across contiguous earlier runs of the same
// task. A save already in flight makes further confirms a no-op.
func (c *Controller) ConfirmStop(ctx context.Context, comment string) error {
	c.mu.Lock()
	if c.state == StateSaving {
		c.mu.Unlock()
		return nil
	}
	if c.state != StateAwaitingComment {
		c.mu.Unlock()
		return models.ErrNoTimer
	}
	c.state = StateSaving
	entryID := c.entryID
	taskID := c.taskID
	c.mu.Unlock()

	now := c.now()
	if err := c.store.Update(entryID, models.EntryUpdate{
		EndTime: &now,
		Comment: &comment,
	}); err != nil {
		c.mu.Lock()
		c.state = StateAwaitingComment
		c.mu.Unlock()
		return err
	}

	c.backfillComment(entryID, taskID, comment)

	c.mu.Lock()
	c.state = StateIdle
	c.entryID = ""
	c.taskID = ""
	c.startTime = time.Time{}
	c.comment = ""
	c.elapsed = 0
	c.mu.Unlock()

	c.logger.Info("timer stopped", slog.String("entry", entryID))
	return nil
}

// backfillComment propagates the comment backwards through completed
// entries of the same task that form an unbroken chain with the one just
// stopped. The walk runs newest end time first and stops at the first gap
// wider than the tolerance.
func (c *Controller) backfillComment(entryID, taskID, comment string) {
	current, ok := c.store.Get(entryID)
	if !ok {
		return
	}

	var candidates []models.TimeEntry
	for _, e := range c.store.Entries() {
		if e.ID == entryID || e.TaskID != taskID || e.Running() {
			continue
		}
		if e.OwnerUserID != current.OwnerUserID {
			continue
		}
		candidates = append(candidates, e)
	}
	sortByEndDesc(candidates)

	checkStart := current.StartTime
	for _, e := range candidates {
		gap := checkStart.Sub(*e.EndTime)
		if gap < 0 {
			gap = -gap
		}
		if gap <= contiguityTolerance {
			if err := c.store.Update(e.ID, models.EntryUpdate{Comment: &comment}); err != nil {
				c.logger.Error("comment backfill failed",
					slog.String("entry", e.ID), slog.String("error", err.Error()))
				continue
			}
			checkStart = e.StartTime
			continue
		}
		if checkStart.Before(*e.EndTime) {
			// Entry newer than the chain head; keep looking further back.
			continue
		}
		break
	}
}

func sortByEndDesc(entries []models.TimeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EndTime.After(*entries[j].EndTime)
	})
}
