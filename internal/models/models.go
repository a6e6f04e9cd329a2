package models

import (
	"errors"
	"time"
)

// GlobalAssigneeEmail is the reserved sentinel assignee that marks a task as
// visible to every user regardless of team membership.
const GlobalAssigneeEmail = "TaskForAll@task.com"

// TimeEntry is one tracked work session. EndTime is nil while the session is
// running; at most one entry per owner may be open at any time.
type TimeEntry struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	OwnerUserID string     `json:"user_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Comment     string     `json:"comment"`
	Date        string     `json:"date"`
}

// Running reports whether the entry has no end time yet.
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}

// EntryUpdate carries the mutable fields of a time entry. Nil pointers mean
// "leave unchanged".
type EntryUpdate struct {
	TaskID    *string    `json:"task_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Comment   *string    `json:"comment"`
	Date      *string    `json:"date"`
}

// Task is a timeable unit of work synced from the issue tracker. Tasks are
// read-mostly here; the sync job owns their content.
type Task struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Color         string    `json:"color"`
	AssigneeEmail *string   `json:"assignee_email"`
	AssigneeName  string    `json:"assignee_name"`
	TeamID        *string   `json:"team_id"`
	ProjectName   string    `json:"project_name"`
	Identifier    string    `json:"identifier"`
	StateType     string    `json:"state_type"`
	Priority      int       `json:"priority"`
	URL           string    `json:"url"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsGlobal reports whether the task carries the reserved everyone-visible
// assignee sentinel.
func (t Task) IsGlobal() bool {
	return t.AssigneeEmail != nil && *t.AssigneeEmail == GlobalAssigneeEmail
}

// Terminal reports whether the task's lifecycle state excludes it from
// selection (completed or canceled in the tracker).
func (t Task) Terminal() bool {
	return t.StateType == "completed" || t.StateType == "canceled"
}

// Team is an issue-tracker team a user may belong to.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Profile holds the per-user settings the timer needs: the display name
// written into the spreadsheet and the approval flag.
type Profile struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Approved bool   `json:"approved"`
}

// Viewer is the authenticated identity a request acts as. Issued by the
// auth proxy; this service trusts it.
type Viewer struct {
	UserID  string
	Email   string
	Name    string
	IsAdmin bool
	TeamIDs []string
}

// MemberOf reports whether the viewer belongs to the given team.
func (v Viewer) MemberOf(teamID string) bool {
	for _, id := range v.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// Sentinel errors shared across the storage, timer and ledger layers.
var (
	ErrNotFound     = errors.New("not found")
	ErrNameRequired = errors.New("display name required")
	ErrTimerRunning = errors.New("timer already running")
	ErrNoTimer      = errors.New("no timer running")
	ErrValidation   = errors.New("validation failed")
)
