package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/daylog/daylog/internal/models"
)

// Store wraps access to the SQLite database and exposes high level helpers.
// It is the system of record for time entries; the spreadsheet ledger is a
// derived mirror that never feeds back into these tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open initializes a new SQLite store and runs the required migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("empty database path")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=ON", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: conn, logger: logger}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS teams (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            key TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS team_members (
            team_id TEXT NOT NULL,
            email TEXT NOT NULL,
            PRIMARY KEY (team_id, email),
            FOREIGN KEY(team_id) REFERENCES teams(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS tasks (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            color TEXT NOT NULL DEFAULT '#2563eb',
            assignee_email TEXT,
            assignee_name TEXT NOT NULL DEFAULT '',
            team_id TEXT,
            project_name TEXT NOT NULL DEFAULT '',
            identifier TEXT NOT NULL DEFAULT '',
            state_type TEXT NOT NULL DEFAULT 'backlog',
            priority INTEGER NOT NULL DEFAULT 0,
            url TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS time_entries (
            id TEXT PRIMARY KEY,
            task_id TEXT NOT NULL,
            user_id TEXT NOT NULL,
            start_time DATETIME NOT NULL,
            end_time DATETIME,
            comment TEXT NOT NULL DEFAULT '',
            date TEXT NOT NULL,
            FOREIGN KEY(task_id) REFERENCES tasks(id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_entries_user ON time_entries(user_id, start_time);`,
		`CREATE INDEX IF NOT EXISTS idx_entries_task ON time_entries(task_id);`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
            user_id TEXT PRIMARY KEY,
            email TEXT NOT NULL,
            name TEXT NOT NULL DEFAULT '',
            approved INTEGER NOT NULL DEFAULT 0
        );`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateEntry persists a new time entry and assigns its durable id.
func (s *Store) CreateEntry(ctx context.Context, e models.TimeEntry) (models.TimeEntry, error) {
	if e.TaskID == "" {
		return models.TimeEntry{}, fmt.Errorf("%w: task id must not be empty", models.ErrValidation)
	}
	if e.OwnerUserID == "" {
		return models.TimeEntry{}, fmt.Errorf("%w: owner must not be empty", models.ErrValidation)
	}
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return models.TimeEntry{}, fmt.Errorf("%w: end time before start time", models.ErrValidation)
	}

	e.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO time_entries(id, task_id, user_id, start_time, end_time, comment, date) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.OwnerUserID, e.StartTime, nullableTime(e.EndTime), e.Comment, e.Date)
	if err != nil {
		return models.TimeEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	return s.GetEntry(ctx, e.ID)
}

// GetEntry retrieves a single time entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (models.TimeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, user_id, start_time, end_time, comment, date FROM time_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// UpdateEntryFields applies the non-nil fields of the update to an entry.
func (s *Store) UpdateEntryFields(ctx context.Context, id string, u models.EntryUpdate) error {
	current, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}

	if u.TaskID != nil {
		current.TaskID = *u.TaskID
	}
	if u.StartTime != nil {
		current.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		current.EndTime = u.EndTime
	}
	if u.Comment != nil {
		current.Comment = *u.Comment
	}
	if u.Date != nil {
		current.Date = *u.Date
	}

	if current.EndTime != nil && current.EndTime.Before(current.StartTime) {
		return fmt.Errorf("%w: end time before start time", models.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE time_entries SET task_id = ?, start_time = ?, end_time = ?, comment = ?, date = ? WHERE id = ?`,
		current.TaskID, current.StartTime, nullableTime(current.EndTime), current.Comment, current.Date, id)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteEntry removes a time entry by id.
func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListEntriesForUser returns all entries owned by a user, newest first.
func (s *Store) ListEntriesForUser(ctx context.Context, userID string) ([]models.TimeEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, start_time, end_time, comment, date
         FROM time_entries WHERE user_id = ? ORDER BY start_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []models.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FindActiveEntry returns the user's entry with no end time, if any.
func (s *Store) FindActiveEntry(ctx context.Context, userID string) (models.TimeEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, user_id, start_time, end_time, comment, date
         FROM time_entries WHERE user_id = ? AND end_time IS NULL ORDER BY start_time DESC LIMIT 1`, userID)
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.TimeEntry, error) {
	var e models.TimeEntry
	var end sql.NullTime
	err := row.Scan(&e.ID, &e.TaskID, &e.OwnerUserID, &e.StartTime, &end, &e.Comment, &e.Date)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TimeEntry{}, models.ErrNotFound
	}
	if err != nil {
		return models.TimeEntry{}, fmt.Errorf("scan entry: %w", err)
	}
	if end.Valid {
		t := end.Time
		e.EndTime = &t
	}
	return e, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// ListTasks retrieves all tasks ordered by creation date, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color, assignee_email, assignee_name, team_id, project_name,
                identifier, state_type, priority, url, created_at
         FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var assignee, teamID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &assignee, &t.AssigneeName, &teamID,
			&t.ProjectName, &t.Identifier, &t.StateType, &t.Priority, &t.URL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if assignee.Valid {
			v := assignee.String
			t.AssigneeEmail = &v
		}
		if teamID.Valid {
			v := teamID.String
			t.TeamID = &v
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	var t models.Task
	var assignee, teamID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, assignee_email, assignee_name, team_id, project_name,
                identifier, state_type, priority, url, created_at
         FROM tasks WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Color, &assignee, &t.AssigneeName, &teamID,
			&t.ProjectName, &t.Identifier, &t.StateType, &t.Priority, &t.URL, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, models.ErrNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("get task: %w", err)
	}
	if assignee.Valid {
		v := assignee.String
		t.AssigneeEmail = &v
	}
	if teamID.Valid {
		v := teamID.String
		t.TeamID = &v
	}
	return t, nil
}

// UpsertTask inserts or replaces a task row. Used by the tracker sync job
// and by the admin task management endpoints.
func (s *Store) UpsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	if t.Name == "" {
		return models.Task{}, fmt.Errorf("%w: task name must not be empty", models.ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(id, name, color, assignee_email, assignee_name, team_id, project_name,
                           identifier, state_type, priority, url, created_at)
         VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            name = excluded.name, color = excluded.color,
            assignee_email = excluded.assignee_email, assignee_name = excluded.assignee_name,
            team_id = excluded.team_id, project_name = excluded.project_name,
            identifier = excluded.identifier, state_type = excluded.state_type,
            priority = excluded.priority, url = excluded.url`,
		t.ID, t.Name, t.Color, nullableString(t.AssigneeEmail), t.AssigneeName,
		nullableString(t.TeamID), t.ProjectName, t.Identifier, t.StateType, t.Priority, t.URL, t.CreatedAt)
	if err != nil {
		return models.Task{}, fmt.Errorf("upsert task: %w", err)
	}
	return s.GetTask(ctx, t.ID)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// GetTeam retrieves a team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var t models.Team
	err := s.db.QueryRowContext(ctx, `SELECT id, name, key FROM teams WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Team{}, models.ErrNotFound
	}
	if err != nil {
		return models.Team{}, fmt.Errorf("get team: %w", err)
	}
	return t, nil
}

// ListTeamsForUser returns the teams the given email belongs to.
func (s *Store) ListTeamsForUser(ctx context.Context, email string) ([]models.Team, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.name, t.key FROM teams t
         JOIN team_members m ON m.team_id = t.id
         WHERE m.email = ? ORDER BY t.name`, email)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Key); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, t)
	}
	return teams, rows.Err()
}

// SaveTeam inserts or replaces a team and its member list.
func (s *Store) SaveTeam(ctx context.Context, team models.Team, memberEmails []string) error {
	if team.ID == "" || team.Name == "" {
		return fmt.Errorf("%w: team id and name must not be empty", models.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO teams(id, name, key) VALUES(?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET name = excluded.name, key = excluded.key`,
		team.ID, team.Name, team.Key); err != nil {
		return fmt.Errorf("upsert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, team.ID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, email := range memberEmails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO team_members(team_id, email) VALUES(?, ?)`, team.ID, email); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit()
}

// GetProfile retrieves a user profile by user id.
func (s *Store) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	var p models.Profile
	var approved int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, name, approved FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Email, &p.Name, &approved)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, models.ErrNotFound
	}
	if err != nil {
		return models.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.Approved = approved != 0
	return p, nil
}

// SaveProfile inserts or replaces a user profile.
func (s *Store) SaveProfile(ctx context.Context, p models.Profile) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user id must not be empty", models.ErrValidation)
	}
	approved := 0
	if p.Approved {
		approved = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profiles(user_id, email, name, approved) VALUES(?, ?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET email = excluded.email, name = excluded.name, approved = excluded.approved`,
		p.UserID, p.Email, p.Name, approved)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
