// Package state manages the SQLite database holding the local snapshot of
// every tracked user's workout history.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/fitsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY,
    username    TEXT    NOT NULL,
    inserted_at TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS workouts (
    id              INTEGER PRIMARY KEY,
    user_id         INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    date            TEXT    NOT NULL,
    points          INTEGER,
    comment_id      INTEGER,
    comment_hash    INTEGER,
    is_propped      INTEGER NOT NULL DEFAULT 0,
    activities_hash INTEGER NOT NULL DEFAULT 0,
    is_resolved     INTEGER NOT NULL DEFAULT 0,
    inserted_at     TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_workouts_user_date ON workouts (user_id, date);

CREATE TABLE IF NOT EXISTS activities (
    workout_id INTEGER NOT NULL REFERENCES workouts (id) ON DELETE CASCADE,
    sequence   INTEGER NOT NULL,
    name       TEXT    NOT NULL,
    note       TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (workout_id, sequence)
);

CREATE TABLE IF NOT EXISTS sets (
    workout_id        INTEGER NOT NULL,
    activity_sequence INTEGER NOT NULL,
    sequence          INTEGER NOT NULL,
    points            INTEGER,
    distance          REAL,
    duration          REAL,
    speed             REAL,
    repetitions       REAL,
    weight            REAL,
    heart_rate        REAL,
    incline           REAL,
    is_pr             INTEGER NOT NULL DEFAULT 0,
    is_imperial       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (workout_id, activity_sequence, sequence),
    FOREIGN KEY (workout_id, activity_sequence)
        REFERENCES activities (workout_id, sequence) ON DELETE CASCADE
);
`

// dateLayout is fixed-width so that text comparison orders dates correctly.
const dateLayout = "2006-01-02 15:04:05"

// Store is the SQLite-backed local workout store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/fitsync/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "fitsync", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- users -------------------------------------------------------------------

// EnsureUser registers the user on first sight and returns the stored record.
// An existing user keeps its original InsertedAt; the username is refreshed.
func (s *Store) EnsureUser(ctx context.Context, u model.User) (*model.User, error) {
	const q = `
		INSERT INTO users (id, username, inserted_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username`
	if _, err := s.db.ExecContext(ctx, q, u.ID, u.Username, formatDate(s.now())); err != nil {
		return nil, fmt.Errorf("registering user %q: %w", u.Username, err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if got == nil {
		return nil, fmt.Errorf("user %d vanished after insert", u.ID)
	}
	return got, nil
}

// GetUser returns the user with the given ID, or (nil, nil) if unknown.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	const q = `SELECT id, username, inserted_at FROM users WHERE id = ?`
	var u model.User
	var inserted string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Username, &inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("querying user id=%d: %w", id, err)
	}
	u.InsertedAt, err = parseDate(inserted)
	if err != nil {
		return nil, fmt.Errorf("user id=%d: %w", id, err)
	}
	return &u, nil
}

// ListUsers returns all registered users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, inserted_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*model.User
	for rows.Next() {
		var u model.User
		var inserted string
		if err := rows.Scan(&u.ID, &u.Username, &inserted); err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		if u.InsertedAt, err = parseDate(inserted); err != nil {
			return nil, fmt.Errorf("user id=%d: %w", u.ID, err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// --- workouts: queries -------------------------------------------------------

const workoutColumns = `id, user_id, date, points, comment_id, comment_hash, is_propped, activities_hash`

// GetWorkoutsInRange returns the user's workouts with from <= date < to, in no
// particular order. Activities are not loaded.
func (s *Store) GetWorkoutsInRange(ctx context.Context, userID int64, from, to time.Time) ([]*model.Workout, error) {
	q := `SELECT ` + workoutColumns + ` FROM workouts WHERE user_id = ? AND date >= ? AND date < ?`
	rows, err := s.db.QueryContext(ctx, q, userID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("querying workouts for user %d: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Workout
	for rows.Next() {
		w, err := scanWorkout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// GetWorkout returns a workout row by ID, or (nil, nil) if it does not exist.
// Activities are not loaded.
func (s *Store) GetWorkout(ctx context.Context, id int64) (*model.Workout, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workoutColumns+` FROM workouts WHERE id = ?`, id)
	return scanWorkout(row)
}

// GetUnresolvedWorkoutIDs returns the IDs of the user's workouts that are
// still flagged unresolved and were first stored at or after since.
func (s *Store) GetUnresolvedWorkoutIDs(ctx context.Context, userID int64, since time.Time) ([]int64, error) {
	const q = `
		SELECT id FROM workouts
		WHERE user_id = ? AND is_resolved = 0 AND inserted_at >= ?
		ORDER BY date, id`
	rows, err := s.db.QueryContext(ctx, q, userID, formatDate(since))
	if err != nil {
		return nil, fmt.Errorf("querying unresolved workouts for user %d: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workout id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountWorkoutsUpTo returns how many workouts the user has dated at or before
// date.
func (s *Store) CountWorkoutsUpTo(ctx context.Context, userID int64, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workouts WHERE user_id = ? AND date <= ?`,
		userID, formatDate(date)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting workouts for user %d: %w", userID, err)
	}
	return n, nil
}

// PointsRank returns how many of the user's scored workouts have strictly
// fewer points than points, and how many scored workouts there are in total.
func (s *Store) PointsRank(ctx context.Context, userID int64, points int) (below, total int, err error) {
	const q = `
		SELECT COALESCE(SUM(CASE WHEN points < ? THEN 1 ELSE 0 END), 0), COUNT(*)
		FROM workouts WHERE user_id = ? AND points IS NOT NULL`
	if err := s.db.QueryRowContext(ctx, q, points, userID).Scan(&below, &total); err != nil {
		return 0, 0, fmt.Errorf("ranking points for user %d: %w", userID, err)
	}
	return below, total, nil
}

// --- workouts: mutations -----------------------------------------------------

// InsertWorkout stores a new workout with all its activities and sets in one
// transaction. New workouts start unresolved.
func (s *Store) InsertWorkout(ctx context.Context, w *model.Workout) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO workouts
			    (id, user_id, date, points, comment_id, comment_hash,
			     is_propped, activities_hash, is_resolved, inserted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`
		_, err := tx.ExecContext(ctx, q,
			w.ID, w.UserID, formatDate(w.Date), w.Points, w.CommentID, w.CommentHash,
			w.IsPropped, w.ActivitiesHash, formatDate(s.now()),
		)
		if err != nil {
			return fmt.Errorf("inserting workout %d: %w", w.ID, err)
		}
		return insertActivities(ctx, tx, w)
	})
}

// UpdateWorkout rewrites the workout row. With deep set, all activity and set
// rows are replaced as well, in the same transaction.
func (s *Store) UpdateWorkout(ctx context.Context, w *model.Workout, deep bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			UPDATE workouts SET
			    date = ?, points = ?, comment_id = ?, comment_hash = ?,
			    is_propped = ?, activities_hash = ?
			WHERE id = ?`
		res, err := tx.ExecContext(ctx, q,
			formatDate(w.Date), w.Points, w.CommentID, w.CommentHash,
			w.IsPropped, w.ActivitiesHash, w.ID,
		)
		if err != nil {
			return fmt.Errorf("updating workout %d: %w", w.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("updating workout %d: no such workout", w.ID)
		}
		if !deep {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE workout_id = ?`, w.ID); err != nil {
			return fmt.Errorf("clearing activities of workout %d: %w", w.ID, err)
		}
		return insertActivities(ctx, tx, w)
	})
}

// DeleteWorkout removes a workout and, through cascading keys, its children.
func (s *Store) DeleteWorkout(ctx context.Context, w *model.Workout) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workouts WHERE id = ?`, w.ID); err != nil {
		return fmt.Errorf("deleting workout %d: %w", w.ID, err)
	}
	return nil
}

// DeleteWorkoutsBefore removes every workout of the user dated strictly before
// date.
func (s *Store) DeleteWorkoutsBefore(ctx context.Context, userID int64, date time.Time) error {
	const q = `DELETE FROM workouts WHERE user_id = ? AND date < ?`
	if _, err := s.db.ExecContext(ctx, q, userID, formatDate(date)); err != nil {
		return fmt.Errorf("deleting workouts of user %d before %s: %w", userID, formatDate(date), err)
	}
	return nil
}

// ClearUnresolvedFlag marks a workout as resolved.
func (s *Store) ClearUnresolvedFlag(ctx context.Context, workoutID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE workouts SET is_resolved = 1 WHERE id = ?`, workoutID); err != nil {
		return fmt.Errorf("resolving workout %d: %w", workoutID, err)
	}
	return nil
}

// UpdateWorkoutComment records the bot's current comment on a workout. Nil
// values clear the bookkeeping.
func (s *Store) UpdateWorkoutComment(ctx context.Context, workoutID int64, commentID, commentHash *int64) error {
	const q = `UPDATE workouts SET comment_id = ?, comment_hash = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, commentID, commentHash, workoutID); err != nil {
		return fmt.Errorf("updating comment of workout %d: %w", workoutID, err)
	}
	return nil
}

// MarkPropped records that the bot has propped a workout.
func (s *Store) MarkPropped(ctx context.Context, workoutID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE workouts SET is_propped = 1 WHERE id = ?`, workoutID); err != nil {
		return fmt.Errorf("marking workout %d propped: %w", workoutID, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertActivities(ctx context.Context, tx *sql.Tx, w *model.Workout) error {
	const qa = `INSERT INTO activities (workout_id, sequence, name, note) VALUES (?, ?, ?, ?)`
	const qs = `
		INSERT INTO sets
		    (workout_id, activity_sequence, sequence, points, distance, duration, speed,
		     repetitions, weight, heart_rate, incline, is_pr, is_imperial)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, a := range w.Activities {
		if _, err := tx.ExecContext(ctx, qa, w.ID, a.Sequence, a.Name, a.Note); err != nil {
			return fmt.Errorf("inserting activity %d of workout %d: %w", a.Sequence, w.ID, err)
		}
		for _, st := range a.Sets {
			_, err := tx.ExecContext(ctx, qs,
				w.ID, a.Sequence, st.Sequence, st.Points,
				st.Distance, st.Duration, st.Speed, st.Repetitions,
				st.Weight, st.HeartRate, st.Incline, st.IsPr, st.IsImperial,
			)
			if err != nil {
				return fmt.Errorf("inserting set %d/%d of workout %d: %w", a.Sequence, st.Sequence, w.ID, err)
			}
		}
	}
	return nil
}

// scanner matches both *sql.Row and *sql.Rows so scanWorkout can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanWorkout(s scanner) (*model.Workout, error) {
	var w model.Workout
	var date string
	var points, commentID, commentHash sql.NullInt64

	err := s.Scan(&w.ID, &w.UserID, &date, &points, &commentID, &commentHash, &w.IsPropped, &w.ActivitiesHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning workout row: %w", err)
	}

	if w.Date, err = parseDate(date); err != nil {
		return nil, fmt.Errorf("workout %d: %w", w.ID, err)
	}
	w.Points = intPtr(points)
	if commentID.Valid {
		w.CommentID = &commentID.Int64
	}
	if commentHash.Valid {
		w.CommentHash = &commentHash.Int64
	}
	return &w, nil
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

	f := v.Float64
	return &f
}

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
