package task

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/videodoc/platform/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id         TEXT PRIMARY KEY,
	video_path TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	progress   REAL NOT NULL DEFAULT 0,
	detail     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// Store persists tasks in SQLite.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "init task schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, video_path, status, stage, progress, detail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.VideoPath, t.Status, t.Stage, t.Progress, t.Detail,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "insert task %s", t.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, video_path, status, stage, progress, detail, created_at, updated_at
		 FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.CodeNotFound, "task %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "load task %s", id)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, video_path, status, stage, progress, detail, created_at, updated_at
		 FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "list tasks")
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "scan task row")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "iterate tasks")
	}
	return tasks, nil
}

// Update persists the task's mutable fields and refreshes updated_at.
func (s *Store) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, stage = ?, progress = ?, detail = ?, updated_at = ? WHERE id = ?`,
		t.Status, t.Stage, t.Progress, t.Detail, t.UpdatedAt.Format(time.RFC3339Nano), t.ID)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "update task %s", t.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Newf(errors.CodeNotFound, "task %s not found", t.ID)
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (*Task, error) {
	var t Task
	var created, updated string
	if err := scan(&t.ID, &t.VideoPath, &t.Status, &t.Stage, &t.Progress, &t.Detail, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, err
	}
	return &t, nil
}
