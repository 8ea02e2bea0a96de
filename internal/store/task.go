package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhub/apiserver/types"
)

// TaskQueries is the set of task operations available both on the pool and
// inside a transaction.
type TaskQueries interface {
	Create(ctx context.Context, draft types.TaskDraft) (types.Task, error)
	GetByID(ctx context.Context, id int) (types.Task, error)
	LockByID(ctx context.Context, id int) (types.Task, error)
	List(ctx context.Context, offset, limit int) ([]types.Task, int, error)
	Update(ctx context.Context, id int, patch types.TaskPatch) (types.Task, error)
	Delete(ctx context.Context, id int) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TaskRepository handles persistence for tasks.
type TaskRepository struct {
	db *sql.DB
	taskQueries
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{
		db:          db,
		taskQueries: taskQueries{q: db, retry: true},
	}
}

// WithinTx runs fn inside a single transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (r *TaskRepository) WithinTx(ctx context.Context, fn func(q TaskQueries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(taskQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type taskQueries struct {
	q dbtx
	// retry re-runs idempotent reads once on transient connection errors.
	// It is off inside transactions, where the connection is pinned.
	retry bool
}

const taskColumns = `
		t.id, t.title, t.description, t.status, t.user_id, t.created_at, t.updated_at,
		u.id, u.email, u.role`

func (r taskQueries) Create(ctx context.Context, draft types.TaskDraft) (types.Task, error) {
	now := time.Now().UTC()

	const query = `
		WITH inserted AS (
			INSERT INTO tasks (title, description, status, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, title, description, status, user_id, created_at, updated_at
		)
		SELECT ` + taskColumns + `
		FROM inserted t
		JOIN users u ON u.id = t.user_id`
	task, err := scanTask(r.q.QueryRowContext(
		ctx,
		query,
		draft.Title,
		draft.Description,
		draft.Status,
		draft.OwnerID,
		now,
		now,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Only reachable if the owner row vanished mid-statement.
			return types.Task{}, fmt.Errorf("%w: owner %d", ErrConstraint, draft.OwnerID)
		}
		return types.Task{}, classify(err)
	}
	return task, nil
}

func (r taskQueries) GetByID(ctx context.Context, id int) (types.Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1`
	var task types.Task
	err := r.read(func() error {
		var err error
		task, err = scanTask(r.q.QueryRowContext(ctx, query, id))
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, err
	}
	return task, nil
}

func (r taskQueries) LockByID(ctx context.Context, id int) (types.Task, error) {
	const query = `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1
		FOR UPDATE OF t`
	task, err := scanTask(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, err
	}
	return task, nil
}

func (r taskQueries) List(ctx context.Context, offset, limit int) ([]types.Task, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 10
	}

	var (
		tasks []types.Task
		total int
	)
	err := r.read(func() error {
		var err error
		tasks, total, err = r.list(ctx, offset, limit)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r taskQueries) list(ctx context.Context, offset, limit int) ([]types.Task, int, error) {
	const countQuery = `SELECT COUNT(1) FROM tasks`
	var total int
	if err := r.q.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	const listQuery = `
		SELECT ` + taskColumns + `
		FROM tasks t
		JOIN users u ON u.id = t.user_id
		ORDER BY t.created_at DESC, t.id DESC
		OFFSET $1 LIMIT $2`
	rows, err := r.q.QueryContext(ctx, listQuery, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := make([]types.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

func (r taskQueries) Update(ctx context.Context, id int, patch types.TaskPatch) (types.Task, error) {
	const query = `
		WITH updated AS (
			UPDATE tasks
			SET title = COALESCE($1, title),
				description = COALESCE($2, description),
				updated_at = $3
			WHERE id = $4
			RETURNING id, title, description, status, user_id, created_at, updated_at
		)
		SELECT ` + taskColumns + `
		FROM updated t
		JOIN users u ON u.id = t.user_id`
	task, err := scanTask(r.q.QueryRowContext(
		ctx,
		query,
		patch.Title,
		patch.Description,
		time.Now().UTC(),
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Task{}, ErrNotFound
		}
		return types.Task{}, classify(err)
	}
	return task, nil
}

func (r taskQueries) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM tasks WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return classify(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// read runs fn and retries it once when the first attempt failed on a
// transient connection error.
func (r taskQueries) read(fn func() error) error {
	err := fn()
	if r.retry && isTransient(err) {
		err = fn()
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (types.Task, error) {
	var task types.Task
	var owner types.TaskOwner
	if err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.OwnerID,
		&task.CreatedAt,
		&task.UpdatedAt,
		&owner.ID,
		&owner.Email,
		&owner.Role,
	); err != nil {
		return types.Task{}, err
	}
	task.Owner = &owner
	return task, nil
}
