package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/apiserver/types"
)

var taskRowColumns = []string{
	"id", "title", "description", "status", "user_id", "created_at", "updated_at",
	"id", "email", "role",
}

func newMockRepo(t *testing.T) (*TaskRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewTaskRepository(db), mock
}

func taskRow(rows *sqlmock.Rows, id int, title string, ownerID int, at time.Time) *sqlmock.Rows {
	return rows.AddRow(id, title, "desc", "PENDING", ownerID, at, at, ownerID, "owner@example.com", "user")
}

func TestTaskRepositoryCreate(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO tasks`).
		WithArgs("A", "B", types.TaskStatusPending, 7, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(taskRowColumns).
			AddRow(1, "A", "B", "PENDING", 7, now, now, 7, "owner@example.com", "user"))

	task, err := repo.Create(context.Background(), types.TaskDraft{
		Title:       "A",
		Description: "B",
		Status:      types.TaskStatusPending,
		OwnerID:     7,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, task.ID)
	assert.Equal(t, 7, task.OwnerID)
	assert.Equal(t, types.TaskStatusPending, task.Status)
	require.NotNil(t, task.Owner)
	assert.Equal(t, "owner@example.com", task.Owner.Email)
	assert.Equal(t, types.RoleUser, task.Owner.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryCreateMissingOwner(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`INSERT INTO tasks`).
		WillReturnError(&pq.Error{Code: "23503", Constraint: "tasks_user_id_fkey"})

	_, err := repo.Create(context.Background(), types.TaskDraft{
		Title:       "A",
		Description: "B",
		Status:      types.TaskStatusDone,
		OwnerID:     99,
	})
	assert.ErrorIs(t, err, ErrConstraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM tasks t\s+JOIN users u`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	_, err := repo.GetByID(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryGetByIDRetriesTransientError(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`FROM tasks t`).
		WithArgs(3).
		WillReturnError(&pq.Error{Code: "08006"})
	mock.ExpectQuery(`FROM tasks t`).
		WithArgs(3).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), 3, "retried", 1, now))

	task, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "retried", task.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryGetByIDRetriesOnlyOnce(t *testing.T) {
	repo, mock := newMockRepo(t)
	connErr := &pq.Error{Code: "08006"}

	mock.ExpectQuery(`FROM tasks t`).WithArgs(3).WillReturnError(connErr)
	mock.ExpectQuery(`FROM tasks t`).WithArgs(3).WillReturnError(connErr)

	_, err := repo.GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, connErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryList(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM tasks`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(15))
	rows := sqlmock.NewRows(taskRowColumns)
	for id := 5; id >= 1; id-- {
		taskRow(rows, id, "task", 1, now.Add(time.Duration(id)*time.Minute))
	}
	mock.ExpectQuery(`ORDER BY t.created_at DESC, t.id DESC\s+OFFSET \$1 LIMIT \$2`).
		WithArgs(10, 10).
		WillReturnRows(rows)

	tasks, total, err := repo.List(context.Background(), 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 15, total)
	require.Len(t, tasks, 5)
	assert.Equal(t, 5, tasks[0].ID)
	assert.Equal(t, 1, tasks[4].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryUpdateMergesPresentFields(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	title := "renamed"

	mock.ExpectQuery(`UPDATE tasks\s+SET title = COALESCE\(\$1, title\)`).
		WithArgs(title, nil, sqlmock.AnyArg(), 4).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), 4, title, 2, now))

	task, err := repo.Update(context.Background(), 4, types.TaskPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, task.Title)
	assert.Equal(t, 2, task.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryUpdateNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	desc := "x"

	mock.ExpectQuery(`UPDATE tasks`).
		WithArgs(nil, desc, sqlmock.AnyArg(), 40).
		WillReturnRows(sqlmock.NewRows(taskRowColumns))

	_, err := repo.Update(context.Background(), 40, types.TaskPatch{Description: &desc})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryDelete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "deleted", affected: 1},
		{name: "missing", affected: 0, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec(`DELETE FROM tasks WHERE id = \$1`).
				WithArgs(9).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.Delete(context.Background(), 9)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTaskRepositoryWithinTxCommits(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF t`).
		WithArgs(2).
		WillReturnRows(taskRow(sqlmock.NewRows(taskRowColumns), 2, "locked", 1, now))
	mock.ExpectExec(`DELETE FROM tasks`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.WithinTx(context.Background(), func(q TaskQueries) error {
		if _, err := q.LockByID(context.Background(), 2); err != nil {
			return err
		}
		return q.Delete(context.Background(), 2)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryWithinTxRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE OF t`).
		WithArgs(2).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := repo.WithinTx(context.Background(), func(q TaskQueries) error {
		if _, err := q.LockByID(context.Background(), 2); err != nil {
			if errors.Is(err, ErrNotFound) {
				return boom
			}
			return err
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
