package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskhub/apiserver/internal/policy"
	"github.com/taskhub/apiserver/internal/store"
	"github.com/taskhub/apiserver/internal/store/storetest"
	"github.com/taskhub/apiserver/types"
)

var (
	owner    = types.Principal{ID: 1, Role: types.RoleUser}
	stranger = types.Principal{ID: 2, Role: types.RoleUser}
	admin    = types.Principal{ID: 3, Role: types.RoleAdmin}
)

func newTaskService(t *testing.T) (*TaskService, *storetest.TaskRepository) {
	t.Helper()
	repo := storetest.NewTaskRepository()
	for _, p := range []types.Principal{owner, stranger, admin} {
		repo.AddOwner(types.TaskOwner{ID: p.ID, Email: fmt.Sprintf("u%d@example.com", p.ID), Role: p.Role})
	}
	return NewTaskService(repo), repo
}

func createTask(t *testing.T, svc *TaskService, p types.Principal, title string) types.Task {
	t.Helper()
	task, err := svc.CreateTask(context.Background(), types.TaskDraft{
		Title:       title,
		Description: "description of " + title,
		Status:      types.TaskStatusPending,
	}, p)
	require.NoError(t, err)
	return task
}

func strPtr(s string) *string { return &s }

func TestCreateAndGetRoundTrip(t *testing.T) {
	svc, _ := newTaskService(t)

	created, err := svc.CreateTask(context.Background(), types.TaskDraft{
		Title:       "A",
		Description: "B",
		Status:      types.TaskStatusPending,
	}, owner)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	fetched, err := svc.GetTask(context.Background(), created.ID, stranger)
	require.NoError(t, err)
	assert.Equal(t, "A", fetched.Title)
	assert.Equal(t, "B", fetched.Description)
	assert.Equal(t, types.TaskStatusPending, fetched.Status)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, created.CreatedAt, fetched.CreatedAt)
}

func TestCreateTaskOwnerComesFromPrincipal(t *testing.T) {
	svc, _ := newTaskService(t)

	task, err := svc.CreateTask(context.Background(), types.TaskDraft{
		Title:       "mine",
		Description: "d",
		Status:      types.TaskStatusDone,
		OwnerID:     admin.ID,
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, task.OwnerID)
	require.NotNil(t, task.Owner)
	assert.Equal(t, owner.ID, task.Owner.ID)
}

func TestCreateTaskValidation(t *testing.T) {
	tests := []struct {
		name  string
		draft types.TaskDraft
		field string
	}{
		{
			name:  "missing title",
			draft: types.TaskDraft{Description: "d", Status: types.TaskStatusPending},
			field: "title",
		},
		{
			name:  "blank title",
			draft: types.TaskDraft{Title: "   ", Description: "d", Status: types.TaskStatusPending},
			field: "title",
		},
		{
			name:  "title too long",
			draft: types.TaskDraft{Title: strings.Repeat("x", 51), Description: "d", Status: types.TaskStatusPending},
			field: "title",
		},
		{
			name:  "description too long",
			draft: types.TaskDraft{Title: "t", Description: strings.Repeat("x", 201), Status: types.TaskStatusPending},
			field: "description",
		},
		{
			name:  "missing status",
			draft: types.TaskDraft{Title: "t", Description: "d"},
			field: "status",
		},
		{
			name:  "unknown status",
			draft: types.TaskDraft{Title: "t", Description: "d", Status: "IN_PROGRESS"},
			field: "status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTaskService(t)

			_, err := svc.CreateTask(context.Background(), tt.draft, owner)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Zero(t, repo.Len())
		})
	}
}

func TestCreateTaskBoundaryLengths(t *testing.T) {
	svc, _ := newTaskService(t)

	task, err := svc.CreateTask(context.Background(), types.TaskDraft{
		Title:       strings.Repeat("é", MaxTitleLength),
		Description: strings.Repeat("d", MaxDescriptionLength),
		Status:      types.TaskStatusPending,
	}, owner)
	require.NoError(t, err)
	assert.Equal(t, MaxTitleLength, len([]rune(task.Title)))
}

func TestCreateTaskUnknownOwnerIsPersistenceError(t *testing.T) {
	svc, _ := newTaskService(t)

	_, err := svc.CreateTask(context.Background(), types.TaskDraft{
		Title:       "t",
		Description: "d",
		Status:      types.TaskStatusPending,
	}, types.Principal{ID: 404, Role: types.RoleUser})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, store.ErrConstraint)
}

func TestCreateTaskRequiresPrincipal(t *testing.T) {
	svc, _ := newTaskService(t)

	_, err := svc.CreateTask(context.Background(), types.TaskDraft{Title: "t", Description: "d", Status: types.TaskStatusPending}, types.Principal{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestListTasksSecondPage(t *testing.T) {
	svc, _ := newTaskService(t)
	for i := 0; i < 15; i++ {
		createTask(t, svc, owner, fmt.Sprintf("task %d", i))
	}

	page, err := svc.ListTasks(context.Background(), owner, 2, 10)
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 15, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.Limit)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, "task 4", page.Data[0].Title)
	assert.Equal(t, "task 0", page.Data[4].Title)
}

func TestListTasksNewestFirst(t *testing.T) {
	svc, _ := newTaskService(t)
	createTask(t, svc, owner, "old")
	createTask(t, svc, stranger, "new")

	page, err := svc.ListTasks(context.Background(), owner, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "new", page.Data[0].Title)
	assert.Equal(t, "old", page.Data[1].Title)
}

func TestListTasksLimitClamping(t *testing.T) {
	svc, _ := newTaskService(t)
	for i := 0; i < 3; i++ {
		createTask(t, svc, owner, fmt.Sprintf("task %d", i))
	}

	capped, err := svc.ListTasks(context.Background(), owner, 1, 500)
	require.NoError(t, err)
	hundred, err := svc.ListTasks(context.Background(), owner, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, hundred, capped)
	assert.Equal(t, MaxLimit, capped.Limit)

	for _, limit := range []int{0, -5} {
		page, err := svc.ListTasks(context.Background(), owner, 1, limit)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Limit)
		assert.Len(t, page.Data, 1)
		assert.Equal(t, 3, page.TotalPages)
	}
}

func TestListTasksRejectsPageBelowOne(t *testing.T) {
	svc, _ := newTaskService(t)

	for _, page := range []int{0, -1} {
		_, err := svc.ListTasks(context.Background(), owner, page, 10)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestListTasksRejectsOverflowingPage(t *testing.T) {
	svc, _ := newTaskService(t)
	createTask(t, svc, owner, "only")

	_, err := svc.ListTasks(context.Background(), owner, math.MaxInt, 10)
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "page")

	page, err := svc.ListTasks(context.Background(), owner, math.MaxInt, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Equal(t, math.MaxInt, page.Page)
}

func TestListTasksEmpty(t *testing.T) {
	svc, _ := newTaskService(t)

	page, err := svc.ListTasks(context.Background(), owner, 3, 10)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Zero(t, page.TotalPages)
}

func TestGetTaskNotFound(t *testing.T) {
	svc, _ := newTaskService(t)

	_, err := svc.GetTask(context.Background(), 77, owner)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetTask(context.Background(), 0, owner)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateTaskAccess(t *testing.T) {
	tests := []struct {
		name      string
		principal types.Principal
		wantErr   error
	}{
		{name: "owner", principal: owner},
		{name: "admin non-owner", principal: admin},
		{name: "stranger", principal: stranger, wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTaskService(t)
			task := createTask(t, svc, owner, "original")

			updated, err := svc.UpdateTask(context.Background(), task.ID, types.TaskPatch{Title: strPtr("renamed")}, tt.principal)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				current, getErr := svc.GetTask(context.Background(), task.ID, owner)
				require.NoError(t, getErr)
				assert.Equal(t, "original", current.Title)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "renamed", updated.Title)
			assert.Equal(t, owner.ID, updated.OwnerID)
		})
	}
}

func TestUpdateTaskMergesPresentFieldsOnly(t *testing.T) {
	svc, _ := newTaskService(t)
	task := createTask(t, svc, owner, "keep")

	updated, err := svc.UpdateTask(context.Background(), task.ID, types.TaskPatch{Description: strPtr("  new body  ")}, owner)
	require.NoError(t, err)
	assert.Equal(t, "keep", updated.Title)
	assert.Equal(t, "new body", updated.Description)
	assert.Equal(t, task.Status, updated.Status)
	assert.Equal(t, task.OwnerID, updated.OwnerID)
	assert.Equal(t, task.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(task.UpdatedAt))
}

func TestUpdateTaskValidation(t *testing.T) {
	svc, _ := newTaskService(t)
	task := createTask(t, svc, owner, "t")

	_, err := svc.UpdateTask(context.Background(), task.ID, types.TaskPatch{}, owner)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateTask(context.Background(), task.ID, types.TaskPatch{Title: strPtr("")}, owner)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.UpdateTask(context.Background(), task.ID, types.TaskPatch{Title: strPtr(strings.Repeat("x", 51))}, owner)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateTaskNotFound(t *testing.T) {
	svc, _ := newTaskService(t)

	_, err := svc.UpdateTask(context.Background(), 99, types.TaskPatch{Title: strPtr("x")}, admin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTaskAdminOnly(t *testing.T) {
	tests := []struct {
		name      string
		principal types.Principal
		wantErr   error
	}{
		{name: "owner without admin role", principal: owner, wantErr: ErrForbidden},
		{name: "stranger", principal: stranger, wantErr: ErrForbidden},
		{name: "admin", principal: admin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTaskService(t)
			task := createTask(t, svc, owner, "doomed")

			err := svc.DeleteTask(context.Background(), task.ID, tt.principal)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, 1, repo.Len())
				return
			}
			require.NoError(t, err)
			assert.Zero(t, repo.Len())

			_, err = svc.GetTask(context.Background(), task.ID, admin)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeleteTaskNotFound(t *testing.T) {
	svc, _ := newTaskService(t)

	err := svc.DeleteTask(context.Background(), 12345, admin)
	assert.ErrorIs(t, err, ErrNotFound)

	err = svc.DeleteTask(context.Background(), 12345, owner)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFailuresAreTranslated(t *testing.T) {
	svc, repo := newTaskService(t)
	task := createTask(t, svc, owner, "t")

	repo.FailNext(errors.New("connection reset"))
	_, err := svc.GetTask(context.Background(), task.ID, owner)
	assert.ErrorIs(t, err, ErrPersistence)

	repo.FailNext(errors.New("connection reset"))
	err = svc.DeleteTask(context.Background(), task.ID, admin)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, repo.Len())
}

func TestExpiredDeadlineIsTimeout(t *testing.T) {
	svc, _ := newTaskService(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.ListTasks(ctx, owner, 1, 10)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrPersistence)
}

type ownerOnlyReads struct {
	policy.TaskPolicy
}

func (ownerOnlyReads) CanRead(p types.Principal, t types.Task) bool {
	return p.ID == t.OwnerID
}

func TestWithPolicyOverridesReads(t *testing.T) {
	repo := storetest.NewTaskRepository()
	repo.AddOwner(types.TaskOwner{ID: owner.ID, Role: owner.Role})
	svc := NewTaskService(repo, WithPolicy(ownerOnlyReads{}))
	task := createTask(t, svc, owner, "private")

	_, err := svc.GetTask(context.Background(), task.ID, stranger)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetTask(context.Background(), task.ID, owner)
	assert.NoError(t, err)
}
