// Package storetest provides in-memory repositories with the same contracts
// as the SQL store, for service and handler tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskhub/apiserver/internal/store"
	"github.com/taskhub/apiserver/types"
)

// TaskRepository is an in-memory task store. Transactions are serialized
// and rolled back by restoring a snapshot.
type TaskRepository struct {
	mu     sync.Mutex
	owners map[int]types.TaskOwner
	tasks  map[int]types.Task
	nextID int
	clock  time.Time

	failNext error
}

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{
		owners: make(map[int]types.TaskOwner),
		tasks:  make(map[int]types.Task),
		nextID: 1,
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddOwner registers a user that tasks may reference.
func (r *TaskRepository) AddOwner(owner types.TaskOwner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[owner.ID] = owner
}

// FailNext makes the next repository call return err.
func (r *TaskRepository) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

// Len returns the number of stored tasks.
func (r *TaskRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *TaskRepository) Create(ctx context.Context, draft types.TaskDraft) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.Create(ctx, draft)
}

func (r *TaskRepository) GetByID(ctx context.Context, id int) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.GetByID(ctx, id)
}

func (r *TaskRepository) LockByID(ctx context.Context, id int) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.LockByID(ctx, id)
}

func (r *TaskRepository) List(ctx context.Context, offset, limit int) ([]types.Task, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.List(ctx, offset, limit)
}

func (r *TaskRepository) Update(ctx context.Context, id int, patch types.TaskPatch) (types.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.Update(ctx, id, patch)
}

func (r *TaskRepository) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memQueries{r}.Delete(ctx, id)
}

func (r *TaskRepository) WithinTx(ctx context.Context, fn func(q store.TaskQueries) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.takeFailure(ctx); err != nil {
		return err
	}

	snapshot := make(map[int]types.Task, len(r.tasks))
	for id, task := range r.tasks {
		snapshot[id] = task
	}
	nextID := r.nextID

	if err := fn(memQueries{r}); err != nil {
		r.tasks = snapshot
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *TaskRepository) takeFailure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := r.failNext
	r.failNext = nil
	return err
}

// memQueries operates on r with r.mu already held.
type memQueries struct {
	r *TaskRepository
}

func (m memQueries) Create(ctx context.Context, draft types.TaskDraft) (types.Task, error) {
	r := m.r
	if err := r.takeFailure(ctx); err != nil {
		return types.Task{}, err
	}
	owner, ok := r.owners[draft.OwnerID]
	if !ok {
		return types.Task{}, store.ErrConstraint
	}

	r.clock = r.clock.Add(time.Second)
	task := types.Task{
		ID:          r.nextID,
		Title:       draft.Title,
		Description: draft.Description,
		Status:      draft.Status,
		OwnerID:     draft.OwnerID,
		Owner:       &owner,
		CreatedAt:   r.clock,
		UpdatedAt:   r.clock,
	}
	r.nextID++
	r.tasks[task.ID] = task
	return task, nil
}

func (m memQueries) GetByID(ctx context.Context, id int) (types.Task, error) {
	if err := m.r.takeFailure(ctx); err != nil {
		return types.Task{}, err
	}
	task, ok := m.r.tasks[id]
	if !ok {
		return types.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (m memQueries) LockByID(ctx context.Context, id int) (types.Task, error) {
	return m.GetByID(ctx, id)
}

func (m memQueries) List(ctx context.Context, offset, limit int) ([]types.Task, int, error) {
	if err := m.r.takeFailure(ctx); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 10
	}

	all := make([]types.Task, 0, len(m.r.tasks))
	for _, task := range m.r.tasks {
		all = append(all, task)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset >= total {
		return []types.Task{}, total, nil
	}
	end := offset + limit
	if end > total || end < offset {
		end = total
	}
	return append([]types.Task(nil), all[offset:end]...), total, nil
}

func (m memQueries) Update(ctx context.Context, id int, patch types.TaskPatch) (types.Task, error) {
	r := m.r
	if err := r.takeFailure(ctx); err != nil {
		return types.Task{}, err
	}
	task, ok := r.tasks[id]
	if !ok {
		return types.Task{}, store.ErrNotFound
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	r.clock = r.clock.Add(time.Second)
	task.UpdatedAt = r.clock
	r.tasks[id] = task
	return task, nil
}

func (m memQueries) Delete(ctx context.Context, id int) error {
	if err := m.r.takeFailure(ctx); err != nil {
		return err
	}
	if _, ok := m.r.tasks[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.r.tasks, id)
	return nil
}

// UserRepository is an in-memory user store with unique emails.
type UserRepository struct {
	mu     sync.Mutex
	users  map[int]types.User
	nextID int
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:  make(map[int]types.User),
		nextID: 1,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.nextID++
	r.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, email string, role types.Role) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.Email == email {
			user.Role = role
			user.UpdatedAt = time.Now().UTC()
			r.users[id] = user
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}
