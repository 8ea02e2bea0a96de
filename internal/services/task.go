package services

import (
	"context"
	"math"
	"time"

	"github.com/taskhub/apiserver/internal/logger"
	"github.com/taskhub/apiserver/internal/policy"
	"github.com/taskhub/apiserver/internal/store"
	"github.com/taskhub/apiserver/types"
)

const defaultOperationTimeout = 5 * time.Second

// TaskRepository defines persistence operations for tasks.
type TaskRepository interface {
	store.TaskQueries
	WithinTx(ctx context.Context, fn func(q store.TaskQueries) error) error
}

// Policy decides whether a principal may act on a task.
type Policy interface {
	CanRead(p types.Principal, t types.Task) bool
	CanModify(p types.Principal, t types.Task) bool
	CanDelete(p types.Principal, t types.Task) bool
}

// TaskService encapsulates task use-cases: input validation, access policy
// and transactional persistence.
type TaskService struct {
	repo    TaskRepository
	policy  Policy
	timeout time.Duration
}

// TaskServiceOption customizes a TaskService.
type TaskServiceOption func(*TaskService)

// WithOperationTimeout bounds every operation. Non-positive values keep the default.
func WithOperationTimeout(d time.Duration) TaskServiceOption {
	return func(s *TaskService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithPolicy replaces the default ownership-or-admin policy.
func WithPolicy(p Policy) TaskServiceOption {
	return func(s *TaskService) {
		if p != nil {
			s.policy = p
		}
	}
}

func NewTaskService(repo TaskRepository, opts ...TaskServiceOption) *TaskService {
	s := &TaskService{
		repo:    repo,
		policy:  policy.TaskPolicy{},
		timeout: defaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask validates draft and stores it owned by principal.
func (s *TaskService) CreateTask(ctx context.Context, draft types.TaskDraft, principal types.Principal) (types.Task, error) {
	if err := requirePrincipal(principal); err != nil {
		return types.Task{}, err
	}

	draft, err := ValidateDraft(draft)
	if err != nil {
		return types.Task{}, err
	}
	draft.OwnerID = principal.ID

	ctx, cancel := s.bound(ctx)
	defer cancel()

	task, err := s.repo.Create(ctx, draft)
	if err != nil {
		return types.Task{}, translate(ctx, err)
	}
	return task, nil
}

// ListTasks returns one page of tasks, newest first. page must be at least 1;
// limit is clamped to [1, MaxLimit].
func (s *TaskService) ListTasks(ctx context.Context, principal types.Principal, page, limit int) (types.Page[types.Task], error) {
	if err := requirePrincipal(principal); err != nil {
		return types.Page[types.Task]{}, err
	}
	if page < 1 {
		return types.Page[types.Task]{}, invalid("page", "must be at least 1")
	}
	limit = ClampLimit(limit)
	if page-1 > math.MaxInt/limit {
		return types.Page[types.Task]{}, invalid("page", "is out of range")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	items, total, err := s.repo.List(ctx, Offset(page, limit), limit)
	if err != nil {
		return types.Page[types.Task]{}, translate(ctx, err)
	}
	return types.NewPage(items, total, page, limit), nil
}

// GetTask returns the task with id. Any authenticated principal may read any task.
func (s *TaskService) GetTask(ctx context.Context, id int, principal types.Principal) (types.Task, error) {
	if err := requirePrincipal(principal); err != nil {
		return types.Task{}, err
	}
	if err := validateID(id); err != nil {
		return types.Task{}, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Task{}, translate(ctx, err)
	}
	if !s.policy.CanRead(principal, task) {
		return types.Task{}, ErrForbidden
	}
	return task, nil
}

// UpdateTask applies the title/description fields present in patch. Only the
// owner or an admin may update; status and owner are not mutable here.
func (s *TaskService) UpdateTask(ctx context.Context, id int, patch types.TaskPatch, principal types.Principal) (types.Task, error) {
	if err := requirePrincipal(principal); err != nil {
		return types.Task{}, err
	}
	if err := validateID(id); err != nil {
		return types.Task{}, err
	}
	patch, err := ValidatePatch(patch)
	if err != nil {
		return types.Task{}, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var updated types.Task
	err = s.repo.WithinTx(ctx, func(q store.TaskQueries) error {
		current, err := q.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !s.policy.CanModify(principal, current) {
			logger.Warningf("user %d denied update of task %d owned by %d", principal.ID, id, current.OwnerID)
			return ErrForbidden
		}
		updated, err = q.Update(ctx, id, patch)
		return err
	})
	if err != nil {
		return types.Task{}, translate(ctx, err)
	}
	return updated, nil
}

// DeleteTask removes the task with id. Deletion is restricted to admins.
func (s *TaskService) DeleteTask(ctx context.Context, id int, principal types.Principal) error {
	if err := requirePrincipal(principal); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.repo.WithinTx(ctx, func(q store.TaskQueries) error {
		current, err := q.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !s.policy.CanDelete(principal, current) {
			logger.Warningf("user %d denied delete of task %d", principal.ID, id)
			return ErrForbidden
		}
		return q.Delete(ctx, id)
	})
	return translate(ctx, err)
}

func (s *TaskService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func requirePrincipal(p types.Principal) error {
	if p.ID < 1 {
		return ErrUnauthenticated
	}
	return nil
}

func validateID(id int) error {
	if id < 1 {
		return invalid("id", "must be a positive integer")
	}
	return nil
}
