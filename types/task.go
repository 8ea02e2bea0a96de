package types

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Supported task statuses.
const (
	// TaskStatusPending marks a task that has not been completed yet.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusDone marks a completed task.
	TaskStatusDone TaskStatus = "DONE"
)

// Valid reports whether s is one of the supported statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusDone:
		return true
	default:
		return false
	}
}

// Task represents a unit of work owned by exactly one user.
type Task struct {
	// ID is the unique identifier of the task, assigned by the store.
	ID int `json:"id" db:"id"`

	// Title is the short human-readable name of the task.
	Title string `json:"title" db:"title"`

	// Description contains the details of the task.
	Description string `json:"description" db:"description"`

	// Status is the lifecycle state of the task. It is set once at creation.
	Status TaskStatus `json:"status" db:"status"`

	// OwnerID identifies the user who created the task. Ownership is
	// established at creation and never transferred.
	OwnerID int `json:"ownerId" db:"user_id"`

	// Owner carries the owner's public metadata, resolved by the store.
	Owner *TaskOwner `json:"owner,omitempty"`

	// CreatedAt is the timestamp at which the task was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent mutation of the task.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TaskOwner is the subset of user fields exposed alongside a task.
type TaskOwner struct {
	ID    int    `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Role  Role   `json:"role" db:"role"`
}

// TaskDraft is the input for creating a task.
type TaskDraft struct {
	Title       string
	Description string
	Status      TaskStatus
	OwnerID     int
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
}

// Empty reports whether the patch carries no fields.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil
}
