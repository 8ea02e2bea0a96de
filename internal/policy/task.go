// Package policy decides which principals may act on which tasks.
// Decisions are pure and perform no I/O.
package policy

import "github.com/taskhub/apiserver/types"

// CanRead reports whether p may read t. Tasks are visible to every
// authenticated principal.
func CanRead(p types.Principal, t types.Task) bool {
	return p.ID > 0
}

// CanModify reports whether p may update t: admins always, otherwise only the owner.
func CanModify(p types.Principal, t types.Task) bool {
	return p.IsAdmin() || (p.ID > 0 && p.ID == t.OwnerID)
}

// CanDelete reports whether p may delete t. Deletion is admin-only;
// owning the task is not enough.
func CanDelete(p types.Principal, t types.Task) bool {
	return p.IsAdmin()
}

// TaskPolicy is the default ownership-or-admin policy in method form, for
// callers that take the policy as a dependency.
type TaskPolicy struct{}

// CanRead delegates to the package-level CanRead.
func (TaskPolicy) CanRead(p types.Principal, t types.Task) bool { return CanRead(p, t) }

// CanModify delegates to the package-level CanModify.
func (TaskPolicy) CanModify(p types.Principal, t types.Task) bool { return CanModify(p, t) }

// CanDelete delegates to the package-level CanDelete.
func (TaskPolicy) CanDelete(p types.Principal, t types.Task) bool { return CanDelete(p, t) }
