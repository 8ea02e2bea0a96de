package services

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/taskhub/apiserver/types"
)

const (
	MaxTitleLength       = 50
	MaxDescriptionLength = 200
)

// ValidateDraft checks a create request and returns it with text fields trimmed.
func ValidateDraft(draft types.TaskDraft) (types.TaskDraft, error) {
	var v ValidationError

	draft.Title = strings.TrimSpace(draft.Title)
	draft.Description = strings.TrimSpace(draft.Description)

	checkText(&v, "title", draft.Title, MaxTitleLength)
	checkText(&v, "description", draft.Description, MaxDescriptionLength)
	v.check(draft.Status != "", "status", "must be provided")
	v.check(draft.Status.Valid(), "status", "must be one of PENDING, DONE")

	if err := v.err(); err != nil {
		return types.TaskDraft{}, err
	}
	return draft, nil
}

// ValidatePatch checks an update request. Present fields follow the create
// rules; a patch with no fields is rejected.
func ValidatePatch(patch types.TaskPatch) (types.TaskPatch, error) {
	if patch.Empty() {
		return types.TaskPatch{}, invalid("body", "must contain title or description")
	}

	var v ValidationError
	out := types.TaskPatch{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		checkText(&v, "title", title, MaxTitleLength)
		out.Title = &title
	}
	if patch.Description != nil {
		description := strings.TrimSpace(*patch.Description)
		checkText(&v, "description", description, MaxDescriptionLength)
		out.Description = &description
	}

	if err := v.err(); err != nil {
		return types.TaskPatch{}, err
	}
	return out, nil
}

func checkText(v *ValidationError, field, value string, maxLen int) {
	v.check(value != "", field, "must be provided")
	v.check(utf8.RuneCountInString(value) <= maxLen, field, "must be at most "+strconv.Itoa(maxLen)+" characters")
}
