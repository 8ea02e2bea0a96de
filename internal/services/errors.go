package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/taskhub/apiserver/internal/store"
)

// Error taxonomy shared by all services. Handlers map these to HTTP statuses.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPersistence     = errors.New("persistence failure")
	ErrTimeout         = errors.New("operation timed out")
)

// ValidationError describes malformed or out-of-range input, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+" "+e.Fields[key])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// check records msg for field unless cond holds. The first failure per field wins.
func (e *ValidationError) check(cond bool, field, msg string) {
	if cond {
		return
	}
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// err returns e as an error when it holds at least one field, nil otherwise.
func (e *ValidationError) err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func invalid(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// translate maps store and driver errors onto the service taxonomy.
func translate(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case isTaxonomy(err):
		return err
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func isTaxonomy(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrUnauthenticated,
		ErrForbidden,
		ErrNotFound,
		ErrConflict,
		ErrPersistence,
		ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
