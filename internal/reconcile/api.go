package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boardsync/internal/model"
)

// Backend error codes the reconciler reacts to. Everything else is reported
// and left alone.
const (
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"
)

// APIError is a structured backend rejection.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a backend NOT_FOUND rejection.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNotFound
}

// IsConflict reports whether err is a backend version conflict.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeConflict
}

// CreateResult is the backend's answer to a create: the durable id it
// assigned plus the initial version.
type CreateResult struct {
	ID        string
	Version   int
	CreatedAt *time.Time
	UpdatedAt *time.Time
}

// UpdateResult carries the version assigned to a successful update.
type UpdateResult struct {
	Version   int
	UpdatedAt *time.Time
}

// DeleteResult carries the post-delete version. AlreadyDeleted means the
// element was tombstoned before this request arrived; the delete still
// counts as successful.
type DeleteResult struct {
	Version        int
	DeletedAt      *time.Time
	UpdatedAt      *time.Time
	AlreadyDeleted bool
}

// RestoreResult carries the post-restore version.
type RestoreResult struct {
	Version   int
	UpdatedAt *time.Time
}

// ElementAPI is the persistence surface the reconciler writes through. The
// production implementation is the REST client; tests substitute fakes.
type ElementAPI interface {
	Create(ctx context.Context, element *model.Element) (*CreateResult, error)
	Update(ctx context.Context, id string, expectedVersion int, patch *model.ElementPatch) (*UpdateResult, error)
	Delete(ctx context.Context, id string, expectedVersion int) (*DeleteResult, error)
	Restore(ctx context.Context, id string, expectedVersion int) (*RestoreResult, error)
}
