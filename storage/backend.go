package storage

import (
	"context"
	"errors"

	"kanban-api/domain"
)

var (
	// ErrNotFound is returned when a row is missing or not visible to the
	// credential in use.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the credential scope does not allow the
	// operation at all.
	ErrForbidden = errors.New("forbidden")
)

// StoreError wraps a failed store operation. Its message is the backend
// diagnostic, unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || domain.IsValidation(err) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Backend is a persistence driver. Implementations assign ids, positions
// and timestamps and may enforce ownership themselves; the Client enforces
// it regardless. Tasks moved to another column through UpdateTask are
// placed after the last task of the destination column.
type Backend interface {
	GetBoard(ctx context.Context, cred Credential, id string) (domain.Board, error)
	ListBoards(ctx context.Context, cred Credential, owner domain.Identity) ([]domain.Board, error)
	InsertBoard(ctx context.Context, cred Credential, b domain.Board) (domain.Board, error)
	UpdateBoard(ctx context.Context, cred Credential, id string, p domain.BoardPatch) (domain.Board, error)

	GetColumn(ctx context.Context, cred Credential, id string) (domain.Column, error)
	ListColumns(ctx context.Context, cred Credential, boardID string) ([]domain.Column, error)
	InsertColumn(ctx context.Context, cred Credential, boardID, title string) (domain.Column, error)
	UpdateColumn(ctx context.Context, cred Credential, id string, p domain.ColumnPatch) (domain.Column, error)

	GetTask(ctx context.Context, cred Credential, id string) (domain.Task, error)
	ListTasks(ctx context.Context, cred Credential, boardID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, cred Credential, columnID string, nt domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, cred Credential, id string, p domain.TaskPatch) (domain.Task, error)
}
