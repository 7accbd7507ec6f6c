package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanban-api/domain"
)

const tracerName = "kanban-api/storage"

// Client is the single entry point to the board store. It binds a Backend to
// one Credential and enforces the ownership policy for caller credentials:
// rows belonging to boards of other owners are reported as ErrNotFound.
type Client struct {
	backend Backend
	cred    Credential
}

// NewClient returns a Client acting with cred.
func NewClient(backend Backend, cred Credential) *Client {
	if backend == nil {
		panic("storage.NewClient: backend is nil")
	}
	return &Client{backend: backend, cred: cred}
}

// Credential returns the credential the client acts with.
func (c *Client) Credential() Credential { return c.cred }

// GetBoard returns a single board.
func (c *Client) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	return run(ctx, c, "getBoard", id, func(ctx context.Context) (domain.Board, error) {
		return c.ownedBoard(ctx, id)
	})
}

// ListBoards returns the caller's boards, newest first.
func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	return run(ctx, c, "listBoards", "", func(ctx context.Context) ([]domain.Board, error) {
		if c.cred.Scope() != ScopeCaller {
			return nil, ErrForbidden
		}
		return c.backend.ListBoards(ctx, c.cred, c.cred.Owner())
	})
}

// InsertBoard stores a new board as given. b.UserID must already be stamped
// with the verified owner. Only the service credential may insert boards.
func (c *Client) InsertBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	return run(ctx, c, "insertBoard", "", func(ctx context.Context) (domain.Board, error) {
		if !c.cred.Elevated() {
			return domain.Board{}, ErrForbidden
		}
		if b.UserID == "" {
			return domain.Board{}, fmt.Errorf("board owner is required")
		}
		return c.backend.InsertBoard(ctx, c.cred, b)
	})
}

// UpdateBoard changes a board's title or color.
func (c *Client) UpdateBoard(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error) {
	p, err := p.Validate()
	if err != nil {
		return domain.Board{}, err
	}
	return run(ctx, c, "updateBoard", id, func(ctx context.Context) (domain.Board, error) {
		if _, err := c.ownedBoard(ctx, id); err != nil {
			return domain.Board{}, err
		}
		return c.backend.UpdateBoard(ctx, c.cred, id, p)
	})
}

// ListColumns returns the board's columns ordered by position.
func (c *Client) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	return run(ctx, c, "listColumns", boardID, func(ctx context.Context) ([]domain.Column, error) {
		if _, err := c.ownedBoard(ctx, boardID); err != nil {
			return nil, err
		}
		cols, err := c.backend.ListColumns(ctx, c.cred, boardID)
		if err != nil {
			return nil, err
		}
		return domain.SortColumns(cols), nil
	})
}

// CreateColumn appends a column at the board's next position.
func (c *Client) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	title, err := domain.ValidateColumnTitle(title)
	if err != nil {
		return domain.Column{}, err
	}
	return run(ctx, c, "createColumn", boardID, func(ctx context.Context) (domain.Column, error) {
		if _, err := c.ownedBoard(ctx, boardID); err != nil {
			return domain.Column{}, err
		}
		return c.backend.InsertColumn(ctx, c.cred, boardID, title)
	})
}

// UpdateColumn renames a column.
func (c *Client) UpdateColumn(ctx context.Context, id string, p domain.ColumnPatch) (domain.Column, error) {
	p, err := p.Validate()
	if err != nil {
		return domain.Column{}, err
	}
	return run(ctx, c, "updateColumn", "", func(ctx context.Context) (domain.Column, error) {
		if _, err := c.ownedColumn(ctx, id); err != nil {
			return domain.Column{}, err
		}
		return c.backend.UpdateColumn(ctx, c.cred, id, p)
	})
}

// ListTasks returns the board's tasks ordered by column and position.
func (c *Client) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	return run(ctx, c, "listTasks", boardID, func(ctx context.Context) ([]domain.Task, error) {
		if _, err := c.ownedBoard(ctx, boardID); err != nil {
			return nil, err
		}
		tasks, err := c.backend.ListTasks(ctx, c.cred, boardID)
		if err != nil {
			return nil, err
		}
		return domain.SortTasks(tasks), nil
	})
}

// CreateTask appends a task at the column's next position.
func (c *Client) CreateTask(ctx context.Context, columnID string, nt domain.NewTask) (domain.Task, error) {
	nt, err := nt.Validate()
	if err != nil {
		return domain.Task{}, err
	}
	return run(ctx, c, "createTask", "", func(ctx context.Context) (domain.Task, error) {
		if _, err := c.ownedColumn(ctx, columnID); err != nil {
			return domain.Task{}, err
		}
		return c.backend.InsertTask(ctx, c.cred, columnID, nt)
	})
}

// UpdateTask changes task fields and optionally moves it to another column
// of the same board.
func (c *Client) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	p, err := p.Validate()
	if err != nil {
		return domain.Task{}, err
	}
	return run(ctx, c, "updateTask", "", func(ctx context.Context) (domain.Task, error) {
		task, err := c.backend.GetTask(ctx, c.cred, id)
		if err != nil {
			return domain.Task{}, err
		}
		col, err := c.ownedColumn(ctx, task.ColumnID)
		if err != nil {
			return domain.Task{}, err
		}
		if p.Moves(task) {
			dest, err := c.ownedColumn(ctx, *p.ColumnID)
			if err != nil {
				return domain.Task{}, err
			}
			if dest.BoardID != col.BoardID {
				return domain.Task{}, &domain.ValidationError{Field: "column_id", Message: "Column belongs to another board"}
			}
		}
		return c.backend.UpdateTask(ctx, c.cred, id, p)
	})
}

func (c *Client) ownedBoard(ctx context.Context, id string) (domain.Board, error) {
	if !c.cred.valid() {
		return domain.Board{}, ErrForbidden
	}
	b, err := c.backend.GetBoard(ctx, c.cred, id)
	if err != nil {
		return domain.Board{}, err
	}
	if !c.cred.Elevated() && b.UserID != string(c.cred.Owner()) {
		return domain.Board{}, ErrNotFound
	}
	return b, nil
}

func (c *Client) ownedColumn(ctx context.Context, id string) (domain.Column, error) {
	if !c.cred.valid() {
		return domain.Column{}, ErrForbidden
	}
	col, err := c.backend.GetColumn(ctx, c.cred, id)
	if err != nil {
		return domain.Column{}, err
	}
	if _, err := c.ownedBoard(ctx, col.BoardID); err != nil {
		return domain.Column{}, err
	}
	return col, nil
}

func run[T any](ctx context.Context, c *Client, op, boardID string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "storage."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("kanban.scope", c.cred.Scope().String()))
	if boardID != "" {
		span.SetAttributes(attribute.String("kanban.board_id", boardID))
	}

	out, err := fn(ctx)
	if err != nil {
		err = wrap(op, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, err
	}
	return out, nil
}
