package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kanban-api/domain"
)

// callerRole is assumed by caller transactions so row-level security
// applies to them.
const callerRole = "kanban_caller"

// PostgresConfig holds the DSN without credentials and one "user:password"
// login per scope.
type PostgresConfig struct {
	URL               string
	CallerCredential  string
	ServiceCredential string
}

// Postgres is a Backend on PostgreSQL. Caller transactions run as
// kanban_caller with app.user_id set, so ownership is enforced by the
// database as well.
type Postgres struct {
	caller  *pgxpool.Pool
	service *pgxpool.Pool
}

// NewPostgres opens one pool per configured credential.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	p := &Postgres{}
	var err error
	if cfg.CallerCredential != "" {
		if p.caller, err = openPool(ctx, cfg.URL, cfg.CallerCredential); err != nil {
			return nil, fmt.Errorf("caller pool: %w", err)
		}
	}
	if cfg.ServiceCredential != "" {
		if p.service, err = openPool(ctx, cfg.URL, cfg.ServiceCredential); err != nil {
			p.Close()
			return nil, fmt.Errorf("service pool: %w", err)
		}
	}
	return p, nil
}

func openPool(ctx context.Context, url, credential string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	user, password, ok := strings.Cut(credential, ":")
	if !ok {
		return nil, errors.New("credential must be user:password")
	}
	cfg.ConnConfig.User = user
	cfg.ConnConfig.Password = password
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConns = 20

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// ServicePool exposes the elevated pool for migrations.
func (p *Postgres) ServicePool() *pgxpool.Pool { return p.service }

func (p *Postgres) Close() {
	if p.caller != nil {
		p.caller.Close()
	}
	if p.service != nil {
		p.service.Close()
	}
}

func (p *Postgres) tx(ctx context.Context, cred Credential, fn func(pgx.Tx) error) error {
	var pool *pgxpool.Pool
	switch cred.Scope() {
	case ScopeCaller:
		pool = p.caller
	case ScopeService:
		pool = p.service
	}
	if pool == nil {
		return ErrForbidden
	}
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if !cred.Elevated() {
			if _, err := tx.Exec(ctx, `SELECT set_config('app.user_id', $1, true)`, string(cred.Owner())); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `SET LOCAL ROLE `+callerRole); err != nil {
				return err
			}
		}
		return fn(tx)
	})
	return translatePgErr(err)
}

const (
	boardCols  = `id::text, title, description, color, user_id, created_at, updated_at`
	columnCols = `id::text, board_id::text, title, position, created_at`
	taskCols   = `id::text, column_id::text, title, description, assignee, priority, due_date, position, created_at`
)

func scanBoard(row pgx.Row) (domain.Board, error) {
	var b domain.Board
	err := row.Scan(&b.ID, &b.Title, &b.Description, &b.Color, &b.UserID, &b.CreatedAt, &b.UpdatedAt)
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return b, err
}

func scanColumn(row pgx.Row) (domain.Column, error) {
	var c domain.Column
	err := row.Scan(&c.ID, &c.BoardID, &c.Title, &c.Position, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t        domain.Task
		priority string
		due      *time.Time
	)
	err := row.Scan(&t.ID, &t.ColumnID, &t.Title, &t.Description, &t.Assignee, &priority, &due, &t.Position, &t.CreatedAt)
	t.Priority = domain.Priority(priority)
	if due != nil {
		d := domain.NewDate(due.Year(), due.Month(), due.Day())
		t.DueDate = &d
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, err
}

func dueDateArg(d *domain.Date) any {
	if d == nil {
		return nil
	}
	return d.Time
}

func (p *Postgres) GetBoard(ctx context.Context, cred Credential, id string) (b domain.Board, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		b, err = scanBoard(tx.QueryRow(ctx, `SELECT `+boardCols+` FROM boards WHERE id = $1`, id))
		return err
	})
	return b, err
}

func (p *Postgres) ListBoards(ctx context.Context, cred Credential, owner domain.Identity) (out []domain.Board, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+boardCols+` FROM boards WHERE user_id = $1 ORDER BY created_at DESC, id`, string(owner))
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Board, error) { return scanBoard(r) })
		return err
	})
	return out, err
}

func (p *Postgres) InsertBoard(ctx context.Context, cred Credential, b domain.Board) (out domain.Board, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		out, err = scanBoard(tx.QueryRow(ctx,
			`INSERT INTO boards (title, description, color, user_id) VALUES ($1, $2, $3, $4) RETURNING `+boardCols,
			b.Title, b.Description, b.Color, b.UserID))
		return err
	})
	return out, err
}

func (p *Postgres) UpdateBoard(ctx context.Context, cred Credential, id string, patch domain.BoardPatch) (out domain.Board, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		out, err = scanBoard(tx.QueryRow(ctx, `
			UPDATE boards
			SET title = COALESCE($2, title), color = COALESCE($3, color), updated_at = NOW()
			WHERE id = $1
			RETURNING `+boardCols, id, patch.Title, patch.Color))
		return err
	})
	return out, err
}

func (p *Postgres) GetColumn(ctx context.Context, cred Credential, id string) (c domain.Column, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		c, err = scanColumn(tx.QueryRow(ctx, `SELECT `+columnCols+` FROM columns WHERE id = $1`, id))
		return err
	})
	return c, err
}

func (p *Postgres) ListColumns(ctx context.Context, cred Credential, boardID string) (out []domain.Column, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+columnCols+` FROM columns WHERE board_id = $1 ORDER BY position, id`, boardID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Column, error) { return scanColumn(r) })
		return err
	})
	return out, err
}

func (p *Postgres) InsertColumn(ctx context.Context, cred Credential, boardID, title string) (c domain.Column, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM boards WHERE id = $1 FOR UPDATE`, boardID).Scan(&locked); err != nil {
			return err
		}
		c, err = scanColumn(tx.QueryRow(ctx, `
			INSERT INTO columns (board_id, title, position)
			SELECT $1, $2, COALESCE(MAX(position), 0) + 1 FROM columns WHERE board_id = $1
			RETURNING `+columnCols, boardID, title))
		return err
	})
	return c, err
}

func (p *Postgres) UpdateColumn(ctx context.Context, cred Credential, id string, patch domain.ColumnPatch) (c domain.Column, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		c, err = scanColumn(tx.QueryRow(ctx,
			`UPDATE columns SET title = COALESCE($2, title) WHERE id = $1 RETURNING `+columnCols, id, patch.Title))
		return err
	})
	return c, err
}

func (p *Postgres) GetTask(ctx context.Context, cred Credential, id string) (t domain.Task, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		t, err = scanTask(tx.QueryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = $1`, id))
		return err
	})
	return t, err
}

func (p *Postgres) ListTasks(ctx context.Context, cred Credential, boardID string) (out []domain.Task, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT t.id::text, t.column_id::text, t.title, t.description, t.assignee, t.priority, t.due_date, t.position, t.created_at
			FROM tasks t JOIN columns c ON c.id = t.column_id
			WHERE c.board_id = $1
			ORDER BY t.column_id, t.position, t.id`, boardID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Task, error) { return scanTask(r) })
		return err
	})
	return out, err
}

func (p *Postgres) InsertTask(ctx context.Context, cred Credential, columnID string, nt domain.NewTask) (t domain.Task, err error) {
	task := nt.Task(columnID)
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		if err := lockColumn(ctx, tx, columnID); err != nil {
			return err
		}
		t, err = scanTask(tx.QueryRow(ctx, `
			INSERT INTO tasks (column_id, title, description, assignee, priority, due_date, position)
			SELECT $1, $2, $3, $4, $5, $6, COALESCE(MAX(position), 0) + 1 FROM tasks WHERE column_id = $1
			RETURNING `+taskCols,
			columnID, task.Title, task.Description, task.Assignee, string(task.Priority), dueDateArg(task.DueDate)))
		return err
	})
	return t, err
}

func (p *Postgres) UpdateTask(ctx context.Context, cred Credential, id string, patch domain.TaskPatch) (t domain.Task, err error) {
	err = p.tx(ctx, cred, func(tx pgx.Tx) error {
		cur, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next := cur.Apply(patch)
		if patch.Moves(cur) {
			if err := lockColumn(ctx, tx, next.ColumnID); err != nil {
				return err
			}
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(MAX(position), 0) + 1 FROM tasks WHERE column_id = $1`, next.ColumnID).Scan(&next.Position); err != nil {
				return err
			}
		}
		t, err = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks
			SET column_id = $2, title = $3, description = $4, assignee = $5, priority = $6, due_date = $7, position = $8
			WHERE id = $1
			RETURNING `+taskCols,
			id, next.ColumnID, next.Title, next.Description, next.Assignee, string(next.Priority), dueDateArg(next.DueDate), next.Position))
		return err
	})
	return t, err
}

func lockColumn(ctx context.Context, tx pgx.Tx, columnID string) error {
	var locked string
	return tx.QueryRow(ctx, `SELECT id::text FROM columns WHERE id = $1 FOR UPDATE`, columnID).Scan(&locked)
}

func translatePgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "22P02": // malformed uuid
			return ErrNotFound
		case "42501": // insufficient_privilege
			return ErrForbidden
		}
	}
	return err
}
