package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const maxBodySize = 64 << 10

var (
	errInvalidJSON  = errors.New("invalid json")
	errBodyTooLarge = errors.New("request body too large")
)

// BoardInserter is the elevated store capability. Only the privileged
// create-board route holds one.
type BoardInserter interface {
	InsertBoard(ctx context.Context, b domain.Board) (domain.Board, error)
}

// BoardStore is the caller-scoped store a verified request acts through.
type BoardStore interface {
	ListBoards(ctx context.Context) ([]domain.Board, error)
	GetBoard(ctx context.Context, id string) (domain.Board, error)
	UpdateBoard(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error)
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error)
	UpdateColumn(ctx context.Context, id string, p domain.ColumnPatch) (domain.Column, error)
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, columnID string, nt domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error)
}

// Deps carries the collaborators of the HTTP API.
type Deps struct {
	Auth Authenticator
	// Privileged inserts boards with the elevated credential.
	Privileged BoardInserter
	// Scoped returns a store bound to the caller's identity.
	Scoped func(domain.Identity) BoardStore
	// Deduper makes create-board retries with an Idempotency-Key safe.
	// Optional.
	Deduper Deduper
	// Health reports backend readiness. Optional.
	Health func(ctx context.Context) error
	Log    *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Log == nil {
		d.Log = log.StandardLogger()
	}
	e.POST("/api/create-board", createBoard(d))
	e.GET("/api/boards", listBoards(d))
	e.GET("/api/boards/:id", getBoard(d))
	e.PATCH("/api/boards/:id", updateBoard(d))
	e.POST("/api/boards/:id/columns", createColumn(d))
	e.PATCH("/api/columns/:id", updateColumn(d))
	e.POST("/api/columns/:id/tasks", createTask(d))
	e.PATCH("/api/tasks/:id", updateTask(d))
	e.GET("/healthz", healthz(d))
}

func healthz(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if d.Health != nil {
			if err := d.Health(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			}
		}
		return c.NoContent(http.StatusOK)
	}
}

// routeFunc handles a verified request and returns the success status and
// body, or an error mapped by writeError.
type routeFunc func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error)

// serve runs the Identity Gate before fn and records request metrics.
// Nothing in fn runs for unauthenticated requests.
func serve(route string, d Deps, fn routeFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), d.Log, route)
		c.SetRequest(c.Request().WithContext(ctx))
		var failure error
		defer func() {
			metrics.Log(c.Response().Status, failure)
		}()

		authStart := time.Now()
		id, authErr := Verify(c, d.Auth)
		metrics.ObserveAuth(time.Since(authStart), authErr == nil)
		if authErr != nil {
			failure = authErr
			metrics.SetErrorStage("auth")
			return writeError(c, authErr)
		}

		status, body, fnErr := fn(ctx, c, id, metrics)
		if fnErr != nil {
			failure = fnErr
			metrics.SetErrorStage(errorStage(fnErr))
			if status, _ := statusFor(fnErr); status >= http.StatusInternalServerError {
				c.Logger().Error(fnErr)
			}
			return writeError(c, fnErr)
		}
		if body == nil {
			return c.NoContent(status)
		}
		if err = c.JSON(status, body); err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// timed runs a store call and accounts its duration.
func timed[T any](m *requestMetrics, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	m.ObserveStore(time.Since(start))
	return v, err
}

// readBody reads at most maxBodySize bytes. Larger bodies, including
// decompressed ones, are rejected rather than truncated.
func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return nil, errBodyTooLarge
		}
		return nil, errInvalidJSON
	}
	if len(body) > maxBodySize {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func decodeBody(c echo.Context, v any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return errInvalidJSON
	}
	return nil
}
