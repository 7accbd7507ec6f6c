package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

// createBoard is the privileged write path. The caller is authenticated
// out of band, the payload is validated, and the row is inserted with the
// elevated credential stamped with the verified identity as owner. An owner
// field in the payload is ignored. With a Deduper configured, a repeated
// Idempotency-Key replays the first response.
func createBoard(d Deps) echo.HandlerFunc {
	return serve("/api/create-board", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		body, err := readBody(c)
		if err != nil {
			return 0, nil, err
		}
		var doc any
		if err := sonic.Unmarshal(body, &doc); err != nil {
			return 0, nil, errInvalidJSON
		}
		nb, err := domain.ParseNewBoard(doc)
		if err != nil {
			return 0, nil, err
		}
		nb, err = nb.Validate()
		if err != nil {
			return 0, nil, err
		}

		key, err := idempotencyKey(c.Request().Header.Get(idempotencyHeader))
		if err != nil {
			return 0, nil, err
		}
		insert := func() (domain.Board, error) {
			return timed(m, func() (domain.Board, error) {
				return d.Privileged.InsertBoard(ctx, nb.Board(id))
			})
		}
		if d.Deduper == nil || key == "" {
			board, err := insert()
			if err != nil {
				return 0, nil, &storeFailure{err: err}
			}
			return http.StatusCreated, board, nil
		}

		replay, reserved, err := d.Deduper.Reserve(ctx, string(id), key)
		switch {
		case errors.Is(err, errRequestInFlight):
			return 0, nil, err
		case err != nil:
			return 0, nil, &storeFailure{err: fmt.Errorf("idempotency: %w", err)}
		case !reserved && replay == nil:
			return 0, nil, errRequestInFlight
		case !reserved:
			var board domain.Board
			if err := sonic.Unmarshal(replay, &board); err != nil {
				return 0, nil, &storeFailure{err: fmt.Errorf("idempotency replay: %w", err)}
			}
			c.Response().Header().Set(replayedHeader, "true")
			return http.StatusCreated, board, nil
		}

		board, err := insert()
		if err != nil {
			if rerr := d.Deduper.Release(context.WithoutCancel(ctx), string(id), key); rerr != nil {
				d.Log.WithError(rerr).Warn("release idempotency key")
			}
			return 0, nil, &storeFailure{err: err}
		}
		if data, err := sonic.Marshal(board); err != nil {
			d.Log.WithError(err).Warn("encode idempotent response")
		} else if err := d.Deduper.Complete(context.WithoutCancel(ctx), string(id), key, data); err != nil {
			d.Log.WithError(err).Warn("record idempotent response")
		}
		return http.StatusCreated, board, nil
	})
}
