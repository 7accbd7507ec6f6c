package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

type boardResponse struct {
	Board   domain.Board             `json:"board"`
	Columns []domain.ColumnWithTasks `json:"columns"`
}

type boardPatchBody struct {
	Title *string `json:"title"`
	Color *string `json:"color"`
}

type columnBody struct {
	Title *string `json:"title"`
}

type taskBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Assignee    *string `json:"assignee"`
	Priority    *string `json:"priority"`
	DueDate     *string `json:"due_date"`
	ColumnID    *string `json:"column_id"`
}

func (b taskBody) newTask() (domain.NewTask, error) {
	nt := domain.NewTask{Description: b.Description, Assignee: b.Assignee}
	if b.Title != nil {
		nt.Title = *b.Title
	}
	if b.Priority != nil {
		p := domain.Priority(*b.Priority)
		nt.Priority = &p
	}
	due, err := domain.ParseDatePtr(b.DueDate)
	if err != nil {
		return domain.NewTask{}, err
	}
	nt.DueDate = due
	return nt, nil
}

func (b taskBody) patch() (domain.TaskPatch, error) {
	p := domain.TaskPatch{
		Title:       b.Title,
		Description: b.Description,
		Assignee:    b.Assignee,
		ColumnID:    b.ColumnID,
	}
	if b.Priority != nil {
		pr := domain.Priority(*b.Priority)
		p.Priority = &pr
	}
	due, err := domain.ParseDatePtr(b.DueDate)
	if err != nil {
		return domain.TaskPatch{}, err
	}
	p.DueDate = due
	return p, nil
}

func listBoards(d Deps) echo.HandlerFunc {
	return serve("/api/boards", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		boards, err := timed(m, func() ([]domain.Board, error) {
			return d.Scoped(id).ListBoards(ctx)
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, boards, nil
	})
}

func getBoard(d Deps) echo.HandlerFunc {
	return serve("/api/boards/:id", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		store := d.Scoped(id)
		boardID := c.Param("id")
		resp, err := timed(m, func() (boardResponse, error) {
			b, err := store.GetBoard(ctx, boardID)
			if err != nil {
				return boardResponse{}, err
			}
			cols, err := store.ListColumns(ctx, boardID)
			if err != nil {
				return boardResponse{}, err
			}
			tasks, err := store.ListTasks(ctx, boardID)
			if err != nil {
				return boardResponse{}, err
			}
			grouped, orphans := domain.GroupColumns(cols, tasks)
			if len(orphans) > 0 {
				d.Log.WithFields(log.Fields{"board_id": boardID, "orphans": len(orphans)}).Warn("tasks reference missing columns")
			}
			return boardResponse{Board: b, Columns: grouped}, nil
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, resp, nil
	})
}

func updateBoard(d Deps) echo.HandlerFunc {
	return serve("/api/boards/:id", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		var body boardPatchBody
		if err := decodeBody(c, &body); err != nil {
			return 0, nil, err
		}
		board, err := timed(m, func() (domain.Board, error) {
			return d.Scoped(id).UpdateBoard(ctx, c.Param("id"), domain.BoardPatch{Title: body.Title, Color: body.Color})
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, board, nil
	})
}

func createColumn(d Deps) echo.HandlerFunc {
	return serve("/api/boards/:id/columns", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		var body columnBody
		if err := decodeBody(c, &body); err != nil {
			return 0, nil, err
		}
		title := ""
		if body.Title != nil {
			title = *body.Title
		}
		col, err := timed(m, func() (domain.Column, error) {
			return d.Scoped(id).CreateColumn(ctx, c.Param("id"), title)
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, col, nil
	})
}

func updateColumn(d Deps) echo.HandlerFunc {
	return serve("/api/columns/:id", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		var body columnBody
		if err := decodeBody(c, &body); err != nil {
			return 0, nil, err
		}
		col, err := timed(m, func() (domain.Column, error) {
			return d.Scoped(id).UpdateColumn(ctx, c.Param("id"), domain.ColumnPatch{Title: body.Title})
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, col, nil
	})
}

func createTask(d Deps) echo.HandlerFunc {
	return serve("/api/columns/:id/tasks", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		var body taskBody
		if err := decodeBody(c, &body); err != nil {
			return 0, nil, err
		}
		nt, err := body.newTask()
		if err != nil {
			return 0, nil, err
		}
		task, err := timed(m, func() (domain.Task, error) {
			return d.Scoped(id).CreateTask(ctx, c.Param("id"), nt)
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, task, nil
	})
}

func updateTask(d Deps) echo.HandlerFunc {
	return serve("/api/tasks/:id", d, func(ctx context.Context, c echo.Context, id domain.Identity, m *requestMetrics) (int, any, error) {
		var body taskBody
		if err := decodeBody(c, &body); err != nil {
			return 0, nil, err
		}
		p, err := body.patch()
		if err != nil {
			return 0, nil, err
		}
		task, err := timed(m, func() (domain.Task, error) {
			return d.Scoped(id).UpdateTask(ctx, c.Param("id"), p)
		})
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, task, nil
	})
}
