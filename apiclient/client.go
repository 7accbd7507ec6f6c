// Package apiclient talks to the board HTTP API on behalf of a signed-in user.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"kanban-api/domain"
	"kanban-api/storage"
)

const defaultTimeout = 30 * time.Second

// Client wraps http.Client with helpers for the board API. It satisfies
// boardsync.Store, boardsync.BoardLoader and boardsync.BoardCreator.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

type boardDocument struct {
	Board   domain.Board             `json:"board"`
	Columns []domain.ColumnWithTasks `json:"columns"`
}

type errorBody struct {
	Error string `json:"error"`
}

// CreateBoard posts to the privileged create-board route.
func (c *Client) CreateBoard(ctx context.Context, nb domain.NewBoard) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, "createBoard", http.MethodPost, "/api/create-board", nb, &b)
	return b, err
}

// ListBoards returns the caller's boards.
func (c *Client) ListBoards(ctx context.Context) ([]domain.Board, error) {
	var boards []domain.Board
	err := c.do(ctx, "listBoards", http.MethodGet, "/api/boards", nil, &boards)
	return boards, err
}

// LoadBoard fetches a board with its columns and tasks in one request.
func (c *Client) LoadBoard(ctx context.Context, id string) (domain.Board, []domain.Column, []domain.Task, error) {
	doc, err := c.board(ctx, id)
	if err != nil {
		return domain.Board{}, nil, nil, err
	}
	columns := make([]domain.Column, 0, len(doc.Columns))
	var tasks []domain.Task
	for _, g := range doc.Columns {
		columns = append(columns, g.Column)
		tasks = append(tasks, g.Tasks...)
	}
	return doc.Board, columns, tasks, nil
}

func (c *Client) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	doc, err := c.board(ctx, id)
	return doc.Board, err
}

func (c *Client) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	_, columns, _, err := c.LoadBoard(ctx, boardID)
	return columns, err
}

func (c *Client) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	_, _, tasks, err := c.LoadBoard(ctx, boardID)
	return tasks, err
}

func (c *Client) UpdateBoard(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error) {
	var b domain.Board
	err := c.do(ctx, "updateBoard", http.MethodPatch, "/api/boards/"+url.PathEscape(id), p, &b)
	return b, err
}

func (c *Client) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	var col domain.Column
	body := map[string]string{"title": title}
	err := c.do(ctx, "createColumn", http.MethodPost, "/api/boards/"+url.PathEscape(boardID)+"/columns", body, &col)
	return col, err
}

func (c *Client) UpdateColumn(ctx context.Context, id string, p domain.ColumnPatch) (domain.Column, error) {
	var col domain.Column
	err := c.do(ctx, "updateColumn", http.MethodPatch, "/api/columns/"+url.PathEscape(id), p, &col)
	return col, err
}

func (c *Client) CreateTask(ctx context.Context, columnID string, nt domain.NewTask) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "createTask", http.MethodPost, "/api/columns/"+url.PathEscape(columnID)+"/tasks", nt, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) (domain.Task, error) {
	var t domain.Task
	err := c.do(ctx, "updateTask", http.MethodPatch, "/api/tasks/"+url.PathEscape(id), p, &t)
	return t, err
}

func (c *Client) board(ctx context.Context, id string) (boardDocument, error) {
	var doc boardDocument
	err := c.do(ctx, "getBoard", http.MethodGet, "/api/boards/"+url.PathEscape(id), nil, &doc)
	return doc, err
}

// do issues one JSON request and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return &storage.StoreError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &storage.StoreError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return &storage.StoreError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// statusError maps an API error response back onto the error taxonomy the
// in-process store uses.
func statusError(op string, status int, data []byte) error {
	var eb errorBody
	msg := ""
	if err := sonic.Unmarshal(data, &eb); err == nil {
		msg = eb.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch status {
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	case http.StatusBadRequest:
		return &domain.ValidationError{Message: msg}
	case http.StatusNotFound:
		return &storage.StoreError{Op: op, Err: storage.ErrNotFound}
	case http.StatusForbidden:
		return &storage.StoreError{Op: op, Err: storage.ErrForbidden}
	}
	return &storage.StoreError{Op: op, Err: errors.New(msg)}
}
