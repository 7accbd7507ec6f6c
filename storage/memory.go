package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"kanban-api/domain"
)

// Memory is an in-process Backend used for local development and tests.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	newID   func() string
	boards  map[string]domain.Board
	columns map[string]domain.Column
	tasks   map[string]domain.Task
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		boards:  map[string]domain.Board{},
		columns: map[string]domain.Column{},
		tasks:   map[string]domain.Task{},
	}
}

func (m *Memory) GetBoard(ctx context.Context, _ Credential, id string) (domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return domain.Board{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) ListBoards(ctx context.Context, _ Credential, owner domain.Identity) ([]domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Board{}
	for _, b := range m.boards {
		if b.UserID == string(owner) {
			out = append(out, b)
		}
	}
	sortBoardsNewestFirst(out)
	return out, nil
}

func sortBoardsNewestFirst(boards []domain.Board) {
	slices.SortFunc(boards, func(a, b domain.Board) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func (m *Memory) InsertBoard(ctx context.Context, _ Credential, b domain.Board) (domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return domain.Board{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	b.ID = m.newID()
	b.CreatedAt = now
	b.UpdatedAt = now
	m.boards[b.ID] = b
	return b, nil
}

func (m *Memory) UpdateBoard(ctx context.Context, _ Credential, id string, p domain.BoardPatch) (domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return domain.Board{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return domain.Board{}, ErrNotFound
	}
	b = b.Apply(p)
	b.UpdatedAt = m.now()
	m.boards[id] = b
	return b, nil
}

func (m *Memory) GetColumn(ctx context.Context, _ Credential, id string) (domain.Column, error) {
	if err := ctx.Err(); err != nil {
		return domain.Column{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[id]
	if !ok {
		return domain.Column{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListColumns(ctx context.Context, _ Credential, boardID string) ([]domain.Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Column{}
	for _, c := range m.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	return domain.SortColumns(out), nil
}

func (m *Memory) InsertColumn(ctx context.Context, _ Credential, boardID, title string) (domain.Column, error) {
	if err := ctx.Err(); err != nil {
		return domain.Column{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.boards[boardID]; !ok {
		return domain.Column{}, ErrNotFound
	}
	pos := 0
	for _, c := range m.columns {
		if c.BoardID == boardID && c.Position > pos {
			pos = c.Position
		}
	}
	col := domain.Column{
		ID:        m.newID(),
		BoardID:   boardID,
		Title:     title,
		Position:  pos + 1,
		CreatedAt: m.now(),
	}
	m.columns[col.ID] = col
	return col, nil
}

func (m *Memory) UpdateColumn(ctx context.Context, _ Credential, id string, p domain.ColumnPatch) (domain.Column, error) {
	if err := ctx.Err(); err != nil {
		return domain.Column{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[id]
	if !ok {
		return domain.Column{}, ErrNotFound
	}
	c = c.Apply(p)
	m.columns[id] = c
	return c, nil
}

func (m *Memory) GetTask(ctx context.Context, _ Credential, id string) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTasks(ctx context.Context, _ Credential, boardID string) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if c, ok := m.columns[t.ColumnID]; ok && c.BoardID == boardID {
			out = append(out, t)
		}
	}
	return domain.SortTasks(out), nil
}

func (m *Memory) InsertTask(ctx context.Context, _ Credential, columnID string, nt domain.NewTask) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.columns[columnID]; !ok {
		return domain.Task{}, ErrNotFound
	}
	t := nt.Task(columnID)
	t.ID = m.newID()
	t.Position = m.nextTaskPosition(columnID)
	t.CreatedAt = m.now()
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTask(ctx context.Context, _ Credential, id string, p domain.TaskPatch) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	moved := p.Moves(t)
	if moved {
		if _, ok := m.columns[*p.ColumnID]; !ok {
			return domain.Task{}, ErrNotFound
		}
	}
	t = t.Apply(p)
	if moved {
		t.Position = m.nextTaskPosition(t.ColumnID)
	}
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) nextTaskPosition(columnID string) int {
	pos := 0
	for _, t := range m.tasks {
		if t.ColumnID == columnID && t.Position > pos {
			pos = t.Position
		}
	}
	return pos + 1
}
