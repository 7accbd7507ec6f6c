package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type stubBackend struct {
	Backend
	getBoardFn    func(ctx context.Context, id string) (domain.Board, error)
	listColumnsFn func(ctx context.Context, boardID string) ([]domain.Column, error)
	listTasksFn   func(ctx context.Context, boardID string) ([]domain.Task, error)
	updateBoardFn func(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error)
	getColumnFn   func(ctx context.Context, id string) (domain.Column, error)
	insertTaskFn  func(ctx context.Context, columnID string, nt domain.NewTask) (domain.Task, error)
}

func (s *stubBackend) GetBoard(ctx context.Context, _ Credential, id string) (domain.Board, error) {
	if s.getBoardFn == nil {
		return domain.Board{}, errors.New("unexpected GetBoard call")
	}
	return s.getBoardFn(ctx, id)
}

func (s *stubBackend) ListColumns(ctx context.Context, _ Credential, boardID string) ([]domain.Column, error) {
	if s.listColumnsFn == nil {
		return nil, errors.New("unexpected ListColumns call")
	}
	return s.listColumnsFn(ctx, boardID)
}

func (s *stubBackend) ListTasks(ctx context.Context, _ Credential, boardID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, boardID)
}

func (s *stubBackend) UpdateBoard(ctx context.Context, _ Credential, id string, p domain.BoardPatch) (domain.Board, error) {
	if s.updateBoardFn == nil {
		return domain.Board{}, errors.New("unexpected UpdateBoard call")
	}
	return s.updateBoardFn(ctx, id, p)
}

func (s *stubBackend) GetColumn(ctx context.Context, _ Credential, id string) (domain.Column, error) {
	if s.getColumnFn == nil {
		return domain.Column{}, errors.New("unexpected GetColumn call")
	}
	return s.getColumnFn(ctx, id)
}

func (s *stubBackend) InsertTask(ctx context.Context, _ Credential, columnID string, nt domain.NewTask) (domain.Task, error) {
	if s.insertTaskFn == nil {
		return domain.Task{}, errors.New("unexpected InsertTask call")
	}
	return s.insertTaskFn(ctx, columnID, nt)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheGetBoardMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	created := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	expected := domain.Board{ID: "b1", Title: "Board", Color: "bg-red-500", UserID: "u1", CreatedAt: created, UpdatedAt: created}

	var calls int
	cache := NewCache(&stubBackend{
		getBoardFn: func(ctx context.Context, id string) (domain.Board, error) {
			calls++
			return expected, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		b, err := cache.GetBoard(ctx, CallerCredential("u1"), "b1")
		if err != nil {
			t.Fatalf("get board: %v", err)
		}
		if !reflect.DeepEqual(b, expected) {
			t.Fatalf("unexpected board: %#v", b)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(boardCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheUpdateBoardEvicts(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	title := "new"
	cache := NewCache(&stubBackend{
		getBoardFn: func(ctx context.Context, id string) (domain.Board, error) {
			return domain.Board{ID: id, Title: "old"}, nil
		},
		updateBoardFn: func(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error) {
			return domain.Board{ID: id, Title: *p.Title}, nil
		},
	}, client, time.Minute)

	if _, err := cache.GetBoard(ctx, ServiceCredential(), "b1"); err != nil {
		t.Fatalf("get board: %v", err)
	}
	if !mr.Exists(boardCacheKey("b1")) {
		t.Fatal("expected board to be cached")
	}
	if _, err := cache.UpdateBoard(ctx, ServiceCredential(), "b1", domain.BoardPatch{Title: &title}); err != nil {
		t.Fatalf("update board: %v", err)
	}
	if mr.Exists(boardCacheKey("b1")) {
		t.Fatal("expected board cache entry to be evicted")
	}
}

func TestCacheInsertTaskEvictsBoardTasks(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	var listCalls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, boardID string) ([]domain.Task, error) {
			listCalls++
			return []domain.Task{}, nil
		},
		getColumnFn: func(ctx context.Context, id string) (domain.Column, error) {
			return domain.Column{ID: id, BoardID: "b1"}, nil
		},
		insertTaskFn: func(ctx context.Context, columnID string, nt domain.NewTask) (domain.Task, error) {
			return domain.Task{ID: "t1", ColumnID: columnID, Title: nt.Title}, nil
		},
	}, client, time.Minute)

	cred := CallerCredential("u1")
	if _, err := cache.ListTasks(ctx, cred, "b1"); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if _, err := cache.InsertTask(ctx, cred, "c1", domain.NewTask{Title: "x"}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if mr.Exists(tasksCacheKey("b1")) {
		t.Fatal("expected tasks cache entry to be evicted")
	}
	if _, err := cache.ListTasks(ctx, cred, "b1"); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if listCalls != 2 {
		t.Fatalf("expected reload after eviction, got %d backend calls", listCalls)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	if err := mr.Set(columnsCacheKey("b1"), "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := NewCache(&stubBackend{
		listColumnsFn: func(ctx context.Context, boardID string) ([]domain.Column, error) {
			return []domain.Column{{ID: "c1", BoardID: boardID, Position: 1}}, nil
		},
	}, client, time.Minute)

	cols, err := cache.ListColumns(context.Background(), ServiceCredential(), "b1")
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(cols) != 1 || cols[0].ID != "c1" {
		t.Fatalf("unexpected columns %#v", cols)
	}
}

func TestCacheWithoutRedisPassesThrough(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		getBoardFn: func(ctx context.Context, id string) (domain.Board, error) {
			calls++
			return domain.Board{ID: id}, nil
		},
	}, nil, time.Minute)
	for i := 0; i < 2; i++ {
		if _, err := cache.GetBoard(context.Background(), ServiceCredential(), "b1"); err != nil {
			t.Fatalf("get board: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every call to reach the backend, got %d", calls)
	}
}

func TestCacheRefillRacingUpdateIsDiscarded(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var (
		title   = "Old"
		loaded  = make(chan struct{})
		release = make(chan struct{})
		gated   = true
	)
	cache := NewCache(&stubBackend{
		getBoardFn: func(ctx context.Context, id string) (domain.Board, error) {
			b := domain.Board{ID: id, Title: title}
			if gated {
				gated = false
				close(loaded)
				<-release
			}
			return b, nil
		},
		updateBoardFn: func(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error) {
			title = *p.Title
			return domain.Board{ID: id, Title: title}, nil
		},
	}, client, time.Minute)

	done := make(chan domain.Board)
	go func() {
		b, _ := cache.GetBoard(ctx, ServiceCredential(), "b1")
		done <- b
	}()
	<-loaded
	newTitle := "New"
	if _, err := cache.UpdateBoard(ctx, ServiceCredential(), "b1", domain.BoardPatch{Title: &newTitle}); err != nil {
		t.Fatalf("update board: %v", err)
	}
	close(release)
	if b := <-done; b.Title != "Old" {
		t.Fatalf("racing reader should see the row it loaded, got %q", b.Title)
	}
	if mr.Exists(boardCacheKey("b1")) {
		t.Fatal("stale refill written after eviction")
	}

	b, err := cache.GetBoard(ctx, ServiceCredential(), "b1")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if b.Title != "New" {
		t.Fatalf("expected updated board, got %q", b.Title)
	}
	if !mr.Exists(boardCacheKey("b1")) {
		t.Fatal("expected refill once no write intervened")
	}
}
