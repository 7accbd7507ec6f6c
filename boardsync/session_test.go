package boardsync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kanban-api/domain"
	"kanban-api/storage"
)

type recordingCreator struct {
	mu    sync.Mutex
	calls []domain.NewBoard
	err   error
}

func (r *recordingCreator) CreateBoard(_ context.Context, nb domain.NewBoard) (domain.Board, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, nb)
	if r.err != nil {
		return domain.Board{}, r.err
	}
	return nb.Board("u1"), nil
}

func TestSessionCreateBoard(t *testing.T) {
	f := newFixture(t)
	creator := &recordingCreator{}
	s := NewSession(f.store, creator, f.logger)
	defer s.CloseAll()

	if _, err := s.CreateBoard(context.Background(), domain.NewBoard{Title: "  "}); !errors.Is(err, domain.ErrInvalidTitle) {
		t.Fatalf("expected title error, got %v", err)
	}
	if len(creator.calls) != 0 {
		t.Fatal("invalid board reached the creator")
	}

	b, err := s.CreateBoard(context.Background(), domain.NewBoard{Title: " Roadmap "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Title != "Roadmap" || b.Color != domain.DefaultColor {
		t.Fatalf("unexpected board %+v", b)
	}

	creator.err = errors.New("insert failed")
	if _, err := s.CreateBoard(context.Background(), domain.NewBoard{Title: "x"}); err == nil || err.Error() != "insert failed" {
		t.Fatalf("expected creator diagnostic, got %v", err)
	}

	if _, err := NewSession(f.store, nil, f.logger).CreateBoard(context.Background(), domain.NewBoard{Title: "x"}); !errors.Is(err, errNoCreator) {
		t.Fatalf("expected errNoCreator, got %v", err)
	}
}

func TestSessionViews(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.store, nil, f.logger)

	v, err := s.Open(context.Background(), f.board.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	again, err := s.Open(context.Background(), f.board.ID)
	if err != nil || again != v {
		t.Fatalf("expected the same view, got %p %v", again, err)
	}
	if got, ok := s.View(f.board.ID); !ok || got != v {
		t.Fatal("expected view lookup to succeed")
	}

	missing, err := s.Open(context.Background(), "no-such-board")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if missing.Snapshot().State != Failed {
		t.Fatalf("expected failed view, got %s", missing.Snapshot().State)
	}
	if _, err := s.Open(context.Background(), ""); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	s.Close(f.board.ID)
	if _, ok := s.View(f.board.ID); ok {
		t.Fatal("closed view still registered")
	}
	if err := v.CreateColumn(context.Background(), "x").Err(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed view, got %v", err)
	}

	s.CloseAll()
	if _, err := s.Open(context.Background(), f.board.ID); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}
}

func TestIndependentViewsProgressInParallel(t *testing.T) {
	f := newFixture(t)
	other, err := storage.NewClient(f.mem, storage.ServiceCredential()).
		InsertBoard(context.Background(), domain.Board{Title: "Other", Color: domain.DefaultColor, UserID: "u1"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	block := make(chan struct{})
	f.store.updateBoard = func(ctx context.Context, id string, p domain.BoardPatch) (domain.Board, error) {
		if id == f.board.ID {
			<-block
		}
		return f.store.Store.UpdateBoard(ctx, id, p)
	}

	s := NewSession(f.store, nil, f.logger)
	defer s.CloseAll()
	first, err := s.Open(context.Background(), f.board.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := s.Open(context.Background(), other.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	stuck := first.UpdateBoard(context.Background(), domain.BoardPatch{Title: strPtr("Blocked")})
	if err := second.UpdateBoard(context.Background(), domain.BoardPatch{Title: strPtr("Free")}).Err(); err != nil {
		t.Fatalf("independent view blocked: %v", err)
	}
	close(block)
	if err := stuck.Err(); err != nil {
		t.Fatalf("blocked update: %v", err)
	}
}

func TestListBoards(t *testing.T) {
	f := newFixture(t)
	boards, err := NewSession(f.store, nil, f.logger).ListBoards(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(boards) != 1 || boards[0].ID != f.board.ID {
		t.Fatalf("unexpected boards %+v", boards)
	}
}

func TestSessionReopenRetriesFailedLoad(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.store, nil, f.logger)
	defer s.CloseAll()

	offline := errors.New("offline")
	f.store.getBoard = func(context.Context, string) (domain.Board, error) { return domain.Board{}, offline }
	v, err := s.Open(context.Background(), f.board.ID)
	if !errors.Is(err, offline) || v.Snapshot().State != Failed {
		t.Fatalf("expected failed open, got %v %s", err, v.Snapshot().State)
	}
	if _, err := s.Open(context.Background(), f.board.ID); !errors.Is(err, offline) {
		t.Fatalf("reopen while still offline must report the failure, got %v", err)
	}

	f.store.getBoard = nil
	again, err := s.Open(context.Background(), f.board.ID)
	if err != nil || again != v {
		t.Fatalf("expected the same view reloaded, got %p %v", again, err)
	}
	if again.Snapshot().State != Loaded {
		t.Fatalf("expected loaded view, got %s", again.Snapshot().State)
	}
	if err := again.UpdateBoard(context.Background(), domain.BoardPatch{Title: strPtr("Back")}).Err(); err != nil {
		t.Fatalf("update after reopen: %v", err)
	}
}
