package boardsync

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

var errNoCreator = errors.New("board creation is not configured")

// BoardCreator creates boards through the privileged write path.
type BoardCreator interface {
	CreateBoard(ctx context.Context, nb domain.NewBoard) (domain.Board, error)
}

// Session holds the open views of one user. Views are independent and make
// progress in parallel.
type Session struct {
	store   Store
	creator BoardCreator
	log     *log.Logger

	mu     sync.Mutex
	views  map[string]*View
	closed bool
}

// NewSession returns a session acting through store. creator may be nil when
// the session never creates boards.
func NewSession(store Store, creator BoardCreator, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Session{store: store, creator: creator, log: logger, views: make(map[string]*View)}
}

// ListBoards returns the caller's boards, newest first.
func (s *Session) ListBoards(ctx context.Context) ([]domain.Board, error) {
	return s.store.ListBoards(ctx)
}

// CreateBoard validates nb locally and creates the board.
func (s *Session) CreateBoard(ctx context.Context, nb domain.NewBoard) (domain.Board, error) {
	nb, err := nb.Validate()
	if err != nil {
		return domain.Board{}, err
	}
	if s.creator == nil {
		return domain.Board{}, errNoCreator
	}
	b, err := s.creator.CreateBoard(ctx, nb)
	if err != nil {
		s.log.WithError(err).Warn("create board failed")
		return domain.Board{}, err
	}
	return b, nil
}

// Open returns the view of boardID, loading it on first use. The view is
// returned even when the load fails; opening it again retries the load
// until one succeeds.
func (s *Session) Open(ctx context.Context, boardID string) (*View, error) {
	if boardID == "" {
		return nil, &domain.ValidationError{Field: "board_id", Message: "Missing board id"}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if v, ok := s.views[boardID]; ok {
		s.mu.Unlock()
		if v.Snapshot().State == Loaded {
			return v, nil
		}
		return v, v.Load(ctx)
	}
	v := NewView(s.store, boardID, s.log)
	s.views[boardID] = v
	s.mu.Unlock()

	return v, v.Load(ctx)
}

// View returns an open view.
func (s *Session) View(boardID string) (*View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[boardID]
	return v, ok
}

// Close closes the view of boardID, if open.
func (s *Session) Close(boardID string) {
	s.mu.Lock()
	v := s.views[boardID]
	delete(s.views, boardID)
	s.mu.Unlock()
	if v != nil {
		v.Close()
	}
}

// CloseAll closes every view. The session accepts no new views afterwards.
func (s *Session) CloseAll() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]*View)
	s.closed = true
	s.mu.Unlock()
	for _, v := range views {
		v.Close()
	}
}
