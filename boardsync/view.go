// Package boardsync keeps an in-memory view of one board consistent with the
// remote store. Mutations are applied optimistically, dispatched to the store
// in issue order and reconciled against the rows the store returns.
package boardsync

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

var (
	// ErrClosed is returned for work on a closed view or session.
	ErrClosed = errors.New("board view closed")
	// ErrNotLoaded is returned for mutations before the first successful load.
	ErrNotLoaded = errors.New("board view not loaded")
	// ErrNotInView is returned when a mutation targets a row the view does not hold.
	ErrNotInView = errors.New("not in board view")
)

var errUnknownColumn = &domain.ValidationError{Field: "column_id", Message: "Unknown column"}

// Store is the caller-scoped store a view acts through. *storage.Client and
// *apiclient.Client satisfy it.
type Store interface {
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

// BoardLoader is implemented by stores able to fetch a board with its
// columns and tasks in one call. Load prefers it when available.
type BoardLoader interface {
	LoadBoard(ctx context.Context, id string) (domain.Board, []domain.Column, []domain.Task, error)
}

// State is the load state of a view.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Snapshot is a copy of a view's state.
type Snapshot struct {
	State State
	// Board is nil until the first successful load.
	Board   *domain.Board
	Columns []domain.ColumnWithTasks
	// Dropped counts tasks of the last load whose column was missing.
	Dropped int
	// Stale counts store responses superseded by a newer mutation.
	Stale int
	// Err is the failure of the last load, nil after a successful one.
	Err error
}

// TotalTasks returns the number of tasks shown.
func (s Snapshot) TotalTasks() int { return domain.TaskCount(s.Columns) }

// Filter returns the columns with only the tasks matching f.
func (s Snapshot) Filter(f domain.TaskFilter) []domain.ColumnWithTasks {
	return f.Apply(s.Columns)
}

// View holds one board with its columns and tasks.
type View struct {
	boardID string
	store   Store
	log     *log.Entry
	ctx     context.Context
	cancel  context.CancelFunc
	queue   fifo
	changes *broker

	mu      sync.Mutex
	state   State
	err     error
	closed  bool
	seq     uint64
	board   *entry[domain.Board]
	columns map[string]*entry[domain.Column]
	tasks   map[string]*entry[domain.Task]
	dropped int
	stale   int
}

// NewView returns an unloaded view of boardID.
func NewView(store Store, boardID string, logger *log.Logger) *View {
	if store == nil {
		panic("boardsync.NewView: store is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		boardID: boardID,
		store:   store,
		log:     logger.WithField("board_id", boardID),
		ctx:     ctx,
		cancel:  cancel,
		changes: newBroker(),
		columns: make(map[string]*entry[domain.Column]),
		tasks:   make(map[string]*entry[domain.Task]),
	}
}

// BoardID returns the id of the board the view holds.
func (v *View) BoardID() string { return v.boardID }

// Subscribe returns a channel signalled after every state change and a
// function releasing it.
func (v *View) Subscribe() (<-chan struct{}, func()) {
	ch := v.changes.subscribe()
	return ch, func() { v.changes.unsubscribe(ch) }
}

// Idle returns a channel closed once every mutation submitted so far settled.
func (v *View) Idle() <-chan struct{} { return v.queue.idle() }

// Snapshot returns a copy of the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{State: v.state, Dropped: v.dropped, Stale: v.stale, Err: v.err}
	if v.board != nil {
		b := v.board.current
		s.Board = &b
	}
	cols := make([]domain.Column, 0, len(v.columns))
	for _, e := range v.columns {
		cols = append(cols, e.current)
	}
	tasks := make([]domain.Task, 0, len(v.tasks))
	for _, e := range v.tasks {
		tasks = append(tasks, e.current)
	}
	s.Columns, _ = domain.GroupColumns(cols, tasks)
	return s
}

// Close cancels in-flight store calls. Nothing is reconciled into a closed
// view and pending mutations settle with ErrClosed.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()
	v.cancel()
	v.changes.notify()
}

type loadResult struct {
	board   domain.Board
	columns []domain.Column
	tasks   []domain.Task
}

// Load fetches the board, its columns and its tasks. A failed first load
// moves the view to Failed; a failed reload keeps it Loaded. Rows with a
// mutation issued after the load keep their local value.
func (v *View) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.state != Loaded {
		v.state = Loading
	}
	since := v.seq
	v.mu.Unlock()
	v.changes.notify()

	p := submit(ctx, v, func(ctx context.Context) (loadResult, error) {
		if l, ok := v.store.(BoardLoader); ok {
			b, cols, tasks, err := l.LoadBoard(ctx, v.boardID)
			return loadResult{board: b, columns: cols, tasks: tasks}, err
		}
		b, err := v.store.GetBoard(ctx, v.boardID)
		if err != nil {
			return loadResult{}, err
		}
		cols, err := v.store.ListColumns(ctx, v.boardID)
		if err != nil {
			return loadResult{}, err
		}
		tasks, err := v.store.ListTasks(ctx, v.boardID)
		if err != nil {
			return loadResult{}, err
		}
		return loadResult{board: b, columns: cols, tasks: tasks}, nil
	}, func(r loadResult, err error) error {
		if err != nil {
			if v.state == Loading {
				v.state = Failed
			}
			v.err = err
			v.log.WithError(err).WithField("state", v.state.String()).Warn("board load failed")
			return err
		}
		v.applyLoad(since, r)
		return nil
	})
	return p.Err()
}

func (v *View) applyLoad(since uint64, r loadResult) {
	grouped, orphans := domain.GroupColumns(r.columns, r.tasks)
	if len(orphans) > 0 {
		ids := make([]string, len(orphans))
		for i, t := range orphans {
			ids[i] = t.ID
		}
		v.log.WithFields(log.Fields{"dropped": len(orphans), "task_ids": ids}).Warn("tasks reference missing columns")
	}
	for _, tie := range domain.PositionTies(grouped) {
		v.log.WithFields(log.Fields{
			"kind":      tie.Kind,
			"parent_id": tie.ParentID,
			"position":  tie.Position,
			"ids":       tie.IDs,
		}).Warn("position tie")
	}

	v.board = refresh(v.board, since, r.board)
	columns := make(map[string]*entry[domain.Column], len(grouped))
	tasks := make(map[string]*entry[domain.Task], len(r.tasks))
	for _, g := range grouped {
		columns[g.ID] = refresh(v.columns[g.ID], since, g.Column)
		for _, t := range g.Tasks {
			tasks[t.ID] = refresh(v.tasks[t.ID], since, t)
		}
	}
	v.columns, v.tasks = columns, tasks
	v.dropped = len(orphans)
	v.state = Loaded
	v.err = nil
}

// refresh replaces e with the loaded row unless a mutation newer than the
// load is outstanding, in which case only the confirmed value moves.
func refresh[T any](e *entry[T], since uint64, loaded T) *entry[T] {
	if e == nil || !e.pendingSince(since) {
		return newEntry(loaded)
	}
	e.confirmed = loaded
	return e
}

// UpdateBoard changes the board's title or color.
func (v *View) UpdateBoard(ctx context.Context, p domain.BoardPatch) *Pending[domain.Board] {
	p, err := p.Validate()
	if err != nil {
		return settled[domain.Board](err)
	}
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return settled[domain.Board](err)
	}
	seq := v.nextSeqLocked()
	e := v.board
	e.propose(seq, e.current.Apply(p))
	v.mu.Unlock()
	v.changes.notify()

	return submit(ctx, v, func(ctx context.Context) (domain.Board, error) {
		return v.store.UpdateBoard(ctx, v.boardID, p)
	}, func(b domain.Board, err error) error {
		return reconcile(v, "updateBoard", seq, e, b, err)
	})
}

// CreateColumn appends a column to the board.
func (v *View) CreateColumn(ctx context.Context, title string) *Pending[domain.Column] {
	title, err := domain.ValidateColumnTitle(title)
	if err != nil {
		return settled[domain.Column](err)
	}
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return settled[domain.Column](err)
	}
	v.mu.Unlock()

	return submit(ctx, v, func(ctx context.Context) (domain.Column, error) {
		return v.store.CreateColumn(ctx, v.boardID, title)
	}, func(c domain.Column, err error) error {
		if err != nil {
			v.log.WithError(err).WithField("op", "createColumn").Warn("board mutation failed")
			return err
		}
		v.columns[c.ID] = newEntry(c)
		return nil
	})
}

// UpdateColumn renames a column.
func (v *View) UpdateColumn(ctx context.Context, id string, p domain.ColumnPatch) *Pending[domain.Column] {
	p, err := p.Validate()
	if err != nil {
		return settled[domain.Column](err)
	}
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return settled[domain.Column](err)
	}
	e, ok := v.columns[id]
	if !ok {
		v.mu.Unlock()
		return settled[domain.Column](ErrNotInView)
	}
	seq := v.nextSeqLocked()
	e.propose(seq, e.current.Apply(p))
	v.mu.Unlock()
	v.changes.notify()

	return submit(ctx, v, func(ctx context.Context) (domain.Column, error) {
		return v.store.UpdateColumn(ctx, id, p)
	}, func(c domain.Column, err error) error {
		return reconcile(v, "updateColumn", seq, e, c, err)
	})
}

// CreateTask adds a task to a column of the view. The request is validated
// before the store is contacted and the view changes only once the store
// returned the new row.
func (v *View) CreateTask(ctx context.Context, columnID string, nt domain.NewTask) *Pending[domain.Task] {
	nt, err := nt.Validate()
	if err != nil {
		return settled[domain.Task](err)
	}
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return settled[domain.Task](err)
	}
	if _, ok := v.columns[columnID]; !ok {
		v.mu.Unlock()
		return settled[domain.Task](errUnknownColumn)
	}
	v.mu.Unlock()

	return submit(ctx, v, func(ctx context.Context) (domain.Task, error) {
		return v.store.CreateTask(ctx, columnID, nt)
	}, func(t domain.Task, err error) error {
		if err != nil {
			v.log.WithError(err).WithField("op", "createTask").Warn("board mutation failed")
			return err
		}
		v.tasks[t.ID] = newEntry(t)
		return nil
	})
}

// UpdateTask edits a task. A column_id change moves the task to the end of
// another column of the view.
func (v *View) UpdateTask(ctx context.Context, id string, p domain.TaskPatch) *Pending[domain.Task] {
	p, err := p.Validate()
	if err != nil {
		return settled[domain.Task](err)
	}
	v.mu.Lock()
	if err := v.readyLocked(); err != nil {
		v.mu.Unlock()
		return settled[domain.Task](err)
	}
	e, ok := v.tasks[id]
	if !ok {
		v.mu.Unlock()
		return settled[domain.Task](ErrNotInView)
	}
	next := e.current.Apply(p)
	if p.Moves(e.current) {
		if _, ok := v.columns[*p.ColumnID]; !ok {
			v.mu.Unlock()
			return settled[domain.Task](errUnknownColumn)
		}
		next.Position = v.nextTaskPositionLocked(*p.ColumnID)
	}
	seq := v.nextSeqLocked()
	e.propose(seq, next)
	v.mu.Unlock()
	v.changes.notify()

	return submit(ctx, v, func(ctx context.Context) (domain.Task, error) {
		return v.store.UpdateTask(ctx, id, p)
	}, func(t domain.Task, err error) error {
		return reconcile(v, "updateTask", seq, e, t, err)
	})
}

func (v *View) readyLocked() error {
	switch {
	case v.closed:
		return ErrClosed
	case v.state != Loaded:
		return ErrNotLoaded
	}
	return nil
}

func (v *View) nextSeqLocked() uint64 {
	v.seq++
	return v.seq
}

func (v *View) nextTaskPositionLocked(columnID string) int {
	last := 0
	for _, e := range v.tasks {
		if e.current.ColumnID == columnID && e.current.Position > last {
			last = e.current.Position
		}
	}
	return last + 1
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// runContext derives the context of one store call: it ends when either the
// caller's context or the view ends.
func (v *View) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(v.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// reconcile folds the outcome of mutation seq into e. Must hold v.mu.
func reconcile[T any](v *View, op string, seq uint64, e *entry[T], val T, err error) error {
	fields := log.Fields{"op": op, "seq": seq}
	if err != nil {
		if e.reject(seq) {
			fields["reverted"] = true
		}
		v.log.WithFields(fields).WithError(err).Warn("board mutation failed")
		return err
	}
	if !e.confirm(seq, val) {
		v.stale++
		v.log.WithFields(fields).Debug("stale reconciliation discarded")
	}
	return nil
}

// submit queues call behind every earlier submission of v. Its outcome is
// folded into the view by apply under v.mu, in submission order.
func submit[T any](ctx context.Context, v *View, call func(context.Context) (T, error), apply func(T, error) error) *Pending[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPending[T]()
	t := v.queue.next()
	go func() {
		defer t.finish()
		t.wait()

		var val T
		err := ErrClosed
		if !v.isClosed() {
			runCtx, stop := v.runContext(ctx)
			if err = runCtx.Err(); err == nil {
				val, err = call(runCtx)
			}
			stop()
		}

		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			var zero T
			p.settle(zero, ErrClosed)
			return
		}
		err = apply(val, err)
		v.mu.Unlock()
		v.changes.notify()
		if err != nil {
			var zero T
			val = zero
		}
		p.settle(val, err)
	}()
	return p
}
