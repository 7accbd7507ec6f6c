package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"kanban-api/domain"
)

const (
	edmInt64 = "Edm.Int64"

	maxETagAttempts = 5
)

// TablesConfig describes the table service endpoint and the two
// credentials. CallerSAS is a SAS token limited to the three tables;
// ServiceKey is "account:key". ConnectionString, when set, is used for both
// scopes and is meant for the local emulator.
type TablesConfig struct {
	ServiceURL       string
	CallerSAS        string
	ServiceKey       string
	ConnectionString string
	BoardsTable      string
	ColumnsTable     string
	TasksTable       string
}

type tableSet struct {
	boards  *aztables.Client
	columns *aztables.Client
	tasks   *aztables.Client
}

// Tables is a Backend on Azure Table storage. Boards are partitioned by
// owner, columns and tasks by board. Each board keeps the last column
// position handed out and each column the last task position; both
// counters are advanced under ETag concurrency.
type Tables struct {
	caller  *tableSet
	service *tableSet
	now     func() time.Time
	newID   func() string
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables creates the caller and service table clients.
func NewTables(cfg TablesConfig) (*Tables, error) {
	t := &Tables{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	if cfg.ConnectionString != "" {
		svc, err := aztables.NewServiceClientFromConnectionString(cfg.ConnectionString, tablesClientOptions())
		if err != nil {
			return nil, err
		}
		set := newTableSet(svc, cfg)
		t.caller, t.service = set, set
		return t, nil
	}
	if cfg.ServiceURL == "" {
		return nil, errors.New("tables: service URL is required")
	}
	if cfg.CallerSAS != "" {
		u := strings.TrimSuffix(cfg.ServiceURL, "/") + "/?" + strings.TrimPrefix(cfg.CallerSAS, "?")
		svc, err := aztables.NewServiceClientWithNoCredential(u, tablesClientOptions())
		if err != nil {
			return nil, err
		}
		t.caller = newTableSet(svc, cfg)
	}
	if cfg.ServiceKey != "" {
		account, key, ok := strings.Cut(cfg.ServiceKey, ":")
		if !ok {
			return nil, errors.New("tables: service credential must be account:key")
		}
		cred, err := aztables.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, err
		}
		svc, err := aztables.NewServiceClientWithSharedKey(cfg.ServiceURL, cred, tablesClientOptions())
		if err != nil {
			return nil, err
		}
		t.service = newTableSet(svc, cfg)
	}
	return t, nil
}

func newTableSet(svc *aztables.ServiceClient, cfg TablesConfig) *tableSet {
	return &tableSet{
		boards:  svc.NewClient(cfg.BoardsTable),
		columns: svc.NewClient(cfg.ColumnsTable),
		tasks:   svc.NewClient(cfg.TasksTable),
	}
}

func (t *Tables) set(cred Credential) (*tableSet, error) {
	var s *tableSet
	switch cred.Scope() {
	case ScopeCaller:
		s = t.caller
	case ScopeService:
		s = t.service
	}
	if s == nil {
		return nil, ErrForbidden
	}
	return s, nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type boardEntity struct {
	entityKeys
	Title              string  `json:"Title"`
	Description        *string `json:"Description,omitempty"`
	Color              string  `json:"Color"`
	UserID             string  `json:"UserID"`
	LastColumnPosition int     `json:"LastColumnPosition"`
	CreatedAt          int64   `json:"CreatedAt,string"`
	CreatedAtType      string  `json:"CreatedAt@odata.type"`
	UpdatedAt          int64   `json:"UpdatedAt,string"`
	UpdatedAtType      string  `json:"UpdatedAt@odata.type"`
}

func (e boardEntity) board() domain.Board {
	return domain.Board{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
		UserID:      e.UserID,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
}

type columnEntity struct {
	entityKeys
	Title            string `json:"Title"`
	Position         int    `json:"Position"`
	LastTaskPosition int    `json:"LastTaskPosition"`
	CreatedAt        int64  `json:"CreatedAt,string"`
	CreatedAtType    string `json:"CreatedAt@odata.type"`
}

func (e columnEntity) column() domain.Column {
	return domain.Column{
		ID:        e.RowKey,
		BoardID:   e.PartitionKey,
		Title:     e.Title,
		Position:  e.Position,
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
	}
}

type taskEntity struct {
	entityKeys
	ColumnID      string  `json:"ColumnID"`
	Title         string  `json:"Title"`
	Description   *string `json:"Description,omitempty"`
	Assignee      *string `json:"Assignee,omitempty"`
	Priority      string  `json:"Priority"`
	DueDate       string  `json:"DueDate,omitempty"`
	Position      int     `json:"Position"`
	CreatedAt     int64   `json:"CreatedAt,string"`
	CreatedAtType string  `json:"CreatedAt@odata.type"`
}

func (e taskEntity) task() (domain.Task, error) {
	t := domain.Task{
		ID:          e.RowKey,
		ColumnID:    e.ColumnID,
		Title:       e.Title,
		Description: e.Description,
		Assignee:    e.Assignee,
		Priority:    domain.Priority(e.Priority),
		Position:    e.Position,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
	}
	if e.DueDate != "" {
		d, err := domain.ParseDate(e.DueDate)
		if err != nil {
			return domain.Task{}, fmt.Errorf("task %s: bad due date %q", e.RowKey, e.DueDate)
		}
		t.DueDate = &d
	}
	return t, nil
}

func newTaskEntity(boardID string, t domain.Task) taskEntity {
	e := taskEntity{
		entityKeys:    entityKeys{PartitionKey: boardID, RowKey: t.ID},
		ColumnID:      t.ColumnID,
		Title:         t.Title,
		Description:   t.Description,
		Assignee:      t.Assignee,
		Priority:      string(t.Priority),
		Position:      t.Position,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
	if t.DueDate != nil {
		e.DueDate = t.DueDate.String()
	}
	return e
}

func (t *Tables) GetBoard(ctx context.Context, cred Credential, id string) (domain.Board, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Board{}, err
	}
	ent, _, err := findOne[boardEntity](ctx, s.boards, rowKeyFilter(id))
	if err != nil {
		return domain.Board{}, err
	}
	return ent.board(), nil
}

func (t *Tables) ListBoards(ctx context.Context, cred Credential, owner domain.Identity) ([]domain.Board, error) {
	s, err := t.set(cred)
	if err != nil {
		return nil, err
	}
	ents, err := listAll[boardEntity](ctx, s.boards, partitionFilter(string(owner)))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Board, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.board())
	}
	sortBoardsNewestFirst(out)
	return out, nil
}

func (t *Tables) InsertBoard(ctx context.Context, cred Credential, b domain.Board) (domain.Board, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Board{}, err
	}
	now := t.now()
	b.ID = t.newID()
	b.CreatedAt, b.UpdatedAt = now, now
	ent := boardEntity{
		entityKeys:    entityKeys{PartitionKey: b.UserID, RowKey: b.ID},
		Title:         b.Title,
		Description:   b.Description,
		Color:         b.Color,
		UserID:        b.UserID,
		CreatedAt:     now.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     now.UnixNano(),
		UpdatedAtType: edmInt64,
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boards.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, translateTablesErr(err)
	}
	return b, nil
}

func (t *Tables) UpdateBoard(ctx context.Context, cred Credential, id string, p domain.BoardPatch) (domain.Board, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Board{}, err
	}
	var out domain.Board
	err = withETagRetry(ctx, func() error {
		ent, etag, err := findOne[boardEntity](ctx, s.boards, rowKeyFilter(id))
		if err != nil {
			return err
		}
		b := ent.board().Apply(p)
		ent.Title, ent.Color = b.Title, b.Color
		ent.UpdatedAt = t.now().UnixNano()
		if err := replaceEntity(ctx, s.boards, etag, ent); err != nil {
			return err
		}
		out = ent.board()
		return nil
	})
	return out, err
}

func (t *Tables) GetColumn(ctx context.Context, cred Credential, id string) (domain.Column, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Column{}, err
	}
	ent, _, err := findOne[columnEntity](ctx, s.columns, rowKeyFilter(id))
	if err != nil {
		return domain.Column{}, err
	}
	return ent.column(), nil
}

func (t *Tables) ListColumns(ctx context.Context, cred Credential, boardID string) ([]domain.Column, error) {
	s, err := t.set(cred)
	if err != nil {
		return nil, err
	}
	ents, err := listAll[columnEntity](ctx, s.columns, partitionFilter(boardID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Column, 0, len(ents))
	for _, e := range ents {
		out = append(out, e.column())
	}
	return domain.SortColumns(out), nil
}

func (t *Tables) InsertColumn(ctx context.Context, cred Credential, boardID, title string) (domain.Column, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Column{}, err
	}
	var pos int
	err = withETagRetry(ctx, func() error {
		ent, etag, err := findOne[boardEntity](ctx, s.boards, rowKeyFilter(boardID))
		if err != nil {
			return err
		}
		pos = ent.LastColumnPosition + 1
		return mergeEntity(ctx, s.boards, etag, struct {
			entityKeys
			LastColumnPosition int `json:"LastColumnPosition"`
		}{ent.entityKeys, pos})
	})
	if err != nil {
		return domain.Column{}, err
	}

	now := t.now()
	ent := columnEntity{
		entityKeys:    entityKeys{PartitionKey: boardID, RowKey: t.newID()},
		Title:         title,
		Position:      pos,
		CreatedAt:     now.UnixNano(),
		CreatedAtType: edmInt64,
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return domain.Column{}, err
	}
	if _, err := s.columns.AddEntity(ctx, payload, nil); err != nil {
		return domain.Column{}, translateTablesErr(err)
	}
	return ent.column(), nil
}

func (t *Tables) UpdateColumn(ctx context.Context, cred Credential, id string, p domain.ColumnPatch) (domain.Column, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Column{}, err
	}
	var out domain.Column
	err = withETagRetry(ctx, func() error {
		ent, etag, err := findOne[columnEntity](ctx, s.columns, rowKeyFilter(id))
		if err != nil {
			return err
		}
		ent.Title = ent.column().Apply(p).Title
		if err := replaceEntity(ctx, s.columns, etag, ent); err != nil {
			return err
		}
		out = ent.column()
		return nil
	})
	return out, err
}

func (t *Tables) GetTask(ctx context.Context, cred Credential, id string) (domain.Task, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Task{}, err
	}
	ent, _, err := findOne[taskEntity](ctx, s.tasks, rowKeyFilter(id))
	if err != nil {
		return domain.Task{}, err
	}
	return ent.task()
}

func (t *Tables) ListTasks(ctx context.Context, cred Credential, boardID string) ([]domain.Task, error) {
	s, err := t.set(cred)
	if err != nil {
		return nil, err
	}
	ents, err := listAll[taskEntity](ctx, s.tasks, partitionFilter(boardID))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		task, err := e.task()
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return domain.SortTasks(out), nil
}

func (t *Tables) InsertTask(ctx context.Context, cred Credential, columnID string, nt domain.NewTask) (domain.Task, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Task{}, err
	}
	boardID, pos, err := t.allocateTaskPosition(ctx, s, columnID)
	if err != nil {
		return domain.Task{}, err
	}
	task := nt.Task(columnID)
	task.ID = t.newID()
	task.Position = pos
	task.CreatedAt = t.now()
	payload, err := sonic.Marshal(newTaskEntity(boardID, task))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, translateTablesErr(err)
	}
	return task, nil
}

func (t *Tables) UpdateTask(ctx context.Context, cred Credential, id string, p domain.TaskPatch) (domain.Task, error) {
	s, err := t.set(cred)
	if err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	err = withETagRetry(ctx, func() error {
		ent, etag, err := findOne[taskEntity](ctx, s.tasks, rowKeyFilter(id))
		if err != nil {
			return err
		}
		cur, err := ent.task()
		if err != nil {
			return err
		}
		next := cur.Apply(p)
		if p.Moves(cur) {
			_, pos, err := t.allocateTaskPosition(ctx, s, next.ColumnID)
			if err != nil {
				return err
			}
			next.Position = pos
		}
		upd := newTaskEntity(ent.PartitionKey, next)
		if err := replaceEntity(ctx, s.tasks, etag, upd); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (t *Tables) allocateTaskPosition(ctx context.Context, s *tableSet, columnID string) (boardID string, pos int, err error) {
	err = withETagRetry(ctx, func() error {
		ent, etag, err := findOne[columnEntity](ctx, s.columns, rowKeyFilter(columnID))
		if err != nil {
			return err
		}
		boardID = ent.PartitionKey
		pos = ent.LastTaskPosition + 1
		return mergeEntity(ctx, s.columns, etag, struct {
			entityKeys
			LastTaskPosition int `json:"LastTaskPosition"`
		}{ent.entityKeys, pos})
	})
	return boardID, pos, err
}

var errETagMismatch = errors.New("tables: entity changed concurrently")

func withETagRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxETagAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, errETagMismatch) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

func replaceEntity(ctx context.Context, client *aztables.Client, etag string, ent any) error {
	return updateEntity(ctx, client, etag, ent, aztables.UpdateModeReplace)
}

func mergeEntity(ctx context.Context, client *aztables.Client, etag string, ent any) error {
	return updateEntity(ctx, client, etag, ent, aztables.UpdateModeMerge)
}

func updateEntity(ctx context.Context, client *aztables.Client, etag string, ent any, mode aztables.UpdateMode) error {
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	et := azcore.ETag(etag)
	if etag == "" {
		et = azcore.ETagAny
	}
	_, err = client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: mode})
	return translateTablesErr(err)
}

type etagged struct {
	ETag string `json:"odata.etag"`
}

// findOne returns the first entity matching filter along with its ETag.
func findOne[E any](ctx context.Context, client *aztables.Client, filter string) (E, string, error) {
	var zero E
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return zero, "", translateTablesErr(err)
		}
		if len(resp.Entities) == 0 {
			continue
		}
		var ent E
		if err := sonic.Unmarshal(resp.Entities[0], &ent); err != nil {
			return zero, "", err
		}
		var tag etagged
		_ = sonic.Unmarshal(resp.Entities[0], &tag)
		return ent, tag.ETag, nil
	}
	return zero, "", ErrNotFound
}

func listAll[E any](ctx context.Context, client *aztables.Client, filter string) ([]E, error) {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []E
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateTablesErr(err)
		}
		for _, raw := range resp.Entities {
			var ent E
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

func translateTablesErr(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusPreconditionFailed:
			return errETagMismatch
		case http.StatusForbidden:
			return ErrForbidden
		}
	}
	return err
}

func quoteODataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func rowKeyFilter(id string) string {
	return "RowKey eq " + quoteODataString(id)
}

func partitionFilter(pk string) string {
	return "PartitionKey eq " + quoteODataString(pk)
}
