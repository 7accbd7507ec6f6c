package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Change feed event types.
const (
	EventBoardCreated  = "board-created"
	EventBoardUpdated  = "board-updated"
	EventColumnCreated = "column-created"
	EventColumnUpdated = "column-updated"
	EventTaskCreated   = "task-created"
	EventTaskUpdated   = "task-updated"
)

// Event describes one successful write.
type Event struct {
	Type     string    `json:"type"`
	BoardID  string    `json:"board_id"`
	EntityID string    `json:"entity_id"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`
	Data     any       `json:"data"`
}

// Publisher delivers change feed events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// QueuePublisher publishes events to an Azure storage queue.
type QueuePublisher struct {
	queue *azqueue.QueueClient
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string) (*QueuePublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueuePublisher{queue: q}, nil
}

func (p *QueuePublisher) Publish(ctx context.Context, ev Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// Events wraps a Backend and publishes an Event after every successful
// write. Publish failures are logged and never fail the write, which has
// already been committed.
type Events struct {
	base Backend
	pub  Publisher
	log  *log.Logger
	now  func() time.Time
}

// NewEvents creates the change feed decorator.
func NewEvents(base Backend, pub Publisher, logger *log.Logger) *Events {
	if base == nil {
		panic("storage.NewEvents: base backend is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Events{base: base, pub: pub, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Events) GetBoard(ctx context.Context, cred Credential, id string) (domain.Board, error) {
	return e.base.GetBoard(ctx, cred, id)
}

func (e *Events) ListBoards(ctx context.Context, cred Credential, owner domain.Identity) ([]domain.Board, error) {
	return e.base.ListBoards(ctx, cred, owner)
}

func (e *Events) InsertBoard(ctx context.Context, cred Credential, b domain.Board) (domain.Board, error) {
	out, err := e.base.InsertBoard(ctx, cred, b)
	if err == nil {
		e.publish(ctx, EventBoardCreated, out.ID, out.ID, out.UserID, out)
	}
	return out, err
}

func (e *Events) UpdateBoard(ctx context.Context, cred Credential, id string, p domain.BoardPatch) (domain.Board, error) {
	out, err := e.base.UpdateBoard(ctx, cred, id, p)
	if err == nil {
		e.publish(ctx, EventBoardUpdated, out.ID, out.ID, actor(cred), out)
	}
	return out, err
}

func (e *Events) GetColumn(ctx context.Context, cred Credential, id string) (domain.Column, error) {
	return e.base.GetColumn(ctx, cred, id)
}

func (e *Events) ListColumns(ctx context.Context, cred Credential, boardID string) ([]domain.Column, error) {
	return e.base.ListColumns(ctx, cred, boardID)
}

func (e *Events) InsertColumn(ctx context.Context, cred Credential, boardID, title string) (domain.Column, error) {
	out, err := e.base.InsertColumn(ctx, cred, boardID, title)
	if err == nil {
		e.publish(ctx, EventColumnCreated, out.BoardID, out.ID, actor(cred), out)
	}
	return out, err
}

func (e *Events) UpdateColumn(ctx context.Context, cred Credential, id string, p domain.ColumnPatch) (domain.Column, error) {
	out, err := e.base.UpdateColumn(ctx, cred, id, p)
	if err == nil {
		e.publish(ctx, EventColumnUpdated, out.BoardID, out.ID, actor(cred), out)
	}
	return out, err
}

func (e *Events) GetTask(ctx context.Context, cred Credential, id string) (domain.Task, error) {
	return e.base.GetTask(ctx, cred, id)
}

func (e *Events) ListTasks(ctx context.Context, cred Credential, boardID string) ([]domain.Task, error) {
	return e.base.ListTasks(ctx, cred, boardID)
}

func (e *Events) InsertTask(ctx context.Context, cred Credential, columnID string, nt domain.NewTask) (domain.Task, error) {
	out, err := e.base.InsertTask(ctx, cred, columnID, nt)
	if err == nil {
		e.publish(ctx, EventTaskCreated, e.boardOf(ctx, cred, out.ColumnID), out.ID, actor(cred), out)
	}
	return out, err
}

func (e *Events) UpdateTask(ctx context.Context, cred Credential, id string, p domain.TaskPatch) (domain.Task, error) {
	out, err := e.base.UpdateTask(ctx, cred, id, p)
	if err == nil {
		e.publish(ctx, EventTaskUpdated, e.boardOf(ctx, cred, out.ColumnID), out.ID, actor(cred), out)
	}
	return out, err
}

func (e *Events) boardOf(ctx context.Context, cred Credential, columnID string) string {
	col, err := e.base.GetColumn(ctx, cred, columnID)
	if err != nil {
		return ""
	}
	return col.BoardID
}

func (e *Events) publish(ctx context.Context, typ, boardID, entityID, actor string, data any) {
	if e.pub == nil {
		return
	}
	ev := Event{Type: typ, BoardID: boardID, EntityID: entityID, Actor: actor, At: e.now(), Data: data}
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.log.WithFields(log.Fields{
			"event":     typ,
			"board_id":  boardID,
			"entity_id": entityID,
		}).WithError(err).Warn("change feed publish failed")
	}
}

func actor(cred Credential) string {
	return string(cred.Owner())
}
