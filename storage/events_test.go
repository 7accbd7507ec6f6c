package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/domain"
)

type recordingPublisher struct {
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.events = append(p.events, ev)
	return p.err
}

func TestEventsPublishAfterWrites(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	backend := NewEvents(newTestMemory(), pub, logger)
	ctx := context.Background()

	svc := NewClient(backend, ServiceCredential())
	b, err := svc.InsertBoard(ctx, domain.Board{Title: "B", UserID: "u1"})
	if err != nil {
		t.Fatalf("insert board: %v", err)
	}
	caller := NewClient(backend, CallerCredential("u1"))
	col, err := caller.CreateColumn(ctx, b.ID, "Todo")
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	task, err := caller.CreateTask(ctx, col.ID, domain.NewTask{Title: "T"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if len(pub.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(pub.events))
	}
	want := []struct{ typ, entity string }{
		{EventBoardCreated, b.ID},
		{EventColumnCreated, col.ID},
		{EventTaskCreated, task.ID},
	}
	for i, w := range want {
		ev := pub.events[i]
		if ev.Type != w.typ || ev.EntityID != w.entity || ev.BoardID != b.ID || ev.Actor != "u1" {
			t.Fatalf("event %d: unexpected %+v", i, ev)
		}
	}
}

func TestEventsFailedWriteNotPublished(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pub := &recordingPublisher{}
	backend := NewEvents(newTestMemory(), pub, logger)
	title := "x"
	if _, err := backend.UpdateBoard(context.Background(), ServiceCredential(), "missing", domain.BoardPatch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events, got %d", len(pub.events))
	}
}

func TestEventsPublishFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := &recordingPublisher{err: errors.New("queue unavailable")}
	backend := NewEvents(newTestMemory(), pub, logger)

	b, err := backend.InsertBoard(context.Background(), ServiceCredential(), domain.Board{Title: "B", UserID: "u1"})
	if err != nil {
		t.Fatalf("write must succeed despite publish failure: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "change feed publish failed" {
		t.Fatalf("expected warning entry, got %#v", entry)
	}
	if entry.Data["board_id"] != b.ID {
		t.Fatalf("unexpected board id field %v", entry.Data["board_id"])
	}
}
