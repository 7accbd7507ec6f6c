package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestParsePriorityNormalizes(t *testing.T) {
	cases := map[string]Priority{
		"low":    PriorityLow,
		"low ":   PriorityLow,
		" HIGH":  PriorityHigh,
		"Medium": PriorityMedium,
	}
	for raw, want := range cases {
		got, err := ParsePriority(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", raw, want, got)
		}
	}
	if _, err := ParsePriority("urgent"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewTaskValidate(t *testing.T) {
	if _, err := (NewTask{Title: "  "}).Validate(); !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected invalid title, got %v", err)
	}
	bad := Priority("urgent")
	if _, err := (NewTask{Title: "x", Priority: &bad}).Validate(); !IsValidation(err) {
		t.Fatalf("expected invalid priority, got %v", err)
	}

	blank := " "
	nt, err := NewTask{Title: " Write docs ", Description: &blank, Assignee: &blank}.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	task := nt.Task("c1")
	if task.Title != "Write docs" || task.ColumnID != "c1" {
		t.Fatalf("unexpected task %+v", task)
	}
	if task.Priority != DefaultPriority {
		t.Fatalf("expected default priority, got %q", task.Priority)
	}
	if task.Description != nil || task.Assignee != nil {
		t.Fatalf("expected blank optionals to be dropped")
	}
}

func TestNewTaskDecodeNormalizesPriority(t *testing.T) {
	var nt NewTask
	if err := sonic.Unmarshal([]byte(`{"title":"a","priority":"low ","due_date":"2024-03-01"}`), &nt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	nt, err := nt.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if *nt.Priority != PriorityLow {
		t.Fatalf("expected low, got %q", *nt.Priority)
	}
	if nt.DueDate.String() != "2024-03-01" {
		t.Fatalf("unexpected due date %s", nt.DueDate)
	}
}

func TestTaskPatchApply(t *testing.T) {
	desc := "notes"
	due := NewDate(2024, time.May, 2)
	task := Task{ID: "t1", ColumnID: "c1", Title: "a", Description: &desc, DueDate: &due, Priority: PriorityLow, Position: 3}

	empty := ""
	zero := Date{}
	dest := "c2"
	p, err := TaskPatch{Description: &empty, DueDate: &zero, ColumnID: &dest}.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !p.Moves(task) {
		t.Fatal("expected move")
	}
	got := task.Apply(p)
	if got.Description != nil || got.DueDate != nil {
		t.Fatalf("expected cleared fields, got %+v", got)
	}
	if got.ColumnID != "c2" || got.Position != 3 {
		t.Fatalf("unexpected column/position %q/%d", got.ColumnID, got.Position)
	}
	if _, err := (TaskPatch{}).Validate(); !errors.Is(err, ErrEmptyPatch) {
		t.Fatalf("expected empty patch, got %v", err)
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2025, time.January, 9)
	payload, err := sonic.Marshal(Task{DueDate: &d})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Task
	if err := sonic.Unmarshal(payload, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.DueDate == nil || !back.DueDate.Equal(d.Time) {
		t.Fatalf("unexpected due date %v", back.DueDate)
	}
	if _, err := ParseDate("09/01/2025"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
