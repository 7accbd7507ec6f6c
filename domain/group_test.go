package domain

import (
	"testing"
	"time"
)

func TestGroupColumnsPartitionsTasks(t *testing.T) {
	columns := []Column{
		{ID: "c2", BoardID: "b", Position: 2},
		{ID: "c1", BoardID: "b", Position: 1},
	}
	tasks := []Task{
		{ID: "t3", ColumnID: "c1", Position: 2},
		{ID: "t1", ColumnID: "c2", Position: 1},
		{ID: "t2", ColumnID: "c1", Position: 1},
		{ID: "orphan", ColumnID: "gone", Position: 1},
	}

	grouped, orphans := GroupColumns(columns, tasks)
	if len(grouped) != 2 || grouped[0].ID != "c1" || grouped[1].ID != "c2" {
		t.Fatalf("unexpected column order %+v", grouped)
	}
	if got := ids(grouped[0].Tasks); got != "t2,t3" {
		t.Fatalf("unexpected c1 tasks %s", got)
	}
	if got := ids(grouped[1].Tasks); got != "t1" {
		t.Fatalf("unexpected c2 tasks %s", got)
	}
	if len(orphans) != 1 || orphans[0].ID != "orphan" {
		t.Fatalf("unexpected orphans %+v", orphans)
	}

	seen := map[string]bool{}
	for _, g := range grouped {
		for _, task := range g.Tasks {
			if seen[task.ID] {
				t.Fatalf("task %s grouped twice", task.ID)
			}
			seen[task.ID] = true
		}
	}
	if len(seen) != 3 || TaskCount(grouped) != 3 {
		t.Fatalf("expected 3 grouped tasks, got %d", len(seen))
	}
}

func TestGroupColumnsEmptyColumnHasTasksSlice(t *testing.T) {
	grouped, _ := GroupColumns([]Column{{ID: "c1"}}, nil)
	if grouped[0].Tasks == nil {
		t.Fatal("expected non-nil tasks slice")
	}
}

func TestPositionTies(t *testing.T) {
	grouped, _ := GroupColumns(
		[]Column{{ID: "a", BoardID: "b", Position: 1}, {ID: "b", BoardID: "b", Position: 1}},
		[]Task{{ID: "x", ColumnID: "a", Position: 4}, {ID: "y", ColumnID: "a", Position: 4}},
	)
	ties := PositionTies(grouped)
	if len(ties) != 2 {
		t.Fatalf("expected 2 ties, got %+v", ties)
	}
	if ties[0].Kind != "column" || ties[1].Kind != "task" || ties[1].ParentID != "a" {
		t.Fatalf("unexpected ties %+v", ties)
	}
}

func TestInsertTaskKeepsOrder(t *testing.T) {
	grouped, _ := GroupColumns([]Column{{ID: "c1"}}, []Task{{ID: "a", ColumnID: "c1", Position: 1}, {ID: "c", ColumnID: "c1", Position: 3}})
	if !InsertTask(grouped, Task{ID: "b", ColumnID: "c1", Position: 2}) {
		t.Fatal("expected insert")
	}
	if got := ids(grouped[0].Tasks); got != "a,b,c" {
		t.Fatalf("unexpected order %s", got)
	}
	if InsertTask(grouped, Task{ID: "z", ColumnID: "nope"}) {
		t.Fatal("expected missing column to be reported")
	}
}

func TestTaskFilter(t *testing.T) {
	alice := "Alice"
	early := NewDate(2024, time.March, 1)
	late := NewDate(2024, time.April, 1)
	tasks := []Task{
		{ID: "1", ColumnID: "c", Priority: PriorityHigh, Assignee: &alice, DueDate: &early},
		{ID: "2", ColumnID: "c", Priority: PriorityLow, DueDate: &late},
		{ID: "3", ColumnID: "c", Priority: PriorityHigh},
	}
	grouped, _ := GroupColumns([]Column{{ID: "c"}}, tasks)

	if !(TaskFilter{}).Empty() {
		t.Fatal("expected empty filter")
	}
	f := TaskFilter{Priorities: []Priority{PriorityHigh}}
	if got := ids(f.Apply(grouped)[0].Tasks); got != "1,3" {
		t.Fatalf("priority filter: %s", got)
	}
	f = TaskFilter{Assignees: []string{"alice"}}
	if got := ids(f.Apply(grouped)[0].Tasks); got != "1" {
		t.Fatalf("assignee filter: %s", got)
	}
	cutoff := NewDate(2024, time.March, 1)
	f = TaskFilter{DueBefore: &cutoff}
	if got := ids(f.Apply(grouped)[0].Tasks); got != "1" {
		t.Fatalf("due filter: %s", got)
	}
	if len(grouped[0].Tasks) != 3 {
		t.Fatal("filter must not modify its input")
	}
}

func ids(tasks []Task) string {
	out := ""
	for i, t := range tasks {
		if i > 0 {
			out += ","
		}
		out += t.ID
	}
	return out
}
