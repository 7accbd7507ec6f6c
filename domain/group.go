package domain

import (
	"cmp"
	"slices"
)

// ColumnWithTasks is a column together with its tasks in position order. It
// is derived from the stored rows and never persisted.
type ColumnWithTasks struct {
	Column
	Tasks []Task `json:"tasks"`
}

// GroupColumns attaches every task to the column it references and sorts
// both levels by position, using the id as a tiebreaker so output is stable
// even for faulty data. Tasks whose column is not among columns are returned
// as orphans and never attached elsewhere.
func GroupColumns(columns []Column, tasks []Task) (grouped []ColumnWithTasks, orphans []Task) {
	grouped = make([]ColumnWithTasks, 0, len(columns))
	index := make(map[string]int, len(columns))
	for _, c := range SortColumns(columns) {
		if _, dup := index[c.ID]; dup {
			continue
		}
		index[c.ID] = len(grouped)
		grouped = append(grouped, ColumnWithTasks{Column: c, Tasks: []Task{}})
	}
	for _, t := range SortTasks(tasks) {
		i, ok := index[t.ColumnID]
		if !ok {
			orphans = append(orphans, t)
			continue
		}
		grouped[i].Tasks = append(grouped[i].Tasks, t)
	}
	return grouped, orphans
}

// SortColumns returns a copy of columns ordered by (position, id).
func SortColumns(columns []Column) []Column {
	out := slices.Clone(columns)
	slices.SortStableFunc(out, func(a, b Column) int {
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// SortTasks returns a copy of tasks ordered by (column, position, id).
func SortTasks(tasks []Task) []Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, func(a, b Task) int {
		if c := cmp.Compare(a.ColumnID, b.ColumnID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Position, b.Position); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// PositionTie records two siblings sharing one position. Positions must be
// strictly increasing within a parent, so any tie is a data fault.
type PositionTie struct {
	Kind     string // "column" or "task"
	ParentID string
	Position int
	IDs      [2]string
}

// PositionTies reports every adjacent pair of siblings with equal positions
// in grouped output.
func PositionTies(grouped []ColumnWithTasks) []PositionTie {
	var ties []PositionTie
	for i := 1; i < len(grouped); i++ {
		prev, cur := grouped[i-1].Column, grouped[i].Column
		if prev.Position == cur.Position {
			ties = append(ties, PositionTie{Kind: "column", ParentID: cur.BoardID, Position: cur.Position, IDs: [2]string{prev.ID, cur.ID}})
		}
	}
	for _, g := range grouped {
		for i := 1; i < len(g.Tasks); i++ {
			prev, cur := g.Tasks[i-1], g.Tasks[i]
			if prev.Position == cur.Position {
				ties = append(ties, PositionTie{Kind: "task", ParentID: g.ID, Position: cur.Position, IDs: [2]string{prev.ID, cur.ID}})
			}
		}
	}
	return ties
}

// InsertTask places t into its column keeping position order. It returns
// false when the column is not present.
func InsertTask(grouped []ColumnWithTasks, t Task) bool {
	for i := range grouped {
		if grouped[i].ID != t.ColumnID {
			continue
		}
		tasks := slices.Clone(grouped[i].Tasks)
		at, _ := slices.BinarySearchFunc(tasks, t, func(a, b Task) int {
			if c := cmp.Compare(a.Position, b.Position); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		grouped[i].Tasks = slices.Insert(tasks, at, t)
		return true
	}
	return false
}

// TaskCount returns the number of tasks across all columns.
func TaskCount(grouped []ColumnWithTasks) int {
	n := 0
	for _, g := range grouped {
		n += len(g.Tasks)
	}
	return n
}
