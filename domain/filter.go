package domain

import "strings"

// TaskFilter narrows the tasks shown on a board. Empty fields match
// everything.
type TaskFilter struct {
	Priorities []Priority
	Assignees  []string
	// DueBefore keeps tasks due on or before the given day. Tasks without a
	// due date are excluded while it is set.
	DueBefore *Date
}

// Empty reports whether the filter matches every task.
func (f TaskFilter) Empty() bool {
	return len(f.Priorities) == 0 && len(f.Assignees) == 0 && f.DueBefore == nil
}

// Match reports whether t passes the filter. Assignees compare
// case-insensitively.
func (f TaskFilter) Match(t Task) bool {
	if len(f.Priorities) > 0 {
		ok := false
		for _, p := range f.Priorities {
			if p == t.Priority {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Assignees) > 0 {
		if t.Assignee == nil {
			return false
		}
		ok := false
		for _, a := range f.Assignees {
			if strings.EqualFold(strings.TrimSpace(a), *t.Assignee) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.DueBefore != nil {
		if t.DueDate == nil || t.DueDate.After(*f.DueBefore) {
			return false
		}
	}
	return true
}

// Apply returns grouped with non-matching tasks removed. Columns are kept
// even when they end up empty.
func (f TaskFilter) Apply(grouped []ColumnWithTasks) []ColumnWithTasks {
	if f.Empty() {
		return grouped
	}
	out := make([]ColumnWithTasks, len(grouped))
	for i, g := range grouped {
		kept := make([]Task, 0, len(g.Tasks))
		for _, t := range g.Tasks {
			if f.Match(t) {
				kept = append(kept, t)
			}
		}
		out[i] = ColumnWithTasks{Column: g.Column, Tasks: kept}
	}
	return out
}
