package domain

import (
	"strings"
	"time"
)

// Task is a unit of work belonging to exactly one column.
type Task struct {
	ID          string    `json:"id"`
	ColumnID    string    `json:"column_id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Assignee    *string   `json:"assignee"`
	Priority    Priority  `json:"priority"`
	DueDate     *Date     `json:"due_date"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTask carries the fields of a task creation request.
type NewTask struct {
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *Date     `json:"due_date,omitempty"`
}

// Validate checks the request and returns it normalized: title trimmed,
// blank optional strings dropped, priority defaulted.
func (nt NewTask) Validate() (NewTask, error) {
	title := strings.TrimSpace(nt.Title)
	if title == "" {
		return NewTask{}, ErrInvalidTitle
	}
	nt.Title = title
	nt.Description = blankToNil(nt.Description)
	nt.Assignee = trimmedOrNil(nt.Assignee)
	if nt.Priority == nil {
		p := DefaultPriority
		nt.Priority = &p
	} else {
		p, err := ParsePriority(string(*nt.Priority))
		if err != nil {
			return NewTask{}, err
		}
		nt.Priority = &p
	}
	if nt.DueDate != nil && nt.DueDate.IsZero() {
		nt.DueDate = nil
	}
	return nt, nil
}

// Task materializes a validated request into a task of column.
func (nt NewTask) Task(columnID string) Task {
	t := Task{
		ColumnID:    columnID,
		Title:       nt.Title,
		Description: nt.Description,
		Assignee:    nt.Assignee,
		Priority:    DefaultPriority,
		DueDate:     nt.DueDate,
	}
	if nt.Priority != nil {
		t.Priority = *nt.Priority
	}
	return t
}

// TaskPatch is a partial task update. An empty Description or Assignee and a
// zero DueDate clear the field. ColumnID moves the task to the end of another
// column of the same board.
type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	DueDate     *Date     `json:"due_date,omitempty"`
	ColumnID    *string   `json:"column_id,omitempty"`
}

// Validate checks the patch and returns it normalized.
func (p TaskPatch) Validate() (TaskPatch, error) {
	if p.Title == nil && p.Description == nil && p.Assignee == nil &&
		p.Priority == nil && p.DueDate == nil && p.ColumnID == nil {
		return p, ErrEmptyPatch
	}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return p, ErrInvalidTitle
		}
		p.Title = &t
	}
	if p.Assignee != nil {
		a := strings.TrimSpace(*p.Assignee)
		p.Assignee = &a
	}
	if p.Priority != nil {
		pr, err := ParsePriority(string(*p.Priority))
		if err != nil {
			return p, err
		}
		p.Priority = &pr
	}
	if p.ColumnID != nil && strings.TrimSpace(*p.ColumnID) == "" {
		return p, &ValidationError{Field: "column_id", Message: "Invalid column"}
	}
	return p, nil
}

// Moves reports whether the patch moves t to another column.
func (p TaskPatch) Moves(t Task) bool {
	return p.ColumnID != nil && *p.ColumnID != t.ColumnID
}

// Apply returns t with the patch applied. Position is left to the caller when
// the task changes column.
func (t Task) Apply(p TaskPatch) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = blankToNil(p.Description)
	}
	if p.Assignee != nil {
		t.Assignee = trimmedOrNil(p.Assignee)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		if p.DueDate.IsZero() {
			t.DueDate = nil
		} else {
			d := *p.DueDate
			t.DueDate = &d
		}
	}
	if p.ColumnID != nil {
		t.ColumnID = *p.ColumnID
	}
	return t
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := *s
	return &v
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
