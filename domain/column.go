package domain

import (
	"strings"
	"time"
)

// Column is an ordered container of tasks within a board.
type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"board_id"`
	Title     string    `json:"title"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// ColumnPatch is a partial column update.
type ColumnPatch struct {
	Title *string `json:"title,omitempty"`
}

// ValidateColumnTitle trims title and rejects blank values.
func ValidateColumnTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", &ValidationError{Field: "title", Message: "Missing or invalid title"}
	}
	return t, nil
}

// Validate checks the patch and returns it normalized.
func (p ColumnPatch) Validate() (ColumnPatch, error) {
	if p.Title == nil {
		return p, ErrEmptyPatch
	}
	t, err := ValidateColumnTitle(*p.Title)
	if err != nil {
		return p, err
	}
	p.Title = &t
	return p, nil
}

// Apply returns c with the patch applied.
func (c Column) Apply(p ColumnPatch) Column {
	if p.Title != nil {
		c.Title = *p.Title
	}
	return c
}
