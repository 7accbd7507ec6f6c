package domain

import (
	"encoding/json"
	"strings"
)

// Priority ranks a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority is used when a task is created without one.
const DefaultPriority = PriorityMedium

// ParsePriority normalizes raw (surrounding whitespace, case) and rejects
// anything outside low, medium and high. Some clients send "low " with a
// trailing space; it is the same priority.
func ParsePriority(raw string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(raw))); p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	}
	return "", &ValidationError{Field: "priority", Message: "Invalid priority"}
}

// UnmarshalJSON normalizes casing and padding. Unknown values are kept so
// that validation can report them.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Priority(strings.ToLower(strings.TrimSpace(raw)))
	return nil
}
