package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"kanban-api/boardsync"
	"kanban-api/domain"
)

func printBoards(w io.Writer, boards []domain.Board) error {
	if len(boards) == 0 {
		_, err := fmt.Fprintln(w, "no boards")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCOLOR")
	for _, b := range boards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.ID, b.Title, b.Color)
	}
	return tw.Flush()
}

// printBoard writes the grouped view. The task total counts what is shown,
// so it reflects the filter.
func printBoard(w io.Writer, s boardsync.Snapshot, f domain.TaskFilter) error {
	if s.Board == nil {
		return fmt.Errorf("board not loaded (%s)", s.State)
	}
	columns := s.Filter(f)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %s\n", s.Board.Title, s.Board.ID, s.Board.Color)
	if s.Board.Description != nil {
		fmt.Fprintf(&sb, "%s\n", *s.Board.Description)
	}
	fmt.Fprintf(&sb, "Total tasks: %d\n", domain.TaskCount(columns))
	if s.Dropped > 0 {
		fmt.Fprintf(&sb, "(%d tasks hidden: unknown column)\n", s.Dropped)
	}
	if len(columns) == 0 {
		sb.WriteString("\nno columns\n")
	}
	for _, g := range columns {
		fmt.Fprintf(&sb, "\n%s [%s] (%d)\n", g.Title, g.ID, len(g.Tasks))
		for _, t := range g.Tasks {
			fmt.Fprintf(&sb, "  - %s\n", taskLine(t))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func taskLine(t domain.Task) string {
	parts := []string{fmt.Sprintf("%s [%s]", t.Title, t.ID), string(t.Priority)}
	if t.Assignee != nil {
		parts = append(parts, "@"+*t.Assignee)
	}
	if t.DueDate != nil && !t.DueDate.IsZero() {
		parts = append(parts, "due "+t.DueDate.String())
	}
	return strings.Join(parts, " ")
}
