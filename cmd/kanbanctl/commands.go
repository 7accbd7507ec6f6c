package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kanban-api/domain"
)

func boardsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "boards",
		Short: "List your boards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			boards, err := c.session.ListBoards(ctx)
			if err != nil {
				return err
			}
			return printBoards(cmd.OutOrStdout(), boards)
		},
	}
}

func createBoardCmd(c *cli) *cobra.Command {
	var description, color string
	cmd := &cobra.Command{
		Use:   "create-board <title>",
		Short: "Create a board owned by you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nb := domain.NewBoard{Title: args[0]}
			if cmd.Flags().Changed("description") {
				nb.Description = &description
			}
			if cmd.Flags().Changed("color") {
				nb.Color = &color
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			b, err := c.session.CreateBoard(ctx, nb)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created board %s %q\n", b.ID, b.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "board description")
	cmd.Flags().StringVarP(&color, "color", "c", "", "board color token")
	return cmd
}

func showCmd(c *cli) *cobra.Command {
	var (
		priorities []string
		assignees  []string
		dueBefore  string
	)
	cmd := &cobra.Command{
		Use:   "show <board-id>",
		Short: "Show a board grouped by column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilter(priorities, assignees, dueBefore)
			if err != nil {
				return err
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			v, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			return printBoard(cmd.OutOrStdout(), v.Snapshot(), f)
		},
	}
	cmd.Flags().StringSliceVarP(&priorities, "priority", "p", nil, "only tasks with these priorities")
	cmd.Flags().StringSliceVarP(&assignees, "assignee", "a", nil, "only tasks assigned to these people")
	cmd.Flags().StringVar(&dueBefore, "due-before", "", "only tasks due on or before YYYY-MM-DD")
	return cmd
}

func renameBoardCmd(c *cli) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "rename-board <board-id> [title]",
		Short: "Change a board's title and/or color",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.BoardPatch
			if len(args) == 2 {
				p.Title = &args[1]
			}
			if cmd.Flags().Changed("color") {
				p.Color = &color
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			v, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			b, err := v.UpdateBoard(ctx, p).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "board %s is now %q (%s)\n", b.ID, b.Title, b.Color)
			return nil
		},
	}
	cmd.Flags().StringVarP(&color, "color", "c", "", "board color token")
	return cmd
}

func addColumnCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "add-column <board-id> <title>",
		Short: "Append a column to a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			v, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			col, err := v.CreateColumn(ctx, args[1]).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created column %s %q at position %d\n", col.ID, col.Title, col.Position)
			return nil
		},
	}
}

func renameColumnCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rename-column <board-id> <column-id> <title>",
		Short: "Rename a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()
			v, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			col, err := v.UpdateColumn(ctx, args[1], domain.ColumnPatch{Title: &args[2]}).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "column %s is now %q\n", col.ID, col.Title)
			return nil
		},
	}
}

// taskFlags are shared by add-task and edit-task.
type taskFlags struct {
	title       string
	description string
	assignee    string
	priority    string
	due         string
}

func (tf *taskFlags) register(cmd *cobra.Command, withTitle bool) {
	if withTitle {
		cmd.Flags().StringVarP(&tf.title, "title", "t", "", "task title")
	}
	cmd.Flags().StringVarP(&tf.description, "description", "d", "", "task description")
	cmd.Flags().StringVarP(&tf.assignee, "assignee", "a", "", "assignee")
	cmd.Flags().StringVarP(&tf.priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVar(&tf.due, "due", "", "due date YYYY-MM-DD, empty to clear")
}

func (tf *taskFlags) patch(cmd *cobra.Command) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	changed := cmd.Flags().Changed
	if changed("title") {
		p.Title = &tf.title
	}
	if changed("description") {
		p.Description = &tf.description
	}
	if changed("assignee") {
		p.Assignee = &tf.assignee
	}
	if changed("priority") {
		pr, err := domain.ParsePriority(tf.priority)
		if err != nil {
			return p, err
		}
		p.Priority = &pr
	}
	if changed("due") {
		d, err := domain.ParseDate(tf.due)
		if err != nil {
			return p, err
		}
		p.DueDate = &d
	}
	return p, nil
}

func addTaskCmd(c *cli) *cobra.Command {
	tf := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "add-task <board-id> <column-id> <title>",
		Short: "Add a task at the end of a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := tf.patch(cmd)
			if err != nil {
				return err
			}
			nt := domain.NewTask{
				Title:       args[2],
				Description: p.Description,
				Assignee:    p.Assignee,
				Priority:    p.Priority,
			}
			if p.DueDate != nil && !p.DueDate.IsZero() {
				nt.DueDate = p.DueDate
			}

			ctx, cancel := c.context(cmd)
			defer cancel()
			v, err := c.open(ctx, args[0])
			if err != nil {
				return err
			}
			t, err := v.CreateTask(ctx, args[1], nt).Wait()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created task %s\n", taskLine(t))
			return nil
		},
	}
	tf.register(cmd, false)
	return cmd
}

func editTaskCmd(c *cli) *cobra.Command {
	tf := &taskFlags{}
	cmd := &cobra.Command{
		Use:   "edit-task <board-id> <task-id>",
		Short: "Change task fields given as flags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := tf.patch(cmd)
			if err != nil {
				return err
			}
			return c.updateTask(cmd, args[0], args[1], p)
		},
	}
	tf.register(cmd, true)
	return cmd
}

func moveTaskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "move-task <board-id> <task-id> <column-id>",
		Short: "Move a task to the end of another column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.updateTask(cmd, args[0], args[1], domain.TaskPatch{ColumnID: &args[2]})
		},
	}
}

func (c *cli) updateTask(cmd *cobra.Command, boardID, taskID string, p domain.TaskPatch) error {
	ctx, cancel := c.context(cmd)
	defer cancel()
	v, err := c.open(ctx, boardID)
	if err != nil {
		return err
	}
	t, err := v.UpdateTask(ctx, taskID, p).Wait()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "updated task %s in column %s\n", taskLine(t), t.ColumnID)
	return nil
}

func parseFilter(priorities, assignees []string, dueBefore string) (domain.TaskFilter, error) {
	var f domain.TaskFilter
	for _, raw := range priorities {
		p, err := domain.ParsePriority(raw)
		if err != nil {
			return f, err
		}
		f.Priorities = append(f.Priorities, p)
	}
	f.Assignees = assignees
	if dueBefore != "" {
		d, err := domain.ParseDate(dueBefore)
		if err != nil {
			return f, err
		}
		f.DueBefore = &d
	}
	return f, nil
}
