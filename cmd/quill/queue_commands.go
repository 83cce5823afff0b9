package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the task queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := ctx.loadQueueState()
			if err != nil {
				return err
			}
			tasks := state.Tasks
			if filter := strings.TrimSpace(stateFilter); filter != "" {
				filtered := tasks[:0:0]
				for _, task := range tasks {
					if string(task.State) == filter {
						filtered = append(filtered, task)
					}
				}
				tasks = filtered
			}

			out := cmd.OutOrStdout()
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks in queue")
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, task := range tasks {
				rows = append(rows, []string{
					shortID(task.ID),
					task.Type,
					string(task.State),
					fmt.Sprintf("%d/%d", task.Attempt, task.MaxAttempts),
					shortID(task.PipelineID),
					formatAge(task.CreatedAt),
					lastErrorText(task),
				})
			}
			fmt.Fprintln(out, renderTable([]column{
				{name: "ID"},
				{name: "TYPE"},
				{name: "STATE"},
				{name: "ATTEMPTS", right: true},
				{name: "PIPELINE"},
				{name: "AGE", right: true},
				{name: "LAST ERROR"},
			}, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Only show tasks in this state (pending, running, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := ctx.loadQueueState()
			if err != nil {
				return err
			}
			task := findTask(state.Tasks, args[0])
			if task == nil {
				return fmt.Errorf("no task matches %q", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:           %s\n", task.ID)
			fmt.Fprintf(out, "Type:         %s\n", task.Type)
			fmt.Fprintf(out, "State:        %s\n", task.State)
			fmt.Fprintf(out, "Resource:     %s\n", task.Resource)
			fmt.Fprintf(out, "Pipeline:     %s\n", task.PipelineID)
			fmt.Fprintf(out, "Attempts:     %d/%d\n", task.Attempt, task.MaxAttempts)
			fmt.Fprintf(out, "Cancel asked: %s\n", yesNo(task.CancelRequested))
			fmt.Fprintf(out, "Created:      %s\n", task.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:      %s\n", task.UpdatedAt.Format(time.RFC3339))
			if task.NotBefore != nil {
				fmt.Fprintf(out, "Not before:   %s\n", task.NotBefore.Format(time.RFC3339))
			}
			for _, taskErr := range task.Errors {
				fmt.Fprintf(out, "Error #%d:     [%s/%s] %s\n",
					taskErr.Attempt, taskErr.Kind, taskErr.Category, taskErr.Message)
			}
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed tasks from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.requireDaemonStopped(); err != nil {
				return err
			}
			state, err := ctx.loadQueueState()
			if err != nil {
				return err
			}

			kept := state.Tasks[:0:0]
			removed := 0
			for _, task := range state.Tasks {
				drop := false
				switch {
				case clearAll:
					drop = task.State.Terminal()
				case clearFailed:
					drop = task.State == queue.StateFailed
				default:
					drop = task.State == queue.StateCompleted || task.State == queue.StateCancelled
				}
				if drop {
					removed++
					continue
				}
				kept = append(kept, task)
			}
			state.Tasks = kept
			if err := ctx.saveQueueState(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", pluralTasks(removed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove failed tasks instead of completed ones")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every terminal task")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Reset failed tasks to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.requireDaemonStopped(); err != nil {
				return err
			}
			state, err := ctx.loadQueueState()
			if err != nil {
				return err
			}

			wanted := make(map[string]bool, len(args))
			for _, arg := range args {
				wanted[arg] = true
			}

			updated := 0
			for _, task := range state.Tasks {
				if task.State != queue.StateFailed {
					continue
				}
				if len(wanted) > 0 && !wanted[task.ID] && !wanted[shortID(task.ID)] {
					continue
				}
				task.State = queue.StatePending
				task.CancelRequested = false
				task.NotBefore = nil
				task.UpdatedAt = time.Now().UTC()
				updated++
			}
			if err := ctx.saveQueueState(state); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s to pending\n", pluralTasks(updated))
			return nil
		},
	}
}

func findTask(tasks []*queue.Task, ref string) *queue.Task {
	for _, task := range tasks {
		if task.ID == ref || shortID(task.ID) == ref {
			return task
		}
	}
	return nil
}

func lastErrorText(task *queue.Task) string {
	if len(task.Errors) == 0 {
		return ""
	}
	return truncateText(task.Errors[len(task.Errors)-1].Message, 48)
}

func pluralTasks(n int) string {
	if n == 1 {
		return "1 task"
	}
	return strconv.Itoa(n) + " tasks"
}
