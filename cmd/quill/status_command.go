package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"quill/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue, and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			running, err := ctx.daemonRunning()
			if err != nil {
				return err
			}
			state, err := ctx.loadQueueState()
			if err != nil {
				return err
			}
			pipelines, err := ctx.loadPipelines()
			if err != nil {
				return err
			}

			if asJSON {
				counts := map[queue.State]int{}
				for _, task := range state.Tasks {
					counts[task.State]++
				}
				active := 0
				for _, p := range pipelines {
					if !p.Stage.Terminal() {
						active++
					}
				}
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(map[string]any{
					"daemon_running":   running,
					"queue_paused":     state.Paused,
					"tasks":            counts,
					"pipelines":        len(pipelines),
					"active_pipelines": active,
				})
			}

			for _, line := range renderSectionHeader("Quill Status", colorize) {
				fmt.Fprintln(out, line)
			}

			daemonKind := statusWarn
			daemonMsg := "stopped"
			if running {
				daemonKind = statusOK
				daemonMsg = "running"
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", daemonKind, daemonMsg, colorize))

			queueKind := statusOK
			queueMsg := "accepting work"
			if state.Paused {
				queueKind = statusWarn
				queueMsg = "paused"
			}
			fmt.Fprintln(out, renderStatusLine("Queue", queueKind, queueMsg, colorize))

			counts := map[queue.State]int{}
			for _, task := range state.Tasks {
				counts[task.State]++
			}
			fmt.Fprintln(out, renderStatusLine("Tasks", statusInfo, formatCounts(counts), colorize))

			active := 0
			failed := 0
			for _, p := range pipelines {
				switch {
				case !p.Stage.Terminal():
					active++
				case p.ErrorMessage != "":
					failed++
				}
			}
			fmt.Fprintln(out, renderStatusLine("Pipelines", statusInfo,
				fmt.Sprintf("%d total, %d active, %d failed", len(pipelines), active, failed), colorize))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func formatCounts(counts map[queue.State]int) string {
	if len(counts) == 0 {
		return "none"
	}
	states := make([]string, 0, len(counts))
	for state := range counts {
		states = append(states, string(state))
	}
	sort.Strings(states)
	parts := make([]string, 0, len(states))
	for _, state := range states {
		parts = append(parts, fmt.Sprintf("%d %s", counts[queue.State(state)], state))
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
