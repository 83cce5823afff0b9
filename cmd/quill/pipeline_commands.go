package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/pipeline"
)

func newPipelinesCommand(ctx *commandContext) *cobra.Command {
	pipelinesCmd := &cobra.Command{
		Use:   "pipelines",
		Short: "Inspect pipeline runs",
	}

	pipelinesCmd.AddCommand(newPipelinesListCommand(ctx))
	pipelinesCmd.AddCommand(newPipelinesShowCommand(ctx))

	return pipelinesCmd
}

func newPipelinesListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelines, err := ctx.loadPipelines()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if activeOnly {
				filtered := pipelines[:0:0]
				for _, p := range pipelines {
					if !p.Stage.Terminal() {
						filtered = append(filtered, p)
					}
				}
				pipelines = filtered
			}
			if asJSON {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(pipelines)
			}

			rows := make([][]string, 0, len(pipelines))
			for _, p := range pipelines {
				rows = append(rows, []string{
					shortID(p.ID),
					string(p.Kind),
					string(p.Stage),
					p.TargetPath,
					formatAge(p.UpdatedAt),
				})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No pipeline runs")
				return nil
			}
			fmt.Fprintln(out, renderTable([]column{
				{name: "ID"},
				{name: "KIND"},
				{name: "STAGE"},
				{name: "TARGET"},
				{name: "UPDATED", right: true},
			}, rows))
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show runs that have not finished")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newPipelinesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <pipeline-id>",
		Short: "Show one pipeline run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipelines, err := ctx.loadPipelines()
			if err != nil {
				return err
			}
			p := findPipeline(pipelines, args[0])
			if p == nil {
				return fmt.Errorf("no pipeline matches %q", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", p.ID)
			fmt.Fprintf(out, "Kind:        %s\n", p.Kind)
			fmt.Fprintf(out, "Stage:       %s\n", p.Stage)
			fmt.Fprintf(out, "Node:        %s\n", p.NodeID)
			if p.Title != "" {
				fmt.Fprintf(out, "Title:       %s\n", p.Title)
			}
			fmt.Fprintf(out, "Target:      %s\n", p.TargetPath)
			if p.SourcePath != "" {
				fmt.Fprintf(out, "Source:      %s\n", p.SourcePath)
			}
			if len(p.Tags) > 0 {
				fmt.Fprintf(out, "Tags:        %v\n", p.Tags)
			}
			if p.SnapshotID != 0 {
				fmt.Fprintf(out, "Snapshot:    %d\n", p.SnapshotID)
			}
			for _, dup := range p.Duplicates {
				fmt.Fprintf(out, "Duplicate:   %s (%.2f)\n", dup.NodeID, dup.Score)
			}
			if p.Verification != nil {
				fmt.Fprintf(out, "Verified:    %s\n", yesNo(p.Verification.Passed))
				for _, issue := range p.Verification.Issues {
					fmt.Fprintf(out, "Issue:       %s\n", issue)
				}
			}
			if p.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:       %s\n", p.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:     %s\n", p.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Updated:     %s\n", p.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func findPipeline(pipelines []*pipeline.Context, ref string) *pipeline.Context {
	for _, p := range pipelines {
		if p.ID == ref || shortID(p.ID) == ref {
			return p
		}
	}
	return nil
}
