package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/ipc"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var path string
	var seed string

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Start a run that authors a new note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Create(ipc.CreateRequest{
				Title: strings.Join(args, " "),
				Path:  path,
				Seed:  seed,
			})
			if err != nil {
				return err
			}
			printRunStarted(cmd, resp.Pipeline)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Target path, overriding the slug derived from the title")
	cmd.Flags().StringVar(&seed, "seed", "", "Source material the model should work from")
	return cmd
}

func newAmendCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "amend <path> <instruction>",
		Short: "Start a run that rewrites an existing note",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Amend(ipc.AmendRequest{
				Path:        args[0],
				Instruction: strings.Join(args[1:], " "),
			})
			if err != nil {
				return err
			}
			printRunStarted(cmd, resp.Pipeline)
			return nil
		},
	}
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var instruction string

	cmd := &cobra.Command{
		Use:   "merge <target-path> <source-path>",
		Short: "Start a run that folds one note into another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Merge(ipc.MergeRequest{
				TargetPath:  args[0],
				SourcePath:  args[1],
				Instruction: instruction,
			})
			if err != nil {
				return err
			}
			printRunStarted(cmd, resp.Pipeline)
			return nil
		},
	}

	cmd.Flags().StringVarP(&instruction, "instruction", "m", "", "Guidance for how the notes should be combined")
	return cmd
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <path>",
		Short: "Start a run that checks a note for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Verify(ipc.VerifyRequest{Path: args[0]})
			if err != nil {
				return err
			}
			printRunStarted(cmd, resp.Pipeline)
			return nil
		},
	}
}

func newConfirmCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <pipeline-id>",
		Short: "Approve the review gate a run is parked at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Confirm(ipc.ConfirmRequest{PipelineID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %s run %s, now %s\n",
				resp.Pipeline.Kind, shortID(resp.Pipeline.ID), resp.Pipeline.Stage)
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <pipeline-id>",
		Short: "Abort a run and its queued tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.dialDaemon()
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Cancel(ipc.CancelRequest{PipelineID: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled run %s\n", shortID(resp.PipelineID))
			return nil
		},
	}
}

func printRunStarted(cmd *cobra.Command, p ipc.PipelineSummary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Started %s run %s (%s)\n", p.Kind, shortID(p.ID), p.Stage)
	if p.TargetPath != "" {
		fmt.Fprintf(out, "Target: %s\n", p.TargetPath)
	}
}
