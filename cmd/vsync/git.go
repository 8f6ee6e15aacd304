package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/ui"
)

var commitCmd = &cobra.Command{
	Use:     "commit",
	GroupID: "git",
	Short:   "Commit the workspace to its git repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		if message == "" {
			return fmt.Errorf("a commit message is required (-m)")
		}
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			hash, err := c.Commit(ctx, message)
			if err != nil {
				return err
			}
			fmt.Printf("Committed %s\n", hash)
			return nil
		})
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "git",
	Short:   "Fetch and merge the remote branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			return c.Pull(ctx)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:     "push",
	GroupID: "git",
	Short:   "Push the current branch to the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			return c.Push(ctx)
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:     "merge <ref>",
	GroupID: "git",
	Short:   "Merge a git ref into the current branch",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			return c.Merge(ctx, args[0])
		})
	},
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "git",
	Short:   "Show commits of the current git branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			commits, err := c.Log(ctx, limit)
			if err != nil {
				return err
			}
			if !since.IsZero() {
				commits = ui.FilterCommits(commits, since)
			}
			ui.RenderLog(os.Stdout, commits)
			return nil
		})
	},
}

func init() {
	commitCmd.Flags().StringP("message", "m", "", "commit message")
	logCmd.Flags().IntP("limit", "n", 20, "maximum number of commits")
	logCmd.Flags().String("since", "", `only newer commits, e.g. "yesterday" or "last monday"`)

	rootCmd.AddCommand(commitCmd, pullCmd, pushCmd, mergeCmd, logCmd)
}
