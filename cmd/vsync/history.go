package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/ui"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot",
	GroupID: "history",
	Short:   "Record the workspace's documents on the current branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			snap, err := c.Snapshot(ctx, message)
			if errors.Is(err, localvcs.ErrNoChanges) {
				fmt.Println("Nothing changed since the last snapshot")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s\n", snap.ID)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "history",
	Short:   "Show snapshots of the current branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		since, err := sinceFlag(cmd)
		if err != nil {
			return err
		}
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			snaps, err := c.History(ctx, limit)
			if err != nil {
				return err
			}
			if !since.IsZero() {
				snaps = ui.FilterSnapshots(snaps, since)
			}
			ui.RenderHistory(os.Stdout, snaps)
			return nil
		})
	},
}

var branchCmd = &cobra.Command{
	Use:     "branch",
	GroupID: "history",
	Short:   "Manage local branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			p := c.Local()
			if p == nil {
				return errors.New("local history unavailable")
			}
			current, err := p.CurrentBranch(ctx)
			if err != nil {
				return err
			}
			branches, err := p.Branches(ctx)
			if err != nil {
				return err
			}
			for _, b := range branches {
				marker := " "
				if b == current {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, b)
			}
			return nil
		})
	},
}

var branchForkCmd = &cobra.Command{
	Use:   "fork <name>",
	Short: "Create a branch at the tip of the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			return c.ForkBranch(ctx, args[0])
		})
	},
}

var branchCheckoutCmd = &cobra.Command{
	Use:   "checkout <name>",
	Short: "Switch branches and restore their documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			return c.CheckoutBranch(ctx, args[0])
		})
	},
}

var branchMergeCmd = &cobra.Command{
	Use:   "merge <name>",
	Short: "Merge a branch into the current one",
	Long: `Merge a branch into the current one. Conflicting documents are decided
by the configured resolver; cancelling leaves the workspace untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			snap, err := c.MergeBranch(ctx, args[0])
			if err != nil {
				return err
			}
			if snap != nil {
				fmt.Printf("Merged %s as %s\n", args[0], snap.ID)
			} else {
				fmt.Printf("Merged %s\n", args[0])
			}
			return nil
		})
	},
}

func sinceFlag(cmd *cobra.Command) (time.Time, error) {
	text, _ := cmd.Flags().GetString("since")
	if text == "" {
		return time.Time{}, nil
	}
	return ui.ParseSince(text, time.Now())
}

func init() {
	snapshotCmd.Flags().StringP("message", "m", "", "snapshot message")
	historyCmd.Flags().IntP("limit", "n", 20, "maximum number of snapshots")
	historyCmd.Flags().String("since", "", `only newer snapshots, e.g. "yesterday" or "3 days ago"`)

	branchCmd.AddCommand(branchForkCmd, branchCheckoutCmd, branchMergeCmd)
	rootCmd.AddCommand(snapshotCmd, historyCmd, branchCmd)
}
