package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/steveyegge/versync/internal/config"
	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/types"
	"github.com/steveyegge/versync/internal/ui"
)

var workspaceCmd = &cobra.Command{
	Use:     "workspace",
	Aliases: []string{"ws"},
	GroupID: "workspace",
	Short:   "Create, list, activate and remove workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, _, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Stop()

		project, _ := cmd.Flags().GetString("project")
		ws := &types.Workspace{
			ID:       types.NewID(types.TypeWorkspace),
			ParentID: project,
			Name:     args[0],
		}
		if _, err := d.DB().Insert(cmd.Context(), ws.Document()); err != nil {
			return err
		}
		fmt.Println(ws.ID)
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Stop()

		docs, err := d.DB().FindByType(cmd.Context(), types.TypeWorkspace)
		if err != nil {
			return err
		}
		rows := make([]ui.WorkspaceRow, 0, len(docs))
		for _, doc := range docs {
			rows = append(rows, ui.WorkspaceRow{
				ID:     doc.ID,
				Name:   doc.String("name"),
				Active: doc.ID == cfg.ActiveWorkspace,
			})
		}
		ui.RenderWorkspaces(os.Stdout, rows)
		return nil
	},
}

var workspaceActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Make a workspace the active one",
	Long: `Record the workspace as active_workspace in the config file. A running
'vsync serve' picks the change up and rebuilds its version-control state.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, err := openDaemon()
		if err != nil {
			return err
		}
		if err := d.Activate(cmd.Context(), args[0]); err != nil {
			_ = d.Stop()
			return err
		}
		status := d.Coordinator().Status()
		if err := d.Stop(); err != nil {
			return err
		}

		cfg.ActiveWorkspace = args[0]
		if err := config.Save(configPath(), cfg); err != nil {
			return err
		}
		ui.RenderStatus(os.Stdout, status)
		return nil
	},
}

var workspaceRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a workspace, its documents and its local history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Stop()

		ctx := cmd.Context()
		if err := d.DB().Remove(ctx, args[0]); err != nil {
			return err
		}
		// The coordinator purges local history when it sees the removal.
		d.Coordinator().Wait()

		if cfg.ActiveWorkspace == args[0] {
			cfg.ActiveWorkspace = ""
			if err := config.Save(configPath(), cfg); err != nil {
				return err
			}
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var repoCmd = &cobra.Command{
	Use:     "repo",
	GroupID: "workspace",
	Short:   "Link or unlink the workspace's git remote",
}

var repoLinkCmd = &cobra.Command{
	Use:   "link <url>",
	Short: "Associate the workspace with a git remote",
	Long: `Associate the workspace with a git remote. With --clone the remote is
cloned; otherwise the existing local repository is opened, or an empty one
is created.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		username, _ := f.GetString("username")
		token, _ := f.GetString("token")
		if token == "" {
			token = os.Getenv("VSYNC_GIT_TOKEN")
		}
		name, _ := f.GetString("author-name")
		email, _ := f.GetString("author-email")
		clone, _ := f.GetBool("clone")

		repo := &types.GitRepository{
			URI:            args[0],
			Credentials:    types.Credentials{Username: username, Token: token},
			Author:         types.Author{Name: name, Email: email},
			NeedsFullClone: clone,
		}
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			linked, err := c.LinkRepository(ctx, c.ActiveWorkspace(), repo)
			if err != nil {
				return err
			}
			c.Wait()
			fmt.Printf("Linked %s (%s)\n", linked.URI, linked.ID)
			ui.RenderStatus(os.Stdout, c.Status())
			return nil
		})
	},
}

var repoUnlinkCmd = &cobra.Command{
	Use:   "unlink",
	Short: "Remove the workspace's git remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, c *coordinator.Coordinator) error {
			if err := c.UnlinkRepository(ctx, c.ActiveWorkspace()); err != nil {
				return err
			}
			c.Wait()
			fmt.Println("Unlinked")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "workspace",
	Short:   "Show the workspace's version-control status",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cfg, err := openDaemon()
		if err != nil {
			return err
		}
		defer d.Stop()

		c := d.Coordinator()
		var (
			mu    sync.Mutex
			notes []coordinator.Notification
		)
		cancel := c.OnNotify(func(n coordinator.Notification) {
			mu.Lock()
			notes = append(notes, n)
			mu.Unlock()
		})
		defer cancel()

		if ws := targetWorkspace(cfg); ws != "" {
			if err := d.Activate(cmd.Context(), ws); err != nil {
				return err
			}
		}
		ui.RenderStatus(os.Stdout, c.Status())
		mu.Lock()
		defer mu.Unlock()
		for _, n := range notes {
			ui.RenderNotification(os.Stdout, n)
		}
		return nil
	},
}

func init() {
	workspaceCreateCmd.Flags().String("project", "", "owning project id")
	workspaceCmd.AddCommand(workspaceCreateCmd, workspaceListCmd, workspaceActivateCmd, workspaceRemoveCmd)

	f := repoLinkCmd.Flags()
	f.String("username", "", "remote username")
	f.String("token", "", "remote access token (or VSYNC_GIT_TOKEN)")
	f.String("author-name", "", "commit author name")
	f.String("author-email", "", "commit author email")
	f.Bool("clone", false, "clone the remote on the next reinitialization")
	repoCmd.AddCommand(repoLinkCmd, repoUnlinkCmd)

	rootCmd.AddCommand(workspaceCmd, repoCmd, statusCmd)
}
