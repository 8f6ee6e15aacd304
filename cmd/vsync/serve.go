package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/versync/internal/config"
	"github.com/steveyegge/versync/internal/daemon"
	"github.com/steveyegge/versync/internal/logging"
	"github.com/steveyegge/versync/internal/vcs"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "service",
	Short:   "Keep the active workspace synchronised and serve the dashboard",
	Long: `Run the versync service in the foreground.

The service activates the configured workspace, rebuilds its version-control
state whenever the workspace's repository association changes, and follows
edits to the config file, so 'vsync workspace activate' switches a running
service.

With the dashboard enabled, clients can connect to:
  ws://<addr>/ws          live changes, status and notifications
  http://<addr>/status    current status
  http://<addr>/conflicts pending merges (resolver = "remote")`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Dashboard.Addr = addr
		}
		if off, _ := cmd.Flags().GetBool("no-dashboard"); off {
			cfg.Dashboard.Enabled = false
		}

		logger := logging.Setup(cfg.Log)
		defer logging.Close()

		d, err := daemon.Open(path, cfg, daemon.Options{Logger: logger})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			select {
			case <-d.Ready():
				if s := d.Dashboard(); s != nil {
					fmt.Printf("Dashboard: http://%s\n", s.Addr())
				}
				fmt.Println("Press Ctrl+C to stop...")
			case <-ctx.Done():
			}
		}()

		return d.Start(ctx)
	},
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "service",
	Short:   "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		cfg := config.DefaultConfig()
		if d := dataDirOverride(); d != "" {
			cfg.DataDir = d
		}
		if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
			if !vcs.IsRegistered(vcs.Type(engine)) {
				return fmt.Errorf("unknown engine %q; available:\n%s", engine, engineList())
			}
			cfg.Engine = engine
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

// engineList renders the registered engines one per line.
func engineList() string {
	var b strings.Builder
	for _, e := range vcs.Engines() {
		fmt.Fprintf(&b, "  %-8s %s\n", e.Type, e.Description)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func init() {
	initCmd.Long = "Write a default config file.\n\nEngines:\n" + engineList()
	serveCmd.Flags().String("addr", "", "dashboard listen address (overrides config)")
	serveCmd.Flags().Bool("no-dashboard", false, "do not serve the dashboard")
	initCmd.Flags().Bool("force", false, "overwrite an existing config")
	initCmd.Flags().String("engine", "", "version-control engine to record in the config (default git)")
	rootCmd.AddCommand(serveCmd, initCmd)
}
