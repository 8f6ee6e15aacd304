// Command vsync keeps a document workspace under version control: local
// snapshots and branches, plus an optional git remote.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/versync/internal/config"
	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/daemon"
	"github.com/steveyegge/versync/internal/logging"
	"github.com/steveyegge/versync/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "vsync",
	Short: "Version control for document workspaces",
	Long: `vsync records snapshots of a workspace's documents, keeps local branches,
and synchronises the workspace with a git remote.

Run 'vsync serve' to keep the active workspace synchronised in the background
with a live dashboard, or use the other commands one at a time.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.ConfigureColor()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddGroup(
		&cobra.Group{ID: "workspace", Title: "Workspaces:"},
		&cobra.Group{ID: "history", Title: "Local history:"},
		&cobra.Group{ID: "git", Title: "Git remote:"},
		&cobra.Group{ID: "service", Title: "Service:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ~/.versync/config.toml)")
	flags.String("data-dir", "", "data directory")
	flags.StringP("workspace", "w", "", "workspace to operate on (default: active_workspace)")
	flags.BoolP("verbose", "v", false, "log at debug level")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
}

func initConfig() {
	viper.SetEnvPrefix("VSYNC")
	viper.AutomaticEnv()
}

// configPath resolves the config file: --config, VSYNC_CONFIG, then the
// default data directory.
func configPath() string {
	if p := viper.GetString("config"); p != "" {
		return p
	}
	dir := config.DefaultDataDir()
	if d := viper.GetString("data_dir"); d != "" {
		dir = d
	}
	return filepath.Join(dir, config.FileName)
}

// loadConfig reads the config file and applies flag and environment
// overrides on top.
func loadConfig() (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if viper.IsSet("data_dir") {
		cfg.DataDir = viper.GetString("data_dir")
	}
	if viper.IsSet("author") {
		cfg.Author = viper.GetString("author")
	}
	if viper.IsSet("resolver") {
		cfg.Resolver = viper.GetString("resolver")
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, path, cfg.Validate()
}

// openDaemon opens the components for a one-shot command. Logs stay quiet
// unless --verbose is given, and a remote resolver falls back to the
// terminal since no dashboard is serving.
func openDaemon() (*daemon.Daemon, *config.Config, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logCfg := cfg.Log
	logCfg.File = ""
	if !viper.GetBool("verbose") {
		logCfg.Level = "warn"
	}
	logger := logging.Setup(logCfg)

	var resolver conflict.Resolver
	if cfg.Resolver == config.ResolverRemote {
		resolver = conflict.Cancel
		if ui.IsTerminal() {
			resolver = ui.NewTerminalResolver()
		}
	}

	d, err := daemon.Open(path, cfg, daemon.Options{Resolver: resolver, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return d, cfg, nil
}

// targetWorkspace is --workspace, else the configured active workspace.
func targetWorkspace(cfg *config.Config) string {
	if ws := viper.GetString("workspace"); ws != "" {
		return ws
	}
	return cfg.ActiveWorkspace
}

var errNoWorkspace = errors.New("no workspace selected: pass --workspace or run 'vsync workspace activate'")

// withWorkspace opens the daemon, activates the target workspace and runs
// fn against the coordinator.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, c *coordinator.Coordinator) error) error {
	d, cfg, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Stop()

	ctx := cmd.Context()
	ws := targetWorkspace(cfg)
	if ws == "" {
		return errNoWorkspace
	}
	if err := d.Activate(ctx, ws); err != nil {
		return err
	}
	return fn(ctx, d.Coordinator())
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dataDirOverride is --data-dir or VSYNC_DATA_DIR.
func dataDirOverride() string {
	return viper.GetString("data_dir")
}
