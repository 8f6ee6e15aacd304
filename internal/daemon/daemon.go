// Package daemon wires the document database, the local history store, the
// engine factory and the coordinator into one running service.
//
// The daemon:
//  1. Opens the database and history store under the data directory
//  2. Activates the configured workspace
//  3. Serves the dashboard feed and remote conflict resolution
//  4. Follows config file edits, switching workspace when it changes
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/steveyegge/versync/internal/config"
	"github.com/steveyegge/versync/internal/conflict"
	"github.com/steveyegge/versync/internal/coordinator"
	"github.com/steveyegge/versync/internal/dashboard"
	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/localvcs"
	"github.com/steveyegge/versync/internal/ui"
	"github.com/steveyegge/versync/internal/vcs"

	// Registers the git engine.
	_ "github.com/steveyegge/versync/internal/vcs/git"
)

// Options carries dependencies that tests or callers may substitute.
type Options struct {
	// Factory overrides the registry-backed engine factory.
	Factory coordinator.EngineFactory

	// Resolver overrides the resolver chosen by the config.
	Resolver conflict.Resolver

	Logger *slog.Logger
}

// Daemon owns every long-lived component.
type Daemon struct {
	configPath string
	logger     *slog.Logger

	cfgMu sync.Mutex
	cfg   *config.Config

	db          *docdb.DB
	store       *localvcs.Store
	coordinator *coordinator.Coordinator

	rendezvous *conflict.Rendezvous
	conflicts  *dashboard.Conflicts
	dashboard  *dashboard.Server
	feed       *dashboard.Handler
	watcher    *config.Watcher

	lock        *PIDLock
	unsubscribe func()
	ready       chan struct{}
	stopOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open builds the components without starting any background work.
// configPath may be empty when the config does not come from a file.
func Open(configPath string, cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "daemon")),
		ready:      make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	resolver := opts.Resolver
	if resolver == nil {
		resolver = d.resolver(cfg.Resolver)
	}

	db, err := docdb.Open(cfg.DatabasePath(), docdb.WithLogger(logger.With(slog.String("component", "docdb"))))
	if err != nil {
		return nil, err
	}
	d.db = db

	driver, err := localvcs.OpenFSDriver(cfg.HistoryDir())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	d.store = localvcs.NewStore(driver,
		localvcs.WithResolver(resolver),
		localvcs.WithLogger(logger.With(slog.String("component", "localvcs"))))

	factory := opts.Factory
	if factory == nil {
		factory = vcs.NewFactory(
			vcs.WithType(vcs.Type(cfg.Engine)),
			vcs.WithLogger(logger))
	}

	d.coordinator, err = coordinator.New(db, d.store, factory, resolver, &coordinator.Config{
		DataDir: cfg.DataDir,
		Author:  cfg.Author,
		Logger:  logger.With(slog.String("component", "coordinator")),
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) resolver(name string) conflict.Resolver {
	switch name {
	case config.ResolverOurs:
		return conflict.Choose(conflict.KeepOurs)
	case config.ResolverTheirs:
		return conflict.Choose(conflict.TakeTheirs)
	case config.ResolverCancel:
		return conflict.Cancel
	case config.ResolverRemote:
		d.rendezvous = conflict.NewRendezvous()
		d.conflicts = dashboard.NewConflicts(d.rendezvous, d.logger)
		return d.rendezvous
	default:
		if !ui.IsTerminal() {
			d.logger.Warn("no terminal for conflict prompts, merges with conflicts will be cancelled")
			return conflict.Cancel
		}
		return ui.NewTerminalResolver()
	}
}

// DB returns the document database.
func (d *Daemon) DB() *docdb.DB { return d.db }

// Coordinator returns the version-control coordinator.
func (d *Daemon) Coordinator() *coordinator.Coordinator { return d.coordinator }

// Config returns the config currently in effect.
func (d *Daemon) Config() *config.Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// Dashboard returns the dashboard server, or nil when disabled. Only valid
// once Ready is closed.
func (d *Daemon) Dashboard() *dashboard.Server { return d.dashboard }

// Ready is closed once Start has brought every component up.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Activate activates wsID and waits until both handles are rebuilt. It is
// meant for one-shot commands; the failure of a rebuild is reported through
// the coordinator status, not as an error here.
func (d *Daemon) Activate(ctx context.Context, wsID string) error {
	if wsID == "" {
		return coordinator.ErrNoActiveWorkspace
	}
	if err := d.coordinator.ActivateWorkspace(ctx, wsID); err != nil {
		return err
	}
	d.coordinator.Wait()
	return nil
}

// Start begins serving. It blocks until ctx is cancelled, then stops.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.Config()
	d.logger.Info("starting daemon", "data_dir", cfg.DataDir)

	lock, err := AcquirePIDLock(cfg.PIDPath())
	if err != nil {
		return errors.Join(err, d.Stop())
	}
	d.lock = lock

	if cfg.Dashboard.Enabled {
		d.dashboard = dashboard.NewServer(&dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			Status:    d.coordinator,
			Conflicts: d.conflicts,
			Logger:    d.logger,
		})
		if err := d.dashboard.Start(); err != nil {
			d.dashboard = nil
			return errors.Join(err, d.Stop())
		}
		d.feed = dashboard.NewHandler(d.dashboard, d.coordinator, d.logger)
		sub := d.db.Subscribe(d.feed.OnChanges)
		stopNotify := d.coordinator.OnNotify(d.onNotification)
		stopSwap := d.coordinator.Git().Subscribe(d.feed.OnEngineSwap)
		d.unsubscribe = func() {
			d.db.Unsubscribe(sub)
			stopNotify()
			stopSwap()
		}
	} else {
		d.unsubscribe = d.coordinator.OnNotify(d.onNotification)
	}

	if d.conflicts != nil {
		if d.dashboard != nil {
			d.conflicts.Attach(d.dashboard)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.conflicts.Run(d.ctx)
		}()
	}

	if cfg.ActiveWorkspace != "" {
		if err := d.coordinator.ActivateWorkspace(ctx, cfg.ActiveWorkspace); err != nil {
			d.logger.Warn("could not activate configured workspace", "workspace", cfg.ActiveWorkspace, "error", err)
		}
	}

	if d.configPath != "" {
		w, err := config.NewWatcher(d.configPath)
		if err != nil {
			return errors.Join(err, d.Stop())
		}
		if err := w.Start(); err != nil {
			return errors.Join(err, d.Stop())
		}
		d.watcher = w
		d.wg.Add(1)
		go d.followConfig()
	}
	close(d.ready)

	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case <-d.ctx.Done():
	}
	return d.Stop()
}

func (d *Daemon) onNotification(n coordinator.Notification) {
	level := slog.LevelInfo
	if n.Err != nil {
		level = slog.LevelWarn
	}
	d.logger.Log(d.ctx, level, n.Message, "handle", n.Handle, "workspace", n.WorkspaceID,
		"retryable", n.Retryable, "action_required", n.ActionRequired)
	if d.feed != nil {
		d.feed.OnNotification(n)
	}
}

// followConfig applies config edits. Only a changed active workspace takes
// effect without a restart.
func (d *Daemon) followConfig() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("ignoring config change", "error", err)
		case next, ok := <-d.watcher.Updates():
			if !ok {
				return
			}
			d.applyConfig(next)
		}
	}
}

func (d *Daemon) applyConfig(next *config.Config) {
	d.cfgMu.Lock()
	prev := d.cfg
	d.cfg = next
	d.cfgMu.Unlock()

	if next.ActiveWorkspace == prev.ActiveWorkspace {
		return
	}
	d.logger.Info("active workspace changed", "from", prev.ActiveWorkspace, "to", next.ActiveWorkspace)
	if next.ActiveWorkspace == "" {
		d.coordinator.Deactivate()
		return
	}
	if err := d.coordinator.ActivateWorkspace(d.ctx, next.ActiveWorkspace); err != nil {
		d.logger.Warn("could not activate workspace", "workspace", next.ActiveWorkspace, "error", err)
	}
}

// Stop shuts everything down. It is safe to call more than once.
func (d *Daemon) Stop() error {
	var errs []error
	d.stopOnce.Do(func() {
		d.logger.Info("stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if d.unsubscribe != nil {
			d.unsubscribe()
		}
		// Pending remote decisions are cancelled before the coordinator
		// waits for the merges holding them.
		d.wg.Wait()
		if err := d.coordinator.Close(); err != nil {
			errs = append(errs, err)
		}
		if d.dashboard != nil {
			if err := d.dashboard.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := d.db.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := d.lock.Release(); err != nil {
			errs = append(errs, err)
		}
		d.logger.Info("daemon stopped")
	})
	return errors.Join(errs...)
}
