package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/steveyegge/versync/internal/vcs"
)

// InitFromClone replaces whatever metadata exists with a fresh clone of
// opts.URL and checks out its default branch. An empty remote yields an
// empty repository with the remote configured.
func (e *Engine) InitFromClone(ctx context.Context, opts vcs.CloneOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := clearDir(opts.FS, opts.MetadataDir); err != nil {
		return &vcs.CloneError{URL: opts.URL, Err: fmt.Errorf("failed to clear metadata: %w", err)}
	}

	storage, work, err := e.prepare(opts.FS, opts.WorkDir, opts.MetadataDir)
	if err != nil {
		return &vcs.CloneError{URL: opts.URL, Err: err}
	}

	e.creds = opts.Credentials
	e.log.Info("cloning repository", "url", opts.URL)
	repo, err := gogit.CloneContext(ctx, storage, work, &gogit.CloneOptions{
		URL:        opts.URL,
		Auth:       authFor(opts.URL, opts.Credentials),
		RemoteName: vcs.DefaultRemote,
	})
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		e.log.Info("remote is empty, initializing", "url", opts.URL)
		repo, storage, err = e.initEmpty(opts, work)
	}
	if err != nil {
		return &vcs.CloneError{URL: opts.URL, Err: err}
	}

	e.url = opts.URL
	e.attach(repo, storage, opts.FS, work)
	return nil
}

// initEmpty starts a repository with the remote configured but no history.
func (e *Engine) initEmpty(opts vcs.CloneOptions, work billy.Filesystem) (*gogit.Repository, *filesystem.Storage, error) {
	if err := clearDir(opts.FS, opts.MetadataDir); err != nil {
		return nil, nil, err
	}
	storage, err := newStorage(opts.FS, opts.MetadataDir)
	if err != nil {
		return nil, nil, err
	}
	repo, err := gogit.Init(storage, work)
	if err != nil {
		return nil, nil, err
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: vcs.DefaultRemote, URLs: []string{opts.URL}}); err != nil {
		return nil, nil, err
	}
	return repo, storage, nil
}

// InitExisting opens the repository in opts.MetadataDir, or initializes a
// fresh one when the directory is missing or empty.
func (e *Engine) InitExisting(ctx context.Context, opts vcs.InitOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := vcs.DetectMetadata(opts.FS, opts.MetadataDir)
	if err != nil {
		return err
	}

	storage, work, err := e.prepare(opts.FS, opts.WorkDir, opts.MetadataDir)
	if err != nil {
		return err
	}

	var repo *gogit.Repository
	if state == vcs.MetadataAbsent {
		e.log.Info("initializing repository", "metadata", opts.MetadataDir)
		repo, err = gogit.Init(storage, work)
		if err != nil {
			return fmt.Errorf("failed to init repository: %w", err)
		}
	} else {
		repo, err = gogit.Open(storage, work)
		if err != nil {
			return &vcs.CorruptStateError{MetadataDir: opts.MetadataDir, Err: err}
		}
		if _, err := repo.Storer.Reference(plumbing.HEAD); err != nil {
			return &vcs.CorruptStateError{MetadataDir: opts.MetadataDir, Err: err}
		}
	}

	if cfg, err := repo.Config(); err == nil {
		e.name, e.email = cfg.User.Name, cfg.User.Email
		if remote, ok := cfg.Remotes[vcs.DefaultRemote]; ok && len(remote.URLs) > 0 {
			e.url = remote.URLs[0]
		}
	}
	e.attach(repo, storage, opts.FS, work)
	return nil
}

func (e *Engine) prepare(fs billy.Filesystem, workDir, metadataDir string) (storage *filesystem.Storage, work billy.Filesystem, err error) {
	if err := fs.MkdirAll(metadataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}
	storage, err = newStorage(fs, metadataDir)
	if err != nil {
		return nil, nil, err
	}
	work, err = workTree(fs, workDir, metadataDir)
	if err != nil {
		return nil, nil, err
	}
	return storage, work, nil
}

// SetAuthor records the identity used for commits, in the engine and in the
// repository config.
func (e *Engine) SetAuthor(ctx context.Context, name, email string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return err
	}
	cfg, err := repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if cfg.User.Name == name && cfg.User.Email == email {
		e.name, e.email = name, email
		return nil
	}
	cfg.User.Name = name
	cfg.User.Email = email
	if err := repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to set author: %w", err)
	}
	e.name, e.email = name, email
	return nil
}

// AddRemote points the default remote at uri, replacing a different URL.
func (e *Engine) AddRemote(ctx context.Context, uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	repo, err := e.repository()
	if err != nil {
		return err
	}

	remote, err := repo.Remote(vcs.DefaultRemote)
	switch {
	case err == nil:
		urls := remote.Config().URLs
		if len(urls) == 1 && urls[0] == uri {
			e.url = uri
			return nil
		}
		if err := repo.DeleteRemote(vcs.DefaultRemote); err != nil {
			return fmt.Errorf("failed to replace remote: %w", err)
		}
	case !errors.Is(err, gogit.ErrRemoteNotFound):
		return fmt.Errorf("failed to read remote: %w", err)
	}

	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: vcs.DefaultRemote, URLs: []string{uri}}); err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}
	e.url = uri
	return nil
}

// clearDir removes the contents of dir but not dir itself, which may be a
// reserved segment of a routing filesystem.
func clearDir(fs billy.Filesystem, dir string) error {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, fi := range entries {
		if err := util.RemoveAll(fs, fs.Join(dir, fi.Name())); err != nil {
			return err
		}
	}
	return nil
}
