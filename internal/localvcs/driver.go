package localvcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrKeyNotFound is returned by Driver.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// Driver is the key/value storage beneath a Store. Keys are slash paths;
// List returns the immediate children of a key prefix.
type Driver interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Remove(ctx context.Context, key string) error
	RemoveAll(ctx context.Context, prefix string) error
}

// FSDriver stores each key as a file in a billy filesystem.
type FSDriver struct {
	fs billy.Filesystem
}

var _ Driver = (*FSDriver)(nil)

// NewFSDriver returns a driver over fs.
func NewFSDriver(fs billy.Filesystem) *FSDriver {
	return &FSDriver{fs: fs}
}

// OpenFSDriver returns a driver rooted at dir on the host filesystem,
// normally <dataDir>/version-control.
func OpenFSDriver(dir string) (*FSDriver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return NewFSDriver(osfs.New(dir)), nil
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func (d *FSDriver) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := util.ReadFile(d.fs, cleanKey(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return data, err
}

// Put writes value to a temporary file and renames it into place.
func (d *FSDriver) Put(ctx context.Context, key string, value []byte) error {
	key = cleanKey(key)
	dir := path.Dir(key)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := d.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		_ = d.fs.Remove(name)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = d.fs.Remove(name)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := d.fs.Rename(name, key); err != nil {
		_ = d.fs.Remove(name)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (d *FSDriver) Has(ctx context.Context, key string) (bool, error) {
	_, err := d.fs.Stat(cleanKey(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// List returns the sorted names directly under prefix. A missing prefix has
// no children.
func (d *FSDriver) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := d.fs.ReadDir(cleanKey(prefix))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), ".tmp-") {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (d *FSDriver) Remove(ctx context.Context, key string) error {
	err := d.fs.Remove(cleanKey(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// RemoveAll deletes prefix and everything under it. Missing prefixes are
// not an error.
func (d *FSDriver) RemoveAll(ctx context.Context, prefix string) error {
	return util.RemoveAll(d.fs, cleanKey(prefix))
}
