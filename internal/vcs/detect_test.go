package vcs

import (
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// unreadableFS fails every directory listing.
type unreadableFS struct {
	billy.Filesystem
}

func (unreadableFS) ReadDir(string) ([]os.FileInfo, error) {
	return nil, errors.New("permission denied")
}

func TestDetectMetadata(t *testing.T) {
	fs := memfs.New()

	state, err := DetectMetadata(fs, MetadataDir)
	if err != nil || state != MetadataAbsent {
		t.Fatalf("missing dir: got %v, %v", state, err)
	}

	if err := fs.MkdirAll(MetadataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	state, err = DetectMetadata(fs, MetadataDir)
	if err != nil || state != MetadataAbsent {
		t.Fatalf("empty dir: got %v, %v", state, err)
	}

	if err := util.WriteFile(fs, MetadataDir+"/HEAD", []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	state, err = DetectMetadata(fs, MetadataDir)
	if err != nil || state != MetadataPresent {
		t.Fatalf("populated dir: got %v, %v", state, err)
	}
	if state.String() != "present" {
		t.Errorf("String() = %q", state.String())
	}
}

func TestDetectMetadataUnreadable(t *testing.T) {
	_, err := DetectMetadata(unreadableFS{memfs.New()}, MetadataDir)

	var corrupt *CorruptStateError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected *CorruptStateError, got %v", err)
	}
	if corrupt.MetadataDir != MetadataDir {
		t.Errorf("MetadataDir = %q", corrupt.MetadataDir)
	}
}
