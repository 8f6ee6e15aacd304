package vcs

import (
	"os"

	"github.com/go-git/go-billy/v5"
)

// MetadataState describes what an engine finds in its metadata directory.
type MetadataState int

const (
	// MetadataAbsent means the directory is missing or empty: a fresh
	// repository may be initialized there.
	MetadataAbsent MetadataState = iota

	// MetadataPresent means the directory holds entries that must be opened.
	MetadataPresent
)

// String returns a human-readable representation of the state.
func (s MetadataState) String() string {
	if s == MetadataPresent {
		return "present"
	}
	return "absent"
}

// DetectMetadata inspects dir inside fs.
//
// Detection rules:
//  1. Missing directory: absent
//  2. Empty directory: absent
//  3. Any entry: present
//
// A directory that exists but cannot be listed is reported as a
// *CorruptStateError.
func DetectMetadata(fs billy.Filesystem, dir string) (MetadataState, error) {
	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return MetadataAbsent, nil
		}
		return MetadataAbsent, &CorruptStateError{MetadataDir: dir, Err: err}
	}
	if len(entries) == 0 {
		return MetadataAbsent, nil
	}
	return MetadataPresent, nil
}
