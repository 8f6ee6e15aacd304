package routefs

import (
	"io"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stores struct {
	appData  billy.Filesystem
	metadata billy.Filesystem
	other    billy.Filesystem
	fs       *FS
}

func newStores() *stores {
	s := &stores{
		appData:  memfs.New(),
		metadata: memfs.New(),
		other:    memfs.New(),
	}
	s.fs = New(s.other, map[string]billy.Filesystem{
		".insomnia": s.appData,
		"git":       s.metadata,
	})
	return s
}

func read(t *testing.T, fs billy.Basic, name string) string {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func listNames(t *testing.T, fs billy.Dir, dir string) []string {
	t.Helper()
	infos, err := fs.ReadDir(dir)
	require.NoError(t, err)
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out
}

func TestRouting_AppDataIsolatedFromCatchAll(t *testing.T) {
	s := newStores()

	require.NoError(t, util.WriteFile(s.fs, ".insomnia/x", []byte("app"), 0644))

	assert.Equal(t, "app", read(t, s.fs, ".insomnia/x"))
	assert.Equal(t, "app", read(t, s.appData, "x"), "segment is stripped before delegating")

	otherRoot := listNames(t, s.other, "")
	assert.NotContains(t, otherRoot, "x")
	assert.NotContains(t, otherRoot, ".insomnia")
	_, err := s.metadata.Stat("x")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRouting_OtherGoesToCatchAllOnly(t *testing.T) {
	s := newStores()

	require.NoError(t, util.WriteFile(s.fs, "other/x", []byte("plain"), 0644))

	assert.Equal(t, "plain", read(t, s.other, "other/x"), "catch-all receives the full path")
	_, err := s.appData.Stat("other/x")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = s.appData.Stat("x")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadDir_VirtualRootMergesSegmentsAndCatchAll(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.other, "README.md", []byte("hi"), 0644))
	require.NoError(t, util.WriteFile(s.other, "docs/a.md", []byte("a"), 0644))

	for _, root := range []string{"", "/", ".", "./"} {
		assert.Equal(t, []string{".insomnia", "git", "README.md", "docs"}, listNames(t, s.fs, root), "root %q", root)
	}

	infos, err := s.fs.ReadDir("")
	require.NoError(t, err)
	assert.True(t, infos[0].IsDir())
	assert.True(t, infos[1].IsDir())
}

func TestReadDir_EmptyCatchAll(t *testing.T) {
	s := newStores()
	assert.Equal(t, []string{".insomnia", "git"}, listNames(t, s.fs, ""))
}

func TestReadDir_InsideSegment(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, "git/objects/ab/cdef", []byte("obj"), 0644))
	require.NoError(t, util.WriteFile(s.fs, "git/HEAD", []byte("ref"), 0644))

	assert.ElementsMatch(t, []string{"HEAD", "objects"}, listNames(t, s.fs, "git"))
	assert.Equal(t, []string{"cdef"}, listNames(t, s.fs, "git/objects/ab"))
}

func TestStat(t *testing.T) {
	s := newStores()

	fi, err := s.fs.Stat("")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = s.fs.Stat("git")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
	assert.Equal(t, "git", fi.Name())

	require.NoError(t, util.WriteFile(s.fs, "git/config", []byte("[core]"), 0644))
	fi, err = s.fs.Stat("/git/config")
	require.NoError(t, err)
	assert.Equal(t, int64(6), fi.Size())

	_, err = s.fs.Stat("missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileNamesAreVirtual(t *testing.T) {
	s := newStores()

	f, err := s.fs.Create("git/objects/pack/p.idx")
	require.NoError(t, err)
	assert.Equal(t, "git/objects/pack/p.idx", f.Name())
	require.NoError(t, f.Close())

	tmp, err := s.fs.TempFile("git/objects/pack", "tmp_")
	require.NoError(t, err)
	assert.Regexp(t, `^git/objects/pack/tmp_`, tmp.Name())
	require.NoError(t, tmp.Close())

	// The temp file can be renamed using its reported name.
	require.NoError(t, s.fs.Rename(tmp.Name(), "git/objects/pack/final"))
	_, err = s.metadata.Stat("objects/pack/final")
	assert.NoError(t, err)
}

func TestRename_CrossStoreRejected(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, "git/a", []byte("a"), 0644))

	err := s.fs.Rename("git/a", "other/a")
	assert.ErrorIs(t, err, ErrCrossStore)

	require.NoError(t, s.fs.Rename("git/a", "git/b"))
	assert.Equal(t, "a", read(t, s.metadata, "b"))
}

func TestVirtualRootMutationsRejected(t *testing.T) {
	s := newStores()

	assert.ErrorIs(t, s.fs.Remove(""), ErrVirtualRoot)
	assert.ErrorIs(t, s.fs.Remove("git"), ErrVirtualRoot)
	_, err := s.fs.Open("")
	assert.ErrorIs(t, err, ErrVirtualRoot)
	_, err = s.fs.Create(".insomnia")
	assert.ErrorIs(t, err, ErrVirtualRoot)
	assert.NoError(t, s.fs.MkdirAll("", 0755))
}

func TestRemove(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, "git/a", []byte("a"), 0644))
	require.NoError(t, s.fs.Remove("git/a"))
	_, err := s.metadata.Stat("a")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChroot_MetadataSegment(t *testing.T) {
	s := newStores()

	gitDir, err := s.fs.Chroot("git")
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(gitDir, "refs/heads/master", []byte("abc"), 0644))

	assert.Equal(t, "abc", read(t, s.metadata, "refs/heads/master"))
	assert.Equal(t, "abc", read(t, s.fs, "git/refs/heads/master"))
}

func TestWalk_FansOutPerStore(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, ".insomnia/Request/req_1.yml", []byte("r"), 0644))
	require.NoError(t, util.WriteFile(s.fs, "git/HEAD", []byte("h"), 0644))
	require.NoError(t, util.WriteFile(s.fs, "notes.txt", []byte("n"), 0644))

	var visited []string
	err := s.fs.Walk("", func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"",
		".insomnia",
		".insomnia/Request",
		".insomnia/Request/req_1.yml",
		"git",
		"git/HEAD",
		"notes.txt",
	}, visited)
}

func TestWalk_SkipDir(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, "git/objects/ab/cd", []byte("o"), 0644))
	require.NoError(t, util.WriteFile(s.fs, "git/HEAD", []byte("h"), 0644))
	require.NoError(t, util.WriteFile(s.fs, ".insomnia/a", []byte("a"), 0644))

	var visited []string
	err := s.fs.Walk("", func(p string, info os.FileInfo, err error) error {
		if p == "git" {
			return SkipDir
		}
		visited = append(visited, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"", ".insomnia", ".insomnia/a"}, visited)
}

func TestWalk_InsideSegment(t *testing.T) {
	s := newStores()
	require.NoError(t, util.WriteFile(s.fs, "git/refs/heads/main", []byte("x"), 0644))

	var visited []string
	err := s.fs.Walk("git/refs", func(p string, info os.FileInfo, err error) error {
		visited = append(visited, p)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"git/refs", "git/refs/heads", "git/refs/heads/main"}, visited)
}

func TestJoin(t *testing.T) {
	s := newStores()
	assert.Equal(t, "git/objects", s.fs.Join("git", "objects"))
	assert.Equal(t, "/", s.fs.Root())
	assert.Equal(t, []string{".insomnia", "git"}, s.fs.Segments())
}
