package docfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/versync/internal/docdb"
	"github.com/steveyegge/versync/internal/types"
)

func setup(t *testing.T) (*docdb.DB, *FS) {
	t.Helper()
	ctx := context.Background()

	db, err := docdb.Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ws := &types.Workspace{ID: "wrk_1", ParentID: "proj_1", Name: "API"}
	_, err = db.Insert(ctx, ws.Document())
	require.NoError(t, err)

	req := &types.Document{ID: "req_1", Type: types.TypeRequest, ParentID: "wrk_1"}
	req.Set("url", "https://example.com")
	_, err = db.Insert(ctx, req)
	require.NoError(t, err)

	_, err = db.Insert(ctx, &types.Document{ID: "req_other", Type: types.TypeRequest, ParentID: "wrk_2"})
	require.NoError(t, err)

	return db, New(ctx, db, "wrk_1")
}

func readAll(t *testing.T, fs *FS, name string) []byte {
	t.Helper()
	f, err := fs.Open(name)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func names(infos []os.FileInfo) []string {
	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.Name()
	}
	return out
}

func TestReadDir_ScopedToWorkspace(t *testing.T) {
	_, fs := setup(t)

	root, err := fs.ReadDir("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Request", "Workspace"}, names(root))
	for _, fi := range root {
		assert.True(t, fi.IsDir())
	}

	reqs, err := fs.ReadDir("Request")
	require.NoError(t, err)
	assert.Equal(t, []string{"req_1.yml"}, names(reqs), "documents of other workspaces stay hidden")
}

func TestOpen_RendersYAML(t *testing.T) {
	_, fs := setup(t)

	doc, err := Decode(readAll(t, fs, "Request/req_1.yml"))
	require.NoError(t, err)
	assert.Equal(t, "req_1", doc.ID)
	assert.Equal(t, "https://example.com", doc.String("url"))

	_, err = fs.Open("Request/req_other.yml")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWrite_UpsertsWithSyncOrigin(t *testing.T) {
	db, fs := setup(t)

	var got []docdb.ChangeRecord
	db.Subscribe(func(records []docdb.ChangeRecord) { got = append(got, records...) })

	doc := &types.Document{ID: "req_2", Type: types.TypeRequest, ParentID: "wrk_1"}
	doc.Set("method", "POST")
	data, err := Encode(doc)
	require.NoError(t, err)

	require.NoError(t, fs.MkdirAll("Request", 0755))
	require.NoError(t, util.WriteFile(fs, "Request/req_2.yml", data, 0644))

	stored, err := db.Get(context.Background(), "req_2")
	require.NoError(t, err)
	assert.Equal(t, "POST", stored.String("method"))

	require.Len(t, got, 1)
	assert.Equal(t, docdb.ChangeInsert, got[0].Kind)
	assert.True(t, got[0].FromSync)
}

func TestWrite_RejectsMismatchedPath(t *testing.T) {
	_, fs := setup(t)

	data, err := Encode(&types.Document{ID: "req_9", Type: types.TypeRequest, ParentID: "wrk_1"})
	require.NoError(t, err)

	err = util.WriteFile(fs, "Request/req_2.yml", data, 0644)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match its path")
}

func TestStat(t *testing.T) {
	_, fs := setup(t)

	fi, err := fs.Stat("")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = fs.Stat("Request")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	fi, err = fs.Stat("Request/req_1.yml")
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
	assert.Positive(t, fi.Size())

	_, err = fs.Stat("Environment")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, fs.MkdirAll("Environment", 0755))
	_, err = fs.Stat("Environment")
	assert.NoError(t, err)

	_, err = fs.Stat("a/b/c")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemove(t *testing.T) {
	db, fs := setup(t)

	require.NoError(t, fs.Remove("Request/req_1.yml"))
	_, err := db.Get(context.Background(), "req_1")
	assert.ErrorIs(t, err, docdb.ErrNotFound)

	assert.ErrorIs(t, fs.Remove("Request/req_1.yml"), os.ErrNotExist)
	assert.ErrorIs(t, fs.Remove("Request/req_other.yml"), os.ErrNotExist)
}

func TestUnsupportedOperations(t *testing.T) {
	_, fs := setup(t)

	_, err := fs.TempFile("Request", "tmp")
	assert.Error(t, err)
	assert.Error(t, fs.Rename("Request/req_1.yml", "Request/req_2.yml"))
	assert.Error(t, fs.Symlink("a", "b"))
	_, err = fs.Open("Request")
	assert.Error(t, err)
}

func TestFile_SeekAndReadAt(t *testing.T) {
	f := &file{name: "x", data: []byte("hello world")}

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	pos, err := f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, os.ErrPermission)

	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), os.ErrClosed)
}
