package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummyFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (d *dummyFileInfo) Name() string       { return d.name }
func (d *dummyFileInfo) Size() int64        { return d.size }
func (d *dummyFileInfo) IsDir() bool        { return d.isDir }
func (d *dummyFileInfo) ModTime() time.Time { return d.modTime }

// noChtimesFs accepts content but refuses timestamp changes.
type noChtimesFs struct {
	afero.Fs
}

func (noChtimesFs) Chtimes(name string, atime, mtime time.Time) error {
	return &os.PathError{Op: "chtimes", Path: name, Err: syscall.EPERM}
}

func memProvider(t *testing.T, files map[string]string) *LocalProvider {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0644))
	}
	return NewFsProvider(fs, "/base")
}

func TestLocalProvider_Stat(t *testing.T) {
	p := memProvider(t, map[string]string{"/base/test-stat.txt": "hello stat"})

	info, err := p.Stat(context.Background(), "test-stat.txt")
	require.NoError(t, err)
	assert.Equal(t, "test-stat.txt", info.Name())
	assert.EqualValues(t, len("hello stat"), info.Size())
	assert.False(t, info.IsDir())

	_, err = p.Stat(context.Background(), "missing")
	assert.True(t, os.IsNotExist(err))
}

func TestLocalProvider_ListIsSorted(t *testing.T) {
	p := memProvider(t, map[string]string{
		"/base/subdir/c.txt": "c",
		"/base/subdir/a.txt": "a",
		"/base/subdir/b.txt": "b",
	})

	infos, err := p.List(context.Background(), "subdir")
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func TestLocalProvider_ReadWriteRoundTrip(t *testing.T) {
	p := memProvider(t, nil)
	ctx := context.Background()
	modTime := time.Date(2022, 1, 1, 12, 0, 0, 0, time.UTC)

	wc, err := p.OpenWrite(ctx, "nested/test-write.txt", &dummyFileInfo{name: "test-write.txt", modTime: modTime})
	require.NoError(t, err)
	_, err = wc.Write([]byte("hello write"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	rc, err := p.OpenRead(ctx, "nested/test-write.txt")
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello write", string(content))

	info, err := p.Stat(ctx, "nested/test-write.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(modTime))
}

func TestLocalProvider_OpenWriteTruncates(t *testing.T) {
	p := memProvider(t, map[string]string{"/base/f": "a much longer original"})

	wc, err := p.OpenWrite(context.Background(), "f", nil)
	require.NoError(t, err)
	_, err = wc.Write([]byte("short"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	data, err := afero.ReadFile(p.Fs(), "/base/f")
	require.NoError(t, err)
	assert.Equal(t, "short", string(data))
}

func TestLocalProvider_MetadataErrorOnClose(t *testing.T) {
	p := NewFsProvider(noChtimesFs{afero.NewMemMapFs()}, "")

	wc, err := p.OpenWrite(context.Background(), "/f", &dummyFileInfo{modTime: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	_, err = wc.Write([]byte("data"))
	require.NoError(t, err)

	err = wc.Close()
	require.Error(t, err)
	assert.True(t, IsMetadataError(err))
	assert.ErrorIs(t, err, syscall.EPERM)

	data, err := afero.ReadFile(p.Fs(), "/f")
	require.NoError(t, err)
	assert.Equal(t, "data", string(data), "content survives a metadata failure")
}

func TestLocalProvider_CancelledContext(t *testing.T) {
	p := memProvider(t, map[string]string{"/base/f": "x"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Stat(ctx, "f")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = p.OpenRead(ctx, "f")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, p.Remove(ctx, "f"), context.Canceled)

	exists, err := afero.Exists(p.Fs(), "/base/f")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalProvider_RemoveAndRename(t *testing.T) {
	p := memProvider(t, map[string]string{
		"/base/tree/a":     "a",
		"/base/tree/sub/b": "b",
		"/base/old":        "o",
	})
	ctx := context.Background()

	require.NoError(t, p.Remove(ctx, "tree"))
	exists, _ := afero.DirExists(p.Fs(), "/base/tree")
	assert.False(t, exists)
	assert.True(t, os.IsNotExist(p.Remove(ctx, "tree")))

	require.NoError(t, p.Rename(ctx, "old", "new"))
	data, err := afero.ReadFile(p.Fs(), "/base/new")
	require.NoError(t, err)
	assert.Equal(t, "o", string(data))
}

func TestLocalProvider_MakeWritable(t *testing.T) {
	p := memProvider(t, map[string]string{"/base/ro": "x"})
	require.NoError(t, p.Fs().Chmod("/base/ro", 0444))

	require.NoError(t, p.MakeWritable(context.Background(), "ro"))
	info, err := p.Fs().Stat("/base/ro")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestLocalProvider_SetMetadataRestoresMode(t *testing.T) {
	p := memProvider(t, map[string]string{"/base/f": "x"})
	modTime := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	src := NewUnixFileInfo(&dummyFileInfo{modTime: modTime}, 0, 0, 0444)

	require.NoError(t, p.SetMetadata(context.Background(), "f", src))
	info, err := p.Fs().Stat("/base/f")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(modTime))
}

func TestLocalProvider_SameVolume(t *testing.T) {
	dir := t.TempDir()
	p := NewLocalProvider("")

	assert.True(t, p.SameVolume(filepath.Join(dir, "a"), filepath.Join(dir, "not", "yet", "created")))
	assert.True(t, memProvider(t, nil).SameVolume("/x", "/y"), "filesystems without device numbers count as one volume")
}

func TestIsCrossDevice(t *testing.T) {
	assert.True(t, IsCrossDevice(&os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EXDEV}))
	assert.False(t, IsCrossDevice(os.ErrNotExist))
}
