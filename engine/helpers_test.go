package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/franksops/gofm/provider"
)

// faultFs fails removals and opens of selected paths, standing in for
// locked or unreadable files regardless of the user running the tests.
// Paths in failRemoveOnce fail their first removal only.
type faultFs struct {
	afero.Fs

	mu             sync.Mutex
	failRemove     map[string]bool
	failRemoveOnce map[string]bool
	failOpen       map[string]bool
}

func newFaultFs() *faultFs {
	return &faultFs{
		Fs:             afero.NewOsFs(),
		failRemove:     make(map[string]bool),
		failRemoveOnce: make(map[string]bool),
		failOpen:       make(map[string]bool),
	}
}

func (f *faultFs) blocked(set map[string]bool, path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return set[filepath.Clean(path)]
}

func (f *faultFs) removeBlocked(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	path = filepath.Clean(path)
	if f.failRemoveOnce[path] {
		delete(f.failRemoveOnce, path)
		return true
	}
	return f.failRemove[path]
}

func (f *faultFs) Remove(name string) error {
	if f.removeBlocked(name) {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EBUSY}
	}
	return f.Fs.Remove(name)
}

func (f *faultFs) RemoveAll(path string) error {
	if f.removeBlocked(path) {
		return &os.PathError{Op: "unlinkat", Path: path, Err: syscall.EBUSY}
	}
	return f.Fs.RemoveAll(path)
}

func (f *faultFs) Open(name string) (afero.File, error) {
	if f.blocked(f.failOpen, name) {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EACCES}
	}
	return f.Fs.Open(name)
}

// otherVolume reports every pair of paths as living on different volumes,
// forcing Move onto its copy-then-delete path.
type otherVolume struct {
	*provider.LocalProvider
}

func (otherVolume) SameVolume(a, b string) bool { return false }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	return New(provider.NewLocalProvider(""), opts...), t.TempDir()
}

// writeTree creates files under root. Keys ending in "/" are directories.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if name[len(name)-1] == '/' {
			require.NoError(t, os.MkdirAll(path, 0755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// readTree returns every entry below root keyed by slash path. Directories
// map to "/".
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			tree[filepath.ToSlash(rel)+"/"] = "/"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// progressLog collects progress reports.
type progressLog struct {
	mu      sync.Mutex
	reports []Progress
}

func (p *progressLog) record(pr Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, pr)
}

func (p *progressLog) OnProgress(pr Progress) {
	p.record(pr)
}

func (p *progressLog) all() []Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Progress(nil), p.reports...)
}

func (p *progressLog) last() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.reports) == 0 {
		return Progress{}
	}
	return p.reports[len(p.reports)-1]
}

// collisionCounter answers every conflict with the same resolution.
type collisionCounter struct {
	mu        sync.Mutex
	answer    Resolution
	conflicts []Conflict
}

func (c *collisionCounter) handle(ctx context.Context, conflict Conflict) (Resolution, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conflicts = append(c.conflicts, conflict)
	return c.answer, nil
}

func (c *collisionCounter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conflicts)
}

var oldTime = time.Date(2020, 6, 15, 12, 30, 0, 0, time.UTC)
