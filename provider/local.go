package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
	mode    os.FileMode
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

// uid/gid/mode methods so localFileInfo trivially satisfies UnixFileInfo on
// filesystems that expose no ownership (in-memory filesystems, Windows).
func (l *localFileInfo) UID() uint32       { return 0 }
func (l *localFileInfo) GID() uint32       { return 0 }
func (l *localFileInfo) Mode() os.FileMode { return l.mode }

// LocalProvider implements the Provider interface on top of an afero.Fs.
// The production filesystem is afero.NewOsFs; tests substitute in-memory or
// fault-injecting filesystems.
type LocalProvider struct {
	fs       afero.Fs
	basePath string
	mapper   *MetadataMapper
}

// NewLocalProvider creates a new LocalProvider over the OS filesystem rooted
// at basePath. If basePath is empty, it acts upon absolute or relative paths
// directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return NewFsProvider(afero.NewOsFs(), basePath)
}

// NewFsProvider creates a LocalProvider over an arbitrary afero filesystem.
func NewFsProvider(fs afero.Fs, basePath string) *LocalProvider {
	return &LocalProvider{
		fs:       fs,
		basePath: basePath,
	}
}

// WithMetadataMapper enables ownership carry-over using the given mapper.
func (p *LocalProvider) WithMetadataMapper(mapper *MetadataMapper) *LocalProvider {
	p.mapper = mapper
	return p
}

// Fs exposes the underlying filesystem.
func (p *LocalProvider) Fs() afero.Fs {
	return p.fs
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	info, err := p.fs.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return WrapOSFileInfo(info), nil
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(p.fs, p.resolve(path))
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, WrapOSFileInfo(entry))
	}
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return p.fs.Open(p.resolve(path))
}

func (p *LocalProvider) OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	fullPath := p.resolve(path)

	// Create parent directories if they don't exist
	if err := p.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}

	file, err := p.fs.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	return &localWriteCloser{
		File:     file,
		provider: p,
		fullPath: fullPath,
		metadata: metadata,
	}, nil
}

func (p *LocalProvider) Mkdir(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return p.fs.MkdirAll(p.resolve(path), 0755)
}

func (p *LocalProvider) Remove(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	fullPath := p.resolve(path)
	if _, err := p.fs.Stat(fullPath); err != nil {
		return err
	}
	return p.fs.RemoveAll(fullPath)
}

func (p *LocalProvider) Rename(ctx context.Context, oldpath, newpath string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return p.fs.Rename(p.resolve(oldpath), p.resolve(newpath))
}

func (p *LocalProvider) SetMetadata(ctx context.Context, path string, metadata FileInfo) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return applyMetadata(p.fs, p.resolve(path), metadata, p.mapper)
}

func (p *LocalProvider) MakeWritable(ctx context.Context, path string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return makeWritable(p.fs, p.resolve(path))
}

// SameVolume compares volume names case-insensitively and, where the
// filesystem exposes device numbers, the devices holding both paths. The
// second path may not exist yet; its nearest existing ancestor is used.
func (p *LocalProvider) SameVolume(a, b string) bool {
	a, b = p.resolve(a), p.resolve(b)
	if !strings.EqualFold(filepath.VolumeName(a), filepath.VolumeName(b)) {
		return false
	}

	devA, okA := p.device(a)
	devB, okB := p.device(b)
	if okA && okB {
		return devA == devB
	}
	return true
}

func (p *LocalProvider) device(path string) (uint64, bool) {
	for {
		info, err := p.fs.Stat(path)
		if err == nil {
			return deviceID(info)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return 0, false
		}
		path = parent
	}
}

// localWriteCloser wraps an afero.File and applies metadata (such as
// timestamps) upon close. This is necessary because writing to the file
// updates its mtime.
type localWriteCloser struct {
	afero.File
	provider *LocalProvider
	fullPath string
	metadata FileInfo
}

func (l *localWriteCloser) Close() error {
	if err := l.File.Close(); err != nil {
		return err
	}

	if l.metadata == nil {
		return nil
	}
	if err := applyMetadata(l.provider.fs, l.fullPath, l.metadata, l.provider.mapper); err != nil {
		return &MetadataError{Path: l.fullPath, Err: err}
	}
	return nil
}

// MetadataError reports that file content was written successfully but its
// timestamps, permissions, or ownership could not be carried over.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return "failed to apply metadata to " + e.Path + ": " + e.Err.Error()
}

func (e *MetadataError) Unwrap() error { return e.Err }

// IsMetadataError reports whether err only concerns metadata carry-over.
func IsMetadataError(err error) bool {
	var me *MetadataError
	return errors.As(err, &me)
}
