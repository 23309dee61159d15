package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/franksops/gofm/provider"
)

// ErrChecksumMismatch is recorded when a verified copy reads back different
// bytes than were read from the source.
var ErrChecksumMismatch = errors.New("checksum mismatch after copy")

type verdict int

const (
	proceed verdict = iota
	skip
	stop
)

// transfer carries the state of a single Copy or Move call: the sticky
// collision decision, the running counters and the progress totals. It never
// outlives the call that created it.
type transfer struct {
	e        *Engine
	ctx      context.Context
	handler  CollisionHandler
	progress ProgressFunc
	log      *log.Entry

	sticky *Resolution
	halt   bool
	// partial is set when a cross-volume move stopped between copying an
	// item and deleting its source.
	partial bool

	result     OperationResult
	bytesTotal int64
	bytesDone  int64
	itemIndex  int
	itemCount  int
}

func (e *Engine) newTransfer(ctx context.Context, op string, sources []string, handler CollisionHandler, progress ProgressFunc) *transfer {
	return &transfer{
		e:          e,
		ctx:        ctx,
		handler:    handler,
		progress:   progress,
		log:        e.log.WithField("operation", op),
		bytesTotal: e.totalSize(ctx, sources),
		itemCount:  len(sources),
	}
}

// Copy copies sources into the existing directory destination. Directories
// are copied recursively, files before subdirectories. A failing item is
// recorded and skipped; the remaining items are still copied.
func (e *Engine) Copy(ctx context.Context, sources []string, destination string, handler CollisionHandler, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()
	if err := e.checkTransferSetup(ctx, sources, destination); err != nil {
		return failed(started, err)
	}

	t := e.newTransfer(ctx, "copy", sources, handler, progress)
	for i, src := range sources {
		if t.halted() {
			break
		}
		t.itemIndex = i + 1
		t.copyItem(src, filepath.Join(destination, filepath.Base(src)))
	}

	t.done()
	return t.result.finish("Copied", started), nil
}

func (e *Engine) checkTransferSetup(ctx context.Context, sources []string, destination string) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	info, err := e.fs.Stat(ctx, destination)
	if err != nil || !info.IsDir() {
		return errors.Wrap(ErrDestinationNotFound, destination)
	}
	return nil
}

// halted reports whether the call must stop iterating, either because the
// context was cancelled or because the collision handler said Cancel.
func (t *transfer) halted() bool {
	if t.halt {
		return true
	}
	if cancelled(t.ctx) {
		t.halt = true
		t.result.Cancelled = true
	}
	return t.halt
}

func (t *transfer) done() {
	if t.result.Cancelled {
		return
	}
	t.e.emit(t.progress, Progress{
		Percent:        100,
		Message:        "Done",
		BytesProcessed: t.bytesDone,
		BytesTotal:     t.bytesTotal,
		ItemIndex:      t.itemCount,
		ItemCount:      t.itemCount,
	})
}

func (t *transfer) percent() float64 {
	if t.bytesTotal > 0 {
		return percent(t.bytesDone, t.bytesTotal)
	}
	return percent(int64(t.itemIndex), int64(t.itemCount))
}

func (t *transfer) report(verb, src, dst string, fileDone, fileTotal int64) {
	t.e.emit(t.progress, Progress{
		Percent:            t.percent(),
		Message:            verb + " " + filepath.Base(src),
		CurrentItem:        src,
		DestinationItem:    dst,
		BytesProcessed:     t.bytesDone,
		BytesTotal:         t.bytesTotal,
		FileBytesProcessed: fileDone,
		FileBytesTotal:     fileTotal,
		ItemIndex:          t.itemIndex,
		ItemCount:          t.itemCount,
	})
}

func (t *transfer) fail(item string, err error, isDir bool) {
	t.result.addError(filepath.Base(item), err)
	t.skipped(isDir)
}

func (t *transfer) skipped(isDir bool) {
	if isDir {
		t.result.DirectoriesSkipped++
	} else {
		t.result.FilesSkipped++
	}
}

// resolve checks dst for a conflict and applies the sticky decision or the
// collision handler. It returns the path to write to.
func (t *transfer) resolve(src, dst string, srcInfo provider.FileInfo) (string, verdict) {
	if filepath.Clean(src) == filepath.Clean(dst) {
		t.fail(src, errors.New("source and destination are the same"), srcInfo.IsDir())
		return "", skip
	}

	dstInfo, err := t.e.fs.Stat(t.ctx, dst)
	if err != nil {
		return dst, proceed
	}

	res, err := t.decide(Conflict{
		Source:      src,
		Destination: dst,
		SourceInfo:  summarize(srcInfo),
		TargetInfo:  summarize(dstInfo),
	})
	if err != nil {
		t.fail(src, errors.Wrap(err, "collision handler"), srcInfo.IsDir())
		return "", skip
	}

	switch res.Decision {
	case Overwrite, OverwriteAll:
		return dst, proceed
	case Rename:
		if res.NewName == "" || strings.ContainsRune(res.NewName, filepath.Separator) {
			t.fail(src, errors.Errorf("invalid new name %q", res.NewName), srcInfo.IsDir())
			return "", skip
		}
		return t.resolve(src, filepath.Join(filepath.Dir(dst), res.NewName), srcInfo)
	case Cancel:
		t.halt = true
		t.result.Cancelled = true
		return "", stop
	default:
		t.skipped(srcInfo.IsDir())
		return "", skip
	}
}

func (t *transfer) decide(conflict Conflict) (Resolution, error) {
	if t.sticky != nil {
		return *t.sticky, nil
	}
	if t.handler == nil {
		return Resolution{Decision: Skip}, nil
	}

	res, err := t.handler(t.ctx, conflict)
	if err != nil {
		return Resolution{}, err
	}
	if res.Decision.sticky() {
		t.sticky = &res
	}
	t.log.Debugf("Collision on %s resolved as %s", conflict.Destination, res.Decision)
	return res, nil
}

func summarize(info provider.FileInfo) FileSummary {
	return FileSummary{Size: info.Size(), ModTime: info.ModTime(), IsDir: info.IsDir()}
}

// copyItem copies one top-level source.
func (t *transfer) copyItem(src, dst string) {
	srcInfo, err := t.e.fs.Stat(t.ctx, src)
	if err != nil {
		t.fail(src, err, false)
		return
	}

	if !srcInfo.IsDir() {
		t.copyOneFile(src, dst, srcInfo, false)
		return
	}

	target, v := t.resolve(src, dst, srcInfo)
	if v != proceed {
		return
	}
	t.copyTree(src, target, srcInfo, false)
}

// copyOneFile resolves collisions for a single file and copies it. With
// deleteSource set the source is removed after a successful copy.
func (t *transfer) copyOneFile(src, dst string, srcInfo provider.FileInfo, deleteSource bool) {
	target, v := t.resolve(src, dst, srcInfo)
	if v == stop {
		return
	}
	if v == skip {
		t.bytesDone += srcInfo.Size()
		return
	}
	t.copyResolved(src, target, srcInfo, deleteSource)
}

// copyResolved copies src onto a target already cleared by collision
// resolution.
func (t *transfer) copyResolved(src, target string, srcInfo provider.FileInfo, deleteSource bool) {
	if err := t.copyFile(src, target, srcInfo); err != nil {
		if t.halted() {
			if deleteSource {
				t.partial = true
			}
			return
		}
		t.fail(src, err, false)
		return
	}

	if deleteSource {
		if err := t.e.fs.Remove(t.ctx, src); err != nil {
			t.partial = true
			t.fail(src, errors.Wrap(err, "copied but source could not be removed"), false)
			return
		}
	}
	t.result.FilesProcessed++
}

// copyTree copies the directory src into target. Existing directories are
// merged; nested files go through collision resolution.
func (t *transfer) copyTree(src, target string, srcInfo provider.FileInfo, deleteSource bool) {
	if isWithin(target, src) {
		t.fail(src, errors.New("cannot copy a directory into itself"), true)
		return
	}

	if existing, err := t.e.fs.Stat(t.ctx, target); err == nil && !existing.IsDir() {
		if err := t.e.fs.Remove(t.ctx, target); err != nil {
			t.fail(src, errors.Wrap(err, "failed to replace file with directory"), true)
			return
		}
	}
	if err := t.e.fs.Mkdir(t.ctx, target); err != nil {
		t.fail(src, err, true)
		return
	}

	entries, err := t.e.fs.List(t.ctx, src)
	if err != nil {
		t.fail(src, err, true)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if t.halted() {
			return
		}
		t.copyOneFile(filepath.Join(src, entry.Name()), filepath.Join(target, entry.Name()), entry, deleteSource)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if t.halted() {
			return
		}
		childSrc := filepath.Join(src, entry.Name())
		childDst := filepath.Join(target, entry.Name())
		if existing, err := t.e.fs.Stat(t.ctx, childDst); err == nil && !existing.IsDir() {
			t.fail(childSrc, errors.Errorf("%s exists and is not a directory", childDst), true)
			continue
		}
		t.copyTree(childSrc, childDst, entry, deleteSource)
	}

	if t.halted() {
		return
	}

	if err := t.e.fs.SetMetadata(t.ctx, target, srcInfo); err != nil {
		t.log.Warnf("Failed to carry over attributes of %s: %v", src, err)
	}
	if deleteSource {
		t.removeIfEmpty(src)
	}
	t.result.DirectoriesProcessed++
}

func (t *transfer) removeIfEmpty(dir string) {
	entries, err := t.e.fs.List(t.ctx, dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := t.e.fs.Remove(t.ctx, dir); err != nil {
		t.log.Warnf("Failed to remove moved directory %s: %v", dir, err)
	}
}

// copyFile streams src into dst chunk by chunk, checking for cancellation
// between chunks. A partially written destination is removed.
func (t *transfer) copyFile(src, dst string, srcInfo provider.FileInfo) (err error) {
	ctx := t.ctx

	if _, statErr := t.e.fs.Stat(ctx, dst); statErr == nil {
		if err := t.e.fs.MakeWritable(ctx, dst); err != nil {
			return errors.Wrap(err, "failed to make target writable")
		}
	}

	r, err := t.e.fs.OpenRead(ctx, src)
	if err != nil {
		return errors.Wrap(err, "failed to open source")
	}
	defer r.Close()

	w, err := t.e.fs.OpenWrite(ctx, dst, srcInfo)
	if err != nil {
		return errors.Wrap(err, "failed to open destination")
	}

	closed := false
	defer func() {
		if err == nil {
			return
		}
		if !closed {
			w.Close()
		}
		if rmErr := t.e.fs.Remove(context.WithoutCancel(ctx), dst); rmErr != nil && !os.IsNotExist(rmErr) {
			t.log.Warnf("Failed to remove partial file %s: %v", dst, rmErr)
		}
	}()

	var reader io.Reader = r
	var sourceSum *ChecksumReader
	if t.e.verify {
		sourceSum = NewChecksumReader(r)
		reader = sourceSum
	}

	fileTotal := srcInfo.Size()
	t.report("Copying", src, dst, 0, fileTotal)

	buf := t.e.buffers.Get()
	defer t.e.buffers.Put(buf)

	if _, err := t.e.stream(ctx, w, reader, *buf, func(n, fileDone int64) {
		t.bytesDone += n
		t.result.BytesProcessed += n
		t.report("Copying", src, dst, fileDone, fileTotal)
	}); err != nil {
		return err
	}

	closed = true
	if closeErr := w.Close(); closeErr != nil {
		if !provider.IsMetadataError(closeErr) {
			return errors.Wrap(closeErr, "failed to close destination")
		}
		t.log.Warnf("Failed to carry over attributes of %s: %v", src, closeErr)
	}

	if sourceSum != nil {
		written, _, sumErr := t.e.FileChecksum(ctx, dst)
		if sumErr != nil {
			return errors.Wrap(sumErr, "failed to verify destination")
		}
		if written != sourceSum.Checksum() {
			return ErrChecksumMismatch
		}
	}
	return nil
}

// isWithin reports whether path equals dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
