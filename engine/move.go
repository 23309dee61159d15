package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/franksops/gofm/provider"
)

const partialMoveNote = "; interrupted cross-volume move: a partial copy may remain at the destination, the source was left in place"

// Move moves sources into the existing directory destination. Within one
// volume each item is renamed atomically; across volumes it is copied and
// the source removed afterwards, which is not atomic.
func (e *Engine) Move(ctx context.Context, sources []string, destination string, handler CollisionHandler, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()
	if err := e.checkTransferSetup(ctx, sources, destination); err != nil {
		return failed(started, err)
	}

	t := e.newTransfer(ctx, "move", sources, handler, progress)
	for i, src := range sources {
		if t.halted() {
			break
		}
		t.itemIndex = i + 1
		t.moveItem(src, filepath.Join(destination, filepath.Base(src)))
	}

	t.done()
	result := t.result.finish("Moved", started)
	if t.partial {
		result.Message += partialMoveNote
	}
	return result, nil
}

func (t *transfer) moveItem(src, dst string) {
	srcInfo, err := t.e.fs.Stat(t.ctx, src)
	if err != nil {
		t.fail(src, err, false)
		return
	}

	target, v := t.resolve(src, dst, srcInfo)
	if v != proceed {
		if v == skip && !srcInfo.IsDir() {
			t.bytesDone += srcInfo.Size()
		}
		return
	}
	if srcInfo.IsDir() && isWithin(target, src) {
		t.fail(src, errors.New("cannot move a directory into itself"), true)
		return
	}

	if t.e.fs.SameVolume(src, filepath.Dir(target)) {
		err := t.renameItem(src, target, srcInfo)
		if err == nil {
			return
		}
		if !provider.IsCrossDevice(err) {
			t.fail(src, err, srcInfo.IsDir())
			return
		}
		t.log.Debugf("Rename of %s crossed devices, falling back to copy", src)
	}

	if srcInfo.IsDir() {
		t.copyTree(src, target, srcInfo, true)
		if t.halted() {
			t.partial = true
		}
		return
	}
	t.copyResolved(src, target, srcInfo, true)
}

// renameItem renames src onto target, which the collision protocol has
// already cleared for overwriting. An existing directory target is merged.
func (t *transfer) renameItem(src, target string, srcInfo provider.FileInfo) error {
	existing, err := t.e.fs.Stat(t.ctx, target)
	if err == nil {
		if existing.IsDir() && srcInfo.IsDir() {
			return t.mergeDir(src, target)
		}
		if err := t.e.fs.MakeWritable(t.ctx, target); err != nil {
			return errors.Wrap(err, "failed to make target writable")
		}
		if err := t.e.fs.Remove(t.ctx, target); err != nil {
			return errors.Wrap(err, "failed to remove existing target")
		}
	}

	// A directory is measured before it leaves src so its nested entries
	// are counted the same way a cross-volume copy counts them.
	size := DirSize{Bytes: srcInfo.Size(), Files: 1}
	if srcInfo.IsDir() {
		size, _ = t.e.walk(t.ctx, src, nil)
	}

	if err := t.e.fs.Rename(t.ctx, src, target); err != nil {
		return err
	}

	if srcInfo.IsDir() {
		t.result.DirectoriesProcessed += 1 + size.Dirs
	}
	t.result.FilesProcessed += size.Files
	t.result.BytesProcessed += size.Bytes
	t.bytesDone += size.Bytes
	t.report("Moving", src, target, size.Bytes, size.Bytes)
	return nil
}

// mergeDir moves the children of src into the existing directory target,
// then removes src if nothing was left behind.
func (t *transfer) mergeDir(src, target string) error {
	entries, err := t.e.fs.List(t.ctx, src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if t.halted() {
			return nil
		}
		childSrc := filepath.Join(src, entry.Name())
		childDst, v := t.resolveNested(childSrc, filepath.Join(target, entry.Name()), entry)
		if v == stop {
			return nil
		}
		if v == skip {
			continue
		}
		if err := t.renameItem(childSrc, childDst, entry); err != nil {
			t.fail(childSrc, err, entry.IsDir())
		}
	}

	if t.halted() {
		return nil
	}
	t.removeIfEmpty(src)
	t.result.DirectoriesProcessed++
	return nil
}

// resolveNested applies collision resolution to files and merges
// directories silently, matching the copy behavior for nested entries.
func (t *transfer) resolveNested(src, dst string, info provider.FileInfo) (string, verdict) {
	if info.IsDir() {
		if existing, err := t.e.fs.Stat(t.ctx, dst); err == nil && !existing.IsDir() {
			t.fail(src, errors.Errorf("%s exists and is not a directory", dst), true)
			return "", skip
		}
		return dst, proceed
	}
	target, v := t.resolve(src, dst, info)
	if v == skip {
		t.bytesDone += info.Size()
	}
	return target, v
}
