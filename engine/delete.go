package engine

import (
	"context"
	"path/filepath"
	"time"
)

// Delete removes every entry, recursing into directories. Each entry is
// attempted on its own: a failure is recorded and the next entry is tried.
// Between entries the goroutine yields so cancellation is observed promptly
// even when every single removal is fast.
func (e *Engine) Delete(ctx context.Context, entries []string, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()
	if len(entries) == 0 {
		return failed(started, ErrNoSources)
	}

	logger := e.log.WithField("operation", "delete")
	var result OperationResult
	for i, entry := range entries {
		if cancelled(ctx) {
			result.Cancelled = true
			break
		}

		e.emit(progress, Progress{
			Percent:     percent(int64(i), int64(len(entries))),
			Message:     "Deleting " + filepath.Base(entry),
			CurrentItem: entry,
			ItemIndex:   i + 1,
			ItemCount:   len(entries),
		})

		isDir := false
		if info, err := e.fs.Stat(ctx, entry); err == nil {
			isDir = info.IsDir()
		}

		if err := e.deleteEntry(ctx, entry); err != nil {
			logger.Debugf("Failed to delete %s: %v", entry, err)
			result.addError(filepath.Base(entry), err)
			if isDir {
				result.DirectoriesSkipped++
			} else {
				result.FilesSkipped++
			}
		} else if isDir {
			result.DirectoriesProcessed++
		} else {
			result.FilesProcessed++
		}

		e.yield()
	}

	if !result.Cancelled {
		e.emit(progress, Progress{Percent: 100, Message: "Done", ItemIndex: len(entries), ItemCount: len(entries)})
	}
	return result.finish("Deleted", started), nil
}

// deleteEntry removes path, retrying once after clearing the read-only bit
// of the entry. The parent directory's permissions are left alone.
func (e *Engine) deleteEntry(ctx context.Context, path string) error {
	err := e.fs.Remove(ctx, path)
	if err == nil || cancelled(ctx) {
		return err
	}

	if e.fs.MakeWritable(ctx, path) != nil {
		return err
	}
	return e.fs.Remove(ctx, path)
}
