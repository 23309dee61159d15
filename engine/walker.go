package engine

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// DefaultSizeReportInterval bounds how often CalculateDirectorySize reports
// progress when the caller does not choose an interval.
const DefaultSizeReportInterval = 200 * time.Millisecond

// DirSize is the accumulated size of a directory tree.
type DirSize struct {
	Bytes int64
	Files int
	Dirs  int
}

// CalculateDirectorySize walks path iteratively (stack-based) so very deep
// trees cannot overflow the goroutine stack. Entries that cannot be read are
// skipped. Progress is reported at most once per reportInterval, plus a final
// report. On cancellation the partial size is returned with ctx.Err().
func (e *Engine) CalculateDirectorySize(ctx context.Context, path string, progress ProgressFunc, reportInterval time.Duration) (DirSize, error) {
	if reportInterval <= 0 {
		reportInterval = DefaultSizeReportInterval
	}
	reporter := &rate.Sometimes{Interval: reportInterval}
	report := func(current string, size DirSize) {
		e.emit(progress, Progress{
			Message:        "Calculating size",
			CurrentItem:    current,
			BytesProcessed: size.Bytes,
			ItemIndex:      size.Files,
		})
	}

	size, err := e.walk(ctx, path, func(current string, size DirSize) {
		reporter.Do(func() { report(current, size) })
	})
	if err != nil {
		return size, err
	}
	report(path, size)
	return size, nil
}

// walk accumulates the size of path, calling onFile (if set) after each file.
func (e *Engine) walk(ctx context.Context, path string, onFile func(string, DirSize)) (DirSize, error) {
	var size DirSize

	stat, err := e.fs.Stat(ctx, path)
	if err != nil {
		return size, errors.Wrapf(err, "failed to stat %s", path)
	}

	// If the root itself is just a file, there is nothing to walk.
	if !stat.IsDir() {
		size.Bytes = stat.Size()
		size.Files = 1
		return size, nil
	}

	stack := []string{path}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return size, err
		}

		// Pop item
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := e.fs.List(ctx, current)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return size, ctxErr
			}
			continue
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return size, err
			}

			entryPath := filepath.Join(current, entry.Name())
			if entry.IsDir() {
				size.Dirs++
				stack = append(stack, entryPath)
				continue
			}

			size.Files++
			size.Bytes += entry.Size()
			if onFile != nil {
				onFile(entryPath, size)
			}
		}
	}

	return size, nil
}

// totalSize sums the sizes of sources without reporting progress.
// Unreadable sources contribute nothing; they fail later on their own.
func (e *Engine) totalSize(ctx context.Context, sources []string) int64 {
	var total int64
	for _, src := range sources {
		size, err := e.walk(ctx, src, nil)
		if err != nil {
			continue
		}
		total += size.Bytes
	}
	return total
}
