package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// PartName returns the file name of the n-th (1-based) part of a split file.
func PartName(sourceName string, n int) string {
	return fmt.Sprintf("%s.%03d", sourceName, n)
}

// Split cuts sourceFile into sequential parts of partSize bytes written to
// outputDirectory as name.ext.001, name.ext.002, ... The last part holds the
// remainder; an empty source produces no parts.
func (e *Engine) Split(ctx context.Context, sourceFile string, partSize int64, outputDirectory string, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()
	if partSize <= 0 {
		return failed(started, ErrInvalidPartSize)
	}
	info, err := e.fs.Stat(ctx, sourceFile)
	if err != nil || info.IsDir() {
		return failed(started, errors.Wrap(ErrSourceNotFound, sourceFile))
	}
	if err := e.fs.Mkdir(ctx, outputDirectory); err != nil {
		return failed(started, errors.Wrapf(err, "failed to create %s", outputDirectory))
	}

	r, err := e.fs.OpenRead(ctx, sourceFile)
	if err != nil {
		return failed(started, errors.Wrapf(err, "failed to open %s", sourceFile))
	}
	defer r.Close()

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	var result OperationResult
	total := info.Size()
	parts := int((total + partSize - 1) / partSize)
	for i := 0; i < parts; i++ {
		if cancelled(ctx) {
			result.Cancelled = true
			break
		}

		partPath := filepath.Join(outputDirectory, PartName(filepath.Base(sourceFile), i+1))
		size := min(partSize, total-int64(i)*partSize)
		report := func(partDone int64) {
			e.emit(progress, Progress{
				Percent:            percent(result.BytesProcessed, total),
				Message:            fmt.Sprintf("Writing part %d of %d", i+1, parts),
				CurrentItem:        sourceFile,
				DestinationItem:    partPath,
				BytesProcessed:     result.BytesProcessed,
				BytesTotal:         total,
				FileBytesProcessed: partDone,
				FileBytesTotal:     size,
				ItemIndex:          i + 1,
				ItemCount:          parts,
			})
		}
		report(0)

		err := e.writeStream(ctx, partPath, func(w io.Writer) error {
			_, err := e.stream(ctx, w, io.LimitReader(r, size), *buf, func(n, done int64) {
				result.BytesProcessed += n
				report(done)
			})
			return err
		})
		if err != nil {
			if cancelled(ctx) {
				result.Cancelled = true
			} else {
				result.addError(filepath.Base(partPath), err)
				result.FilesSkipped++
			}
			break
		}
		result.FilesProcessed++
	}

	if !result.Cancelled && len(result.Errors) == 0 {
		e.emit(progress, Progress{Percent: 100, Message: "Done", BytesProcessed: total, BytesTotal: total, ItemIndex: parts, ItemCount: parts})
	}
	return strict(result.finish("Split into", started)), nil
}

// Join concatenates partFiles, sorted lexicographically, into outputFile.
// Callers name parts so that lexical order is the intended order. An empty
// list produces an empty output file.
func (e *Engine) Join(ctx context.Context, partFiles []string, outputFile string, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()

	var total int64
	for _, part := range partFiles {
		info, err := e.fs.Stat(ctx, part)
		if err != nil || info.IsDir() {
			return failed(started, errors.Wrap(ErrSourceNotFound, part))
		}
		total += info.Size()
	}

	sorted := slices.Clone(partFiles)
	slices.Sort(sorted)

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	var result OperationResult
	err := e.writeStream(ctx, outputFile, func(w io.Writer) error {
		for i, part := range sorted {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.appendPart(ctx, w, part, *buf, func(n, done int64) {
				result.BytesProcessed += n
				e.emit(progress, Progress{
					Percent:            percent(result.BytesProcessed, total),
					Message:            fmt.Sprintf("Joining part %d of %d", i+1, len(sorted)),
					CurrentItem:        part,
					DestinationItem:    outputFile,
					BytesProcessed:     result.BytesProcessed,
					BytesTotal:         total,
					FileBytesProcessed: done,
					ItemIndex:          i + 1,
					ItemCount:          len(sorted),
				})
			}); err != nil {
				return errors.Wrap(err, filepath.Base(part))
			}
			result.FilesProcessed++
		}
		return nil
	})
	if err != nil {
		if cancelled(ctx) {
			result.Cancelled = true
		} else {
			result.Errors = append(result.Errors, err.Error())
		}
	}

	if !result.Cancelled && len(result.Errors) == 0 {
		e.emit(progress, Progress{Percent: 100, Message: "Done", BytesProcessed: total, BytesTotal: total, ItemIndex: len(sorted), ItemCount: len(sorted)})
	}
	return strict(result.finish("Joined", started)), nil
}

func (e *Engine) appendPart(ctx context.Context, w io.Writer, part string, buf []byte, onChunk func(n, done int64)) error {
	r, err := e.fs.OpenRead(ctx, part)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = e.stream(ctx, w, r, buf, onChunk)
	return err
}

// writeStream opens path for writing, hands it to fill and closes it. The
// file is removed again if fill or close fails.
func (e *Engine) writeStream(ctx context.Context, path string, fill func(io.Writer) error) error {
	w, err := e.fs.OpenWrite(ctx, path, nil)
	if err != nil {
		return err
	}

	err = fill(w)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := e.fs.Remove(context.WithoutCancel(ctx), path); rmErr != nil {
			e.log.Debugf("Failed to remove incomplete %s: %v", path, rmErr)
		}
	}
	return err
}

// stream copies src to dst through buf, checking ctx before every chunk and
// reporting each written chunk.
func (e *Engine) stream(ctx context.Context, dst io.Writer, src io.Reader, buf []byte, onChunk func(n, done int64)) (int64, error) {
	tw := newTrackedWriter(dst, onChunk)
	for {
		if err := ctx.Err(); err != nil {
			return tw.BytesWritten(), err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := tw.Write(buf[:n]); err != nil {
				return tw.BytesWritten(), err
			}
		}
		if readErr == io.EOF {
			return tw.BytesWritten(), nil
		}
		if readErr != nil {
			return tw.BytesWritten(), readErr
		}
	}
}

// strict turns the lenient success rule into an all-or-nothing one for
// operations whose output is useless when any piece is missing.
func strict(r OperationResult) OperationResult {
	if len(r.Errors) > 0 {
		r.Success = false
	}
	return r
}
