package engine

import (
	"io"
)

// trackedWriter wraps an io.Writer and reports every successful write so the
// caller can publish chunk-level progress for large files.
type trackedWriter struct {
	io.Writer
	onWrite      func(n int64, written int64)
	bytesWritten int64
}

func newTrackedWriter(w io.Writer, onWrite func(n int64, written int64)) *trackedWriter {
	return &trackedWriter{
		Writer:  w,
		onWrite: onWrite,
	}
}

// Write implements io.Writer and reports progress.
func (tw *trackedWriter) Write(p []byte) (int, error) {
	n, err := tw.Writer.Write(p)
	if n > 0 {
		tw.bytesWritten += int64(n)
		if tw.onWrite != nil {
			tw.onWrite(int64(n), tw.bytesWritten)
		}
	}
	return n, err
}

// BytesWritten returns the total number of bytes written
func (tw *trackedWriter) BytesWritten() int64 {
	return tw.bytesWritten
}
