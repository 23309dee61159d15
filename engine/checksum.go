package engine

import (
	"context"
	"hash"
	"hash/crc64"
	"io"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// ChecksumReader computes a CRC64 of everything read through it.
type ChecksumReader struct {
	r    io.Reader
	hash hash.Hash64
	n    int64
}

func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{r: r, hash: crc64.New(crcTable)}
}

func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.hash.Write(p[:n])
	}
	return n, err
}

// Checksum returns the CRC64 of the bytes read so far.
func (cr *ChecksumReader) Checksum() uint64 {
	return cr.hash.Sum64()
}

func (cr *ChecksumReader) BytesRead() int64 {
	return cr.n
}

// ChecksumWriter computes a CRC64 of everything written through it.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash64
	n    int64
}

func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc64.New(crcTable)}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.n += int64(n)
		cw.hash.Write(p[:n])
	}
	return n, err
}

// Checksum returns the CRC64 of the bytes written so far.
func (cw *ChecksumWriter) Checksum() uint64 {
	return cw.hash.Sum64()
}

func (cw *ChecksumWriter) BytesWritten() int64 {
	return cw.n
}

// FileChecksum returns the CRC64 and the length of the file at path.
func (e *Engine) FileChecksum(ctx context.Context, path string) (uint64, int64, error) {
	r, err := e.fs.OpenRead(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	buf := e.buffers.Get()
	defer e.buffers.Put(buf)

	cw := NewChecksumWriter(io.Discard)
	if _, err := e.stream(ctx, cw, r, *buf, nil); err != nil {
		return 0, 0, err
	}
	return cw.Checksum(), cw.BytesWritten(), nil
}
