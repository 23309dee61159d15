package engine

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/franksops/gofm/provider"
)

var (
	// ErrDestinationNotFound is returned when the target directory of a copy
	// or move does not exist.
	ErrDestinationNotFound = errors.New("destination directory does not exist")

	// ErrNoSources is returned when an operation is given nothing to do.
	ErrNoSources = errors.New("no source items")

	// ErrSourceNotFound is returned when a required input file is missing.
	ErrSourceNotFound = errors.New("source does not exist")

	// ErrInvalidPartSize is returned by Split for a non-positive part size.
	ErrInvalidPartSize = errors.New("part size must be greater than zero")

	// ErrInvalidPattern is returned by Rename for a malformed pattern.
	ErrInvalidPattern = errors.New("invalid rename pattern")
)

// Engine executes filesystem operations. It holds only configuration that
// is fixed at construction; all per-operation state lives in the call, so one
// Engine can serve any number of concurrent jobs.
type Engine struct {
	fs       provider.Provider
	buffers  *BufferPool
	listener ProgressListener
	verify   bool
	yield    func()
	log      *log.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithBufferSize sets the chunk size used for streaming file content.
func WithBufferSize(size int) Option {
	return func(e *Engine) {
		e.buffers = NewBufferPool(size)
	}
}

// WithProgressListener attaches a secondary listener that observes every
// progress report of every call.
func WithProgressListener(l ProgressListener) Option {
	return func(e *Engine) {
		e.listener = l
	}
}

// WithChecksumVerification makes Copy and Move compare a CRC64 of the bytes
// read against a CRC64 of the bytes written.
func WithChecksumVerification(verify bool) Option {
	return func(e *Engine) {
		e.verify = verify
	}
}

// WithYield replaces the pause taken between items of Delete and Rename.
func WithYield(yield func()) Option {
	return func(e *Engine) {
		e.yield = yield
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(entry *log.Entry) Option {
	return func(e *Engine) {
		e.log = entry
	}
}

// New creates an Engine working against fs.
func New(fs provider.Provider, opts ...Option) *Engine {
	e := &Engine{
		fs:      fs,
		buffers: NewBufferPool(DefaultBufferSize),
		yield:   runtime.Gosched,
		log:     log.WithField("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(progress ProgressFunc, p Progress) {
	if progress != nil {
		progress(p)
	}
	if e.listener != nil {
		e.listener.OnProgress(p)
	}
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func percent(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) * 100 / float64(total)
	if p > 100 {
		return 100
	}
	return p
}
