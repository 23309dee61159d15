package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// OperationResult describes the outcome of one engine call. It is built up
// during the call and must not be modified after it is returned.
type OperationResult struct {
	Success   bool
	Cancelled bool
	Message   string

	FilesProcessed       int
	FilesSkipped         int
	DirectoriesProcessed int
	DirectoriesSkipped   int
	BytesProcessed       int64

	// Errors holds one "item: reason" line per failed item, in the order
	// the failures happened.
	Errors  []string
	Elapsed time.Duration
}

func (r *OperationResult) addError(item string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", item, err))
}

// finish applies the lenient success rule: an operation succeeds when it
// processed something, or when everything it saw was skipped without a hard
// error.
func (r *OperationResult) finish(verb string, started time.Time) OperationResult {
	r.Elapsed = time.Since(started)
	processed := r.FilesProcessed + r.DirectoriesProcessed
	r.Success = !r.Cancelled && (processed > 0 || len(r.Errors) == 0)
	if r.Message == "" {
		r.Message = r.summary(verb)
	}
	return *r
}

func (r *OperationResult) summary(verb string) string {
	var sb strings.Builder
	if r.Cancelled {
		sb.WriteString("Cancelled: ")
	}
	fmt.Fprintf(&sb, "%s %d %s", verb, r.FilesProcessed, plural(r.FilesProcessed, "file", "files"))
	if r.DirectoriesProcessed > 0 {
		fmt.Fprintf(&sb, ", %d %s", r.DirectoriesProcessed, plural(r.DirectoriesProcessed, "directory", "directories"))
	}
	if r.BytesProcessed > 0 {
		fmt.Fprintf(&sb, " (%s)", humanize.IBytes(uint64(r.BytesProcessed)))
	}
	if skipped := r.FilesSkipped + r.DirectoriesSkipped; skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", skipped)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&sb, ", %d %s; first: %s", len(r.Errors), plural(len(r.Errors), "error", "errors"), r.Errors[0])
	}
	return sb.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func failed(started time.Time, err error) (OperationResult, error) {
	return OperationResult{
		Success: false,
		Message: err.Error(),
		Elapsed: time.Since(started),
	}, err
}

// Progress is one progress report of an engine call. Percent is relative to
// the whole call; the File* fields describe the file currently in flight.
type Progress struct {
	Percent         float64
	Message         string
	CurrentItem     string
	DestinationItem string

	BytesProcessed int64
	BytesTotal     int64

	FileBytesProcessed int64
	FileBytesTotal     int64

	ItemIndex int
	ItemCount int
}

// ProgressFunc receives progress reports. It must not block.
type ProgressFunc func(Progress)

// ProgressListener is a secondary progress observer attached to an Engine.
// It is invoked from the goroutine running the operation.
type ProgressListener interface {
	OnProgress(Progress)
}

// CollisionDecision is the answer of a collision handler.
type CollisionDecision int

const (
	Overwrite CollisionDecision = iota
	OverwriteAll
	Skip
	SkipAll
	Rename
	Cancel
)

func (d CollisionDecision) String() string {
	switch d {
	case Overwrite:
		return "overwrite"
	case OverwriteAll:
		return "overwrite-all"
	case Skip:
		return "skip"
	case SkipAll:
		return "skip-all"
	case Rename:
		return "rename"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("CollisionDecision(%d)", int(d))
	}
}

// sticky reports whether the decision applies to every later collision of
// the same engine call.
func (d CollisionDecision) sticky() bool {
	return d == OverwriteAll || d == SkipAll
}

// Conflict describes a destination path that already exists.
type Conflict struct {
	Source      string
	Destination string
	SourceInfo  FileSummary
	TargetInfo  FileSummary
}

// FileSummary is the subset of file metadata shown to whoever resolves a
// conflict.
type FileSummary struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Resolution is a collision decision plus the replacement file name used by
// the Rename decision.
type Resolution struct {
	Decision CollisionDecision
	NewName  string
}

// CollisionHandler resolves a destination conflict. It may block (for
// example waiting for the user) and is called zero or more times per call.
type CollisionHandler func(ctx context.Context, conflict Conflict) (Resolution, error)
