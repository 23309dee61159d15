package engine

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCompareTolerance is the timestamp tolerance used when CompareFiles
// is given a non-positive one.
const DefaultCompareTolerance = 2 * time.Second

// Entry is one row of a directory listing as shown in a pane. CompareFiles
// sets Marked on entries that have a counterpart on the other side.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Marked  bool
}

// CompareCriteria selects how CompareFiles pairs entries.
type CompareCriteria int

const (
	CompareBySize CompareCriteria = iota
	CompareByTimestamp
	CompareByName
)

func (c CompareCriteria) String() string {
	switch c {
	case CompareBySize:
		return "size"
	case CompareByTimestamp:
		return "timestamp"
	case CompareByName:
		return "name"
	default:
		return fmt.Sprintf("CompareCriteria(%d)", int(c))
	}
}

// ParseCompareCriteria parses the names returned by CompareCriteria.String.
func ParseCompareCriteria(s string) (CompareCriteria, error) {
	switch strings.ToLower(s) {
	case "size":
		return CompareBySize, nil
	case "timestamp", "time", "date":
		return CompareByTimestamp, nil
	case "name":
		return CompareByName, nil
	}
	return 0, fmt.Errorf("unknown compare criteria %q", s)
}

// CompareFiles marks the entries of left and right that match under
// criteria. Previous marks are cleared first and directories are never
// marked. FilesProcessed of the result is the number of marked entries.
func CompareFiles(left, right []*Entry, criteria CompareCriteria, tolerance time.Duration) OperationResult {
	started := time.Now()
	if tolerance <= 0 {
		tolerance = DefaultCompareTolerance
	}
	for _, e := range left {
		e.Marked = false
	}
	for _, e := range right {
		e.Marked = false
	}

	switch criteria {
	case CompareBySize:
		markByKey(left, right, func(e *Entry) int64 { return e.Size })
	case CompareByName:
		markByKey(left, right, func(e *Entry) string { return strings.ToLower(e.Name) })
	case CompareByTimestamp:
		markByTime(left, right, tolerance)
	}

	var result OperationResult
	for _, e := range append(append([]*Entry(nil), left...), right...) {
		switch {
		case e.IsDir:
			result.DirectoriesSkipped++
		case e.Marked:
			result.FilesProcessed++
		default:
			result.FilesSkipped++
		}
	}
	result.finish("Marked", started)
	result.Message = fmt.Sprintf("Compared by %s: %d %s marked", criteria, result.FilesProcessed, plural(result.FilesProcessed, "file", "files"))
	result.Success = true
	return result
}

// markByKey indexes the right side by key and marks every pair sharing one.
func markByKey[K comparable](left, right []*Entry, key func(*Entry) K) {
	index := make(map[K][]*Entry, len(right))
	for _, r := range right {
		if r.IsDir {
			continue
		}
		index[key(r)] = append(index[key(r)], r)
	}
	for _, l := range left {
		if l.IsDir {
			continue
		}
		matches := index[key(l)]
		if len(matches) == 0 {
			continue
		}
		l.Marked = true
		for _, r := range matches {
			r.Marked = true
		}
	}
}

// markByTime marks each left entry together with the first right entry
// whose modification time lies within tolerance. A right entry may pair
// with several left entries.
func markByTime(left, right []*Entry, tolerance time.Duration) {
	for _, l := range left {
		if l.IsDir {
			continue
		}
		for _, r := range right {
			if r.IsDir {
				continue
			}
			if d := l.ModTime.Sub(r.ModTime).Abs(); d <= tolerance {
				l.Marked = true
				r.Marked = true
				break
			}
		}
	}
}
