package engine

import (
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// NameMapper computes a new file name from an old one.
type NameMapper func(name string) string

// ParseRenamePattern compiles a rename pattern. Three forms are recognized,
// in this order:
//
//	s/<regexp>/<replacement>/   regular expression substitution ($1 expands groups)
//	tr/<from>/<to>/             rune-wise transliteration
//	anything else               literal replacement of pattern with replacement
//
// Inside the s/ and tr/ forms a slash is written as `\/`.
func ParseRenamePattern(pattern, replacement string) (NameMapper, error) {
	if body, ok := strings.CutPrefix(pattern, "s/"); ok {
		if fields, ok := splitPattern(body); ok && len(fields) == 2 {
			re, err := regexp.Compile(fields[0])
			if err != nil {
				return nil, errors.Wrapf(ErrInvalidPattern, "%s: %v", pattern, err)
			}
			repl := fields[1]
			return func(name string) string {
				return re.ReplaceAllString(name, repl)
			}, nil
		}
	}

	if body, ok := strings.CutPrefix(pattern, "tr/"); ok {
		if fields, ok := splitPattern(body); ok && len(fields) == 2 {
			return transliterator(fields[0], fields[1]), nil
		}
	}

	if pattern == "" {
		return nil, errors.Wrap(ErrInvalidPattern, "empty pattern")
	}
	return func(name string) string {
		return strings.ReplaceAll(name, pattern, replacement)
	}, nil
}

// splitPattern splits the slash-separated fields of an s/ or tr/ body. The
// body must end with an unescaped slash.
func splitPattern(body string) ([]string, bool) {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\\' && i+1 < len(body) && body[i+1] == '/' {
			cur.WriteByte('/')
			i++
			continue
		}
		if c == '/' {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	if cur.Len() > 0 {
		return nil, false
	}
	return fields, true
}

// transliterator maps each rune of from to the rune at the same index of
// to. Runes of from without a counterpart, and runes not in from, are kept.
func transliterator(from, to string) NameMapper {
	fromRunes, toRunes := []rune(from), []rune(to)
	table := make(map[rune]rune, len(fromRunes))
	for i, r := range fromRunes {
		if i >= len(toRunes) {
			break
		}
		if _, seen := table[r]; !seen {
			table[r] = toRunes[i]
		}
	}
	return func(name string) string {
		return strings.Map(func(r rune) rune {
			if mapped, ok := table[r]; ok {
				return mapped
			}
			return r
		}, name)
	}
}

// Rename applies pattern to the file name of every entry. Entries whose name
// does not change are skipped without error; an existing target is a
// per-entry failure.
func (e *Engine) Rename(ctx context.Context, entries []string, pattern, replacement string, progress ProgressFunc) (OperationResult, error) {
	started := time.Now()
	if len(entries) == 0 {
		return failed(started, ErrNoSources)
	}
	mapName, err := ParseRenamePattern(pattern, replacement)
	if err != nil {
		return failed(started, err)
	}

	var result OperationResult
	for i, entry := range entries {
		if cancelled(ctx) {
			result.Cancelled = true
			break
		}

		oldName := filepath.Base(entry)
		e.emit(progress, Progress{
			Percent:     percent(int64(i), int64(len(entries))),
			Message:     "Renaming " + oldName,
			CurrentItem: entry,
			ItemIndex:   i + 1,
			ItemCount:   len(entries),
		})

		newName := mapName(oldName)
		if newName == oldName {
			result.FilesSkipped++
			e.yield()
			continue
		}

		target := filepath.Join(filepath.Dir(entry), newName)
		if err := e.renameEntry(ctx, entry, target, newName); err != nil {
			result.addError(oldName, err)
			result.FilesSkipped++
		} else {
			result.FilesProcessed++
		}

		e.yield()
	}

	if !result.Cancelled {
		e.emit(progress, Progress{Percent: 100, Message: "Done", ItemIndex: len(entries), ItemCount: len(entries)})
	}
	return result.finish("Renamed", started), nil
}

func (e *Engine) renameEntry(ctx context.Context, entry, target, newName string) error {
	if newName == "" || newName == "." || newName == ".." || strings.ContainsRune(newName, filepath.Separator) {
		return errors.Errorf("invalid new name %q", newName)
	}
	if _, err := e.fs.Stat(ctx, entry); err != nil {
		return err
	}
	// A case-only change refers to the same file on case-insensitive
	// filesystems and is allowed through.
	if _, err := e.fs.Stat(ctx, target); err == nil && !strings.EqualFold(filepath.Base(entry), newName) {
		return errors.Errorf("%s already exists", newName)
	}
	return e.fs.Rename(ctx, entry, target)
}
