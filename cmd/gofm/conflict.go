package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/franksops/gofm/engine"
)

// collisionPolicy maps the --on-conflict value to a collision handler that
// answers without asking.
func collisionPolicy(policy string) (engine.CollisionHandler, error) {
	switch strings.ToLower(policy) {
	case "skip", "":
		return fixedDecision(engine.SkipAll), nil
	case "overwrite":
		return fixedDecision(engine.OverwriteAll), nil
	case "rename":
		return renameToFree, nil
	}
	return nil, errors.Errorf("unknown collision policy %q (want skip, overwrite or rename)", policy)
}

func fixedDecision(d engine.CollisionDecision) engine.CollisionHandler {
	return func(ctx context.Context, conflict engine.Conflict) (engine.Resolution, error) {
		return engine.Resolution{Decision: d}, nil
	}
}

func renameToFree(ctx context.Context, conflict engine.Conflict) (engine.Resolution, error) {
	name, err := freeName(conflict.Destination)
	if err != nil {
		return engine.Resolution{}, err
	}
	return engine.Resolution{Decision: engine.Rename, NewName: name}, nil
}

// freeName returns the first "name (n).ext" next to path that does not exist.
func freeName(path string) (string, error) {
	dir, base := filepath.Split(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}
	for n := 1; n < 10000; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Lstat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", errors.Errorf("no free name for %s", path)
}
