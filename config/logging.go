package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging configures the standard logrus logger. See ConfigureLogger.
func SetupLogging(level, file string) (io.Closer, error) {
	return ConfigureLogger(log.StandardLogger(), level, file)
}

// ConfigureLogger sets the level of logger and, when file is non-empty,
// mirrors every entry at or above that level into file. The returned closer
// releases the file.
func ConfigureLogger(logger *log.Logger, level, file string) (io.Closer, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	logger.SetLevel(lvl)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if file == "" {
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory for %s", file)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open log file %s", file)
	}

	levels := make([]log.Level, 0, len(log.AllLevels))
	for _, l := range log.AllLevels {
		if l <= lvl {
			levels = append(levels, l)
		}
	}
	logger.AddHook(&writer.Hook{Writer: f, LogLevels: levels})
	return f, nil
}
