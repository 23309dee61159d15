// Package config loads gofm settings from defaults, an optional config file
// and GOFM_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GOFM_JOBS_MAX.
const EnvPrefix = "GOFM"

const (
	KeyMaxJobs          = "jobs.max"
	KeyProgressInterval = "jobs.progressInterval"
	KeyBufferSize       = "transfer.bufferSize"
	KeyVerifyChecksum   = "transfer.verifyChecksum"
	KeyPreserveOwner    = "transfer.preserveOwner"
	KeyCompareTolerance = "compare.tolerance"
	KeyJournalPath      = "journal.path"
	KeyJournalKeep      = "journal.keep"
	KeyMetricsTextfile  = "metrics.textfile"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"
)

// Config is the resolved configuration of one gofm invocation.
type Config struct {
	MaxJobs          int
	ProgressInterval time.Duration

	BufferSize     int
	VerifyChecksum bool
	PreserveOwner  bool

	CompareTolerance time.Duration

	// JournalPath enables the job history journal when non-empty.
	JournalPath string
	// JournalKeep is how many finished records the journal retains; zero
	// keeps everything.
	JournalKeep int

	// MetricsTextfile, when set, receives the job metrics in the prometheus
	// text format when the command exits.
	MetricsTextfile string

	LogLevel string
	LogFile  string
}

// NewViper returns a viper instance carrying the defaults and the
// environment binding. Callers may bind command line flags to it before
// calling LoadFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyMaxJobs, 4)
	v.SetDefault(KeyProgressInterval, 250*time.Millisecond)
	v.SetDefault(KeyBufferSize, "1MiB")
	v.SetDefault(KeyVerifyChecksum, false)
	v.SetDefault(KeyPreserveOwner, false)
	v.SetDefault(KeyCompareTolerance, 2*time.Second)
	v.SetDefault(KeyJournalPath, "")
	v.SetDefault(KeyJournalKeep, 1000)
	v.SetDefault(KeyMetricsTextfile, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path (if any) on top of the defaults.
func Load(path string) (*Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom resolves the configuration held by v, first merging the config
// file at path when path is non-empty.
func LoadFrom(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		log.WithField("file", v.ConfigFileUsed()).Debug("Loaded configuration file")
	}

	bufferSize, err := humanize.ParseBytes(v.GetString(KeyBufferSize))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", KeyBufferSize)
	}

	cfg := &Config{
		MaxJobs:          v.GetInt(KeyMaxJobs),
		ProgressInterval: v.GetDuration(KeyProgressInterval),
		BufferSize:       int(bufferSize),
		VerifyChecksum:   v.GetBool(KeyVerifyChecksum),
		PreserveOwner:    v.GetBool(KeyPreserveOwner),
		CompareTolerance: v.GetDuration(KeyCompareTolerance),
		JournalPath:      v.GetString(KeyJournalPath),
		JournalKeep:      v.GetInt(KeyJournalKeep),
		MetricsTextfile:  v.GetString(KeyMetricsTextfile),
		LogLevel:         v.GetString(KeyLogLevel),
		LogFile:          v.GetString(KeyLogFile),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxJobs < 1 {
		return errors.Errorf("%s must be at least 1, got %d", KeyMaxJobs, c.MaxJobs)
	}
	if c.BufferSize < 1 {
		return errors.Errorf("%s must be positive", KeyBufferSize)
	}
	if c.ProgressInterval < 0 {
		return errors.Errorf("%s must not be negative", KeyProgressInterval)
	}
	if c.JournalKeep < 0 {
		return errors.Errorf("%s must not be negative", KeyJournalKeep)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid %s", KeyLogLevel)
	}
	return nil
}
