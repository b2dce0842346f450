// Journal hook inspired by github.com/wercker/journalhook (MIT license)
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	logrus "github.com/sirupsen/logrus"
)

type JournalHook struct{}

var (
	severityMap = map[logrus.Level]journal.Priority{
		logrus.DebugLevel: journal.PriDebug,
		logrus.InfoLevel:  journal.PriInfo,
		logrus.WarnLevel:  journal.PriWarning,
		logrus.ErrorLevel: journal.PriErr,
		logrus.FatalLevel: journal.PriCrit,
		logrus.PanicLevel: journal.PriEmerg,
	}
)

func stringifyOp(r rune) rune {
	switch {
	case r >= 'A' && r <= 'Z':
		return r
	case r >= '0' && r <= '9':
		return r
	case r == '_':
		return r
	case r >= 'a' && r <= 'z':
		return r - 32
	default:
		return rune('_')
	}
}

func stringifyKey(key string) string {
	key = strings.Map(stringifyOp, key)
	key = strings.TrimPrefix(key, "_")
	return key
}

// Journal wants strings but logrus takes anything.
func stringifyEntries(data map[string]interface{}) map[string]string {
	entries := make(map[string]string)
	for k, v := range data {
		key := stringifyKey(k)
		entries[key] = fmt.Sprint(v)
	}
	return entries
}

func (hook *JournalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, severityMap[entry.Level], stringifyEntries(entry.Data))
}

func (hook *JournalHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
		logrus.DebugLevel,
	}
}

// LogConfig describes where an invocation logs to.
type LogConfig struct {
	// Directory for the per-invocation log file.
	Dir string

	// Command is the invocation mode, it names the log file.
	Command string

	// JSON switches the file formatter to logrus.JSONFormatter.
	JSON bool

	// Level is a logrus level name, empty means info.
	Level string
}

// LogFileName returns the name of the log file for an invocation mode,
// e.g. "install-low-level-dump-env.log".
func LogFileName(command string) string {
	return fmt.Sprintf("install-low-level-%s.log", command)
}

// SetupLogging points the logger at the per-invocation log file and the
// journal. Stdout stays untouched, in session mode it carries the protocol.
// The returned file is nil when the log directory could not be used; the
// logger then falls back to stderr.
func SetupLogging(logger *logrus.Logger, cfg LogConfig) (*os.File, error) {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("unknown log level %q: %w", cfg.Level, err)
		}
	}
	logger.SetLevel(level)

	if cfg.JSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger.AddHook(&BuildHook{})
	if journal.Enabled() {
		logger.AddHook(&JournalHook{})
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		logger.SetOutput(os.Stderr)
		return nil, fmt.Errorf("cannot create log directory %s: %w", cfg.Dir, err)
	}

	path := filepath.Join(cfg.Dir, LogFileName(cfg.Command))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.SetOutput(os.Stderr)
		return nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}
	logger.SetOutput(file)

	return file, nil
}
