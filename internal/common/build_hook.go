package common

import (
	"github.com/sirupsen/logrus"
)

// BuildHook stamps every log entry with the commit and build time of the
// running binary. Install logs get copied off the machine for support, so
// each line has to identify the build it came from.
type BuildHook struct {
}

func (h *BuildHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.DebugLevel,
		logrus.InfoLevel,
		logrus.WarnLevel,
		logrus.ErrorLevel,
		logrus.FatalLevel,
		logrus.PanicLevel,
	}
}

func (h *BuildHook) Fire(e *logrus.Entry) error {
	e.Data["build_commit"] = BuildCommit
	e.Data["build_time"] = BuildTime

	return nil
}
