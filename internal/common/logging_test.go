package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringifyKey(t *testing.T) {
	assert.Equal(t, "OPERATION_ID", stringifyKey("operation_id"))
	assert.Equal(t, "STEP_NAME", stringifyKey("step name"))
	assert.Equal(t, "FOO", stringifyKey("_foo"))
	assert.Equal(t, "A1_B2", stringifyKey("a1-b2"))
}

func TestLogFileName(t *testing.T) {
	assert.Equal(t, "install-low-level-dump-env.log", LogFileName("dump-env"))
	assert.Equal(t, "install-low-level-start-session.log", LogFileName("start-session"))
}

func TestSetupLogging(t *testing.T) {
	dir := t.TempDir()

	logger := logrus.New()
	file, err := SetupLogging(logger, LogConfig{
		Dir:     filepath.Join(dir, "log"),
		Command: "dump-env",
		Level:   "debug",
	})
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()

	logger.Info("probing disks")

	content, err := os.ReadFile(filepath.Join(dir, "log", "install-low-level-dump-env.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "probing disks")
	assert.Contains(t, string(content), "build_commit")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	_, err = SetupLogging(logrus.New(), LogConfig{Dir: dir, Command: "x", Level: "nope"})
	assert.Error(t, err)
}
