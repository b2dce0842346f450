package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentrylogrus "github.com/getsentry/sentry-go/logrus"
	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/envstore"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/protocol"
	"github.com/osinstall/osinstall/internal/session"
	"github.com/osinstall/osinstall/internal/sysprobe"
)

const defaultConfigFile = "/etc/osinstall/backend.toml"

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s <command> [options]

Commands:
  dump-env       probe the environment and publish the snapshot documents
  start-session  speak the installation protocol on stdin/stdout
  help           show this help

Options:
`, os.Args[0])
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

// splitCommand peels the leading command word off the argument list. The
// command comes first on the command line, flags follow it, but flags-only
// invocations like --help still work.
func splitCommand(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}

func run() int {
	command, args := splitCommand(os.Args[1:])

	var (
		testMode   bool
		jsonLog    bool
		configFile string
	)
	flag.BoolVar(&testMode, "test-mode", false, "use the fixture environment and dry-run every command, under ./testdir")
	flag.BoolVar(&testMode, "t", false, "shorthand for --test-mode")
	flag.BoolVar(&jsonLog, "json", false, "write the log as JSON")
	flag.StringVar(&configFile, "config", defaultConfigFile, "driver configuration file")
	flag.Usage = func() { usage(os.Stderr) }
	_ = flag.CommandLine.Parse(args)

	if command == "" {
		command = flag.Arg(0)
	}
	switch command {
	case "help":
		usage(os.Stdout)
		return 0
	case "dump-env", "start-session":
	case "":
		usage(os.Stderr)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		usage(os.Stderr)
		return 1
	}

	config, err := parseConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config file %q: %v\n", configFile, err)
		return 1
	}
	if testMode {
		config.RuntimeDir = filepath.Join("testdir", "run")
		config.LogDir = filepath.Join("testdir", "log")
		config.TargetDir = filepath.Join("testdir", "target")
	}

	logger := logrus.StandardLogger()
	logFile, err := common.SetupLogging(logger, common.LogConfig{
		Dir:     config.LogDir,
		Command: command,
		JSON:    jsonLog,
		Level:   config.LogLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if dsn := sentryDSN(config); dsn != "" {
		hook, err := sentrylogrus.New(
			[]logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
			sentry.ClientOptions{Dsn: dsn, Release: common.Version},
		)
		if err != nil {
			logger.Warnf("cannot set up sentry reporting: %v", err)
		} else {
			logger.AddHook(hook)
			defer hook.Flush(2 * time.Second)
		}
	}

	log := logrus.NewEntry(logger).WithField("command", command)
	log.Infof("install backend %s starting", common.Version)

	ctx := context.Background()
	store := envstore.New(config.RuntimeDir, 0644)

	switch command {
	case "dump-env":
		return runDumpEnv(ctx, store, config, testMode, log)
	default:
		return runStartSession(ctx, store, config, testMode, log)
	}
}

// sentryDSN resolves the error reporting target. The config file wins over
// the conventional environment variable; empty means reporting stays off.
func sentryDSN(config *driverConfig) string {
	if config.Sentry != nil && config.Sentry.DSN != "" {
		return config.Sentry.DSN
	}
	return os.Getenv("SENTRY_DSN")
}

func probes(config *driverConfig, testMode bool, log *logrus.Entry) envstore.Probes {
	if testMode {
		return envstore.FixtureProbes(environment.Fixture())
	}
	prober := &sysprobe.Prober{
		Locations: environment.Locations{
			ISO: config.IsoDir,
			Lib: config.LibDir,
			Run: config.RuntimeDir,
			Log: config.LogDir,
		},
		Runner: &install.HostRunner{Log: log},
		Log:    log,
	}
	return prober.Probes()
}

func runDumpEnv(ctx context.Context, store *envstore.Store, config *driverConfig, testMode bool, log *logrus.Entry) int {
	snapshot, err := store.Dump(ctx, probes(config, testMode, log))
	if err != nil {
		log.Errorf("environment dump failed: %v", err)
		fmt.Fprintf(os.Stderr, "dump-env: %v\n", err)
		return 1
	}

	log.Infof("published snapshot of %d disks and %d interfaces to %s",
		len(snapshot.Runtime.Disks), len(snapshot.Runtime.Network.Interfaces), config.RuntimeDir)
	return 0
}

func runStartSession(ctx context.Context, store *envstore.Store, config *driverConfig, testMode bool, log *logrus.Entry) int {
	env, runner, seed, err := sessionEnvironment(ctx, store, config, testMode, log)
	if err != nil {
		log.Errorf("cannot assemble the environment: %v", err)
		fmt.Fprintf(os.Stderr, "start-session: %v\n", err)
		return 1
	}

	sess := session.New(session.Options{
		Env:       env,
		Runner:    runner,
		TargetDir: config.TargetDir,
		LogPath:   filepath.Join(config.LogDir, common.LogFileName("start-session")),
		Seed:      seed,
		Log:       log,
	})
	return sess.Run(ctx, protocol.NewCodec(os.Stdin, os.Stdout))
}

// sessionEnvironment hands the session its snapshot and runner. Live mode
// prefers the documents dump-env published; when they are missing the
// session probes (and publishes) itself.
func sessionEnvironment(ctx context.Context, store *envstore.Store, config *driverConfig, testMode bool, log *logrus.Entry) (*environment.Snapshot, install.Runner, int64, error) {
	if testMode {
		return environment.Fixture(), &install.DryRunner{Log: log}, 0, nil
	}

	snapshot, ok, err := store.ReadSnapshot()
	if err != nil {
		return nil, nil, 0, err
	}
	if !ok {
		log.Info("no published snapshot found, probing now")
		snapshot, err = store.Dump(ctx, probes(config, testMode, log))
		if err != nil {
			return nil, nil, 0, err
		}
	}
	return snapshot, &install.HostRunner{Log: log}, time.Now().UnixNano(), nil
}
