package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/answer/fetch"
	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/envstore"
	"github.com/osinstall/osinstall/internal/install"
	"github.com/osinstall/osinstall/internal/sysprobe"
)

func usage(w io.Writer) {
	fmt.Fprintf(w, `Usage: %s [options] [iso|partition|http [url [cert-fingerprint]]]

Retrieves the answer file for an unattended installation and prints it on
stdout. Without a mode argument the mode comes from %s on the
installation medium.

Options:
`, os.Args[0], fetch.ModeFile)
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		testMode bool
		isoDir   string
		runDir   string
		logDir   string
	)
	flag.BoolVar(&testMode, "test-mode", false, "answer the http identity from the fixture environment and dry-run mounts")
	flag.BoolVar(&testMode, "t", false, "shorthand for --test-mode")
	flag.StringVar(&isoDir, "iso-dir", "/cdrom", "where the installation medium is mounted")
	flag.StringVar(&runDir, "run-dir", "/run/osinstall", "run directory, used for the partition mount point")
	flag.StringVar(&logDir, "log-dir", "/tmp", "directory for the invocation log")
	flag.Usage = func() { usage(os.Stderr) }
	flag.Parse()

	logger := logrus.StandardLogger()
	logFile, err := common.SetupLogging(logger, common.LogConfig{Dir: logDir, Command: "fetch-answer"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	log := logrus.NewEntry(logger)

	settings, err := resolveSettings(flag.Args(), isoDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch-answer: %v\n", err)
		return 1
	}
	log.Infof("fetching answer file in %s mode", settings.Mode)

	ctx := context.Background()
	locations := environment.Locations{ISO: isoDir, Run: runDir, Log: logDir}

	var runner install.Runner = &install.HostRunner{Log: log}
	if testMode {
		runner = &install.DryRunner{Log: log}
	}

	fetcher := &fetch.Fetcher{
		Locations: locations,
		Runner:    runner,
		Log:       log,
	}
	if settings.Mode == fetch.ModeHttp {
		fetcher.Snapshot, err = identity(ctx, testMode, locations, runner, log)
		if err != nil {
			log.Errorf("cannot assemble the system identity: %v", err)
			fmt.Fprintf(os.Stderr, "fetch-answer: %v\n", err)
			return 1
		}
	}

	body, err := fetcher.Fetch(ctx, settings)
	if err != nil {
		log.Errorf("fetching the answer file failed: %v", err)
		fmt.Fprintf(os.Stderr, "fetch-answer: %v\n", err)
		return 1
	}

	if _, err := os.Stdout.Write(body); err != nil {
		fmt.Fprintf(os.Stderr, "fetch-answer: %v\n", err)
		return 1
	}
	return 0
}

// resolveSettings turns the command line into fetch settings, falling back
// to the mode file on the medium when no mode argument was given. For http
// mode, url and fingerprint arguments override the mode file.
func resolveSettings(args []string, isoDir string) (*fetch.Settings, error) {
	if len(args) == 0 {
		return fetch.LoadSettings(isoDir)
	}

	var settings fetch.Settings
	if err := settings.Mode.UnmarshalText([]byte(args[0])); err != nil {
		return nil, err
	}

	switch settings.Mode {
	case fetch.ModeHttp:
		if len(args) > 3 {
			return nil, fmt.Errorf("http takes at most a url and a certificate fingerprint")
		}
		if len(args) >= 2 {
			settings.Http.URL = args[1]
		}
		if len(args) == 3 {
			settings.Http.CertFingerprint = args[2]
		}
		if settings.Http.URL == "" {
			if fromFile, err := fetch.LoadSettings(isoDir); err == nil && fromFile.Mode == fetch.ModeHttp {
				settings.Http = fromFile.Http
			}
		}
		if settings.Http.URL == "" {
			return nil, fmt.Errorf("http mode needs a url, on the command line or in %s", fetch.ModeFile)
		}
	default:
		if len(args) > 1 {
			return nil, fmt.Errorf("%s mode takes no further arguments", settings.Mode)
		}
	}
	return &settings, nil
}

// identity supplies the snapshot posted to the answer endpoint. Live mode
// probes the machine, nothing is published.
func identity(ctx context.Context, testMode bool, locations environment.Locations, runner install.Runner, log *logrus.Entry) (*environment.Snapshot, error) {
	if testMode {
		return environment.Fixture(), nil
	}
	prober := &sysprobe.Prober{Locations: locations, Runner: runner, Log: log}
	return envstore.Collect(ctx, prober.Probes())
}
