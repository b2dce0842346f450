package main

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

type sentryConfig struct {
	DSN string `toml:"dsn"`
}

// driverConfig is the backend's slice of the driver configuration file.
// Front-ends read their own sections from the same file; keys outside this
// struct are theirs and pass through silently.
type driverConfig struct {
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	IsoDir     string `toml:"iso_dir"`
	LibDir     string `toml:"lib_dir"`
	TargetDir  string `toml:"target_dir"`
	LogLevel   string `toml:"log_level"`

	Sentry *sentryConfig `toml:"sentry"`
}

func parseConfig(file string) (*driverConfig, error) {
	// set defaults
	config := driverConfig{
		RuntimeDir: "/run/osinstall",
		LogDir:     "/tmp",
		IsoDir:     "/cdrom",
		LibDir:     "/var/lib/osinstall",
		TargetDir:  "/target",
		LogLevel:   "info",
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil {
		// Return error only when we failed to decode the file.
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, err
		}
		logrus.Debug("configuration file not found, using defaults")
	}
	return &config, nil
}
