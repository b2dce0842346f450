package main

import (
	"os"

	"github.com/BurntSushi/toml"
)

type webhookConfig struct {
	URL             string `toml:"url"`
	CertFingerprint string `toml:"cert_fingerprint"`
}

// autoinstConfig is the slice of the driver configuration this front-end
// cares about. Unknown keys belong to the backend and are ignored.
type autoinstConfig struct {
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	IsoDir     string `toml:"iso_dir"`
	LibDir     string `toml:"lib_dir"`

	Webhook *webhookConfig `toml:"webhook"`
}

func parseConfig(file string) (*autoinstConfig, error) {
	config := autoinstConfig{
		RuntimeDir: "/run/osinstall",
		LogDir:     "/tmp",
		IsoDir:     "/cdrom",
		LibDir:     "/var/lib/osinstall",
	}

	_, err := toml.DecodeFile(file, &config)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return &config, nil
}
