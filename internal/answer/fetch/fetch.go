// Package fetch retrieves the answer file for an unattended installation.
// The medium decides the mode: baked into the ISO, on a separately labeled
// partition, or requested from an HTTP endpoint that picks an answer based
// on the posted system identity.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/install"
)

// AnswerFile is the file name looked up in iso and partition mode.
const AnswerFile = "answer.toml"

// ModeFile sits next to the answer sources on the medium and selects the
// fetch mode when the binary is invoked without arguments.
const ModeFile = "auto-install-mode.toml"

// Mode tells where the answer file comes from.
type Mode int

const (
	ModeIso Mode = iota
	ModePartition
	ModeHttp
)

func getModeMapping() map[string]int {
	return map[string]int{
		"iso":       int(ModeIso),
		"partition": int(ModePartition),
		"http":      int(ModeHttp),
	}
}

func (m Mode) String() string {
	s, ok := common.EnumToString(getModeMapping(), int(m))
	if !ok {
		panic("invalid fetch mode value")
	}
	return s
}

func (m Mode) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getModeMapping(), int(m))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid fetch mode", int(m))
	}
	return []byte(s), nil
}

func (m *Mode) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getModeMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid fetch mode, expected iso, partition or http", string(data))
	}
	*m = Mode(value)
	return nil
}

// HttpOptions configure http mode. An empty fingerprint means regular
// certificate validation against the system roots.
type HttpOptions struct {
	URL             string `toml:"url"`
	CertFingerprint string `toml:"cert_fingerprint"`
}

// Settings select the fetch mode, either parsed from the mode file on the
// medium or assembled from command line arguments.
type Settings struct {
	Mode Mode        `toml:"mode"`
	Http HttpOptions `toml:"http"`
}

// LoadSettings reads the mode file from the ISO mount point.
func LoadSettings(isoDir string) (*Settings, error) {
	path := filepath.Join(isoDir, ModeFile)

	var settings Settings
	if _, err := toml.DecodeFile(path, &settings); err != nil {
		return nil, fmt.Errorf("reading fetch mode file %s: %w", path, err)
	}
	if settings.Mode == ModeHttp && settings.Http.URL == "" {
		return nil, fmt.Errorf("fetch mode file %s selects http but names no url", path)
	}
	return &settings, nil
}

// Fetcher retrieves the answer file. The snapshot feeds the system identity
// posted in http mode, the runner mounts the answer partition.
type Fetcher struct {
	Locations environment.Locations
	Snapshot  *environment.Snapshot
	Runner    install.Runner
	Log       *logrus.Entry
}

// Fetch returns the raw answer file content.
func (f *Fetcher) Fetch(ctx context.Context, settings *Settings) ([]byte, error) {
	f.Log.Infof("fetching answer file in mode %s", settings.Mode)

	switch settings.Mode {
	case ModeIso:
		path := filepath.Join(f.Locations.ISO, AnswerFile)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading answer file from medium: %w", err)
		}
		return data, nil
	case ModePartition:
		return f.fetchFromPartition(ctx)
	case ModeHttp:
		return f.fetchFromHTTP(ctx, settings.Http)
	}
	return nil, fmt.Errorf("unhandled fetch mode %d", settings.Mode)
}

func (f *Fetcher) fetchFromHTTP(ctx context.Context, options HttpOptions) ([]byte, error) {
	if options.URL == "" {
		return nil, fmt.Errorf("http mode needs a url")
	}
	if f.Snapshot == nil {
		return nil, fmt.Errorf("http mode needs the environment snapshot")
	}

	payload, err := json.Marshal(NewSysInfo(f.Snapshot))
	if err != nil {
		return nil, fmt.Errorf("assembling system identity: %w", err)
	}

	f.Log.Infof("requesting answer file from %s", options.URL)
	return Post(ctx, options.URL, options.CertFingerprint, payload, f.Log)
}
