// Package sysprobe assembles the live environment snapshot. The locale
// catalog and the product identity are read from data files the
// installation medium ships, everything else is probed from the running
// kernel. Probing is read-only, nothing in here touches a disk.
package sysprobe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/osinstall/osinstall/internal/environment"
	"github.com/osinstall/osinstall/internal/envstore"
	"github.com/osinstall/osinstall/internal/install"
)

// Files the installation medium carries below the ISO mount point.
const (
	mediumDir      = ".osinstall"
	isoInfoFile    = "iso-info.toml"
	localeInfoFile = "locale-info.json"
)

// Prober produces the live probes for dump mode. The runner executes the
// external tools probing shells out to, test mode never constructs a Prober
// in the first place.
type Prober struct {
	Locations environment.Locations
	Runner    install.Runner
	Log       *logrus.Entry
}

// Probes returns the probe set dump mode fans out over.
func (p *Prober) Probes() envstore.Probes {
	return envstore.Probes{
		Locales: p.probeLocales,
		Iso:     p.probeIso,
		Runtime: p.probeRuntime,
	}
}

func (p *Prober) mediumPath(name string) string {
	return filepath.Join(p.Locations.ISO, mediumDir, name)
}

func (p *Prober) probeLocales(context.Context) (environment.LocaleInfo, error) {
	var locales environment.LocaleInfo

	path := p.mediumPath(localeInfoFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return locales, fmt.Errorf("reading locale catalog: %w", err)
	}
	if err := json.Unmarshal(data, &locales); err != nil {
		return locales, fmt.Errorf("parsing locale catalog %s: %w", path, err)
	}

	if len(locales.Countries) == 0 || len(locales.Keymaps) == 0 {
		return locales, fmt.Errorf("locale catalog %s is empty", path)
	}
	return locales, nil
}

// isoInfoDocument is the shape of the iso-info.toml file on the medium. The
// run directory locations are not part of the medium, they come from the
// driver configuration.
type isoInfoDocument struct {
	Iso     environment.IsoInfo       `toml:"iso"`
	Product environment.ProductConfig `toml:"product"`
}

func (p *Prober) probeIso(context.Context) (environment.IsoDocument, error) {
	var file isoInfoDocument

	path := p.mediumPath(isoInfoFile)
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return environment.IsoDocument{}, fmt.Errorf("reading iso info: %w", err)
	}
	if file.Iso.Product == "" || file.Product.Product == "" {
		return environment.IsoDocument{}, fmt.Errorf("iso info %s names no product", path)
	}

	return environment.IsoDocument{
		Iso:       file.Iso,
		Product:   file.Product,
		Locations: p.Locations,
	}, nil
}
