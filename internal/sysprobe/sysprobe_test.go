package sysprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/osinstall/internal/environment"
)

func writeMediumFile(t *testing.T, isoDir, name, content string) {
	t.Helper()
	dir := filepath.Join(isoDir, mediumDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestProbeIso(t *testing.T) {
	isoDir := t.TempDir()
	writeMediumFile(t, isoDir, isoInfoFile, `
[iso]
fullname = "OSInstall Server"
product = "osinstall"
version = "1.2-1"
release_date = "2026-06-17"
sha256sum = "6726c46e2a8a4ed7448a2bda693c13243a7088b38b1fcc07f1e696baf4e7f4c6"

[product]
fullname = "OSInstall Server"
product = "osinstall"
enable_btrfs = true
default_packages = ["osinstall-base", "osinstall-kernel"]
`)

	p := &Prober{Locations: environment.Locations{ISO: isoDir, Run: "/run/osinstall"}}
	doc, err := p.probeIso(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "osinstall", doc.Iso.Product)
	assert.Equal(t, "1.2-1", doc.Iso.Version)
	assert.True(t, doc.Product.EnableBtrfs)
	assert.Equal(t, []string{"osinstall-base", "osinstall-kernel"}, doc.Product.DefaultPackages)
	assert.Equal(t, isoDir, doc.Locations.ISO)
	assert.Equal(t, "/run/osinstall", doc.Locations.Run)
}

func TestProbeIsoMissing(t *testing.T) {
	p := &Prober{Locations: environment.Locations{ISO: t.TempDir()}}
	_, err := p.probeIso(context.Background())
	require.Error(t, err)
}

func TestProbeIsoWithoutProduct(t *testing.T) {
	isoDir := t.TempDir()
	writeMediumFile(t, isoDir, isoInfoFile, "[iso]\nversion = \"1.0\"\n")

	p := &Prober{Locations: environment.Locations{ISO: isoDir}}
	_, err := p.probeIso(context.Background())
	require.ErrorContains(t, err, "names no product")
}

func TestProbeLocales(t *testing.T) {
	isoDir := t.TempDir()
	writeMediumFile(t, isoDir, localeInfoFile, `{
		"cczones": {"at": ["Europe/Vienna"]},
		"country": {"at": {"name": "Austria", "zone": "Europe/Vienna", "kmap": "de"}},
		"kmap": {"de": {"name": "German", "id": "de", "xkb_layout": "de"}}
	}`)

	p := &Prober{Locations: environment.Locations{ISO: isoDir}}
	locales, err := p.probeLocales(context.Background())
	require.NoError(t, err)

	assert.True(t, locales.HasCountry("at"))
	assert.True(t, locales.HasKeymap("de"))
	assert.True(t, locales.HasZone("at", "Europe/Vienna"))
}

func TestProbeLocalesEmptyCatalog(t *testing.T) {
	isoDir := t.TempDir()
	writeMediumFile(t, isoDir, localeInfoFile, `{"cczones": {}, "country": {}, "kmap": {}}`)

	p := &Prober{Locations: environment.Locations{ISO: isoDir}}
	_, err := p.probeLocales(context.Background())
	require.ErrorContains(t, err, "is empty")
}
