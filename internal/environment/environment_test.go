package environment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBootTypeJSONConversions(t *testing.T) {
	type wrapper struct {
		Boot BootType `json:"boot_type"`
	}

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"boot_type": "efi"}`), &w))
	assert.Equal(t, BootTypeEfi, w.Boot)

	data, err := json.Marshal(wrapper{Boot: BootTypeBios})
	require.NoError(t, err)
	assert.JSONEq(t, `{"boot_type": "bios"}`, string(data))

	err = json.Unmarshal([]byte(`{"boot_type": "coreboot"}`), &w)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"boot_type": 1}`), &w)
	assert.Error(t, err)

	assert.Equal(t, "efi", BootTypeEfi.String())
}

func TestResolveLocale(t *testing.T) {
	locales := &Fixture().Locales

	testCases := map[string]struct {
		locale string
		cc     string
		zone   string
		keymap string
		fails  bool
	}{
		"full locale":     {locale: "en_US", cc: "us", zone: "America/New_York", keymap: "en-us"},
		"bare country":    {locale: "de", cc: "de", zone: "Europe/Berlin", keymap: "de"},
		"uppercase":       {locale: "de_AT", cc: "at", zone: "Europe/Vienna", keymap: "de"},
		"unknown country": {locale: "en_GB", fails: true},
		"empty":           {locale: "", fails: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			cc, zone, keymap, err := locales.ResolveLocale(tc.locale)
			if tc.fails {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cc, cc)
			assert.Equal(t, tc.zone, zone)
			assert.Equal(t, tc.keymap, keymap)
		})
	}
}

func TestFixtureConsistency(t *testing.T) {
	env := Fixture()

	// every country's defaults must resolve inside the same catalog
	for cc, country := range env.Locales.Countries {
		assert.Truef(t, env.Locales.HasZone(cc, country.Zone), "%s: default zone %s missing", cc, country.Zone)
		assert.Truef(t, env.Locales.HasKeymap(country.Keymap), "%s: default keymap %s missing", cc, country.Keymap)
	}

	assert.True(t, env.Locales.HasZone("de", "UTC"))
	assert.False(t, env.Locales.HasZone("de", "Europe/Vienna"))

	require.NotEmpty(t, env.Runtime.Disks)
	for i, disk := range env.Runtime.Disks {
		assert.Equal(t, i, disk.Index)
		assert.NotZero(t, disk.SizeBytes)
	}

	assert.Equal(t, env.Iso.Product, env.Product.Product)
}

func TestFindDisk(t *testing.T) {
	env := Fixture()

	disk, ok := env.FindDisk("/dev/sda")
	require.True(t, ok)
	assert.Equal(t, "80.00 GiB", disk.SizeString())

	_, ok = env.FindDisk("/dev/nvme0n1")
	assert.False(t, ok)
}

func TestDefaultInterface(t *testing.T) {
	env := Fixture()

	iface, ok := env.DefaultInterface()
	require.True(t, ok)
	assert.Equal(t, "eth0", iface.Name)

	down := Fixture()
	eth0 := down.Runtime.Network.Interfaces["eth0"]
	eth0.State = "DOWN"
	down.Runtime.Network.Interfaces["eth0"] = eth0
	_, ok = down.DefaultInterface()
	assert.False(t, ok)
}
