package install

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
)

func TestParseConfigArgs(t *testing.T) {
	cases := map[string]struct {
		raw  string
		fail bool
	}{
		"empty":         {raw: "", fail: true},
		"not an object": {raw: `"disk"`, fail: true},
		"unknown field": {raw: `{"dsik": "/dev/sda"}`, fail: true},
		"minimal":       {raw: `{"disk": "/dev/sda"}`},
		"full": {raw: `{
			"locale": "de_AT",
			"disks": ["/dev/sda", "/dev/sdb"],
			"filesystem": "zfs",
			"zfs": {"raid": "raid1"},
			"root_password": "hunter22",
			"network": {"mode": "static", "cidr": "192.168.1.2/24"}
		}`},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			args, err := ParseConfigArgs(json.RawMessage(c.raw))
			if c.fail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, args)
		})
	}
}

func TestApplyLocaleShorthand(t *testing.T) {
	env := environment.Fixture()

	var cfg Config
	args, err := ParseConfigArgs(json.RawMessage(`{"locale": "en_US"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))

	assert.Equal(t, "us", cfg.Country)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, "en-us", cfg.Keymap)

	// explicit fields in the same command override the shorthand
	args, err = ParseConfigArgs(json.RawMessage(`{"locale": "en_US", "timezone": "America/Chicago"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))
	assert.Equal(t, "America/Chicago", cfg.Timezone)
	assert.Equal(t, "us", cfg.Country)

	args, err = ParseConfigArgs(json.RawMessage(`{"locale": "en_GB"}`))
	require.NoError(t, err)
	assert.Error(t, cfg.Apply(args, env))
}

func TestApplyDiskArguments(t *testing.T) {
	env := environment.Fixture()

	var cfg Config
	args, err := ParseConfigArgs(json.RawMessage(`{"disk": "/dev/sda"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))
	assert.Equal(t, []string{"/dev/sda"}, cfg.TargetDisks)

	args, err = ParseConfigArgs(json.RawMessage(`{"disks": ["/dev/sda", "/dev/sdb"]}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))
	assert.Equal(t, []string{"/dev/sda", "/dev/sdb"}, cfg.TargetDisks)

	args, err = ParseConfigArgs(json.RawMessage(`{"disk": "/dev/sda", "disks": ["/dev/sdb"]}`))
	require.NoError(t, err)
	assert.Error(t, cfg.Apply(args, env))
}

func TestApplyZfsDefaults(t *testing.T) {
	env := environment.Fixture()

	var cfg Config
	args, err := ParseConfigArgs(json.RawMessage(`{"filesystem": "zfs", "zfs": {"raid": "raid1", "copies": 2}}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))

	require.NotNil(t, cfg.Zfs)
	assert.Equal(t, Raid1, cfg.Zfs.Raid)
	assert.Equal(t, uint64(12), cfg.Zfs.Ashift)
	assert.Equal(t, "on", cfg.Zfs.Compress)
	assert.Equal(t, "on", cfg.Zfs.Checksum)
	assert.Equal(t, uint64(2), cfg.Zfs.Copies)
}

func TestApplyPasswordExclusivity(t *testing.T) {
	env := environment.Fixture()

	var cfg Config
	args, err := ParseConfigArgs(json.RawMessage(`{"root_password": "hunter22"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))
	assert.Equal(t, "hunter22", cfg.RootPassword)

	args, err = ParseConfigArgs(json.RawMessage(`{"root_password_hashed": "$6$salt$hash"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Apply(args, env))
	assert.Empty(t, cfg.RootPassword)
	assert.Equal(t, "$6$salt$hash", cfg.RootPasswordHashed)
}

func TestApplyDefaults(t *testing.T) {
	env := environment.Fixture()

	fs := FsExt4
	cfg := Config{Filesystem: &fs}
	cfg.ApplyDefaults(env)

	assert.Equal(t, "osinstall", cfg.Hostname)
	assert.Equal(t, "testdomain.example", cfg.Domain)
	assert.Equal(t, "root@localhost", cfg.Mailto)
	assert.Equal(t, "!", cfg.RootPasswordHashed)
	require.NotNil(t, cfg.Network)
	assert.Equal(t, NetworkDhcp, cfg.Network.Mode)
	assert.Equal(t, "eth0", cfg.Network.Interface)
	assert.NotNil(t, cfg.Lvm)
	assert.Nil(t, cfg.Zfs)

	// a configured password is not overridden by the account lock
	cfg = Config{RootPassword: "hunter22"}
	cfg.ApplyDefaults(env)
	assert.Equal(t, "hunter22", cfg.RootPassword)
	assert.Empty(t, cfg.RootPasswordHashed)

	zfs := FsZfs
	cfg = Config{Filesystem: &zfs}
	cfg.ApplyDefaults(env)
	require.NotNil(t, cfg.Zfs)
	assert.Equal(t, Raid0, cfg.Zfs.Raid)
	assert.Equal(t, uint64(12), cfg.Zfs.Ashift)
	assert.Nil(t, cfg.Lvm)
}

func TestConfigClone(t *testing.T) {
	fs := FsZfs
	cfg := &Config{
		Filesystem:  &fs,
		TargetDisks: []string{"/dev/sda"},
		Zfs:         &ZfsOptions{Raid: Raid1, HdsizeGiB: common.ToPtr(40.0)},
		RootSSHKeys: []string{"ssh-ed25519 AAAA test@host"},
		Network:     &NetworkConfig{Mode: NetworkDhcp, Interface: "eth0"},
	}

	clone := cfg.Clone()
	clone.TargetDisks[0] = "/dev/sdz"
	*clone.Filesystem = FsExt4
	*clone.Zfs.HdsizeGiB = 99
	clone.Network.Interface = "eth9"
	clone.RootSSHKeys[0] = "changed"

	assert.Equal(t, []string{"/dev/sda"}, cfg.TargetDisks)
	assert.Equal(t, FsZfs, *cfg.Filesystem)
	assert.Equal(t, 40.0, *cfg.Zfs.HdsizeGiB)
	assert.Equal(t, "eth0", cfg.Network.Interface)
	assert.Equal(t, "ssh-ed25519 AAAA test@host", cfg.RootSSHKeys[0])
}

func TestMissingFields(t *testing.T) {
	var cfg Config
	assert.Equal(t, []string{"filesystem", "disk", "country", "timezone", "keymap"}, cfg.MissingFields())

	fs := FsExt4
	cfg = Config{
		Filesystem:  &fs,
		TargetDisks: []string{"/dev/sda"},
		Country:     "us",
		Timezone:    "America/New_York",
		Keymap:      "en-us",
	}
	assert.Empty(t, cfg.MissingFields())

	cfg.Keymap = ""
	assert.Equal(t, []string{"keymap"}, cfg.MissingFields())
}
