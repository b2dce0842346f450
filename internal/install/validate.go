package install

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
)

var hostnameLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

var zfsCompressValues = []string{"gzip", "lz4", "lzjb", "off", "on", "zle", "zstd"}
var zfsChecksumValues = []string{"fletcher4", "off", "on", "sha256"}
var btrfsCompressValues = []string{"lzo", "off", "on", "zlib", "zstd"}

// MissingFields lists the required fields a begin command still needs. The
// session turns a non-empty result into an IncompleteConfigError.
func (c *Config) MissingFields() []string {
	var missing []string
	if c.Filesystem == nil {
		missing = append(missing, "filesystem")
	}
	if len(c.TargetDisks) == 0 {
		missing = append(missing, "disk")
	}
	if c.Country == "" {
		missing = append(missing, "country")
	}
	if c.Timezone == "" {
		missing = append(missing, "timezone")
	}
	if c.Keymap == "" {
		missing = append(missing, "keymap")
	}
	return missing
}

// Validate checks every set field against the snapshot. Unset fields are
// fine here, MissingFields owns the completeness check.
func (c *Config) Validate(env *environment.Snapshot) error {
	if err := c.validateDisks(env); err != nil {
		return err
	}
	if err := c.validateFilesystem(env); err != nil {
		return err
	}
	if err := c.validateLocale(env); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if err := c.validateNetwork(env); err != nil {
		return err
	}
	if c.FirstBoot != nil && c.FirstBoot.Enabled && c.FirstBoot.Source == "" {
		return fmt.Errorf("first-boot is enabled but carries no hook script")
	}
	return nil
}

func (c *Config) validateDisks(env *environment.Snapshot) error {
	seen := map[string]bool{}
	for _, path := range c.TargetDisks {
		disk, ok := env.FindDisk(path)
		if !ok {
			return fmt.Errorf("disk %s is not present in the environment", path)
		}
		if seen[path] {
			return fmt.Errorf("disk %s is listed twice", path)
		}
		seen[path] = true

		if hdsize := c.hdsize(); hdsize != nil {
			if common.GiBToBytes(*hdsize) > disk.SizeBytes {
				return fmt.Errorf("hdsize %.2f GiB exceeds disk %s (%s)", *hdsize, path, disk.SizeString())
			}
		}
	}
	return nil
}

func (c *Config) validateFilesystem(env *environment.Snapshot) error {
	if c.Filesystem == nil {
		return nil
	}
	fs := *c.Filesystem

	if fs == FsBtrfs && !env.Product.EnableBtrfs {
		return fmt.Errorf("btrfs is not enabled for product %s", env.Product.Product)
	}

	if !fs.Pooled() && len(c.TargetDisks) > 1 {
		return fmt.Errorf("%s supports exactly one target disk, %d configured", fs, len(c.TargetDisks))
	}

	if fs == FsZfs && c.Zfs != nil {
		if err := validateRaid(c.Zfs.Raid, len(c.TargetDisks), false); err != nil {
			return err
		}
		if c.Zfs.Ashift < 9 || c.Zfs.Ashift > 16 {
			return fmt.Errorf("zfs ashift %d out of range (9..16)", c.Zfs.Ashift)
		}
		if c.Zfs.Copies < 1 || c.Zfs.Copies > 3 {
			return fmt.Errorf("zfs copies %d out of range (1..3)", c.Zfs.Copies)
		}
		if !common.IsStringInSortedSlice(zfsCompressValues, c.Zfs.Compress) {
			return fmt.Errorf("unknown zfs compression %q", c.Zfs.Compress)
		}
		if !common.IsStringInSortedSlice(zfsChecksumValues, c.Zfs.Checksum) {
			return fmt.Errorf("unknown zfs checksum %q", c.Zfs.Checksum)
		}
	}

	if fs == FsBtrfs && c.Btrfs != nil {
		if err := validateRaid(c.Btrfs.Raid, len(c.TargetDisks), true); err != nil {
			return err
		}
		if !common.IsStringInSortedSlice(btrfsCompressValues, c.Btrfs.Compress) {
			return fmt.Errorf("unknown btrfs compression %q", c.Btrfs.Compress)
		}
	}

	if c.Lvm != nil {
		if err := c.validateLvmSizes(); err != nil {
			return err
		}
	}
	return nil
}

func validateRaid(level RaidLevel, disks int, btrfs bool) error {
	if btrfs && level.zfsOnly() {
		return fmt.Errorf("%s is not available with btrfs", level)
	}
	if disks > 0 && disks < level.MinDisks() {
		return fmt.Errorf("%s needs at least %d disks, %d configured", level, level.MinDisks(), disks)
	}
	if level == Raid10 && disks > 0 && disks%2 != 0 {
		return fmt.Errorf("raid10 needs an even number of disks, %d configured", disks)
	}
	return nil
}

func (c *Config) validateLvmSizes() error {
	hdsize := c.Lvm.HdsizeGiB
	check := func(name string, value *float64) error {
		if value == nil {
			return nil
		}
		if *value < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
		if hdsize != nil && *value > *hdsize {
			return fmt.Errorf("%s %.2f GiB exceeds hdsize %.2f GiB", name, *value, *hdsize)
		}
		return nil
	}

	if err := check("swapsize", c.Lvm.SwapsizeGiB); err != nil {
		return err
	}
	if err := check("maxroot", c.Lvm.MaxrootGiB); err != nil {
		return err
	}
	if err := check("minfree", c.Lvm.MinfreeGiB); err != nil {
		return err
	}
	return check("maxvz", c.Lvm.MaxvzGiB)
}

func (c *Config) validateLocale(env *environment.Snapshot) error {
	if c.Country != "" && !env.Locales.HasCountry(c.Country) {
		return fmt.Errorf("unknown country code %q", c.Country)
	}
	if c.Timezone != "" {
		if c.Country == "" {
			return fmt.Errorf("timezone needs a country to validate against")
		}
		if !env.Locales.HasZone(c.Country, c.Timezone) {
			return fmt.Errorf("timezone %q is not usable in country %q", c.Timezone, c.Country)
		}
	}
	if c.Keymap != "" && !env.Locales.HasKeymap(c.Keymap) {
		return fmt.Errorf("unknown keyboard layout %q", c.Keymap)
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if c.Hostname != "" && !hostnameLabel.MatchString(c.Hostname) {
		return fmt.Errorf("%q is not a valid hostname", c.Hostname)
	}
	if c.Domain != "" {
		for _, label := range strings.Split(c.Domain, ".") {
			if !hostnameLabel.MatchString(label) {
				return fmt.Errorf("%q is not a valid domain name", c.Domain)
			}
		}
	}
	if c.RootPassword != "" && len(c.RootPassword) < 5 {
		return fmt.Errorf("root password must have at least 5 characters")
	}
	for _, key := range c.RootSSHKeys {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "\r\n") {
			return fmt.Errorf("malformed ssh public key")
		}
	}
	if c.Mailto != "" && !strings.Contains(c.Mailto, "@") {
		return fmt.Errorf("%q is not a mail address", c.Mailto)
	}
	return nil
}

func (c *Config) validateNetwork(env *environment.Snapshot) error {
	if c.Network == nil {
		return nil
	}

	if c.Network.Interface != "" {
		if _, ok := env.Runtime.Network.Interfaces[c.Network.Interface]; !ok {
			return fmt.Errorf("interface %q is not present in the environment", c.Network.Interface)
		}
	}

	if c.Network.Mode == NetworkDhcp {
		return nil
	}

	if c.Network.CIDR == "" {
		return fmt.Errorf("static network setup needs a cidr address")
	}
	if _, err := netip.ParsePrefix(c.Network.CIDR); err != nil {
		return fmt.Errorf("bad cidr address %q: %v", c.Network.CIDR, err)
	}
	if c.Network.Gateway != "" {
		if _, err := netip.ParseAddr(c.Network.Gateway); err != nil {
			return fmt.Errorf("bad gateway address %q: %v", c.Network.Gateway, err)
		}
	}
	if c.Network.DNS != "" {
		if _, err := netip.ParseAddr(c.Network.DNS); err != nil {
			return fmt.Errorf("bad dns address %q: %v", c.Network.DNS, err)
		}
	}
	return nil
}

// hdsize returns whichever disk size cap the active option group carries.
func (c *Config) hdsize() *float64 {
	switch {
	case c.Zfs != nil && c.Zfs.HdsizeGiB != nil:
		return c.Zfs.HdsizeGiB
	case c.Btrfs != nil && c.Btrfs.HdsizeGiB != nil:
		return c.Btrfs.HdsizeGiB
	case c.Lvm != nil && c.Lvm.HdsizeGiB != nil:
		return c.Lvm.HdsizeGiB
	}
	return nil
}
