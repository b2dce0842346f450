package install

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/environment"
)

// NetworkMode selects how the installed system configures its addresses.
type NetworkMode int

const (
	NetworkDhcp NetworkMode = iota
	NetworkStatic
)

func getNetworkModeMapping() map[string]int {
	return map[string]int{
		"dhcp":   int(NetworkDhcp),
		"static": int(NetworkStatic),
	}
}

func (m NetworkMode) String() string {
	s, ok := common.EnumToString(getNetworkModeMapping(), int(m))
	if !ok {
		panic("invalid network mode value")
	}
	return s
}

func (m NetworkMode) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(m), getNetworkModeMapping(), "is not a valid network mode value")
}

func (m *NetworkMode) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid network mode string", " is not a valid network mode", getNetworkModeMapping())
	if err != nil {
		return err
	}
	*m = NetworkMode(value)
	return nil
}

func (m NetworkMode) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getNetworkModeMapping(), int(m))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid network mode", int(m))
	}
	return []byte(s), nil
}

func (m *NetworkMode) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getNetworkModeMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid network mode", string(data))
	}
	*m = NetworkMode(value)
	return nil
}

// FirstBootOrdering decides when the first-boot hook runs relative to the
// network coming up.
type FirstBootOrdering int

const (
	FirstBootBeforeNetwork FirstBootOrdering = iota
	FirstBootNetworkOnline
	FirstBootFullyUp
)

func getFirstBootOrderingMapping() map[string]int {
	return map[string]int{
		"before-network": int(FirstBootBeforeNetwork),
		"network-online": int(FirstBootNetworkOnline),
		"fully-up":       int(FirstBootFullyUp),
	}
}

func (o FirstBootOrdering) String() string {
	s, ok := common.EnumToString(getFirstBootOrderingMapping(), int(o))
	if !ok {
		panic("invalid first-boot ordering value")
	}
	return s
}

func (o FirstBootOrdering) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(o), getFirstBootOrderingMapping(), "is not a valid first-boot ordering value")
}

func (o *FirstBootOrdering) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid first-boot ordering string", " is not a valid first-boot ordering", getFirstBootOrderingMapping())
	if err != nil {
		return err
	}
	*o = FirstBootOrdering(value)
	return nil
}

func (o FirstBootOrdering) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getFirstBootOrderingMapping(), int(o))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid first-boot ordering", int(o))
	}
	return []byte(s), nil
}

func (o *FirstBootOrdering) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getFirstBootOrderingMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid first-boot ordering", string(data))
	}
	*o = FirstBootOrdering(value)
	return nil
}

// SystemdTarget returns the unit the hook service is ordered against.
func (o FirstBootOrdering) SystemdTarget() string {
	switch o {
	case FirstBootBeforeNetwork:
		return "network-pre.target"
	case FirstBootNetworkOnline:
		return "network-online.target"
	default:
		return "multi-user.target"
	}
}

// ZfsOptions tune a zfs installation.
type ZfsOptions struct {
	Raid      RaidLevel `json:"raid" toml:"raid"`
	Ashift    uint64    `json:"ashift" toml:"ashift"`
	Compress  string    `json:"compress" toml:"compress"`
	Checksum  string    `json:"checksum" toml:"checksum"`
	Copies    uint64    `json:"copies" toml:"copies"`
	ArcMaxMiB uint64    `json:"arc_max_mib,omitempty" toml:"arc_max"`
	HdsizeGiB *float64  `json:"hdsize_gib,omitempty" toml:"hdsize"`
}

func (z *ZfsOptions) applyDefaults() {
	if z.Ashift == 0 {
		z.Ashift = 12
	}
	if z.Compress == "" {
		z.Compress = "on"
	}
	if z.Checksum == "" {
		z.Checksum = "on"
	}
	if z.Copies == 0 {
		z.Copies = 1
	}
}

// BtrfsOptions tune a btrfs installation.
type BtrfsOptions struct {
	Raid      RaidLevel `json:"raid" toml:"raid"`
	Compress  string    `json:"compress" toml:"compress"`
	HdsizeGiB *float64  `json:"hdsize_gib,omitempty" toml:"hdsize"`
}

func (b *BtrfsOptions) applyDefaults() {
	if b.Compress == "" {
		b.Compress = "off"
	}
}

// LvmOptions size the logical volumes of an ext4/xfs installation.
type LvmOptions struct {
	HdsizeGiB   *float64 `json:"hdsize_gib,omitempty" toml:"hdsize"`
	SwapsizeGiB *float64 `json:"swapsize_gib,omitempty" toml:"swapsize"`
	MaxrootGiB  *float64 `json:"maxroot_gib,omitempty" toml:"maxroot"`
	MinfreeGiB  *float64 `json:"minfree_gib,omitempty" toml:"minfree"`
	MaxvzGiB    *float64 `json:"maxvz_gib,omitempty" toml:"maxvz"`
}

// NetworkConfig is the network setup written into the installed system.
type NetworkConfig struct {
	Mode      NetworkMode `json:"mode" toml:"mode"`
	Interface string      `json:"interface,omitempty" toml:"interface"`
	CIDR      string      `json:"cidr,omitempty" toml:"cidr"`
	Gateway   string      `json:"gateway,omitempty" toml:"gateway"`
	DNS       string      `json:"dns,omitempty" toml:"dns"`
}

// FirstBootConfig installs a one-shot hook script into the target system.
type FirstBootConfig struct {
	Enabled  bool              `json:"enabled" toml:"enabled"`
	Ordering FirstBootOrdering `json:"ordering" toml:"ordering"`

	// Source is the local path of the staged hook script.
	Source string `json:"source,omitempty" toml:"source"`
}

// Config is the complete set of installation parameters. It accumulates
// while the session is in Configuring and is frozen once execution begins.
type Config struct {
	Autoreboot bool `json:"autoreboot"`

	Filesystem  *FsType       `json:"filesystem,omitempty"`
	TargetDisks []string      `json:"target_disks,omitempty"`
	Zfs         *ZfsOptions   `json:"zfs,omitempty"`
	Btrfs       *BtrfsOptions `json:"btrfs,omitempty"`
	Lvm         *LvmOptions   `json:"lvm,omitempty"`

	// ExistingStorageAutoRename renames conflicting volume groups or pools
	// found on other disks instead of failing the installation.
	ExistingStorageAutoRename bool `json:"existing_storage_auto_rename,omitempty"`

	Country  string `json:"country,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Keymap   string `json:"keymap,omitempty"`

	RootPassword       string   `json:"root_password,omitempty"`
	RootPasswordHashed string   `json:"root_password_hashed,omitempty"`
	RootSSHKeys        []string `json:"root_ssh_keys,omitempty"`
	Mailto             string   `json:"mailto,omitempty"`

	Hostname string         `json:"hostname,omitempty"`
	Domain   string         `json:"domain,omitempty"`
	Network  *NetworkConfig `json:"network,omitempty"`

	FirstBoot *FirstBootConfig `json:"first_boot,omitempty"`
}

// Clone returns a deep copy. The session applies configure commands to a
// clone so a rejected command leaves the accumulated config untouched.
func (c *Config) Clone() *Config {
	clone := *c

	if c.Filesystem != nil {
		fs := *c.Filesystem
		clone.Filesystem = &fs
	}
	clone.TargetDisks = append([]string(nil), c.TargetDisks...)
	if c.Zfs != nil {
		zfs := *c.Zfs
		if c.Zfs.HdsizeGiB != nil {
			zfs.HdsizeGiB = common.ToPtr(*c.Zfs.HdsizeGiB)
		}
		clone.Zfs = &zfs
	}
	if c.Btrfs != nil {
		btrfs := *c.Btrfs
		if c.Btrfs.HdsizeGiB != nil {
			btrfs.HdsizeGiB = common.ToPtr(*c.Btrfs.HdsizeGiB)
		}
		clone.Btrfs = &btrfs
	}
	if c.Lvm != nil {
		lvm := *c.Lvm
		if c.Lvm.HdsizeGiB != nil {
			lvm.HdsizeGiB = common.ToPtr(*c.Lvm.HdsizeGiB)
		}
		if c.Lvm.SwapsizeGiB != nil {
			lvm.SwapsizeGiB = common.ToPtr(*c.Lvm.SwapsizeGiB)
		}
		if c.Lvm.MaxrootGiB != nil {
			lvm.MaxrootGiB = common.ToPtr(*c.Lvm.MaxrootGiB)
		}
		if c.Lvm.MinfreeGiB != nil {
			lvm.MinfreeGiB = common.ToPtr(*c.Lvm.MinfreeGiB)
		}
		if c.Lvm.MaxvzGiB != nil {
			lvm.MaxvzGiB = common.ToPtr(*c.Lvm.MaxvzGiB)
		}
		clone.Lvm = &lvm
	}
	clone.RootSSHKeys = append([]string(nil), c.RootSSHKeys...)
	if c.Network != nil {
		network := *c.Network
		clone.Network = &network
	}
	if c.FirstBoot != nil {
		firstBoot := *c.FirstBoot
		clone.FirstBoot = &firstBoot
	}
	return &clone
}

// ConfigArgs is the argument shape of the configure command. Every field is
// optional, absent fields leave the accumulated config alone.
type ConfigArgs struct {
	Locale   *string `json:"locale,omitempty"`
	Country  *string `json:"country,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Keymap   *string `json:"keymap,omitempty"`

	Disk       *string       `json:"disk,omitempty"`
	Disks      []string      `json:"disks,omitempty"`
	Filesystem *FsType       `json:"filesystem,omitempty"`
	Zfs        *ZfsOptions   `json:"zfs,omitempty"`
	Btrfs      *BtrfsOptions `json:"btrfs,omitempty"`
	Lvm        *LvmOptions   `json:"lvm,omitempty"`

	ExistingStorageAutoRename *bool `json:"existing_storage_auto_rename,omitempty"`

	RootPassword       *string  `json:"root_password,omitempty"`
	RootPasswordHashed *string  `json:"root_password_hashed,omitempty"`
	RootSSHKeys        []string `json:"root_ssh_keys,omitempty"`
	Mailto             *string  `json:"mailto,omitempty"`

	Hostname   *string          `json:"hostname,omitempty"`
	Domain     *string          `json:"domain,omitempty"`
	Network    *NetworkConfig   `json:"network,omitempty"`
	Autoreboot *bool            `json:"autoreboot,omitempty"`
	FirstBoot  *FirstBootConfig `json:"first_boot,omitempty"`
}

// ParseConfigArgs decodes the raw args of a configure command. Unknown
// fields are rejected, a front-end sending them is confused and should
// learn that immediately.
func ParseConfigArgs(raw json.RawMessage) (*ConfigArgs, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("configure needs arguments")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	var args ConfigArgs
	if err := decoder.Decode(&args); err != nil {
		return nil, fmt.Errorf("bad configure arguments: %w", err)
	}
	return &args, nil
}

// Apply merges args into the config. The locale shorthand is resolved first
// so explicit country/timezone/keymap fields in the same command win.
func (c *Config) Apply(args *ConfigArgs, env *environment.Snapshot) error {
	if args.Locale != nil {
		cc, zone, keymap, err := env.Locales.ResolveLocale(*args.Locale)
		if err != nil {
			return err
		}
		c.Country = cc
		c.Timezone = zone
		c.Keymap = keymap
	}
	if args.Country != nil {
		c.Country = *args.Country
	}
	if args.Timezone != nil {
		c.Timezone = *args.Timezone
	}
	if args.Keymap != nil {
		c.Keymap = *args.Keymap
	}

	if args.Disk != nil && len(args.Disks) > 0 {
		return fmt.Errorf("disk and disks are mutually exclusive")
	}
	if args.Disk != nil {
		c.TargetDisks = []string{*args.Disk}
	}
	if len(args.Disks) > 0 {
		c.TargetDisks = append([]string(nil), args.Disks...)
	}
	if args.Filesystem != nil {
		fs := *args.Filesystem
		c.Filesystem = &fs
	}
	if args.Zfs != nil {
		zfs := *args.Zfs
		zfs.applyDefaults()
		c.Zfs = &zfs
	}
	if args.Btrfs != nil {
		btrfs := *args.Btrfs
		btrfs.applyDefaults()
		c.Btrfs = &btrfs
	}
	if args.Lvm != nil {
		lvm := *args.Lvm
		c.Lvm = &lvm
	}
	if args.ExistingStorageAutoRename != nil {
		c.ExistingStorageAutoRename = *args.ExistingStorageAutoRename
	}

	if args.RootPassword != nil {
		c.RootPassword = *args.RootPassword
		c.RootPasswordHashed = ""
	}
	if args.RootPasswordHashed != nil {
		c.RootPasswordHashed = *args.RootPasswordHashed
		c.RootPassword = ""
	}
	if args.RootSSHKeys != nil {
		c.RootSSHKeys = append([]string(nil), args.RootSSHKeys...)
	}
	if args.Mailto != nil {
		c.Mailto = *args.Mailto
	}

	if args.Hostname != nil {
		c.Hostname = *args.Hostname
	}
	if args.Domain != nil {
		c.Domain = *args.Domain
	}
	if args.Network != nil {
		network := *args.Network
		c.Network = &network
	}
	if args.Autoreboot != nil {
		c.Autoreboot = *args.Autoreboot
	}
	if args.FirstBoot != nil {
		firstBoot := *args.FirstBoot
		c.FirstBoot = &firstBoot
	}

	return nil
}

// ApplyDefaults fills everything optional that is still unset. Called right
// before the config freezes.
func (c *Config) ApplyDefaults(env *environment.Snapshot) {
	if c.Hostname == "" {
		c.Hostname = env.Product.DefaultHostname()
	}
	if c.Domain == "" {
		if env.Runtime.Network.DNS.Domain != "" {
			c.Domain = env.Runtime.Network.DNS.Domain
		} else {
			c.Domain = "localdomain"
		}
	}
	if c.Mailto == "" {
		c.Mailto = "root@localhost"
	}
	if c.RootPassword == "" && c.RootPasswordHashed == "" {
		// no password configured: lock the account, the first-boot hook or
		// the ssh keys are then the only way in
		c.RootPasswordHashed = "!"
	}
	if c.Network == nil {
		c.Network = &NetworkConfig{Mode: NetworkDhcp}
		if iface, ok := env.DefaultInterface(); ok {
			c.Network.Interface = iface.Name
		}
	}
	switch {
	case c.Filesystem == nil:
	case *c.Filesystem == FsZfs && c.Zfs == nil:
		c.Zfs = &ZfsOptions{}
		c.Zfs.applyDefaults()
	case *c.Filesystem == FsBtrfs && c.Btrfs == nil:
		c.Btrfs = &BtrfsOptions{}
		c.Btrfs.applyDefaults()
	case !c.Filesystem.Pooled() && c.Lvm == nil:
		c.Lvm = &LvmOptions{}
	}
}
