// Package answer implements the TOML answer file driving unattended
// installations. An answer file is fetched at boot, parsed strictly, and
// lowered into the argument payload of a single configure command.
package answer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/osinstall/osinstall/internal/common"
	"github.com/osinstall/osinstall/internal/install"
)

// Answer is one complete answer file.
type Answer struct {
	Global    Global     `toml:"global"`
	Network   Network    `toml:"network"`
	DiskSetup DiskSetup  `toml:"disk-setup"`
	FirstBoot *FirstBoot `toml:"first-boot"`
	PostHook  *PostHook  `toml:"post-hook"`
}

// Global carries locale, identity and contact settings.
type Global struct {
	// Locale is the en_US-style shorthand; the country/timezone/keymap
	// triple is the explicit alternative.
	Locale   string `toml:"locale"`
	Country  string `toml:"country"`
	Timezone string `toml:"timezone"`
	Keymap   string `toml:"keymap"`

	FQDN   string `toml:"fqdn"`
	Mailto string `toml:"mailto"`

	RootPassword       string   `toml:"root_password"`
	RootPasswordHashed string   `toml:"root_password_hashed"`
	RootSSHKeys        []string `toml:"root_ssh_keys"`

	Autoreboot bool `toml:"autoreboot"`
}

// NetworkSource selects where the installed system's network settings come
// from.
type NetworkSource int

const (
	NetworkFromDhcp NetworkSource = iota
	NetworkFromAnswer
)

func getNetworkSourceMapping() map[string]int {
	return map[string]int{
		"from-dhcp":   int(NetworkFromDhcp),
		"from-answer": int(NetworkFromAnswer),
	}
}

func (s NetworkSource) String() string {
	str, ok := common.EnumToString(getNetworkSourceMapping(), int(s))
	if !ok {
		panic("invalid network source value")
	}
	return str
}

func (s NetworkSource) MarshalText() ([]byte, error) {
	str, ok := common.EnumToString(getNetworkSourceMapping(), int(s))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid network source", int(s))
	}
	return []byte(str), nil
}

func (s *NetworkSource) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getNetworkSourceMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid network source", string(data))
	}
	*s = NetworkSource(value)
	return nil
}

// Network selects the target interface and addressing. With from-answer,
// cidr, dns, gateway and filter are all required; with from-dhcp none of
// them may be present.
type Network struct {
	Source  NetworkSource     `toml:"source"`
	CIDR    string            `toml:"cidr"`
	DNS     string            `toml:"dns"`
	Gateway string            `toml:"gateway"`
	Filter  map[string]string `toml:"filter"`
}

// FilterMatch decides how multiple filter patterns combine.
type FilterMatch int

const (
	FilterAny FilterMatch = iota
	FilterAll
)

func getFilterMatchMapping() map[string]int {
	return map[string]int{
		"any": int(FilterAny),
		"all": int(FilterAll),
	}
}

func (m FilterMatch) String() string {
	s, ok := common.EnumToString(getFilterMatchMapping(), int(m))
	if !ok {
		panic("invalid filter match value")
	}
	return s
}

func (m FilterMatch) MarshalText() ([]byte, error) {
	s, ok := common.EnumToString(getFilterMatchMapping(), int(m))
	if !ok {
		return nil, fmt.Errorf("%d is not a valid filter match", int(m))
	}
	return []byte(s), nil
}

func (m *FilterMatch) UnmarshalText(data []byte) error {
	value, ok := common.EnumFromString(getFilterMatchMapping(), string(data))
	if !ok {
		return fmt.Errorf("%q is not a valid filter match", string(data))
	}
	*m = FilterMatch(value)
	return nil
}

// DiskSetup names the target disks, either literally or through glob
// filters on disk properties, and carries the filesystem options.
type DiskSetup struct {
	Filesystem  install.FsType    `toml:"filesystem"`
	DiskList    []string          `toml:"disk_list"`
	Filter      map[string]string `toml:"filter"`
	FilterMatch FilterMatch       `toml:"filter_match"`

	Zfs   *install.ZfsOptions   `toml:"zfs"`
	Lvm   *install.LvmOptions   `toml:"lvm"`
	Btrfs *install.BtrfsOptions `toml:"btrfs"`

	ExistingStorageAutoRename bool `toml:"existing_storage_auto_rename"`
}

// FirstBoot installs a hook script run once on the first boot of the
// installed system. The script comes from a URL or a local path.
type FirstBoot struct {
	Enabled         bool                      `toml:"enabled"`
	Ordering        install.FirstBootOrdering `toml:"ordering"`
	URL             string                    `toml:"url"`
	CertFingerprint string                    `toml:"cert_fingerprint"`
	Source          string                    `toml:"source"`
}

// PostHook is the webhook notified when the unattended installation ends.
type PostHook struct {
	URL             string `toml:"url"`
	CertFingerprint string `toml:"cert_fingerprint"`
}

// Parse reads an answer file. Unknown keys are rejected, a typo in an
// unattended installation must surface before any disk is touched. The
// returned answer is structurally valid; filters and locale values are only
// resolved later, against a snapshot.
func Parse(r io.Reader) (*Answer, error) {
	var a Answer
	meta, err := toml.NewDecoder(r).Decode(&a)
	if err != nil {
		return nil, fmt.Errorf("parsing answer file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("unknown answer file keys: %s", strings.Join(keys, ", "))
	}

	if err := a.check(meta); err != nil {
		return nil, err
	}
	return &a, nil
}

// ParseFile reads an answer file from disk.
func ParseFile(path string) (*Answer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

func (a *Answer) check(meta toml.MetaData) error {
	if err := a.Global.check(); err != nil {
		return err
	}
	if err := a.Network.check(); err != nil {
		return err
	}
	if err := a.DiskSetup.check(meta); err != nil {
		return err
	}

	if a.FirstBoot != nil && a.FirstBoot.Enabled {
		if !meta.IsDefined("first-boot", "ordering") {
			a.FirstBoot.Ordering = install.FirstBootFullyUp
		}
		hasURL := a.FirstBoot.URL != ""
		hasSource := a.FirstBoot.Source != ""
		if hasURL == hasSource {
			return fmt.Errorf("first-boot needs either url or source, not both")
		}
	}
	if a.PostHook != nil && a.PostHook.URL == "" {
		return fmt.Errorf("post-hook needs a url")
	}
	return nil
}

func (g *Global) check() error {
	if g.Locale == "" && (g.Country == "" || g.Timezone == "" || g.Keymap == "") {
		return fmt.Errorf("global needs either locale or the full country, timezone and keymap triple")
	}

	host, domain := splitFQDN(g.FQDN)
	if host == "" || domain == "" {
		return fmt.Errorf("global.fqdn %q must be a fully qualified name", g.FQDN)
	}
	return nil
}

func (n *Network) check() error {
	switch n.Source {
	case NetworkFromAnswer:
		if n.CIDR == "" || n.DNS == "" || n.Gateway == "" || len(n.Filter) == 0 {
			return fmt.Errorf("network from-answer needs cidr, dns, gateway and filter")
		}
	case NetworkFromDhcp:
		if n.CIDR != "" || n.DNS != "" || n.Gateway != "" || len(n.Filter) > 0 {
			return fmt.Errorf("network from-dhcp takes no cidr, dns, gateway or filter")
		}
	}
	return nil
}

func (d *DiskSetup) check(meta toml.MetaData) error {
	if !meta.IsDefined("disk-setup", "filesystem") {
		return fmt.Errorf("disk-setup.filesystem must be set")
	}

	if len(d.DiskList) == 0 && len(d.Filter) == 0 {
		return fmt.Errorf("disk-setup needs either disk_list or filter")
	}
	if len(d.DiskList) > 0 && len(d.Filter) > 0 {
		return fmt.Errorf("disk-setup cannot use both disk_list and filter")
	}
	if meta.IsDefined("disk-setup", "filter_match") && len(d.Filter) == 0 {
		return fmt.Errorf("disk-setup.filter_match needs a filter")
	}

	switch d.Filesystem {
	case install.FsExt4, install.FsXfs:
		if d.Zfs != nil || d.Btrfs != nil {
			return fmt.Errorf("only lvm options may be set for %s", d.Filesystem)
		}
		if len(d.DiskList) > 1 {
			return fmt.Errorf("%s installs onto exactly one disk", d.Filesystem)
		}
	case install.FsZfs:
		if d.Lvm != nil || d.Btrfs != nil {
			return fmt.Errorf("only zfs options may be set for zfs")
		}
		if !meta.IsDefined("disk-setup", "zfs", "raid") {
			return fmt.Errorf("disk-setup.zfs.raid must be set")
		}
	case install.FsBtrfs:
		if d.Lvm != nil || d.Zfs != nil {
			return fmt.Errorf("only btrfs options may be set for btrfs")
		}
		if !meta.IsDefined("disk-setup", "btrfs", "raid") {
			return fmt.Errorf("disk-setup.btrfs.raid must be set")
		}
	}
	return nil
}

func splitFQDN(fqdn string) (host, domain string) {
	host, domain, found := strings.Cut(fqdn, ".")
	if !found {
		return fqdn, ""
	}
	return host, domain
}
