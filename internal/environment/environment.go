// Package environment defines the immutable snapshot of the installation
// environment: the locale catalog, the product identity baked into the ISO
// and the facts detected on the running machine. The snapshot is produced
// once, either by live probing or by the fixture, and is read-only for the
// rest of the process.
package environment

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osinstall/osinstall/internal/common"
)

// BootType tells how the machine was booted. It decides which bootloader
// setup the installation performs.
type BootType int

const (
	BootTypeBios BootType = iota
	BootTypeEfi
)

func getBootTypeMapping() map[string]int {
	return map[string]int{
		"bios": int(BootTypeBios),
		"efi":  int(BootTypeEfi),
	}
}

func (b BootType) String() string {
	s, ok := common.EnumToString(getBootTypeMapping(), int(b))
	if !ok {
		panic("invalid boot type value")
	}
	return s
}

func (b BootType) MarshalJSON() ([]byte, error) {
	return common.MarshalEnum(int(b), getBootTypeMapping(), "is not a valid boot type value")
}

func (b *BootType) UnmarshalJSON(data []byte) error {
	value, err := common.UnmarshalEnum(data, " is not a valid boot type string", " is not a valid boot type", getBootTypeMapping())
	if err != nil {
		return err
	}
	*b = BootType(value)
	return nil
}

// Keymap is one selectable console keyboard layout.
type Keymap struct {
	Name       string `json:"name"`
	ID         string `json:"id"`
	XKBLayout  string `json:"xkb_layout"`
	XKBVariant string `json:"xkb_variant,omitempty"`
}

// Country carries the display name and the locale defaults for one country
// code.
type Country struct {
	Name   string `json:"name"`
	Zone   string `json:"zone"`
	Keymap string `json:"kmap"`
}

// LocaleInfo is the locale catalog document. Keys of Countries and Keymaps
// are the identifiers configuration values are validated against.
type LocaleInfo struct {
	// CCZones maps a country code to the timezones usable there.
	CCZones map[string][]string `json:"cczones"`

	Countries map[string]Country `json:"country"`
	Keymaps   map[string]Keymap  `json:"kmap"`
}

// HasCountry tells whether cc is a known country code.
func (l *LocaleInfo) HasCountry(cc string) bool {
	_, ok := l.Countries[cc]
	return ok
}

// HasKeymap tells whether id is a known keymap.
func (l *LocaleInfo) HasKeymap(id string) bool {
	_, ok := l.Keymaps[id]
	return ok
}

// HasZone tells whether zone is usable in country cc.
func (l *LocaleInfo) HasZone(cc, zone string) bool {
	for _, z := range l.CCZones[cc] {
		if z == zone {
			return true
		}
	}
	// UTC is always acceptable, it is not listed per country.
	return zone == "UTC"
}

// ResolveLocale resolves a locale shorthand like "en_US" or a bare country
// code like "de" into a country code plus that country's default timezone
// and keymap.
func (l *LocaleInfo) ResolveLocale(locale string) (cc, zone, keymap string, err error) {
	cc = locale
	if idx := strings.LastIndex(locale, "_"); idx >= 0 {
		cc = locale[idx+1:]
	}
	cc = strings.ToLower(cc)

	country, ok := l.Countries[cc]
	if !ok {
		return "", "", "", fmt.Errorf("locale %q does not name a known country", locale)
	}
	return cc, country.Zone, country.Keymap, nil
}

// IsoInfo identifies the product build this installation medium carries.
// The toml tags cover the iso-info.toml file shipped on the medium.
type IsoInfo struct {
	FullName    string `json:"fullname" toml:"fullname"`
	Product     string `json:"product" toml:"product"`
	Version     string `json:"version" toml:"version"`
	ReleaseDate string `json:"release_date" toml:"release_date"`
	SHA256Sum   string `json:"sha256sum" toml:"sha256sum"`
}

// ProductConfig is the fixed configuration of the installable product.
type ProductConfig struct {
	FullName        string   `json:"fullname" toml:"fullname"`
	Product         string   `json:"product" toml:"product"`
	EnableBtrfs     bool     `json:"enable_btrfs" toml:"enable_btrfs"`
	DefaultPackages []string `json:"default_packages" toml:"default_packages"`
}

// DefaultHostname is used when the configuration does not set one.
func (p *ProductConfig) DefaultHostname() string {
	return p.Product
}

// Locations maps logical names to the filesystem paths the installer works
// with.
type Locations struct {
	// ISO is where the installation medium is mounted.
	ISO string `json:"iso"`

	// Lib holds the product payload on the medium.
	Lib string `json:"lib"`

	// Run is the run directory the snapshot documents are published to.
	Run string `json:"run"`

	// Log is the directory for the per-invocation log files.
	Log string `json:"log"`
}

// Disk is one installable block device.
type Disk struct {
	Index        int    `json:"index"`
	Path         string `json:"path"`
	Model        string `json:"model"`
	SizeBytes    uint64 `json:"size_bytes"`
	LogicalBsize uint64 `json:"logical_bsize"`
	SysPath      string `json:"sys_path"`
}

// SizeString renders the disk size the way the UI displays it.
func (d *Disk) SizeString() string {
	return common.FormatGiB(d.SizeBytes)
}

// Gateway is a default route.
type Gateway struct {
	Device  string `json:"dev"`
	Gateway string `json:"gateway"`
}

// DNS carries the resolver configuration found on the running system.
type DNS struct {
	Domain  string   `json:"domain,omitempty"`
	Servers []string `json:"servers,omitempty"`
}

// Interface is one network interface with its discovered addresses in CIDR
// notation.
type Interface struct {
	Index     int      `json:"index"`
	Name      string   `json:"name"`
	MAC       string   `json:"mac"`
	State     string   `json:"state"`
	Addresses []string `json:"addresses,omitempty"`
}

// NetworkInfo is the network part of the runtime document.
type NetworkInfo struct {
	DNS        DNS                  `json:"dns"`
	Gateway4   *Gateway             `json:"gateway4,omitempty"`
	Gateway6   *Gateway             `json:"gateway6,omitempty"`
	Interfaces map[string]Interface `json:"interfaces"`
}

// RuntimeInfo is the run-environment document: everything probed from the
// machine the installer runs on.
type RuntimeInfo struct {
	Disks          []Disk      `json:"disks"`
	Network        NetworkInfo `json:"network"`
	TotalMemoryMiB uint64      `json:"total_memory_mib"`
	BootType       BootType    `json:"boot_type"`
	SecureBoot     bool        `json:"secure_boot"`
	HVMSupported   bool        `json:"hvm_supported"`
	DefaultCountry string      `json:"default_country,omitempty"`
	Hostname       string      `json:"hostname,omitempty"`
}

// IsoDocument is the combined ISO/product/location document as written to
// the run directory.
type IsoDocument struct {
	Iso       IsoInfo       `json:"iso"`
	Product   ProductConfig `json:"product"`
	Locations Locations     `json:"locations"`
}

// Snapshot is the complete environment snapshot. The session state machine
// and the snapshot writer only ever read it.
type Snapshot struct {
	Locales   LocaleInfo
	Iso       IsoInfo
	Product   ProductConfig
	Locations Locations
	Runtime   RuntimeInfo
}

// FindDisk returns the disk with the given device path.
func (s *Snapshot) FindDisk(path string) (*Disk, bool) {
	for i := range s.Runtime.Disks {
		if s.Runtime.Disks[i].Path == path {
			return &s.Runtime.Disks[i], true
		}
	}
	return nil, false
}

// DefaultInterface picks the interface network defaults are derived from:
// the first interface in name order that is up and has an address.
func (s *Snapshot) DefaultInterface() (*Interface, bool) {
	names := make([]string, 0, len(s.Runtime.Network.Interfaces))
	for name := range s.Runtime.Network.Interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		iface := s.Runtime.Network.Interfaces[name]
		if iface.State == "UP" && len(iface.Addresses) > 0 {
			return &iface, true
		}
	}
	return nil, false
}
