package environment

import "github.com/osinstall/osinstall/internal/common"

// Fixture returns the deterministic snapshot used in test mode. Repeated
// calls return equal values, nothing in here depends on the machine the
// tests run on.
func Fixture() *Snapshot {
	return &Snapshot{
		Locales: LocaleInfo{
			CCZones: map[string][]string{
				"at": {"Europe/Vienna"},
				"ch": {"Europe/Zurich"},
				"de": {"Europe/Berlin", "Europe/Busingen"},
				"us": {
					"America/Chicago",
					"America/Denver",
					"America/Los_Angeles",
					"America/New_York",
				},
			},
			Countries: map[string]Country{
				"at": {Name: "Austria", Zone: "Europe/Vienna", Keymap: "de"},
				"ch": {Name: "Switzerland", Zone: "Europe/Zurich", Keymap: "de-ch"},
				"de": {Name: "Germany", Zone: "Europe/Berlin", Keymap: "de"},
				"us": {Name: "United States", Zone: "America/New_York", Keymap: "en-us"},
			},
			Keymaps: map[string]Keymap{
				"de":    {Name: "German", ID: "de", XKBLayout: "de", XKBVariant: "nodeadkeys"},
				"de-ch": {Name: "Swiss-German", ID: "de-ch", XKBLayout: "ch", XKBVariant: "de_nodeadkeys"},
				"en-us": {Name: "U.S. English", ID: "en-us", XKBLayout: "us"},
			},
		},
		Iso: IsoInfo{
			FullName:    "OSInstall Server",
			Product:     "osinstall",
			Version:     "1.2-1",
			ReleaseDate: "2026-06-17",
			SHA256Sum:   "6726c46e2a8a4ed7448a2bda693c13243a7088b38b1fcc07f1e696baf4e7f4c6",
		},
		Product: ProductConfig{
			FullName:    "OSInstall Server",
			Product:     "osinstall",
			EnableBtrfs: true,
			DefaultPackages: []string{
				"osinstall-base",
				"osinstall-kernel",
				"grub2",
				"openssh-server",
			},
		},
		Locations: Locations{
			ISO: "/cdrom",
			Lib: "/var/lib/osinstall",
			Run: "/run/osinstall",
			Log: "/tmp",
		},
		Runtime: RuntimeInfo{
			Disks: []Disk{
				{
					Index:        0,
					Path:         "/dev/sda",
					Model:        "QEMU HARDDISK",
					SizeBytes:    80 * common.GiB,
					LogicalBsize: 512,
					SysPath:      "/sys/block/sda",
				},
				{
					Index:        1,
					Path:         "/dev/sdb",
					Model:        "QEMU HARDDISK",
					SizeBytes:    128 * common.GiB,
					LogicalBsize: 512,
					SysPath:      "/sys/block/sdb",
				},
			},
			Network: NetworkInfo{
				DNS: DNS{
					Domain:  "testdomain.example",
					Servers: []string{"192.168.22.1"},
				},
				Gateway4: &Gateway{Device: "eth0", Gateway: "192.168.22.1"},
				Interfaces: map[string]Interface{
					"eth0": {
						Index:     2,
						Name:      "eth0",
						MAC:       "52:54:00:12:34:56",
						State:     "UP",
						Addresses: []string{"192.168.22.33/24"},
					},
				},
			},
			TotalMemoryMiB: 4096,
			BootType:       BootTypeBios,
			SecureBoot:     false,
			HVMSupported:   true,
			DefaultCountry: "us",
			Hostname:       "testhost",
		},
	}
}
