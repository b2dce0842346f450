package fetch

import (
	"sort"

	"github.com/osinstall/osinstall/internal/environment"
)

// SysInfo is the system identity posted in http mode. The endpoint matches
// it against its inventory and answers with the TOML for this machine.
type SysInfo struct {
	Product environment.IsoInfo `json:"product"`

	BootType       environment.BootType `json:"boot_type"`
	TotalMemoryMiB uint64               `json:"total_memory_mib"`
	Hostname       string               `json:"hostname,omitempty"`

	MACAddresses []string      `json:"mac_addresses"`
	Disks        []SysInfoDisk `json:"disks"`
}

// SysInfoDisk is the per-disk part of the identity.
type SysInfoDisk struct {
	Path      string `json:"path"`
	Model     string `json:"model,omitempty"`
	SizeBytes uint64 `json:"size_bytes"`
}

// NewSysInfo projects the snapshot onto the posted identity.
func NewSysInfo(snapshot *environment.Snapshot) *SysInfo {
	info := &SysInfo{
		Product:        snapshot.Iso,
		BootType:       snapshot.Runtime.BootType,
		TotalMemoryMiB: snapshot.Runtime.TotalMemoryMiB,
		Hostname:       snapshot.Runtime.Hostname,
		MACAddresses:   []string{},
		Disks:          []SysInfoDisk{},
	}

	for _, iface := range snapshot.Runtime.Network.Interfaces {
		info.MACAddresses = append(info.MACAddresses, iface.MAC)
	}
	sort.Strings(info.MACAddresses)

	for _, disk := range snapshot.Runtime.Disks {
		info.Disks = append(info.Disks, SysInfoDisk{
			Path:      disk.Path,
			Model:     disk.Model,
			SizeBytes: disk.SizeBytes,
		})
	}
	return info
}
